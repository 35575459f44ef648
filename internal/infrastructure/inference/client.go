// Package inference 通过 OpenAI 兼容接口完成分类、紧急度判断和嵌入
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/config"
	"github.com/chatwatch/backend/internal/infrastructure/log"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// 确保 Client 实现了 monitor.InferenceClient 接口
var _ monitor.InferenceClient = (*Client)(nil)

// Client 推理客户端
type Client struct {
	openai           openai.Client
	chatModel        string
	embeddingModel   string
	maxPromptTokens  int
	maxMessageTokens int
	budget           *TokenBudget
	schema           any
	logger           *slog.Logger
}

// NewClient 创建推理客户端
func NewClient(cfg *config.InferenceConfig, opts ...option.RequestOption) (*Client, error) {
	budget, err := GetTokenBudget()
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	reqOpts = append(reqOpts, opts...)

	return &Client{
		openai:           openai.NewClient(reqOpts...),
		chatModel:        cfg.ChatModel,
		embeddingModel:   cfg.EmbeddingModel,
		maxPromptTokens:  cfg.MaxPromptTokens,
		maxMessageTokens: cfg.MaxMessageTokens,
		budget:           budget,
		schema:           GenerateSchema[analysisOutput](),
		logger:           log.NewModuleLogger("inference", "client"),
	}, nil
}

// ProvideClient 为依赖注入提供推理端口
func ProvideClient(cfg *config.InferenceConfig) (monitor.InferenceClient, error) {
	return NewClient(cfg)
}

// GenerateSchema 生成严格模式的 JSON Schema
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// Analyze 对一个批次做分类、紧急度判断和嵌入
// 任何一步失败或输出形状不符都返回 AnalysisFailure，整批保持待分析
func (c *Client) Analyze(ctx context.Context, req *monitor.AnalysisRequest) (*monitor.AnalysisResult, error) {
	if len(req.Texts) == 0 {
		return nil, monitor.NewError(monitor.KindAnalysisFailure, "analyze", 0, errors.New("empty batch"))
	}
	texts := c.budget.Fit(req.Texts, c.maxMessageTokens, c.maxPromptTokens)

	output, err := c.classify(ctx, req.ConversationName, texts)
	if err != nil {
		return nil, c.wrap(ctx, "classify", err)
	}

	urgent, err := urgencyFlags(output.UrgentIndices, len(texts))
	if err != nil {
		return nil, c.wrap(ctx, "classify", err)
	}

	embeddings, err := c.embed(ctx, texts)
	if err != nil {
		return nil, c.wrap(ctx, "embed", err)
	}

	result := &monitor.AnalysisResult{
		Category:      strings.TrimSpace(output.Category),
		SuggestedName: strings.TrimSpace(output.SuggestedName),
		Urgent:        urgent,
		Embeddings:    embeddings,
	}
	if err := result.Validate(len(texts)); err != nil {
		return nil, c.wrap(ctx, "validate", err)
	}
	return result, nil
}

func (c *Client) classify(ctx context.Context, conversationName string, texts []string) (*analysisOutput, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(conversationName, texts)),
		},
		MaxTokens:   openai.Int(512),
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "conversation_analysis",
					Description: openai.String("Category, suggested name and urgent messages"),
					Schema:      c.schema,
					Strict:      openai.Bool(true),
				},
			},
		},
	}

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	c.logger.Debug("Classification completed",
		"model", c.chatModel,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	var output analysisOutput
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &output); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &output, nil
}

func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.openai.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(c.embeddingModel),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count %d does not match input count %d", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) || out[idx] != nil {
			return nil, fmt.Errorf("unexpected embedding index %d", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[idx] = vec
	}
	return out, nil
}

// wrap 把推理错误归类为 AnalysisFailure；上下文超时和取消原样返回
func (c *Client) wrap(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return err
	}
	c.logger.Warn("Inference failed",
		"op", op,
		"retryable", IsRetryable(err),
		"error", err,
	)
	return monitor.NewError(monitor.KindAnalysisFailure, op, 0, err)
}

// IsRetryable 判断推理错误是否值得在下个周期重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	// 没有 API 响应的网络错误
	return true
}

package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/chatwatch/backend/internal/application/review"
	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
)

const (
	defaultUrgentLimit  = 20
	maxUrgentLimit      = 200
	defaultSimilarLimit = 5
	maxSimilarLimit     = 50
)

// UrgentMessagesInput 紧急消息工具输入
type UrgentMessagesInput struct {
	ConversationID int64 `json:"conversation_id,omitempty" jsonschema:"会话 ID，不传则查询所有会话"`
	Limit          int   `json:"limit,omitempty" jsonschema:"最多返回条数，默认 20"`
}

// UrgentMessageItem 紧急消息
type UrgentMessageItem struct {
	ConversationID int64  `json:"conversation_id" jsonschema:"会话 ID"`
	MessageID      int64  `json:"message_id" jsonschema:"消息 ID"`
	SentAt         string `json:"sent_at" jsonschema:"发送时间（UTC）"`
	Text           string `json:"text" jsonschema:"消息文本"`
}

// UrgentMessagesOutput 紧急消息工具输出
type UrgentMessagesOutput struct {
	Messages []UrgentMessageItem `json:"messages" jsonschema:"紧急消息，最新的在前"`
	Count    int                 `json:"count" jsonschema:"条数"`
}

// EmptyInput 无参数工具输入
type EmptyInput struct{}

// DuplicateClustersOutput 重复话题工具输出
type DuplicateClustersOutput struct {
	Clusters []*domainMonitor.DuplicateCluster `json:"clusters" jsonschema:"重复话题分组"`
	CycleID  string                            `json:"cycle_id,omitempty" jsonschema:"计算这些分组的周期 ID"`
}

// SimilarMessagesInput 相似消息工具输入
type SimilarMessagesInput struct {
	ConversationID int64 `json:"conversation_id" jsonschema:"参考消息所在会话 ID"`
	MessageID      int64 `json:"message_id" jsonschema:"参考消息 ID"`
	Limit          int   `json:"limit,omitempty" jsonschema:"最多返回条数，默认 5"`
}

// SimilarMessagesOutput 相似消息工具输出
type SimilarMessagesOutput struct {
	Neighbors []*domainMonitor.Neighbor `json:"neighbors" jsonschema:"相似消息，按相似度降序"`
}

// ReviewReportOutput 审阅报告工具输出
type ReviewReportOutput struct {
	Report *review.Report `json:"report" jsonschema:"审阅报告"`
}

// UserConversationsInput 用户会话查询输入
type UserConversationsInput struct {
	UserID int64 `json:"user_id" jsonschema:"用户 ID"`
}

// UserConversationsOutput 用户会话查询输出
type UserConversationsOutput struct {
	Conversations []review.ConversationRef `json:"conversations" jsonschema:"用户所在的会话"`
}

// TriggerCycleOutput 触发周期工具输出
type TriggerCycleOutput struct {
	Triggered bool   `json:"triggered" jsonschema:"是否已触发"`
	Reason    string `json:"reason,omitempty" jsonschema:"未触发的原因"`
}

func (s *MCPServer) listUrgentMessagesTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UrgentMessagesInput,
) (*mcp.CallToolResult, UrgentMessagesOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultUrgentLimit
	}
	if limit > maxUrgentLimit {
		limit = maxUrgentLimit
	}

	msgs, err := s.messages.UrgentMessages(ctx, input.ConversationID, limit)
	if err != nil {
		return nil, UrgentMessagesOutput{}, fmt.Errorf("failed to query urgent messages: %w", err)
	}

	out := UrgentMessagesOutput{Messages: make([]UrgentMessageItem, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, UrgentMessageItem{
			ConversationID: m.ConversationID,
			MessageID:      m.MessageID,
			SentAt:         m.Timestamp.UTC().Format(review.TimeLayout),
			Text:           m.Text,
		})
	}
	out.Count = len(out.Messages)
	return nil, out, nil
}

func (s *MCPServer) listDuplicateClustersTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input EmptyInput,
) (*mcp.CallToolResult, DuplicateClustersOutput, error) {
	out := DuplicateClustersOutput{Clusters: s.cycles.LastClusters()}
	if out.Clusters == nil {
		out.Clusters = []*domainMonitor.DuplicateCluster{}
	}
	if report := s.cycles.LastReport(); report != nil {
		out.CycleID = report.ID
	}
	return nil, out, nil
}

func (s *MCPServer) findSimilarMessagesTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SimilarMessagesInput,
) (*mcp.CallToolResult, SimilarMessagesOutput, error) {
	if input.ConversationID == 0 || input.MessageID == 0 {
		return nil, SimilarMessagesOutput{}, errors.New("conversation_id and message_id are required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSimilarLimit
	}
	if limit > maxSimilarLimit {
		limit = maxSimilarLimit
	}

	neighbors, err := s.similar.SimilarToMessage(ctx, input.ConversationID, input.MessageID, limit)
	if err != nil {
		return nil, SimilarMessagesOutput{}, err
	}
	if neighbors == nil {
		neighbors = []*domainMonitor.Neighbor{}
	}
	return nil, SimilarMessagesOutput{Neighbors: neighbors}, nil
}

func (s *MCPServer) getReviewReportTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input EmptyInput,
) (*mcp.CallToolResult, ReviewReportOutput, error) {
	report, err := s.reports.Build(ctx)
	if err != nil {
		return nil, ReviewReportOutput{}, fmt.Errorf("failed to build report: %w", err)
	}
	return nil, ReviewReportOutput{Report: report}, nil
}

func (s *MCPServer) getUserConversationsTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UserConversationsInput,
) (*mcp.CallToolResult, UserConversationsOutput, error) {
	if input.UserID == 0 {
		return nil, UserConversationsOutput{}, fmt.Errorf("user_id is required")
	}
	convs, err := s.reports.UserConversations(ctx, input.UserID)
	if err != nil {
		return nil, UserConversationsOutput{}, fmt.Errorf("failed to look up conversations: %w", err)
	}
	return nil, UserConversationsOutput{Conversations: convs}, nil
}

func (s *MCPServer) triggerCycleTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input EmptyInput,
) (*mcp.CallToolResult, TriggerCycleOutput, error) {
	if err := s.cycles.Trigger(); err != nil {
		if errors.Is(err, domainMonitor.ErrCycleInProgress) {
			return nil, TriggerCycleOutput{Reason: err.Error()}, nil
		}
		return nil, TriggerCycleOutput{}, err
	}
	return nil, TriggerCycleOutput{Triggered: true}, nil
}

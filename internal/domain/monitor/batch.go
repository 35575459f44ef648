package monitor

import "fmt"

// MaxBatchSize 单个分析批次的最大消息数
const MaxBatchSize = 20

// AnalysisBatch 同一会话内连续、有序的一组消息
type AnalysisBatch struct {
	ConversationID int64
	Messages       []*Message
}

// Texts 返回批次内的消息文本
func (b *AnalysisBatch) Texts() []string {
	texts := make([]string, len(b.Messages))
	for i, m := range b.Messages {
		texts[i] = m.Text
	}
	return texts
}

// SplitBatches 按顺序把消息切分为不超过 size 条的批次
// 调用方需保证消息属于同一会话且已排序
func SplitBatches(conversationID int64, msgs []*Message, size int) []*AnalysisBatch {
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}

	var batches []*AnalysisBatch
	for start := 0; start < len(msgs); start += size {
		end := start + size
		if end > len(msgs) {
			end = len(msgs)
		}
		batches = append(batches, &AnalysisBatch{
			ConversationID: conversationID,
			Messages:       msgs[start:end],
		})
	}
	return batches
}

// AnalysisRequest 推理请求
type AnalysisRequest struct {
	ConversationName string
	Texts            []string
}

// AnalysisResult 推理结果
type AnalysisResult struct {
	Category      string
	SuggestedName string
	Urgent        []bool
	Embeddings    [][]float32
}

// Validate 校验结果形状与批次是否一致
func (r *AnalysisResult) Validate(batchSize int) error {
	if r == nil {
		return fmt.Errorf("empty analysis result")
	}
	if r.Category == "" {
		return fmt.Errorf("missing category")
	}
	if len(r.Urgent) != batchSize {
		return fmt.Errorf("urgency count %d does not match batch size %d", len(r.Urgent), batchSize)
	}
	if len(r.Embeddings) != batchSize {
		return fmt.Errorf("embedding count %d does not match batch size %d", len(r.Embeddings), batchSize)
	}
	for i, e := range r.Embeddings {
		if len(e) != EmbeddingDim {
			return fmt.Errorf("embedding %d has dimension %d, want %d", i, len(e), EmbeddingDim)
		}
	}
	return nil
}

// Analyses 把结果与批次消息一一对应
func (r *AnalysisResult) Analyses(batch *AnalysisBatch) []MessageAnalysis {
	out := make([]MessageAnalysis, len(batch.Messages))
	for i, m := range batch.Messages {
		out[i] = MessageAnalysis{
			MessageID: m.MessageID,
			Urgent:    r.Urgent[i],
			Embedding: r.Embeddings[i],
		}
	}
	return out
}

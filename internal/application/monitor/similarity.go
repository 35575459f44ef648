package monitor

import (
	"context"
	"fmt"
	"log/slog"

	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/log"
)

// SimilarityService 相似消息查询
// 启用向量索引时优先查询索引，失败或未启用时回退到存储层的精确扫描
type SimilarityService struct {
	rt     *Runtime
	logger *slog.Logger
}

// NewSimilarityService 创建相似消息查询服务
func NewSimilarityService(rt *Runtime) *SimilarityService {
	return &SimilarityService{
		rt:     rt,
		logger: log.NewModuleLogger("monitor", "similarity"),
	}
}

// SimilarToMessage 查找与指定消息相似的其他会话消息
func (s *SimilarityService) SimilarToMessage(ctx context.Context, conversationID, messageID int64, limit int) ([]*domainMonitor.Neighbor, error) {
	msg, err := s.rt.Messages.Get(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Embedding == nil {
		return nil, fmt.Errorf("message %d in conversation %d: %w", messageID, conversationID, domainMonitor.ErrMessageNotAnalyzed)
	}
	return s.Similar(ctx, msg.Embedding, limit, conversationID)
}

// Similar 按向量查询最近邻，excludeConversation 为 0 时不排除
func (s *SimilarityService) Similar(ctx context.Context, vector []float32, limit int, excludeConversation int64) ([]*domainMonitor.Neighbor, error) {
	if len(vector) != domainMonitor.EmbeddingDim {
		return nil, fmt.Errorf("query vector has dimension %d, want %d", len(vector), domainMonitor.EmbeddingDim)
	}
	if s.rt.Index != nil {
		neighbors, err := s.rt.Index.Query(ctx, vector, limit, excludeConversation)
		if err == nil {
			return neighbors, nil
		}
		s.logger.Warn("Vector index query failed, falling back to exact scan", "error", err)
	}
	return s.rt.Messages.Nearest(ctx, vector, limit, excludeConversation)
}

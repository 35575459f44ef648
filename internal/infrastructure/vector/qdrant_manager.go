package vector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/config"
	"github.com/chatwatch/backend/internal/infrastructure/log"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// pointNamespace 消息点 ID 的 UUIDv5 命名空间
var pointNamespace = uuid.MustParse("6f1c1a8e-3b55-4c2e-9d0a-52f1b0c7e9a4")

// pointsClient Qdrant 客户端中被索引使用的部分
type pointsClient interface {
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// QdrantManager 外部 Qdrant 服务的连接管理
type QdrantManager struct {
	host       string
	port       int
	collection string
	client     *qdrant.Client
	logger     *slog.Logger
}

// NewQdrantManager 创建 Qdrant 管理器
func NewQdrantManager(cfg *config.VectorConfig) *QdrantManager {
	return &QdrantManager{
		host:       cfg.Host,
		port:       cfg.Port,
		collection: cfg.Collection,
		logger:     log.NewModuleLogger("vector", "qdrant"),
	}
}

// Connect 连接 Qdrant 并等待服务就绪
func (q *QdrantManager) Connect(ctx context.Context, timeout time.Duration) error {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: q.host,
		Port: q.port,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	if err := q.waitForReady(ctx, client, timeout); err != nil {
		client.Close()
		return err
	}

	q.client = client
	return nil
}

// Close 关闭连接
func (q *QdrantManager) Close() error {
	if q.client == nil {
		return nil
	}
	err := q.client.Close()
	q.client = nil
	return err
}

// GetClient 获取 Qdrant 客户端
func (q *QdrantManager) GetClient() *qdrant.Client {
	return q.client
}

// waitForReady 等待 Qdrant 服务就绪
func (q *QdrantManager) waitForReady(ctx context.Context, client *qdrant.Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		_, err := client.ListCollections(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for qdrant to be ready: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// EnsureCollection 确保消息集合存在
func (q *QdrantManager) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	if q.client == nil {
		return fmt.Errorf("qdrant client not initialized")
	}

	existing, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range existing {
		if name == q.collection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", q.collection, err)
	}
	q.logger.Info("Created qdrant collection", "collection", q.collection, "size", vectorSize)
	return nil
}

// 确保 MessageIndex 实现了 monitor.VectorIndex 接口
var _ monitor.VectorIndex = (*MessageIndex)(nil)

// MessageIndex 以 Qdrant 作为消息嵌入的二级索引
type MessageIndex struct {
	client     pointsClient
	collection string
}

// NewMessageIndex 创建消息索引
func NewMessageIndex(client pointsClient, collection string) *MessageIndex {
	return &MessageIndex{client: client, collection: collection}
}

// PointID 由 (会话, 消息) 派生稳定的点 ID，重复写入覆盖同一个点
func PointID(conversationID, messageID int64) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%d:%d", conversationID, messageID))).String()
}

// Upsert 写入已分析消息的嵌入向量，未分析的消息被跳过
func (m *MessageIndex) Upsert(ctx context.Context, conversationID int64, msgs []*monitor.Message) error {
	points := make([]*qdrant.PointStruct, 0, len(msgs))
	for _, msg := range msgs {
		if len(msg.Embedding) != monitor.EmbeddingDim {
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(conversationID, msg.MessageID)),
			Vectors: qdrant.NewVectors(msg.Embedding...),
			Payload: qdrant.NewValueMap(map[string]interface{}{
				"conversation_id": conversationID,
				"message_id":      msg.MessageID,
				"text":            msg.Preview(500),
				"timestamp":       msg.Timestamp.Unix(),
			}),
		})
	}
	if len(points) == 0 {
		return nil
	}

	wait := true
	_, err := m.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: m.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Query 近似最近邻查询，excludeConversation 非 0 时排除该会话
func (m *MessageIndex) Query(ctx context.Context, vector []float32, limit int, excludeConversation int64) ([]*monitor.Neighbor, error) {
	if limit <= 0 {
		limit = 10
	}
	var filter *qdrant.Filter
	if excludeConversation != 0 {
		filter = &qdrant.Filter{
			MustNot: []*qdrant.Condition{
				qdrant.NewMatchInt("conversation_id", excludeConversation),
			},
		}
	}

	n := uint64(limit)
	hits, err := m.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: m.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &n,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query qdrant: %w", err)
	}

	neighbors := make([]*monitor.Neighbor, 0, len(hits))
	for _, hit := range hits {
		payload := hit.GetPayload()
		if payload == nil {
			continue
		}
		neighbors = append(neighbors, &monitor.Neighbor{
			ConversationID: payload["conversation_id"].GetIntegerValue(),
			MessageID:      payload["message_id"].GetIntegerValue(),
			Text:           payload["text"].GetStringValue(),
			Score:          hit.GetScore(),
		})
	}
	return neighbors, nil
}

// ProvideVectorIndex 按配置连接 Qdrant
// 未启用或连接失败时返回 nil，相似度查询回退到数据库精确扫描
func ProvideVectorIndex(cfg *config.VectorConfig) (monitor.VectorIndex, func()) {
	logger := log.NewModuleLogger("vector", "provider")
	if !cfg.Enabled {
		return nil, func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	manager := NewQdrantManager(cfg)
	if err := manager.Connect(ctx, 10*time.Second); err != nil {
		logger.Warn("Qdrant unavailable, vector index disabled", "host", cfg.Host, "port", cfg.Port, "error", err)
		return nil, func() {}
	}
	if err := manager.EnsureCollection(ctx, monitor.EmbeddingDim); err != nil {
		logger.Warn("Failed to prepare qdrant collection, vector index disabled", "error", err)
		manager.Close()
		return nil, func() {}
	}

	logger.Info("Vector index enabled", "host", cfg.Host, "collection", cfg.Collection)
	return NewMessageIndex(manager.GetClient(), cfg.Collection), func() { manager.Close() }
}

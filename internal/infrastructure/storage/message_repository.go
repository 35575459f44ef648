package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chatwatch/backend/internal/domain/monitor"
)

// 确保 MessageRepositoryImpl 实现了 monitor.MessageRepository 接口
var _ monitor.MessageRepository = (*MessageRepositoryImpl)(nil)

// MessageRepositoryImpl 消息仓储实现
type MessageRepositoryImpl struct {
	db *sql.DB
}

// NewMessageRepository 创建消息仓储实例
func NewMessageRepository(db *sql.DB) monitor.MessageRepository {
	return &MessageRepositoryImpl{db: db}
}

// AppendBatch 在一个事务内插入一页消息并推进游标
// 已存在的 (conversation_id, message_id) 被忽略，游标只增不减
func (r *MessageRepositoryImpl) AppendBatch(ctx context.Context, conversationID int64, msgs []*monitor.Message, cursor int64) (int, error) {
	inserted := 0
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO messages (conversation_id, message_id, timestamp, text)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range msgs {
			res, err := stmt.ExecContext(ctx, conversationID, m.MessageID, m.Timestamp.Unix(), m.Text)
			if err != nil {
				return fmt.Errorf("insert message %d: %w", m.MessageID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}

		res, err := tx.ExecContext(ctx, `UPDATE conversations SET cursor = MAX(cursor, ?), updated_at = ? WHERE id = ?`,
			cursor, time.Now().Unix(), conversationID)
		if err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return monitor.ErrConversationNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// PendingAnalysis 返回待分析消息
func (r *MessageRepositoryImpl) PendingAnalysis(ctx context.Context, conversationID int64) ([]*monitor.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, message_id, timestamp, text, urgent, embedding
		FROM messages
		WHERE conversation_id = ? AND urgent IS NULL AND embedding IS NULL AND text <> ''
		ORDER BY message_id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query pending messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SaveAnalysis 写入分析结果
// 条件更新保证每条消息只从未分析转换一次
func (r *MessageRepositoryImpl) SaveAnalysis(ctx context.Context, conversationID int64, results []monitor.MessageAnalysis) (int, error) {
	updated := 0
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE messages SET urgent = ?, embedding = ?
			WHERE conversation_id = ? AND message_id = ? AND urgent IS NULL AND embedding IS NULL`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range results {
			if len(a.Embedding) != monitor.EmbeddingDim {
				return fmt.Errorf("message %d: embedding dimension %d", a.MessageID, len(a.Embedding))
			}
			urgent := 0
			if a.Urgent {
				urgent = 1
			}
			res, err := stmt.ExecContext(ctx, urgent, encodeEmbedding(a.Embedding), conversationID, a.MessageID)
			if err != nil {
				return fmt.Errorf("update message %d: %w", a.MessageID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			updated += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// ForEachEmbedding 遍历所有嵌入向量，按 (conversation_id, message_id) 排序
func (r *MessageRepositoryImpl) ForEachEmbedding(ctx context.Context, fn func(conversationID int64, embedding []float32) error) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, embedding FROM messages
		WHERE embedding IS NOT NULL
		ORDER BY conversation_id, message_id`)
	if err != nil {
		return fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var convID int64
		var blob []byte
		if err := rows.Scan(&convID, &blob); err != nil {
			return err
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return fmt.Errorf("conversation %d: %w", convID, err)
		}
		if err := fn(convID, vec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Nearest 精确余弦最近邻，excludeConversation 为 0 时不排除
func (r *MessageRepositoryImpl) Nearest(ctx context.Context, query []float32, limit int, excludeConversation int64) ([]*monitor.Neighbor, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, message_id, text, embedding FROM messages
		WHERE embedding IS NOT NULL AND conversation_id <> ?`, excludeConversation)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var neighbors []*monitor.Neighbor
	for rows.Next() {
		var n monitor.Neighbor
		var blob []byte
		if err := rows.Scan(&n.ConversationID, &n.MessageID, &n.Text, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		n.Score = float32(monitor.Cosine(query, vec))
		neighbors = append(neighbors, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Score != neighbors[j].Score {
			return neighbors[i].Score > neighbors[j].Score
		}
		if neighbors[i].ConversationID != neighbors[j].ConversationID {
			return neighbors[i].ConversationID < neighbors[j].ConversationID
		}
		return neighbors[i].MessageID < neighbors[j].MessageID
	})
	if len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors, nil
}

// Get 获取单条消息
func (r *MessageRepositoryImpl) Get(ctx context.Context, conversationID, messageID int64) (*monitor.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, message_id, timestamp, text, urgent, embedding
		FROM messages WHERE conversation_id = ? AND message_id = ?`, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, sql.ErrNoRows
	}
	return msgs[0], nil
}

// UrgentMessages 返回会话内的紧急消息，最新的在前；conversationID 为 0 时返回所有会话
func (r *MessageRepositoryImpl) UrgentMessages(ctx context.Context, conversationID int64, limit int) ([]*monitor.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT conversation_id, message_id, timestamp, text, urgent, NULL
		FROM messages WHERE urgent = 1`
	args := []any{}
	if conversationID != 0 {
		query += ` AND conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY timestamp DESC, message_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query urgent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// PendingCounts 每个会话的待分析消息数
func (r *MessageRepositoryImpl) PendingCounts(ctx context.Context) (map[int64]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, COUNT(*) FROM messages
		WHERE urgent IS NULL AND embedding IS NULL AND text <> ''
		GROUP BY conversation_id`)
	if err != nil {
		return nil, fmt.Errorf("query pending counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// Count 会话内的消息总数
func (r *MessageRepositoryImpl) Count(ctx context.Context, conversationID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}

func scanMessages(rows *sql.Rows) ([]*monitor.Message, error) {
	var result []*monitor.Message
	for rows.Next() {
		var (
			m      monitor.Message
			ts     int64
			urgent sql.NullInt64
			blob   []byte
		)
		if err := rows.Scan(&m.ConversationID, &m.MessageID, &ts, &m.Text, &urgent, &blob); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(ts, 0)
		if urgent.Valid {
			m.Urgency = monitor.UrgencyOf(urgent.Int64 == 1)
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		m.Embedding = vec
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// IsNotFound 判断是否为记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, monitor.ErrConversationNotFound)
}

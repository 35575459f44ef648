package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/google/uuid"
)

// 确保 EventRepositoryImpl 实现了 monitor.EventRepository 接口
var _ monitor.EventRepository = (*EventRepositoryImpl)(nil)

// EventRepositoryImpl 事件记录仓储实现
type EventRepositoryImpl struct {
	db *sql.DB
}

// NewEventRepository 创建事件记录仓储实例
func NewEventRepository(db *sql.DB) monitor.EventRepository {
	return &EventRepositoryImpl{db: db}
}

// Save 保存事件记录，未设置 ID 时自动生成
func (r *EventRepositoryImpl) Save(ctx context.Context, record *monitor.EventRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	var convID sql.NullInt64
	if record.ConversationID != 0 {
		convID = sql.NullInt64{Int64: record.ConversationID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO monitor_events (id, type, conversation_id, kind, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.Type, convID, nullString(string(record.Kind)), record.Message, record.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// Recent 最近的事件记录，最新的在前
func (r *EventRepositoryImpl) Recent(ctx context.Context, limit int) ([]*monitor.EventRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, conversation_id, kind, message, created_at
		FROM monitor_events ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var result []*monitor.EventRecord
	for rows.Next() {
		var (
			rec       monitor.EventRecord
			convID    sql.NullInt64
			kind      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &convID, &kind, &rec.Message, &createdAt); err != nil {
			return nil, err
		}
		rec.ConversationID = convID.Int64
		rec.Kind = monitor.ErrorKind(kind.String)
		rec.CreatedAt = time.UnixMilli(createdAt)
		result = append(result, &rec)
	}
	return result, rows.Err()
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chatwatch/backend/internal/domain/monitor"
)

// 确保 ConversationRepositoryImpl 实现了 monitor.ConversationRepository 接口
var _ monitor.ConversationRepository = (*ConversationRepositoryImpl)(nil)

// ConversationRepositoryImpl 会话仓储实现
type ConversationRepositoryImpl struct {
	db *sql.DB
}

// NewConversationRepository 创建会话仓储实例
func NewConversationRepository(db *sql.DB) monitor.ConversationRepository {
	return &ConversationRepositoryImpl{db: db}
}

const conversationColumns = `id, kind, peer_id, access_hash, display_name, category, suggested_name,
	cursor, access_state, members_synced_at, created_at, updated_at`

// Reconcile 对账远端会话列表
// 新会话插入为 active；已存在的更新句柄和名称；远端不再返回的标记为 inaccessible
func (r *ConversationRepositoryImpl) Reconcile(ctx context.Context, remote []*monitor.RemoteConversation) (*monitor.ReconcileResult, error) {
	result := &monitor.ReconcileResult{}
	now := time.Now().Unix()

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		existing := make(map[int64]monitor.AccessState)
		rows, err := tx.QueryContext(ctx, `SELECT id, access_state FROM conversations`)
		if err != nil {
			return fmt.Errorf("query conversations: %w", err)
		}
		for rows.Next() {
			var id int64
			var state string
			if err := rows.Scan(&id, &state); err != nil {
				rows.Close()
				return fmt.Errorf("scan conversation: %w", err)
			}
			existing[id] = monitor.AccessState(state)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		insertStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO conversations (id, kind, peer_id, access_hash, display_name, cursor, access_state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer insertStmt.Close()

		updateStmt, err := tx.PrepareContext(ctx, `
			UPDATE conversations SET kind = ?, peer_id = ?, access_hash = ?, display_name = ?, updated_at = ?
			WHERE id = ?`)
		if err != nil {
			return err
		}
		defer updateStmt.Close()

		seen := make(map[int64]bool, len(remote))
		for _, rc := range remote {
			id := rc.Handle.ConversationID()
			if seen[id] {
				continue
			}
			seen[id] = true

			if _, ok := existing[id]; ok {
				if _, err := updateStmt.ExecContext(ctx, string(rc.Handle.Kind), rc.Handle.PeerID, rc.Handle.AccessHash, rc.Title, now, id); err != nil {
					return fmt.Errorf("update conversation %d: %w", id, err)
				}
				result.Updated = append(result.Updated, id)
				continue
			}

			if _, err := insertStmt.ExecContext(ctx, id, string(rc.Handle.Kind), rc.Handle.PeerID, rc.Handle.AccessHash,
				rc.Title, string(monitor.AccessActive), now, now); err != nil {
				return fmt.Errorf("insert conversation %d: %w", id, err)
			}
			result.Inserted = append(result.Inserted, id)
		}

		for id, state := range existing {
			if seen[id] || state == monitor.AccessInaccessible {
				continue
			}
			if _, err := tx.ExecContext(ctx, `UPDATE conversations SET access_state = ?, updated_at = ? WHERE id = ?`,
				string(monitor.AccessInaccessible), now, id); err != nil {
				return fmt.Errorf("mark conversation %d inaccessible: %w", id, err)
			}
			result.Inaccessible = append(result.Inaccessible, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get 根据自然键获取会话
func (r *ConversationRepositoryImpl) Get(ctx context.Context, id int64) (*monitor.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, monitor.ErrConversationNotFound
	}
	return conv, err
}

// List 按自然键升序列出所有会话
func (r *ConversationRepositoryImpl) List(ctx context.Context) ([]*monitor.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+conversationColumns+` FROM conversations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var result []*monitor.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, conv)
	}
	return result, rows.Err()
}

// UpdateHandle 更新句柄
func (r *ConversationRepositoryImpl) UpdateHandle(ctx context.Context, id int64, handle monitor.Handle) error {
	return r.exec(ctx, `UPDATE conversations SET kind = ?, peer_id = ?, access_hash = ?, updated_at = ? WHERE id = ?`,
		string(handle.Kind), handle.PeerID, handle.AccessHash, time.Now().Unix(), id)
}

// SetAccessState 更新访问状态
func (r *ConversationRepositoryImpl) SetAccessState(ctx context.Context, id int64, state monitor.AccessState) error {
	return r.exec(ctx, `UPDATE conversations SET access_state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().Unix(), id)
}

// SetAnalysis 覆盖分类和建议名称
func (r *ConversationRepositoryImpl) SetAnalysis(ctx context.Context, id int64, category, suggestedName string) error {
	return r.exec(ctx, `UPDATE conversations SET category = ?, suggested_name = ?, updated_at = ? WHERE id = ?`,
		category, nullString(suggestedName), time.Now().Unix(), id)
}

// MarkMembersSynced 记录成员同步时间
func (r *ConversationRepositoryImpl) MarkMembersSynced(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, `UPDATE conversations SET members_synced_at = ? WHERE id = ?`, at.Unix(), id)
}

// exec 执行单条更新，会话不存在时返回 ErrConversationNotFound
func (r *ConversationRepositoryImpl) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return monitor.ErrConversationNotFound
	}
	return nil
}

// rowScanner 同时适配 *sql.Row 和 *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(s rowScanner) (*monitor.Conversation, error) {
	var (
		conv          monitor.Conversation
		kind          string
		state         string
		category      sql.NullString
		suggestedName sql.NullString
		membersSynced sql.NullInt64
		createdAt     int64
		updatedAt     int64
	)
	err := s.Scan(
		&conv.ID, &kind, &conv.Handle.PeerID, &conv.Handle.AccessHash, &conv.DisplayName,
		&category, &suggestedName, &conv.Cursor, &state, &membersSynced, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	conv.Handle.Kind = monitor.PeerKind(kind)
	conv.AccessState = monitor.AccessState(state)
	conv.Category = category.String
	conv.SuggestedName = suggestedName.String
	if membersSynced.Valid {
		t := time.Unix(membersSynced.Int64, 0)
		conv.MembersSyncedAt = &t
	}
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)
	return &conv, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

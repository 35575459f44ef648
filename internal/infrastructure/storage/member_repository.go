package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chatwatch/backend/internal/domain/monitor"
)

// 确保 MemberRepositoryImpl 实现了 monitor.MemberRepository 接口
var _ monitor.MemberRepository = (*MemberRepositoryImpl)(nil)

// MemberRepositoryImpl 成员仓储实现
type MemberRepositoryImpl struct {
	db *sql.DB
}

// NewMemberRepository 创建成员仓储实例
func NewMemberRepository(db *sql.DB) monitor.MemberRepository {
	return &MemberRepositoryImpl{db: db}
}

// ReplaceMembers 用最新成员列表替换会话成员，用户资料按 ID upsert
func (r *MemberRepositoryImpl) ReplaceMembers(ctx context.Context, conversationID int64, members []*monitor.Member) error {
	now := time.Now().Unix()
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		userStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO users (id, username, first_name, last_name, bio, last_seen, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				username = excluded.username,
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				bio = COALESCE(excluded.bio, users.bio),
				last_seen = COALESCE(excluded.last_seen, users.last_seen),
				updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer userStmt.Close()

		if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_members WHERE conversation_id = ?`, conversationID); err != nil {
			return fmt.Errorf("clear members: %w", err)
		}

		memberStmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO conversation_members (conversation_id, user_id) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer memberStmt.Close()

		for _, m := range members {
			if _, err := userStmt.ExecContext(ctx, m.UserID, nullString(m.Username), nullString(m.FirstName), nullString(m.LastName),
				nullString(m.Bio), nullUnix(m.LastSeen), now); err != nil {
				return fmt.Errorf("upsert user %d: %w", m.UserID, err)
			}
			if _, err := memberStmt.ExecContext(ctx, conversationID, m.UserID); err != nil {
				return fmt.Errorf("insert member %d: %w", m.UserID, err)
			}
		}
		return nil
	})
}

// CountMembers 每个会话的已知成员数
func (r *MemberRepositoryImpl) CountMembers(ctx context.Context) (map[int64]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, COUNT(*) FROM conversation_members GROUP BY conversation_id`)
	if err != nil {
		return nil, fmt.Errorf("query member counts: %w", err)
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

// memberColumns 成员查询的列，与 scanMember 对应
const memberColumns = `u.id, u.username, u.first_name, u.last_name, u.bio, u.last_seen`

// ListMembers 会话成员，按名称排序
func (r *MemberRepositoryImpl) ListMembers(ctx context.Context, conversationID int64) ([]*monitor.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+memberColumns+`
		FROM users u
		INNER JOIN conversation_members cm ON cm.user_id = u.id
		WHERE cm.conversation_id = ?
		ORDER BY TRIM(COALESCE(u.first_name, '') || ' ' || COALESCE(u.last_name, '')) COLLATE NOCASE, u.id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query members of %d: %w", conversationID, err)
	}
	defer rows.Close()

	var members []*monitor.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ConversationsOfUser 用户所在的会话 ID，升序
func (r *MemberRepositoryImpl) ConversationsOfUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id FROM conversation_members WHERE user_id = ? ORDER BY conversation_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations of user %d: %w", userID, err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SharedMembers 至少出现在 minConversations 个会话中的成员，按会话数降序
func (r *MemberRepositoryImpl) SharedMembers(ctx context.Context, minConversations, limit int) ([]*monitor.SharedMember, error) {
	if minConversations < 2 {
		minConversations = 2
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+memberColumns+`, GROUP_CONCAT(cm.conversation_id)
		FROM users u
		INNER JOIN conversation_members cm ON cm.user_id = u.id
		GROUP BY u.id
		HAVING COUNT(*) >= ?
		ORDER BY COUNT(*) DESC, u.id
		LIMIT ?`, minConversations, limit)
	if err != nil {
		return nil, fmt.Errorf("query shared members: %w", err)
	}
	defer rows.Close()

	var shared []*monitor.SharedMember
	for rows.Next() {
		var joined string
		m, err := scanMember(rows, &joined)
		if err != nil {
			return nil, err
		}
		ids, err := parseIDList(joined)
		if err != nil {
			return nil, err
		}
		shared = append(shared, &monitor.SharedMember{Member: m, ConversationIDs: ids})
	}
	return shared, rows.Err()
}

// scanMember 扫描 memberColumns，extra 为额外的列
func scanMember(rows *sql.Rows, extra ...any) (*monitor.Member, error) {
	var (
		m                          monitor.Member
		username, first, last, bio sql.NullString
		lastSeen                   sql.NullInt64
	)
	dest := append([]any{&m.UserID, &username, &first, &last, &bio, &lastSeen}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan member: %w", err)
	}
	m.Username = username.String
	m.FirstName = first.String
	m.LastName = last.String
	m.Bio = bio.String
	if lastSeen.Valid {
		t := time.Unix(lastSeen.Int64, 0).UTC()
		m.LastSeen = &t
	}
	return &m, nil
}

// parseIDList 解析 GROUP_CONCAT 输出并升序排列
func parseIDList(joined string) ([]int64, error) {
	parts := strings.Split(joined, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse conversation id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

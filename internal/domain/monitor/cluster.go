package monitor

import (
	"strconv"
	"strings"
	"time"
)

// DuplicateCluster 语义重叠的一组会话（至少两个）
// 每个周期重新计算，不作为权威数据持久化
type DuplicateCluster struct {
	ConversationIDs []int64  `json:"conversation_ids"`
	Names           []string `json:"names"`
}

// Contains 是否包含指定会话
func (c *DuplicateCluster) Contains(id int64) bool {
	for _, cid := range c.ConversationIDs {
		if cid == id {
			return true
		}
	}
	return false
}

// Member 会话成员
// Bio 为空表示尚未拉取资料；LastSeen 仅在对方公开离线时间时有值
type Member struct {
	UserID     int64      `json:"user_id"`
	AccessHash int64      `json:"-"`
	Username   string     `json:"username,omitempty"`
	FirstName  string     `json:"first_name,omitempty"`
	LastName   string     `json:"last_name,omitempty"`
	Bio        string     `json:"bio,omitempty"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// DisplayName 展示名称
func (m *Member) DisplayName() string {
	name := strings.TrimSpace(m.FirstName + " " + m.LastName)
	switch {
	case name != "":
		return name
	case m.Username != "":
		return "@" + m.Username
	default:
		return "User " + strconv.FormatInt(m.UserID, 10)
	}
}

// SharedMember 出现在多个会话中的成员
type SharedMember struct {
	Member          *Member `json:"member"`
	ConversationIDs []int64 `json:"conversation_ids"`
}

// MemberPage 成员分页结果
type MemberPage struct {
	Members []*Member
	Total   int
}

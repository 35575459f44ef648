// Package review 构建只读的审阅报告
package review

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/chatwatch/backend/internal/domain/events"
	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/log"
)

const (
	// PreviewRunes 紧急消息预览长度
	PreviewRunes = 50
	// TimeLayout 报告中的时间格式（UTC）
	TimeLayout = "2006-01-02 15:04:05"

	urgentPerConversation = 20
	recentFailures        = 20
	sharedMembers         = 20
)

// ClusterSource 重复话题来源
type ClusterSource interface {
	Detect(ctx context.Context) ([]*domainMonitor.DuplicateCluster, error)
}

// UrgentLine 紧急消息摘要
type UrgentLine struct {
	MessageID int64     `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
	Preview   string    `json:"preview"`
}

// ConversationSummary 单个会话的审阅信息
type ConversationSummary struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	Category      string       `json:"category,omitempty"`
	SuggestedName string       `json:"suggested_name,omitempty"`
	AccessState   string       `json:"access_state"`
	Cursor        int64        `json:"cursor"`
	Members       int          `json:"members"`
	Pending       int          `json:"pending"`
	Duplicate     bool         `json:"duplicate"`
	Urgent        []UrgentLine `json:"urgent,omitempty"`
}

// ConversationRef 会话引用
type ConversationRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MemberLine 成员及其所在的会话
type MemberLine struct {
	UserID        int64             `json:"user_id"`
	Name          string            `json:"name"`
	Username      string            `json:"username,omitempty"`
	Bio           string            `json:"bio,omitempty"`
	LastSeen      *time.Time        `json:"last_seen,omitempty"`
	Conversations []ConversationRef `json:"conversations,omitempty"`
}

// Report 审阅报告
type Report struct {
	GeneratedAt     time.Time                         `json:"generated_at"`
	Conversations   []*ConversationSummary            `json:"conversations"`
	PendingAnalysis []*ConversationSummary            `json:"pending_analysis"`
	Inaccessible    []*ConversationSummary            `json:"inaccessible"`
	Clusters        []*domainMonitor.DuplicateCluster `json:"clusters"`
	RecentFailures  []*domainMonitor.EventRecord      `json:"recent_failures"`
	SharedMembers   []*MemberLine                     `json:"shared_members"`
}

// Service 审阅服务
// 只调用仓储的读方法，不拉取、不分析
type Service struct {
	conversations domainMonitor.ConversationRepository
	messages      domainMonitor.MessageRepository
	members       domainMonitor.MemberRepository
	events        domainMonitor.EventRepository
	clusters      ClusterSource // 可能为 nil
	clock         domainMonitor.Clock
	logger        *slog.Logger
}

// NewService 创建审阅服务
func NewService(
	conversations domainMonitor.ConversationRepository,
	messages domainMonitor.MessageRepository,
	members domainMonitor.MemberRepository,
	eventRepo domainMonitor.EventRepository,
	clusters ClusterSource,
	clock domainMonitor.Clock,
) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		members:       members,
		events:        eventRepo,
		clusters:      clusters,
		clock:         clock,
		logger:        log.NewModuleLogger("review", "service"),
	}
}

// Build 构建报告
func (s *Service) Build(ctx context.Context) (*Report, error) {
	convs, err := s.conversations.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	pending, err := s.messages.PendingCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending messages: %w", err)
	}
	memberCounts, err := s.members.CountMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count members: %w", err)
	}

	report := &Report{GeneratedAt: s.clock.Now()}

	if s.clusters != nil {
		clusters, err := s.clusters.Detect(ctx)
		if err != nil {
			s.logger.Warn("Duplicate detection failed, report will omit clusters", "error", err)
		} else {
			report.Clusters = clusters
		}
	}
	duplicate := make(map[int64]bool)
	for _, c := range report.Clusters {
		for _, id := range c.ConversationIDs {
			duplicate[id] = true
		}
	}

	names := make(map[int64]string, len(convs))
	for _, c := range convs {
		names[c.ID] = c.Name()
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return strings.ToLower(convs[i].Name()) < strings.ToLower(convs[j].Name())
	})

	for _, c := range convs {
		summary := &ConversationSummary{
			ID:            c.ID,
			Name:          c.Name(),
			Category:      c.Category,
			SuggestedName: c.SuggestedName,
			AccessState:   string(c.AccessState),
			Cursor:        c.Cursor,
			Members:       memberCounts[c.ID],
			Pending:       pending[c.ID],
			Duplicate:     duplicate[c.ID],
		}

		urgent, err := s.messages.UrgentMessages(ctx, c.ID, urgentPerConversation)
		if err != nil {
			return nil, fmt.Errorf("failed to load urgent messages for %d: %w", c.ID, err)
		}
		// 按时间先后展示
		for i := len(urgent) - 1; i >= 0; i-- {
			m := urgent[i]
			summary.Urgent = append(summary.Urgent, UrgentLine{
				MessageID: m.MessageID,
				SentAt:    m.Timestamp.UTC(),
				Preview:   m.Preview(PreviewRunes),
			})
		}

		if c.AccessState == domainMonitor.AccessInaccessible {
			report.Inaccessible = append(report.Inaccessible, summary)
			continue
		}
		report.Conversations = append(report.Conversations, summary)
		if summary.Pending > 0 {
			report.PendingAnalysis = append(report.PendingAnalysis, summary)
		}
	}

	shared, err := s.members.SharedMembers(ctx, 2, sharedMembers)
	if err != nil {
		return nil, fmt.Errorf("failed to load shared members: %w", err)
	}
	for _, sm := range shared {
		line := memberLine(sm.Member)
		line.Conversations = refs(sm.ConversationIDs, names)
		report.SharedMembers = append(report.SharedMembers, line)
	}

	if s.events != nil {
		records, err := s.events.Recent(ctx, recentFailures*2)
		if err != nil {
			return nil, fmt.Errorf("failed to load recent events: %w", err)
		}
		for _, r := range records {
			if r.Type == string(events.ConversationFailed) && len(report.RecentFailures) < recentFailures {
				report.RecentFailures = append(report.RecentFailures, r)
			}
		}
	}

	return report, nil
}

// Members 会话成员，包含已同步的简介和最后在线时间
func (s *Service) Members(ctx context.Context, conversationID int64) ([]*MemberLine, error) {
	if _, err := s.conversations.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	members, err := s.members.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of %d: %w", conversationID, err)
	}
	lines := make([]*MemberLine, 0, len(members))
	for _, m := range members {
		lines = append(lines, memberLine(m))
	}
	return lines, nil
}

// UserConversations 用户所在的会话
func (s *Service) UserConversations(ctx context.Context, userID int64) ([]ConversationRef, error) {
	ids, err := s.members.ConversationsOfUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversations of user %d: %w", userID, err)
	}
	if len(ids) == 0 {
		return []ConversationRef{}, nil
	}
	convs, err := s.conversations.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	names := make(map[int64]string, len(convs))
	for _, c := range convs {
		names[c.ID] = c.Name()
	}
	return refs(ids, names), nil
}

func memberLine(m *domainMonitor.Member) *MemberLine {
	return &MemberLine{
		UserID:   m.UserID,
		Name:     m.DisplayName(),
		Username: m.Username,
		Bio:      m.Bio,
		LastSeen: m.LastSeen,
	}
}

// refs 按名称排序，名称未知时使用 ID
func refs(ids []int64, names map[int64]string) []ConversationRef {
	out := make([]ConversationRef, 0, len(ids))
	for _, id := range ids {
		name := names[id]
		if name == "" {
			name = fmt.Sprintf("Chat %d", id)
		}
		out = append(out, ConversationRef{ID: id, Name: name})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

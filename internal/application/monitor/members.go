package monitor

import (
	"context"
	"log/slog"
	"time"

	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/log"
)

// MemberSyncConfig 成员同步配置
type MemberSyncConfig struct {
	Enabled         bool
	RefreshInterval time.Duration
	PageSize        int
	MaxMembers      int // 单个会话最多同步的成员数
	Profiles        int // 每次同步补全简介的成员数，0 表示不补全
}

// MemberSync 成员同步
// 所有成员请求共享一个静默间隔
type MemberSync struct {
	rt       *Runtime
	registry *Registry
	quiet    *QuietPeriod
	cfg      MemberSyncConfig
	logger   *slog.Logger
}

// NewMemberSync 创建成员同步
func NewMemberSync(rt *Runtime, registry *Registry, quiet *QuietPeriod, cfg MemberSyncConfig) *MemberSync {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.MaxMembers <= 0 {
		cfg.MaxMembers = 10000
	}
	return &MemberSync{
		rt:       rt,
		registry: registry,
		quiet:    quiet,
		cfg:      cfg,
		logger:   log.NewModuleLogger("monitor", "members"),
	}
}

// Due 会话是否需要同步成员
func (s *MemberSync) Due(conv *domainMonitor.Conversation) bool {
	return s.cfg.Enabled && conv.Fetchable() && conv.MembersDue(s.rt.Clock.Now(), s.cfg.RefreshInterval)
}

// Sync 分页拉取成员并整体替换，返回成员数
func (s *MemberSync) Sync(ctx context.Context, conv *domainMonitor.Conversation) (int, error) {
	handle := s.registry.Handle(conv)
	var members []*domainMonitor.Member

	for offset := 0; offset < s.cfg.MaxMembers; {
		if err := s.quiet.Wait(ctx); err != nil {
			return 0, err
		}
		page, err := s.rt.Protocol.GetMembers(ctx, handle, offset, s.cfg.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			if !domainMonitor.IsKind(err, domainMonitor.KindTransient) {
				// 无权限等永久错误在下一个刷新间隔之前不再重试
				if markErr := s.rt.Conversations.MarkMembersSynced(ctx, conv.ID, s.rt.Clock.Now()); markErr != nil {
					log.FromContext(ctx, s.logger).Warn("Failed to defer member sync",
						"conversation_id", conv.ID,
						"error", markErr,
					)
				}
			}
			return 0, err
		}
		members = append(members, page.Members...)
		offset += len(page.Members)
		if len(page.Members) < s.cfg.PageSize || (page.Total > 0 && offset >= page.Total) {
			break
		}
	}

	if err := s.fillProfiles(ctx, conv.ID, members); err != nil {
		return 0, err
	}

	if err := s.rt.Members.ReplaceMembers(ctx, conv.ID, members); err != nil {
		return 0, domainMonitor.NewError(domainMonitor.KindStorageFailure, "replace_members", conv.ID, err)
	}
	now := s.rt.Clock.Now()
	if err := s.rt.Conversations.MarkMembersSynced(ctx, conv.ID, now); err != nil {
		return 0, domainMonitor.NewError(domainMonitor.KindStorageFailure, "mark_members_synced", conv.ID, err)
	}
	conv.MembersSyncedAt = &now

	log.FromContext(ctx, s.logger).Debug("Members synced", "conversation_id", conv.ID, "members", len(members))
	return len(members), nil
}

// fillProfiles 为尚无简介的成员补全简介
// 每个请求同样经过静默间隔，临时错误时停止补全，其余成员留给下一次刷新
func (s *MemberSync) fillProfiles(ctx context.Context, convID int64, members []*domainMonitor.Member) error {
	if s.cfg.Profiles <= 0 || len(members) == 0 {
		return nil
	}
	logger := log.FromContext(ctx, s.logger)

	known := make(map[int64]bool)
	stored, err := s.rt.Members.ListMembers(ctx, convID)
	if err != nil {
		return domainMonitor.NewError(domainMonitor.KindStorageFailure, "list_members", convID, err)
	}
	for _, m := range stored {
		if m.Bio != "" {
			known[m.UserID] = true
		}
	}

	fetched := 0
	for _, m := range members {
		if fetched >= s.cfg.Profiles {
			break
		}
		if known[m.UserID] || m.Bio != "" {
			continue
		}
		if err := s.quiet.Wait(ctx); err != nil {
			return err
		}
		fetched++
		bio, err := s.rt.Protocol.GetUserBio(ctx, m.UserID, m.AccessHash)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if domainMonitor.IsKind(err, domainMonitor.KindTransient) {
				logger.Warn("Profile fetch paused", "conversation_id", convID, "user_id", m.UserID, "error", err)
				return nil
			}
			logger.Debug("Profile unavailable", "user_id", m.UserID, "error", err)
			continue
		}
		m.Bio = bio
	}
	return nil
}

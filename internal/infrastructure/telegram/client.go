// Package telegram 基于 MTProto 的只读协议适配
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/config"
	"github.com/chatwatch/backend/internal/infrastructure/log"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
)

// errNotConnected 客户端尚未就绪
var errNotConnected = errors.New("telegram client not connected")

// ErrNotAuthorized 会话文件未授权，需要先登录
var ErrNotAuthorized = errors.New("telegram session not authorized, run the login command first")

// 确保 Client 实现了 monitor.ProtocolClient 接口
var _ monitor.ProtocolClient = (*Client)(nil)

// Client 只读协议客户端
type Client struct {
	client *telegram.Client
	logger *slog.Logger

	mu    sync.RWMutex
	api   *tg.Client
	ready chan struct{}
	done  chan struct{}
	err   error
}

// NewClient 创建协议客户端，不会发起连接
func NewClient(cfg *config.TelegramConfig) *Client {
	client := telegram.NewClient(cfg.AppID, cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionPath},
		NoUpdates:      true,
		Middlewares:    []telegram.Middleware{SilentGuard()},
	})
	return &Client{
		client: client,
		logger: log.NewModuleLogger("telegram", "client"),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Raw 返回底层客户端（登录流程使用）
func (c *Client) Raw() *telegram.Client {
	return c.client
}

// Start 在后台建立连接并等待授权校验完成
// ctx 取消时连接关闭
func (c *Client) Start(ctx context.Context) error {
	go func() {
		defer close(c.done)
		err := c.client.Run(ctx, func(ctx context.Context) error {
			status, err := c.client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("auth status: %w", err)
			}
			if !status.Authorized {
				return ErrNotAuthorized
			}

			c.mu.Lock()
			c.api = c.client.API()
			c.mu.Unlock()
			close(c.ready)
			c.logger.Info("Telegram client connected")

			<-ctx.Done()
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			c.logger.Error("Telegram client stopped", "error", err)
		}
	}()

	select {
	case <-c.ready:
		return nil
	case <-c.done:
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.err != nil {
			return c.err
		}
		return errNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait 等待后台连接退出
func (c *Client) Wait() {
	<-c.done
}

func (c *Client) getAPI() (*tg.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.api == nil {
		return nil, errNotConnected
	}
	return c.api, nil
}

// ListConversations 枚举当前可访问的群组和频道
func (c *Client) ListConversations(ctx context.Context) ([]*monitor.RemoteConversation, error) {
	api, err := c.getAPI()
	if err != nil {
		return nil, Classify(c.logger, "list_conversations", 0, err)
	}

	res, err := api.MessagesGetAllChats(ctx, []int64{})
	if err != nil {
		return nil, Classify(c.logger, "list_conversations", 0, err)
	}
	return remoteConversations(res), nil
}

// ResolveHandle 重新枚举会话并取得最新句柄
func (c *Client) ResolveHandle(ctx context.Context, conversationID int64) (monitor.Handle, error) {
	convs, err := c.ListConversations(ctx)
	if err != nil {
		return monitor.Handle{}, err
	}
	for _, rc := range convs {
		if rc.Handle.ConversationID() == conversationID {
			return rc.Handle, nil
		}
	}
	return monitor.Handle{}, monitor.NewError(monitor.KindPermanent, "resolve_handle", conversationID,
		fmt.Errorf("conversation no longer listed"))
}

// GetHistory 返回 ID 严格大于 after 的最多 limit 条消息，按 ID 升序
func (c *Client) GetHistory(ctx context.Context, handle monitor.Handle, after int64, limit int) ([]*monitor.Message, error) {
	convID := handle.ConversationID()
	api, err := c.getAPI()
	if err != nil {
		return nil, Classify(c.logger, "get_history", convID, err)
	}
	if limit <= 0 || limit > monitor.HistoryPageSize {
		limit = monitor.HistoryPageSize
	}

	res, err := api.MessagesGetHistory(ctx, historyRequest(handle, after, limit))
	if err != nil {
		return nil, Classify(c.logger, "get_history", convID, err)
	}
	return historyMessages(convID, res, after, limit), nil
}

// GetMembers 返回一页成员
func (c *Client) GetMembers(ctx context.Context, handle monitor.Handle, offset, limit int) (*monitor.MemberPage, error) {
	convID := handle.ConversationID()
	api, err := c.getAPI()
	if err != nil {
		return nil, Classify(c.logger, "get_members", convID, err)
	}

	if handle.Kind == monitor.PeerKindGroup {
		// 普通群组一次返回全部成员
		if offset > 0 {
			return &monitor.MemberPage{}, nil
		}
		full, err := api.MessagesGetFullChat(ctx, handle.PeerID)
		if err != nil {
			return nil, Classify(c.logger, "get_members", convID, err)
		}
		members := users(full.Users)
		return &monitor.MemberPage{Members: members, Total: len(members)}, nil
	}

	res, err := api.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
		Channel: &tg.InputChannel{ChannelID: handle.PeerID, AccessHash: handle.AccessHash},
		Filter:  &tg.ChannelParticipantsRecent{},
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		return nil, Classify(c.logger, "get_members", convID, err)
	}
	participants, ok := res.(*tg.ChannelsChannelParticipants)
	if !ok {
		return &monitor.MemberPage{}, nil
	}
	return &monitor.MemberPage{Members: users(participants.Users), Total: participants.Count}, nil
}

// GetUserBio 读取用户资料中的简介
func (c *Client) GetUserBio(ctx context.Context, userID, accessHash int64) (string, error) {
	api, err := c.getAPI()
	if err != nil {
		return "", Classify(c.logger, "get_user_bio", 0, err)
	}
	full, err := api.UsersGetFullUser(ctx, &tg.InputUser{UserID: userID, AccessHash: accessHash})
	if err != nil {
		return "", Classify(c.logger, "get_user_bio", 0, err)
	}
	return full.FullUser.About, nil
}

// inputPeer 把句柄转换为请求参数
func inputPeer(h monitor.Handle) tg.InputPeerClass {
	if h.Kind == monitor.PeerKindChannel {
		return &tg.InputPeerChannel{ChannelID: h.PeerID, AccessHash: h.AccessHash}
	}
	return &tg.InputPeerChat{ChatID: h.PeerID}
}

// historyRequest 请求 after 之后最早的 limit 条消息
func historyRequest(h monitor.Handle, after int64, limit int) *tg.MessagesGetHistoryRequest {
	return &tg.MessagesGetHistoryRequest{
		Peer:      inputPeer(h),
		OffsetID:  int(after) + 1,
		AddOffset: -limit,
		Limit:     limit,
		MinID:     int(after),
	}
}

// remoteConversations 过滤出可访问的群组和频道
func remoteConversations(res tg.MessagesChatsClass) []*monitor.RemoteConversation {
	var chats []tg.ChatClass
	switch v := res.(type) {
	case *tg.MessagesChats:
		chats = v.Chats
	case *tg.MessagesChatsSlice:
		chats = v.Chats
	}

	out := make([]*monitor.RemoteConversation, 0, len(chats))
	for _, chat := range chats {
		switch ch := chat.(type) {
		case *tg.Chat:
			if ch.Left || ch.Deactivated {
				continue
			}
			out = append(out, &monitor.RemoteConversation{
				Handle: monitor.Handle{Kind: monitor.PeerKindGroup, PeerID: ch.ID},
				Title:  ch.Title,
			})
		case *tg.Channel:
			if ch.Left {
				continue
			}
			out = append(out, &monitor.RemoteConversation{
				Handle: monitor.Handle{Kind: monitor.PeerKindChannel, PeerID: ch.ID, AccessHash: ch.AccessHash},
				Title:  ch.Title,
			})
		}
	}
	return out
}

// historyMessages 提取 after 之后的消息并按 ID 升序排列
func historyMessages(conversationID int64, res tg.MessagesMessagesClass, after int64, limit int) []*monitor.Message {
	var raw []tg.MessageClass
	switch v := res.(type) {
	case *tg.MessagesMessages:
		raw = v.Messages
	case *tg.MessagesMessagesSlice:
		raw = v.Messages
	case *tg.MessagesChannelMessages:
		raw = v.Messages
	}

	out := make([]*monitor.Message, 0, len(raw))
	for _, m := range raw {
		var msg *monitor.Message
		switch v := m.(type) {
		case *tg.Message:
			msg = &monitor.Message{MessageID: int64(v.ID), Timestamp: time.Unix(int64(v.Date), 0), Text: v.Message}
		case *tg.MessageService:
			// 服务消息没有文本，只用于推进游标
			msg = &monitor.Message{MessageID: int64(v.ID), Timestamp: time.Unix(int64(v.Date), 0)}
		default:
			continue
		}
		if msg.MessageID <= after {
			continue
		}
		msg.ConversationID = conversationID
		out = append(out, msg)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func users(list []tg.UserClass) []*monitor.Member {
	out := make([]*monitor.Member, 0, len(list))
	for _, u := range list {
		user, ok := u.(*tg.User)
		if !ok {
			continue
		}
		m := &monitor.Member{
			UserID:     user.ID,
			AccessHash: user.AccessHash,
			Username:   user.Username,
			FirstName:  user.FirstName,
			LastName:   user.LastName,
		}
		// 只有公开的离线时间是精确值，"最近在线"等模糊状态不记录
		if offline, ok := user.Status.(*tg.UserStatusOffline); ok && offline.WasOnline > 0 {
			seen := time.Unix(int64(offline.WasOnline), 0).UTC()
			m.LastSeen = &seen
		}
		out = append(out, m)
	}
	return out
}

package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
)

// ErrSideEffect 请求会产生已读、送达或在线状态等可见副作用
type ErrSideEffect struct {
	Request string
}

func (e *ErrSideEffect) Error() string {
	return fmt.Sprintf("request %s has visible side effects and is blocked", e.Request)
}

// SilentGuard 拦截所有会暴露监控行为的请求
// 作为最后一道防线挂在客户端中间件上，端口层本身不暴露这类调用
func SilentGuard() telegram.Middleware {
	return telegram.MiddlewareFunc(func(next tg.Invoker) telegram.InvokeFunc {
		return func(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
			if name, blocked := sideEffect(input); blocked {
				return &ErrSideEffect{Request: name}
			}
			return next.Invoke(ctx, input, output)
		}
	})
}

// blockedByName 按 TL 名称拦截的请求，覆盖当前协议层尚未生成类型的方法
var blockedByName = map[string]bool{
	"messages.readHistory":         true,
	"messages.readDiscussion":      true,
	"messages.readSavedHistory":    true,
	"channels.readHistory":         true,
	"stories.readStories":          true,
	"stories.incrementStoryViews":  true,
	"messages.readMentions":        true,
	"messages.readReactions":       true,
	"messages.readMessageContents": true,
}

// sideEffect 判断请求是否有可见副作用
func sideEffect(input bin.Encoder) (string, bool) {
	switch req := input.(type) {
	case *tg.MessagesReadDiscussionRequest:
		return "messages.readDiscussion", true
	case *tg.StoriesReadStoriesRequest:
		return "stories.readStories", true
	case *tg.StoriesIncrementStoryViewsRequest:
		return "stories.incrementStoryViews", true
	case *tg.MessagesReadHistoryRequest:
		return "messages.readHistory", true
	case *tg.ChannelsReadHistoryRequest:
		return "channels.readHistory", true
	case *tg.MessagesReadMentionsRequest:
		return "messages.readMentions", true
	case *tg.MessagesReadReactionsRequest:
		return "messages.readReactions", true
	case *tg.MessagesReadMessageContentsRequest:
		return "messages.readMessageContents", true
	case *tg.ChannelsReadMessageContentsRequest:
		return "channels.readMessageContents", true
	case *tg.MessagesSetTypingRequest:
		return "messages.setTyping", true
	case *tg.AccountUpdateStatusRequest:
		if !req.Offline {
			return "account.updateStatus", true
		}
	case *tg.MessagesGetMessagesViewsRequest:
		if req.Increment {
			return "messages.getMessagesViews", true
		}
	}
	if named, ok := input.(interface{ TypeName() string }); ok && blockedByName[named.TypeName()] {
		return named.TypeName(), true
	}
	return "", false
}

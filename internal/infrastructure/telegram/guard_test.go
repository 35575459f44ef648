package telegram

import (
	"context"
	"testing"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// namedRequest 只带 TL 名称的请求
type namedRequest string

func (r namedRequest) TypeName() string           { return string(r) }
func (r namedRequest) Encode(b *bin.Buffer) error { return nil }

func TestSilentGuard(t *testing.T) {
	tests := []struct {
		name    string
		input   bin.Encoder
		blocked bool
	}{
		{"read history", &tg.MessagesReadHistoryRequest{}, true},
		{"channel read history", &tg.ChannelsReadHistoryRequest{}, true},
		{"read mentions", &tg.MessagesReadMentionsRequest{}, true},
		{"read reactions", &tg.MessagesReadReactionsRequest{}, true},
		{"read contents", &tg.MessagesReadMessageContentsRequest{}, true},
		{"channel read contents", &tg.ChannelsReadMessageContentsRequest{}, true},
		{"typing", &tg.MessagesSetTypingRequest{}, true},
		{"read discussion", &tg.MessagesReadDiscussionRequest{}, true},
		{"read stories", &tg.StoriesReadStoriesRequest{}, true},
		{"story views", &tg.StoriesIncrementStoryViewsRequest{}, true},
		{"read saved history by name", namedRequest("messages.readSavedHistory"), true},
		{"unknown read-only by name", namedRequest("users.getFullUser"), false},
		{"online status", &tg.AccountUpdateStatusRequest{Offline: false}, true},
		{"offline status", &tg.AccountUpdateStatusRequest{Offline: true}, false},
		{"views increment", &tg.MessagesGetMessagesViewsRequest{Increment: true}, true},
		{"views plain", &tg.MessagesGetMessagesViewsRequest{Increment: false}, false},
		{"get history", &tg.MessagesGetHistoryRequest{}, false},
		{"get all chats", &tg.MessagesGetAllChatsRequest{}, false},
		{"participants", &tg.ChannelsGetParticipantsRequest{}, false},
		{"full user", &tg.UsersGetFullUserRequest{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := telegram.InvokeFunc(func(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
				called = true
				return nil
			})

			err := SilentGuard().Handle(next)(context.Background(), tt.input, nil)
			if tt.blocked {
				var sideEffectErr *ErrSideEffect
				require.ErrorAs(t, err, &sideEffectErr)
				if named, ok := tt.input.(interface{ TypeName() string }); ok {
					assert.Equal(t, named.TypeName(), sideEffectErr.Request)
				}
				assert.False(t, called, "被拦截的请求不应发出")
			} else {
				assert.NoError(t, err)
				assert.True(t, called)
			}
		})
	}
}

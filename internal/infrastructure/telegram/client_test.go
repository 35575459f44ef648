package telegram

import (
	"testing"
	"time"

	"github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRequest(t *testing.T) {
	req := historyRequest(monitor.Handle{Kind: monitor.PeerKindChannel, PeerID: 5, AccessHash: 9}, 120, 100)
	assert.Equal(t, 121, req.OffsetID)
	assert.Equal(t, -100, req.AddOffset)
	assert.Equal(t, 100, req.Limit)
	assert.Equal(t, 120, req.MinID)

	peer, ok := req.Peer.(*tg.InputPeerChannel)
	require.True(t, ok)
	assert.Equal(t, int64(5), peer.ChannelID)
	assert.Equal(t, int64(9), peer.AccessHash)

	group := historyRequest(monitor.Handle{Kind: monitor.PeerKindGroup, PeerID: 7}, 0, 100)
	assert.IsType(t, &tg.InputPeerChat{}, group.Peer)
}

func TestRemoteConversations(t *testing.T) {
	res := &tg.MessagesChats{Chats: []tg.ChatClass{
		&tg.Chat{ID: 1, Title: "group"},
		&tg.Chat{ID: 2, Title: "left group", Left: true},
		&tg.Channel{ID: 3, AccessHash: 33, Title: "channel"},
		&tg.ChannelForbidden{ID: 4, Title: "banned"},
		&tg.ChatForbidden{ID: 5, Title: "kicked"},
	}}

	convs := remoteConversations(res)
	require.Len(t, convs, 2)
	assert.Equal(t, monitor.Handle{Kind: monitor.PeerKindGroup, PeerID: 1}, convs[0].Handle)
	assert.Equal(t, monitor.Handle{Kind: monitor.PeerKindChannel, PeerID: 3, AccessHash: 33}, convs[1].Handle)
	assert.Equal(t, "channel", convs[1].Title)
}

func TestHistoryMessages(t *testing.T) {
	res := &tg.MessagesChannelMessages{Messages: []tg.MessageClass{
		&tg.Message{ID: 103, Date: 1700000003, Message: "c"},
		&tg.MessageService{ID: 102, Date: 1700000002},
		&tg.Message{ID: 101, Date: 1700000001, Message: "a"},
		&tg.Message{ID: 100, Date: 1700000000, Message: "old"},
		&tg.MessageEmpty{ID: 104},
	}}

	msgs := historyMessages(-1000000000005, res, 100, 100)
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(101), msgs[0].MessageID)
	assert.Equal(t, "a", msgs[0].Text)
	assert.Equal(t, int64(102), msgs[1].MessageID)
	assert.False(t, msgs[1].HasText())
	assert.Equal(t, int64(103), msgs[2].MessageID)
	assert.Equal(t, int64(-1000000000005), msgs[2].ConversationID)

	assert.Empty(t, historyMessages(1, &tg.MessagesMessagesNotModified{}, 0, 100))
}

func TestUsers(t *testing.T) {
	members := users([]tg.UserClass{
		&tg.User{ID: 1, AccessHash: 11, Username: "alice", FirstName: "Alice", Status: &tg.UserStatusOffline{WasOnline: 1772352000}},
		&tg.UserEmpty{ID: 2},
		&tg.User{ID: 3, FirstName: "Bob", Status: &tg.UserStatusRecently{}},
	})
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].Username)
	assert.Equal(t, int64(11), members[0].AccessHash)
	require.NotNil(t, members[0].LastSeen)
	assert.Equal(t, time.Unix(1772352000, 0).UTC(), *members[0].LastSeen)
	assert.Nil(t, members[1].LastSeen, "模糊的在线状态不记录")
}

package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
)

func TestMemberSync_PagesWithQuietPeriod(t *testing.T) {
	h := newHarness(t, withMembers())
	ctx := context.Background()
	id := h.protocol.addChannel(1, "team", 0)
	h.protocol.setMembers(id, 5)
	h.refresh()
	conv := h.conversation(id)
	require.True(t, h.members.Due(conv))

	n, err := h.members.Sync(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 3, h.protocol.count("members"), "每页 2 个成员")
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, h.clock.Sleeps())

	counts, err := h.rt.Members.CountMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, counts[id])

	conv = h.conversation(id)
	assert.False(t, h.members.Due(conv))
	h.clock.Advance(25 * time.Hour)
	assert.True(t, h.members.Due(conv))
}

func TestMemberSync_DisabledIsNeverDue(t *testing.T) {
	h := newHarness(t)
	id := h.protocol.addChannel(1, "team", 0)
	h.refresh()
	assert.False(t, h.members.Due(h.conversation(id)))
}

func TestMemberSync_PermanentErrorDefersRetry(t *testing.T) {
	h := newHarness(t, withMembers())
	ctx := context.Background()
	id := h.protocol.addChannel(1, "team", 0)
	h.refresh()
	h.protocol.unlist(id)
	delete(h.protocol.convs, id)

	_, err := h.members.Sync(ctx, h.conversation(id))
	require.Error(t, err)
	assert.True(t, domainMonitor.IsKind(err, domainMonitor.KindPermanent))
	assert.False(t, h.members.Due(h.conversation(id)), "永久错误在刷新间隔内不重试")
}

func TestMemberSync_TransientErrorRetriesNextCycle(t *testing.T) {
	h := newHarness(t, withMembers())
	ctx := context.Background()
	id := h.protocol.addChannel(1, "team", 0)
	h.refresh()

	failing := &failingMembersProtocol{fakeProtocol: h.protocol, err: domainMonitor.Transient("get_members", errors.New("timeout"))}
	h.rt.Protocol = failing

	_, err := h.members.Sync(ctx, h.conversation(id))
	require.Error(t, err)
	assert.True(t, h.members.Due(h.conversation(id)))
}

type failingMembersProtocol struct {
	*fakeProtocol
	err error
}

func (p *failingMembersProtocol) GetMembers(context.Context, domainMonitor.Handle, int, int) (*domainMonitor.MemberPage, error) {
	return nil, p.err
}

func TestMemberSync_MarkFailureKeepsOriginalError(t *testing.T) {
	h := newHarness(t, withMembers())
	ctx := context.Background()
	id := h.protocol.addChannel(1, "team", 0)
	h.refresh()
	delete(h.protocol.convs, id)
	h.rt.Conversations = &failingMarkConversations{ConversationRepository: h.rt.Conversations}

	_, err := h.members.Sync(ctx, h.conversation(id))
	require.Error(t, err)
	assert.True(t, domainMonitor.IsKind(err, domainMonitor.KindPermanent), "返回拉取错误而不是记录错误")
	assert.True(t, h.members.Due(h.conversation(id)), "记录失败时下个周期仍会重试")
}

func TestMemberSync_FillsMissingProfiles(t *testing.T) {
	h := newHarness(t, withMembers(), withProfiles(2))
	ctx := context.Background()
	id := h.protocol.addChannel(1, "team", 0)
	h.protocol.setMembers(id, 5)
	for i := int64(1); i <= 5; i++ {
		h.protocol.bios[i] = fmt.Sprintf("bio of user%d", i)
	}
	h.refresh()

	_, err := h.members.Sync(ctx, h.conversation(id))
	require.NoError(t, err)
	assert.Equal(t, 2, h.protocol.count("profile"))

	members, err := h.rt.Members.ListMembers(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, countBios(members))

	// 已有简介的成员不再请求
	h.protocol.resetCalls()
	h.clock.Advance(25 * time.Hour)
	_, err = h.members.Sync(ctx, h.conversation(id))
	require.NoError(t, err)
	assert.Equal(t, 2, h.protocol.count("profile"))

	members, err = h.rt.Members.ListMembers(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, countBios(members), "刷新时保留已有简介")
}

func TestMemberSync_ProfileErrors(t *testing.T) {
	t.Run("transient stops filling", func(t *testing.T) {
		h := newHarness(t, withMembers(), withProfiles(3))
		id := h.protocol.addChannel(1, "team", 0)
		h.protocol.setMembers(id, 3)
		h.protocol.bios[2] = "second"
		h.protocol.bioErrs[1] = domainMonitor.Transient("get_user_bio", errors.New("FLOOD_WAIT"))
		h.refresh()

		n, err := h.members.Sync(context.Background(), h.conversation(id))
		require.NoError(t, err, "简介失败不影响成员同步")
		assert.Equal(t, 3, n)
		assert.Equal(t, 1, h.protocol.count("profile"))
	})

	t.Run("permanent skips member", func(t *testing.T) {
		h := newHarness(t, withMembers(), withProfiles(3))
		id := h.protocol.addChannel(1, "team", 0)
		h.protocol.setMembers(id, 3)
		h.protocol.bios[2] = "second"
		h.protocol.bioErrs[1] = domainMonitor.Permanent("get_user_bio", errors.New("USER_ID_INVALID"))
		h.refresh()

		_, err := h.members.Sync(context.Background(), h.conversation(id))
		require.NoError(t, err)
		assert.Equal(t, 3, h.protocol.count("profile"))

		members, err := h.rt.Members.ListMembers(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 1, countBios(members))
	})
}

func countBios(members []*domainMonitor.Member) int {
	n := 0
	for _, m := range members {
		if m.Bio != "" {
			n++
		}
	}
	return n
}

// failingMarkConversations 记录成员同步时间总是失败
type failingMarkConversations struct {
	domainMonitor.ConversationRepository
}

func (r *failingMarkConversations) MarkMembersSynced(context.Context, int64, time.Time) error {
	return errors.New("database is locked")
}

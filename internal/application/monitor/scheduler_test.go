package monitor

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwatch/backend/internal/domain/events"
	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
)

// readOnlyCalls 协议端口允许的调用类型
var readOnlyCalls = map[string]bool{"list": true, "resolve": true, "history": true, "members": true, "profile": true}

func assertReadOnly(t *testing.T, p *fakeProtocol) {
	t.Helper()
	for _, c := range p.callKinds() {
		assert.True(t, readOnlyCalls[c], "unexpected protocol call %q", c)
	}
}

type messageState struct {
	urgency   domainMonitor.Urgency
	embedding []float32
}

type conversationSnapshot struct {
	cursor        int64
	category      string
	suggestedName string
	count         int
	messages      map[int64]messageState
}

func (h *harness) snapshot(id int64) conversationSnapshot {
	h.t.Helper()
	conv := h.conversation(id)
	snap := conversationSnapshot{
		cursor:        conv.Cursor,
		category:      conv.Category,
		suggestedName: conv.SuggestedName,
		count:         h.messageCount(id),
		messages:      make(map[int64]messageState),
	}
	for mid := int64(1); mid <= conv.Cursor; mid++ {
		m, err := h.rt.Messages.Get(context.Background(), id, mid)
		require.NoError(h.t, err)
		snap.messages[mid] = messageState{urgency: m.Urgency, embedding: m.Embedding}
	}
	return snap
}

func TestScheduler_FreshConversationScenario(t *testing.T) {
	h := newHarness(t, withMembers())
	id := h.protocol.addChannel(1, "release notes", 45, 12, 40)
	h.protocol.setMembers(id, 3)

	report := h.cycle()

	out := report.Outcome(id)
	require.NotNil(t, out)
	assert.False(t, out.Failed())
	assert.Equal(t, 45, out.Fetched)
	assert.Equal(t, 45, out.Analyzed)
	assert.Equal(t, 2, out.Urgent)
	assert.Equal(t, 3, out.Members)

	conv := h.conversation(id)
	assert.Equal(t, int64(45), conv.Cursor)
	assert.Equal(t, "updates", conv.Category)
	assert.Equal(t, domainMonitor.AccessActive, conv.AccessState)
	assert.NotNil(t, conv.MembersSyncedAt)
	assert.Equal(t, 45, h.messageCount(id))
	assert.Empty(t, h.pending(id))

	urgent, err := h.rt.Messages.UrgentMessages(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Len(t, urgent, 2)

	counts, err := h.rt.Members.CountMembers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[id])

	assertReadOnly(t, h.protocol)
	assert.Len(t, h.bus.ofType(events.CycleStarted), 1)
	assert.Len(t, h.bus.ofType(events.CycleCompleted), 1)
	assert.Len(t, h.bus.ofType(events.UrgentMessagesFound), 1)
	assert.Len(t, h.bus.ofType(events.DuplicatesDetected), 1)
	assert.Same(t, report, h.scheduler.LastReport())
}

func TestScheduler_SecondCycleIsIdempotent(t *testing.T) {
	h := newHarness(t)
	id := h.protocol.addChannel(1, "release notes", 45, 12, 40)

	h.cycle()
	before := h.snapshot(id)
	calls := h.inference.calls()

	report := h.cycle()
	after := h.snapshot(id)

	assert.Equal(t, 0, report.Outcome(id).Fetched)
	assert.Equal(t, 0, report.Outcome(id).Analyzed)
	assert.Equal(t, calls, h.inference.calls(), "已分析的消息不会再次发送")
	assert.True(t, reflect.DeepEqual(before, after), "no new remote data leaves state unchanged")
}

func TestScheduler_StaleHandleMidCycleScenario(t *testing.T) {
	h := newHarness(t)
	stable := h.protocol.addChannel(1, "stable", 30)
	rotating := h.protocol.addChannel(2, "rotating", 180)
	h.protocol.rotateAfter[rotating] = 1

	report := h.cycle()

	out := report.Outcome(rotating)
	require.NotNil(t, out)
	assert.False(t, out.Failed(), "刷新句柄后成功，不算失败")
	assert.Equal(t, 180, out.Fetched)

	conv := h.conversation(rotating)
	assert.Equal(t, int64(180), conv.Cursor)
	assert.Equal(t, domainMonitor.AccessActive, conv.AccessState)
	assert.Equal(t, []string{"active->stale", "stale->active"}, h.bus.stateChanges(rotating))
	assert.Empty(t, h.bus.failures(rotating))

	assert.Equal(t, int64(30), h.conversation(stable).Cursor)
	assert.Equal(t, 1, h.protocol.count("resolve"))
	assertReadOnly(t, h.protocol)
}

func TestScheduler_PermanentLossScenario(t *testing.T) {
	h := newHarness(t)
	revoked := h.protocol.addChannel(1, "revoked", 10)
	vanished := h.protocol.addChannel(2, "vanished", 10)
	healthy := h.protocol.addChannel(3, "healthy", 10)
	h.cycle()

	h.protocol.appendMessages(revoked, 5)
	h.protocol.appendMessages(healthy, 5)
	h.protocol.failHistory(revoked, domainMonitor.Permanent("get_history", errors.New("CHANNEL_PRIVATE")))
	h.protocol.unlist(vanished)

	report := h.cycle()

	out := report.Outcome(revoked)
	require.NotNil(t, out)
	assert.Equal(t, domainMonitor.KindPermanent, out.Kind)
	assert.Equal(t, StageFetch, out.Stage)
	assert.Nil(t, report.Outcome(vanished), "不可访问的会话不再拉取")
	assert.Equal(t, 5, report.Outcome(healthy).Fetched)

	assert.Equal(t, domainMonitor.AccessInaccessible, h.conversation(revoked).AccessState)
	assert.Equal(t, int64(10), h.conversation(revoked).Cursor)
	assert.Equal(t, domainMonitor.AccessInaccessible, h.conversation(vanished).AccessState)
	assert.Equal(t, 10, h.messageCount(vanished), "数据保留")

	failures := h.bus.failures(revoked)
	require.Len(t, failures, 1)
	assert.Equal(t, string(domainMonitor.KindPermanent), failures[0].Kind)
	assert.Equal(t, report.ID, failures[0].CycleID)

	// 重新出现也保持不可访问，直到人工恢复
	h.protocol.relist(vanished)
	h.protocol.resetCalls()
	report = h.cycle()
	assert.Nil(t, report.Outcome(revoked))
	assert.Nil(t, report.Outcome(vanished))
	assert.Equal(t, 1, h.protocol.count("history"), "只拉取健康的会话")

	_, err := h.registry.Reactivate(context.Background(), vanished)
	require.NoError(t, err)
	report = h.cycle()
	require.NotNil(t, report.Outcome(vanished))
	assert.False(t, report.Outcome(vanished).Failed())
}

func TestScheduler_RefreshFailureFallsBackToKnownConversations(t *testing.T) {
	h := newHarness(t)
	id := h.protocol.addChannel(1, "news", 10)
	h.cycle()

	h.protocol.appendMessages(id, 3)
	h.protocol.listErr = domainMonitor.Transient("list", errors.New("timeout"))
	report := h.cycle()

	assert.Equal(t, 3, report.Outcome(id).Fetched)
	assert.Len(t, h.bus.failures(0), 1)
}

func TestScheduler_SingleFlight(t *testing.T) {
	h := newHarness(t)
	h.protocol.addChannel(1, "news", 5)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.protocol.listHook = func(context.Context) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.scheduler.RunCycle(context.Background())
		done <- err
	}()
	<-entered

	assert.True(t, h.scheduler.Running())
	_, err := h.scheduler.RunCycle(context.Background())
	assert.ErrorIs(t, err, domainMonitor.ErrCycleInProgress)
	assert.ErrorIs(t, h.scheduler.Trigger(), domainMonitor.ErrCycleInProgress)
	assert.Len(t, h.bus.ofType(events.CycleSkipped), 1)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, h.scheduler.Running())
	assert.NoError(t, h.scheduler.Trigger())
}

func TestScheduler_ConversationTimeoutIsTransient(t *testing.T) {
	h := newHarness(t, withConversationTimeout(50*time.Millisecond), withRequestTimeout(0))
	slow := h.protocol.addChannel(1, "slow", 5)
	h.protocol.historyHook = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	report := h.cycle()

	out := report.Outcome(slow)
	require.NotNil(t, out)
	assert.Equal(t, domainMonitor.KindTransient, out.Kind)
	assert.Equal(t, domainMonitor.AccessActive, h.conversation(slow).AccessState)

	failures := h.bus.failures(slow)
	require.Len(t, failures, 1)
	assert.Equal(t, string(domainMonitor.KindTransient), failures[0].Kind)
}

func TestScheduler_CancellationAbandonsCycle(t *testing.T) {
	h := newHarness(t)
	id := h.protocol.addChannel(1, "news", 5)

	ctx, cancel := context.WithCancel(context.Background())
	h.protocol.historyHook = func(context.Context) error {
		cancel()
		return context.Canceled
	}

	report, err := h.scheduler.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.True(t, report.Cancelled)
	assert.Empty(t, h.bus.failures(id))
	assert.Equal(t, domainMonitor.AccessActive, h.conversation(id).AccessState)
	assert.Nil(t, h.scheduler.LastReport())
	assert.False(t, h.scheduler.Running())
}

func TestScheduler_PanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.inference.topics["fine"] = 1
	bad := h.protocol.addChannel(1, "bad", 5)
	fine := h.protocol.addChannel(2, "fine", 5)
	h.inference.hook = func(_ int, req *domainMonitor.AnalysisRequest, res *domainMonitor.AnalysisResult) (*domainMonitor.AnalysisResult, error) {
		if req.ConversationName == "bad" {
			panic("nil map")
		}
		return res, nil
	}

	report := h.cycle()

	assert.Equal(t, domainMonitor.KindPermanent, report.Outcome(bad).Kind)
	assert.Equal(t, StageAnalyze, report.Outcome(bad).Stage)
	assert.False(t, report.Outcome(fine).Failed())
	assert.Equal(t, "updates", h.conversation(fine).Category)
}

func TestScheduler_DuplicatesReported(t *testing.T) {
	h := newHarness(t)
	h.inference.topics["go news"] = 3
	h.inference.topics["golang digest"] = 3
	a := h.protocol.addChannel(1, "go news", 5)
	b := h.protocol.addChannel(2, "golang digest", 5)
	h.protocol.addChannel(3, "cooking", 5)

	report := h.cycle()

	require.Len(t, report.Clusters, 1)
	assert.ElementsMatch(t, []int64{a, b}, report.Clusters[0].ConversationIDs)
	assert.Equal(t, report.Clusters, h.scheduler.LastClusters())

	evs := h.bus.ofType(events.DuplicatesDetected)
	require.Len(t, evs, 1)
	assert.Len(t, evs[0].(*events.DuplicatesEvent).Clusters, 1)
}

func TestScheduler_SetInterval(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 30*time.Minute, h.scheduler.Interval())

	h.scheduler.SetInterval(time.Minute)
	assert.Equal(t, time.Minute, h.scheduler.Interval())

	h.scheduler.SetInterval(0)
	assert.Equal(t, time.Minute, h.scheduler.Interval())
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.protocol.addChannel(1, "news", 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.scheduler.Run(ctx) }()

	require.Eventually(t, func() bool { return h.scheduler.LastReport() != nil }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

// slowCycles 让每个周期在枚举会话时阻塞固定时长，并记录起止时间
type slowCycles struct {
	mu     sync.Mutex
	starts []time.Time
	ends   []time.Time
}

func (c *slowCycles) hook(d time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		c.mu.Lock()
		c.starts = append(c.starts, time.Now())
		c.mu.Unlock()

		var err error
		select {
		case <-time.After(d):
		case <-ctx.Done():
			err = ctx.Err()
		}

		c.mu.Lock()
		c.ends = append(c.ends, time.Now())
		c.mu.Unlock()
		return err
	}
}

func (c *slowCycles) snapshot() ([]time.Time, []time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.starts...), append([]time.Time(nil), c.ends...)
}

func TestScheduler_RunDropsTicksDuringSlowCycle(t *testing.T) {
	const (
		interval = 200 * time.Millisecond
		cycle    = 300 * time.Millisecond
	)
	h := newHarness(t)
	h.scheduler.SetInterval(interval)
	slow := &slowCycles{}
	h.protocol.listHook = slow.hook(cycle)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	require.NoError(t, h.scheduler.Run(ctx))
	stoppedAt := time.Now()

	starts, ends := slow.snapshot()
	// 丢弃语义下最多 0、500、900、1300ms 四个周期；补跑会得到五个以上
	require.GreaterOrEqual(t, len(starts), 3)
	assert.LessOrEqual(t, len(starts), 4)

	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(ends[i-1])
		assert.GreaterOrEqual(t, gap, interval/4, "cycle %d started %v after the previous one ended", i+1, gap)
	}
	for i, start := range starts {
		assert.True(t, start.Before(stoppedAt), "cycle %d started after Run returned", i+1)
	}
}

func TestScheduler_RunStartsNoCycleAfterCancel(t *testing.T) {
	h := newHarness(t)
	h.scheduler.SetInterval(20 * time.Millisecond)
	slow := &slowCycles{}
	h.protocol.listHook = slow.hook(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.scheduler.Run(ctx) }()

	require.Eventually(t, func() bool {
		starts, _ := slow.snapshot()
		return len(starts) >= 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	cancelledAt := time.Now()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	starts, _ := slow.snapshot()
	for i, start := range starts {
		assert.False(t, start.After(cancelledAt), "cycle %d started after cancel", i+1)
	}
	assert.False(t, h.scheduler.Running())
}

package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chatwatch/backend/internal/domain/events"
	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/clock"
	"github.com/chatwatch/backend/internal/infrastructure/storage"
)

var testStart = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// remoteConversation 远端会话的内存表示
type remoteConversation struct {
	handle   domainMonitor.Handle
	title    string
	listed   bool
	messages []*domainMonitor.Message
	members  []*domainMonitor.Member
}

// fakeProtocol 记录调用类型的协议客户端
type fakeProtocol struct {
	mu            sync.Mutex
	convs         map[int64]*remoteConversation
	calls         []string
	historyErrs   map[int64][]error
	resolveErrs   map[int64]error
	rotateAfter   map[int64]int
	historyServed map[int64]int
	bios          map[int64]string
	bioErrs       map[int64]error
	listErr       error
	listHook      func(ctx context.Context) error
	historyHook   func(ctx context.Context) error
}

func newFakeProtocol() *fakeProtocol {
	return &fakeProtocol{
		convs:         make(map[int64]*remoteConversation),
		historyErrs:   make(map[int64][]error),
		resolveErrs:   make(map[int64]error),
		rotateAfter:   make(map[int64]int),
		historyServed: make(map[int64]int),
		bios:          make(map[int64]string),
		bioErrs:       make(map[int64]error),
	}
}

// addChannel 添加一个包含 n 条消息的频道，urgentIDs 对应的消息带有紧急标记
func (p *fakeProtocol) addChannel(peerID int64, title string, n int, urgentIDs ...int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := domainMonitor.Handle{Kind: domainMonitor.PeerKindChannel, PeerID: peerID, AccessHash: peerID * 10}
	rc := &remoteConversation{handle: h, title: title, listed: true}
	id := h.ConversationID()
	p.convs[id] = rc
	p.appendLocked(id, n, urgentIDs...)
	return id
}

// appendMessages 在远端追加 n 条新消息
func (p *fakeProtocol) appendMessages(id int64, n int, urgentIDs ...int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appendLocked(id, n, urgentIDs...)
}

func (p *fakeProtocol) appendLocked(id int64, n int, urgentIDs ...int64) {
	rc := p.convs[id]
	urgent := make(map[int64]bool)
	for _, u := range urgentIDs {
		urgent[u] = true
	}
	next := int64(len(rc.messages)) + 1
	for i := 0; i < n; i++ {
		mid := next + int64(i)
		text := fmt.Sprintf("%s message %d", rc.title, mid)
		if urgent[mid] {
			text = fmt.Sprintf("URGENT: %s outage %d", rc.title, mid)
		}
		rc.messages = append(rc.messages, &domainMonitor.Message{
			ConversationID: id,
			MessageID:      mid,
			Timestamp:      testStart.Add(time.Duration(mid) * time.Minute),
			Text:           text,
		})
	}
}

func (p *fakeProtocol) setMembers(id int64, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rc := p.convs[id]
	rc.members = nil
	for i := 1; i <= n; i++ {
		rc.members = append(rc.members, &domainMonitor.Member{UserID: int64(i), Username: fmt.Sprintf("user%d", i)})
	}
}

func (p *fakeProtocol) unlist(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.convs[id].listed = false
}

func (p *fakeProtocol) relist(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.convs[id].listed = true
}

func (p *fakeProtocol) failHistory(id int64, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.historyErrs[id] = append(p.historyErrs[id], errs...)
}

func (p *fakeProtocol) record(kind string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, kind)
}

func (p *fakeProtocol) callKinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProtocol) count(kind string) int {
	n := 0
	for _, c := range p.callKinds() {
		if c == kind {
			n++
		}
	}
	return n
}

func (p *fakeProtocol) resetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

func (p *fakeProtocol) ListConversations(ctx context.Context) ([]*domainMonitor.RemoteConversation, error) {
	p.record("list")
	if p.listHook != nil {
		if err := p.listHook(ctx); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	var out []*domainMonitor.RemoteConversation
	for _, rc := range p.convs {
		if rc.listed {
			out = append(out, &domainMonitor.RemoteConversation{Handle: rc.handle, Title: rc.title})
		}
	}
	return out, nil
}

func (p *fakeProtocol) ResolveHandle(ctx context.Context, conversationID int64) (domainMonitor.Handle, error) {
	p.record("resolve")
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.resolveErrs[conversationID]; err != nil {
		return domainMonitor.Handle{}, err
	}
	rc := p.convs[conversationID]
	if rc == nil || !rc.listed {
		return domainMonitor.Handle{}, domainMonitor.Permanent("resolve_handle", errors.New("conversation not listed"))
	}
	return rc.handle, nil
}

func (p *fakeProtocol) GetHistory(ctx context.Context, handle domainMonitor.Handle, after int64, limit int) ([]*domainMonitor.Message, error) {
	p.record("history")
	if p.historyHook != nil {
		if err := p.historyHook(ctx); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	id := handle.ConversationID()
	rc := p.convs[id]
	if rc == nil {
		return nil, domainMonitor.Permanent("get_history", errors.New("CHANNEL_INVALID"))
	}
	if errs := p.historyErrs[id]; len(errs) > 0 {
		p.historyErrs[id] = errs[1:]
		return nil, errs[0]
	}
	if handle.AccessHash != rc.handle.AccessHash {
		return nil, domainMonitor.StaleHandle("get_history", errors.New("CHANNEL_INVALID"))
	}

	var page []*domainMonitor.Message
	for _, m := range rc.messages {
		if m.MessageID > after && len(page) < limit {
			cp := *m
			page = append(page, &cp)
		}
	}
	// 远端按新到旧返回
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}

	p.historyServed[id]++
	if n, ok := p.rotateAfter[id]; ok && n == p.historyServed[id] {
		rc.handle.AccessHash++
	}
	return page, nil
}

func (p *fakeProtocol) GetMembers(ctx context.Context, handle domainMonitor.Handle, offset, limit int) (*domainMonitor.MemberPage, error) {
	p.record("members")
	p.mu.Lock()
	defer p.mu.Unlock()
	rc := p.convs[handle.ConversationID()]
	if rc == nil {
		return nil, domainMonitor.Permanent("get_members", errors.New("CHANNEL_INVALID"))
	}
	page := &domainMonitor.MemberPage{Total: len(rc.members)}
	for i := offset; i < len(rc.members) && i < offset+limit; i++ {
		cp := *rc.members[i]
		page.Members = append(page.Members, &cp)
	}
	return page, nil
}

func (p *fakeProtocol) GetUserBio(ctx context.Context, userID, accessHash int64) (string, error) {
	p.record("profile")
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.bioErrs[userID]; err != nil {
		return "", err
	}
	return p.bios[userID], nil
}

// scriptedInference 按规则生成分析结果的推理客户端
// 包含 URGENT 的消息被判定为紧急，嵌入由会话名称对应的话题决定
type scriptedInference struct {
	mu       sync.Mutex
	requests []*domainMonitor.AnalysisRequest
	topics   map[string]int
	category string
	hook     func(call int, req *domainMonitor.AnalysisRequest, res *domainMonitor.AnalysisResult) (*domainMonitor.AnalysisResult, error)
}

func newScriptedInference() *scriptedInference {
	return &scriptedInference{topics: make(map[string]int), category: "updates"}
}

func (s *scriptedInference) Analyze(ctx context.Context, req *domainMonitor.AnalysisRequest) (*domainMonitor.AnalysisResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	call := len(s.requests)
	topic := s.topics[req.ConversationName]
	hook := s.hook
	s.mu.Unlock()

	res := &domainMonitor.AnalysisResult{
		Category:      s.category,
		SuggestedName: req.ConversationName + " digest",
	}
	for _, text := range req.Texts {
		res.Urgent = append(res.Urgent, strings.Contains(text, "URGENT"))
		res.Embeddings = append(res.Embeddings, topicVector(topic))
	}
	if hook != nil {
		return hook(call, req, res)
	}
	return res, nil
}

func (s *scriptedInference) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedInference) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.requests))
	for i, r := range s.requests {
		sizes[i] = len(r.Texts)
	}
	return sizes
}

func (s *scriptedInference) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var texts []string
	for _, r := range s.requests {
		texts = append(texts, r.Texts...)
	}
	return texts
}

// topicVector 话题相同的向量完全一致，不同话题几乎正交
func topicVector(topic int) []float32 {
	v := make([]float32, domainMonitor.EmbeddingDim)
	v[topic%domainMonitor.EmbeddingDim] = 1
	v[(topic+1)%domainMonitor.EmbeddingDim] = 0.1
	return v
}

// recordingBus 同步记录事件的事件总线
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Subscribe(events.EventType, events.Handler) func() { return func() {} }

func (b *recordingBus) SubscribeMultiple([]events.EventType, events.Handler) func() { return func() {} }

func (b *recordingBus) Publish(e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) Close() {}

func (b *recordingBus) ofType(t events.EventType) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

func (b *recordingBus) stateChanges(conversationID int64) []string {
	var out []string
	for _, e := range b.ofType(events.AccessStateChanged) {
		ev := e.(*events.AccessStateChangedEvent)
		if ev.ConversationID == conversationID {
			out = append(out, ev.From+"->"+ev.To)
		}
	}
	return out
}

func (b *recordingBus) failures(conversationID int64) []*events.ConversationFailedEvent {
	var out []*events.ConversationFailedEvent
	for _, e := range b.ofType(events.ConversationFailed) {
		ev := e.(*events.ConversationFailedEvent)
		if ev.ConversationID == conversationID {
			out = append(out, ev)
		}
	}
	return out
}

// MockVectorIndex 模拟向量索引
type MockVectorIndex struct {
	mock.Mock
}

func (m *MockVectorIndex) Upsert(ctx context.Context, conversationID int64, msgs []*domainMonitor.Message) error {
	args := m.Called(ctx, conversationID, msgs)
	return args.Error(0)
}

func (m *MockVectorIndex) Query(ctx context.Context, vector []float32, limit int, excludeConversation int64) ([]*domainMonitor.Neighbor, error) {
	args := m.Called(ctx, vector, limit, excludeConversation)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domainMonitor.Neighbor), args.Error(1)
}

// failingMessages 在第 failOn 次 AppendBatch 时返回错误
type failingMessages struct {
	domainMonitor.MessageRepository
	mu      sync.Mutex
	appends int
	failOn  int
}

func (f *failingMessages) AppendBatch(ctx context.Context, conversationID int64, msgs []*domainMonitor.Message, cursor int64) (int, error) {
	f.mu.Lock()
	f.appends++
	fail := f.appends == f.failOn
	f.mu.Unlock()
	if fail {
		return 0, errors.New("disk I/O error")
	}
	return f.MessageRepository.AppendBatch(ctx, conversationID, msgs, cursor)
}

type harnessConfig struct {
	members        bool
	profiles       int
	convTimeout    time.Duration
	requestTimeout time.Duration
	index          domainMonitor.VectorIndex
	wrapMessages   func(domainMonitor.MessageRepository) domainMonitor.MessageRepository
}

type harnessOption func(*harnessConfig)

func withMembers() harnessOption {
	return func(c *harnessConfig) { c.members = true }
}

func withProfiles(n int) harnessOption {
	return func(c *harnessConfig) { c.profiles = n }
}

func withConversationTimeout(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.convTimeout = d }
}

func withRequestTimeout(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.requestTimeout = d }
}

func withIndex(index domainMonitor.VectorIndex) harnessOption {
	return func(c *harnessConfig) { c.index = index }
}

func withMessages(wrap func(domainMonitor.MessageRepository) domainMonitor.MessageRepository) harnessOption {
	return func(c *harnessConfig) { c.wrapMessages = wrap }
}

// harness 基于临时 sqlite 数据库和内存远端的完整流水线
type harness struct {
	t         *testing.T
	db        *sql.DB
	clock     *clock.Fake
	bus       *recordingBus
	protocol  *fakeProtocol
	inference *scriptedInference
	rt        *Runtime
	registry  *Registry
	fetcher   *Fetcher
	analyzer  *Analyzer
	detector  *Detector
	members   *MemberSync
	scheduler *Scheduler
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{convTimeout: time.Minute, requestTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		t:         t,
		db:        db,
		clock:     clock.NewFake(testStart),
		bus:       &recordingBus{},
		protocol:  newFakeProtocol(),
		inference: newScriptedInference(),
	}

	messages := storage.NewMessageRepository(db)
	if cfg.wrapMessages != nil {
		messages = cfg.wrapMessages(messages)
	}
	h.rt = NewRuntime(
		storage.NewConversationRepository(db),
		messages,
		storage.NewMemberRepository(db),
		storage.NewEventRepository(db),
		h.protocol,
		h.inference,
		cfg.index,
		h.clock,
		h.bus,
	)

	h.registry, err = NewRegistry(h.rt, 16)
	require.NoError(t, err)
	h.fetcher = NewFetcher(h.rt, h.registry, FetcherConfig{
		PageSize:           domainMonitor.HistoryPageSize,
		RequestTimeout:     cfg.requestTimeout,
		BackoffBase:        2 * time.Second,
		BackoffCap:         time.Minute,
		BackoffMaxAttempts: 5,
	})
	h.analyzer = NewAnalyzer(h.rt, AnalyzerConfig{Concurrency: 2})
	h.detector = NewDetector(h.rt, DefaultDuplicateThreshold)
	h.members = NewMemberSync(h.rt, h.registry, NewQuietPeriod(2*time.Second, h.clock), MemberSyncConfig{
		Enabled:         cfg.members,
		RefreshInterval: 24 * time.Hour,
		PageSize:        2,
		Profiles:        cfg.profiles,
	})
	h.scheduler = NewScheduler(h.rt, h.registry, h.fetcher, h.analyzer, h.detector, h.members, SchedulerConfig{
		Interval:            30 * time.Minute,
		Workers:             4,
		ConversationTimeout: cfg.convTimeout,
	})
	return h
}

// cycle 运行一个周期并要求成功
func (h *harness) cycle() *CycleReport {
	h.t.Helper()
	report, err := h.scheduler.RunCycle(context.Background())
	require.NoError(h.t, err)
	return report
}

// refresh 对账远端会话
func (h *harness) refresh() {
	h.t.Helper()
	_, err := h.registry.Refresh(context.Background())
	require.NoError(h.t, err)
}

func (h *harness) conversation(id int64) *domainMonitor.Conversation {
	h.t.Helper()
	conv, err := h.rt.Conversations.Get(context.Background(), id)
	require.NoError(h.t, err)
	return conv
}

func (h *harness) messageCount(id int64) int {
	h.t.Helper()
	n, err := h.rt.Messages.Count(context.Background(), id)
	require.NoError(h.t, err)
	return n
}

func (h *harness) pending(id int64) []*domainMonitor.Message {
	h.t.Helper()
	msgs, err := h.rt.Messages.PendingAnalysis(context.Background(), id)
	require.NoError(h.t, err)
	return msgs
}

// seed 添加频道并直接写入全部消息
func (h *harness) seed(peerID int64, title string, n int, urgentIDs ...int64) *domainMonitor.Conversation {
	h.t.Helper()
	id := h.protocol.addChannel(peerID, title, n, urgentIDs...)
	h.refresh()
	conv := h.conversation(id)
	_, err := h.fetcher.FetchNew(context.Background(), conv)
	require.NoError(h.t, err)
	h.protocol.resetCalls()
	return h.conversation(id)
}

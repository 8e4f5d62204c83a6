package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"NeoLink-Agent/internal/capability"
	xerrors "NeoLink-Agent/internal/errors"
	"NeoLink-Agent/internal/intent"
	"NeoLink-Agent/internal/journal"
	"NeoLink-Agent/internal/llm"
	"NeoLink-Agent/internal/session"
)

type stubProducer struct {
	mu    sync.Mutex
	turns []journal.Turn
}

func (p *stubProducer) Publish(_ context.Context, turn journal.Turn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turn)
	return nil
}

func (p *stubProducer) Close() error { return nil }

type stubMetrics struct {
	mu       sync.Mutex
	intents  []string
	codes    []string
	sessions int
}

func (m *stubMetrics) ObserveIntent(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents = append(m.intents, kind)
}

func (m *stubMetrics) ObserveErrorCode(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code != "" {
		m.codes = append(m.codes, code)
	}
}

func (m *stubMetrics) SetSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = n
}

type harness struct {
	agent    *Agent
	store    *session.MemoryStore
	static   *capability.Static
	counts   *countingProviders
	llm      *recordingLLM
	producer *stubProducer
	journal  *journal.Journal
	metrics  *stubMetrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    session.NewMemoryStore(),
		static:   capability.NewStatic(),
		counts:   &countingProviders{},
		llm:      &recordingLLM{reply: "DeFi is decentralized finance 🏦"},
		producer: &stubProducer{},
		metrics:  &stubMetrics{},
	}
	classifier := intent.NewClassifier(intent.DefaultTables())
	dispatcher := NewDispatcher(h.counts.wrap(h.static), NewFallback(h.llm, nil), WithNativeSymbol(classifier.NativeSymbol()))
	h.journal = journal.New(h.producer)
	t.Cleanup(func() { _ = h.journal.Close() })
	h.agent = New(h.store, classifier, dispatcher,
		WithJournal(h.journal),
		WithMetrics(h.metrics),
	)
	return h
}

func (h *harness) session(t *testing.T, user string) session.Session {
	t.Helper()
	s, err := h.store.Get(context.Background(), user)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

func TestScenarioWalletRegistration(t *testing.T) {
	h := newHarness(t)
	reply := h.agent.HandleMessage(context.Background(), "+15550001", wallet)

	if reply.Intent != intent.KindWalletRegister || reply.Failed() || !strings.Contains(reply.Text, "saved") {
		t.Fatalf("unexpected reply %+v", reply)
	}
	s := h.session(t, "+15550001")
	if s.WalletAddress != wallet || s.LastIntent != string(intent.KindWalletRegister) || s.LastSeenAt.IsZero() {
		t.Fatalf("session not updated: %+v", s)
	}

	again := h.agent.HandleMessage(context.Background(), "+15550001", wallet)
	if again.Text != reply.Text || h.session(t, "+15550001").WalletAddress != wallet {
		t.Fatalf("registration should be idempotent: %+v", again)
	}
}

func TestUppercasePrefixWalletIsStored(t *testing.T) {
	h := newHarness(t)
	reply := h.agent.HandleMessage(context.Background(), "u", "0X742D35CC6634C0532925A3B8D4C9DB96C4B4D8E8")
	if reply.ErrorCode != "" || reply.Intent != intent.KindWalletRegister {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if s := h.session(t, "u"); s.WalletAddress != "0x742D35CC6634C0532925A3B8D4C9DB96C4B4D8E8" {
		t.Fatalf("wallet should be stored with a 0x prefix: %q", s.WalletAddress)
	}
}

func TestAmbiguousFallbackUpdatesLastIntent(t *testing.T) {
	h := newHarness(t)
	h.agent.HandleMessage(context.Background(), "u", "eth price")

	reply := h.agent.HandleMessage(context.Background(), "u", "what's the price of pepe coin")
	if reply.ErrorCode != CodeClassificationAmbiguous || reply.Text != h.llm.reply {
		t.Fatalf("expected ambiguous fallback reply, got %+v", reply)
	}
	if reply.Failed() {
		t.Fatal("an answered ambiguous question is not a failure")
	}
	if s := h.session(t, "u"); s.LastIntent != string(intent.KindUnclassified) {
		t.Fatalf("ambiguous turn should become the last intent: %+v", s)
	}
}

func TestScenarioBitcoinPrice(t *testing.T) {
	h := newHarness(t)
	reply := h.agent.HandleMessage(context.Background(), "+15550001", "bitcoin price")
	if reply.Intent != intent.KindPriceQuery || !strings.Contains(reply.Text, "67000") || !strings.Contains(reply.Text, "USD") {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if s := h.session(t, "+15550001"); s.LastSymbol != "BTC" {
		t.Fatalf("last symbol not recorded: %+v", s)
	}
}

func TestScenarioBalanceWithoutWallet(t *testing.T) {
	h := newHarness(t)
	reply := h.agent.HandleMessage(context.Background(), "+15550001", "what's my balance")
	if reply.Intent != intent.KindBalanceQuery || reply.ErrorCode != CodePreconditionUnmet {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if !strings.Contains(reply.Text, "wallet address") {
		t.Fatalf("reply should ask for a wallet: %q", reply.Text)
	}
	if h.counts.total() != 0 {
		t.Fatalf("no provider may be called, got %d calls", h.counts.total())
	}
	if s := h.session(t, "+15550001"); s.LastIntent != "" {
		t.Fatalf("failed dispatch must not become the last intent: %+v", s)
	}
}

func TestScenarioDeFiQuestionUsesFallback(t *testing.T) {
	h := newHarness(t)
	h.agent.HandleMessage(context.Background(), "+15550001", wallet)

	reply := h.agent.HandleMessage(context.Background(), "+15550001", "what is DeFi?")
	if reply.Intent != intent.KindUnclassified || reply.Text != h.llm.reply {
		t.Fatalf("unexpected reply %+v", reply)
	}
	prompt := h.llm.req.Prompt()
	for _, want := range []string{"what is DeFi?", "wallet: registered (0x742d…d8e8)", "last intent: wallet_register"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestRegisterThenBalance(t *testing.T) {
	h := newHarness(t)
	h.static.Balances[strings.ToLower(wallet)] = map[string]float64{"USDC": 250}

	h.agent.HandleMessage(context.Background(), "+15550001", wallet)
	reply := h.agent.HandleMessage(context.Background(), "+15550001", "usdc balance")
	if reply.Failed() || !strings.Contains(reply.Text, "250 USDC") {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestFollowUpRepeatsLastQuery(t *testing.T) {
	h := newHarness(t)
	h.agent.HandleMessage(context.Background(), "u", "eth price")
	reply := h.agent.HandleMessage(context.Background(), "u", "yes")
	if reply.Intent != intent.KindPriceQuery || !strings.Contains(reply.Text, "ETH price: 3200") {
		t.Fatalf("follow-up should repeat the ETH price: %+v", reply)
	}
}

func TestJournalAndMetricsPerTurn(t *testing.T) {
	h := newHarness(t)
	h.agent.HandleMessage(context.Background(), "alice", "gas fees")
	h.agent.HandleMessage(context.Background(), "bob", "my balance")
	h.journal.Flush()

	if len(h.producer.turns) != 2 {
		t.Fatalf("expected two journal turns, got %d", len(h.producer.turns))
	}
	first := h.producer.turns[0]
	if first.UserID != "alice" || first.Intent != "gas_query" || first.Text != "gas fees" || first.ErrorCode != "" {
		t.Fatalf("unexpected turn %+v", first)
	}
	if h.producer.turns[1].ErrorCode != string(CodePreconditionUnmet) {
		t.Fatalf("error code not journaled: %+v", h.producer.turns[1])
	}
	if fmt.Sprint(h.metrics.intents) != "[gas_query balance_query]" || h.metrics.sessions != 2 {
		t.Fatalf("unexpected metrics %+v", h.metrics)
	}
	if len(h.metrics.codes) != 1 || h.metrics.codes[0] != string(CodePreconditionUnmet) {
		t.Fatalf("unexpected error codes %v", h.metrics.codes)
	}
}

func TestEmptySenderStillGetsReply(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))(h.agent)

	reply := h.agent.HandleMessage(context.Background(), "  ", "hi")
	if reply.ErrorCode != xerrors.CodeInvalidArgument || reply.Text == "" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	h.journal.Flush()
	if len(h.producer.turns) != 0 {
		t.Fatalf("anonymous turns should not be journaled")
	}
	// 发送者缺失属于用户侧问题，不应以 WARN 级别刷屏。
	if out := buf.String(); !strings.Contains(out, "level=INFO msg=获取会话失败") || !strings.Contains(out, "severity=info") {
		t.Fatalf("unexpected log output:\n%s", out)
	}
}

func TestStoreFailureLogsWarningForInternalErrors(t *testing.T) {
	var buf bytes.Buffer
	a := New(nil, nil, nil, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	reply := a.storeFailure(context.Background(), xerrors.New(xerrors.CodeStorageFailure, "redis down"))
	if reply.ErrorCode != xerrors.CodeStorageFailure || reply.Text == "" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Fatalf("internal failures should log at WARN:\n%s", buf.String())
	}
}

type panickingConverser struct{}

func (panickingConverser) Converse(context.Context, string, session.Session) (string, error) {
	panic("boom")
}

func TestDispatchPanicBecomesReply(t *testing.T) {
	store := session.NewMemoryStore()
	classifier := intent.NewClassifier(intent.DefaultTables())
	a := New(store, classifier, NewDispatcher(capability.Providers{}, panickingConverser{}))

	reply := a.HandleMessage(context.Background(), "u", "tell me something")
	if reply.ErrorCode != xerrors.CodeUnknown || reply.Text == "" || reply.Intent != intent.KindUnclassified {
		t.Fatalf("unexpected reply %+v", reply)
	}
	// 其他消息不受影响。
	if next := a.HandleMessage(context.Background(), "u", "hi"); next.Failed() {
		t.Fatalf("session should still be usable: %+v", next)
	}
}

func TestLockTimeoutProducesReply(t *testing.T) {
	store := session.NewMemoryStore()
	classifier := intent.NewClassifier(intent.DefaultTables())
	release := make(chan struct{})
	entered := make(chan struct{})
	slow := capability.Providers{Gas: capability.GasFunc(func(context.Context) capability.Result {
		close(entered)
		<-release
		return capability.Ok(1, "gwei", time.Now())
	}), Timeout: 5 * time.Second}
	a := New(store, classifier, NewDispatcher(slow, nil))

	go a.HandleMessage(context.Background(), "u", "gas")
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	reply := a.HandleMessage(ctx, "u", "gas")
	close(release)
	if reply.ErrorCode != xerrors.CodeTimeout || !strings.Contains(reply.Text, "previous message") {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestSameUserTurnsAreSerialized(t *testing.T) {
	var inflight, peak atomic.Int32
	providers := capability.Providers{Price: capability.PriceFunc(func(context.Context, string) capability.Result {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inflight.Add(-1)
		return capability.Ok(1, "USD", time.Now())
	}), Timeout: 5 * time.Second}
	a := New(session.NewMemoryStore(), intent.NewClassifier(intent.DefaultTables()), NewDispatcher(providers, nil))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.HandleMessage(context.Background(), "same-user", "eth price")
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Fatalf("at most one dispatch per user may run at a time, saw %d", peak.Load())
	}
}

func TestDifferentUsersDoNotBlockEachOther(t *testing.T) {
	var arrived atomic.Int32
	both := make(chan struct{})
	providers := capability.Providers{Gas: capability.GasFunc(func(context.Context) capability.Result {
		if arrived.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return capability.Ok(1, "gwei", time.Now())
		case <-time.After(2 * time.Second):
			return capability.Failed(capability.ReasonTimeout, errors.New("peer never arrived"))
		}
	}), Timeout: 5 * time.Second}
	a := New(session.NewMemoryStore(), intent.NewClassifier(intent.DefaultTables()), NewDispatcher(providers, nil))

	var wg sync.WaitGroup
	replies := make([]Reply, 2)
	for i, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			replies[i] = a.HandleMessage(context.Background(), user, "gas")
		}(i, user)
	}
	wg.Wait()
	for _, reply := range replies {
		if reply.Failed() {
			t.Fatalf("users blocked each other: %+v", reply)
		}
	}
}

func TestConcurrentWalletWritesKeepOneValue(t *testing.T) {
	h := newHarness(t)
	addresses := []string{
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
		"0x3333333333333333333333333333333333333333",
	}
	var wg sync.WaitGroup
	for _, addr := range addresses {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			h.agent.HandleMessage(context.Background(), "u", addr)
		}(addr)
	}
	wg.Wait()

	final := h.session(t, "u").WalletAddress
	found := false
	for _, addr := range addresses {
		if final == addr {
			found = true
		}
	}
	if !found {
		t.Fatalf("final wallet %q is not one of the submitted addresses", final)
	}
}

func TestOfflineEchoFallback(t *testing.T) {
	classifier := intent.NewClassifier(intent.DefaultTables())
	a := New(session.NewMemoryStore(), classifier, NewDispatcher(capability.Providers{}, NewFallback(llm.StaticClient{}, nil)))
	reply := a.HandleMessage(context.Background(), "u", "explain impermanent loss")
	if reply.Failed() || !strings.Contains(reply.Text, "explain impermanent loss") {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

package agent

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"NeoLink-Agent/internal/capability"
	"NeoLink-Agent/internal/intent"
	"NeoLink-Agent/internal/session"
)

const wallet = "0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8e8"

type stubConverser struct {
	reply string
	err   error
	calls int
	last  session.Session
	text  string
}

func (s *stubConverser) Converse(_ context.Context, text string, sess session.Session) (string, error) {
	s.calls++
	s.text, s.last = text, sess
	return s.reply, s.err
}

// countingProviders 记录每类数据源被调用的次数。
type countingProviders struct {
	price, gas, balance atomic.Int64
}

func (c *countingProviders) wrap(static *capability.Static) capability.Providers {
	return capability.Providers{
		Price: capability.PriceFunc(func(ctx context.Context, symbol string) capability.Result {
			c.price.Add(1)
			return static.Price(ctx, symbol)
		}),
		Gas: capability.GasFunc(func(ctx context.Context) capability.Result {
			c.gas.Add(1)
			return static.Gas(ctx)
		}),
		Balance: capability.BalanceFunc(func(ctx context.Context, address, symbol string) capability.Result {
			c.balance.Add(1)
			return static.Balance(ctx, address, symbol)
		}),
		Timeout: time.Second,
	}
}

func (c *countingProviders) total() int64 {
	return c.price.Load() + c.gas.Load() + c.balance.Load()
}

func TestDispatcherHandlesEveryIntentKind(t *testing.T) {
	d := NewDispatcher(capability.Providers{}, nil)
	if got, want := d.HandledKinds(), intent.Kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("handled kinds %v, classifier kinds %v", got, want)
	}
}

func TestWalletRegisterStoresAddress(t *testing.T) {
	d := NewDispatcher(capability.Providers{}, nil)
	s := &session.Session{UserID: "u1"}

	first := d.Dispatch(context.Background(), intent.WalletRegister(wallet), s, wallet)
	if first.Failed() || s.WalletAddress != wallet {
		t.Fatalf("unexpected reply %+v session %+v", first, s)
	}
	if !strings.Contains(first.Text, common.HexToAddress(wallet).Hex()) {
		t.Fatalf("reply should show the checksummed address: %q", first.Text)
	}

	second := d.Dispatch(context.Background(), intent.WalletRegister(wallet), s, wallet)
	if second.Text != first.Text || s.WalletAddress != wallet {
		t.Fatalf("second registration should be idempotent: %+v", second)
	}
}

func TestWalletRegisterRejectsMalformedAddress(t *testing.T) {
	d := NewDispatcher(capability.Providers{}, nil)
	s := &session.Session{UserID: "u1", WalletAddress: wallet}

	reply := d.Dispatch(context.Background(), intent.WalletRegister("0x1234abcd"), s, "0x1234abcd")
	if reply.ErrorCode != CodeValidation || reply.Intent != intent.KindWalletRegister {
		t.Fatalf("expected validation error, got %+v", reply)
	}
	if s.WalletAddress != wallet {
		t.Fatalf("invalid address must not overwrite the wallet: %q", s.WalletAddress)
	}
}

func TestWalletRegisterStoresCanonicalPrefix(t *testing.T) {
	d := NewDispatcher(capability.Providers{}, nil)
	s := &session.Session{UserID: "u1"}
	upper := "0X" + wallet[2:]

	reply := d.Dispatch(context.Background(), intent.WalletRegister(upper), s, upper)
	if reply.Failed() || s.WalletAddress != wallet {
		t.Fatalf("uppercase prefix should be stored as %q: reply=%+v wallet=%q", wallet, reply, s.WalletAddress)
	}
}

func TestPriceReplyFormatsValueAndChange(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	providers := capability.Providers{Price: capability.PriceFunc(func(_ context.Context, symbol string) capability.Result {
		if symbol != "BTC" {
			t.Errorf("unexpected symbol %s", symbol)
		}
		return capability.Ok(67000, "USD", at).WithChange24h(-0.6)
	})}
	reply := NewDispatcher(providers, nil).Dispatch(context.Background(), intent.PriceQuery("BTC"), &session.Session{}, "bitcoin price")

	for _, want := range []string{"67000", "USD", "-0.60%", "10:00 UTC"} {
		if !strings.Contains(reply.Text, want) {
			t.Errorf("reply %q missing %q", reply.Text, want)
		}
	}
}

func TestPriceFailureHidesCause(t *testing.T) {
	providers := capability.Providers{Price: capability.PriceFunc(func(context.Context, string) capability.Result {
		return capability.Failed(capability.ReasonTimeout, errors.New("dial tcp 10.0.0.1:443: i/o timeout"))
	})}
	reply := NewDispatcher(providers, nil).Dispatch(context.Background(), intent.PriceQuery("ETH"), &session.Session{}, "eth price")
	if reply.ErrorCode != CodeProviderUnavailable || !strings.Contains(reply.Text, "ETH") {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if strings.Contains(reply.Text, "dial tcp") {
		t.Fatalf("raw error leaked: %q", reply.Text)
	}
}

func TestGasReplies(t *testing.T) {
	counts := &countingProviders{}
	static := capability.NewStatic()
	d := NewDispatcher(counts.wrap(static), nil)

	reply := d.Dispatch(context.Background(), intent.GasQuery(), &session.Session{}, "gas")
	for _, want := range []string{"Low: 12", "Medium: 15", "High: 24", "gwei"} {
		if !strings.Contains(reply.Text, want) {
			t.Errorf("reply %q missing %q", reply.Text, want)
		}
	}

	single := capability.Providers{Gas: capability.GasFunc(func(context.Context) capability.Result {
		return capability.Ok(15.5, "gwei", time.Now())
	})}
	reply = NewDispatcher(single, nil).Dispatch(context.Background(), intent.GasQuery(), &session.Session{}, "gas")
	if !strings.Contains(reply.Text, "15.5 gwei") {
		t.Fatalf("unexpected single estimate %q", reply.Text)
	}

	reply = NewDispatcher(capability.Providers{}, nil).Dispatch(context.Background(), intent.GasQuery(), &session.Session{}, "gas")
	if reply.ErrorCode != CodeProviderUnavailable {
		t.Fatalf("missing provider should be unavailable: %+v", reply)
	}
}

func TestBalanceWithoutWalletNeverCallsProviders(t *testing.T) {
	counts := &countingProviders{}
	d := NewDispatcher(counts.wrap(capability.NewStatic()), nil)

	for _, symbol := range []string{"", "ETH", "USDC"} {
		s := &session.Session{UserID: "u1"}
		reply := d.Dispatch(context.Background(), intent.BalanceQuery(symbol), s, "what's my balance")
		if reply.ErrorCode != CodePreconditionUnmet || !strings.Contains(reply.Text, "wallet address") {
			t.Fatalf("unexpected reply %+v", reply)
		}
	}
	if counts.total() != 0 {
		t.Fatalf("providers called %d times", counts.total())
	}
}

func TestBalanceWithWalletAddsFiatValue(t *testing.T) {
	static := capability.NewStatic()
	static.Balances[strings.ToLower(wallet)] = map[string]float64{"ETH": 2, "USDC": 12.5}
	counts := &countingProviders{}
	d := NewDispatcher(counts.wrap(static), nil, WithNativeSymbol("eth"))
	s := &session.Session{UserID: "u1", WalletAddress: wallet}

	reply := d.Dispatch(context.Background(), intent.BalanceQuery(""), s, "my balance")
	if reply.Failed() || !strings.Contains(reply.Text, "2 ETH") || !strings.Contains(reply.Text, "≈ 6400 USD") {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if !strings.Contains(reply.Text, "0x742d…d8e8") {
		t.Fatalf("wallet should be masked: %q", reply.Text)
	}
	if counts.balance.Load() != 1 || counts.price.Load() != 1 {
		t.Fatalf("expected one balance and one price call, got %d/%d", counts.balance.Load(), counts.price.Load())
	}
}

func TestBalancePriceFailureKeepsBalance(t *testing.T) {
	providers := capability.Providers{
		Balance: capability.BalanceFunc(func(context.Context, string, string) capability.Result {
			return capability.Ok(3, "DAI", time.Now())
		}),
		Price: capability.PriceFunc(func(context.Context, string) capability.Result {
			return capability.Failed(capability.ReasonRateLimited, nil)
		}),
	}
	s := &session.Session{WalletAddress: wallet}
	reply := NewDispatcher(providers, nil).Dispatch(context.Background(), intent.BalanceQuery("DAI"), s, "dai balance")
	if reply.Failed() || !strings.Contains(reply.Text, "3 DAI") || strings.Contains(reply.Text, "≈") {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestBalanceUnsupportedToken(t *testing.T) {
	providers := capability.Providers{Balance: capability.BalanceFunc(func(context.Context, string, string) capability.Result {
		return capability.Failed(capability.ReasonNotFound, errors.New("no contract"))
	})}
	s := &session.Session{WalletAddress: wallet}
	reply := NewDispatcher(providers, nil).Dispatch(context.Background(), intent.BalanceQuery("BTC"), s, "btc balance")
	if reply.ErrorCode != CodeProviderUnavailable || !strings.Contains(reply.Text, "BTC") {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestGreetingShowsWalletStatus(t *testing.T) {
	d := NewDispatcher(capability.Providers{}, nil)

	reply := d.Dispatch(context.Background(), intent.Greeting(), &session.Session{}, "hi")
	if !strings.Contains(reply.Text, "Send your wallet address") {
		t.Fatalf("unexpected greeting %q", reply.Text)
	}
	if !reflect.DeepEqual(reply.QuickReplies, QuickReplies) {
		t.Fatalf("unexpected quick replies %v", reply.QuickReplies)
	}
	reply.QuickReplies[0] = "mutated"
	if QuickReplies[0] != "ETH price" {
		t.Fatal("quick replies must be copied")
	}

	reply = d.Dispatch(context.Background(), intent.Greeting(), &session.Session{WalletAddress: wallet}, "hello")
	if !strings.Contains(reply.Text, "Wallet linked: 0x742d…d8e8") {
		t.Fatalf("unexpected greeting %q", reply.Text)
	}
}

func TestUnclassifiedDelegatesToFallback(t *testing.T) {
	conv := &stubConverser{reply: "DeFi is finance without banks 🏦"}
	d := NewDispatcher(capability.Providers{}, conv)
	s := &session.Session{UserID: "u1", LastIntent: "gas_query"}

	reply := d.Dispatch(context.Background(), intent.Unclassified(), s, "what is DeFi?")
	if reply.Text != conv.reply || reply.Failed() || reply.Intent != intent.KindUnclassified {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if conv.text != "what is DeFi?" || conv.last.LastIntent != "gas_query" {
		t.Fatalf("fallback got text %q session %+v", conv.text, conv.last)
	}

	ambiguous := intent.Unclassified()
	ambiguous.Ambiguous = true
	if reply := d.Dispatch(context.Background(), ambiguous, s, "price of shib"); reply.ErrorCode != CodeClassificationAmbiguous || reply.Text != conv.reply {
		t.Fatalf("ambiguous classification should still answer: %+v", reply)
	}
}

func TestFallbackFailureIsGeneric(t *testing.T) {
	conv := &stubConverser{err: errors.New("openai: 500 internal error")}
	reply := NewDispatcher(capability.Providers{}, conv).Dispatch(context.Background(), intent.Unclassified(), &session.Session{}, "hmm")
	if reply.ErrorCode != CodeFallbackUnavailable || strings.Contains(reply.Text, "500") {
		t.Fatalf("unexpected reply %+v", reply)
	}

	reply = NewDispatcher(capability.Providers{}, nil).Dispatch(context.Background(), intent.Unclassified(), &session.Session{}, "hmm")
	if reply.ErrorCode != CodeFallbackUnavailable {
		t.Fatalf("nil fallback should be unavailable: %+v", reply)
	}
}

func TestUnknownKindFallsBackToConversation(t *testing.T) {
	conv := &stubConverser{reply: "ok"}
	reply := NewDispatcher(capability.Providers{}, conv).Dispatch(context.Background(), intent.Intent{Kind: "swap"}, &session.Session{}, "swap")
	if reply.Intent != intent.KindUnclassified || conv.calls != 1 {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestFormatAmount(t *testing.T) {
	cases := map[float64]string{
		67000:    "67000",
		3200.5:   "3200.5",
		0.000123: "0.000123",
		1.999:    "2",
		0:        "0",
		-12.25:   "-12.25",
	}
	for in, want := range cases {
		if got := formatAmount(in); got != want {
			t.Errorf("formatAmount(%v) = %q, want %q", in, got, want)
		}
	}
}

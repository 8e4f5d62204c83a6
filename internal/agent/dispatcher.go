package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"NeoLink-Agent/internal/capability"
	"NeoLink-Agent/internal/intent"
	"NeoLink-Agent/internal/session"
	"NeoLink-Agent/pkg/logger"
)

// Converser 是对话兜底的能力，不允许修改会话。
type Converser interface {
	Converse(ctx context.Context, text string, s session.Session) (string, error)
}

// QuickReplies 是问候回复附带的快捷指令。
var QuickReplies = []string{"ETH price", "gas fees", "my balance"}

type handlerFunc func(ctx context.Context, in intent.Intent, s *session.Session, text string) Reply

// Dispatcher 为每个意图执行唯一的处理分支。
type Dispatcher struct {
	providers capability.Providers
	fallback  Converser
	native    string
	logger    *slog.Logger
}

// DispatcherOption 定义可选配置。
type DispatcherOption func(*Dispatcher)

// WithNativeSymbol 设置余额查询默认使用的原生资产。
func WithNativeSymbol(symbol string) DispatcherOption {
	return func(d *Dispatcher) {
		if symbol = strings.ToUpper(strings.TrimSpace(symbol)); symbol != "" {
			d.native = symbol
		}
	}
}

// WithDispatcherLogger 指定日志输出。
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// NewDispatcher 创建调度器。fallback 为空时未分类消息返回兜底失败回复。
func NewDispatcher(providers capability.Providers, fallback Converser, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{providers: providers, fallback: fallback, native: "ETH"}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.logger == nil {
		d.logger = logger.Named("dispatcher")
	}
	return d
}

// HandledKinds 返回调度器拥有处理分支的意图。
func (d *Dispatcher) HandledKinds() []intent.Kind {
	var kinds []intent.Kind
	for _, kind := range intent.Kinds() {
		if d.route(kind) != nil {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func (d *Dispatcher) route(kind intent.Kind) handlerFunc {
	switch kind {
	case intent.KindWalletRegister:
		return d.registerWallet
	case intent.KindPriceQuery:
		return d.price
	case intent.KindGasQuery:
		return d.gas
	case intent.KindBalanceQuery:
		return d.balance
	case intent.KindGreeting:
		return d.greeting
	case intent.KindUnclassified:
		return d.converse
	}
	return nil
}

// Dispatch 执行意图对应的分支并生成回复。除 WalletAddress 外不修改会话。
func (d *Dispatcher) Dispatch(ctx context.Context, in intent.Intent, s *session.Session, text string) Reply {
	handle := d.route(in.Kind)
	if handle == nil {
		d.logger.Error("未知意图，按未分类处理", slog.String("intent", string(in.Kind)))
		in = intent.Unclassified()
		handle = d.converse
	}
	reply := handle(ctx, in, s, text)
	reply.Intent = in.Kind
	return reply
}

func (d *Dispatcher) registerWallet(_ context.Context, in intent.Intent, s *session.Session, _ string) Reply {
	address := intent.CanonicalAddress(strings.TrimSpace(in.Address))
	if !intent.IsWalletAddress(address) {
		return failure(CodeValidation,
			"❌ Invalid wallet address format. Please send a valid Ethereum address: 0x followed by 40 hex characters.")
	}
	if s.WalletAddress != address {
		s.WalletAddress = address
		logger.Audit().Info("钱包地址已登记",
			slog.String("user", s.UserID),
			slog.String("wallet", session.MaskAddress(address)),
		)
	}
	checksummed := common.HexToAddress(address).Hex()
	return Reply{Text: fmt.Sprintf("✅ Wallet address saved: %s\n\nYou can now ask for your balance, e.g. \"my ETH balance\" or \"USDC balance\".", checksummed)}
}

func (d *Dispatcher) price(ctx context.Context, in intent.Intent, _ *session.Session, _ string) Reply {
	symbol := in.Symbol
	res := d.providers.FetchPrice(ctx, symbol)
	if !res.OK() {
		d.logFailure("price", symbol, res)
		return failure(CodeProviderUnavailable,
			fmt.Sprintf("⚠️ Sorry, I couldn't get the %s price right now. Please try again in a moment.", symbol))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "💰 %s price: %s %s", symbol, formatAmount(res.Value), res.Unit)
	if res.Change24h != nil {
		b.WriteString("\n" + formatChange(*res.Change24h))
	}
	if !res.SourceTime.IsZero() {
		fmt.Fprintf(&b, "\n🕒 as of %s UTC", res.SourceTime.UTC().Format("15:04"))
	}
	return Reply{Text: b.String()}
}

func (d *Dispatcher) gas(ctx context.Context, _ intent.Intent, _ *session.Session, _ string) Reply {
	res := d.providers.FetchGas(ctx)
	if !res.OK() {
		d.logFailure("gas", "", res)
		return failure(CodeProviderUnavailable, "⚠️ Sorry, I couldn't get current gas fees right now. Please try again in a moment.")
	}
	if res.Tiers != nil {
		return Reply{Text: fmt.Sprintf("⛽ Network fees (%s)\n• Low: %s\n• Medium: %s\n• High: %s",
			res.Unit, formatAmount(res.Tiers.Low), formatAmount(res.Tiers.Medium), formatAmount(res.Tiers.High))}
	}
	return Reply{Text: fmt.Sprintf("⛽ Current gas price: %s %s", formatAmount(res.Value), res.Unit)}
}

func (d *Dispatcher) balance(ctx context.Context, in intent.Intent, s *session.Session, _ string) Reply {
	if !s.HasWallet() {
		return failure(CodePreconditionUnmet,
			"🔐 I don't have your wallet address yet. Send me your Ethereum address (starts with 0x) and then ask again.")
	}
	symbol := in.Symbol
	if symbol == "" {
		symbol = d.native
	}
	res := d.providers.FetchBalance(ctx, s.WalletAddress, symbol)
	if !res.OK() {
		d.logFailure("balance", symbol, res)
		if res.Reason == capability.ReasonNotFound {
			return failure(CodeProviderUnavailable, fmt.Sprintf("⚠️ I can't check %s balances yet.", symbol))
		}
		return failure(CodeProviderUnavailable,
			fmt.Sprintf("⚠️ Sorry, I couldn't check your %s balance right now. Please try again in a moment.", symbol))
	}

	text := fmt.Sprintf("💰 Balance for %s: %s %s", s.MaskedWallet(), formatAmount(res.Value), res.Unit)
	if d.providers.Price != nil && res.Value > 0 {
		// 估值失败不影响余额回复。
		if quote := d.providers.FetchPrice(ctx, symbol); quote.OK() {
			text += fmt.Sprintf(" (≈ %s %s)", formatAmount(res.Value*quote.Value), quote.Unit)
		}
	}
	return Reply{Text: text}
}

func (d *Dispatcher) greeting(_ context.Context, _ intent.Intent, s *session.Session, _ string) Reply {
	var b strings.Builder
	b.WriteString("👋 Hi! I'm NeoLink, your DeFi assistant.\n\nI can help with:\n")
	b.WriteString("• Prices: \"ETH price\"\n")
	b.WriteString("• Gas fees: \"gas fees\"\n")
	b.WriteString("• Balances: \"my balance\"\n")
	b.WriteString("• DeFi questions: \"what is DeFi?\"\n\n")
	if s.HasWallet() {
		fmt.Fprintf(&b, "✅ Wallet linked: %s", s.MaskedWallet())
	} else {
		b.WriteString("🔗 Send your wallet address (0x…) to check balances.")
	}
	return Reply{Text: b.String(), QuickReplies: append([]string(nil), QuickReplies...)}
}

func (d *Dispatcher) converse(ctx context.Context, in intent.Intent, s *session.Session, text string) Reply {
	if in.Ambiguous {
		d.logger.Debug("无法确定查询的资产，交给对话兜底", slog.String("error_code", string(CodeClassificationAmbiguous)))
	}
	if d.fallback == nil {
		return failure(CodeFallbackUnavailable, fallbackApology)
	}
	answer, err := d.fallback.Converse(ctx, text, *s)
	if err != nil {
		d.logger.Warn("对话兜底失败", slog.Any("error", err), slog.String("user", s.UserID))
		return failure(CodeFallbackUnavailable, fallbackApology)
	}
	reply := Reply{Text: answer}
	if in.Ambiguous {
		reply.ErrorCode = CodeClassificationAmbiguous
	}
	return reply
}

const fallbackApology = "🤖 Sorry, I couldn't answer that right now. Please try again, or type 'help' to see what I can do."

func (d *Dispatcher) logFailure(capabilityName, symbol string, res capability.Result) {
	d.logger.Warn("数据源调用失败",
		slog.String("capability", capabilityName),
		slog.String("symbol", symbol),
		slog.String("reason", string(res.Reason)),
		slog.Any("error", res.Err),
	)
}

package intent

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"NeoLink-Agent/internal/session"
)

var (
	walletPattern = regexp.MustCompile(`^0[xX][0-9a-fA-F]{40}$`)
	// 形似地址但长度不正确的十六进制候选，交由调度器返回格式提示。
	looseWalletPattern = regexp.MustCompile(`^0[xX][0-9a-fA-F]{8,}$`)
)

// IsWalletAddress 判断字符串是否为 0x 前缀加 40 位十六进制的地址，前缀不区分大小写。
func IsWalletAddress(s string) bool {
	return walletPattern.MatchString(s)
}

// CanonicalAddress 把 0X 前缀统一为 0x，其余字符保持原样。
func CanonicalAddress(s string) string {
	if strings.HasPrefix(s, "0X") {
		return "0x" + s[2:]
	}
	return s
}

type alias struct {
	name   string
	symbol string
}

// Classifier 将消息文本映射为唯一的意图。构造后只读，可并发使用。
type Classifier struct {
	native   string
	aliases  []alias
	price    []string
	gas      []string
	balance  []string
	greeting map[string]struct{}
	followUp map[string]struct{}
}

// NewClassifier 根据关键字表构造分类器。
func NewClassifier(t Tables) *Classifier {
	t = t.normalize()
	c := &Classifier{
		native:   t.NativeSymbol,
		price:    t.PriceKeywords,
		gas:      t.GasKeywords,
		balance:  t.BalanceKeywords,
		greeting: toSet(t.GreetingWords),
		followUp: toSet(t.FollowUpWords),
	}
	if c.native == "" {
		c.native = DefaultTables().NativeSymbol
	}
	for name, symbol := range t.Aliases {
		c.aliases = append(c.aliases, alias{name: name, symbol: symbol})
	}
	// 长别名优先，长度相同时按字典序保证结果确定。
	sort.Slice(c.aliases, func(i, j int) bool {
		if len(c.aliases[i].name) != len(c.aliases[j].name) {
			return len(c.aliases[i].name) > len(c.aliases[j].name)
		}
		return c.aliases[i].name < c.aliases[j].name
	})
	return c
}

// NativeSymbol 返回原生资产代码。
func (c *Classifier) NativeSymbol() string {
	return c.native
}

// Classify 按固定优先级识别意图，对任意输入都返回且仅返回一个结果。
//
// 优先级：钱包地址、资产价格、Gas、余额、跟进回复、问候，其余均为未分类。
func (c *Classifier) Classify(text string, s session.Session) Intent {
	if addr, ok := findAddress(text); ok {
		return WalletRegister(addr)
	}

	norm := normalizeText(text)
	padded := " " + norm + " "

	symbol, hasAlias := c.findAlias(padded)
	hasPrice := containsAny(padded, c.price)
	if hasAlias && hasPrice {
		return PriceQuery(symbol)
	}
	if containsAny(padded, c.gas) {
		return GasQuery()
	}
	if containsAny(padded, c.balance) {
		if !hasAlias {
			symbol = c.native
		}
		return BalanceQuery(symbol)
	}
	if _, ok := c.followUp[norm]; ok {
		if follow, ok := c.repeat(s); ok {
			return follow
		}
	}
	if c.isGreeting(norm) {
		return Greeting()
	}
	out := Unclassified()
	out.Ambiguous = hasPrice && !hasAlias
	return out
}

func (c *Classifier) repeat(s session.Session) (Intent, bool) {
	symbol := s.LastSymbol
	if symbol == "" {
		symbol = c.native
	}
	switch Kind(s.LastIntent) {
	case KindPriceQuery:
		return PriceQuery(symbol), true
	case KindGasQuery:
		return GasQuery(), true
	case KindBalanceQuery:
		return BalanceQuery(symbol), true
	}
	return Intent{}, false
}

func (c *Classifier) isGreeting(norm string) bool {
	if len([]rune(norm)) <= 1 {
		return true
	}
	words := strings.Fields(norm)
	if len(words) > 3 {
		return false
	}
	for _, w := range words {
		if _, ok := c.greeting[w]; ok {
			return true
		}
	}
	return false
}

// findAlias 返回文本中最长的资产别名，长度相同时取最早出现者。
func (c *Classifier) findAlias(padded string) (string, bool) {
	best, bestAt := alias{}, -1
	for _, a := range c.aliases {
		if best.name != "" && len(a.name) < len(best.name) {
			break
		}
		at := strings.Index(padded, " "+a.name+" ")
		if at < 0 {
			continue
		}
		if bestAt < 0 || at < bestAt {
			best, bestAt = a, at
		}
	}
	return best.symbol, bestAt >= 0
}

// findAddress 先查找严格格式的地址，再查找形似地址的候选。
func findAddress(text string) (string, bool) {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(",;:!?()[]<>\"'`", r)
	})
	for i, tok := range tokens {
		tokens[i] = strings.TrimRight(tok, ".")
		if IsWalletAddress(tokens[i]) {
			return CanonicalAddress(tokens[i]), true
		}
	}
	for _, tok := range tokens {
		if looseWalletPattern.MatchString(tok) {
			return CanonicalAddress(tok), true
		}
	}
	return "", false
}

// normalizeText 小写化并把标点替换为空格，合并多余空白。
func normalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func containsAny(padded string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

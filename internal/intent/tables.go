package intent

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultTablesYAML []byte

// Tables 描述分类器使用的关键字与资产别名表。
type Tables struct {
	NativeSymbol    string            `yaml:"native_symbol"`
	Aliases         map[string]string `yaml:"aliases"`
	PriceKeywords   []string          `yaml:"price_keywords"`
	GasKeywords     []string          `yaml:"gas_keywords"`
	BalanceKeywords []string          `yaml:"balance_keywords"`
	GreetingWords   []string          `yaml:"greeting_words"`
	FollowUpWords   []string          `yaml:"follow_up_words"`
}

// DefaultTables 返回内置的关键字表。
func DefaultTables() Tables {
	var t Tables
	if err := yaml.Unmarshal(defaultTablesYAML, &t); err != nil {
		panic(fmt.Sprintf("intent: 内置关键字表无效: %v", err))
	}
	return t.normalize()
}

// LoadTables 从 YAML 文件读取关键字表，未出现的字段沿用内置默认值。
// 文件中的 aliases 会与默认别名合并，其余列表整体替换。
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("读取关键字表失败: %w", err)
	}
	t := DefaultTables()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tables{}, fmt.Errorf("解析关键字表失败: %w", err)
	}
	t = t.normalize()
	if err := t.Validate(); err != nil {
		return Tables{}, err
	}
	return t, nil
}

// Validate 检查关键字表是否可用。
func (t Tables) Validate() error {
	if strings.TrimSpace(t.NativeSymbol) == "" {
		return fmt.Errorf("native_symbol 不能为空")
	}
	if len(t.Aliases) == 0 {
		return fmt.Errorf("aliases 至少需要一个资产别名")
	}
	for alias, symbol := range t.Aliases {
		if alias == "" || symbol == "" {
			return fmt.Errorf("资产别名 %q -> %q 无效", alias, symbol)
		}
	}
	return nil
}

// Symbols 返回别名表覆盖的全部资产代码。
func (t Tables) Symbols() []string {
	seen := make(map[string]struct{}, len(t.Aliases))
	out := make([]string, 0, len(t.Aliases))
	for _, symbol := range t.Aliases {
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		out = append(out, symbol)
	}
	return out
}

func (t Tables) normalize() Tables {
	out := Tables{
		NativeSymbol:    strings.ToUpper(strings.TrimSpace(t.NativeSymbol)),
		Aliases:         make(map[string]string, len(t.Aliases)),
		PriceKeywords:   normalizeWords(t.PriceKeywords),
		GasKeywords:     normalizeWords(t.GasKeywords),
		BalanceKeywords: normalizeWords(t.BalanceKeywords),
		GreetingWords:   normalizeWords(t.GreetingWords),
		FollowUpWords:   normalizeWords(t.FollowUpWords),
	}
	for alias, symbol := range t.Aliases {
		alias = normalizeText(alias)
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if alias == "" || symbol == "" {
			continue
		}
		out.Aliases[alias] = symbol
	}
	return out
}

func normalizeWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = normalizeText(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

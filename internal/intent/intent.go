package intent

import "fmt"

// Kind 表示消息被识别出的意图类别。意图集合是封闭的。
type Kind string

const (
	KindPriceQuery     Kind = "price_query"
	KindGasQuery       Kind = "gas_query"
	KindBalanceQuery   Kind = "balance_query"
	KindWalletRegister Kind = "wallet_register"
	KindGreeting       Kind = "greeting"
	KindUnclassified   Kind = "unclassified"
)

// Kinds 返回全部意图类别，顺序与分类规则的优先级一致。
func Kinds() []Kind {
	return []Kind{
		KindWalletRegister,
		KindPriceQuery,
		KindGasQuery,
		KindBalanceQuery,
		KindGreeting,
		KindUnclassified,
	}
}

// Valid 判断类别是否属于封闭集合。
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Intent 是分类器的输出，生成后不再修改。
//
// Symbol 仅对价格和余额查询有效，Address 仅对钱包登记有效。
type Intent struct {
	Kind    Kind   `json:"kind"`
	Symbol  string `json:"symbol,omitempty"`
	Address string `json:"address,omitempty"`
	// Ambiguous 表示消息带有价格关键字却无法识别资产。
	Ambiguous bool `json:"ambiguous,omitempty"`
}

func PriceQuery(symbol string) Intent {
	return Intent{Kind: KindPriceQuery, Symbol: symbol}
}

func GasQuery() Intent {
	return Intent{Kind: KindGasQuery}
}

func BalanceQuery(symbol string) Intent {
	return Intent{Kind: KindBalanceQuery, Symbol: symbol}
}

func WalletRegister(address string) Intent {
	return Intent{Kind: KindWalletRegister, Address: address}
}

func Greeting() Intent {
	return Intent{Kind: KindGreeting}
}

func Unclassified() Intent {
	return Intent{Kind: KindUnclassified}
}

func (i Intent) String() string {
	switch i.Kind {
	case KindPriceQuery, KindBalanceQuery:
		return fmt.Sprintf("%s(%s)", i.Kind, i.Symbol)
	case KindWalletRegister:
		return fmt.Sprintf("%s(%s)", i.Kind, i.Address)
	default:
		return string(i.Kind)
	}
}

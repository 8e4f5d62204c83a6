package session

import (
	"context"
	"time"
)

// Session 保存单个用户在进程生命周期内的对话记忆。
type Session struct {
	UserID        string    `json:"user_id"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	LastIntent    string    `json:"last_intent,omitempty"`
	LastSymbol    string    `json:"last_symbol,omitempty"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasWallet 判断用户是否已经登记钱包地址。
func (s Session) HasWallet() bool {
	return s.WalletAddress != ""
}

// MaskedWallet 返回适合在回复和提示词中展示的缩略地址。
func (s Session) MaskedWallet() string {
	return MaskAddress(s.WalletAddress)
}

// MaskAddress 将地址缩略为 0x1234…abcd 形式。
func MaskAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}

// Store 定义会话存储的能力。
//
// WithSession 保证同一用户同一时刻只有一个 fn 在执行，不同用户互不阻塞。
// fn 操作的是会话副本，只有 fn 返回 nil 时修改才会生效。
type Store interface {
	Get(ctx context.Context, userID string) (Session, error)
	WithSession(ctx context.Context, userID string, fn func(*Session) error) error
	Len() int
}

package session

import (
	"context"
	"strings"
	"sync"
	"time"

	xerrors "NeoLink-Agent/internal/errors"
)

// MemoryStore 在进程内保存会话，进程重启后数据丢失。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// entry 持有单个用户的会话以及串行化令牌。
type entry struct {
	// turn 容量为 1，持有令牌即拥有该用户的独占访问权。
	turn chan struct{}

	mu      sync.RWMutex
	session Session
}

// Option 定义 MemoryStore 的可选配置。
type Option func(*MemoryStore)

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore(opts ...Option) *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Get 返回用户会话的快照，不存在时自动创建。
func (m *MemoryStore) Get(_ context.Context, userID string) (Session, error) {
	e, err := m.entryFor(userID)
	if err != nil {
		return Session{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session, nil
}

// WithSession 获取用户的独占访问权后执行 fn。
func (m *MemoryStore) WithSession(ctx context.Context, userID string, fn func(*Session) error) error {
	if fn == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话回调不能为空")
	}
	e, err := m.entryFor(userID)
	if err != nil {
		return err
	}

	select {
	case e.turn <- struct{}{}:
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待会话锁超时", xerrors.WithMetadata("user_id", userID))
	}
	defer func() { <-e.turn }()

	e.mu.RLock()
	working := e.session
	e.mu.RUnlock()

	if err := fn(&working); err != nil {
		return err
	}

	// 用户标识和创建时间不允许被回调修改。
	working.UserID = e.session.UserID
	working.CreatedAt = e.session.CreatedAt

	e.mu.Lock()
	e.session = working
	e.mu.Unlock()
	return nil
}

// Len 返回当前保存的会话数量。
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) entryFor(userID string) (*entry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "用户标识不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[userID]; ok {
		return e, nil
	}
	now := m.now()
	e := &entry{
		turn: make(chan struct{}, 1),
		session: Session{
			UserID:     userID,
			CreatedAt:  now,
			LastSeenAt: now,
		},
	}
	m.entries[userID] = e
	return e, nil
}

var _ Store = (*MemoryStore)(nil)

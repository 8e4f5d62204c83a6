package agent

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	xerrors "NeoLink-Agent/internal/errors"
	"NeoLink-Agent/internal/knowledge"
	"NeoLink-Agent/internal/llm"
	"NeoLink-Agent/internal/session"
)

const (
	// DefaultFallbackTimeout 是调用大模型的默认超时时间。
	DefaultFallbackTimeout = 15 * time.Second
	// DefaultMaxReplyRunes 是兜底回复的最大字符数，WhatsApp 单条消息上限为 1600。
	DefaultMaxReplyRunes = 1500
)

// DefaultPersona 是兜底对话的固定人设。
const DefaultPersona = `You are NeoLink, a helpful DeFi assistant for WhatsApp users.
You explain DeFi, blockchain and cryptocurrency concepts in plain language.
Keep answers concise (under 200 words) and friendly, and use a few emojis.
Never invent prices, balances or gas fees: tell the user to ask "ETH price", "gas fees" or "my balance" instead.
Always prioritize security and never ask for private keys or seed phrases.`

// Fallback 在无法识别意图时把消息交给大模型。
type Fallback struct {
	client    llm.Client
	knowledge knowledge.Provider
	timeout   time.Duration
	maxRunes  int
	maxTokens int
	persona   string
}

// FallbackOption 定义可选配置。
type FallbackOption func(*Fallback)

// WithFallbackTimeout 设置调用大模型的超时时间。
func WithFallbackTimeout(d time.Duration) FallbackOption {
	return func(f *Fallback) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMaxReplyRunes 设置回复的最大长度。
func WithMaxReplyRunes(n int) FallbackOption {
	return func(f *Fallback) {
		if n > 0 {
			f.maxRunes = n
		}
	}
}

// WithMaxTokens 设置生成的 token 上限。
func WithMaxTokens(n int) FallbackOption {
	return func(f *Fallback) {
		if n > 0 {
			f.maxTokens = n
		}
	}
}

// WithPersona 替换默认人设。
func WithPersona(persona string) FallbackOption {
	return func(f *Fallback) {
		if strings.TrimSpace(persona) != "" {
			f.persona = persona
		}
	}
}

// NewFallback 创建对话兜底适配器，knowledge 可以为空。
func NewFallback(client llm.Client, kb knowledge.Provider, opts ...FallbackOption) *Fallback {
	f := &Fallback{
		client:    client,
		knowledge: kb,
		timeout:   DefaultFallbackTimeout,
		maxRunes:  DefaultMaxReplyRunes,
		maxTokens: llm.DefaultMaxTokens,
		persona:   DefaultPersona,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// BuildRequest 组装提示词：人设、会话事实、相关知识和用户原文。
func (f *Fallback) BuildRequest(text string, s session.Session) llm.Request {
	wallet := "not registered"
	if s.HasWallet() {
		wallet = "registered (" + s.MaskedWallet() + ")"
	}
	lastIntent := s.LastIntent
	if lastIntent == "" {
		lastIntent = "none"
	}
	req := llm.Request{
		System: f.persona,
		Facts: []llm.Fact{
			{Key: "wallet", Value: wallet},
			{Key: "last intent", Value: lastIntent},
		},
		Text:      text,
		MaxTokens: f.maxTokens,
	}
	if f.knowledge != nil {
		for _, snippet := range f.knowledge.Query(text) {
			req.Knowledge = append(req.Knowledge, llm.KnowledgeCard{Title: snippet.Title, Content: snippet.Content})
		}
	}
	return req
}

// Converse 调用大模型并返回原文，超长时截断。
func (f *Fallback) Converse(ctx context.Context, text string, s session.Session) (string, error) {
	if f == nil || f.client == nil {
		return "", xerrors.New(CodeFallbackUnavailable, "未配置大模型客户端")
	}
	req := f.BuildRequest(text, s)

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type outcome struct {
		resp *llm.Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("大模型客户端发生 panic: %v", r)}
			}
		}()
		resp, err := f.client.Generate(callCtx, req)
		done <- outcome{resp: resp, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		return "", xerrors.Wrap(CodeFallbackUnavailable, callCtx.Err(), "调用大模型超时")
	}
	if out.err != nil {
		return "", xerrors.Wrap(CodeFallbackUnavailable, out.err, "调用大模型失败")
	}
	if out.resp == nil || strings.TrimSpace(out.resp.Reply) == "" {
		return "", xerrors.New(CodeFallbackUnavailable, "大模型返回空回复")
	}
	return truncateRunes(strings.TrimSpace(out.resp.Reply), f.maxRunes), nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}

var _ Converser = (*Fallback)(nil)

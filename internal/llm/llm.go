package llm

import (
	"context"
	"fmt"
	"strings"
)

// DefaultMaxTokens 是生成回复的默认 token 上限。
const DefaultMaxTokens = 300

// Fact 是注入提示词的一条会话事实。
type Fact struct {
	Key   string
	Value string
}

// KnowledgeCard 表示提供给大模型的知识切片，帮助生成更加准确的回复。
type KnowledgeCard struct {
	Title   string
	Content string
}

// Request 描述发送给大模型的一次对话请求。
type Request struct {
	// System 是固定的人设提示。
	System    string
	Facts     []Fact
	Knowledge []KnowledgeCard
	// Text 是用户的原始消息。
	Text      string
	MaxTokens int
}

// Response 是大模型返回的文本。
type Response struct {
	Reply string
	Model string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Prompt 将会话事实、知识卡片和用户消息渲染为用户侧提示词。
func (r Request) Prompt() string {
	var b strings.Builder
	if len(r.Facts) > 0 {
		b.WriteString("Known facts about this user:\n")
		for _, f := range r.Facts {
			fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
		}
		b.WriteString("\n")
	}
	if len(r.Knowledge) > 0 {
		b.WriteString("Reference notes:\n")
		for idx, card := range r.Knowledge {
			fmt.Fprintf(&b, "[%d] %s: %s\n", idx+1, strings.TrimSpace(card.Title), strings.TrimSpace(card.Content))
		}
		b.WriteString("\n")
	}
	b.WriteString("User message:\n")
	b.WriteString(r.Text)
	return b.String()
}

// StaticClient 总是返回固定回复，用于离线模式和测试。
type StaticClient struct {
	Reply string
	Err   error
}

// Generate 实现 Client 接口。
func (s StaticClient) Generate(_ context.Context, req Request) (*Response, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	reply := s.Reply
	if reply == "" {
		reply = "I'm offline right now, but I can still show prices, gas fees and balances. You asked: " + req.Text
	}
	return &Response{Reply: reply, Model: "static"}, nil
}

var _ Client = StaticClient{}

package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	xerrors "NeoLink-Agent/internal/errors"
	"NeoLink-Agent/internal/llm"
)

const (
	defaultExecutable = "python3"
	defaultTimeout    = 15 * time.Second
	maxStderr         = 512
)

// Config 描述本地脚本的调用方式。
type Config struct {
	Executable string
	Script     string
	WorkingDir string
	Timeout    time.Duration
}

// Client 把对话请求以 JSON 写入脚本的标准输入，从标准输出读取回复。
//
// 脚本输出格式为 {"reply": "...", "model": "..."}，model 可省略。
type Client struct {
	executable string
	script     string
	workingDir string
	timeout    time.Duration
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(cfg Config) (*Client, error) {
	script := strings.TrimSpace(cfg.Script)
	if script == "" {
		return nil, errors.New("未指定 Python 脚本路径")
	}
	executable := strings.TrimSpace(cfg.Executable)
	if executable == "" {
		executable = defaultExecutable
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		executable: executable,
		script:     script,
		workingDir: cfg.WorkingDir,
		timeout:    timeout,
	}, nil
}

type fact struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type card struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type payload struct {
	System    string `json:"system,omitempty"`
	Facts     []fact `json:"facts"`
	Knowledge []card `json:"knowledge"`
	Text      string `json:"text"`
	// Prompt 是渲染好的用户侧提示词，脚本可以直接转发给模型。
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	Timestamp int64  `json:"timestamp"`
}

func newPayload(req llm.Request, now time.Time) payload {
	p := payload{
		System:    strings.TrimSpace(req.System),
		Facts:     make([]fact, 0, len(req.Facts)),
		Knowledge: make([]card, 0, len(req.Knowledge)),
		Text:      req.Text,
		Prompt:    req.Prompt(),
		MaxTokens: req.MaxTokens,
		Timestamp: now.Unix(),
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = llm.DefaultMaxTokens
	}
	for _, f := range req.Facts {
		p.Facts = append(p.Facts, fact{Key: f.Key, Value: f.Value})
	}
	for _, c := range req.Knowledge {
		p.Knowledge = append(p.Knowledge, card{Title: c.Title, Content: c.Content})
	}
	return p
}

// Generate 调用外部脚本，并解析输出。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	encoded, err := json.Marshal(newPayload(req, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	command := exec.CommandContext(ctx, c.executable, c.script)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)
	command.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "Python 脚本执行超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err,
			fmt.Sprintf("执行 Python 脚本失败, stderr=%s", tail(stderr.String())))
	}

	var resp struct {
		Reply string `json:"reply"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析 Python 输出失败")
	}
	reply := strings.TrimSpace(resp.Reply)
	if reply == "" {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "Python 脚本没有返回回复")
	}
	model := resp.Model
	if model == "" {
		model = "python"
	}
	return &llm.Response{Reply: reply, Model: model}, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		s = s[len(s)-maxStderr:]
	}
	return s
}

var _ llm.Client = (*Client)(nil)

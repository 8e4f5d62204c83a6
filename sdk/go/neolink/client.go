// Package neolink is a small Go client for the NeoLink JSON API.
package neolink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout bounds calls made by clients created without a custom
// http.Client. Replies can include an LLM round trip, hence the margin.
const DefaultHTTPTimeout = 45 * time.Second

// Client wraps the HTTP interactions with the NeoLink API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Reply is the agent's answer to one message.
type Reply struct {
	Reply        string   `json:"reply"`
	Intent       string   `json:"intent,omitempty"`
	ErrorCode    string   `json:"error_code,omitempty"`
	QuickReplies []string `json:"quick_replies,omitempty"`
}

// CodeClassificationAmbiguous marks an answered question whose asset could
// not be identified. It is informational, not a failure.
const CodeClassificationAmbiguous = "CLASSIFICATION_AMBIGUOUS"

// Failed reports whether the agent answered with an error reply.
func (r Reply) Failed() bool {
	return r.ErrorCode != "" && r.ErrorCode != CodeClassificationAmbiguous
}

// Turn is one journaled exchange.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Intent    string    `json:"intent"`
	Reply     string    `json:"reply"`
	ErrorCode string    `json:"error_code,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// ChainStatus describes a reachable chain in the health report.
type ChainStatus struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
}

// Health is the /health payload.
type Health struct {
	Status      string            `json:"status"`
	Agent       string            `json:"agent"`
	Version     string            `json:"version"`
	Features    []string          `json:"features,omitempty"`
	Sessions    *int              `json:"sessions,omitempty"`
	Chains      []ChainStatus     `json:"chains,omitempty"`
	ChainErrors map[string]string `json:"chain_errors,omitempty"`
}

// APIError represents a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("neolink api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the NeoLink API. When httpClient is nil,
// a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken stores the bearer token sent with API calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SendMessage submits one message on behalf of from. A rate limited sender
// still receives a reply, flagged through ErrorCode.
func (c *Client) SendMessage(ctx context.Context, from, text string) (Reply, error) {
	body, err := json.Marshal(map[string]string{"from": from, "text": text})
	if err != nil {
		return Reply{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/messages", nil, bytes.NewReader(body))
	if err != nil {
		return Reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var reply Reply
	if err := c.do(req, &reply, http.StatusTooManyRequests); err != nil {
		return Reply{}, err
	}
	return reply, nil
}

// ListTurns returns up to limit journaled turns for userID, newest first.
func (c *Client) ListTurns(ctx context.Context, userID string, limit int) ([]Turn, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(userID)+"/turns", query, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Turns []Turn `json:"turns"`
	}
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return payload.Turns, nil
}

// Health fetches the service health report. It needs no token.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return Health{}, err
	}
	var health Health
	if err := c.do(req, &health); err != nil {
		return Health{}, err
	}
	return health, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	escaped := path.Join(c.baseURL.EscapedPath(), endpoint)
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	u := *c.baseURL
	u.Path, u.RawPath = unescaped, escaped
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do decodes the response into out. Statuses listed in accept are decoded
// like successes.
func (c *Client) do(req *http.Request, out any, accept ...int) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	accepted := resp.StatusCode < 400
	for _, status := range accept {
		if resp.StatusCode == status {
			accepted = true
		}
	}
	if !accepted {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

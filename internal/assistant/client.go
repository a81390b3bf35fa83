package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	System  string    `json:"system,omitempty"`
	History []Message `json:"history"`
	Message string    `json:"message"`
}

type ChatResponse struct {
	OK     bool   `json:"ok"`
	Answer string `json:"answer"`
	Error  string `json:"error,omitempty"`
}

// Provider is the language-model backend the Service talks to.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Client calls the provider's /chat endpoint. Outbound calls are throttled
// process-wide so a burst of users cannot exceed the provider's quota.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client

	limiter *rate.Limiter
}

type ClientOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	QPS     float64
	Burst   int
}

func NewClient(opts ClientOptions) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "http://localhost:8088"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := rate.Inf
	if opts.QPS > 0 {
		limit = rate.Limit(opts.QPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		BaseURL: base,
		APIKey:  opts.APIKey,
		HTTP:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("provider throttle: %w", err)
	}

	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider chat: %w", err)
	}
	defer resp.Body.Close()

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("provider decode (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || !out.OK {
		return &out, fmt.Errorf("provider error (status %d): %s", resp.StatusCode, out.Error)
	}
	return &out, nil
}

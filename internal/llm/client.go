// Package llm is the boundary to the hosted completion service. Every call
// is synchronous with an explicit timeout and bounded retries on 429/5xx;
// anything else propagates immediately as a failed step.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/pkg/httpretry"
)

// ErrNotConfigured is returned when a stage's completion settings are
// missing. Surfaces as a 500 at the API boundary.
var ErrNotConfigured = errors.New("llm: stage not configured")

// UpstreamError reports a non-2xx or empty response from the completion
// service after retries were exhausted.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm: upstream status %d: %s", e.StatusCode, e.Body)
}

// Request describes one completion call.
type Request struct {
	Stage       config.LLMStage
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	// JSONOnly requests strict JSON output from the model. Used by the
	// classifier, QA and follow-up stages.
	JSONOnly bool
}

// Completer executes completion requests. Satisfied by *Client and by test
// fakes.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	cfg        config.LLMConfig
	httpClient httpretry.HTTPDoer
}

// NewClient builds a client with the configured timeout and retry budget.
func NewClient(cfg config.LLMConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, cfg.MaxRetries),
	}
}

// SetHTTPClient swaps the underlying HTTP client. Used by tests.
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete executes a completion request and returns the raw model text.
// Fails closed when the stage is unconfigured; empty content is an error,
// never a silent success.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if err := c.cfg.ValidateStage(req.Stage); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	body := chatRequest{
		Model: c.cfg.ModelFor(req.Stage),
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONOnly {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm: request failed after %s: %w", time.Since(start).Round(time.Millisecond), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 300)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("llm: parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: "empty completion"}
	}

	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

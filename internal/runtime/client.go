// Package runtime talks to the sanctioned LLM runtime gateway. The
// pipeline uses it for the post-build connectivity gate: a job is not
// integrated unless the credential and endpoint complete a live round-trip.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Sentinel errors for runtime gateway failures.
var (
	ErrRuntimeUnreachable = errors.New("llm runtime unreachable")
	ErrRuntimeTimeout     = errors.New("llm runtime timeout")
	ErrRuntimeAuth        = errors.New("llm runtime rejected credential")
)

// Client is the interface for the sanctioned runtime.
type Client interface {
	// Check performs a minimal live chat completion to confirm the endpoint
	// and credential are usable.
	Check(ctx context.Context) error
	Model() string
}

// HTTPClient implements Client against an OpenAI-compatible gateway.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey, model string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Model() string { return c.model }

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *HTTPClient) Check(ctx context.Context) error {
	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("encoding check request: %w", err)
	}

	u := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrRuntimeAuth, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrRuntimeUnreachable, resp.StatusCode)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrRuntimeTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrRuntimeTimeout, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrRuntimeUnreachable, err)
}

var _ Client = (*HTTPClient)(nil)

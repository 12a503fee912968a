// Package provider is the upstream OpenAI-compatible chat-completions
// client. It exposes exactly two call shapes: a buffered completion and a
// lazy line stream.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/veilworks/veil-gateway/internal/types"
)

const defaultBaseURL = "https://api.openai.com"

// maxErrorBody caps how much of an upstream error body is kept; the rest
// never reaches logs or callers.
const maxErrorBody = 2048

// UpstreamError means the provider rejected or could not serve the request.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status %d: %s", e.Status, e.Body)
}

// Client talks to one OpenAI-compatible endpoint.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates a provider client. An empty baseURL selects the public
// OpenAI endpoint.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 0}, // deadlines come from the caller's context
	}
}

type wireRequest struct {
	Model       string              `json:"model"`
	Messages    []types.ChatMessage `json:"messages"`
	Temperature *float32            `json:"temperature,omitempty"`
	TopP        *float32            `json:"top_p,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
	Stream      bool                `json:"stream"`
}

func (c *Client) newRequest(ctx context.Context, req *types.ChatRequest, stream bool) (*http.Request, error) {
	body := wireRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	return httpReq, nil
}

func upstreamFailure(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	return &UpstreamError{Status: resp.StatusCode, Body: string(body)}
}

// ChatCompletion performs a buffered (non-streaming) completion call.
func (c *Client) ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatCompletionResponse, error) {
	httpReq, err := c.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream send failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstreamFailure(resp)
	}
	defer resp.Body.Close()

	var out types.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	return &out, nil
}

// ChatStream opens a streaming completion call and returns a pull-based
// sequence of raw protocol lines. A non-success status or transport failure
// surfaces here, before any line is produced.
func (c *Client) ChatStream(ctx context.Context, req *types.ChatRequest) (*LineStream, error) {
	httpReq, err := c.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream send failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstreamFailure(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &LineStream{body: resp.Body, scanner: scanner}, nil
}

// LineStream yields upstream protocol lines one at a time. Reads block on
// the network and honor the context the stream was opened with.
type LineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Next returns the next line, io.EOF after the last one, or the read error
// that ended the stream.
func (s *LineStream) Next() (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Close releases the underlying response body. Safe to call more than once.
func (s *LineStream) Close() error {
	return s.body.Close()
}

package types

// ChatRequest is the inbound chat-completion request body. Message contents
// are overwritten in place with redacted text before the request is
// forwarded upstream; nothing here outlives the request.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	TopP        *float32      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      *bool         `json:"stream,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamRequested reports the effective stream flag; streaming is the
// default when the field is absent.
func (r *ChatRequest) StreamRequested() bool {
	if r.Stream == nil {
		return true
	}
	return *r.Stream
}

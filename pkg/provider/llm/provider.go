// Package llm defines a minimal chat-completion interface over Large Language
// Model backends.
//
// The conversation pipeline uses completions for two things: medically aware
// translation enhancement and follow-up question suggestions. Both are plain
// request/response exchanges, so the interface deliberately omits streaming
// and tool calling.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Message roles. Backends that treat the system prompt specially receive it
// through Request.SystemPrompt instead of a system-role message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a completion conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser, or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Request carries everything the model needs to produce a response. At
// minimum Messages must be non-empty.
type Request struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Providers without a dedicated system field prepend it
	// as a system-role message.
	SystemPrompt string

	// Messages is the ordered conversation. The last message is typically
	// from the user role and drives the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the full completion result.
type Response struct {
	// Content is the text of the assistant's reply.
	Content string

	// Usage contains token accounting when the backend reports it.
	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
//
// Complete must propagate context cancellation promptly and return an error
// if the request fails or ctx is cancelled before the completion arrives.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

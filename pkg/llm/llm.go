// Package llm defines the small completion interface the voice agent uses for
// auxiliary language tasks: retrieval query rewriting and escalation
// summaries. The real-time conversation itself runs over pkg/realtime; this
// interface only covers one-shot text completions.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message is one turn of a completion request.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role string

	// Content is the text content.
	Content string
}

// Request carries one completion call.
type Request struct {
	// SystemPrompt is an optional instruction injected before Messages.
	SystemPrompt string

	// Messages is the ordered conversation. Must be non-empty.
	Messages []Message

	// Temperature controls randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// Response is the model's full answer.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Provider produces completions.
type Provider interface {
	// Complete sends req and waits for the full response. Returns an error
	// if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req Request) (*Response, error)
}

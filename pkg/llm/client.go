// Package llm provides the chat-completion adapter the agents talk to,
// plus robust JSON extraction from free-form model replies.
package llm

import "context"

// Options tune a single chat call.
type Options struct {
	// Model overrides the client's default model when non-empty.
	Model string
	// JSONMode requests a JSON-object response from the provider.
	JSONMode bool
	// Temperature in [0,2]. Zero means the client default.
	Temperature float64
	// MaxTokens bounds the completion length. Zero means the client default.
	MaxTokens int
}

// Client is the single-shot chat interface used by all agents.
type Client interface {
	// Chat sends one system+user exchange and returns the assistant text.
	Chat(ctx context.Context, system, user string, opts Options) (string, error)
}

package core

import (
	"context"

	"pkt.systems/adjutant/schema"
)

// AgentSource produces the event stream for one user's agent. Prompt
// starts a turn asynchronously; events reach subscribers until the
// turn's single terminal event.
type AgentSource interface {
	// Subscribe registers a callback for agent events and returns an
	// unsubscribe function. Callbacks run on the source's goroutine and
	// must not block for long.
	Subscribe(fn func(schema.AgentEvent)) (cancel func())
	// Prompt submits a user message and blocks until the underlying
	// execution finishes. A non-nil error means the turn failed before
	// or without a terminal event.
	Prompt(ctx context.Context, text string) error
	// Abort stops the underlying execution.
	Abort()
	// Reset clears the agent's working memory.
	Reset()
	// History returns the agent's message history, oldest first.
	History() []schema.AgentMessage
}

// AgentProvider resolves the agent source serving a user.
type AgentProvider interface {
	AgentFor(ctx context.Context, userID schema.UserID) (AgentSource, error)
}

// AgentProviderFunc adapts a function to AgentProvider.
type AgentProviderFunc func(ctx context.Context, userID schema.UserID) (AgentSource, error)

// AgentFor implements AgentProvider.
func (f AgentProviderFunc) AgentFor(ctx context.Context, userID schema.UserID) (AgentSource, error) {
	return f(ctx, userID)
}

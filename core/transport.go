package core

import (
	"context"

	"pkt.systems/adjutant/schema"
)

// ChatTransport delivers outbound messages to a chat. Implementations
// translate format spans into their own entity encoding and report an
// edit whose content matches the existing message as
// schema.ErrMessageUnchanged.
type ChatTransport interface {
	// Create sends a new message and returns its handle.
	Create(ctx context.Context, chatID schema.ChatID, text string, spans []schema.FormatSpan) (schema.MessageID, error)
	// Edit replaces the text of a previously created message.
	Edit(ctx context.Context, chatID schema.ChatID, messageID schema.MessageID, text string, spans []schema.FormatSpan) error
	// MaxLength reports the transport's maximum message length in
	// bytes. Zero means unknown; callers fall back to a configured cap.
	MaxLength() int
	// SignalActivity shows a transient "working" indicator in the chat.
	// Best-effort; callers swallow failures.
	SignalActivity(ctx context.Context, chatID schema.ChatID) error
}

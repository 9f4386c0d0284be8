package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pkt.systems/adjutant/internal/markdown"
	"pkt.systems/adjutant/schema"
	"pkt.systems/pslog"
)

// renderState is the per-turn message lifecycle.
type renderState int

const (
	stateNoMessage renderState = iota
	stateMessageSent
	stateFinalized
)

const fallbackNotice = "The agent finished without producing any output."

// turnRenderer drives one turn's outbound message: it accumulates
// streamed text, creates the message on the first non-empty text, and
// throttles subsequent edits. Discarded when the turn ends.
type turnRenderer struct {
	transport ChatTransport
	chatID    schema.ChatID
	throttle  time.Duration
	maxLen    int
	log       pslog.Logger
	now       func() time.Time

	state     renderState
	text      strings.Builder
	messageID schema.MessageID
	lastEdit  time.Time
	recovered bool
}

func newTurnRenderer(transport ChatTransport, chatID schema.ChatID, cfg schema.ServiceConfig, log pslog.Logger) *turnRenderer {
	maxLen := transport.MaxLength()
	if maxLen <= 0 {
		maxLen = cfg.MaxMessageLength
	}
	return &turnRenderer{
		transport: transport,
		chatID:    chatID,
		throttle:  cfg.EditThrottle,
		maxLen:    maxLen,
		log:       log,
		now:       time.Now,
	}
}

// render consumes the stream to its terminal event and returns the final
// rendered text. A transport failure is returned as the turn's error
// after an attempt to surface it in the chat.
func (r *turnRenderer) render(ctx context.Context, stream *turnStream) (string, error) {
	defer stream.Close()
	for {
		event := stream.Next(ctx)
		switch event.Type {
		case schema.EventTextDelta:
			if err := r.handleDelta(ctx, event.Delta); err != nil {
				return r.fail(ctx, err)
			}
		case schema.EventToolStart:
			r.handleToolStart(ctx, event.Tool)
		case schema.EventMessageEnd:
			r.handleMessageEnd(event.Message)
		case schema.EventTurnEnd:
			return r.finalize(ctx, event)
		}
	}
}

// handleDelta appends streamed text. The first non-empty text creates
// the message immediately; later text edits at most once per throttle
// interval. The full accumulated text is sent every time, so a skipped
// edit only delays content, never loses it.
func (r *turnRenderer) handleDelta(ctx context.Context, delta string) error {
	if delta == "" {
		return nil
	}
	r.text.WriteString(delta)
	switch r.state {
	case stateNoMessage:
		if strings.TrimSpace(r.text.String()) == "" {
			return nil
		}
		return r.push(ctx)
	case stateMessageSent:
		if r.now().Sub(r.lastEdit) < r.throttle {
			return nil
		}
		return r.push(ctx)
	}
	return nil
}

// handleToolStart appends an ephemeral status line after the current
// text with an unthrottled best-effort edit. The next text edit
// overwrites it. Failures here never fail the turn.
func (r *turnRenderer) handleToolStart(ctx context.Context, tool schema.ToolName) {
	if r.state != stateMessageSent || tool == "" {
		return
	}
	status := r.text.String() + fmt.Sprintf("\n\n🔧 %s…", tool)
	plain, spans := markdown.Render(status)
	plain, spans = markdown.Truncate(plain, spans, r.maxLen)
	if err := r.edit(ctx, plain, spans); err != nil {
		if r.log != nil {
			r.log.Debug("tool status edit failed", "tool", tool, "err", err)
		}
	}
}

// handleMessageEnd adopts the completed message as the authoritative
// accumulated text when the agent reports one, correcting any delta
// drift before the next edit.
func (r *turnRenderer) handleMessageEnd(message *schema.AgentMessage) {
	if message == nil || message.Role != schema.RoleAssistant {
		return
	}
	text := message.Text()
	if text == "" {
		return
	}
	r.text.Reset()
	r.text.WriteString(text)
}

// finalize applies the last create/edit. When no text was streamed, the
// terminal event's embedded messages are scanned backward for the most
// recent assistant text; when that also yields nothing, a visible
// fallback notice is sent rather than completing silently.
func (r *turnRenderer) finalize(ctx context.Context, event schema.AgentEvent) (string, error) {
	if strings.TrimSpace(r.text.String()) == "" {
		if recovered := lastAssistantText(event.Messages); recovered != "" {
			r.text.Reset()
			r.text.WriteString(recovered)
			r.recovered = true
			if r.log != nil {
				r.log.Debug("final text recovered from history", "text_len", len(recovered))
			}
		}
	}
	if event.Err != nil {
		r.appendErrorLine(event.Err)
	} else if strings.TrimSpace(r.text.String()) == "" {
		r.text.Reset()
		r.text.WriteString(fallbackNotice)
	}
	final := r.text.String()
	if err := r.push(ctx); err != nil {
		return r.fail(ctx, err)
	}
	r.state = stateFinalized
	return final, nil
}

// fail surfaces a transport failure in the chat on a best-effort basis
// and reports it as the turn's error.
func (r *turnRenderer) fail(ctx context.Context, cause error) (string, error) {
	if r.log != nil {
		r.log.Warn("turn render failed", "err", cause)
	}
	r.appendErrorLine(cause)
	final := r.text.String()
	if err := r.push(ctx); err != nil && r.log != nil {
		r.log.Warn("error notice delivery failed", "err", err)
	}
	r.state = stateFinalized
	return final, cause
}

func (r *turnRenderer) appendErrorLine(err error) {
	line := fmt.Sprintf("⚠️ %v", err)
	if strings.TrimSpace(r.text.String()) == "" {
		r.text.Reset()
		r.text.WriteString(line)
		return
	}
	r.text.WriteString("\n\n")
	r.text.WriteString(line)
}

// push formats and truncates the accumulated text, then creates or
// edits the outbound message. An edit rejected as unchanged counts as
// success.
func (r *turnRenderer) push(ctx context.Context) error {
	plain, spans := markdown.Render(r.text.String())
	plain, spans = markdown.Truncate(plain, spans, r.maxLen)
	if r.state == stateNoMessage {
		if plain == "" {
			return nil
		}
		messageID, err := r.transport.Create(ctx, r.chatID, plain, spans)
		if err != nil {
			return err
		}
		r.messageID = messageID
		r.state = stateMessageSent
		r.lastEdit = r.now()
		return nil
	}
	if err := r.edit(ctx, plain, spans); err != nil {
		return err
	}
	r.lastEdit = r.now()
	return nil
}

func (r *turnRenderer) edit(ctx context.Context, plain string, spans []schema.FormatSpan) error {
	err := r.transport.Edit(ctx, r.chatID, r.messageID, plain, spans)
	if err == nil || isUnchanged(err) {
		return nil
	}
	return err
}

func isUnchanged(err error) bool {
	return errors.Is(err, schema.ErrMessageUnchanged)
}

// lastAssistantText walks the history backward and returns the most
// recent assistant message's concatenated text segments.
func lastAssistantText(messages []schema.AgentMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != schema.RoleAssistant {
			continue
		}
		if text := strings.TrimSpace(messages[i].Text()); text != "" {
			return text
		}
	}
	return ""
}

// signalActivity re-sends the transport's activity indicator at a fixed
// interval until ctx is cancelled. Failures are expected transients and
// only logged.
func signalActivity(ctx context.Context, transport ChatTransport, chatID schema.ChatID, interval time.Duration, log pslog.Logger) {
	if err := transport.SignalActivity(ctx, chatID); err != nil && log != nil {
		log.Trace("activity signal failed", "err", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := transport.SignalActivity(ctx, chatID); err != nil && log != nil {
				log.Trace("activity signal failed", "err", err)
			}
		}
	}
}

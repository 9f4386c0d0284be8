package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pkt.systems/adjutant/schema"
)

func testConfig() schema.ServiceConfig {
	return schema.ServiceConfig{
		StateDir:         "/tmp/unused",
		EditThrottle:     time.Hour, // intermediate edits suppressed unless a test overrides the clock
		ActivityInterval: time.Hour,
		MaxMessageLength: schema.DefaultMaxMessageLength,
		ExcerptMax:       schema.DefaultExcerptMax,
	}
}

func renderScript(t *testing.T, transport *fakeTransport, cfg schema.ServiceConfig, events ...schema.AgentEvent) (string, error) {
	t.Helper()
	agent := newFakeAgent(events...)
	stream := newTurnStream(context.Background(), agent, "hi", nil)
	renderer := newTurnRenderer(transport, "chat-1", cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return renderer.render(ctx, stream)
}

func TestRenderStreamedTurn(t *testing.T) {
	transport := newFakeTransport()
	final, err := renderScript(t, transport, testConfig(),
		schema.AgentEvent{Type: schema.EventTextDelta, Delta: "Hel"},
		schema.AgentEvent{Type: schema.EventTextDelta, Delta: "lo"},
		schema.AgentEvent{Type: schema.EventTurnEnd},
	)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if final != "Hello" {
		t.Fatalf("unexpected final text: %q", final)
	}
	creates, _ := transport.counts()
	if creates != 1 {
		t.Fatalf("expected one create, got %d", creates)
	}
	if transport.creates[0].Text != "Hel" {
		t.Fatalf("message creation delayed: %q", transport.creates[0].Text)
	}
	if transport.lastText() != "Hello" {
		t.Fatalf("final edit missing: %q", transport.lastText())
	}
}

func TestRenderThrottlesIntermediateEdits(t *testing.T) {
	transport := newFakeTransport()
	cfg := testConfig()
	agent := newFakeAgent(
		schema.AgentEvent{Type: schema.EventTextDelta, Delta: "one"},
		schema.AgentEvent{Type: schema.EventTextDelta, Delta: " two"},
		schema.AgentEvent{Type: schema.EventTextDelta, Delta: " three"},
		schema.AgentEvent{Type: schema.EventTurnEnd},
	)
	stream := newTurnStream(context.Background(), agent, "hi", nil)
	renderer := newTurnRenderer(transport, "chat-1", cfg, nil)

	// A clock that never advances: only the creation and the final
	// (unthrottled) edit may reach the transport.
	frozen := time.Now()
	renderer.now = func() time.Time { return frozen }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := renderer.render(ctx, stream)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if final != "one two three" {
		t.Fatalf("unexpected final text: %q", final)
	}
	creates, edits := transport.counts()
	if creates != 1 || edits != 1 {
		t.Fatalf("throttle violated: %d creates, %d edits", creates, edits)
	}
}

func TestRenderEditsWhenThrottleElapsed(t *testing.T) {
	transport := newFakeTransport()
	cfg := testConfig()
	agent := newFakeAgent(
		schema.AgentEvent{Type: schema.EventTextDelta, Delta: "one"},
		schema.AgentEvent{Type: schema.EventTextDelta, Delta: " two"},
		schema.AgentEvent{Type: schema.EventTurnEnd},
	)
	stream := newTurnStream(context.Background(), agent, "hi", nil)
	renderer := newTurnRenderer(transport, "chat-1", cfg, nil)

	// Each call advances well past the throttle window.
	current := time.Now()
	renderer.now = func() time.Time {
		current = current.Add(2 * time.Hour)
		return current
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := renderer.render(ctx, stream); err != nil {
		t.Fatalf("render: %v", err)
	}
	creates, edits := transport.counts()
	if creates != 1 || edits != 2 {
		t.Fatalf("expected streaming edit plus final edit, got %d creates, %d edits", creates, edits)
	}
}

func TestRenderFallbackFromEmbeddedHistory(t *testing.T) {
	transport := newFakeTransport()
	final, err := renderScript(t, transport, testConfig(),
		schema.AgentEvent{Type: schema.EventTurnEnd, Messages: []schema.AgentMessage{
			{Role: schema.RoleUser, Segments: []string{"do it"}},
			{Role: schema.RoleAssistant, Segments: []string{"Done", "."}},
		}},
	)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if final != "Done." {
		t.Fatalf("fallback extraction failed: %q", final)
	}
	if transport.lastText() != "Done." {
		t.Fatalf("fallback text not delivered: %q", transport.lastText())
	}
}

func TestRenderFallbackNoticeWhenNothingProduced(t *testing.T) {
	transport := newFakeTransport()
	final, err := renderScript(t, transport, testConfig(),
		schema.AgentEvent{Type: schema.EventTurnEnd},
	)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if final != fallbackNotice {
		t.Fatalf("expected fallback notice, got %q", final)
	}
	creates, _ := transport.counts()
	if creates != 1 {
		t.Fatalf("fallback notice not sent: %d creates", creates)
	}
}

func TestRenderToolStartStatusLine(t *testing.T) {
	transport := newFakeTransport()
	_, err := renderScript(t, transport, testConfig(),
		schema.AgentEvent{Type: schema.EventTextDelta, Delta: "working"},
		schema.AgentEvent{Type: schema.EventToolStart, Tool: "shell"},
		schema.AgentEvent{Type: schema.EventTurnEnd},
	)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	found := false
	for _, edit := range transport.edits {
		if strings.Contains(edit.Text, "shell") && strings.Contains(edit.Text, "🔧") {
			found = true
		}
	}
	if !found {
		t.Fatalf("tool status edit missing: %+v", transport.edits)
	}
	if strings.Contains(transport.lastText(), "shell") {
		t.Fatalf("status line survived finalization: %q", transport.lastText())
	}
}

func TestRenderToolStartBeforeMessageIgnored(t *testing.T) {
	transport := newFakeTransport()
	if _, err := renderScript(t, transport, testConfig(),
		schema.AgentEvent{Type: schema.EventToolStart, Tool: "shell"},
		schema.AgentEvent{Type: schema.EventTurnEnd},
	); err != nil {
		t.Fatalf("render: %v", err)
	}
	_, edits := transport.counts()
	if edits != 0 {
		t.Fatalf("status edit without a message: %d edits", edits)
	}
}

func TestRenderUnchangedEditTreatedAsSuccess(t *testing.T) {
	transport := newFakeTransport()
	transport.editErr = schema.ErrMessageUnchanged
	final, err := renderScript(t, transport, testConfig(),
		schema.AgentEvent{Type: schema.EventTextDelta, Delta: "same"},
		schema.AgentEvent{Type: schema.EventTurnEnd},
	)
	if err != nil {
		t.Fatalf("unchanged edit surfaced as failure: %v", err)
	}
	if final != "same" {
		t.Fatalf("unexpected final text: %q", final)
	}
}

func TestRenderTransportFailurePropagates(t *testing.T) {
	transport := newFakeTransport()
	transport.editErr = errors.New("forbidden")
	_, err := renderScript(t, transport, testConfig(),
		schema.AgentEvent{Type: schema.EventTextDelta, Delta: "text"},
		schema.AgentEvent{Type: schema.EventTurnEnd},
	)
	if err == nil || !strings.Contains(err.Error(), "forbidden") {
		t.Fatalf("expected transport failure, got %v", err)
	}
}

func TestRenderAgentErrorRenderedVisibly(t *testing.T) {
	transport := newFakeTransport()
	final, err := renderScript(t, transport, testConfig(),
		schema.AgentEvent{Type: schema.EventTextDelta, Delta: "partial"},
		schema.AgentEvent{Type: schema.EventTurnEnd, Err: errors.New("model crashed")},
	)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(final, "partial") || !strings.Contains(final, "model crashed") {
		t.Fatalf("agent error not rendered: %q", final)
	}
	if !strings.Contains(transport.lastText(), "model crashed") {
		t.Fatalf("agent error not delivered: %q", transport.lastText())
	}
}

func TestRenderMessageEndAdoptsAuthoritativeText(t *testing.T) {
	transport := newFakeTransport()
	final, err := renderScript(t, transport, testConfig(),
		schema.AgentEvent{Type: schema.EventTextDelta, Delta: "drifted tex"},
		schema.AgentEvent{Type: schema.EventMessageEnd, Message: &schema.AgentMessage{
			Role: schema.RoleAssistant, Segments: []string{"final text"},
		}},
		schema.AgentEvent{Type: schema.EventTurnEnd},
	)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if final != "final text" {
		t.Fatalf("message_end not adopted: %q", final)
	}
}

func TestRenderTruncatesAtTransportLimit(t *testing.T) {
	transport := newFakeTransport()
	transport.maxLen = 32
	cfg := testConfig()
	long := strings.Repeat("a", 100)
	final, err := renderScript(t, transport, cfg,
		schema.AgentEvent{Type: schema.EventTextDelta, Delta: long},
		schema.AgentEvent{Type: schema.EventTurnEnd},
	)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(final) != 100 {
		t.Fatalf("final text should keep full accumulation, got %d bytes", len(final))
	}
	for _, sent := range append(transport.creates, transport.edits...) {
		if len(sent.Text) > 32 {
			t.Fatalf("sent text exceeds limit: %d bytes", len(sent.Text))
		}
	}
	if !strings.HasSuffix(transport.lastText(), "…") {
		t.Fatalf("truncation marker missing: %q", transport.lastText())
	}
}

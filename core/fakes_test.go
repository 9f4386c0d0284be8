package core

import (
	"context"
	"sync"

	"pkt.systems/adjutant/schema"
)

// fakeAgent replays a scripted event stream when prompted.
type fakeAgent struct {
	mu        sync.Mutex
	subs      map[int]func(schema.AgentEvent)
	nextSub   int
	script    []schema.AgentEvent
	promptErr error
	aborted   bool
	prompts   []string
	block     chan struct{}
}

func newFakeAgent(script ...schema.AgentEvent) *fakeAgent {
	return &fakeAgent{subs: make(map[int]func(schema.AgentEvent)), script: script}
}

func (a *fakeAgent) Subscribe(fn func(schema.AgentEvent)) func() {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

func (a *fakeAgent) Prompt(ctx context.Context, text string) error {
	a.mu.Lock()
	a.prompts = append(a.prompts, text)
	block := a.block
	a.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if a.promptErr != nil {
		return a.promptErr
	}
	for _, event := range a.script {
		a.emit(event)
	}
	return nil
}

func (a *fakeAgent) emit(event schema.AgentEvent) {
	a.mu.Lock()
	fns := make([]func(schema.AgentEvent), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}

func (a *fakeAgent) Abort() {
	a.mu.Lock()
	a.aborted = true
	a.mu.Unlock()
}

func (a *fakeAgent) Reset() {}

func (a *fakeAgent) History() []schema.AgentMessage { return nil }

func (a *fakeAgent) subscriberCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

func (a *fakeAgent) wasAborted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aborted
}

type sentMessage struct {
	Text  string
	Spans []schema.FormatSpan
}

// fakeTransport records creates and edits.
type fakeTransport struct {
	mu        sync.Mutex
	creates   []sentMessage
	edits     []sentMessage
	activity  int
	maxLen    int
	createErr error
	editErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{maxLen: schema.DefaultMaxMessageLength}
}

func (t *fakeTransport) Create(ctx context.Context, chatID schema.ChatID, text string, spans []schema.FormatSpan) (schema.MessageID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.createErr != nil {
		return "", t.createErr
	}
	t.creates = append(t.creates, sentMessage{Text: text, Spans: spans})
	return "msg-1", nil
}

func (t *fakeTransport) Edit(ctx context.Context, chatID schema.ChatID, messageID schema.MessageID, text string, spans []schema.FormatSpan) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.editErr != nil {
		return t.editErr
	}
	t.edits = append(t.edits, sentMessage{Text: text, Spans: spans})
	return nil
}

func (t *fakeTransport) MaxLength() int { return t.maxLen }

func (t *fakeTransport) SignalActivity(ctx context.Context, chatID schema.ChatID) error {
	t.mu.Lock()
	t.activity++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) lastText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.edits) > 0 {
		return t.edits[len(t.edits)-1].Text
	}
	if len(t.creates) > 0 {
		return t.creates[len(t.creates)-1].Text
	}
	return ""
}

func (t *fakeTransport) counts() (creates, edits int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.creates), len(t.edits)
}

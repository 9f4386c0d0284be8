package core

import (
	"context"
	"sync"

	"pkt.systems/adjutant/schema"
	"pkt.systems/pslog"
)

const bridgeDepth = 256

// turnStream bridges a push-based agent subscription into an ordered,
// pull-based sequence for one turn. Events are queued in arrival order;
// the sequence terminates on the turn's single terminal event. The
// subscription is registered before Prompt starts so no event is lost
// ahead of the first pull.
type turnStream struct {
	agent  AgentSource
	events chan schema.AgentEvent
	done   chan struct{}
	once   sync.Once
	unsub  func()
	log    pslog.Logger
}

// newTurnStream subscribes to the agent and starts the prompt. A Prompt
// failure is surfaced as a synthesized terminal event rather than an
// error escaping the consumer loop.
func newTurnStream(ctx context.Context, agent AgentSource, prompt string, log pslog.Logger) *turnStream {
	s := &turnStream{
		agent:  agent,
		events: make(chan schema.AgentEvent, bridgeDepth),
		done:   make(chan struct{}),
		log:    log,
	}
	s.unsub = agent.Subscribe(s.deliver)
	go func() {
		if err := agent.Prompt(ctx, prompt); err != nil {
			if s.log != nil {
				s.log.Warn("agent prompt failed", "err", err)
			}
			s.deliver(schema.AgentEvent{Type: schema.EventTurnEnd, Err: err})
		}
	}()
	return s
}

// deliver queues an event, giving up once the stream is closed so a
// producer never blocks against a consumer that stopped pulling.
func (s *turnStream) deliver(event schema.AgentEvent) {
	select {
	case s.events <- event:
	case <-s.done:
	}
}

// Next returns the next event in arrival order. On context cancellation
// the underlying execution is aborted and a terminal event carrying the
// cancellation cause is returned, so the consumer never hangs waiting
// for a terminal event.
func (s *turnStream) Next(ctx context.Context) schema.AgentEvent {
	select {
	case event := <-s.events:
		return event
	case <-ctx.Done():
		s.agent.Abort()
		return schema.AgentEvent{Type: schema.EventTurnEnd, Err: ctx.Err()}
	}
}

// Close unsubscribes from the agent. Safe to call more than once; must
// run on every teardown path so listeners do not leak across turns.
func (s *turnStream) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.unsub != nil {
			s.unsub()
		}
	})
}

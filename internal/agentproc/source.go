package agentproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"pkt.systems/pslog"

	"pkt.systems/adjutant/core"
	"pkt.systems/adjutant/schema"
)

// Config controls how the agent CLI is invoked.
type Config struct {
	// BinaryPath is the agent executable. Defaults to "adjutant-agent".
	BinaryPath string
	// ExtraArgs are appended before the trailing "-" argument.
	ExtraArgs []string
	// Env entries are appended to the inherited environment.
	Env []string
	// WorkingDir is the process working directory.
	WorkingDir string
	// HistoryLoader seeds a freshly created source's conversation
	// history, typically from the persisted transcript, so working
	// memory survives process restarts. Optional.
	HistoryLoader func(userID schema.UserID) ([]schema.AgentMessage, error)
}

// promptDoc is the request document written to the agent's stdin. The
// source owns conversation memory; each invocation receives the full
// history so the CLI itself can stay stateless.
type promptDoc struct {
	Prompt  string                `json:"prompt"`
	History []schema.AgentMessage `json:"history,omitempty"`
}

// Source runs the agent CLI as a subprocess, one turn at a time, and
// fans its event stream out to subscribers. It implements
// core.AgentSource.
type Source struct {
	cfg Config
	log pslog.Logger

	mu      sync.Mutex
	subs    map[int]func(schema.AgentEvent)
	nextSub int
	history []schema.AgentMessage
	pgid    int
}

// NewSource constructs an agent source for one user.
func NewSource(cfg Config, logger pslog.Logger) *Source {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "adjutant-agent"
	}
	return &Source{
		cfg:  cfg,
		log:  logger,
		subs: make(map[int]func(schema.AgentEvent)),
	}
}

// Subscribe registers an event callback and returns its cancel func.
func (s *Source) Subscribe(fn func(schema.AgentEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Prompt runs one agent turn. It blocks until the process exits and
// guarantees subscribers see exactly one turn_end event, synthesizing
// one when the process dies without it. A non-nil return means the
// process could not be started at all.
func (s *Source) Prompt(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return schema.ErrEmptyPrompt
	}
	args := append([]string(nil), s.cfg.ExtraArgs...)
	args = append(args, "-")

	cmd := exec.CommandContext(ctx, s.cfg.BinaryPath, args...)
	if s.cfg.WorkingDir != "" {
		cmd.Dir = s.cfg.WorkingDir
	}
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("agent stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("agent stderr: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("agent stdin: %w", err)
	}

	doc := promptDoc{Prompt: text, History: s.History()}
	if err := cmd.Start(); err != nil {
		if s.log != nil {
			s.log.Error("agent start failed", "binary", s.cfg.BinaryPath, "err", err)
		}
		return fmt.Errorf("agent start: %w", err)
	}
	s.mu.Lock()
	s.pgid = cmd.Process.Pid
	s.history = append(s.history, schema.AgentMessage{Role: schema.RoleUser, Segments: []string{text}})
	s.mu.Unlock()
	if s.log != nil {
		s.log.Debug("agent started", "pid", cmd.Process.Pid, "prompt_len", len(text))
	}

	go func() {
		encoder := json.NewEncoder(stdin)
		if err := encoder.Encode(doc); err != nil && s.log != nil {
			s.log.Warn("agent stdin write failed", "err", err)
		}
		_ = stdin.Close()
	}()

	stream := newProcStream(stdout, stderr, s.log)
	sawTerminal := s.consume(stream)

	waitErr := cmd.Wait()
	s.mu.Lock()
	s.pgid = 0
	s.mu.Unlock()

	if sawTerminal {
		if waitErr != nil && s.log != nil {
			s.log.Warn("agent exited uncleanly after turn end", "err", waitErr)
		}
		return nil
	}

	// The process died without closing the turn. Close it here so the
	// renderer always observes a terminal event.
	s.publish(schema.AgentEvent{
		Type:     schema.EventTurnEnd,
		Messages: s.History(),
		Err:      s.exitError(waitErr, stream),
	})
	return nil
}

// consume drains the stream, maintains history, and forwards events to
// subscribers. It reports whether a turn_end event was seen. Events
// after the terminal are discarded.
func (s *Source) consume(stream *procStream) bool {
	var pending strings.Builder
	sawTerminal := false
	for event := range stream.events {
		if sawTerminal {
			if s.log != nil {
				s.log.Warn("agent event after turn end discarded", "type", event.Type)
			}
			continue
		}
		switch event.Type {
		case schema.EventTextDelta:
			pending.WriteString(event.Delta)
		case schema.EventMessageEnd:
			message := event.Message
			if message == nil {
				message = &schema.AgentMessage{Role: schema.RoleAssistant, Segments: []string{pending.String()}}
				event.Message = message
			}
			s.appendHistory(*message)
			pending.Reset()
		case schema.EventTurnEnd:
			sawTerminal = true
			s.flushPending(&pending)
			if len(event.Messages) == 0 {
				event.Messages = s.History()
			}
		}
		s.publish(event)
	}
	if !sawTerminal {
		s.flushPending(&pending)
	}
	return sawTerminal
}

func (s *Source) flushPending(pending *strings.Builder) {
	if pending.Len() == 0 {
		return
	}
	s.appendHistory(schema.AgentMessage{Role: schema.RoleAssistant, Segments: []string{pending.String()}})
	pending.Reset()
}

func (s *Source) exitError(waitErr error, stream *procStream) error {
	err := waitErr
	if err == nil {
		err = stream.Err()
	}
	if err == nil {
		err = errors.New("agent exited without ending the turn")
	}
	if tail := stream.StderrTail(); len(tail) > 0 {
		err = fmt.Errorf("%w: %s", err, strings.Join(tail, "; "))
	}
	return err
}

// Abort kills the running agent's process group, if any.
func (s *Source) Abort() {
	s.mu.Lock()
	pgid := s.pgid
	s.mu.Unlock()
	if pgid == 0 {
		return
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
		if s.log != nil {
			s.log.Warn("agent abort failed", "pgid", pgid, "err", err)
		}
		return
	}
	if s.log != nil {
		s.log.Info("agent aborted", "pgid", pgid)
	}
}

// Reset clears the conversation history.
func (s *Source) Reset() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
	if s.log != nil {
		s.log.Info("agent history reset")
	}
}

// History returns a snapshot of the conversation, oldest first.
func (s *Source) History() []schema.AgentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.AgentMessage(nil), s.history...)
}

func (s *Source) seedHistory(messages []schema.AgentMessage) {
	s.mu.Lock()
	s.history = append([]schema.AgentMessage(nil), messages...)
	s.mu.Unlock()
}

func (s *Source) appendHistory(message schema.AgentMessage) {
	s.mu.Lock()
	s.history = append(s.history, message)
	s.mu.Unlock()
}

func (s *Source) publish(event schema.AgentEvent) {
	s.mu.Lock()
	fns := make([]func(schema.AgentEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}

// Provider hands out one Source per user, created lazily. Each user
// gets a private working directory under the configured root.
type Provider struct {
	cfg Config
	log pslog.Logger

	mu      sync.Mutex
	sources map[schema.UserID]*Source
}

// NewProvider constructs a per-user agent source provider.
func NewProvider(cfg Config, logger pslog.Logger) *Provider {
	return &Provider{
		cfg:     cfg,
		log:     logger,
		sources: make(map[schema.UserID]*Source),
	}
}

// AgentFor implements core.AgentProvider.
func (p *Provider) AgentFor(ctx context.Context, userID schema.UserID) (core.AgentSource, error) {
	_ = ctx
	if err := schema.ValidateUserID(userID); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if source, ok := p.sources[userID]; ok {
		return source, nil
	}
	cfg := p.cfg
	if cfg.WorkingDir != "" {
		cfg.WorkingDir = filepath.Join(cfg.WorkingDir, string(userID))
		if err := os.MkdirAll(cfg.WorkingDir, 0o700); err != nil {
			return nil, fmt.Errorf("agent workdir: %w", err)
		}
	}
	log := p.log
	if log != nil {
		log = log.With("user", string(userID))
	}
	source := NewSource(cfg, log)
	if p.cfg.HistoryLoader != nil {
		history, err := p.cfg.HistoryLoader(userID)
		if err != nil {
			if log != nil {
				log.Warn("agent history rehydration failed", "err", err)
			}
		} else if len(history) > 0 {
			source.seedHistory(history)
			if log != nil {
				log.Debug("agent history rehydrated", "messages", len(history))
			}
		}
	}
	p.sources[userID] = source
	return source, nil
}

var _ core.AgentSource = (*Source)(nil)

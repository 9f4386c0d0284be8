package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"pkt.systems/adjutant/internal/logx"
	"pkt.systems/adjutant/internal/taskstore"
	"pkt.systems/adjutant/internal/touch"
	"pkt.systems/adjutant/internal/transcript"
	"pkt.systems/adjutant/schema"
	"pkt.systems/pslog"
)

// service implements the core service behavior.
type service struct {
	cfg         schema.ServiceConfig
	agents      AgentProvider
	transport   ChatTransport
	tasks       *taskstore.Store
	transcripts *transcript.Store
	touches     *touch.Recorder
	logger      pslog.Logger

	mu     sync.Mutex
	active map[schema.UserID]bool
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if deps.Tasks == nil {
		deps.Tasks, err = taskstore.NewStoreWithLogger(filepath.Join(cfg.StateDir, "tasks"), logger)
		if err != nil {
			return nil, err
		}
	}
	if deps.Transcripts == nil {
		deps.Transcripts, err = transcript.NewStoreWithLogger(filepath.Join(cfg.StateDir, "transcripts"), logger)
		if err != nil {
			return nil, err
		}
	}
	if deps.Touches == nil {
		deps.Touches = touch.NewRecorder()
	}
	return &service{
		cfg:         cfg,
		agents:      deps.Agent,
		transport:   deps.Transport,
		tasks:       deps.Tasks,
		transcripts: deps.Transcripts,
		touches:     deps.Touches,
		logger:      logger,
		active:      make(map[schema.UserID]bool),
	}, nil
}

// RunTurn relays one user message through the agent, streams the output
// to the chat and persists the turn's side effects. One turn at a time
// per user; transcripts and task notes are read-modify-write with a
// single assumed writer.
func (s *service) RunTurn(ctx context.Context, req schema.TurnRequest) (schema.TurnResponse, error) {
	if ctx == nil {
		return schema.TurnResponse{}, errors.New("missing context")
	}
	if s.agents == nil {
		return schema.TurnResponse{}, schema.ErrAgentUnavailable
	}
	if s.transport == nil {
		return schema.TurnResponse{}, schema.ErrTransportUnavailable
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return schema.TurnResponse{}, schema.ErrEmptyPrompt
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.TurnResponse{}, err
	}
	baseLog := logx.WithUserChat(ctx, userID, req.ChatID)
	ctx = logx.ContextWithUserChatLogger(ctx, baseLog, userID, req.ChatID)
	log := baseLog.With("prompt_len", len(req.Prompt))

	if !s.acquireTurn(userID) {
		log.Warn("turn rejected", "err", schema.ErrTurnActive)
		return schema.TurnResponse{}, schema.ErrTurnActive
	}
	defer s.releaseTurn(userID)

	agent, err := s.agents.AgentFor(ctx, userID)
	if err != nil {
		log.Error("agent lookup failed", "err", err)
		return schema.TurnResponse{}, err
	}

	log.Info("turn start")
	started := time.Now()

	activityCtx, stopActivity := context.WithCancel(ctx)
	go signalActivity(activityCtx, s.transport, req.ChatID, s.cfg.ActivityInterval, log)
	defer stopActivity()

	stream := newTurnStream(ctx, agent, req.Prompt, log)
	renderer := newTurnRenderer(s.transport, req.ChatID, s.cfg, log)
	finalText, renderErr := renderer.render(ctx, stream)
	stopActivity()

	// Turn-boundary persistence runs on success and failure alike, in
	// transcript-then-notes order.
	s.persistTurn(log, userID, req.Prompt, finalText)

	if renderErr != nil {
		log.Warn("turn failed", "err", renderErr, "duration_ms", time.Since(started).Milliseconds())
		return schema.TurnResponse{}, renderErr
	}
	log.Info("turn finished", "text_len", len(finalText), "recovered", renderer.recovered, "duration_ms", time.Since(started).Milliseconds())
	return schema.TurnResponse{
		FinalText: finalText,
		MessageID: renderer.messageID,
		Recovered: renderer.recovered,
	}, nil
}

// persistTurn appends the turn to the transcript and a correlated note
// to every task touched during the turn. Both are best-effort: a
// storage failure here is logged, not surfaced, so the user still gets
// the reply that was already delivered.
func (s *service) persistTurn(log pslog.Logger, userID schema.UserID, prompt, finalText string) {
	now := time.Now().UTC()
	entries := []schema.TranscriptEntry{
		{Role: schema.RoleUser, Content: prompt, Timestamp: now},
	}
	if strings.TrimSpace(finalText) != "" {
		entries = append(entries, schema.TranscriptEntry{Role: schema.RoleAssistant, Content: finalText, Timestamp: now})
	}
	if err := s.transcripts.Append(userID, entries); err != nil {
		log.Warn("transcript append failed", "err", err)
	}

	touches := s.touches.Consume(userID)
	if len(touches) == 0 {
		return
	}
	note := turnNote(prompt, finalText, s.cfg.ExcerptMax)
	for _, touched := range touches {
		body := note
		if touched.Action != "" {
			body = fmt.Sprintf("Action: %s\n%s", touched.Action, note)
		}
		if err := s.tasks.AppendNote(userID, touched.TaskID, body); err != nil {
			logx.WithTask(log, touched.TaskID).Warn("task note append failed", "err", err)
			continue
		}
		logx.WithTask(log, touched.TaskID).Debug("task progress noted", "action", touched.Action)
	}
}

func (s *service) UpsertTask(ctx context.Context, req schema.UpsertTaskRequest) (schema.UpsertTaskResponse, error) {
	if ctx == nil {
		return schema.UpsertTaskResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.UpsertTaskResponse{}, err
	}
	log := logx.WithUser(ctx, userID)
	record, err := s.tasks.Upsert(userID, req.Update)
	if err != nil {
		log.Warn("task upsert failed", "err", err)
		return schema.UpsertTaskResponse{}, err
	}
	action := "updated"
	if req.Update.ID == "" || req.Update.ID != record.ID {
		action = "created"
	}
	s.touches.Touch(userID, record.ID, action)
	logx.WithTask(log, record.ID).Info("task upserted", "status", record.Status, "priority", record.Priority)
	return schema.UpsertTaskResponse{Task: record}, nil
}

func (s *service) AppendTaskNote(ctx context.Context, req schema.AppendTaskNoteRequest) error {
	if ctx == nil {
		return errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return err
	}
	log := logx.WithTask(logx.WithUser(ctx, userID), req.TaskID)
	if err := s.tasks.AppendNote(userID, req.TaskID, req.Note); err != nil {
		log.Warn("task note failed", "err", err)
		return err
	}
	s.touches.Touch(userID, req.TaskID, "noted")
	log.Info("task note appended")
	return nil
}

func (s *service) CompleteTask(ctx context.Context, req schema.CompleteTaskRequest) (schema.CompleteTaskResponse, error) {
	if ctx == nil {
		return schema.CompleteTaskResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.CompleteTaskResponse{}, err
	}
	log := logx.WithTask(logx.WithUser(ctx, userID), req.TaskID)
	record, err := s.tasks.Complete(userID, req.TaskID, req.Summary)
	if err != nil {
		log.Warn("task complete failed", "err", err)
		return schema.CompleteTaskResponse{}, err
	}
	s.touches.Touch(userID, record.ID, "completed")
	log.Info("task completed")
	return schema.CompleteTaskResponse{Task: record}, nil
}

func (s *service) ListTasks(ctx context.Context, req schema.ListTasksRequest) (schema.ListTasksResponse, error) {
	if ctx == nil {
		return schema.ListTasksResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.ListTasksResponse{}, err
	}
	records, err := s.tasks.List(userID)
	if err != nil {
		logx.WithUser(ctx, userID).Warn("task list failed", "err", err)
		return schema.ListTasksResponse{}, err
	}
	return schema.ListTasksResponse{Tasks: records}, nil
}

// TouchTask records that a task was referenced during the current turn.
// The stored action is overwritten by a later touch of the same task.
func (s *service) TouchTask(ctx context.Context, userID schema.UserID, taskID schema.TaskID, action string) {
	normalized, err := normalizeUserID(userID)
	if err != nil {
		return
	}
	s.touches.Touch(normalized, taskID, action)
	if ctx != nil {
		logx.WithTask(logx.WithUser(ctx, normalized), taskID).Trace("task touched", "action", action)
	}
}

func (s *service) AppendTranscript(ctx context.Context, req schema.AppendTranscriptRequest) error {
	if ctx == nil {
		return errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return err
	}
	return s.transcripts.Append(userID, req.Entries)
}

func (s *service) LoadTranscript(ctx context.Context, req schema.LoadTranscriptRequest) (schema.LoadTranscriptResponse, error) {
	if ctx == nil {
		return schema.LoadTranscriptResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.LoadTranscriptResponse{}, err
	}
	entries, err := s.transcripts.Load(userID)
	if err != nil {
		return schema.LoadTranscriptResponse{}, err
	}
	return schema.LoadTranscriptResponse{Entries: entries}, nil
}

func (s *service) ClearTranscript(ctx context.Context, req schema.ClearTranscriptRequest) error {
	if ctx == nil {
		return errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return err
	}
	if err := s.transcripts.Clear(userID); err != nil {
		logx.WithUser(ctx, userID).Warn("transcript clear failed", "err", err)
		return err
	}
	return nil
}

func (s *service) acquireTurn(userID schema.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[userID] {
		return false
	}
	s.active[userID] = true
	return true
}

func (s *service) releaseTurn(userID schema.UserID) {
	s.mu.Lock()
	delete(s.active, userID)
	s.mu.Unlock()
}

// turnNote is the correlated note body appended to touched task logs:
// length-capped excerpts of the user's message and the agent's reply.
func turnNote(prompt, finalText string, excerptMax int) string {
	var b strings.Builder
	b.WriteString("User: ")
	b.WriteString(excerpt(prompt, excerptMax))
	if strings.TrimSpace(finalText) != "" {
		b.WriteString("\nAssistant: ")
		b.WriteString(excerpt(finalText, excerptMax))
	}
	return b.String()
}

func excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}

func normalizeUserID(userID schema.UserID) (schema.UserID, error) {
	if err := schema.ValidateUserID(userID); err != nil {
		return "", schema.ErrInvalidUser
	}
	return userID, nil
}

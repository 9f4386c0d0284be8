package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pquerna/otp/totp"

	"pkt.systems/adjutant/internal/auth"
	"pkt.systems/adjutant/internal/telegram"
	"pkt.systems/adjutant/internal/transcript"
	"pkt.systems/adjutant/schema"
	"pkt.systems/pslog"
)

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		text    string
		command string
		rest    string
	}{
		{"/tasks", "/tasks", ""},
		{"/newtask Fix the boiler", "/newtask", "Fix the boiler"},
		{"/TASKS", "/tasks", ""},
		{"/done@adjutant_bot t-1 shipped", "/done", "t-1 shipped"},
		{"hello there", "", "hello there"},
		{"/done   t-1  ", "/done", "t-1"},
	}
	for _, tc := range cases {
		command, rest := splitCommand(tc.text)
		if command != tc.command || rest != tc.rest {
			t.Errorf("splitCommand(%q) = %q, %q, want %q, %q", tc.text, command, rest, tc.command, tc.rest)
		}
	}
}

type stubService struct {
	mu          sync.Mutex
	turns       []schema.TurnRequest
	turnErr     error
	turnDone    chan struct{}
	tasks       []schema.TaskRecord
	completed   []schema.TaskID
	completeErr error
	cleared     []schema.UserID
}

func (s *stubService) RunTurn(ctx context.Context, req schema.TurnRequest) (schema.TurnResponse, error) {
	s.mu.Lock()
	s.turns = append(s.turns, req)
	s.mu.Unlock()
	if s.turnDone != nil {
		defer close(s.turnDone)
	}
	return schema.TurnResponse{}, s.turnErr
}

func (s *stubService) UpsertTask(ctx context.Context, req schema.UpsertTaskRequest) (schema.UpsertTaskResponse, error) {
	title := ""
	if req.Update.Title != nil {
		title = *req.Update.Title
	}
	return schema.UpsertTaskResponse{Task: schema.TaskRecord{ID: "t-1", Title: title}}, nil
}

func (s *stubService) AppendTaskNote(ctx context.Context, req schema.AppendTaskNoteRequest) error {
	return nil
}

func (s *stubService) CompleteTask(ctx context.Context, req schema.CompleteTaskRequest) (schema.CompleteTaskResponse, error) {
	if s.completeErr != nil {
		return schema.CompleteTaskResponse{}, s.completeErr
	}
	s.mu.Lock()
	s.completed = append(s.completed, req.TaskID)
	s.mu.Unlock()
	return schema.CompleteTaskResponse{Task: schema.TaskRecord{ID: req.TaskID, Title: "done task"}}, nil
}

func (s *stubService) ListTasks(ctx context.Context, req schema.ListTasksRequest) (schema.ListTasksResponse, error) {
	return schema.ListTasksResponse{Tasks: s.tasks}, nil
}

func (s *stubService) TouchTask(ctx context.Context, userID schema.UserID, taskID schema.TaskID, action string) {
}

func (s *stubService) AppendTranscript(ctx context.Context, req schema.AppendTranscriptRequest) error {
	return nil
}

func (s *stubService) LoadTranscript(ctx context.Context, req schema.LoadTranscriptRequest) (schema.LoadTranscriptResponse, error) {
	return schema.LoadTranscriptResponse{}, nil
}

func (s *stubService) ClearTranscript(ctx context.Context, req schema.ClearTranscriptRequest) error {
	s.mu.Lock()
	s.cleared = append(s.cleared, req.UserID)
	s.mu.Unlock()
	return nil
}

type stubTransport struct {
	mu      sync.Mutex
	replies []string
}

func (s *stubTransport) Create(ctx context.Context, chatID schema.ChatID, text string, spans []schema.FormatSpan) (schema.MessageID, error) {
	s.mu.Lock()
	s.replies = append(s.replies, text)
	s.mu.Unlock()
	return schema.MessageID(fmt.Sprintf("%d", len(s.replies))), nil
}

func (s *stubTransport) Edit(ctx context.Context, chatID schema.ChatID, messageID schema.MessageID, text string, spans []schema.FormatSpan) error {
	return nil
}

func (s *stubTransport) MaxLength() int { return 4096 }

func (s *stubTransport) SignalActivity(ctx context.Context, chatID schema.ChatID) error { return nil }

func (s *stubTransport) lastReply(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		t.Fatalf("no reply sent")
	}
	return s.replies[len(s.replies)-1]
}

func testLogger() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.ErrorLevel,
	})
}

// pairedDispatcher wires a dispatcher whose account store already has
// chat 100 bound to user alice.
func pairedDispatcher(t *testing.T, svc *stubService) (*dispatcher, *stubTransport) {
	t.Helper()
	store, err := auth.NewStore(filepath.Join(t.TempDir(), "accounts.json"))
	if err != nil {
		t.Fatalf("auth store: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("passphrase"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "adjutant-test", AccountName: "alice"})
	if err != nil {
		t.Fatalf("totp: %v", err)
	}
	if err := store.AddAccount(auth.Account{
		Username:       "alice",
		PassphraseHash: string(hash),
		TOTPSecret:     key.Secret(),
	}); err != nil {
		t.Fatalf("add account: %v", err)
	}
	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	if err := store.Pair("alice", "passphrase", code, schema.ChatID("100")); err != nil {
		t.Fatalf("pair: %v", err)
	}
	transport := &stubTransport{}
	return &dispatcher{
		svc:       svc,
		accounts:  store,
		transport: transport,
		log:       testLogger(),
	}, transport
}

func inboundMessage(chatID int64, text string) *telegram.Message {
	return &telegram.Message{Text: text, Chat: telegram.Chat{ID: chatID}}
}

func TestDispatcherRejectsUnpairedChat(t *testing.T) {
	d, transport := pairedDispatcher(t, &stubService{})
	d.handle(context.Background(), inboundMessage(999, "hello"))
	reply := transport.lastReply(t)
	if reply != "This chat is not paired. Use /pair <username> <passphrase> <totp>." {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestDispatcherRunsTurnForPlainText(t *testing.T) {
	svc := &stubService{turnDone: make(chan struct{})}
	d, _ := pairedDispatcher(t, svc)
	d.handle(context.Background(), inboundMessage(100, "look into the logs"))
	select {
	case <-svc.turnDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("turn never started")
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.turns) != 1 {
		t.Fatalf("expected one turn, got %d", len(svc.turns))
	}
	turn := svc.turns[0]
	if turn.UserID != "alice" || turn.ChatID != "100" || turn.Prompt != "look into the logs" {
		t.Fatalf("unexpected turn request: %+v", turn)
	}
}

func TestDispatcherReportsBusyTurn(t *testing.T) {
	svc := &stubService{turnDone: make(chan struct{}), turnErr: schema.ErrTurnActive}
	d, transport := pairedDispatcher(t, svc)
	d.handle(context.Background(), inboundMessage(100, "another prompt"))
	<-svc.turnDone
	deadline := time.Now().Add(2 * time.Second)
	for {
		transport.mu.Lock()
		n := len(transport.replies)
		transport.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("busy notice never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if reply := transport.lastReply(t); reply != "Still working on your previous message." {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestDispatcherListsTasks(t *testing.T) {
	svc := &stubService{tasks: []schema.TaskRecord{
		{ID: "t-1", Title: "Fix the boiler", Status: schema.TaskActive, Priority: schema.PriorityHigh},
	}}
	d, transport := pairedDispatcher(t, svc)
	d.handle(context.Background(), inboundMessage(100, "/tasks"))
	reply := transport.lastReply(t)
	if reply != "t-1 [active/high] Fix the boiler" {
		t.Fatalf("unexpected task listing: %q", reply)
	}
}

func TestDispatcherCreatesTask(t *testing.T) {
	d, transport := pairedDispatcher(t, &stubService{})
	d.handle(context.Background(), inboundMessage(100, "/newtask Water the plants"))
	reply := transport.lastReply(t)
	if reply != "Created task t-1: Water the plants" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestDispatcherCompletesTask(t *testing.T) {
	svc := &stubService{}
	d, transport := pairedDispatcher(t, svc)
	d.handle(context.Background(), inboundMessage(100, "/done t-1 all wrapped up"))
	if reply := transport.lastReply(t); reply != "Completed task t-1: done task" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(svc.completed) != 1 || svc.completed[0] != "t-1" {
		t.Fatalf("complete not recorded: %+v", svc.completed)
	}
}

func TestDispatcherReportsMissingTask(t *testing.T) {
	svc := &stubService{completeErr: schema.ErrTaskNotFound}
	d, transport := pairedDispatcher(t, svc)
	d.handle(context.Background(), inboundMessage(100, "/done t-404"))
	if reply := transport.lastReply(t); reply != "No such task." {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestDispatcherClearsTranscript(t *testing.T) {
	svc := &stubService{}
	d, transport := pairedDispatcher(t, svc)
	d.handle(context.Background(), inboundMessage(100, "/forget"))
	if reply := transport.lastReply(t); reply != "Transcript cleared." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(svc.cleared) != 1 || svc.cleared[0] != "alice" {
		t.Fatalf("clear not recorded: %+v", svc.cleared)
	}
}

func TestDispatcherRejectsUnknownCommand(t *testing.T) {
	d, transport := pairedDispatcher(t, &stubService{})
	d.handle(context.Background(), inboundMessage(100, "/frobnicate now"))
	if reply := transport.lastReply(t); reply != "Unknown command /frobnicate." {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestDispatcherPairsChat(t *testing.T) {
	d, transport := pairedDispatcher(t, &stubService{})
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "adjutant-test", AccountName: "bob"})
	if err != nil {
		t.Fatalf("totp: %v", err)
	}
	if err := d.accounts.AddAccount(auth.Account{
		Username:       "bob",
		PassphraseHash: string(hash),
		TOTPSecret:     key.Secret(),
	}); err != nil {
		t.Fatalf("add account: %v", err)
	}
	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	d.handle(context.Background(), inboundMessage(200, "/pair bob secret "+code))
	if reply := transport.lastReply(t); reply != "Paired. Hello bob." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	userID, err := d.accounts.UserForChat(schema.ChatID("200"))
	if err != nil || userID != "bob" {
		t.Fatalf("chat not bound: %v %v", userID, err)
	}
}

func TestDispatcherRejectsBadPairing(t *testing.T) {
	d, transport := pairedDispatcher(t, &stubService{})
	d.handle(context.Background(), inboundMessage(200, "/pair alice wrongpass 000000"))
	if reply := transport.lastReply(t); reply != "Pairing failed." {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestAgentHistoryRehydratesFromTranscript(t *testing.T) {
	dir := t.TempDir()
	store, err := transcript.NewStore(dir)
	if err != nil {
		t.Fatalf("transcript store: %v", err)
	}
	now := time.Now()
	err = store.Append("alice", []schema.TranscriptEntry{
		{Role: schema.RoleUser, Content: "where were we", Timestamp: now},
		{Role: schema.RoleAssistant, Content: "Halfway through the migration.", Timestamp: now},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// A second store over the same directory stands in for a restarted
	// process reading back what the previous one wrote.
	reopened, err := transcript.NewStore(dir)
	if err != nil {
		t.Fatalf("reopen transcript store: %v", err)
	}
	entries, err := reopened.Load("alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	messages := agentHistory(entries)
	if len(messages) != 2 {
		t.Fatalf("expected two seeded messages, got %+v", messages)
	}
	if messages[0].Role != schema.RoleUser || messages[0].Text() != "where were we" {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	if messages[1].Role != schema.RoleAssistant || messages[1].Text() != "Halfway through the migration." {
		t.Fatalf("unexpected second message: %+v", messages[1])
	}
}

func TestPollUpdatesAdvancesOffsetAndDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var offsets []int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		offset := int64(0)
		if raw, ok := payload["offset"].(float64); ok {
			offset = int64(raw)
		}
		mu.Lock()
		offsets = append(offsets, offset)
		first := len(offsets) == 1
		mu.Unlock()
		if first {
			_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":41,"message":{"message_id":7,"text":"hi","chat":{"id":100}}}]}`))
			return
		}
		cancel()
		_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
	}))
	defer server.Close()

	client, err := telegram.NewClient(telegram.Config{Token: "test-token", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	var delivered []string
	err = pollUpdates(ctx, client, 0, testLogger(), func(ctx context.Context, message *telegram.Message) {
		delivered = append(delivered, message.Text)
	})
	if err != nil {
		t.Fatalf("pollUpdates: %v", err)
	}
	if len(delivered) != 1 || delivered[0] != "hi" {
		t.Fatalf("unexpected deliveries: %+v", delivered)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(offsets) < 2 || offsets[1] != 42 {
		t.Fatalf("offset not advanced: %+v", offsets)
	}
}

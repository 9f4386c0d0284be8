// Package taskstore persists per-user task indexes and append-only task
// logs. One JSON index file per user, rewritten wholesale on every
// mutation, plus one markdown log per task. Correctness relies on one
// logical writer per user; there is no cross-process locking.
package taskstore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"pkt.systems/adjutant/schema"
	"pkt.systems/pslog"
)

const (
	indexFile  = "tasks.json"
	logDirName = "tasklogs"

	sectionNote      = "Note"
	sectionCompleted = "Completed"
)

// Store persists task records and logs under a state directory.
type Store struct {
	dir string
	log pslog.Logger
	now func() time.Time
}

// NewStore constructs a task store rooted at dir.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a task store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("task directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("task_dir", dir)
	}
	return &Store{dir: dir, log: logger, now: time.Now}, nil
}

// Upsert creates a task or merges the provided fields into an existing
// record. Absent fields are left unchanged; UpdatedAt and LastWorkedAt
// are bumped on every call. The task's log file is guaranteed to exist
// afterwards.
func (s *Store) Upsert(userID schema.UserID, update schema.TaskUpdate) (schema.TaskRecord, error) {
	if err := validateUpdate(update); err != nil {
		return schema.TaskRecord{}, err
	}
	records, err := s.loadIndex(userID)
	if err != nil {
		return schema.TaskRecord{}, err
	}
	now := s.now().UTC()

	idx := -1
	if update.ID != "" {
		idx = findRecord(records, update.ID)
	}
	var record schema.TaskRecord
	created := false
	if idx >= 0 {
		record = records[idx]
		mergeUpdate(&record, update)
		record.UpdatedAt = now
		record.LastWorkedAt = now
		records[idx] = record
	} else {
		title := ""
		if update.Title != nil {
			title = strings.TrimSpace(*update.Title)
		}
		if title == "" {
			return schema.TaskRecord{}, schema.ErrEmptyTitle
		}
		record = schema.TaskRecord{
			ID:           s.newTaskID(records),
			UserID:       userID,
			Title:        title,
			Status:       schema.TaskActive,
			Priority:     schema.PriorityMedium,
			CreatedAt:    now,
			UpdatedAt:    now,
			LastWorkedAt: now,
		}
		if update.Status != nil {
			record.Status = *update.Status
		}
		if update.Priority != nil {
			record.Priority = *update.Priority
		}
		if update.Summary != nil {
			record.Summary = strings.TrimSpace(*update.Summary)
		}
		records = append(records, record)
		created = true
	}
	if err := s.saveIndex(userID, records); err != nil {
		return schema.TaskRecord{}, err
	}
	if err := s.ensureLog(userID, record); err != nil {
		return schema.TaskRecord{}, err
	}
	if s.log != nil {
		s.log.Debug("task upserted", "user", userID, "task", record.ID, "created", created, "status", record.Status)
	}
	return record, nil
}

// AppendNote appends a timestamped note block to an existing task's log.
// The task record itself is not modified.
func (s *Store) AppendNote(userID schema.UserID, taskID schema.TaskID, note string) error {
	if strings.TrimSpace(note) == "" {
		return schema.ErrEmptyNote
	}
	records, err := s.loadIndex(userID)
	if err != nil {
		return err
	}
	idx := findRecord(records, taskID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", schema.ErrTaskNotFound, taskID)
	}
	if err := s.ensureLog(userID, records[idx]); err != nil {
		return err
	}
	if err := s.appendBlock(userID, taskID, sectionNote, note); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Debug("task note appended", "user", userID, "task", taskID, "note_len", len(note))
	}
	return nil
}

// Complete marks a task completed, updating its summary when provided,
// and records a completion note in the log.
func (s *Store) Complete(userID schema.UserID, taskID schema.TaskID, summary string) (schema.TaskRecord, error) {
	records, err := s.loadIndex(userID)
	if err != nil {
		return schema.TaskRecord{}, err
	}
	if findRecord(records, taskID) < 0 {
		return schema.TaskRecord{}, fmt.Errorf("%w: %s", schema.ErrTaskNotFound, taskID)
	}
	status := schema.TaskCompleted
	update := schema.TaskUpdate{ID: taskID, Status: &status}
	if strings.TrimSpace(summary) != "" {
		update.Summary = &summary
	}
	record, err := s.Upsert(userID, update)
	if err != nil {
		return schema.TaskRecord{}, err
	}
	body := "Task completed."
	if record.Summary != "" {
		body = record.Summary
	}
	if err := s.appendBlock(userID, taskID, sectionCompleted, body); err != nil {
		return schema.TaskRecord{}, err
	}
	if s.log != nil {
		s.log.Info("task completed", "user", userID, "task", taskID)
	}
	return record, nil
}

// List returns the user's records ordered most-recently-updated first.
// Status filtering is the caller's responsibility.
func (s *Store) List(userID schema.UserID) ([]schema.TaskRecord, error) {
	records, err := s.loadIndex(userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records, nil
}

// Get returns one record by id.
func (s *Store) Get(userID schema.UserID, taskID schema.TaskID) (schema.TaskRecord, error) {
	records, err := s.loadIndex(userID)
	if err != nil {
		return schema.TaskRecord{}, err
	}
	idx := findRecord(records, taskID)
	if idx < 0 {
		return schema.TaskRecord{}, fmt.Errorf("%w: %s", schema.ErrTaskNotFound, taskID)
	}
	return records[idx], nil
}

// LogPath returns the task's log file path.
func (s *Store) LogPath(userID schema.UserID, taskID schema.TaskID) string {
	return filepath.Join(s.userDir(userID), logDirName, sanitize(string(taskID))+".md")
}

func validateUpdate(update schema.TaskUpdate) error {
	if update.Status != nil && !update.Status.Valid() {
		return fmt.Errorf("%w: %q", schema.ErrInvalidStatus, *update.Status)
	}
	if update.Priority != nil && !update.Priority.Valid() {
		return fmt.Errorf("%w: %q", schema.ErrInvalidPriority, *update.Priority)
	}
	if update.Title != nil && strings.TrimSpace(*update.Title) == "" {
		return schema.ErrEmptyTitle
	}
	return nil
}

func mergeUpdate(record *schema.TaskRecord, update schema.TaskUpdate) {
	if update.Title != nil {
		record.Title = strings.TrimSpace(*update.Title)
	}
	if update.Status != nil {
		record.Status = *update.Status
	}
	if update.Priority != nil {
		record.Priority = *update.Priority
	}
	if update.Summary != nil {
		record.Summary = strings.TrimSpace(*update.Summary)
	}
}

func findRecord(records []schema.TaskRecord, id schema.TaskID) int {
	for i, record := range records {
		if record.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) newTaskID(records []schema.TaskRecord) schema.TaskID {
	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			// crypto/rand does not fail on supported platforms; fall
			// back to a time-derived id rather than panic.
			return schema.TaskID(fmt.Sprintf("task-%d", s.now().UnixNano()))
		}
		id := schema.TaskID(hex.EncodeToString(buf[:]))
		if findRecord(records, id) < 0 {
			return id
		}
	}
}

func (s *Store) loadIndex(userID schema.UserID) ([]schema.TaskRecord, error) {
	data, err := os.ReadFile(s.indexPath(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if s.log != nil {
			s.log.Warn("task index load failed", "user", userID, "err", err)
		}
		return nil, err
	}
	var records []schema.TaskRecord
	if err := json.Unmarshal(data, &records); err != nil {
		if s.log != nil {
			s.log.Warn("task index load failed", "user", userID, "err", err)
		}
		return nil, err
	}
	return records, nil
}

func (s *Store) saveIndex(userID schema.UserID, records []schema.TaskRecord) error {
	path := s.indexPath(userID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "tasks-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		if s.log != nil {
			s.log.Warn("task index save failed", "user", userID, "err", err)
		}
		return err
	}
	return nil
}

// ensureLog creates the task's log file with a header block when missing.
func (s *Store) ensureLog(userID schema.UserID, record schema.TaskRecord) error {
	path := s.LogPath(userID, record.ID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", record.Title)
	fmt.Fprintf(&b, "- id: %s\n", record.ID)
	fmt.Fprintf(&b, "- status: %s\n", record.Status)
	fmt.Fprintf(&b, "- priority: %s\n", record.Priority)
	fmt.Fprintf(&b, "- created: %s\n", record.CreatedAt.Format(time.RFC3339))
	if record.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", record.Summary)
	}
	b.WriteString("\n---\n")
	return os.WriteFile(path, []byte(b.String()), 0o600)
}

// appendBlock writes one timestamped log block:
// "## <timestamp>\n### <section>\n<body>\n\n---\n".
func (s *Store) appendBlock(userID schema.UserID, taskID schema.TaskID, section, body string) error {
	path := s.LogPath(userID, taskID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	block := fmt.Sprintf("\n## %s\n### %s\n%s\n\n---\n",
		s.now().UTC().Format(time.RFC3339), section, strings.TrimRight(body, "\n"))
	if _, err := f.WriteString(block); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) userDir(userID schema.UserID) string {
	name := sanitize(string(userID))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name)
}

func (s *Store) indexPath(userID schema.UserID) string {
	return filepath.Join(s.userDir(userID), indexFile)
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}

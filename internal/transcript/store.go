// Package transcript persists per-user conversation transcripts as one
// JSON object per line. Loads tolerate malformed lines so a damaged
// transcript degrades instead of blocking rehydration.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"pkt.systems/adjutant/schema"
	"pkt.systems/pslog"
)

const transcriptFile = "transcript.jsonl"

// Store persists transcripts under a state directory.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a transcript store rooted at dir.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a transcript store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("transcript directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("transcript_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Append writes one serialized line per entry. No-op for an empty slice.
func (s *Store) Append(userID schema.UserID, entries []schema.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	path := s.pathForUser(userID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			_ = f.Close()
			return err
		}
		if _, err := w.Write(data); err != nil {
			_ = f.Close()
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Debug("transcript appended", "user", userID, "entries", len(entries))
	}
	return nil
}

// Load reads all entries in append order, silently skipping lines that
// fail to parse or fail structural validation.
func (s *Store) Load(userID schema.UserID) ([]schema.TranscriptEntry, error) {
	f, err := os.Open(s.pathForUser(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []schema.TranscriptEntry
	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry schema.TranscriptEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			skipped++
			continue
		}
		if !schema.ValidTranscriptEntry(entry) {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 && s.log != nil {
		s.log.Warn("transcript load skipped lines", "user", userID, "skipped", skipped, "loaded", len(entries))
	}
	return entries, nil
}

// Clear deletes the user's transcript. Missing files are not an error.
func (s *Store) Clear(userID schema.UserID) error {
	err := os.Remove(s.pathForUser(userID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if s.log != nil {
		s.log.Debug("transcript cleared", "user", userID)
	}
	return nil
}

func (s *Store) pathForUser(userID schema.UserID) string {
	name := sanitize(string(userID))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name, transcriptFile)
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

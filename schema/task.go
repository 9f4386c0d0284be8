package schema

import "time"

// TaskRecord is one entry in a user's task index. Records are never
// deleted; finished tasks transition to completed and stay listed.
type TaskRecord struct {
	ID           TaskID       `json:"id"`
	UserID       UserID       `json:"user_id"`
	Title        string       `json:"title"`
	Status       TaskStatus   `json:"status"`
	Priority     TaskPriority `json:"priority"`
	Summary      string       `json:"summary,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	LastWorkedAt time.Time    `json:"last_worked_at"`
}

// TaskUpdate is a partial update for Upsert. Nil fields leave the stored
// value unchanged; an empty ID creates a new record.
type TaskUpdate struct {
	ID       TaskID
	Title    *string
	Status   *TaskStatus
	Priority *TaskPriority
	Summary  *string
}

// TranscriptEntry is one turn half persisted to a user's transcript.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidTranscriptEntry reports whether a loaded entry passes structural
// validation. Malformed lines are skipped on load, never fatal.
func ValidTranscriptEntry(entry TranscriptEntry) bool {
	return entry.Role.Valid() && entry.Content != "" && !entry.Timestamp.IsZero()
}

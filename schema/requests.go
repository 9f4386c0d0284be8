package schema

// Turn lifecycle.

// TurnRequest describes one user message to run through the agent.
type TurnRequest struct {
	UserID UserID
	ChatID ChatID
	Prompt string
}

// TurnResponse reports the rendered final text of a turn.
type TurnResponse struct {
	FinalText string
	MessageID MessageID
	// Recovered is true when the final text came from the terminal
	// event's embedded history instead of streamed deltas.
	Recovered bool
}

// Task operations.

// UpsertTaskRequest describes a create-or-merge of a task record.
type UpsertTaskRequest struct {
	UserID UserID
	Update TaskUpdate
}

// UpsertTaskResponse reports the stored record.
type UpsertTaskResponse struct {
	Task TaskRecord
}

// AppendTaskNoteRequest describes a note appended to an existing task log.
type AppendTaskNoteRequest struct {
	UserID UserID
	TaskID TaskID
	Note   string
}

// CompleteTaskRequest describes a task completion.
type CompleteTaskRequest struct {
	UserID  UserID
	TaskID  TaskID
	Summary string
}

// CompleteTaskResponse reports the completed record.
type CompleteTaskResponse struct {
	Task TaskRecord
}

// ListTasksRequest describes a request to list a user's tasks.
type ListTasksRequest struct {
	UserID UserID
}

// ListTasksResponse reports records ordered most-recently-updated first.
type ListTasksResponse struct {
	Tasks []TaskRecord
}

// Transcript operations.

// AppendTranscriptRequest describes transcript entries to persist.
type AppendTranscriptRequest struct {
	UserID  UserID
	Entries []TranscriptEntry
}

// LoadTranscriptRequest describes a transcript load.
type LoadTranscriptRequest struct {
	UserID UserID
}

// LoadTranscriptResponse reports entries in append order.
type LoadTranscriptResponse struct {
	Entries []TranscriptEntry
}

// ClearTranscriptRequest describes a transcript reset.
type ClearTranscriptRequest struct {
	UserID UserID
}

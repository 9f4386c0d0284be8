package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidUser indicates an invalid user identifier.
	ErrInvalidUser = errors.New("invalid user")
	// ErrEmptyPrompt indicates the user message was empty.
	ErrEmptyPrompt = errors.New("empty prompt")
	// ErrEmptyTitle indicates a task was created without a title.
	ErrEmptyTitle = errors.New("empty task title")
	// ErrEmptyNote indicates an empty note body.
	ErrEmptyNote = errors.New("empty note")
	// ErrTaskNotFound indicates the task id is absent from the user's index.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidStatus indicates an unknown task status value.
	ErrInvalidStatus = errors.New("invalid task status")
	// ErrInvalidPriority indicates an unknown task priority value.
	ErrInvalidPriority = errors.New("invalid task priority")
	// ErrTurnActive indicates a turn is already running for the user.
	ErrTurnActive = errors.New("turn already active")
	// ErrMessageUnchanged indicates the transport rejected an edit because
	// the content is identical to the existing message. Callers treat it
	// as a successful no-op.
	ErrMessageUnchanged = errors.New("message unchanged")
	// ErrAgentUnavailable indicates no agent source is configured.
	ErrAgentUnavailable = errors.New("agent not configured")
	// ErrTransportUnavailable indicates no chat transport is configured.
	ErrTransportUnavailable = errors.New("transport not configured")
	// ErrChatNotPaired indicates the chat has not completed pairing.
	ErrChatNotPaired = errors.New("chat not paired")
)

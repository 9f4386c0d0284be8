package schema

// UserID identifies a user of the assistant.
type UserID string

// TaskID identifies a long-running task in a user's index.
type TaskID string

// ChatID identifies a chat on the transport side.
type ChatID string

// MessageID identifies an outbound message on the transport side.
type MessageID string

// ToolName identifies an agent tool invocation.
type ToolName string

// Role identifies the author of a transcript entry or agent message.
type Role string

const (
	// RoleUser marks input authored by the user.
	RoleUser Role = "user"
	// RoleAssistant marks output authored by the agent.
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	// TaskActive marks a task being worked on.
	TaskActive TaskStatus = "active"
	// TaskBlocked marks a task waiting on something external.
	TaskBlocked TaskStatus = "blocked"
	// TaskCompleted marks a finished task. Tasks are never deleted.
	TaskCompleted TaskStatus = "completed"
)

// Valid reports whether the status is one of the known values.
func (s TaskStatus) Valid() bool {
	return s == TaskActive || s == TaskBlocked || s == TaskCompleted
}

// TaskPriority ranks a task.
type TaskPriority string

const (
	// PriorityLow is the lowest task priority.
	PriorityLow TaskPriority = "low"
	// PriorityMedium is the default task priority.
	PriorityMedium TaskPriority = "medium"
	// PriorityHigh is the highest task priority.
	PriorityHigh TaskPriority = "high"
)

// Valid reports whether the priority is one of the known values.
func (p TaskPriority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// SpanKind is the formatting applied over a span of rendered text.
type SpanKind string

const (
	// SpanBold marks bold text.
	SpanBold SpanKind = "bold"
	// SpanCode marks inline code.
	SpanCode SpanKind = "code"
	// SpanPre marks a preformatted block.
	SpanPre SpanKind = "pre"
)

// FormatSpan annotates a range of rendered plain text. Offset is a byte
// position into the output text; Length is always positive and the span
// never extends past the end of the text.
type FormatSpan struct {
	Kind   SpanKind
	Offset int
	Length int
}

// End returns the exclusive end offset of the span.
func (s FormatSpan) End() int {
	return s.Offset + s.Length
}

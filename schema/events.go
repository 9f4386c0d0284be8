package schema

// EventType discriminates agent stream events.
type EventType string

const (
	// EventTextDelta carries an incremental chunk of assistant text.
	EventTextDelta EventType = "text_delta"
	// EventToolStart indicates the agent began a tool invocation.
	EventToolStart EventType = "tool_start"
	// EventMessageEnd indicates the agent finished one assistant message.
	EventMessageEnd EventType = "message_end"
	// EventTurnEnd terminates a turn. Exactly one per turn.
	EventTurnEnd EventType = "turn_end"
)

// AgentEvent is the normalized event shape emitted by an agent source.
// The variant is closed: consumers switch exhaustively on Type.
type AgentEvent struct {
	Type EventType `json:"type"`
	// Delta is set for text_delta events.
	Delta string `json:"delta,omitempty"`
	// Tool is set for tool_start events.
	Tool ToolName `json:"tool,omitempty"`
	// Message is set for message_end events when the agent reports the
	// completed message.
	Message *AgentMessage `json:"message,omitempty"`
	// Messages carries the turn's message history on turn_end events.
	Messages []AgentMessage `json:"messages,omitempty"`
	// Err is set on turn_end when the turn failed. Not serialized; the
	// wire shape carries ErrText instead.
	Err error `json:"-"`
	// ErrText is the wire form of a turn_end failure.
	ErrText string `json:"error,omitempty"`
}

// Terminal reports whether the event ends the turn.
func (e AgentEvent) Terminal() bool {
	return e.Type == EventTurnEnd
}

// AgentMessage is one message in the agent's history.
type AgentMessage struct {
	Role Role `json:"role"`
	// Segments are the message's text parts in order. Non-text parts are
	// dropped by the agent source before events reach the core.
	Segments []string `json:"segments,omitempty"`
}

// Text concatenates the message's segments.
func (m AgentMessage) Text() string {
	switch len(m.Segments) {
	case 0:
		return ""
	case 1:
		return m.Segments[0]
	}
	total := 0
	for _, seg := range m.Segments {
		total += len(seg)
	}
	buf := make([]byte, 0, total)
	for _, seg := range m.Segments {
		buf = append(buf, seg...)
	}
	return string(buf)
}

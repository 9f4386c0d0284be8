package agentproc

import (
	"encoding/json"
	"errors"
	"fmt"

	"pkt.systems/adjutant/schema"
)

// decodeEvent parses one stdout line of the agent CLI into a normalized
// event. The wire shape matches schema.AgentEvent's JSON tags; turn_end
// failures arrive as an "error" string and are rehydrated into Err.
func decodeEvent(line []byte) (schema.AgentEvent, error) {
	var event schema.AgentEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return schema.AgentEvent{}, err
	}
	switch event.Type {
	case schema.EventTextDelta, schema.EventToolStart, schema.EventMessageEnd, schema.EventTurnEnd:
	case "":
		return schema.AgentEvent{}, errors.New("missing event type")
	default:
		return schema.AgentEvent{}, fmt.Errorf("unknown event type: %s", event.Type)
	}
	if event.Type == schema.EventTurnEnd && event.ErrText != "" {
		event.Err = errors.New(event.ErrText)
	}
	return event, nil
}

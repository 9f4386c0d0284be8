// Package touch tracks which tasks were referenced during the current
// turn. Touches live in process memory only; a restart loses unconsumed
// touches, which is acceptable because they drive auxiliary log notes,
// not the task index itself.
package touch

import (
	"sync"
	"time"

	"pkt.systems/adjutant/schema"
)

// Touch records the latest action taken against a task during a turn.
type Touch struct {
	TaskID schema.TaskID
	Action string
	At     time.Time
}

// Recorder holds per-user touches between Touch and Consume calls.
type Recorder struct {
	mu      sync.Mutex
	touches map[schema.UserID][]Touch
	now     func() time.Time
}

// NewRecorder constructs an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		touches: make(map[schema.UserID][]Touch),
		now:     time.Now,
	}
}

// Touch records that taskID was referenced with the given action. A
// second touch for the same task in the same turn overwrites the stored
// action and refreshes its recency.
func (r *Recorder) Touch(userID schema.UserID, taskID schema.TaskID, action string) {
	if r == nil || userID == "" || taskID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.touches[userID]
	for i, existing := range list {
		if existing.TaskID == taskID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	r.touches[userID] = append(list, Touch{TaskID: taskID, Action: action, At: r.now()})
}

// Consume atomically returns and clears the user's touches, most recent
// first. Called exactly once per turn after the final text is known.
func (r *Recorder) Consume(userID schema.UserID) []Touch {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.touches[userID]
	if len(list) == 0 {
		return nil
	}
	delete(r.touches, userID)
	out := make([]Touch, len(list))
	for i, entry := range list {
		out[len(list)-1-i] = entry
	}
	return out
}

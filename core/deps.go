package core

import (
	"pkt.systems/adjutant/internal/taskstore"
	"pkt.systems/adjutant/internal/touch"
	"pkt.systems/adjutant/internal/transcript"
	"pkt.systems/pslog"
)

// ServiceDeps captures dependencies for the core service. Tasks,
// Transcripts and Touches are constructed from the config's state
// directory when nil.
type ServiceDeps struct {
	Agent       AgentProvider
	Transport   ChatTransport
	Tasks       *taskstore.Store
	Transcripts *transcript.Store
	Touches     *touch.Recorder
	Logger      pslog.Logger
}

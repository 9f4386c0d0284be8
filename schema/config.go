package schema

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	// StateDir is the root for per-user task indexes, task logs and
	// transcripts.
	StateDir string
	// EditThrottle is the minimum time between consecutive streaming
	// edits of the outbound message. Message creation is never delayed.
	EditThrottle time.Duration
	// ActivityInterval is how often the "typing" activity signal is
	// re-sent to the transport while a turn is running.
	ActivityInterval time.Duration
	// MaxMessageLength caps outbound message text. Used when the
	// transport does not report its own limit.
	MaxMessageLength int
	// ExcerptMax caps the user/assistant excerpts embedded in
	// touch-correlated task notes.
	ExcerptMax int
}

const (
	// DefaultEditThrottle is the default streaming edit interval.
	DefaultEditThrottle = time.Second
	// DefaultActivityInterval is the default typing-signal interval.
	DefaultActivityInterval = 4 * time.Second
	// DefaultMaxMessageLength matches the Telegram message limit.
	DefaultMaxMessageLength = 4096
	// DefaultExcerptMax is the default note excerpt cap.
	DefaultExcerptMax = 200
)

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".adjutant", "state")
	}
	if cfg.EditThrottle <= 0 {
		cfg.EditThrottle = DefaultEditThrottle
	}
	if cfg.ActivityInterval <= 0 {
		cfg.ActivityInterval = DefaultActivityInterval
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.ExcerptMax <= 0 {
		cfg.ExcerptMax = DefaultExcerptMax
	}
	if cfg.MaxMessageLength < 16 {
		return ServiceConfig{}, errors.New("max message length too small")
	}
	return cfg, nil
}

package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string         `mapstructure:"state_dir" yaml:"state_dir"`
	Service       ServiceConfig  `mapstructure:"service" yaml:"service"`
	Agent         AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Telegram      TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Auth          AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Browse        BrowseConfig   `mapstructure:"browse" yaml:"browse"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ServiceConfig controls session controller behavior.
type ServiceConfig struct {
	EditThrottleMS     int `mapstructure:"edit_throttle_ms" yaml:"edit_throttle_ms"`
	ActivityIntervalMS int `mapstructure:"activity_interval_ms" yaml:"activity_interval_ms"`
	MaxMessageLength   int `mapstructure:"max_message_length" yaml:"max_message_length"`
	ExcerptMax         int `mapstructure:"excerpt_max" yaml:"excerpt_max"`
}

// AgentConfig configures the agent CLI subprocess.
type AgentConfig struct {
	Binary  string   `mapstructure:"binary" yaml:"binary"`
	Args    []string `mapstructure:"args" yaml:"args"`
	Env     []string `mapstructure:"env" yaml:"env"`
	WorkDir string   `mapstructure:"work_dir" yaml:"work_dir"`
}

// TelegramConfig configures the Bot API transport.
type TelegramConfig struct {
	Token              string `mapstructure:"token" yaml:"token"`
	BaseURL            string `mapstructure:"base_url" yaml:"base_url"`
	PollTimeoutSeconds int    `mapstructure:"poll_timeout_seconds" yaml:"poll_timeout_seconds"`
}

// AuthConfig configures pairing account storage.
type AuthConfig struct {
	AccountFile string `mapstructure:"account_file" yaml:"account_file"`
}

// BrowseConfig configures the headless page fetcher.
type BrowseConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".adjutant", "state"),
		Service: ServiceConfig{
			EditThrottleMS:     1000,
			ActivityIntervalMS: 4000,
			MaxMessageLength:   4096,
			ExcerptMax:         200,
		},
		Agent: AgentConfig{
			Binary:  "adjutant-agent",
			Args:    []string{},
			Env:     []string{},
			WorkDir: filepath.Join(home, ".adjutant", "work"),
		},
		Telegram: TelegramConfig{
			Token:              "${ADJUTANT_TELEGRAM_TOKEN}",
			BaseURL:            "",
			PollTimeoutSeconds: 30,
		},
		Auth: AuthConfig{
			AccountFile: filepath.Join(home, ".adjutant", "accounts.json"),
		},
		Browse: BrowseConfig{
			Enabled:        false,
			TimeoutSeconds: 30,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".adjutant", "config.yaml"), nil
}

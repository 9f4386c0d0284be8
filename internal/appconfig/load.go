package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty,
// uses DefaultConfigPath. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("service.edit_throttle_ms", cfg.Service.EditThrottleMS)
	v.SetDefault("service.activity_interval_ms", cfg.Service.ActivityIntervalMS)
	v.SetDefault("service.max_message_length", cfg.Service.MaxMessageLength)
	v.SetDefault("service.excerpt_max", cfg.Service.ExcerptMax)
	v.SetDefault("agent.binary", cfg.Agent.Binary)
	v.SetDefault("agent.args", cfg.Agent.Args)
	v.SetDefault("agent.env", cfg.Agent.Env)
	v.SetDefault("agent.work_dir", cfg.Agent.WorkDir)
	v.SetDefault("telegram.token", cfg.Telegram.Token)
	v.SetDefault("telegram.base_url", cfg.Telegram.BaseURL)
	v.SetDefault("telegram.poll_timeout_seconds", cfg.Telegram.PollTimeoutSeconds)
	v.SetDefault("auth.account_file", cfg.Auth.AccountFile)
	v.SetDefault("browse.enabled", cfg.Browse.Enabled)
	v.SetDefault("browse.timeout_seconds", cfg.Browse.TimeoutSeconds)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, err
			}
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.Service.EditThrottleMS < 0 {
		return fmt.Errorf("service.edit_throttle_ms must not be negative")
	}
	if cfg.Service.ActivityIntervalMS < 0 {
		return fmt.Errorf("service.activity_interval_ms must not be negative")
	}
	if cfg.Service.MaxMessageLength < 0 {
		return fmt.Errorf("service.max_message_length must not be negative")
	}
	if cfg.Telegram.PollTimeoutSeconds <= 0 {
		return fmt.Errorf("telegram.poll_timeout_seconds must be positive")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Agent.Binary = expandEnv(cfg.Agent.Binary)
	cfg.Agent.WorkDir = expandEnv(cfg.Agent.WorkDir)
	cfg.Telegram.Token = expandEnv(cfg.Telegram.Token)
	cfg.Auth.AccountFile = expandEnv(cfg.Auth.AccountFile)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return ""
	})
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

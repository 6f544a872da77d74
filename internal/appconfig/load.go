package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
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
	v.SetEnvPrefix("WOBTERM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("server.base_url", cfg.Server.BaseURL)
	v.SetDefault("server.events_path", cfg.Server.EventsPath)
	v.SetDefault("server.exec_path", cfg.Server.ExecPath)
	v.SetDefault("server.world_path", cfg.Server.WorldPath)
	v.SetDefault("server.login_path", cfg.Server.LoginPath)
	v.SetDefault("server.timeout_seconds", cfg.Server.TimeoutSeconds)
	v.SetDefault("stream.backoff_seconds", cfg.Stream.BackoffSeconds)
	v.SetDefault("stream.poll_interval_ms", cfg.Stream.PollIntervalMS)
	v.SetDefault("terminal.buffer_max_lines", cfg.Terminal.BufferMaxLines)
	v.SetDefault("terminal.theme", cfg.Terminal.Theme)
	v.SetDefault("terminal.prompt", cfg.Terminal.Prompt)
	v.SetDefault("terminal.state_file", cfg.Terminal.StateFile)
	v.SetDefault("session.token_store", cfg.Session.TokenStore)
	v.SetDefault("session.key_store", cfg.Session.KeyStore)
	v.SetDefault("ssh.addr", cfg.SSH.Addr)
	v.SetDefault("ssh.host_key_path", cfg.SSH.HostKeyPath)
	v.SetDefault("ssh.authorized_keys_path", cfg.SSH.AuthorizedKeysPath)
	v.SetDefault("ssh.password_hash", cfg.SSH.PasswordHash)
	v.SetDefault("ssh.totp_secret", cfg.SSH.TOTPSecret)
	v.SetDefault("logging.file", cfg.Logging.File)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
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
	if err := validateServerConfig(cfg.Server); err != nil {
		return Config{}, err
	}
	if err := validateStreamConfig(cfg.Stream); err != nil {
		return Config{}, err
	}
	if cfg.Terminal.BufferMaxLines < 0 {
		return Config{}, fmt.Errorf("terminal.buffer_max_lines must not be negative")
	}
	return cfg, nil
}

// Backoff returns the configured retry interval for the poll loop.
func (c StreamConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds) * time.Second
}

// PollInterval returns the configured pause between successful polls.
func (c StreamConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Timeout returns the per-request HTTP timeout.
func (c ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func validateServerConfig(cfg ServerConfig) error {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("server.base_url must include scheme and host (e.g. https://example.com)")
	}
	for name, value := range map[string]string{
		"server.events_path": cfg.EventsPath,
		"server.exec_path":   cfg.ExecPath,
		"server.world_path":  cfg.WorldPath,
		"server.login_path":  cfg.LoginPath,
	} {
		if strings.Contains(value, "://") {
			return fmt.Errorf("%s must be a path, not a URL", name)
		}
		if strings.ContainsAny(value, "?#") {
			return fmt.Errorf("%s must not include query or fragment", name)
		}
	}
	if cfg.TimeoutSeconds <= 0 {
		return fmt.Errorf("server.timeout_seconds must be positive")
	}
	return nil
}

func validateStreamConfig(cfg StreamConfig) error {
	if cfg.BackoffSeconds <= 0 {
		return fmt.Errorf("stream.backoff_seconds must be positive")
	}
	if cfg.PollIntervalMS < 0 {
		return fmt.Errorf("stream.poll_interval_ms must not be negative")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Server.BaseURL = expandEnv(cfg.Server.BaseURL)
	cfg.Terminal.StateFile = expandEnv(cfg.Terminal.StateFile)
	cfg.Session.TokenStore = expandEnv(cfg.Session.TokenStore)
	cfg.Session.KeyStore = expandEnv(cfg.Session.KeyStore)
	cfg.SSH.HostKeyPath = expandEnv(cfg.SSH.HostKeyPath)
	cfg.SSH.AuthorizedKeysPath = expandEnv(cfg.SSH.AuthorizedKeysPath)
	cfg.Logging.File = expandEnv(cfg.Logging.File)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
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

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

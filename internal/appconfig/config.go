package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/wobterm/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	Server        ServerConfig   `mapstructure:"server" yaml:"server"`
	Stream        StreamConfig   `mapstructure:"stream" yaml:"stream"`
	Terminal      TerminalConfig `mapstructure:"terminal" yaml:"terminal"`
	Session       SessionConfig  `mapstructure:"session" yaml:"session"`
	SSH           SSHConfig      `mapstructure:"ssh" yaml:"ssh"`
	Logging       LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ServerConfig locates the game server endpoints.
type ServerConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	EventsPath     string `mapstructure:"events_path" yaml:"events_path"`
	ExecPath       string `mapstructure:"exec_path" yaml:"exec_path"`
	WorldPath      string `mapstructure:"world_path" yaml:"world_path"`
	LoginPath      string `mapstructure:"login_path" yaml:"login_path"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// StreamConfig tunes the event poll loop.
type StreamConfig struct {
	BackoffSeconds int `mapstructure:"backoff_seconds" yaml:"backoff_seconds"`
	PollIntervalMS int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// TerminalConfig controls the terminal UI.
type TerminalConfig struct {
	BufferMaxLines int    `mapstructure:"buffer_max_lines" yaml:"buffer_max_lines"`
	Theme          string `mapstructure:"theme" yaml:"theme"`
	Prompt         string `mapstructure:"prompt" yaml:"prompt"`
	StateFile      string `mapstructure:"state_file" yaml:"state_file"`
}

// SessionConfig controls where the bearer token is kept between runs.
type SessionConfig struct {
	TokenStore string `mapstructure:"token_store" yaml:"token_store"`
	KeyStore   string `mapstructure:"key_store" yaml:"key_store"`
}

// SSHConfig configures the SSH gateway.
type SSHConfig struct {
	Addr               string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath        string `mapstructure:"host_key_path" yaml:"host_key_path"`
	AuthorizedKeysPath string `mapstructure:"authorized_keys_path" yaml:"authorized_keys_path"`
	PasswordHash       string `mapstructure:"password_hash" yaml:"password_hash"`
	TOTPSecret         string `mapstructure:"totp_secret" yaml:"totp_secret"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	root := filepath.Join(home, ".wobterm")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Server: ServerConfig{
			BaseURL:        "http://127.0.0.1:8080",
			EventsPath:     "/game/events",
			ExecPath:       "/game/exec",
			WorldPath:      "/world",
			LoginPath:      "/session/login",
			TimeoutSeconds: 90,
		},
		Stream: StreamConfig{
			BackoffSeconds: 15,
			PollIntervalMS: 0,
		},
		Terminal: TerminalConfig{
			BufferMaxLines: schema.DefaultBufferMaxLines,
			Theme:          string(schema.DefaultTheme),
			Prompt:         "> ",
			StateFile:      filepath.Join(root, "state", "terminal.json"),
		},
		Session: SessionConfig{
			TokenStore: filepath.Join(root, "state", "token.enc"),
			KeyStore:   filepath.Join(root, "state", "keys.bundle"),
		},
		SSH: SSHConfig{
			Addr:               ":27522",
			HostKeyPath:        filepath.Join(root, "ssh_host_key"),
			AuthorizedKeysPath: filepath.Join(root, "authorized_keys"),
			PasswordHash:       "",
			TOTPSecret:         "",
		},
		Logging: LoggingConfig{
			File: filepath.Join(root, "wobterm.log"),
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".wobterm", "config.yaml"), nil
}

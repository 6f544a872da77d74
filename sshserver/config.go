package sshserver

import "pkt.systems/wobterm/internal/appconfig"

// Config defines SSH gateway settings.
type Config struct {
	Addr        string
	HostKeyPath string
}

// ConfigFrom extracts the listener settings from the application config.
func ConfigFrom(cfg appconfig.SSHConfig) Config {
	return Config{
		Addr:        cfg.Addr,
		HostKeyPath: cfg.HostKeyPath,
	}
}

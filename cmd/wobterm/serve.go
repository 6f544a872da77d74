package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/wobterm/internal/appconfig"
	"pkt.systems/wobterm/internal/auth"
	"pkt.systems/wobterm/internal/client"
	"pkt.systems/wobterm/internal/session"
	"pkt.systems/wobterm/sshserver"
	"pkt.systems/wobterm/terminal"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the SSH gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.SSH.Addr = addr
			}
			policy, err := auth.NewPolicy(cfg.SSH, logger)
			if err != nil {
				return err
			}
			sshCfg := sshserver.ConfigFrom(cfg.SSH)
			server := &sshserver.Server{
				Addr:        sshCfg.Addr,
				HostKeyPath: sshCfg.HostKeyPath,
				Policy:      policy,
				Open:        gatewayOpener(cfg),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger.Info("gateway start", "addr", sshCfg.Addr, "server", cfg.Server.BaseURL)
			return server.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides ssh.addr)")
	return cmd
}

// gatewayOpener gives every SSH session its own connection and an in-memory
// token, so players never share a login.
func gatewayOpener(cfg appconfig.Config) sshserver.Opener {
	return func(ctx context.Context) (terminal.Options, error) {
		conn, err := client.New(cfg, session.NewMemory(""), pslog.Ctx(ctx))
		if err != nil {
			return terminal.Options{}, err
		}
		return conn.TerminalOptions(), nil
	}
}

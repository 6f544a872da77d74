package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/wobterm/internal/appconfig"
	"pkt.systems/wobterm/internal/client"
	"pkt.systems/wobterm/internal/persist"
	"pkt.systems/wobterm/internal/session"
	"pkt.systems/wobterm/terminal"
)

func newConnectCmd() *cobra.Command {
	var cfgPath string
	var server string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open the interactive terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if server != "" {
				cfg.Server.BaseURL = server
			}
			logger, closeLog, err := fileLogger(cfg.Logging.File)
			if err != nil {
				return err
			}
			defer closeLog()
			ctx := pslog.ContextWithLogger(cmd.Context(), logger)

			tokens, err := persistentTokens(cfg, logger)
			if err != nil {
				return err
			}
			conn, err := client.New(cfg, tokens, logger)
			if err != nil {
				return err
			}
			opts := conn.TerminalOptions()
			if cfg.Terminal.StateFile != "" {
				state, err := persist.NewStore(cfg.Terminal.StateFile, logger)
				if err != nil {
					return err
				}
				opts.State = state
			}
			return runLocalTerminal(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&server, "server", "", "server base url (overrides server.base_url)")
	return cmd
}

func runLocalTerminal(ctx context.Context, in io.Reader, out io.Writer, opts terminal.Options) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("connect needs an interactive terminal")
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, state) }()

	ui := terminal.New(in, out, opts)
	outFd := int(os.Stdout.Fd())
	if width, height, err := term.GetSize(outFd); err == nil {
		ui.SetSize(width, height)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	return ui.Run(ctx, watchResize(ctx, outFd))
}

// fileLogger sends logs to path, since the terminal owns stdout and stderr
// while connected. Standard library log output follows.
func fileLogger(path string) (pslog.Logger, func(), error) {
	if path == "" {
		logger := pslog.LoggerFromEnv(pslog.WithEnvWriter(io.Discard))
		return logger, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(file),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, NoColor: true}),
	)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	return logger, func() { _ = file.Close() }, nil
}

func persistentTokens(cfg appconfig.Config, logger pslog.Logger) (*session.Persistent, error) {
	store, err := session.NewStore(cfg.Session.TokenStore, cfg.Session.KeyStore, logger)
	if err != nil {
		return nil, err
	}
	return session.NewPersistent(store, logger)
}

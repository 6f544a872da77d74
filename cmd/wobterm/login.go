package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
	"pkt.systems/wobterm/internal/appconfig"
	"pkt.systems/wobterm/internal/wobapi"
)

func newLoginCmd() *cobra.Command {
	var cfgPath string
	var passwordFromStdin bool
	cmd := &cobra.Command{
		Use:   "login <name>",
		Short: "Log in and keep the session token for connect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return errors.New("login name is required")
			}
			password, err := readPassword(cmd, passwordFromStdin)
			if err != nil {
				return err
			}
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			logger := pslog.Ctx(cmd.Context())
			tokens, err := persistentTokens(cfg, logger)
			if err != nil {
				return err
			}
			api, err := wobapi.New(cfg.Server, tokens, wobapi.WithLogger(logger))
			if err != nil {
				return err
			}
			token, err := api.Login(cmd.Context(), name, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := tokens.Set(token); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			logger.Info("login ok", "login", name)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", name)
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&passwordFromStdin, "password-from-stdin", false, "read password from stdin")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			tokens, err := persistentTokens(cfg, pslog.Ctx(cmd.Context()))
			if err != nil {
				return err
			}
			if err := tokens.Set(""); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	if fromStdin {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		pass := strings.TrimSpace(string(data))
		if pass == "" {
			return "", errors.New("password from stdin is empty")
		}
		return pass, nil
	}
	passphrase, err := keymgmt.PromptPassphrase(cmd.InOrStdin(), "Password: ", cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	if len(passphrase) == 0 {
		return "", errors.New("password is empty")
	}
	return string(passphrase), nil
}

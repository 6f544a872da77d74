package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultPasswordLength = 20
	totpIssuer            = "wobterm"
)

func newEnrollCmd() *cobra.Command {
	var account string
	var passwordFromStdin bool
	var autoPassword bool
	var noPassword bool
	var noTOTP bool
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Generate gateway credentials for the ssh section of the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if noPassword && noTOTP {
				return errors.New("nothing to enroll")
			}
			var password, hash string
			var generated bool
			if !noPassword {
				var err error
				password, generated, err = resolvePassword(cmd, passwordFromStdin, autoPassword)
				if err != nil {
					return err
				}
				sum, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
				if err != nil {
					return err
				}
				hash = string(sum)
			}
			var secret, url string
			if !noTOTP {
				var err error
				secret, url, err = generateTOTP(account)
				if err != nil {
					return err
				}
			}
			printEnrollment(cmd.OutOrStdout(), password, generated, hash, secret, url)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "gateway", "account name shown in the authenticator app")
	cmd.Flags().BoolVar(&passwordFromStdin, "password-from-stdin", false, "read password from stdin")
	cmd.Flags().BoolVar(&autoPassword, "auto-password", false, "generate a random password")
	cmd.Flags().BoolVar(&noPassword, "no-password", false, "skip the password hash")
	cmd.Flags().BoolVar(&noTOTP, "no-totp", false, "skip the TOTP secret")
	return cmd
}

func resolvePassword(cmd *cobra.Command, fromStdin, auto bool) (string, bool, error) {
	if fromStdin && auto {
		return "", false, errors.New("choose one of --password-from-stdin or --auto-password")
	}
	if auto {
		pass, err := generatePassword(defaultPasswordLength)
		if err != nil {
			return "", false, err
		}
		return pass, true, nil
	}
	pass, err := readPassword(cmd, fromStdin)
	return pass, false, err
}

func generatePassword(length int) (string, error) {
	if length <= 0 {
		length = defaultPasswordLength
	}
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = charset[int(b)%len(charset)]
	}
	return string(buf), nil
}

func generateTOTP(account string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// printEnrollment writes a config fragment followed by the enrollment QR
// code. The plain password is only shown when it was generated.
func printEnrollment(w io.Writer, password string, showPassword bool, hash, secret, url string) {
	_, _ = fmt.Fprintln(w, "ssh:")
	if hash != "" {
		_, _ = fmt.Fprintf(w, "  password_hash: %q\n", hash)
	}
	if secret != "" {
		_, _ = fmt.Fprintf(w, "  totp_secret: %s\n", secret)
	}
	if showPassword && password != "" {
		_, _ = fmt.Fprintf(w, "\npassword: %s\n", password)
	}
	if url != "" {
		_, _ = fmt.Fprintf(w, "\notpauth_url: %s\n", url)
		_, _ = fmt.Fprintln(w, "totp_qr:")
		qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
	}
}

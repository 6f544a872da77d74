// Package sshserver is the SSH gateway: every authenticated session with a
// pty gets its own terminal connected to the game server.
package sshserver

import (
	"context"
	"errors"
	"io"
	"net"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
	"pkt.systems/wobterm/internal/auth"
	"pkt.systems/wobterm/internal/logx"
	"pkt.systems/wobterm/terminal"
)

// Opener builds the collaborators for one terminal session. Each call must
// return an independent connection with its own token.
type Opener func(ctx context.Context) (terminal.Options, error)

// Server exposes the terminal over SSH.
type Server struct {
	Addr        string
	HostKeyPath string
	Listener    net.Listener
	Policy      *auth.Policy
	Open        Opener
	logger      pslog.Logger
}

var errPermissionDenied = errors.New("permission denied")

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.Policy == nil {
		return errors.New("access policy is required for SSH")
	}
	if s.Open == nil {
		return errors.New("session opener is required for SSH")
	}

	signer, created, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}
	if created {
		s.logger.Info("ssh host key generated", "path", s.HostKeyPath, "fingerprint", Fingerprint(signer))
	}

	// Authentication runs on raw x/crypto callbacks so a second factor is
	// only offered after the first one has been proven. The keyboard
	// interactive handler rejects first-stage attempts and keeps client
	// authentication mandatory.
	server := &gliderssh.Server{
		Addr:                       s.Addr,
		Handler:                    s.handleSession,
		KeyboardInteractiveHandler: rejectKeyboardInteractive,
		ServerConfigCallback: func(gliderssh.Context) *ssh.ServerConfig {
			cfg := &ssh.ServerConfig{PublicKeyCallback: s.checkPublicKey}
			if s.Policy.HasPassword() {
				cfg.PasswordCallback = s.checkPassword
			}
			return cfg
		},
	}
	server.AddHostKey(signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("ssh listen", "addr", s.Addr, "fingerprint", Fingerprint(signer), "totp", s.Policy.RequiresTOTP())

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) authLogger(conn ssh.ConnMetadata) pslog.Logger {
	var remote string
	if conn.RemoteAddr() != nil {
		remote = conn.RemoteAddr().String()
	}
	return logx.WithRemote(s.logger, conn.User(), remote)
}

// firstFactor grants access outright or, when a verification code is
// required, a partial success that only allows keyboard-interactive next.
func (s *Server) firstFactor(log pslog.Logger) (*ssh.Permissions, error) {
	if !s.Policy.RequiresTOTP() {
		return &ssh.Permissions{}, nil
	}
	log.Debug("ssh totp pending")
	return nil, &ssh.PartialSuccessError{
		Next: ssh.ServerAuthCallbacks{KeyboardInteractiveCallback: s.checkTOTP},
	}
}

func (s *Server) checkPublicKey(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	log := s.authLogger(conn).With("fingerprint", ssh.FingerprintSHA256(key))
	ok, err := s.Policy.AuthorizedKey(key)
	if err != nil {
		log.Warn("ssh pubkey rejected", "err", err)
		return nil, errPermissionDenied
	}
	if !ok {
		log.Warn("ssh pubkey rejected", "reason", "no matching key")
		return nil, errPermissionDenied
	}
	log.Info("ssh pubkey accepted")
	return s.firstFactor(log)
}

func (s *Server) checkPassword(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	log := s.authLogger(conn)
	if err := s.Policy.CheckPassword(string(password)); err != nil {
		log.Warn("ssh password rejected", "err", err)
		return nil, errPermissionDenied
	}
	log.Info("ssh password accepted")
	return s.firstFactor(log)
}

func (s *Server) checkTOTP(conn ssh.ConnMetadata, challenger ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
	log := s.authLogger(conn)
	answers, err := challenger(conn.User(), "", []string{"Verification code: "}, []bool{false})
	if err != nil {
		log.Warn("ssh totp rejected", "reason", "challenge failed", "err", err)
		return nil, errPermissionDenied
	}
	if len(answers) != 1 {
		log.Warn("ssh totp rejected", "reason", "invalid answer count", "count", len(answers))
		return nil, errPermissionDenied
	}
	if err := s.Policy.ValidateTOTP(answers[0]); err != nil {
		log.Warn("ssh totp rejected", "reason", "invalid code", "err", err)
		return nil, errPermissionDenied
	}
	log.Info("ssh totp accepted")
	return &ssh.Permissions{}, nil
}

func rejectKeyboardInteractive(gliderssh.Context, ssh.KeyboardInteractiveChallenge) bool {
	return false
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(sess.Context())
	}
	log = logx.WithRemote(log, sess.User(), sess.RemoteAddr().String())
	if id := sess.Context().SessionID(); id != "" {
		log = log.With("ssh_session", id)
	}

	pty, winCh, ok := sess.Pty()
	if !ok {
		log.Info("ssh session rejected", "reason", "pty required")
		_, _ = io.WriteString(sess, "pty required\n")
		_ = sess.Exit(1)
		return
	}

	ctx, cancel := context.WithCancel(pslog.ContextWithLogger(sess.Context(), log))
	defer cancel()
	opts, err := s.Open(ctx)
	if err != nil {
		log.Warn("ssh session open failed", "err", err)
		_, _ = io.WriteString(sess, "gateway unavailable\n")
		_ = sess.Exit(1)
		return
	}
	log.Info("ssh session opened", "term", pty.Term)

	ui := terminal.New(sess, sess, opts)
	ui.SetSize(pty.Window.Width, pty.Window.Height)
	if err := ui.Run(ctx, windows(ctx, winCh)); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("ssh session ended", "err", err)
	}
	log.Info("ssh session closed", "term", pty.Term)
	_ = sess.Exit(0)
}

// windows converts pty resize notifications to terminal sizes.
func windows(ctx context.Context, in <-chan gliderssh.Window) <-chan terminal.Window {
	out := make(chan terminal.Window, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case win, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- terminal.Window{Width: win.Width, Height: win.Height}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

package sshserver_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh"

	"pkt.systems/wobterm/internal/appconfig"
	"pkt.systems/wobterm/internal/auth"
	"pkt.systems/wobterm/internal/client"
	"pkt.systems/wobterm/internal/session"
	"pkt.systems/wobterm/sshserver"
	"pkt.systems/wobterm/terminal"
)

type gateway struct {
	signer ssh.Signer
	totp   string
	cfg    appconfig.Config
}

func newGateway(t *testing.T, withTOTP bool, password string) *gateway {
	t.Helper()
	signer := newTestSigner(t)
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "authorized_keys")
	if err := os.WriteFile(keysPath, ssh.MarshalAuthorizedKey(signer.PublicKey()), 0o600); err != nil {
		t.Fatalf("write authorized keys: %v", err)
	}
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.SSH.AuthorizedKeysPath = keysPath
	cfg.SSH.HostKeyPath = filepath.Join(dir, "host_key")
	g := &gateway{signer: signer}
	if withTOTP {
		key, err := totp.Generate(totp.GenerateOpts{Issuer: "wobterm", AccountName: "gateway"})
		if err != nil {
			t.Fatalf("totp generate: %v", err)
		}
		g.totp = key.Secret()
		cfg.SSH.TOTPSecret = key.Secret()
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		cfg.SSH.PasswordHash = string(hash)
	}

	game := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"log":[]}`)
	}))
	t.Cleanup(game.Close)
	cfg.Server.BaseURL = game.URL
	cfg.Stream.PollIntervalMS = 50
	g.cfg = cfg
	return g
}

func (g *gateway) start(t *testing.T) string {
	t.Helper()
	policy, err := auth.NewPolicy(g.cfg.SSH, nil)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	server := &sshserver.Server{
		Addr:        ln.Addr().String(),
		Listener:    ln,
		HostKeyPath: g.cfg.SSH.HostKeyPath,
		Policy:      policy,
		Open: func(ctx context.Context) (terminal.Options, error) {
			conn, err := client.New(g.cfg, session.NewMemory(""), nil)
			if err != nil {
				return terminal.Options{}, err
			}
			return conn.TerminalOptions(), nil
		},
	}
	go func() {
		_ = server.ListenAndServe(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
	})
	return ln.Addr().String()
}

func TestSSHAuthPubKeyWithoutTOTP(t *testing.T) {
	g := newGateway(t, false, "")
	addr := g.start(t)

	client, err := sshDial(addr, "player", []ssh.AuthMethod{ssh.PublicKeys(g.signer)})
	if err != nil {
		t.Fatalf("expected pubkey auth success: %v", err)
	}
	_ = client.Close()

	if _, err := sshDial(addr, "player", []ssh.AuthMethod{ssh.PublicKeys(newTestSigner(t))}); err == nil {
		t.Fatalf("expected auth failure with unknown key")
	}
}

func TestSSHAuthRequiresPubKeyAndTotp(t *testing.T) {
	g := newGateway(t, true, "")
	addr := g.start(t)

	if _, err := sshDial(addr, "player", []ssh.AuthMethod{ssh.PublicKeys(g.signer)}); err == nil {
		t.Fatalf("expected auth failure without TOTP")
	}

	if _, err := sshDial(addr, "player", []ssh.AuthMethod{
		ssh.PublicKeys(g.signer),
		ssh.KeyboardInteractive(func(_, _ string, _ []string, _ []bool) ([]string, error) {
			return []string{"000000"}, nil
		}),
	}); err == nil {
		t.Fatalf("expected auth failure with wrong TOTP")
	}

	code, err := totp.GenerateCode(g.totp, time.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	var prompts []string
	var echoes []bool
	client, err := sshDial(addr, "player", []ssh.AuthMethod{
		ssh.PublicKeys(g.signer),
		ssh.KeyboardInteractive(func(_, _ string, questions []string, echos []bool) ([]string, error) {
			prompts = append(prompts, questions...)
			echoes = append(echoes, echos...)
			return []string{code}, nil
		}),
	})
	if err != nil {
		t.Fatalf("expected auth success with pubkey+totp: %v", err)
	}
	_ = client.Close()

	if len(prompts) != 1 || prompts[0] != "Verification code: " {
		t.Fatalf("unexpected prompt: %#v", prompts)
	}
	if len(echoes) != 1 || echoes[0] {
		t.Fatalf("expected no-echo prompt, got %#v", echoes)
	}
}

func TestSSHAuthRejectsWrongPubKeyBeforeTOTP(t *testing.T) {
	g := newGateway(t, true, "")
	addr := g.start(t)

	code, err := totp.GenerateCode(g.totp, time.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	var prompted bool
	if _, err := sshDial(addr, "player", []ssh.AuthMethod{
		ssh.PublicKeys(newTestSigner(t)),
		ssh.KeyboardInteractive(func(_, _ string, _ []string, _ []bool) ([]string, error) {
			prompted = true
			return []string{code}, nil
		}),
	}); err == nil {
		t.Fatalf("expected auth failure with wrong pubkey")
	}
	if prompted {
		t.Fatalf("unexpected TOTP prompt without a first factor")
	}
}

func TestSSHAuthPassword(t *testing.T) {
	g := newGateway(t, false, "hunter2")
	addr := g.start(t)

	if _, err := sshDial(addr, "player", []ssh.AuthMethod{ssh.Password("wrong")}); err == nil {
		t.Fatalf("expected auth failure with wrong password")
	}
	client, err := sshDial(addr, "player", []ssh.AuthMethod{ssh.Password("hunter2")})
	if err != nil {
		t.Fatalf("expected password auth success: %v", err)
	}
	_ = client.Close()
}

func TestSSHSessionRunsTerminal(t *testing.T) {
	g := newGateway(t, false, "")
	addr := g.start(t)

	client, err := sshDial(addr, "player", []ssh.AuthMethod{ssh.PublicKeys(g.signer)})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer sess.Close()
	if err := sess.RequestPty("xterm-256color", 24, 80, ssh.TerminalModes{}); err != nil {
		t.Fatalf("request pty: %v", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	out := &lockedBuffer{}
	sess.Stdout = out
	if err := sess.Shell(); err != nil {
		t.Fatalf("shell: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "\x1b[?1049h") {
		if time.Now().After(deadline) {
			t.Fatalf("terminal never entered the alternate screen: %q", out.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, err := io.WriteString(stdin, "/quit\r"); err != nil {
		t.Fatalf("write quit: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("session exit: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not exit after /quit")
	}
	if !strings.Contains(out.String(), "\x1b[?1049l") {
		t.Fatalf("expected alternate screen to be left")
	}
}

func TestSSHSessionRequiresPty(t *testing.T) {
	g := newGateway(t, false, "")
	addr := g.start(t)

	client, err := sshDial(addr, "player", []ssh.AuthMethod{ssh.PublicKeys(g.signer)})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer sess.Close()
	out, _ := sess.Output("look")
	if !strings.Contains(string(out), "pty required") {
		t.Fatalf("expected pty required message, got %q", out)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func sshDial(addr, user string, methods []ssh.AuthMethod) (*ssh.Client, error) {
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

func newTestSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"pkt.systems/wobterm/internal/appconfig"
	"pkt.systems/wobterm/schema"
)

func writeTestConfig(t *testing.T, baseURL string) string {
	t.Helper()
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	dir := t.TempDir()
	if baseURL != "" {
		cfg.Server.BaseURL = baseURL
	}
	cfg.Session.TokenStore = filepath.Join(dir, "state", "token.enc")
	cfg.Session.KeyStore = filepath.Join(dir, "state", "keys.bundle")
	cfg.Logging.File = filepath.Join(dir, "wobterm.log")
	cfg.SSH.HostKeyPath = filepath.Join(dir, "ssh_host_key")
	cfg.SSH.AuthorizedKeysPath = filepath.Join(dir, "authorized_keys")
	path := filepath.Join(dir, "config.yaml")
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func loadConfigFromPath(t *testing.T, path string) appconfig.Config {
	t.Helper()
	cfg, err := appconfig.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestConfigInitWritesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	run := func(args ...string) error {
		cmd := newConfigCmd()
		cmd.SetArgs(append([]string{"init", "-c", path}, args...))
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		return cmd.Execute()
	}
	if err := run(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	cfg := loadConfigFromPath(t, path)
	if cfg.Stream.BackoffSeconds != 15 {
		t.Fatalf("expected default backoff, got %d", cfg.Stream.BackoffSeconds)
	}
	if err := run(); err == nil {
		t.Fatalf("expected error for existing config")
	}
	if err := run("--force"); err != nil {
		t.Fatalf("config init --force: %v", err)
	}
}

func TestLoginStoresTokenAndLogoutClears(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req schema.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Login != "alice" || req.Password != "pw" {
			_, _ = io.WriteString(w, `{"success":false,"error":"bad password"}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"token":"fresh"}`)
	}))
	defer srv.Close()
	cfgPath := writeTestConfig(t, srv.URL)
	cfg := loadConfigFromPath(t, cfgPath)

	cmd := newLoginCmd()
	out := &bytes.Buffer{}
	cmd.SetArgs([]string{"-c", cfgPath, "--password-from-stdin", "alice"})
	cmd.SetIn(strings.NewReader("pw\n"))
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out.String(), "logged in as alice") {
		t.Fatalf("unexpected output %q", out.String())
	}
	tokens, err := persistentTokens(cfg, nil)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if tokens.Token() != "fresh" {
		t.Fatalf("expected saved token, got %q", tokens.Token())
	}

	cmd = newLogoutCmd()
	cmd.SetArgs([]string{"-c", cfgPath})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("logout: %v", err)
	}
	tokens, err = persistentTokens(cfg, nil)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if tokens.Token() != "" {
		t.Fatalf("expected token cleared, got %q", tokens.Token())
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"error":"bad password"}`)
	}))
	defer srv.Close()
	cfgPath := writeTestConfig(t, srv.URL)

	cmd := newLoginCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "--password-from-stdin", "alice"})
	cmd.SetIn(strings.NewReader("nope"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected login failure")
	}
}

func TestEnrollPrintsConfigFragment(t *testing.T) {
	cmd := newEnrollCmd()
	out := &bytes.Buffer{}
	cmd.SetArgs([]string{"--password-from-stdin"})
	cmd.SetIn(strings.NewReader("hunter2\n"))
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	fragment, _, _ := strings.Cut(out.String(), "\n\n")
	var parsed struct {
		SSH appconfig.SSHConfig `yaml:"ssh"`
	}
	if err := yaml.Unmarshal([]byte(fragment), &parsed); err != nil {
		t.Fatalf("parse fragment %q: %v", fragment, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(parsed.SSH.PasswordHash), []byte("hunter2")); err != nil {
		t.Fatalf("expected hash of the password: %v", err)
	}
	if parsed.SSH.TOTPSecret == "" {
		t.Fatalf("expected totp secret")
	}
	if !strings.Contains(out.String(), "otpauth://") {
		t.Fatalf("expected otpauth url")
	}
	if strings.Contains(out.String(), "password: hunter2") {
		t.Fatalf("supplied password must not be echoed")
	}
}

func TestEnrollRejectsEmptySelection(t *testing.T) {
	cmd := newEnrollCmd()
	cmd.SetArgs([]string{"--no-password", "--no-totp"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGeneratePasswordLength(t *testing.T) {
	pass, err := generatePassword(12)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(pass) != 12 {
		t.Fatalf("expected 12 chars, got %d", len(pass))
	}
}

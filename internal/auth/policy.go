// Package auth decides who may open a terminal through the SSH gateway:
// public keys from an authorized_keys file, an optional shared password and
// an optional TOTP second factor.
package auth

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sys/unix"

	"pkt.systems/pslog"
	"pkt.systems/wobterm/internal/appconfig"
)

var (
	// ErrNoAccess is returned when no first factor is configured.
	ErrNoAccess = errors.New("ssh access requires authorized keys or a password hash")
	// ErrInvalidCredentials is returned for a failed password check.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidTOTP is returned for a wrong or missing verification code.
	ErrInvalidTOTP = errors.New("invalid totp")
)

// Policy holds the gateway access rules. The authorized_keys file is
// re-read when it changes on disk.
type Policy struct {
	keysPath     string
	passwordHash []byte
	totpSecret   string
	log          pslog.Logger

	mu        sync.RWMutex
	keys      []ssh.PublicKey
	fileState fileState
}

// NewPolicy builds the policy from the gateway config. A missing
// authorized_keys file is allowed when a password hash is set.
func NewPolicy(cfg appconfig.SSHConfig, logger pslog.Logger) (*Policy, error) {
	if logger != nil && cfg.AuthorizedKeysPath != "" {
		logger = logger.With("authorized_keys", cfg.AuthorizedKeysPath)
	}
	p := &Policy{
		keysPath:     strings.TrimSpace(cfg.AuthorizedKeysPath),
		passwordHash: []byte(strings.TrimSpace(cfg.PasswordHash)),
		totpSecret:   strings.TrimSpace(cfg.TOTPSecret),
		log:          logger,
	}
	if len(p.passwordHash) > 0 {
		if _, err := bcrypt.Cost(p.passwordHash); err != nil {
			return nil, fmt.Errorf("ssh.password_hash: %w", err)
		}
	}
	if p.keysPath != "" {
		if err := p.loadKeys(); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	if len(p.passwordHash) == 0 && p.keyCount() == 0 {
		return nil, ErrNoAccess
	}
	return p, nil
}

// RequiresTOTP reports whether a verification code is needed after the
// first factor.
func (p *Policy) RequiresTOTP() bool {
	return p.totpSecret != ""
}

// HasPassword reports whether password login is enabled.
func (p *Policy) HasPassword() bool {
	return len(p.passwordHash) > 0
}

// AuthorizedKey reports whether key appears in the authorized_keys file.
func (p *Policy) AuthorizedKey(key ssh.PublicKey) (bool, error) {
	if key == nil || p.keysPath == "" {
		return false, nil
	}
	if err := p.refreshIfNeeded(); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	wire := key.Marshal()
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, candidate := range p.keys {
		if bytes.Equal(candidate.Marshal(), wire) {
			return true, nil
		}
	}
	return false, nil
}

// CheckPassword verifies password against the configured bcrypt hash.
func (p *Policy) CheckPassword(password string) error {
	if len(p.passwordHash) == 0 {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(p.passwordHash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// ValidateTOTP checks a verification code against the configured secret.
func (p *Policy) ValidateTOTP(code string) error {
	if p.totpSecret == "" {
		return nil
	}
	if !totp.Validate(strings.TrimSpace(code), p.totpSecret) {
		return ErrInvalidTOTP
	}
	return nil
}

// ParseAuthorizedKeys parses authorized_keys content, skipping blank lines
// and comments.
func ParseAuthorizedKeys(data []byte) ([]ssh.PublicKey, error) {
	var keys []ssh.PublicKey
	rest := data
	for len(bytes.TrimSpace(rest)) > 0 {
		key, _, _, next, err := ssh.ParseAuthorizedKey(rest)
		if err != nil {
			return nil, fmt.Errorf("parse authorized keys: %w", err)
		}
		keys = append(keys, key)
		rest = next
	}
	return keys, nil
}

func (p *Policy) keyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys)
}

func (p *Policy) refreshIfNeeded() error {
	latest, err := fileStateFor(p.keysPath)
	if err != nil {
		p.mu.Lock()
		p.keys = nil
		p.fileState = fileState{}
		p.mu.Unlock()
		return err
	}
	p.mu.RLock()
	current := p.fileState
	p.mu.RUnlock()
	if current.equal(latest) {
		return nil
	}
	return p.loadKeys()
}

func (p *Policy) loadKeys() error {
	data, err := os.ReadFile(p.keysPath)
	if err != nil {
		if p.log != nil && !os.IsNotExist(err) {
			p.log.Warn("auth keys load failed", "err", err)
		}
		return err
	}
	keys, err := ParseAuthorizedKeys(data)
	if err != nil {
		if p.log != nil {
			p.log.Warn("auth keys load failed", "err", err)
		}
		return err
	}
	state, err := fileStateFor(p.keysPath)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.keys = keys
	p.fileState = state
	p.mu.Unlock()
	if p.log != nil {
		p.log.Debug("auth keys load ok", "keys", len(keys))
	}
	return nil
}

type fileState struct {
	modTime time.Time
	size    int64
	inode   uint64
	dev     uint64
}

func fileStateFor(path string) (fileState, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return fileState{}, os.ErrNotExist
		}
		return fileState{}, err
	}
	return fileState{
		modTime: time.Unix(int64(st.Mtim.Sec), int64(st.Mtim.Nsec)),
		size:    st.Size,
		inode:   uint64(st.Ino),
		dev:     uint64(st.Dev),
	}, nil
}

func (s fileState) equal(other fileState) bool {
	return s.size == other.size &&
		s.modTime.Equal(other.modTime) &&
		s.inode == other.inode &&
		s.dev == other.dev
}

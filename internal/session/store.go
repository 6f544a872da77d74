package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
	"pkt.systems/wobterm/schema"
)

const tokenDescriptor = "wobterm:session:token"

// Store keeps the bearer token encrypted on disk. The data key lives in a
// kryptograf key store next to it.
type Store struct {
	tokenPath string
	keyPath   string
	log       pslog.Logger
}

// NewStore prepares the key store and token directory.
func NewStore(tokenPath, keyPath string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(tokenPath) == "" {
		return nil, fmt.Errorf("session token store path is required")
	}
	if strings.TrimSpace(keyPath) == "" {
		return nil, fmt.Errorf("session key store path is required")
	}
	if logger != nil {
		logger = logger.With("token_store", tokenPath)
	}
	s := &Store{tokenPath: tokenPath, keyPath: keyPath, log: logger}
	if err := os.MkdirAll(filepath.Dir(tokenPath), 0o700); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, err
	}
	if _, _, err := s.material(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load returns the saved token. ok is false when nothing is saved.
func (s *Store) Load() (schema.Token, bool, error) {
	file, err := os.Open(s.tokenPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		s.warn("session token load failed", err)
		return "", false, err
	}
	defer func() { _ = file.Close() }()
	material, root, err := s.material()
	if err != nil {
		return "", false, err
	}
	reader, err := kryptograf.New(root).DecryptReader(file, material)
	if err != nil {
		s.warn("session token load failed", err)
		return "", false, err
	}
	defer func() { _ = reader.Close() }()
	plain, err := io.ReadAll(reader)
	if err != nil {
		s.warn("session token load failed", err)
		return "", false, err
	}
	token := schema.Token(strings.TrimSpace(string(plain)))
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Save encrypts and writes token, replacing any previous one atomically.
func (s *Store) Save(token schema.Token) error {
	material, root, err := s.material()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.tokenPath), "token-*.enc")
	if err != nil {
		s.warn("session token save failed", err)
		return err
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		s.warn("session token save failed", err)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fail(err)
	}
	writer, err := kryptograf.New(root).EncryptWriter(tmp, material)
	if err != nil {
		return fail(err)
	}
	if _, err := io.Copy(writer, bytes.NewReader([]byte(token))); err != nil {
		_ = writer.Close()
		return fail(err)
	}
	if err := writer.Close(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		s.warn("session token save failed", err)
		return err
	}
	if err := os.Rename(tmpPath, s.tokenPath); err != nil {
		_ = os.Remove(tmpPath)
		s.warn("session token save failed", err)
		return err
	}
	if s.log != nil {
		s.log.Info("session token saved")
	}
	return nil
}

// Clear removes the saved token.
func (s *Store) Clear() error {
	if err := os.Remove(s.tokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.warn("session token clear failed", err)
		return err
	}
	return nil
}

func (s *Store) material() (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(s.keyPath)
	if err != nil {
		s.warn("session key store load failed", err)
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		s.warn("session key store load failed", err)
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	material, err := store.EnsureDescriptor(tokenDescriptor, root, []byte(tokenDescriptor))
	if err != nil {
		s.warn("session key material ensure failed", err)
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := store.Commit(); err != nil {
		s.warn("session key material commit failed", err)
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	return material, root, nil
}

func (s *Store) warn(msg string, err error) {
	if s.log != nil {
		s.log.Warn(msg, "err", err)
	}
}

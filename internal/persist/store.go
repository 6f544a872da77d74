// Package persist keeps terminal state between local runs: command history
// and the debug display toggle.
package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"
)

// MaxHistory bounds the number of commands written to disk.
const MaxHistory = 500

// Snapshot is the saved terminal state.
type Snapshot struct {
	History   []string `json:"history,omitempty"`
	ShowDebug bool     `json:"show_debug,omitempty"`
}

// Store reads and writes one snapshot file.
type Store struct {
	path string
	log  pslog.Logger
}

// NewStore returns a store backed by path. The file is created on first save.
func NewStore(path string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("terminal state path is required")
	}
	if logger != nil {
		logger = logger.With("state_file", path)
	}
	return &Store{path: path, log: logger}, nil
}

// Load reads the snapshot. A missing file is not an error.
func (s *Store) Load() (Snapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.debug("state load miss")
			return Snapshot{}, false, nil
		}
		s.warn("state load failed", err)
		return Snapshot{}, false, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.warn("state load failed", err)
		return Snapshot{}, false, err
	}
	s.debug("state load ok", "history", len(snapshot.History))
	return snapshot, true, nil
}

// Save writes the snapshot atomically, keeping only the newest MaxHistory
// commands.
func (s *Store) Save(snapshot Snapshot) error {
	if n := len(snapshot.History); n > MaxHistory {
		snapshot.History = snapshot.History[n-MaxHistory:]
	}
	if err := s.write(snapshot); err != nil {
		s.warn("state save failed", err)
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "history", len(snapshot.History))
	}
	return nil
}

func (s *Store) write(snapshot Snapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "state-*.json")
	if err != nil {
		return err
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *Store) debug(msg string, kv ...any) {
	if s.log != nil {
		s.log.Debug(msg, kv...)
	}
}

func (s *Store) warn(msg string, err error) {
	if s.log != nil {
		s.log.Warn(msg, "err", err)
	}
}

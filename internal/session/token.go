// Package session provides the bearer token used to authenticate requests
// to the game server, in memory or persisted in an encrypted file.
package session

import (
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/wobterm/schema"
)

// TokenSource yields the current bearer token and drops it when the server
// rejects it.
type TokenSource interface {
	Token() schema.Token
	Invalidate()
}

// Keeper is a TokenSource that also accepts a freshly issued token.
type Keeper interface {
	TokenSource
	Keep(token schema.Token) error
}

// Memory is an in-process TokenSource. The zero value holds no token.
type Memory struct {
	mu    sync.RWMutex
	token schema.Token
}

// NewMemory returns a token source seeded with token.
func NewMemory(token schema.Token) *Memory {
	return &Memory{token: token}
}

// Token returns the current token, or empty when logged out.
func (m *Memory) Token() schema.Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Set replaces the token.
func (m *Memory) Set(token schema.Token) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

// Keep stores token. It never fails.
func (m *Memory) Keep(token schema.Token) error {
	m.Set(token)
	return nil
}

// Invalidate drops the token.
func (m *Memory) Invalidate() {
	m.Set("")
}

// Persistent is a TokenSource that mirrors the token into a Store so that
// later runs start logged in.
type Persistent struct {
	Memory
	store *Store
	log   pslog.Logger
}

// NewPersistent loads any saved token from store.
func NewPersistent(store *Store, logger pslog.Logger) (*Persistent, error) {
	p := &Persistent{store: store, log: logger}
	token, ok, err := store.Load()
	if err != nil {
		return nil, err
	}
	if ok {
		p.Memory.Set(token)
	}
	return p, nil
}

// Set replaces the token and saves it.
func (p *Persistent) Set(token schema.Token) error {
	p.Memory.Set(token)
	if token == "" {
		return p.store.Clear()
	}
	return p.store.Save(token)
}

// Keep is Set under the Keeper name.
func (p *Persistent) Keep(token schema.Token) error {
	return p.Set(token)
}

// Invalidate drops the token and removes the saved copy.
func (p *Persistent) Invalidate() {
	p.Memory.Invalidate()
	if err := p.store.Clear(); err != nil && p.log != nil {
		p.log.Warn("session token clear failed", "err", err)
	}
}

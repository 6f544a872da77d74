// Package client assembles the pieces of one game connection: the HTTP API
// client, the event stream and the wob info cache, bound to a token source.
package client

import (
	"context"
	"fmt"

	"pkt.systems/pslog"
	"pkt.systems/wobterm/internal/appconfig"
	"pkt.systems/wobterm/internal/eventstream"
	"pkt.systems/wobterm/internal/session"
	"pkt.systems/wobterm/internal/wobapi"
	"pkt.systems/wobterm/internal/wobinfo"
	"pkt.systems/wobterm/schema"
	"pkt.systems/wobterm/terminal"
)

// Conn is one connection to the game server.
type Conn struct {
	API    *wobapi.Client
	Stream *eventstream.Client
	Info   *wobinfo.Cache
	Tokens session.Keeper

	terminal appconfig.TerminalConfig
	log      pslog.Logger
}

// New wires a connection from cfg. tokens decides whether the login
// survives the process.
func New(cfg appconfig.Config, tokens session.Keeper, logger pslog.Logger) (*Conn, error) {
	if tokens == nil {
		return nil, fmt.Errorf("client: token source is required")
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	api, err := wobapi.New(cfg.Server, tokens, wobapi.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	stream := eventstream.New(api,
		eventstream.WithBackoff(cfg.Stream.Backoff()),
		eventstream.WithPollInterval(cfg.Stream.PollInterval()),
		eventstream.WithLogger(logger),
	)
	return &Conn{
		API:      api,
		Stream:   stream,
		Info:     wobinfo.New(api, logger),
		Tokens:   tokens,
		terminal: cfg.Terminal,
		log:      logger,
	}, nil
}

// TerminalOptions returns the options for a terminal session driven by c.
func (c *Conn) TerminalOptions() terminal.Options {
	return terminal.Options{
		Stream:         c.Stream,
		Backend:        c.API,
		Tokens:         c.Tokens,
		Info:           c.Info,
		Theme:          schema.ThemeName(c.terminal.Theme),
		Prompt:         c.terminal.Prompt,
		BufferMaxLines: c.terminal.BufferMaxLines,
		Logger:         c.log.With("tag", c.Stream.Tag()),
	}
}

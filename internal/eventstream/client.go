// Package eventstream keeps a long-poll loop against the game server's event
// log and hands new batches to a single subscriber, in arrival order.
package eventstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/pslog"
	"pkt.systems/wobterm/schema"
)

const (
	// DefaultBackoff is the pause after a failed poll.
	DefaultBackoff = 15 * time.Second
	defaultBuffer  = 16
)

var (
	// ErrAlreadySubscribed is returned when a second subscriber registers.
	ErrAlreadySubscribed = errors.New("event stream already has a subscriber")
	// ErrNotSubscribed is returned by Run when nobody is listening.
	ErrNotSubscribed = errors.New("event stream has no subscriber")
)

// Fetcher is the server surface the stream needs.
type Fetcher interface {
	Events(ctx context.Context, since int64) (schema.EventBatch, error)
	Exec(ctx context.Context, command string, tag schema.Tag, admin bool) (schema.EventBatch, error)
}

// UpdateKind classifies an Update.
type UpdateKind int

const (
	// UpdateEvents carries a non-empty batch.
	UpdateEvents UpdateKind = iota
	// UpdateInterrupted is sent on the first failure of a streak.
	UpdateInterrupted
	// UpdateRestored is sent on the first success after a failure streak.
	UpdateRestored
	// UpdateAuthRequired is sent on the first credential failure of a streak.
	UpdateAuthRequired
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateEvents:
		return "events"
	case UpdateInterrupted:
		return "interrupted"
	case UpdateRestored:
		return "restored"
	case UpdateAuthRequired:
		return "auth_required"
	default:
		return "unknown"
	}
}

// Update is one message to the subscriber.
type Update struct {
	Kind   UpdateKind
	Events []schema.Event
	Err    error
}

// Option customizes a Client.
type Option func(*Client)

// WithBackoff sets the wait after a failed poll.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithPollInterval sets a pause between successful polls. Zero re-polls at once.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.pollInterval = d
		}
	}
}

// WithTag overrides the generated session tag.
func WithTag(tag schema.Tag) Option {
	return func(c *Client) {
		if tag != "" {
			c.tag = tag
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger pslog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.log = logger
		}
	}
}

type subscription struct {
	ch   chan Update
	done chan struct{}
	once sync.Once
}

// Client runs the poll loop for one session.
type Client struct {
	api          Fetcher
	tag          schema.Tag
	backoff      time.Duration
	pollInterval time.Duration
	log          pslog.Logger
	wake         chan struct{}

	mu        sync.Mutex
	lastCheck int64
	sub       *subscription
	// waiting is set while Run sleeps between polls. Wakes are only
	// accepted then, so an in-flight poll keeps its outcome.
	waiting bool

	// sendMu serializes delivery against channel close.
	sendMu sync.Mutex

	// Streak state, touched only by the Run goroutine.
	failing           bool
	interruptNotified bool
	authNotified      bool
}

// New creates a stream client over api with a fresh session tag.
func New(api Fetcher, opts ...Option) *Client {
	c := &Client{
		api:     api,
		tag:     schema.Tag(uuid.NewString()),
		backoff: DefaultBackoff,
		log:     pslog.Ctx(context.Background()),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("tag", c.tag)
	return c
}

// Tag returns the session tag sent with every command.
func (c *Client) Tag() schema.Tag {
	return c.tag
}

// LastCheckTime returns the newest event timestamp seen so far.
func (c *Client) LastCheckTime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCheck
}

// Subscribe registers the single consumer. The returned cancel func closes
// the channel; after it returns a new subscriber may register.
func (c *Client) Subscribe() (<-chan Update, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return nil, nil, ErrAlreadySubscribed
	}
	sub := &subscription{ch: make(chan Update, defaultBuffer), done: make(chan struct{})}
	c.sub = sub
	return sub.ch, func() { c.unsubscribe(sub) }, nil
}

func (c *Client) unsubscribe(sub *subscription) {
	sub.once.Do(func() {
		close(sub.done)
		c.sendMu.Lock()
		close(sub.ch)
		c.sendMu.Unlock()
		c.mu.Lock()
		if c.sub == sub {
			c.sub = nil
		}
		c.mu.Unlock()
	})
}

// RetryNow cuts a pending backoff short. It has no effect while a poll is
// in flight: a poll that then fails still waits out the full backoff.
func (c *Client) RetryNow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.waiting {
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Exec sends command tagged with this session. Any answer from the server,
// including an application error, wakes the poll loop.
func (c *Client) Exec(ctx context.Context, command string, admin bool) (schema.EventBatch, error) {
	batch, err := c.api.Exec(ctx, command, c.tag, admin)
	if schema.ReachedServer(err) {
		c.RetryNow()
	}
	if err != nil {
		c.log.Debug("stream exec failed", "err", err)
	}
	return batch, err
}

// Run polls until ctx is done. It returns ErrNotSubscribed when called
// without a subscriber, otherwise ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	subscribed := c.sub != nil
	c.mu.Unlock()
	if !subscribed {
		return ErrNotSubscribed
	}
	c.log.Info("stream start", "backoff", c.backoff.String())
	for {
		if err := ctx.Err(); err != nil {
			c.log.Info("stream stop")
			return err
		}
		since := c.LastCheckTime() + 1
		batch, err := c.api.Events(ctx, since)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("stream stop")
				return ctx.Err()
			}
			c.fail(ctx, err)
			c.wait(ctx, c.backoff)
			continue
		}
		c.succeed(ctx, batch)
		if c.pollInterval > 0 {
			c.wait(ctx, c.pollInterval)
		}
	}
}

func (c *Client) succeed(ctx context.Context, batch schema.EventBatch) {
	if c.failing {
		c.log.Info("stream restored")
		c.failing = false
		c.interruptNotified = false
		c.authNotified = false
		c.emit(ctx, Update{Kind: UpdateRestored})
	}
	max := batch.MaxTimestamp()
	c.mu.Lock()
	if max > c.lastCheck {
		c.lastCheck = max
	}
	c.mu.Unlock()
	if len(batch.Log) == 0 {
		return
	}
	c.log.Trace("stream batch", "events", len(batch.Log), "last_check", max)
	c.emit(ctx, Update{Kind: UpdateEvents, Events: batch.Log})
}

func (c *Client) fail(ctx context.Context, err error) {
	c.failing = true
	if errors.Is(err, schema.ErrAuthRequired) {
		if c.authNotified {
			c.log.Debug("stream poll failed", "err", err)
			return
		}
		c.authNotified = true
		c.log.Warn("stream auth required", "err", err)
		c.emit(ctx, Update{Kind: UpdateAuthRequired, Err: err})
		return
	}
	if c.interruptNotified {
		c.log.Debug("stream poll failed", "err", err)
		return
	}
	c.interruptNotified = true
	c.log.Warn("stream interrupted", "err", err, "retry_in", c.backoff.String())
	c.emit(ctx, Update{Kind: UpdateInterrupted, Err: err})
}

func (c *Client) emit(ctx context.Context, u Update) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub == nil {
		c.log.Debug("stream update dropped", "kind", u.Kind.String())
		return
	}
	select {
	case <-sub.done:
		return
	default:
	}
	select {
	case sub.ch <- u:
	case <-sub.done:
	case <-ctx.Done():
	}
}

func (c *Client) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	c.setWaiting(true)
	defer c.setWaiting(false)
	select {
	case <-timer.C:
	case <-c.wake:
	case <-ctx.Done():
	}
}

func (c *Client) setWaiting(waiting bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiting = waiting
	if !waiting {
		select {
		case <-c.wake:
		default:
		}
	}
}

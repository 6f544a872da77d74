// Package terminal is the interactive front end: it reads keys, drives the
// line editor and completer, sends commands through the event stream and
// draws the scrollback on an alternate screen.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/wobterm/internal/complete"
	"pkt.systems/wobterm/internal/eventstream"
	"pkt.systems/wobterm/internal/lineedit"
	"pkt.systems/wobterm/internal/logx"
	"pkt.systems/wobterm/internal/persist"
	"pkt.systems/wobterm/internal/scrollback"
	"pkt.systems/wobterm/internal/session"
	"pkt.systems/wobterm/internal/wobinfo"
	"pkt.systems/wobterm/schema"
)

// Window is a terminal size in cells.
type Window struct {
	Width  int
	Height int
}

// Stream is the event stream surface the terminal drives.
type Stream interface {
	Tag() schema.Tag
	Subscribe() (<-chan eventstream.Update, func(), error)
	Run(ctx context.Context) error
	RetryNow()
	Exec(ctx context.Context, command string, admin bool) (schema.EventBatch, error)
}

// Backend is the part of the server API used outside the stream.
type Backend interface {
	Location(ctx context.Context) (schema.Location, error)
	Login(ctx context.Context, login, password string) (schema.Token, error)
}

// StateStore keeps command history and the debug toggle between runs.
type StateStore interface {
	Load() (persist.Snapshot, bool, error)
	Save(persist.Snapshot) error
}

// Options wires a Session to its collaborators. State is optional.
type Options struct {
	Stream         Stream
	Backend        Backend
	Tokens         session.Keeper
	Info           *wobinfo.Cache
	State          StateStore
	Theme          schema.ThemeName
	Prompt         string
	BufferMaxLines int
	Logger         pslog.Logger
	Clock          func() time.Time
}

// Session is one interactive terminal. All state is owned by the Run loop;
// background requests hand their results back through the results channel.
type Session struct {
	in      io.Reader
	screen  *screen
	stream  Stream
	backend Backend
	tokens  session.Keeper
	info    *wobinfo.Cache
	state   StateStore
	prompt  string
	clock   func() time.Time
	log     pslog.Logger
	ctx     context.Context

	width  int
	height int
	theme  tuiTheme

	editor   *lineedit.Editor
	buf      *scrollback.Buffer
	renderer *scrollback.Renderer

	status      string
	statusWarn  bool
	lastEvent   time.Time
	completeSeq int
	login       *loginState

	dirty    bool
	redrawCh chan struct{}
	results  chan func()
}

// New returns a session reading keys from in and drawing to out.
func New(in io.Reader, out io.Writer, opts Options) *Session {
	prompt := opts.Prompt
	if prompt == "" {
		prompt = "> "
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	var tag schema.Tag
	if opts.Stream != nil {
		tag = opts.Stream.Tag()
	}
	buf := scrollback.NewBuffer(opts.BufferMaxLines)
	s := &Session{
		in:       in,
		screen:   newScreen(out),
		stream:   opts.Stream,
		backend:  opts.Backend,
		tokens:   opts.Tokens,
		info:     opts.Info,
		state:    opts.State,
		prompt:   prompt,
		clock:    clock,
		log:      logger,
		ctx:      context.Background(),
		theme:    themeForName(opts.Theme),
		editor:   lineedit.New(),
		buf:      buf,
		renderer: scrollback.NewRenderer(buf, tag, prompt),
		status:   "wobterm",
		redrawCh: make(chan struct{}, 1),
		results:  make(chan func(), 16),
	}
	s.SetSize(80, 24)
	return s
}

// SetSize updates the drawing area. Non-positive values fall back to 80x24.
func (s *Session) SetSize(width, height int) {
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	if width != s.width || height != s.height {
		s.screen.Invalidate()
	}
	s.width = width
	s.height = height
}

// Run subscribes to the stream, starts polling and processes input until the
// player quits, the input ends or ctx is done.
func (s *Session) Run(ctx context.Context, winCh <-chan Window) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.stream == nil {
		return errors.New("terminal: no event stream")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = logx.ContextWithTagLogger(ctx, s.log, s.stream.Tag())

	updates, unsubscribe, err := s.stream.Subscribe()
	if err != nil {
		return err
	}
	defer unsubscribe()
	s.restoreState()
	defer s.saveState()
	go func() {
		if err := s.stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("tui stream stopped", "err", err)
		}
	}()

	s.screen.EnterAltScreen()
	defer s.screen.ExitAltScreen()
	s.render()
	s.log.Info("tui session start", "width", s.width, "height", s.height)

	keys := make(chan key, 16)
	go readKeys(s.in, keys)

	for {
		select {
		case <-ctx.Done():
			return nil
		case k, ok := <-keys:
			if !ok {
				s.log.Info("tui exit", "reason", "input closed")
				return nil
			}
			if s.handleKey(k) {
				return nil
			}
		case win, ok := <-winCh:
			if !ok {
				winCh = nil
				break
			}
			s.SetSize(win.Width, win.Height)
			s.dirty = true
			s.log.Debug("tui resize", "width", s.width, "height", s.height)
		case u, ok := <-updates:
			if !ok {
				updates = nil
				break
			}
			s.handleUpdate(u)
		case fn := <-s.results:
			fn()
			s.dirty = true
		case <-s.redrawCh:
			s.dirty = true
		}

		if s.dirty {
			s.render()
			s.dirty = false
		}
	}
}

func (s *Session) restoreState() {
	if s.state == nil {
		return
	}
	snapshot, ok, err := s.state.Load()
	if err != nil {
		s.log.Warn("tui state load failed", "err", err)
		return
	}
	if !ok {
		return
	}
	s.editor.Restore(snapshot.History)
	s.renderer.SetShowDebug(snapshot.ShowDebug)
}

func (s *Session) saveState() {
	if s.state == nil {
		return
	}
	snapshot := persist.Snapshot{
		History:   s.editor.History().Entries(),
		ShowDebug: s.renderer.ShowDebug(),
	}
	if err := s.state.Save(snapshot); err != nil {
		s.log.Warn("tui state save failed", "err", err)
	}
}

func (s *Session) handleUpdate(u eventstream.Update) {
	now := s.clock()
	switch u.Kind {
	case eventstream.UpdateEvents:
		added := s.renderer.AppendBatch(u.Events, now)
		s.hydrate(u.Events)
		s.lastEvent = now
		s.log.Trace("tui events", "events", len(u.Events), "lines", added)
	case eventstream.UpdateInterrupted:
		s.setStatus("connection interrupted, retrying", true)
		s.renderer.AppendNotice(string(schema.EventError), "connection to the server was interrupted", now)
	case eventstream.UpdateRestored:
		s.setStatus("connected", false)
		s.renderer.AppendNotice(styleNotice, "connection restored", now)
	case eventstream.UpdateAuthRequired:
		s.setStatus("not logged in", true)
		s.renderer.AppendNotice(styleNotice, "login required, use /login", now)
	}
	s.dirty = true
}

func (s *Session) setStatus(status string, warn bool) {
	s.status = status
	s.statusWarn = warn
}

// hydrate starts background lookups for references the cache cannot
// resolve yet and redraws when they land.
func (s *Session) hydrate(events []schema.Event) {
	if s.info == nil {
		return
	}
	for _, ev := range events {
		for _, item := range ev.Items {
			if item.Ref == nil {
				continue
			}
			ref := *item.Ref
			switch ref.Kind {
			case schema.RefImage:
				if _, ok := s.info.PeekImage(ref); ok || ref.Property == "" {
					continue
				}
				go func() {
					if _, err := s.info.Image(s.ctx, ref); err == nil {
						s.requestRedraw()
					}
				}()
			case schema.RefWob:
				if ref.Text != "" {
					continue
				}
				if _, ok := s.info.Peek(ref.ID); ok {
					continue
				}
				go func() {
					if _, err := s.info.Info(s.ctx, ref.ID); err == nil {
						s.requestRedraw()
					}
				}()
			}
		}
	}
}

func (s *Session) handleKey(k key) bool {
	if s.login != nil {
		return s.handleLoginKey(k)
	}
	switch k.kind {
	case keyCtrlD:
		if s.editor.Len() == 0 {
			s.log.Info("tui exit", "reason", "ctrl-d")
			return true
		}
		s.editor.ForwardDelete()
	case keyCtrlC:
		s.editor.Clear()
	case keyCtrlL:
		s.buf.ResetScroll()
		s.screen.Invalidate()
	case keyEnter:
		if s.handleEnter() {
			return true
		}
	case keyRune:
		s.buf.ResetScroll()
		s.editor.Insert(k.r)
	case keyBackspace:
		s.buf.ResetScroll()
		s.editor.Backspace()
	case keyDelete:
		s.buf.ResetScroll()
		s.editor.ForwardDelete()
	case keyLeft:
		s.editor.Move(-1)
	case keyRight:
		s.editor.Move(1)
	case keyHome, keyCtrlA:
		s.editor.MoveStart()
	case keyEnd, keyCtrlE:
		s.editor.MoveEnd()
	case keyAltB:
		s.editor.MoveWordLeft()
	case keyAltF:
		s.editor.MoveWordRight()
	case keyCtrlW:
		s.buf.ResetScroll()
		s.editor.DeleteLeftWord()
	case keyCtrlU:
		s.buf.ResetScroll()
		s.editor.DeleteToStart()
	case keyCtrlK:
		s.buf.ResetScroll()
		s.editor.DeleteToEnd()
	case keyTab:
		s.complete()
	case keyUp:
		s.editor.HistoryNavigate(-1)
	case keyDown:
		s.editor.HistoryNavigate(1)
	case keyPageUp:
		s.scroll(1)
	case keyPageDown:
		s.scroll(-1)
	}
	s.dirty = true
	return false
}

func (s *Session) handleEnter() bool {
	raw := s.editor.Submit()
	line := strings.TrimSpace(raw)
	if line == "" {
		return false
	}
	s.buf.ResetScroll()
	if strings.HasPrefix(line, "/") {
		return s.handleCommand(line)
	}
	s.execute(line, false)
	return false
}

// execute echoes command and sends it in the background. Output arrives
// through the stream; only failures are reported here.
func (s *Session) execute(command string, admin bool) {
	s.renderer.AppendEcho(command, s.clock())
	log := logx.WithTag(s.ctx, s.stream.Tag())
	log.Debug("tui exec", "len", len(command), "admin", admin)
	go func() {
		_, err := s.stream.Exec(s.ctx, command, admin)
		if err == nil {
			return
		}
		s.post(func() {
			if errors.Is(err, schema.ErrAuthRequired) {
				s.setStatus("not logged in", true)
				s.renderer.AppendNotice(styleNotice, "login required, use /login", s.clock())
				return
			}
			s.appendError(err)
		})
	}()
}

// complete fetches the current location and completes the line against it.
// The result is dropped if the line changed meanwhile.
func (s *Session) complete() {
	command := s.editor.Command()
	if strings.TrimSpace(command) == "" || s.backend == nil {
		return
	}
	s.completeSeq++
	seq := s.completeSeq
	go func() {
		loc, err := s.backend.Location(s.ctx)
		s.post(func() {
			if seq != s.completeSeq || s.editor.Command() != command {
				return
			}
			if err != nil {
				s.appendError(fmt.Errorf("completion: %w", err))
				return
			}
			s.applyCompletion(command, complete.Complete(command, candidatesFor(loc)))
		})
	}()
}

func (s *Session) applyCompletion(command string, res complete.Result) {
	if len(res.Matches) == 0 {
		return
	}
	s.editor.SetString(res.Line(command))
	if len(res.Matches) > 1 {
		s.renderer.AppendNotice(styleNotice, strings.Join(res.Matches, "  "), s.clock())
	}
}

func candidatesFor(loc schema.Location) complete.Candidates {
	var c complete.Candidates
	for _, verb := range loc.Verbs {
		c.Verbs = append(c.Verbs, verb.Name)
	}
	for _, wob := range loc.Contents {
		if wob.Name != "" {
			c.Objects = append(c.Objects, wob.Name)
		}
		c.Verbs = append(c.Verbs, wob.VerbNames()...)
	}
	return c
}

func (s *Session) scroll(direction int) {
	limit := s.viewHeight()
	if limit <= 0 {
		return
	}
	s.buf.Scroll(limit*direction, limit)
	s.log.Trace("tui scroll", "delta", limit*direction, "limit", limit)
}

// post hands fn to the Run loop.
func (s *Session) post(fn func()) {
	select {
	case s.results <- fn:
	case <-s.ctx.Done():
	}
}

func (s *Session) requestRedraw() {
	select {
	case s.redrawCh <- struct{}{}:
	default:
	}
}

func (s *Session) appendError(err error) {
	if err == nil {
		return
	}
	s.log.Warn("tui command failed", "err", err)
	s.renderer.AppendNotice(string(schema.EventError), fmt.Sprintf("error: %v", err), s.clock())
}

func (s *Session) appendNotice(message string) {
	s.renderer.AppendNotice(styleNotice, message, s.clock())
}

func (s *Session) viewHeight() int {
	if s.height <= 1 {
		return 0
	}
	prefix, input, cursor := s.inputDisplay()
	inputLines, _, _ := renderInputLines(prefix, input, cursor, s.width)
	view := s.height - 1 - len(inputLines)
	if view < 0 {
		view = 0
	}
	return view
}

func (s *Session) inputDisplay() (string, string, int) {
	prefix := s.prompt
	if s.login != nil {
		prefix = s.login.prompt()
	}
	display := s.editor.Display()
	return prefix, display.String(), len([]rune(display.Left))
}

func (s *Session) render() {
	width := s.width
	height := s.height
	lines := make([]string, 0, height)

	right := formatClock(s.lastEvent)
	if s.renderer.ShowDebug() {
		right = strings.TrimSpace("debug " + right)
	}
	lines = append(lines, renderStatusBar(s.status, right, s.statusWarn, width, s.theme))

	prefix, input, cursor := s.inputDisplay()
	inputLines, cursorRow, cursorCol := renderInputLines(stylePromptPrefix(prefix, s.theme), input, cursor, width)
	outputHeight := height - 1 - len(inputLines)
	if outputHeight < 0 {
		outputHeight = 0
	}
	view := s.buf.Snapshot(outputHeight)
	lines = append(lines, renderViewport(view, width, outputHeight, s.theme, s.info)...)

	lines = append(lines, inputLines...)
	cursorRow = len(lines) - len(inputLines) + cursorRow
	if err := s.screen.Render(lines, cursorRow, cursorCol); err != nil {
		s.log.Warn("tui render failed", "err", err)
	}
}

package terminal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/wobterm/internal/eventstream"
	"pkt.systems/wobterm/internal/persist"
	"pkt.systems/wobterm/internal/session"
	"pkt.systems/wobterm/internal/wobinfo"
	"pkt.systems/wobterm/schema"
)

type execCall struct {
	command string
	admin   bool
}

type fakeStream struct {
	mu      sync.Mutex
	updates chan eventstream.Update
	execs   chan execCall
	execErr error
	retries int
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		updates: make(chan eventstream.Update, 4),
		execs:   make(chan execCall, 4),
	}
}

func (f *fakeStream) Tag() schema.Tag { return "tag-1" }

func (f *fakeStream) Subscribe() (<-chan eventstream.Update, func(), error) {
	return f.updates, func() {}, nil
}

func (f *fakeStream) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeStream) RetryNow() {
	f.mu.Lock()
	f.retries++
	f.mu.Unlock()
}

func (f *fakeStream) Exec(_ context.Context, command string, admin bool) (schema.EventBatch, error) {
	f.execs <- execCall{command: command, admin: admin}
	return schema.EventBatch{Success: f.execErr == nil}, f.execErr
}

type fakeBackend struct {
	location schema.Location
	token    schema.Token
	loginErr error
	logins   chan [2]string
}

func (f *fakeBackend) Location(context.Context) (schema.Location, error) {
	return f.location, nil
}

func (f *fakeBackend) Login(_ context.Context, login, password string) (schema.Token, error) {
	if f.logins != nil {
		f.logins <- [2]string{login, password}
	}
	return f.token, f.loginErr
}

type fakeSource struct{}

func (fakeSource) WobInfo(_ context.Context, id schema.WobID) (schema.WobInfo, error) {
	return schema.WobInfo{ID: id, Name: "lamp", Desc: "A brass lamp.", Verbs: []schema.VerbInfo{{Name: "rub"}}}, nil
}

func (fakeSource) Property(context.Context, schema.WobID, string) (schema.Blob, error) {
	return schema.Blob{}, errors.New("no blobs here")
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestSession(stream *fakeStream, backend *fakeBackend, tokens session.Keeper) *Session {
	opts := Options{
		Stream: stream,
		Tokens: tokens,
		Info:   wobinfo.New(fakeSource{}, nil),
		Clock:  func() time.Time { return fixedNow },
	}
	if backend != nil {
		opts.Backend = backend
	}
	return New(strings.NewReader(""), io.Discard, opts)
}

func typeText(s *Session, text string) {
	for _, r := range text {
		s.handleKey(key{kind: keyRune, r: r})
	}
}

func typeLine(s *Session, text string) bool {
	typeText(s, text)
	return s.handleKey(key{kind: keyEnter})
}

func lastLine(s *Session) string {
	if s.buf.Len() == 0 {
		return ""
	}
	return s.buf.Line(s.buf.Len() - 1).Text()
}

func runPosted(t *testing.T, s *Session) {
	t.Helper()
	select {
	case fn := <-s.results:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for background result")
	}
}

func TestSessionExecEchoesAndSends(t *testing.T) {
	stream := newFakeStream()
	s := newTestSession(stream, nil, nil)
	if typeLine(s, "look") {
		t.Fatalf("did not expect session to end")
	}
	call := <-stream.execs
	if call.command != "look" || call.admin {
		t.Fatalf("unexpected exec %+v", call)
	}
	if got := lastLine(s); got != "> look" {
		t.Fatalf("expected echo line, got %q", got)
	}
	if s.editor.Len() != 0 {
		t.Fatalf("expected editor cleared after submit")
	}
}

func TestSessionAdminCommand(t *testing.T) {
	stream := newFakeStream()
	s := newTestSession(stream, nil, nil)
	typeLine(s, "/admin dig north")
	call := <-stream.execs
	if call.command != "dig north" || !call.admin {
		t.Fatalf("unexpected exec %+v", call)
	}
}

func TestSessionExecAuthFailureShowsLoginHint(t *testing.T) {
	stream := newFakeStream()
	stream.execErr = schema.ErrAuthRequired
	s := newTestSession(stream, nil, nil)
	typeLine(s, "look")
	<-stream.execs
	runPosted(t, s)
	if s.status != "not logged in" || !s.statusWarn {
		t.Fatalf("expected login status, got %q warn=%v", s.status, s.statusWarn)
	}
	if !strings.Contains(lastLine(s), "/login") {
		t.Fatalf("expected login hint, got %q", lastLine(s))
	}
}

func TestSessionExecServerErrorShown(t *testing.T) {
	stream := newFakeStream()
	stream.execErr = schema.ServerError("no such verb")
	s := newTestSession(stream, nil, nil)
	typeLine(s, "dance")
	<-stream.execs
	runPosted(t, s)
	if !strings.Contains(lastLine(s), "no such verb") {
		t.Fatalf("expected server error in scrollback, got %q", lastLine(s))
	}
}

func TestSessionLoginFlow(t *testing.T) {
	stream := newFakeStream()
	backend := &fakeBackend{token: "tok-1", logins: make(chan [2]string, 1)}
	tokens := session.NewMemory("")
	s := newTestSession(stream, backend, tokens)

	typeLine(s, "/login")
	if s.login == nil || s.login.prompt() != "login: " {
		t.Fatalf("expected login prompt")
	}
	typeLine(s, "bob")
	if !s.editor.Masked() {
		t.Fatalf("expected masked password entry")
	}
	typeText(s, "secret")
	prefix, input, _ := s.inputDisplay()
	if prefix != "password: " || input != "******" {
		t.Fatalf("unexpected password display %q %q", prefix, input)
	}
	s.handleKey(key{kind: keyEnter})
	creds := <-backend.logins
	if creds != [2]string{"bob", "secret"} {
		t.Fatalf("unexpected credentials %v", creds)
	}
	runPosted(t, s)
	if tokens.Token() != "tok-1" {
		t.Fatalf("expected token kept, got %q", tokens.Token())
	}
	stream.mu.Lock()
	retries := stream.retries
	stream.mu.Unlock()
	if retries != 1 {
		t.Fatalf("expected stream nudged once, got %d", retries)
	}
	if s.editor.Masked() || s.login != nil {
		t.Fatalf("expected login state cleared")
	}
	for _, entry := range s.editor.History().Entries() {
		if strings.Contains(entry, "secret") || entry == "bob" {
			t.Fatalf("credentials leaked into history: %q", entry)
		}
	}
}

func TestSessionLoginWithNameSkipsToPassword(t *testing.T) {
	backend := &fakeBackend{loginErr: schema.ServerError("bad password"), logins: make(chan [2]string, 1)}
	s := newTestSession(newFakeStream(), backend, session.NewMemory(""))
	typeLine(s, "/login alice")
	if s.login == nil || s.login.step != loginStepPassword {
		t.Fatalf("expected password step")
	}
	typeLine(s, "wrong")
	<-backend.logins
	runPosted(t, s)
	if !strings.Contains(lastLine(s), "login failed") {
		t.Fatalf("expected login failure, got %q", lastLine(s))
	}
}

func TestSessionLoginCancel(t *testing.T) {
	s := newTestSession(newFakeStream(), &fakeBackend{}, session.NewMemory(""))
	typeLine(s, "/login")
	typeText(s, "bo")
	s.handleKey(key{kind: keyCtrlC})
	if s.login != nil || s.editor.Len() != 0 {
		t.Fatalf("expected login cancelled")
	}
	if got := lastLine(s); got != "login cancelled" {
		t.Fatalf("unexpected notice %q", got)
	}
}

func TestSessionLogoutDropsToken(t *testing.T) {
	tokens := session.NewMemory("tok")
	s := newTestSession(newFakeStream(), &fakeBackend{}, tokens)
	typeLine(s, "/logout")
	if tokens.Token() != "" {
		t.Fatalf("expected token dropped")
	}
	if s.status != "not logged in" {
		t.Fatalf("unexpected status %q", s.status)
	}
}

func TestSessionTabCompletion(t *testing.T) {
	backend := &fakeBackend{location: schema.Location{
		Contents: []schema.WobInfo{{Name: "book"}, {Name: "box"}, {Name: "bottle"}},
		Verbs:    []schema.VerbInfo{{Name: "take"}, {Name: "$init"}},
	}}
	s := newTestSession(newFakeStream(), backend, nil)
	typeText(s, "take b")
	s.handleKey(key{kind: keyTab})
	runPosted(t, s)
	if got := s.editor.Command(); got != "take bo" {
		t.Fatalf("expected common prefix completion, got %q", got)
	}
	if got := lastLine(s); got != "book  box  bottle" {
		t.Fatalf("expected matches listed, got %q", got)
	}

	s.editor.Clear()
	typeText(s, "ta")
	s.handleKey(key{kind: keyTab})
	runPosted(t, s)
	if got := s.editor.Command(); got != "take" {
		t.Fatalf("expected verb completion, got %q", got)
	}
}

func TestSessionCompletionDroppedWhenLineChanged(t *testing.T) {
	backend := &fakeBackend{location: schema.Location{Contents: []schema.WobInfo{{Name: "book"}}}}
	s := newTestSession(newFakeStream(), backend, nil)
	typeText(s, "take b")
	s.handleKey(key{kind: keyTab})
	typeText(s, "x")
	runPosted(t, s)
	if got := s.editor.Command(); got != "take bx" {
		t.Fatalf("expected stale completion dropped, got %q", got)
	}
}

func TestSessionHistoryKeys(t *testing.T) {
	stream := newFakeStream()
	s := newTestSession(stream, nil, nil)
	typeLine(s, "one")
	<-stream.execs
	typeLine(s, "two")
	<-stream.execs

	steps := []struct {
		k    keyKind
		want string
	}{
		{k: keyUp, want: "two"},
		{k: keyUp, want: "one"},
		{k: keyUp, want: "one"},
		{k: keyDown, want: "two"},
		{k: keyDown, want: ""},
	}
	for i, step := range steps {
		s.handleKey(key{kind: step.k})
		if got := s.editor.Command(); got != step.want {
			t.Fatalf("step %d: expected %q, got %q", i, step.want, got)
		}
	}
}

func TestSessionStreamUpdates(t *testing.T) {
	s := newTestSession(newFakeStream(), nil, nil)
	s.handleUpdate(eventstream.Update{Kind: eventstream.UpdateInterrupted, Err: schema.ErrConnectivity})
	if !s.statusWarn || !strings.Contains(s.status, "interrupted") {
		t.Fatalf("expected interrupted status, got %q", s.status)
	}
	s.handleUpdate(eventstream.Update{Kind: eventstream.UpdateRestored})
	if s.statusWarn || s.status != "connected" {
		t.Fatalf("expected restored status, got %q", s.status)
	}
	before := s.buf.Len()
	s.handleUpdate(eventstream.Update{Kind: eventstream.UpdateEvents, Events: []schema.Event{
		{Timestamp: fixedNow.Unix(), Type: schema.EventOutput, Items: []schema.Item{schema.TextItem("It is dark.")}},
		{Timestamp: fixedNow.Unix(), Type: schema.EventCommand, Tag: "tag-1", Items: []schema.Item{schema.TextItem("look")}},
	}})
	if s.buf.Len() != before+1 {
		t.Fatalf("expected own command suppressed, got %d new lines", s.buf.Len()-before)
	}
	if got := lastLine(s); got != "It is dark." {
		t.Fatalf("unexpected line %q", got)
	}
	s.handleUpdate(eventstream.Update{Kind: eventstream.UpdateAuthRequired, Err: schema.ErrAuthRequired})
	if s.status != "not logged in" {
		t.Fatalf("expected auth status, got %q", s.status)
	}
}

func TestSessionDebugToggle(t *testing.T) {
	s := newTestSession(newFakeStream(), nil, nil)
	typeLine(s, "/debug")
	if !s.renderer.ShowDebug() {
		t.Fatalf("expected debug on")
	}
	typeLine(s, "/debug off")
	if s.renderer.ShowDebug() {
		t.Fatalf("expected debug off")
	}
}

func TestSessionWobCommand(t *testing.T) {
	s := newTestSession(newFakeStream(), nil, nil)
	typeLine(s, "/wob #5")
	runPosted(t, s)
	var lines []string
	for i := 0; i < s.buf.Len(); i++ {
		lines = append(lines, s.buf.Line(i).Text())
	}
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"#5 lamp", "A brass lamp.", "verbs: rub"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in output, got %q", want, joined)
		}
	}
}

func TestSessionUnknownSlashCommand(t *testing.T) {
	s := newTestSession(newFakeStream(), nil, nil)
	typeLine(s, "/frobnicate")
	if !strings.Contains(lastLine(s), "unknown command /frobnicate") {
		t.Fatalf("unexpected output %q", lastLine(s))
	}
}

func TestSessionQuitAndCtrlD(t *testing.T) {
	s := newTestSession(newFakeStream(), nil, nil)
	if !typeLine(s, "/quit") {
		t.Fatalf("expected /quit to end the session")
	}
	typeText(s, "x")
	if s.handleKey(key{kind: keyCtrlD}) {
		t.Fatalf("ctrl-d with input must not exit")
	}
	s.editor.Clear()
	if !s.handleKey(key{kind: keyCtrlD}) {
		t.Fatalf("ctrl-d on empty line should exit")
	}
}

func TestSessionPageScrolling(t *testing.T) {
	s := newTestSession(newFakeStream(), nil, nil)
	s.SetSize(40, 6)
	for i := 0; i < 20; i++ {
		s.appendNotice("line")
	}
	s.handleKey(key{kind: keyPageUp})
	view := s.buf.Snapshot(s.viewHeight())
	if view.AtBottom {
		t.Fatalf("expected page up to leave the bottom")
	}
	typeText(s, "a")
	if view := s.buf.Snapshot(s.viewHeight()); !view.AtBottom {
		t.Fatalf("expected typing to return to the bottom")
	}
}

func TestSessionRunDrawsAndExits(t *testing.T) {
	stream := newFakeStream()
	pr, pw := io.Pipe()
	var out bytes.Buffer
	s := New(pr, &out, Options{Stream: stream, Clock: func() time.Time { return fixedNow }})

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), nil)
	}()
	if _, err := pw.Write([]byte("look\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case call := <-stream.execs:
		if call.command != "look" {
			t.Fatalf("unexpected exec %+v", call)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for exec")
	}
	_ = pw.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for run to exit")
	}
	rendered := out.String()
	if !strings.HasPrefix(rendered, "\x1b[?1049h") {
		t.Fatalf("expected alternate screen enter")
	}
	if !strings.HasSuffix(rendered, "\x1b[?1049l\x1b[?25h") {
		t.Fatalf("expected alternate screen exit")
	}
	if !strings.Contains(rendered, "look") {
		t.Fatalf("expected echoed command drawn")
	}
}

func TestSessionRunRestoresAndSavesState(t *testing.T) {
	store, err := persist.NewStore(filepath.Join(t.TempDir(), "terminal.json"), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Save(persist.Snapshot{History: []string{"north"}, ShowDebug: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	stream := newFakeStream()
	pr, pw := io.Pipe()
	s := New(pr, io.Discard, Options{Stream: stream, State: store, Clock: func() time.Time { return fixedNow }})

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), nil)
	}()
	if _, err := pw.Write([]byte("look\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-stream.execs:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for exec")
	}
	_ = pw.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for run to exit")
	}

	got, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	want := persist.Snapshot{History: []string{"north", "look"}, ShowDebug: true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected saved state %+v", got)
	}
}

// Package lineedit implements the single-line command editor used by the
// terminal: cursor movement, word operations, history and masked input.
package lineedit

// Placeholder is shown under the cursor when it sits at end of line.
const Placeholder = '\u00a0'

// Buffer is the line split around the cursor.
type Buffer struct {
	Left       string
	CursorChar rune
	Right      string
}

// String reconstructs the full line without the placeholder.
func (b Buffer) String() string {
	if b.CursorChar == Placeholder {
		return b.Left + b.Right
	}
	return b.Left + string(b.CursorChar) + b.Right
}

// Editor holds the editable command line and its history cursor.
// It is not safe for concurrent use.
type Editor struct {
	buf          []rune
	cursor       int
	history      History
	historyIndex int
	mask         rune
}

// New returns an empty editor.
func New() *Editor {
	return &Editor{}
}

// Command returns the full line.
func (e *Editor) Command() string {
	return string(e.buf)
}

// Len returns the line length in runes.
func (e *Editor) Len() int {
	return len(e.buf)
}

// Cursor returns the cursor position in runes.
func (e *Editor) Cursor() int {
	return e.cursor
}

// Buffer returns the unmasked line split around the cursor.
func (e *Editor) Buffer() Buffer {
	out := Buffer{Left: string(e.buf[:e.cursor]), CursorChar: Placeholder}
	if e.cursor < len(e.buf) {
		out.CursorChar = e.buf[e.cursor]
		out.Right = string(e.buf[e.cursor+1:])
	}
	return out
}

// Display returns the line as it should be drawn. With a mask set, every
// rune except the placeholder is replaced by the mask rune.
func (e *Editor) Display() Buffer {
	b := e.Buffer()
	if e.mask == 0 {
		return b
	}
	b.Left = maskString(b.Left, e.mask)
	b.Right = maskString(b.Right, e.mask)
	if b.CursorChar != Placeholder {
		b.CursorChar = e.mask
	}
	return b
}

// SetMask enables masked display with the given rune.
func (e *Editor) SetMask(r rune) {
	e.mask = r
}

// ClearMask disables masked display.
func (e *Editor) ClearMask() {
	e.mask = 0
}

// Masked reports whether a mask is active.
func (e *Editor) Masked() bool {
	return e.mask != 0
}

// History exposes the submitted commands.
func (e *Editor) History() *History {
	return &e.history
}

// Restore seeds history with entries from an earlier session, oldest
// first, and parks the history cursor after them.
func (e *Editor) Restore(entries []string) {
	for _, entry := range entries {
		e.history.Append(entry)
	}
	e.historyIndex = e.history.Len()
}

// Clear empties the line.
func (e *Editor) Clear() {
	e.buf = nil
	e.cursor = 0
}

// SetString replaces the line and moves the cursor to its end.
func (e *Editor) SetString(value string) {
	if value == "" {
		e.Clear()
		return
	}
	e.buf = []rune(value)
	e.cursor = len(e.buf)
}

// Insert adds r at the cursor and advances past it.
func (e *Editor) Insert(r rune) {
	e.buf = append(e.buf[:e.cursor], append([]rune{r}, e.buf[e.cursor:]...)...)
	e.cursor++
}

// Backspace removes the rune left of the cursor.
func (e *Editor) Backspace() {
	if e.cursor <= 0 {
		return
	}
	e.buf = append(e.buf[:e.cursor-1], e.buf[e.cursor:]...)
	e.cursor--
}

// ForwardDelete removes the rune under the cursor.
func (e *Editor) ForwardDelete() {
	if e.cursor >= len(e.buf) {
		return
	}
	e.buf = append(e.buf[:e.cursor], e.buf[e.cursor+1:]...)
}

// Move shifts the cursor by delta runes, clamped to the line.
func (e *Editor) Move(delta int) {
	e.cursor = clamp(e.cursor+delta, 0, len(e.buf))
}

// MoveStart puts the cursor at the start of the line.
func (e *Editor) MoveStart() {
	e.cursor = 0
}

// MoveEnd puts the cursor at the end of the line.
func (e *Editor) MoveEnd() {
	e.cursor = len(e.buf)
}

// MoveWordLeft skips spaces then the word before the cursor.
func (e *Editor) MoveWordLeft() {
	e.cursor = e.wordStart()
}

// MoveWordRight skips spaces then the word after the cursor.
func (e *Editor) MoveWordRight() {
	i := e.cursor
	for i < len(e.buf) && e.buf[i] == ' ' {
		i++
	}
	for i < len(e.buf) && e.buf[i] != ' ' {
		i++
	}
	e.cursor = i
}

// DeleteToStart removes everything left of the cursor.
func (e *Editor) DeleteToStart() {
	if e.cursor <= 0 {
		return
	}
	e.buf = append([]rune(nil), e.buf[e.cursor:]...)
	e.cursor = 0
}

// DeleteToEnd removes everything from the cursor on.
func (e *Editor) DeleteToEnd() {
	if e.cursor >= len(e.buf) {
		return
	}
	e.buf = e.buf[:e.cursor]
}

// DeleteLeftWord removes the word before the cursor along with the spaces
// between it and the cursor. With no space to the left it clears to the
// start of the line.
func (e *Editor) DeleteLeftWord() {
	start := e.wordStart()
	if start >= e.cursor {
		return
	}
	e.buf = append(e.buf[:start], e.buf[e.cursor:]...)
	e.cursor = start
}

// HistoryNavigate moves through history by steps (negative is older).
// The index is clamped to [0, len]; landing on len leaves a fresh empty line.
func (e *Editor) HistoryNavigate(steps int) {
	e.historyIndex = clamp(e.historyIndex+steps, 0, e.history.Len())
	entry, ok := e.history.At(e.historyIndex)
	if !ok {
		e.Clear()
		return
	}
	e.SetString(entry)
}

// HistoryIndex returns the current history position.
func (e *Editor) HistoryIndex() int {
	return e.historyIndex
}

// Submit returns the line, records it in history unless masked, and resets
// the editor for the next command.
func (e *Editor) Submit() string {
	cmd := e.Command()
	if e.mask == 0 {
		e.history.Append(cmd)
	}
	e.historyIndex = e.history.Len()
	e.Clear()
	return cmd
}

func (e *Editor) wordStart() int {
	i := e.cursor
	for i > 0 && e.buf[i-1] == ' ' {
		i--
	}
	for i > 0 && e.buf[i-1] != ' ' {
		i--
	}
	return i
}

func maskString(s string, mask rune) string {
	if s == "" {
		return s
	}
	out := []rune(s)
	for i, r := range out {
		if r != Placeholder {
			out[i] = mask
		}
	}
	return string(out)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

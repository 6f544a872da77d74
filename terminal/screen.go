package terminal

import (
	"io"
	"strconv"
	"strings"
)

const (
	escHideCursor = "\x1b[?25l"
	escShowCursor = "\x1b[?25h"
	escEraseLine  = "\x1b[K"
	escEraseBelow = "\x1b[J"
	escClear      = "\x1b[H\x1b[2J"
)

// screen draws frames on the alternate screen. Rows that are unchanged since
// the previous frame are not rewritten.
type screen struct {
	out  io.Writer
	prev []string
	full bool
}

func newScreen(out io.Writer) *screen {
	return &screen{out: out, full: true}
}

func (s *screen) EnterAltScreen() {
	_, _ = io.WriteString(s.out, "\x1b[?1049h"+escClear)
	s.Invalidate()
}

// ExitAltScreen drops any pending style and restores the cursor the
// player had before the session.
func (s *screen) ExitAltScreen() {
	_, _ = io.WriteString(s.out, ansiReset+"\x1b[?1049l"+escShowCursor)
}

// Invalidate forces the next Render to repaint every row.
func (s *screen) Invalidate() {
	s.full = true
	s.prev = nil
}

// Render draws lines and parks the cursor at the 1-based row and column.
func (s *screen) Render(lines []string, cursorRow, cursorCol int) error {
	cursorRow = max(cursorRow, 1)
	cursorCol = max(cursorCol, 1)
	var b strings.Builder
	b.WriteString(escHideCursor)
	if s.full {
		b.WriteString(escClear)
	}
	for i, line := range lines {
		if !s.full && i < len(s.prev) && s.prev[i] == line {
			continue
		}
		moveTo(&b, i+1, 1)
		b.WriteString(line)
		b.WriteString(ansiReset)
		b.WriteString(escEraseLine)
	}
	if !s.full && len(lines) < len(s.prev) {
		moveTo(&b, len(lines)+1, 1)
		b.WriteString(escEraseBelow)
	}
	moveTo(&b, cursorRow, cursorCol)
	b.WriteString(escShowCursor)
	if _, err := io.WriteString(s.out, b.String()); err != nil {
		s.Invalidate()
		return err
	}
	s.prev = append(s.prev[:0], lines...)
	s.full = false
	return nil
}

func moveTo(b *strings.Builder, row, col int) {
	b.WriteString("\x1b[")
	b.WriteString(strconv.Itoa(row))
	b.WriteByte(';')
	b.WriteString(strconv.Itoa(col))
	b.WriteByte('H')
}

package scrollback

import (
	"time"

	"pkt.systems/wobterm/schema"
)

// View is a snapshot of the buffer's visible state.
type View struct {
	Lines []Line
	// Times holds the display time of each visible line, inherited from the
	// nearest stamped line when the line has none.
	Times        []time.Time
	TotalLines   int
	ScrollOffset int
	AtBottom     bool
}

// Buffer stores scrollback lines and scroll state. It is a strict FIFO:
// once full, each append evicts the oldest lines.
// ScrollOffset is the number of lines from the bottom; 0 means at bottom.
type Buffer struct {
	lines        []Line
	scrollOffset int
	maxLines     int
}

// NewBuffer returns a buffer holding at most maxLines lines. A non-positive
// value selects the default capacity.
func NewBuffer(maxLines int) *Buffer {
	if maxLines <= 0 {
		maxLines = schema.DefaultBufferMaxLines
	}
	return &Buffer{maxLines: maxLines}
}

// Cap returns the configured capacity.
func (b *Buffer) Cap() int {
	return b.maxLines
}

// Len returns the number of stored lines.
func (b *Buffer) Len() int {
	return len(b.lines)
}

// Line returns the line at index i, oldest first.
func (b *Buffer) Line(i int) Line {
	return b.lines[i]
}

// Append adds lines to the buffer. If the buffer is scrolled up, the scroll
// offset is increased to keep the view anchored.
func (b *Buffer) Append(lines ...Line) {
	if len(lines) == 0 {
		return
	}
	b.lines = append(b.lines, lines...)
	if b.scrollOffset > 0 {
		b.scrollOffset += len(lines)
	}
	if len(b.lines) > b.maxLines {
		trim := len(b.lines) - b.maxLines
		// The new oldest line keeps the time it displayed before eviction.
		if !b.lines[trim].Stamped() {
			b.lines[trim].Timestamp = b.DisplayTime(trim - 1)
		}
		b.lines = b.lines[trim:]
		if b.scrollOffset > len(b.lines) {
			b.scrollOffset = len(b.lines)
		}
	}
}

// DisplayTime returns the time shown for line i: its own timestamp, or that
// of the nearest stamped line above it.
func (b *Buffer) DisplayTime(i int) time.Time {
	if i >= len(b.lines) {
		i = len(b.lines) - 1
	}
	for ; i >= 0; i-- {
		if b.lines[i].Stamped() {
			return b.lines[i].Timestamp
		}
	}
	return time.Time{}
}

// ResetScroll returns the view to the bottom.
func (b *Buffer) ResetScroll() {
	b.scrollOffset = 0
}

// Scroll adjusts the scroll offset by delta. Positive delta scrolls up (older
// lines), negative delta scrolls down. Limit is the viewport height.
func (b *Buffer) Scroll(delta, limit int) {
	b.scrollOffset = clampScroll(b.scrollOffset+delta, len(b.lines), limit)
}

// Snapshot returns a view of the buffer for the given viewport limit.
func (b *Buffer) Snapshot(limit int) View {
	total := len(b.lines)
	if limit <= 0 || limit > total {
		limit = total
	}
	if max := maxScroll(total, limit); b.scrollOffset > max {
		b.scrollOffset = max
	}
	end := total - b.scrollOffset
	start := end - limit
	if start < 0 {
		start = 0
	}

	view := View{
		Lines:        make([]Line, end-start),
		Times:        make([]time.Time, end-start),
		TotalLines:   total,
		ScrollOffset: b.scrollOffset,
		AtBottom:     b.scrollOffset == 0,
	}
	copy(view.Lines, b.lines[start:end])
	for i := range view.Lines {
		view.Times[i] = b.DisplayTime(start + i)
	}
	return view
}

func maxScroll(total, limit int) int {
	if total <= 0 || limit <= 0 || total <= limit {
		return 0
	}
	return total - limit
}

func clampScroll(offset, total, limit int) int {
	max := maxScroll(total, limit)
	if offset < 0 {
		return 0
	}
	if offset > max {
		return max
	}
	return offset
}

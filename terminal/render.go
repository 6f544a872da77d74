package terminal

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"

	"pkt.systems/wobterm/internal/scrollback"
	"pkt.systems/wobterm/internal/wobinfo"
	"pkt.systems/wobterm/schema"
)

const (
	styleNotice = "notice"
	stampLayout = "15:04"
)

// gutterWidth is the timestamp column plus one space.
var gutterWidth = len(stampLayout) + 1

type cell struct {
	r     rune
	style string
}

// renderScrollbackLine wraps one scrollback line to width. The first row
// carries the timestamp gutter when the line is stamped; all other rows
// are indented to the same column.
func renderScrollbackLine(line scrollback.Line, width int, theme tuiTheme, info *wobinfo.Cache) []string {
	gutter := strings.Repeat(" ", gutterWidth)
	stamp := gutter
	if line.Stamped() {
		stamp = ansiFgRGB(theme.TimeFG) + line.Timestamp.Format(stampLayout) + ansiReset + " "
	}
	avail := width - gutterWidth
	if avail < 1 {
		avail = 1
		stamp, gutter = "", ""
	}
	rows := wrapCells(lineCells(line, info), avail)
	out := make([]string, 0, len(rows))
	for i, row := range rows {
		prefix := gutter
		if i == 0 {
			prefix = stamp
		}
		out = append(out, prefix+paintCells(row, theme))
	}
	return out
}

// lineCells flattens a line into styled runes. Start-floated chunks lead,
// end-floated chunks trail, everything else keeps its order.
func lineCells(line scrollback.Line, info *wobinfo.Cache) []cell {
	var front, body, back []cell
	for _, chunk := range line.Chunks {
		text := sanitizeOutputLine(chunkText(chunk, info))
		if text == "" {
			continue
		}
		switch chunk.Float {
		case scrollback.FloatStart:
			front = appendCells(front, text, chunk.Style)
			front = appendCells(front, " ", "")
		case scrollback.FloatEnd:
			back = appendCells(back, " ", "")
			back = appendCells(back, text, chunk.Style)
		default:
			body = appendCells(body, text, chunk.Style)
		}
	}
	out := append(front, body...)
	return append(out, back...)
}

func appendCells(cells []cell, text, style string) []cell {
	for _, r := range text {
		cells = append(cells, cell{r: r, style: style})
	}
	return cells
}

// chunkText resolves the display text of a chunk, using hydrated detail
// when the cache already holds it.
func chunkText(chunk scrollback.Chunk, info *wobinfo.Cache) string {
	if chunk.Ref == nil || info == nil {
		return chunk.Display()
	}
	switch chunk.Ref.Kind {
	case schema.RefImage:
		img, ok := info.PeekImage(*chunk.Ref)
		if !ok || img.Width == 0 {
			return chunk.Display()
		}
		label := chunk.Ref.Alt
		if label == "" {
			label = fmt.Sprintf("#%d.%s", chunk.Ref.ID, chunk.Ref.Property)
		}
		return fmt.Sprintf("[image: %s %dx%d]", label, img.Width, img.Height)
	default:
		if chunk.Ref.Text != "" {
			return chunk.Ref.Text
		}
		if wob, ok := info.Peek(chunk.Ref.ID); ok && wob.Name != "" {
			return wob.Name
		}
		return chunk.Display()
	}
}

// wrapCells breaks cells into rows no wider than width, preferring to
// break at spaces. Breaking spaces are dropped.
func wrapCells(cells []cell, width int) [][]cell {
	if width < 1 {
		width = 1
	}
	var rows [][]cell
	for len(cells) > 0 {
		used, cut, lastSpace := 0, 0, -1
		for cut < len(cells) {
			w := runewidth.RuneWidth(cells[cut].r)
			if used+w > width {
				break
			}
			if cells[cut].r == ' ' {
				lastSpace = cut
			}
			used += w
			cut++
		}
		if cut == len(cells) {
			rows = append(rows, cells)
			break
		}
		next := cut
		switch {
		case cut == 0:
			cut, next = 1, 1
		case cells[cut].r == ' ':
			next = cut + 1
		case lastSpace > 0:
			cut, next = lastSpace, lastSpace+1
		}
		rows = append(rows, cells[:cut])
		cells = cells[next:]
	}
	if len(rows) == 0 {
		rows = [][]cell{nil}
	}
	return rows
}

func paintCells(row []cell, theme tuiTheme) string {
	var b strings.Builder
	style := ""
	open := false
	for i, c := range row {
		if i == 0 || c.style != style {
			if open {
				b.WriteString(ansiReset)
				open = false
			}
			style = c.style
			if style != "" {
				b.WriteString(theme.styleFor(style))
				open = true
			}
		}
		b.WriteRune(c.r)
	}
	if open {
		b.WriteString(ansiReset)
	}
	return b.String()
}

// renderViewport wraps the visible lines and fits them to height. At the
// bottom the newest rows win; scrolled up, the oldest rows win and the last
// row shows how far the view is from the bottom.
func renderViewport(view scrollback.View, width, height int, theme tuiTheme, info *wobinfo.Cache) []string {
	if height <= 0 {
		return nil
	}
	var flattened []string
	for _, line := range view.Lines {
		flattened = append(flattened, renderScrollbackLine(line, width, theme, info)...)
	}
	rendered := make([]string, 0, height)
	if view.AtBottom {
		if len(flattened) > height {
			flattened = flattened[len(flattened)-height:]
		}
		for i := len(flattened); i < height; i++ {
			rendered = append(rendered, "")
		}
		return append(rendered, flattened...)
	}
	body := height - 1
	if len(flattened) > body {
		flattened = flattened[:body]
	}
	rendered = append(rendered, flattened...)
	for len(rendered) < body {
		rendered = append(rendered, "")
	}
	more := fmt.Sprintf("-- %d more --", view.ScrollOffset)
	return append(rendered, ansiFgRGB(theme.MoreFG)+trimANSIToWidth(more, width)+ansiReset)
}

// renderStatusBar draws the full-width top line.
func renderStatusBar(left, right string, warn bool, width int, theme tuiTheme) string {
	if width <= 0 {
		return ""
	}
	fg := theme.StatusFG
	if warn {
		fg = theme.WarnFG
	}
	left = " " + left
	if right != "" {
		right += " "
	}
	gap := width - runewidth.StringWidth(left) - runewidth.StringWidth(right)
	if gap < 1 {
		right = ""
		gap = width - runewidth.StringWidth(left)
	}
	text := left
	if gap > 0 {
		text += strings.Repeat(" ", gap) + right
	}
	text = trimANSIToWidth(text, width)
	return ansiBgRGB(theme.StatusBG) + ansiFgRGB(fg) + text + ansiReset
}

func stylePromptPrefix(prefix string, theme tuiTheme) string {
	trimmed := strings.TrimRight(prefix, " ")
	if trimmed == "" {
		return prefix
	}
	return ansiBold + ansiFgRGB(theme.PromptFG) + trimmed + ansiReset + prefix[len(trimmed):]
}

// renderInputLines lays out the prompt and input, wrapping long input under
// the prompt. It returns the rows and the 1-based cursor position within them.
func renderInputLines(prefix, input string, cursor, width int) ([]string, int, int) {
	inputRunes := []rune(input)
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(inputRunes) {
		cursor = len(inputRunes)
	}
	prefixWidth := visibleWidth(prefix)
	if width <= 0 {
		width = prefixWidth + runewidth.StringWidth(input) + 1
	}
	prefixVisible := prefix
	if prefixWidth > width {
		prefixVisible = trimANSIToWidth(prefix, width)
		prefixWidth = visibleWidth(prefixVisible)
	}
	indent := strings.Repeat(" ", prefixWidth)
	available := width - prefixWidth
	if available < 1 {
		available = 1
	}

	lines := []string{}
	lineRunes := make([]rune, 0, available)
	row := 0
	col := 0
	cursorRow := 1
	cursorCol := prefixWidth + 1
	cursorSet := false

	flushLine := func() {
		prefixStr := prefixVisible
		if row > 0 {
			prefixStr = indent
		}
		lines = append(lines, prefixStr+string(lineRunes))
		row++
		lineRunes = lineRunes[:0]
		col = 0
	}

	for i, r := range inputRunes {
		w := runewidth.RuneWidth(r)
		if col+w > available && col > 0 {
			flushLine()
		}
		if !cursorSet && i == cursor {
			cursorRow = row + 1
			cursorCol = prefixWidth + col + 1
			cursorSet = true
		}
		lineRunes = append(lineRunes, r)
		col += w
	}
	if !cursorSet {
		cursorRow = row + 1
		cursorCol = prefixWidth + col + 1
	}
	flushLine()
	if cursorCol > width {
		cursorCol = width
	}
	return lines, cursorRow, cursorCol
}

func sanitizeOutputLine(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(text); {
		ch := text[i]
		if ch == 0x1b {
			i = skipEscape(text, i+1)
			continue
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		if r == '\t' {
			b.WriteString("    ")
			i += size
			continue
		}
		if r < 0x20 || r == 0x7f {
			i += size
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

func skipEscape(text string, i int) int {
	if i >= len(text) {
		return i
	}
	switch text[i] {
	case '[':
		return skipCSI(text, i+1)
	case ']':
		return skipOSC(text, i+1)
	default:
		return i + 1
	}
}

func skipCSI(text string, i int) int {
	for i < len(text) {
		b := text[i]
		if b >= 0x40 && b <= 0x7e {
			return i + 1
		}
		i++
	}
	return i
}

func skipOSC(text string, i int) int {
	for i < len(text) {
		switch text[i] {
		case 0x07:
			return i + 1
		case 0x1b:
			if i+1 < len(text) && text[i+1] == '\\' {
				return i + 2
			}
		}
		i++
	}
	return i
}

// visibleWidth returns the column width of text, ignoring escape sequences.
func visibleWidth(text string) int {
	width := 0
	for i := 0; i < len(text); {
		if text[i] == 0x1b {
			i = skipEscape(text, i+1)
			continue
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		if size == 0 {
			break
		}
		i += size
		width += runewidth.RuneWidth(r)
	}
	return width
}

func trimANSIToWidth(text string, width int) string {
	if width <= 0 {
		return ""
	}
	var b strings.Builder
	visible := 0
	for i := 0; i < len(text); {
		if text[i] == 0x1b {
			start := i
			i = skipEscape(text, i+1)
			b.WriteString(text[start:i])
			continue
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		if size == 0 {
			break
		}
		w := runewidth.RuneWidth(r)
		if visible+w > width {
			break
		}
		b.WriteRune(r)
		i += size
		visible += w
	}
	return b.String()
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(stampLayout)
}

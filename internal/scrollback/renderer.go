package scrollback

import (
	"strings"
	"time"

	"pkt.systems/wobterm/schema"
)

// Renderer converts event batches into lines and appends them to a Buffer.
// It is owned by the terminal loop and not safe for concurrent use.
type Renderer struct {
	buf       *Buffer
	tag       schema.Tag
	prompt    string
	showDebug bool
	lastStamp time.Time
}

// NewRenderer returns a renderer writing to buf. Command events carrying
// tag are treated as already echoed locally.
func NewRenderer(buf *Buffer, tag schema.Tag, prompt string) *Renderer {
	return &Renderer{buf: buf, tag: tag, prompt: prompt}
}

// Buffer returns the underlying scrollback.
func (r *Renderer) Buffer() *Buffer {
	return r.buf
}

// ShowDebug reports whether debug events are rendered.
func (r *Renderer) ShowDebug() bool {
	return r.showDebug
}

// SetShowDebug toggles rendering of debug events.
func (r *Renderer) SetShowDebug(show bool) {
	r.showDebug = show
}

// AppendBatch renders events in order and returns the number of lines
// added. The first line of a non-empty rendering is always stamped; later
// lines only when the minute changes. Events without a timestamp use now.
func (r *Renderer) AppendBatch(events []schema.Event, now time.Time) int {
	var lines []Line
	for _, ev := range events {
		if !r.visible(ev) {
			continue
		}
		at := now
		if ev.Timestamp > 0 {
			at = time.Unix(ev.Timestamp, 0)
		}
		for i, line := range r.eventLines(ev) {
			if i == 0 {
				line.Timestamp = r.stampFor(at, len(lines) == 0)
			}
			lines = append(lines, line)
		}
	}
	r.buf.Append(lines...)
	return len(lines)
}

// AppendEcho records a locally submitted command with the prompt prefix.
func (r *Renderer) AppendEcho(command string, now time.Time) {
	line := Line{Chunks: []Chunk{
		{Style: StylePrompt, Text: r.prompt},
		{Style: StyleEcho, Text: command},
	}}
	line.Timestamp = r.stampFor(now, false)
	r.buf.Append(line)
}

// AppendNotice adds a single client-side line in the given style.
func (r *Renderer) AppendNotice(style, text string, now time.Time) {
	line := Line{Chunks: []Chunk{{Style: style, Text: text}}}
	line.Timestamp = r.stampFor(now, false)
	r.buf.Append(line)
}

func (r *Renderer) visible(ev schema.Event) bool {
	switch ev.Type {
	case schema.EventCommand:
		return r.tag == "" || ev.Tag != r.tag
	case schema.EventDebug:
		return r.showDebug
	}
	return true
}

func (r *Renderer) stampFor(at time.Time, firstOfBatch bool) time.Time {
	if firstOfBatch || r.lastStamp.IsZero() || !sameMinute(at, r.lastStamp) {
		r.lastStamp = at
		return at
	}
	return time.Time{}
}

func sameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}

// eventLines builds the chunks for one event. Text items containing
// newlines continue on fresh lines. An event without items is a blank line.
func (r *Renderer) eventLines(ev schema.Event) []Line {
	style := string(ev.Type)
	current := Line{}
	if ev.Type == schema.EventCommand {
		current.Chunks = append(current.Chunks, Chunk{Style: StylePrompt, Text: r.prompt})
	}
	if len(ev.Items) == 0 {
		return []Line{current}
	}
	var lines []Line
	last := len(ev.Items) - 1
	for i, item := range ev.Items {
		if item.Ref == nil {
			parts := strings.Split(item.Text, "\n")
			for j, part := range parts {
				if j > 0 {
					lines = append(lines, current)
					current = Line{}
				}
				if part != "" {
					current.Chunks = append(current.Chunks, Chunk{Style: style, Text: part})
				}
			}
			continue
		}
		ref := *item.Ref
		switch ref.Kind {
		case schema.RefImage:
			chunk := Chunk{Style: StyleImage, Ref: &ref}
			switch {
			case i == 0:
				chunk.Float = FloatStart
				current.Chunks = append(current.Chunks, chunk)
			case i == last:
				chunk.Float = FloatEnd
				current.Chunks = append([]Chunk{chunk}, current.Chunks...)
			default:
				current.Chunks = append(current.Chunks, chunk)
			}
		default:
			current.Chunks = append(current.Chunks, Chunk{Style: StyleWob, Text: ref.Text, Ref: &ref})
		}
	}
	return append(lines, current)
}

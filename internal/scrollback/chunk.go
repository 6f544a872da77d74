// Package scrollback turns server events into styled display lines and keeps
// the bounded history the terminal draws from.
package scrollback

import (
	"fmt"
	"strings"
	"time"

	"pkt.systems/wobterm/schema"
)

// Float is a layout hint for image chunks.
type Float int

const (
	// FloatNone keeps the chunk inline.
	FloatNone Float = iota
	// FloatStart pins the chunk to the start of the line.
	FloatStart
	// FloatEnd pins the chunk to the end of the line.
	FloatEnd
)

// Chunk styles beyond the event types.
const (
	StylePrompt = "prompt"
	StyleWob    = "wob"
	StyleImage  = "image"
	StyleEcho   = "echo"
)

// Chunk is one styled run of a line. Ref is set for wob and image chunks.
type Chunk struct {
	Style string
	Text  string
	Ref   *schema.RichRef
	Float Float
}

// IsRich reports whether the chunk wraps a rich reference.
func (c Chunk) IsRich() bool {
	return c.Ref != nil
}

// Display returns the plain text shown for the chunk.
func (c Chunk) Display() string {
	if c.Ref == nil {
		return c.Text
	}
	switch c.Ref.Kind {
	case schema.RefImage:
		if c.Ref.Alt != "" {
			return "[image: " + c.Ref.Alt + "]"
		}
		return fmt.Sprintf("[image #%d.%s]", c.Ref.ID, c.Ref.Property)
	default:
		if c.Ref.Text != "" {
			return c.Ref.Text
		}
		return fmt.Sprintf("#%d", c.Ref.ID)
	}
}

// Line is one scrollback line. A zero Timestamp means the line inherits
// the display time of the nearest stamped line above it.
type Line struct {
	Chunks    []Chunk
	Timestamp time.Time
}

// Text returns the concatenated display text of the line.
func (l Line) Text() string {
	var b strings.Builder
	for _, c := range l.Chunks {
		b.WriteString(c.Display())
	}
	return b.String()
}

// Stamped reports whether the line carries its own display time.
func (l Line) Stamped() bool {
	return !l.Timestamp.IsZero()
}

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventType classifies a server event.
type EventType string

const (
	// EventCommand echoes a command that was executed.
	EventCommand EventType = "command"
	// EventOutput carries regular command output.
	EventOutput EventType = "output"
	// EventError carries an error message for the player.
	EventError EventType = "error"
	// EventDebug carries debug output, hidden unless debug display is on.
	EventDebug EventType = "debug"
	// EventMoveNotification announces the player moved to another location.
	EventMoveNotification EventType = "move_notification"
	// EventParseError reports a command that could not be parsed.
	EventParseError EventType = "parse_error"
	// EventScriptError reports a failure inside a verb script.
	EventScriptError EventType = "script_error"
)

// RefKind discriminates rich references inside event items.
type RefKind string

const (
	// RefWob references a wob that can be hydrated into name, description and verbs.
	RefWob RefKind = "wob"
	// RefImage references a binary image property of a wob.
	RefImage RefKind = "image"
)

// RichRef is a reference embedded in an event. Wob refs carry display text,
// image refs carry the property holding the image data plus alt text.
type RichRef struct {
	Kind     RefKind `json:"rich"`
	ID       WobID   `json:"id"`
	Text     string  `json:"text,omitempty"`
	Property string  `json:"prop,omitempty"`
	Alt      string  `json:"alt,omitempty"`
}

// Item is one element of an event: either plain text or a rich reference.
type Item struct {
	Text string
	Ref  *RichRef
}

// TextItem returns a plain text item.
func TextItem(text string) Item {
	return Item{Text: text}
}

// RefItem returns a rich reference item.
func RefItem(ref RichRef) Item {
	return Item{Ref: &ref}
}

// IsRef reports whether the item is a rich reference.
func (i Item) IsRef() bool {
	return i.Ref != nil
}

// MarshalJSON encodes text items as JSON strings and refs as objects.
func (i Item) MarshalJSON() ([]byte, error) {
	if i.Ref != nil {
		return json.Marshal(i.Ref)
	}
	return json.Marshal(i.Text)
}

// UnmarshalJSON accepts either a JSON string or a rich reference object.
func (i *Item) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty item", ErrInvalidRequest)
	}
	switch data[0] {
	case '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*i = Item{Text: text}
		return nil
	case '{':
		var ref RichRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		*i = Item{Ref: &ref}
		return nil
	case 'n':
		*i = Item{}
		return nil
	default:
		// Numbers and booleans are shown as their literal text.
		*i = Item{Text: string(data)}
		return nil
	}
}

// Event is a single entry of the server event log.
type Event struct {
	Timestamp int64     `json:"timestamp"`
	Tag       Tag       `json:"tag"`
	Type      EventType `json:"type"`
	Items     []Item    `json:"items"`
}

// EventBatch is the envelope returned by the events and exec endpoints.
// An empty Log means no new events and is not an error.
type EventBatch struct {
	Success bool    `json:"success"`
	Log     []Event `json:"log"`
	Error   string  `json:"error,omitempty"`
}

// MaxTimestamp returns the largest event timestamp in the batch, or 0 when empty.
func (b EventBatch) MaxTimestamp() int64 {
	var max int64
	for _, ev := range b.Log {
		if ev.Timestamp > max {
			max = ev.Timestamp
		}
	}
	return max
}

package lineedit

import "strings"

// History is the append-only list of submitted commands for one session.
type History struct {
	entries []string
}

// Append records a submitted command. Blank commands are ignored.
func (h *History) Append(entry string) bool {
	if h == nil {
		return false
	}
	if strings.TrimSpace(entry) == "" {
		return false
	}
	h.entries = append(h.entries, entry)
	return true
}

// Len returns the number of recorded commands.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.entries)
}

// At returns the command at index i.
func (h *History) At(i int) (string, bool) {
	if h == nil || i < 0 || i >= len(h.entries) {
		return "", false
	}
	return h.entries[i], true
}

// Entries returns a copy of the recorded commands, oldest first.
func (h *History) Entries() []string {
	if h == nil {
		return nil
	}
	return append([]string(nil), h.entries...)
}

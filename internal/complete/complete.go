// Package complete computes tab completions for a partially typed command
// against the names visible in the player's location.
package complete

import "strings"

// SystemVerbSigil marks verbs that are internal to the world and never typed.
const SystemVerbSigil = "$"

// Candidates are the names completion may offer.
type Candidates struct {
	Objects []string
	Verbs   []string
}

// Result is the outcome of a completion attempt.
type Result struct {
	// Prefix is the command text left of the matched suffix.
	Prefix string
	// Matches are candidate names, in candidate order, without duplicates.
	Matches []string
}

// Replacements returns the full-line replacement for every match.
func (r Result) Replacements() []string {
	if len(r.Matches) == 0 {
		return nil
	}
	out := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = r.Prefix + m
	}
	return out
}

// Line returns what the editor should hold after completing command.
// Zero matches keep the command, one match substitutes it, several
// substitute their longest common prefix.
func (r Result) Line(command string) string {
	switch len(r.Matches) {
	case 0:
		return command
	case 1:
		return r.Prefix + r.Matches[0]
	default:
		return r.Prefix + LongestCommonPrefix(r.Matches)
	}
}

// Complete matches progressively wider suffixes of command against the
// candidates. The last word alone is also matched against verbs; wider
// suffixes only against objects. An empty wider match never replaces a
// narrower one, and the widest suffix with any match wins. The scan does
// not revisit narrower splits once a wider one has matched.
func Complete(command string, c Candidates) Result {
	suffixes := progressiveSuffixes(command)
	var best Result
	for i, start := range suffixes {
		suffix := command[start:]
		matches := matchPrefix(suffix, c.Objects, nil)
		if i == 0 {
			matches = matchPrefix(suffix, visibleVerbs(c.Verbs), matches)
		}
		if len(matches) == 0 {
			continue
		}
		best = Result{Prefix: command[:start], Matches: matches}
	}
	return best
}

// progressiveSuffixes returns byte offsets where the last word, the last two
// words and so on begin, narrowest first. A trailing space or an empty
// command yields nothing to complete.
func progressiveSuffixes(command string) []int {
	if command == "" || strings.HasSuffix(command, " ") {
		return nil
	}
	var starts []int
	i := len(command)
	for i > 0 {
		for i > 0 && command[i-1] != ' ' {
			i--
		}
		starts = append(starts, i)
		for i > 0 && command[i-1] == ' ' {
			i--
		}
		if strings.TrimSpace(command[:i]) == "" {
			break
		}
	}
	return starts
}

func visibleVerbs(verbs []string) []string {
	out := make([]string, 0, len(verbs))
	for _, v := range verbs {
		if v == "" || strings.HasPrefix(v, SystemVerbSigil) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func matchPrefix(prefix string, names []string, into []string) []string {
	lower := strings.ToLower(prefix)
	for _, name := range names {
		if !strings.HasPrefix(strings.ToLower(name), lower) {
			continue
		}
		if contains(into, name) {
			continue
		}
		into = append(into, name)
	}
	return into
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}

// LongestCommonPrefix returns the longest case-insensitive common prefix of
// values, spelled as in the first value.
func LongestCommonPrefix(values []string) string {
	if len(values) == 0 {
		return ""
	}
	first := []rune(values[0])
	n := len(first)
	for _, v := range values[1:] {
		other := []rune(v)
		if len(other) < n {
			n = len(other)
		}
		for i := 0; i < n; i++ {
			if !strings.EqualFold(string(first[i]), string(other[i])) {
				n = i
				break
			}
		}
	}
	return string(first[:n])
}

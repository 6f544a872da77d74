package schema

import (
	"math"
	"strconv"
	"strings"
)

// NormalizeWobID parses a wob reference such as "#42" or "42".
func NormalizeWobID(raw string) (WobID, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "#")
	if trimmed == "" {
		return 0, ErrInvalidWobID
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id < 0 {
		return 0, ErrInvalidWobID
	}
	return WobID(id), nil
}

// ValueKind identifies the type chosen by ParseValue.
type ValueKind int

const (
	// ValueString is the fallback kind.
	ValueString ValueKind = iota
	// ValueNumber is a finite float64.
	ValueNumber
	// ValueBool is true or false.
	ValueBool
	// ValueNull is the null or undefined literal.
	ValueNull
)

// Value is a typed value parsed from free-form text for submission to the
// server, which distinguishes numbers, booleans and null from strings.
type Value struct {
	Kind   ValueKind
	Number float64
	Bool   bool
	Text   string
}

// Any returns the value as a JSON-encodable Go value.
func (v Value) Any() any {
	switch v.Kind {
	case ValueNumber:
		if v.Number == math.Trunc(v.Number) && math.Abs(v.Number) < 1<<53 {
			return int64(v.Number)
		}
		return v.Number
	case ValueBool:
		return v.Bool
	case ValueNull:
		return nil
	default:
		return v.Text
	}
}

// ParseValue converts text into a typed value. Precedence: number, then the
// literals true/false, then null/undefined, then the raw string.
func ParseValue(raw string) Value {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if n, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) {
			return Value{Kind: ValueNumber, Number: n, Text: raw}
		}
	}
	switch trimmed {
	case "true":
		return Value{Kind: ValueBool, Bool: true, Text: raw}
	case "false":
		return Value{Kind: ValueBool, Bool: false, Text: raw}
	case "null", "undefined":
		return Value{Kind: ValueNull, Text: raw}
	}
	return Value{Kind: ValueString, Text: raw}
}

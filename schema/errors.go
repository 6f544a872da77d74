package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest indicates a malformed request or payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrConnectivity indicates the server could not be reached.
	ErrConnectivity = errors.New("connection failed")
	// ErrServer indicates the server answered with a non-success envelope.
	ErrServer = errors.New("server error")
	// ErrAuthRequired indicates missing, invalid or expired credentials.
	ErrAuthRequired = errors.New("authentication required")
	// ErrInvalidWobID indicates a wob reference that could not be parsed.
	ErrInvalidWobID = errors.New("invalid wob id")
)

// authMarkers are matched against server error messages to spot credential
// failures. The match is loose on purpose: servers phrase these differently.
var authMarkers = []string{
	"token",
	"unauthor",
	"not logged in",
	"authenticat",
	"expired",
	"login required",
}

// IsAuthMessage reports whether a server error message looks like a credential failure.
func IsAuthMessage(message string) bool {
	lower := strings.ToLower(message)
	if strings.TrimSpace(lower) == "" {
		return false
	}
	for _, marker := range authMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ServerError classifies a non-success envelope message into ErrAuthRequired or ErrServer.
func ServerError(message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "request failed"
	}
	if IsAuthMessage(message) {
		return fmt.Errorf("%w: %s", ErrAuthRequired, message)
	}
	return fmt.Errorf("%w: %s", ErrServer, message)
}

// ReachedServer reports whether err came back from the server itself, as
// opposed to a transport failure. A nil error counts as a round trip.
func ReachedServer(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, ErrServer) || errors.Is(err, ErrAuthRequired)
}

package llm

import (
	"errors"
	"fmt"
)

// Kind classifies a failed search call.
type Kind int

const (
	// KindClient is a rejected request (4xx other than 429). Not retried.
	KindClient Kind = iota + 1
	// KindServer is an upstream failure (5xx or 429). Retried.
	KindServer
	// KindNetwork is a transport failure or timeout. Retried.
	KindNetwork
	// KindProcessing is a response that arrived but could not be used. Not
	// retried.
	KindProcessing
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client error"
	case KindServer:
		return "server error"
	case KindNetwork:
		return "network error"
	case KindProcessing:
		return "processing error"
	default:
		return "unknown error"
	}
}

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 2048

// Error is returned by every Client call that fails.
type Error struct {
	Kind   Kind
	Status int    // HTTP status, 0 when no response was received
	Body   string // truncated response body
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindServer || e.Kind == KindNetwork
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsRetryable reports whether err wraps a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// statusError classifies an HTTP error response.
func statusError(status int, body []byte) *Error {
	kind := KindProcessing
	switch {
	case status == 429:
		kind = KindServer
	case status >= 400 && status < 500:
		kind = KindClient
	case status >= 500:
		kind = KindServer
	}
	text := string(body)
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return &Error{Kind: kind, Status: status, Body: text}
}

package breakout

import (
	"errors"
	"fmt"

	"github.com/whisper/breakout/internal/clustering"
	"github.com/whisper/breakout/internal/groups"
	"github.com/whisper/breakout/internal/metrics"
)

// Error kinds returned by Service. Match them with errors.Is.
var (
	ErrNotFound     = errors.New("no attendees for event")
	ErrPersistence  = errors.New("persistence failure")
	ErrBusy         = errors.New("compute already in progress for event")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrInvalidEvent = errors.New("event id is required")
	ErrUnavailable  = errors.New("compute queue unavailable")
)

// Error carries the failure kind and the event it concerns.
type Error struct {
	Kind    error
	EventID string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("breakout: event %s: %v", e.EventID, e.Kind)
	case errors.Is(e.Err, e.Kind):
		// The cause already names the kind.
		return fmt.Sprintf("breakout: event %s: %v", e.EventID, e.Err)
	default:
		return fmt.Sprintf("breakout: event %s: %v: %v", e.EventID, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind, so errors.Is(err, ErrNotFound) holds for an *Error
// of that kind whatever it wraps.
func (e *Error) Is(target error) bool { return e.Kind == target }

func newError(kind error, eventID string, err error) *Error {
	if err == nil {
		err = kind
	}
	return &Error{Kind: kind, EventID: eventID, Err: err}
}

// Kind returns a stable snake_case name for err's kind, used in metrics
// labels, API error codes and NATS results.
func Kind(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, clustering.ErrInvalidParameters), errors.Is(err, ErrInvalidEvent):
		return metrics.ResultInvalid
	case errors.Is(err, ErrNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, ErrBusy):
		return metrics.ResultBusy
	case errors.Is(err, ErrRateLimited):
		return metrics.ResultRateLimited
	case errors.Is(err, ErrPersistence):
		return metrics.ResultPersistence
	case errors.Is(err, ErrUnavailable):
		return metrics.ResultUnavailable
	default:
		return metrics.ResultInternal
	}
}

// Retryable reports whether repeating the same request may succeed. Busy,
// rate limited and unqueued requests clear on their own; persistence
// failures only when the database error is transient.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrBusy), errors.Is(err, ErrRateLimited), errors.Is(err, ErrUnavailable):
		return true
	case errors.Is(err, ErrPersistence):
		return groups.Retryable(err)
	default:
		return false
	}
}

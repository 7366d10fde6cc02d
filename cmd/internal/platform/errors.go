package platform

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a platform failure for the caller's recovery policy.
type Kind int

const (
	// Transient failures are abandoned for the current event; a later event retries naturally.
	Transient Kind = iota
	// RateLimited is a transient failure with a server-provided back-off.
	RateLimited
	// Permanent failures mean the chat or user is gone or forbidden; callers tear down.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Permanent:
		return "permanent"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified platform failure.
type Error struct {
	Op         string
	Kind       Kind
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("platform %s: %s (retry after %s): %v", e.Op, e.Kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("platform %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with op and kind.
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the failure kind of err. Unclassified errors are Transient.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Transient
}

// IsPermanent reports whether err signals an unreachable or forbidden chat.
func IsPermanent(err error) bool {
	return err != nil && KindOf(err) == Permanent
}

// IsTransient reports whether err is worth retrying on a later event.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) != Permanent
}

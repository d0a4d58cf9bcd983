package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies fetch failures.
type Kind int

const (
	// KindUnknown is any failure not covered by the other kinds.
	KindUnknown Kind = iota

	// KindTimeout is a request that did not finish in time.
	KindTimeout

	// KindElementNotFound is a response without the expected content.
	KindElementNotFound

	// KindSessionInvalid is a session that must be replaced (expired login,
	// broken connection pool).
	KindSessionInvalid
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindElementNotFound:
		return "element-not-found"
	case KindSessionInvalid:
		return "session-invalid"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per Kind. An *Error matches the sentinel of its kind
// with errors.Is.
var (
	ErrTimeout         = errors.New("fetch timed out")
	ErrElementNotFound = errors.New("expected content not found")
	ErrSessionInvalid  = errors.New("session is no longer valid")
	ErrUnknown         = errors.New("fetch failed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindElementNotFound:
		return ErrElementNotFound
	case KindSessionInvalid:
		return ErrSessionInvalid
	default:
		return ErrUnknown
	}
}

// Error is a classified fetch failure.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// NewError wraps err as a failure of kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Timeout wraps err as KindTimeout.
func Timeout(err error) error { return NewError(KindTimeout, err) }

// NotFound wraps err as KindElementNotFound.
func NotFound(err error) error { return NewError(KindElementNotFound, err) }

// SessionInvalid wraps err as KindSessionInvalid.
func SessionInvalid(err error) error { return NewError(KindSessionInvalid, err) }

// Unknown wraps err as KindUnknown.
func Unknown(err error) error { return NewError(KindUnknown, err) }

// KindOf classifies err. Classified errors keep their kind; deadline and
// network timeouts are KindTimeout; everything else is KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	switch {
	case errors.As(err, &fe):
		return fe.Kind
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrElementNotFound):
		return KindElementNotFound
	case errors.Is(err, ErrSessionInvalid):
		return KindSessionInvalid
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnknown
}

// Package sderr defines the typed error kinds the orchestration components
// return. HTTP callers map kinds onto response codes; everything else
// treats them as ordinary errors.
package sderr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error.
type Kind int

const (
	// KindUnknown is the zero value; errors without a kind map to it.
	KindUnknown Kind = iota
	// KindNotFound means a referenced pipeline, job, build, event, or
	// cluster does not exist.
	KindNotFound
	// KindForbidden means the actor lacks the required privilege.
	KindForbidden
	// KindBadRequest means the request payload or referenced name is
	// invalid.
	KindBadRequest
	// KindConflict means static configuration already claims the setting.
	KindConflict
	// KindInternal means a persistence update failed after authorization
	// succeeded. Details are logged, not surfaced.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindForbidden:
		return "forbidden"
	case KindBadRequest:
		return "bad request"
	case KindConflict:
		return "conflict"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// Error is a domain error with a kind and a caller-safe message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two sderr errors by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// NotFound, Forbidden, BadRequest, Conflict, and Internal are convenience
// constructors for the five kinds.
func NotFound(format string, args ...any) *Error   { return New(KindNotFound, format, args...) }
func Forbidden(format string, args ...any) *Error  { return New(KindForbidden, format, args...) }
func BadRequest(format string, args ...any) *Error { return New(KindBadRequest, format, args...) }
func Conflict(format string, args ...any) *Error   { return New(KindConflict, format, args...) }
func Internal(format string, args ...any) *Error   { return New(KindInternal, format, args...) }

// IsNotFound reports whether err is a NotFound domain error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// KindOf extracts the kind from any error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

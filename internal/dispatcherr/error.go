package dispatcherr

import (
	"errors"
	"fmt"
)

// Error wraps a Kind with a human-readable message and an optional parent, chaining via
// Unwrap so errors.Is/errors.As still work, closed over the fixed Kind set in kind.go
// instead of an open numeric code space.
type Error struct {
	kind   Kind
	msg    string
	parent error
}

// New builds an Error of the given Kind. parent may be nil.
func New(kind Kind, msg string, parent error) *Error {
	return &Error{kind: kind, msg: msg, parent: parent}
}

// Newf builds an Error of the given Kind with a formatted message.
func Newf(kind Kind, parent error, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...), parent)
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.parent != nil {
		return fmt.Sprintf("%s: %s: %s", e.kind, e.msg, e.parent.Error())
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Unwrap exposes the parent so errors.Is/errors.As can walk the chain.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.parent
}

// Kind returns the closed-taxonomy classification of this error.
func (e *Error) Kind() Kind {
	if e == nil {
		return KindNone
	}
	return e.kind
}

// Is reports whether err carries the given Kind, walking the Unwrap chain.
func Is(err error, kind Kind) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.kind == kind {
			return true
		}
		if de.parent == nil {
			return false
		}
		err = de.parent
	}
	return false
}

// KindOf extracts the Kind carried by err: KindNone for a nil err, KindGeneric if err is
// not a *Error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.kind
	}
	if err == nil {
		return KindNone
	}
	return KindGeneric
}

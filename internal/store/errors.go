package store

import "fmt"

// Code is the typed error taxonomy the Store returns. The front-end maps
// each variant to an HTTP status; nothing downstream of the Store ever
// inspects an error message for a substring to decide what happened.
type Code int

const (
	// CodeInternal is the catch-all for anything else.
	CodeInternal Code = iota
	// CodeNotFound means the (kind, namespace, name) tuple has no live row.
	CodeNotFound
	// CodeAlreadyExists means a live row with that tuple already exists.
	CodeAlreadyExists
	// CodeInvalid means the body was missing required fields or had the
	// wrong kind for the endpoint.
	CodeInvalid
	// CodeImmutable means an update tried to change data on an object
	// whose immutable flag is set.
	CodeImmutable
	// CodeConflict means the caller-supplied resourceVersion is stale.
	CodeConflict
	// CodePayloadTooLarge means a Secret exceeded the 1 MiB cap.
	CodePayloadTooLarge
	// CodeUpgradeRequired means a streaming endpoint was called without a
	// proper protocol upgrade.
	CodeUpgradeRequired
)

// Error is the Store's typed error sum type, returned instead of a
// stringly-typed error the caller would need to pattern-match on message
// content.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError constructs a typed Store error.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func ErrNotFound(kind, namespace, name string) *Error {
	if namespace == "" {
		return NewError(CodeNotFound, "%s %q not found", kind, name)
	}
	return NewError(CodeNotFound, "%s %q not found in namespace %q", kind, name, namespace)
}

func ErrAlreadyExists(kind, namespace, name string) *Error {
	if namespace == "" {
		return NewError(CodeAlreadyExists, "%s %q already exists", kind, name)
	}
	return NewError(CodeAlreadyExists, "%s %q already exists in namespace %q", kind, name, namespace)
}

func ErrInvalid(format string, args ...any) *Error {
	return NewError(CodeInvalid, format, args...)
}

func ErrImmutable(kind, name string) *Error {
	return NewError(CodeImmutable, "%s %q is immutable and its data cannot be changed", kind, name)
}

func ErrConflict(kind, name string) *Error {
	return NewError(CodeConflict, "%s %q was modified concurrently; resourceVersion is stale", kind, name)
}

func ErrPayloadTooLarge(kind, name string, limit int) *Error {
	return NewError(CodePayloadTooLarge, "%s %q exceeds the %d byte size cap", kind, name, limit)
}

func ErrUpgradeRequired(reason string) *Error {
	return NewError(CodeUpgradeRequired, "upgrade required: %s", reason)
}

// AsStoreError unwraps err into a *Error if it is (or wraps) one.
func AsStoreError(err error) (*Error, bool) {
	type causer interface{ Cause() error }
	for err != nil {
		if se, ok := err.(*Error); ok {
			return se, true
		}
		c, ok := err.(causer)
		if !ok {
			return nil, false
		}
		err = c.Cause()
	}
	return nil, false
}

// Package brokererr defines the broker's typed error kinds and the
// propagation policy decisions between them: which kinds close the
// connection, which are logged and absorbed, and which fail a single
// operation without disturbing the rest of the broker.
package brokererr

import "github.com/cockroachdb/errors"

// Kind identifies one of the broker's error categories.
type Kind int

const (
	KindUnspecified Kind = iota
	KindProtocolError
	KindAuthError
	KindSessionError
	KindStorageError
	KindTimeoutError
	KindResourceLimitError
	KindInvalidTopicError
)

func (k Kind) String() string {
	switch k {
	case KindProtocolError:
		return "ProtocolError"
	case KindAuthError:
		return "AuthError"
	case KindSessionError:
		return "SessionError"
	case KindStorageError:
		return "StorageError"
	case KindTimeoutError:
		return "TimeoutError"
	case KindResourceLimitError:
		return "ResourceLimitError"
	case KindInvalidTopicError:
		return "InvalidTopicError"
	default:
		return "Unspecified"
	}
}

// Error wraps an underlying cause with the broker's error kind. Built with
// cockroachdb/errors so callers get a stack trace at the wrap site and can
// still errors.Is/As through to the cause.
type Error struct {
	cause error
	kind  Kind
}

func (e *Error) Error() string {
	return e.kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Kind() Kind {
	return e.kind
}

func wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: errors.Wrapf(err, format, args...)}
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: errors.Newf(format, args...)}
}

func NewProtocolError(err error, format string, args ...interface{}) *Error {
	return wrap(KindProtocolError, err, format, args...)
}

func NewAuthError(format string, args ...interface{}) *Error {
	return newf(KindAuthError, format, args...)
}

func NewSessionError(err error, format string, args ...interface{}) *Error {
	return wrap(KindSessionError, err, format, args...)
}

func NewStorageError(err error, format string, args ...interface{}) *Error {
	return wrap(KindStorageError, err, format, args...)
}

func NewTimeoutError(format string, args ...interface{}) *Error {
	return newf(KindTimeoutError, format, args...)
}

func NewResourceLimitError(format string, args ...interface{}) *Error {
	return newf(KindResourceLimitError, format, args...)
}

func NewInvalidTopicError(err error, format string, args ...interface{}) *Error {
	return wrap(KindInvalidTopicError, err, format, args...)
}

// KindOf extracts the Kind from err, walking its Unwrap chain. Returns
// KindUnspecified if neither err nor anything in its chain is a *Error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.kind
	}
	return KindUnspecified
}

// ClosesConnection reports whether err's kind, per the broker's
// propagation policy, should terminate the connection outright (no
// further packets processed) rather than just fail one operation.
func ClosesConnection(err error) bool {
	switch KindOf(err) {
	case KindProtocolError, KindAuthError, KindTimeoutError:
		return true
	default:
		return false
	}
}

// IsAbsorbable reports whether err should be logged on the error channel
// and routing continued in memory, rather than surfaced to the caller as
// a failed operation. Only storage-backend failures during ingestion are
// absorbable per the propagation policy.
func IsAbsorbable(err error) bool {
	return KindOf(err) == KindStorageError
}

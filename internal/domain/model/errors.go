package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the coarse failure category surfaced by the core.
type ErrorKind int

const (
	KindInvalidInput ErrorKind = iota + 1
	KindNotFound
	KindForbidden
	KindDecryptionFailed
	KindConflict
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindDecryptionFailed:
		return "decryption_failed"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Reason is a stable machine-readable rejection code.
type Reason string

const (
	ReasonInvalidInput     Reason = "invalid_input"
	ReasonInvalidDuration  Reason = "invalid_duration"
	ReasonNotFound         Reason = "not_found"
	ReasonRevoked          Reason = "revoked"
	ReasonExpired          Reason = "expired"
	ReasonConsumed         Reason = "consumed"
	ReasonIPNotAllowed     Reason = "ip_not_allowed"
	ReasonDeviceBlocked    Reason = "device_blocked"
	ReasonDecryptionFailed Reason = "decryption_failed"
	ReasonConflict         Reason = "conflict"
	ReasonUnavailable      Reason = "unavailable"
)

// Error is the typed failure returned by application services. Detail is
// human readable and never carries plaintext or key material.
type Error struct {
	Kind   ErrorKind
	Reason Reason
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" && string(e.Reason) != msg {
		msg += " (" + string(e.Reason) + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrForbidden)
// holds for every forbidden reason.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// Kind sentinels for errors.Is.
var (
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrDecryptionFailed = &Error{Kind: KindDecryptionFailed, Reason: ReasonDecryptionFailed}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrUnavailable      = &Error{Kind: KindUnavailable}
)

// InvalidInput builds an InvalidInput error with the given reason.
func InvalidInput(reason Reason, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFound error for the named entity.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Reason: ReasonNotFound, Detail: fmt.Sprintf("%s %q not found", entity, id)}
}

// Forbidden builds a Forbidden error carrying a rejection reason.
func Forbidden(reason Reason, detail string) *Error {
	return &Error{Kind: KindForbidden, Reason: reason, Detail: detail}
}

// Unavailable wraps an infrastructure failure as retryable.
func Unavailable(detail string, err error) *Error {
	return &Error{Kind: KindUnavailable, Reason: ReasonUnavailable, Detail: detail, Err: err}
}

// ReasonOf extracts the rejection reason from err, or "" if err is not an *Error.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		if e.Reason != "" {
			return e.Reason
		}
		return Reason(e.Kind.String())
	}
	return ""
}

// KindOf extracts the error kind from err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Package errkind gives the pipeline's behavioral error taxonomy a single
// type so every layer classifies failures the same way instead of
// pattern-matching error strings ad hoc.
package errkind

import "fmt"

// Kind is a behavioral error category, not a type name. See spec §7.
type Kind string

const (
	TransientSource  Kind = "transient_source"
	MalformedPayload Kind = "malformed_payload"
	BufferOverflow   Kind = "buffer_overflow"
	SpoolCorrupt     Kind = "spool_corrupt"
	SinkTransient    Kind = "sink_transient"
	SinkFatalState   Kind = "sink_fatal_state"
	SinkAuth         Kind = "sink_auth"
	CircuitOpen      Kind = "circuit_open"
	ConfigInvalid    Kind = "config_invalid"
	CredentialMissing Kind = "credential_missing"
)

// Error wraps an underlying error with its behavioral kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is match when the target is itself a *Error with the
// same Kind, whatever its Message and Cause. A bare Kind is not an error
// value; use OfKind to test an error chain against a Kind.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// OfKind reports whether err is (or wraps) an *Error of the given kind.
func OfKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether the kind is one the pipeline treats as
// recoverable through retry/backoff rather than a hard stop.
func (k Kind) Retryable() bool {
	switch k {
	case TransientSource, SinkTransient, SinkFatalState, SinkAuth, CircuitOpen, BufferOverflow:
		return true
	default:
		return false
	}
}

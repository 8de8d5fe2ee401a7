package apiclient

import (
	"errors"
	"fmt"
)

// ErrSessionInvalid matches every error meaning the server no longer accepts
// the session. Callers must clear the session and send the user to login.
var ErrSessionInvalid = errors.New("session invalid")

// InvalidSessionError describes which signal invalidated the session.
type InvalidSessionError struct {
	Status int
	Reason string
	// Legacy is set when only the message-substring fallback matched.
	Legacy bool
}

func (e *InvalidSessionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("session invalid (status %d)", e.Status)
	}
	return fmt.Sprintf("session invalid (status %d): %s", e.Status, e.Reason)
}

// Is makes errors.Is(err, ErrSessionInvalid) hold.
func (e *InvalidSessionError) Is(target error) bool {
	return target == ErrSessionInvalid
}

// TransientError wraps network and decoding failures. The session survives
// them and the caller may retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// BusinessError is a server-declared failure (success:false). Message is shown
// to the user verbatim.
type BusinessError struct {
	Status  int
	Message string
}

func (e *BusinessError) Error() string {
	return e.Message
}

// ValidationError is a local input problem detected before any request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// IsTransient reports whether err is recoverable by retrying.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// AsBusiness extracts a server business failure.
func AsBusiness(err error) (*BusinessError, bool) {
	var b *BusinessError
	ok := errors.As(err, &b)
	return b, ok
}

// AsValidation extracts a local validation failure.
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	ok := errors.As(err, &v)
	return v, ok
}

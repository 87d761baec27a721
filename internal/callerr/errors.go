// Package callerr holds the error vocabulary shared by every layer of a call.
package callerr

import (
	"errors"
	"fmt"
)

var (
	ErrConnection        = errors.New("relay connection failed")
	ErrMediaAcquisition  = errors.New("media acquisition failed")
	ErrNegotiation       = errors.New("negotiation failed")
	ErrStateConflict     = errors.New("signaling state conflict")
	ErrRelayDisconnected = errors.New("relay disconnected")
	ErrTransportFailed   = errors.New("peer transport failed")
	ErrEmptyMessage      = errors.New("empty chat message")
)

// Error annotates one of the sentinels with the operation that hit it.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func Wrap(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// Join attaches a sentinel to an underlying cause so errors.Is matches both.
func Join(op string, sentinel, cause error) *Error {
	if cause == nil {
		return New(op, sentinel)
	}
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", sentinel, cause)}
}

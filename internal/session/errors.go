package session

import (
	"errors"
	"fmt"
)

var (
	ErrClosed        = errors.New("session closed")
	ErrNotConnected  = errors.New("not connected")
	ErrUnknownFrame  = errors.New("unknown frame type")
	ErrMuted         = errors.New("muted in this room")
	ErrReconnectGone = errors.New("reconnect attempts exhausted")
)

// SessionError wraps a failure with the operation that produced it.
type SessionError struct {
	Op      string
	Err     error
	Details string
}

func (e *SessionError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *SessionError {
	return &SessionError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *SessionError {
	return &SessionError{Op: op, Err: err, Details: details}
}

package session

import (
	"errors"
	"fmt"
)

// Session package errors.
var (
	// ErrSessionClosed is returned by negotiation operations after Close.
	ErrSessionClosed = errors.New("session: closed")

	// ErrRemoteDescriptionSet is returned when a remote description is applied
	// a second time. It is a protocol error, not fatal to the session.
	ErrRemoteDescriptionSet = errors.New("session: remote description already set")

	// ErrTransportUnavailable is returned when the platform cannot allocate a
	// peer connection. The session never reaches negotiation.
	ErrTransportUnavailable = errors.New("session: transport unavailable")
)

// Error records a failed session operation.
type Error struct {
	Op        string
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, sessionID string, err error) *Error {
	return &Error{Op: op, SessionID: sessionID, Err: err}
}

// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrValidation indicates a message from the remote peer violated a
	// protocol rule, such as advertising more addresses than allowed.
	ErrValidation = ErrorKind("ErrValidation")

	// ErrQuotaExceeded indicates a message was dropped because the remote
	// peer exhausted its message quota for the current window.
	ErrQuotaExceeded = ErrorKind("ErrQuotaExceeded")

	// ErrTransport indicates a message could not be delivered to the remote
	// peer.
	ErrTransport = ErrorKind("ErrTransport")

	// ErrSessionClosed indicates an operation was attempted on a session
	// that is already closed.
	ErrSessionClosed = ErrorKind("ErrSessionClosed")

	// ErrInvalidState indicates an event that is not allowed in the current
	// session state.
	ErrInvalidState = ErrorKind("ErrInvalidState")

	// ErrInvalidConfig indicates the session configuration is inconsistent.
	ErrInvalidConfig = ErrorKind("ErrInvalidConfig")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies a session error.  It has full support for errors.Is and
// errors.As, so the caller can ascertain the specific reason for the error by
// checking the underlying error.
type Error struct {
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// makeError creates an Error given a set of arguments.
func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}

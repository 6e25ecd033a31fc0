// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrInvalidConfig indicates the service configuration is inconsistent.
	ErrInvalidConfig = ErrorKind("ErrInvalidConfig")

	// ErrDuplicateConn indicates a connection id is already in use.
	ErrDuplicateConn = ErrorKind("ErrDuplicateConn")

	// ErrAlreadyRunning indicates Run was called more than once.
	ErrAlreadyRunning = ErrorKind("ErrAlreadyRunning")

	// ErrServiceStopped indicates the service no longer accepts connections.
	ErrServiceStopped = ErrorKind("ErrServiceStopped")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies a discovery service error.  It has full support for
// errors.Is and errors.As, so the caller can ascertain the specific reason for
// the error by checking the underlying error.
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

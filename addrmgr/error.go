// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrAddressNotFound indicates that an operation in the address manager
	// failed due to an address lookup failure.
	ErrAddressNotFound = ErrorKind("ErrAddressNotFound")

	// ErrUnroutable indicates an address is not routable over the public
	// internet or has a zero port.
	ErrUnroutable = ErrorKind("ErrUnroutable")

	// ErrFutureTimestamp indicates an address claims to have been seen
	// implausibly far in the future.
	ErrFutureTimestamp = ErrorKind("ErrFutureTimestamp")

	// ErrInvalidEndpoint indicates an endpoint string could not be parsed.
	ErrInvalidEndpoint = ErrorKind("ErrInvalidEndpoint")

	// ErrLocalAddress indicates the address is one of our own local
	// addresses and therefore must not be stored as a remote peer.
	ErrLocalAddress = ErrorKind("ErrLocalAddress")

	// ErrInvalidConfig indicates the address manager configuration is
	// inconsistent.
	ErrInvalidConfig = ErrorKind("ErrInvalidConfig")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an address manager error.  It has full support for
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

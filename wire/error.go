// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrMsgTruncated is returned when a message ends before all of its
	// fields were read, including an empty message.
	ErrMsgTruncated = ErrorKind("ErrMsgTruncated")

	// ErrMsgTooLarge is returned when a payload exceeds the maximum payload
	// size allowed.
	ErrMsgTooLarge = ErrorKind("ErrMsgTooLarge")

	// ErrTooManyAddrs is returned when an address list exceeds the maximum
	// allowed.
	ErrTooManyAddrs = ErrorKind("ErrTooManyAddrs")

	// ErrUnknownCommand is returned when an unknown command is received.
	ErrUnknownCommand = ErrorKind("ErrUnknownCommand")

	// ErrUnknownVersion is returned when a message carries an unsupported
	// protocol version.
	ErrUnknownVersion = ErrorKind("ErrUnknownVersion")

	// ErrInvalidAddr is returned when an address cannot be encoded or has an
	// unknown type or length.
	ErrInvalidAddr = ErrorKind("ErrInvalidAddr")

	// ErrTrailingBytes is returned when bytes remain after a complete
	// message was read.
	ErrTrailingBytes = ErrorKind("ErrTrailingBytes")

	// ErrMalformedMsg is returned when a message is structurally invalid,
	// such as a non-canonical varint or a field of the wrong type.
	ErrMalformedMsg = ErrorKind("ErrMalformedMsg")

	// ErrUnknownCodec is returned when a codec is requested by an unknown
	// name.
	ErrUnknownCodec = ErrorKind("ErrUnknownCodec")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// MessageError identifies an error related to wire messages. It has
// full support for errors.Is and errors.As, so the caller can
// ascertain the specific reason for the error by checking the
// underlying error.
type MessageError struct {
	Func        string
	Err         error
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e MessageError) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e MessageError) Unwrap() error {
	return e.Err
}

// messageError creates a MessageError given a set of arguments.
func messageError(fn string, kind ErrorKind, desc string) MessageError {
	return MessageError{Func: fn, Err: kind, Description: desc}
}

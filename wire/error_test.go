// Copyright (c) 2017 The btcsuite developers
// Copyright (c) 2017-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"errors"
	"io"
	"testing"
)

// TestErrorKindStringer tests the stringized output for the ErrorKind type.
func TestErrorKindStringer(t *testing.T) {
	tests := []struct {
		in   ErrorKind
		want string
	}{
		{ErrMsgTruncated, "ErrMsgTruncated"},
		{ErrMsgTooLarge, "ErrMsgTooLarge"},
		{ErrTooManyAddrs, "ErrTooManyAddrs"},
		{ErrUnknownCommand, "ErrUnknownCommand"},
		{ErrUnknownVersion, "ErrUnknownVersion"},
		{ErrInvalidAddr, "ErrInvalidAddr"},
		{ErrTrailingBytes, "ErrTrailingBytes"},
		{ErrMalformedMsg, "ErrMalformedMsg"},
		{ErrUnknownCodec, "ErrUnknownCodec"},
	}

	t.Logf("Running %d tests", len(tests))
	for i, test := range tests {
		result := test.in.Error()
		if result != test.want {
			t.Errorf("%d: got: %s want: %s", i, result, test.want)
			continue
		}
	}
}

// TestMessageError tests the error output for the MessageError type.
func TestMessageError(t *testing.T) {
	tests := []struct {
		in   MessageError
		want string
	}{{
		MessageError{Description: "some error"},
		"some error",
	}, {
		MessageError{Description: "human-readable error"},
		"human-readable error",
	}, {
		MessageError{Func: "foo", Err: ErrMsgTruncated, Description: "bar"},
		"bar",
	}}

	t.Logf("Running %d tests", len(tests))
	for i, test := range tests {
		result := test.in.Error()
		if result != test.want {
			t.Errorf("%d: got: %s want: %s", i, result, test.want)
			continue
		}
	}
}

// TestErrorKindIsAs ensures both ErrorKind and MessageError can be identified
// as being a specific error kind via errors.Is and unwrapped via errors.As.
func TestErrorKindIsAs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
		wantAs    ErrorKind
	}{{
		name:      "ErrMsgTruncated == ErrMsgTruncated",
		err:       ErrMsgTruncated,
		target:    ErrMsgTruncated,
		wantMatch: true,
		wantAs:    ErrMsgTruncated,
	}, {
		name:      "MessageError.ErrMsgTruncated == ErrMsgTruncated",
		err:       messageError("", ErrMsgTruncated, ""),
		target:    ErrMsgTruncated,
		wantMatch: true,
		wantAs:    ErrMsgTruncated,
	}, {
		name:      "MessageError.ErrMsgTruncated == MessageError.ErrMsgTruncated",
		err:       messageError("", ErrMsgTruncated, ""),
		target:    messageError("", ErrMsgTruncated, ""),
		wantMatch: true,
		wantAs:    ErrMsgTruncated,
	}, {
		name:      "ErrTooManyAddrs != ErrMsgTruncated",
		err:       ErrTooManyAddrs,
		target:    ErrMsgTruncated,
		wantMatch: false,
		wantAs:    ErrTooManyAddrs,
	}, {
		name:      "MessageError.ErrTooManyAddrs != ErrMsgTruncated",
		err:       messageError("", ErrTooManyAddrs, ""),
		target:    ErrMsgTruncated,
		wantMatch: false,
		wantAs:    ErrTooManyAddrs,
	}, {
		name:      "MessageError.ErrTooManyAddrs != io.EOF",
		err:       messageError("", ErrTooManyAddrs, ""),
		target:    io.EOF,
		wantMatch: false,
		wantAs:    ErrTooManyAddrs,
	}}

	for _, test := range tests {
		// Ensure the error matches or not depending on the expected result.
		result := errors.Is(test.err, test.target)
		if result != test.wantMatch {
			t.Errorf("%s: incorrect error identification -- got %v, want %v",
				test.name, result, test.wantMatch)
			continue
		}

		// Ensure the underlying error kind can be unwrapped and is the
		// expected kind.
		var kind ErrorKind
		if !errors.As(test.err, &kind) {
			t.Errorf("%s: unable to unwrap to error kind", test.name)
			continue
		}
		if kind != test.wantAs {
			t.Errorf("%s: unexpected unwrapped error kind -- got %v, want %v",
				test.name, kind, test.wantAs)
			continue
		}
	}
}

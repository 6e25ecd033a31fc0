// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package connmgr

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// TestFrames ensures payloads survive framing and that malformed or oversized
// frames are refused.
func TestFrames(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		maxSize uint32
		wantErr error
	}{{
		name:    "empty payload",
		payload: []byte{},
		maxSize: 16,
	}, {
		name:    "small payload",
		payload: []byte{0x01, 0x02, 0x03},
		maxSize: 16,
	}, {
		name:    "payload at limit",
		payload: bytes.Repeat([]byte{0xaa}, 16),
		maxSize: 16,
	}, {
		name:    "payload over limit",
		payload: bytes.Repeat([]byte{0xaa}, 17),
		maxSize: 16,
		wantErr: ErrFrameTooLarge,
	}}

	for _, test := range tests {
		var buf bytes.Buffer
		err := writeFrame(&buf, test.payload, test.maxSize)
		if !errors.Is(err, test.wantErr) {
			t.Errorf("%q: mismatched write error -- got %v, want %v",
				test.name, err, test.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if buf.Len() != frameHeaderLen+len(test.payload) {
			t.Errorf("%q: unexpected frame length %d", test.name, buf.Len())
			continue
		}

		got, err := readFrame(&buf, test.maxSize)
		if err != nil {
			t.Errorf("%q: unexpected read error: %v", test.name, err)
			continue
		}
		if !bytes.Equal(got, test.payload) {
			t.Errorf("%q: mismatched payload -- got %x, want %x", test.name,
				got, test.payload)
		}
	}
}

// TestReadFrameErrors ensures truncated and oversized frames are reported.
func TestReadFrameErrors(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		wantErr error
	}{{
		name:    "no header",
		frame:   nil,
		wantErr: io.EOF,
	}, {
		name:    "short header",
		frame:   []byte{0x00, 0x00},
		wantErr: io.ErrUnexpectedEOF,
	}, {
		name:    "short payload",
		frame:   []byte{0x00, 0x00, 0x00, 0x04, 0x01},
		wantErr: io.ErrUnexpectedEOF,
	}, {
		name:    "oversized length",
		frame:   []byte{0x00, 0x01, 0x00, 0x00},
		wantErr: ErrFrameTooLarge,
	}}

	for _, test := range tests {
		_, err := readFrame(bytes.NewReader(test.frame), 1024)
		if !errors.Is(err, test.wantErr) {
			t.Errorf("%q: mismatched error -- got %v, want %v", test.name,
				err, test.wantErr)
		}
	}
}

// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package connmgr

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// frameHeaderLen is the size of the big endian payload length that precedes
// every frame.
const frameHeaderLen = 4

// writeFrame writes the payload to w prefixed by its length.
func writeFrame(w io.Writer, payload []byte, maxSize uint32) error {
	if uint64(len(payload)) > uint64(maxSize) {
		str := fmt.Sprintf("frame payload of %d bytes exceeds the maximum "+
			"of %d bytes", len(payload), maxSize)
		return makeError(ErrFrameTooLarge, str)
	}

	var hdr [frameHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	bufs := net.Buffers{hdr[:], payload}
	_, err := bufs.WriteTo(w)
	return err
}

// readFrame reads a single length prefixed payload from r.  Payloads larger
// than maxSize are refused before they are read.
func readFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > maxSize {
		str := fmt.Sprintf("frame payload of %d bytes exceeds the maximum "+
			"of %d bytes", size, maxSize)
		return nil, makeError(ErrFrameTooLarge, str)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net/netip"
	"time"

	dcrwire "github.com/decred/dcrd/wire"
)

// CompactCodecName is the name of the compact binary codec.
const CompactCodecName = "compact"

const (
	// varIntPver is the protocol version passed to the varint routines.
	varIntPver = uint32(ProtocolVersion)

	// addrTypeIPv4 and addrTypeIPv6 identify the length of the address
	// bytes that follow in a compact address.
	addrTypeIPv4 uint8 = 4
	addrTypeIPv6 uint8 = 6

	// compactAddrHeaderSize is the size of the fixed part of a compact
	// address: timestamp 8 bytes, score 4 bytes, address type 1 byte.
	compactAddrHeaderSize = 13

	// minCompactAddrSize is the size of the smallest compact address, an
	// IPv4 address: header, 4 address bytes, and a 2 byte port.
	minCompactAddrSize = compactAddrHeaderSize + 4 + 2

	// maxCompactAddrSize is the size of an IPv6 compact address.
	maxCompactAddrSize = compactAddrHeaderSize + 16 + 2
)

// CompactCodec encodes messages in a fixed layout:
//
//	version  uint8
//	command  uint8
//	getaddr: max count as varint
//	addr:    address count as varint, followed by each address as
//	         timestamp uint64 LE, score int32 LE, type uint8 (4 or 6),
//	         4 or 16 address bytes, port uint16 BE
//
// Varints use the Decred wire encoding.
type CompactCodec struct{}

// Name returns the name of the codec.  This is part of the Codec interface
// implementation.
func (CompactCodec) Name() string {
	return CompactCodecName
}

// writeCompactAddr appends the compact encoding of the address to buf.
func writeCompactAddr(buf *bytes.Buffer, na *NetAddress) {
	var hdr [compactAddrHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(na.Timestamp.Unix()))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(na.Score))

	addr := na.Endpoint.Addr()
	if addr.Is4() {
		hdr[12] = addrTypeIPv4
		ip := addr.As4()
		buf.Write(hdr[:])
		buf.Write(ip[:])
	} else {
		hdr[12] = addrTypeIPv6
		ip := addr.As16()
		buf.Write(hdr[:])
		buf.Write(ip[:])
	}

	var port [2]byte
	binary.BigEndian.PutUint16(port[:], na.Endpoint.Port())
	buf.Write(port[:])
}

// Encode serializes the message.  This is part of the Codec interface
// implementation.
func (CompactCodec) Encode(msg Message) ([]byte, error) {
	const op = "CompactCodec.Encode"

	var buf bytes.Buffer
	switch m := msg.(type) {
	case *MsgGetAddr:
		buf.Grow(2 + dcrwire.VarIntSerializeSize(uint64(m.MaxCount)))
		buf.WriteByte(ProtocolVersion)
		buf.WriteByte(byte(CmdGetAddr))
		err := dcrwire.WriteVarInt(&buf, varIntPver, uint64(m.MaxCount))
		if err != nil {
			return nil, err
		}

	case *MsgAddr:
		if err := m.validate(op); err != nil {
			return nil, err
		}
		count := uint64(len(m.AddrList))
		buf.Grow(2 + dcrwire.VarIntSerializeSize(count) +
			len(m.AddrList)*maxCompactAddrSize)
		buf.WriteByte(ProtocolVersion)
		buf.WriteByte(byte(CmdAddr))
		if err := dcrwire.WriteVarInt(&buf, varIntPver, count); err != nil {
			return nil, err
		}
		for i := range m.AddrList {
			writeCompactAddr(&buf, &m.AddrList[i])
		}

	default:
		str := fmt.Sprintf("unsupported message type %T", msg)
		return nil, messageError(op, ErrUnknownCommand, str)
	}

	if buf.Len() > MaxPayloadLength {
		str := fmt.Sprintf("message payload is too large - encoded %d "+
			"bytes, but maximum message payload is %d bytes", buf.Len(),
			MaxPayloadLength)
		return nil, messageError(op, ErrMsgTooLarge, str)
	}
	return buf.Bytes(), nil
}

// readVarInt reads a varint and maps read failures to message errors.
func readVarInt(op string, r io.Reader) (uint64, error) {
	v, err := dcrwire.ReadVarInt(r, varIntPver)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, messageError(op, ErrMsgTruncated,
				"message ends inside a varint")
		}
		str := fmt.Sprintf("malformed varint: %v", err)
		return 0, messageError(op, ErrMalformedMsg, str)
	}
	return v, nil
}

// readCompactAddr reads one compact address.
func readCompactAddr(op string, r io.Reader, na *NetAddress) error {
	var hdr [compactAddrHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return messageError(op, ErrMsgTruncated, "message ends inside "+
			"an address")
	}

	var ipLen int
	switch hdr[12] {
	case addrTypeIPv4:
		ipLen = 4
	case addrTypeIPv6:
		ipLen = 16
	default:
		str := fmt.Sprintf("cannot decode unknown network address type %d",
			hdr[12])
		return messageError(op, ErrInvalidAddr, str)
	}

	var tail [16 + 2]byte
	b := tail[:ipLen+2]
	if _, err := io.ReadFull(r, b); err != nil {
		return messageError(op, ErrMsgTruncated, "message ends inside "+
			"an address")
	}
	addr, err := addrFromBytes(op, b[:ipLen])
	if err != nil {
		return err
	}

	ts := int64(binary.LittleEndian.Uint64(hdr[0:8]))
	na.Timestamp = time.Unix(ts, 0)
	na.Score = int32(binary.LittleEndian.Uint32(hdr[8:12]))
	na.Endpoint = netip.AddrPortFrom(addr, binary.BigEndian.Uint16(b[ipLen:]))
	return nil
}

// Decode deserializes one complete message.  This is part of the Codec
// interface implementation.
func (CompactCodec) Decode(b []byte) (Message, error) {
	const op = "CompactCodec.Decode"
	if err := checkPayloadLength(op, b); err != nil {
		return nil, err
	}
	if b[0] != ProtocolVersion {
		str := fmt.Sprintf("unsupported protocol version %d", b[0])
		return nil, messageError(op, ErrUnknownVersion, str)
	}
	if len(b) < 2 {
		return nil, messageError(op, ErrMsgTruncated, "message has no "+
			"command")
	}

	r := bytes.NewReader(b[2:])
	var msg Message
	switch cmd := Command(b[1]); cmd {
	case CmdGetAddr:
		count, err := readVarInt(op, r)
		if err != nil {
			return nil, err
		}
		if count > math.MaxUint32 {
			str := fmt.Sprintf("requested count %d overflows", count)
			return nil, messageError(op, ErrMalformedMsg, str)
		}
		msg = &MsgGetAddr{MaxCount: uint32(count)}

	case CmdAddr:
		count, err := readVarInt(op, r)
		if err != nil {
			return nil, err
		}

		// Limit to max addresses per message.
		if count > MaxAddrPerMsg {
			str := fmt.Sprintf("too many addresses for message "+
				"[count %v, max %v]", count, MaxAddrPerMsg)
			return nil, messageError(op, ErrTooManyAddrs, str)
		}
		if count*minCompactAddrSize > uint64(r.Len()) {
			str := fmt.Sprintf("message too short for %d addresses", count)
			return nil, messageError(op, ErrMsgTruncated, str)
		}

		m := &MsgAddr{}
		if count > 0 {
			m.AddrList = make([]NetAddress, count)
		}
		for i := range m.AddrList {
			if err := readCompactAddr(op, r, &m.AddrList[i]); err != nil {
				return nil, err
			}
		}
		msg = m

	default:
		str := fmt.Sprintf("unknown command %d", uint8(cmd))
		return nil, messageError(op, ErrUnknownCommand, str)
	}

	if r.Len() != 0 {
		str := fmt.Sprintf("%d trailing bytes after %v message", r.Len(),
			msg.Command())
		return nil, messageError(op, ErrTrailingBytes, str)
	}
	return msg, nil
}

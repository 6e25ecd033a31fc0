// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/netip"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtobufCodecName is the name of the protocol buffers codec.
const ProtobufCodecName = "protobuf"

// Field numbers of the protocol buffers schema:
//
//	message Envelope {
//	  uint32 version = 1;
//	  oneof payload {
//	    GetAddresses get_addresses = 2;
//	    Addresses addresses = 3;
//	  }
//	}
//	message GetAddresses { uint32 max_count = 1; }
//	message Addresses { repeated NetAddress addrs = 1; }
//	message NetAddress {
//	  bytes ip = 1;
//	  uint32 port = 2;
//	  int64 timestamp = 3;
//	  sint32 score = 4;
//	}
const (
	envelopeVersion      protowire.Number = 1
	envelopeGetAddresses protowire.Number = 2
	envelopeAddresses    protowire.Number = 3

	getAddressesMaxCount protowire.Number = 1

	addressesAddrs protowire.Number = 1

	netAddressIP        protowire.Number = 1
	netAddressPort      protowire.Number = 2
	netAddressTimestamp protowire.Number = 3
	netAddressScore     protowire.Number = 4
)

// ProtobufCodec encodes messages with the protocol buffers wire format using
// the schema above.  Fields holding their zero value are omitted as proto3
// does, and unknown fields are skipped when decoding.
type ProtobufCodec struct{}

// Name returns the name of the codec.  This is part of the Codec interface
// implementation.
func (ProtobufCodec) Name() string {
	return ProtobufCodecName
}

// appendNetAddress appends the NetAddress message for na to b.
func appendNetAddress(b []byte, na *NetAddress) []byte {
	addr := na.Endpoint.Addr()
	var ip []byte
	if addr.Is4() {
		ip4 := addr.As4()
		ip = ip4[:]
	} else {
		ip16 := addr.As16()
		ip = ip16[:]
	}
	b = protowire.AppendTag(b, netAddressIP, protowire.BytesType)
	b = protowire.AppendBytes(b, ip)
	if port := na.Endpoint.Port(); port != 0 {
		b = protowire.AppendTag(b, netAddressPort, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(port))
	}
	if ts := na.Timestamp.Unix(); ts != 0 {
		b = protowire.AppendTag(b, netAddressTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ts))
	}
	if na.Score != 0 {
		b = protowire.AppendTag(b, netAddressScore, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(na.Score)))
	}
	return b
}

// Encode serializes the message.  This is part of the Codec interface
// implementation.
func (ProtobufCodec) Encode(msg Message) ([]byte, error) {
	const op = "ProtobufCodec.Encode"

	var field protowire.Number
	var payload []byte
	switch m := msg.(type) {
	case *MsgGetAddr:
		field = envelopeGetAddresses
		if m.MaxCount != 0 {
			payload = protowire.AppendTag(payload, getAddressesMaxCount,
				protowire.VarintType)
			payload = protowire.AppendVarint(payload, uint64(m.MaxCount))
		}

	case *MsgAddr:
		if err := m.validate(op); err != nil {
			return nil, err
		}
		field = envelopeAddresses
		var na []byte
		for i := range m.AddrList {
			na = appendNetAddress(na[:0], &m.AddrList[i])
			payload = protowire.AppendTag(payload, addressesAddrs,
				protowire.BytesType)
			payload = protowire.AppendBytes(payload, na)
		}

	default:
		str := fmt.Sprintf("unsupported message type %T", msg)
		return nil, messageError(op, ErrUnknownCommand, str)
	}

	b := make([]byte, 0, len(payload)+16)
	b = protowire.AppendTag(b, envelopeVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ProtocolVersion))
	b = protowire.AppendTag(b, field, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	if len(b) > MaxPayloadLength {
		str := fmt.Sprintf("message payload is too large - encoded %d "+
			"bytes, but maximum message payload is %d bytes", len(b),
			MaxPayloadLength)
		return nil, messageError(op, ErrMsgTooLarge, str)
	}
	return b, nil
}

// parseError converts a negative protowire length into a message error.
func parseError(op string, n int) error {
	err := protowire.ParseError(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return messageError(op, ErrMsgTruncated, "message ends inside a "+
			"field")
	}
	str := fmt.Sprintf("malformed protobuf field: %v", err)
	return messageError(op, ErrMalformedMsg, str)
}

// wrongType returns the error for a known field encoded with an unexpected
// wire type.
func wrongType(op string, num protowire.Number, typ protowire.Type) error {
	str := fmt.Sprintf("field %d has unexpected wire type %d", num, typ)
	return messageError(op, ErrMalformedMsg, str)
}

// fieldFunc handles one field of a message.  It returns the number of bytes
// consumed from b or a negative protowire length on error, or an error.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walkFields calls fn for every field of the encoded message b.  Fields fn
// does not consume (returning 0) are skipped.
func walkFields(op string, b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseError(op, n)
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return parseError(op, n)
		}
		b = b[n:]
	}
	return nil
}

// consumeVarint reads a varint field value after checking its wire type.
func consumeVarint(op string, num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, wrongType(op, num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, parseError(op, n)
	}
	return v, n, nil
}

// consumeBytes reads a length-delimited field value after checking its wire
// type.
func consumeBytes(op string, num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, wrongType(op, num, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, parseError(op, n)
	}
	return v, n, nil
}

// decodeNetAddress parses a NetAddress message.
func decodeNetAddress(op string, b []byte) (NetAddress, error) {
	var ip []byte
	var port, ts, score uint64
	err := walkFields(op, b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var n int
		var err error
		switch num {
		case netAddressIP:
			ip, n, err = consumeBytes(op, num, typ, b)
		case netAddressPort:
			port, n, err = consumeVarint(op, num, typ, b)
		case netAddressTimestamp:
			ts, n, err = consumeVarint(op, num, typ, b)
		case netAddressScore:
			score, n, err = consumeVarint(op, num, typ, b)
		}
		return n, err
	})
	if err != nil {
		return NetAddress{}, err
	}

	// A well-formed record with an unusable ip or port keeps the zero
	// endpoint so the receiver drops that record and not the whole batch.
	var ep netip.AddrPort
	if addr, ok := netip.AddrFromSlice(ip); ok && port <= math.MaxUint16 {
		ep = netip.AddrPortFrom(addr, uint16(port))
	}
	zscore := protowire.DecodeZigZag(score)
	if zscore < math.MinInt32 || zscore > math.MaxInt32 {
		str := fmt.Sprintf("score %d out of range", zscore)
		return NetAddress{}, messageError(op, ErrMalformedMsg, str)
	}
	return NetAddress{
		Endpoint:  ep,
		Timestamp: time.Unix(int64(ts), 0),
		Score:     int32(zscore),
	}, nil
}

// Decode deserializes one complete message.  This is part of the Codec
// interface implementation.
func (ProtobufCodec) Decode(b []byte) (Message, error) {
	const op = "ProtobufCodec.Decode"
	if err := checkPayloadLength(op, b); err != nil {
		return nil, err
	}

	var version uint64
	var msg Message
	err := walkFields(op, b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case envelopeVersion:
			v, n, err := consumeVarint(op, num, typ, b)
			version = v
			return n, err

		case envelopeGetAddresses, envelopeAddresses:
			payload, n, err := consumeBytes(op, num, typ, b)
			if err != nil {
				return 0, err
			}
			if msg != nil {
				return 0, messageError(op, ErrMalformedMsg,
					"message carries more than one payload")
			}
			if num == envelopeGetAddresses {
				msg, err = decodeGetAddresses(op, payload)
			} else {
				msg, err = decodeAddresses(op, payload)
			}
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}

	if version != uint64(ProtocolVersion) {
		str := fmt.Sprintf("unsupported protocol version %d", version)
		return nil, messageError(op, ErrUnknownVersion, str)
	}
	if msg == nil {
		return nil, messageError(op, ErrUnknownCommand, "message carries "+
			"no known payload")
	}
	return msg, nil
}

// decodeGetAddresses parses a GetAddresses message.
func decodeGetAddresses(op string, b []byte) (Message, error) {
	var count uint64
	err := walkFields(op, b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != getAddressesMaxCount {
			return 0, nil
		}
		v, n, err := consumeVarint(op, num, typ, b)
		count = v
		return n, err
	})
	if err != nil {
		return nil, err
	}
	if count > math.MaxUint32 {
		str := fmt.Sprintf("requested count %d overflows", count)
		return nil, messageError(op, ErrMalformedMsg, str)
	}
	return &MsgGetAddr{MaxCount: uint32(count)}, nil
}

// decodeAddresses parses an Addresses message.
func decodeAddresses(op string, b []byte) (Message, error) {
	msg := &MsgAddr{}
	err := walkFields(op, b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != addressesAddrs {
			return 0, nil
		}
		v, n, err := consumeBytes(op, num, typ, b)
		if err != nil {
			return 0, err
		}

		// Limit to max addresses per message.
		if len(msg.AddrList)+1 > MaxAddrPerMsg {
			str := fmt.Sprintf("too many addresses for message [max %v]",
				MaxAddrPerMsg)
			return 0, messageError(op, ErrTooManyAddrs, str)
		}
		na, err := decodeNetAddress(op, v)
		if err != nil {
			return 0, err
		}
		msg.AddrList = append(msg.AddrList, na)
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

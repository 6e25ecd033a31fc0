// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"net/netip"
	"time"
)

const (
	// ProtocolVersion is the version of the discovery protocol carried in
	// every encoded message.
	ProtocolVersion uint8 = 1

	// MaxAddrPerMsg is the maximum number of addresses that can be in a
	// single addr message and the most a getaddr message can usefully
	// request.
	MaxAddrPerMsg = 1000

	// MaxPayloadLength is the maximum number of bytes an encoded message may
	// occupy under any codec.
	MaxPayloadLength = 64 * 1024
)

// Command identifies the kind of a discovery message.
type Command uint8

// These constants define the discovery message commands.
const (
	CmdGetAddr Command = 1
	CmdAddr    Command = 2
)

// cmdStrings is a map of commands back to their names for pretty printing.
var cmdStrings = map[Command]string{
	CmdGetAddr: "getaddr",
	CmdAddr:    "addr",
}

// String returns the Command in human-readable form.
func (c Command) String() string {
	if s, ok := cmdStrings[c]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Command (%d)", uint8(c))
}

// Message is a discovery protocol message.  The concrete types are
// *MsgGetAddr and *MsgAddr.
type Message interface {
	Command() Command
}

// MsgGetAddr implements the Message interface and represents a request for up
// to MaxCount known addresses.  The receiver clamps the count to its own
// maximum.
type MsgGetAddr struct {
	MaxCount uint32
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgGetAddr) Command() Command {
	return CmdGetAddr
}

// NewMsgGetAddr returns a new getaddr message requesting up to maxCount
// addresses.
func NewMsgGetAddr(maxCount uint32) *MsgGetAddr {
	return &MsgGetAddr{MaxCount: maxCount}
}

// NetAddress is one advertised address.
type NetAddress struct {
	// Endpoint is the IP address and port of the advertised node.  It is
	// the zero value for a received record whose address could not be
	// represented.
	Endpoint netip.AddrPort

	// Timestamp is the last time the sender saw the node, with a resolution
	// of one second.
	Timestamp time.Time

	// Score is the sender's score for the node.  It is only a hint.
	Score int32
}

// NewNetAddress returns a new address with the timestamp truncated to the one
// second resolution of the encodings.
func NewNetAddress(ep netip.AddrPort, timestamp time.Time, score int32) NetAddress {
	return NetAddress{
		Endpoint:  ep,
		Timestamp: time.Unix(timestamp.Unix(), 0),
		Score:     score,
	}
}

// validate returns an error when the address cannot be encoded.
func (na *NetAddress) validate(op string) error {
	addr := na.Endpoint.Addr()
	if !addr.IsValid() {
		str := fmt.Sprintf("invalid address %v", na.Endpoint)
		return messageError(op, ErrInvalidAddr, str)
	}
	if addr.Zone() != "" {
		str := fmt.Sprintf("address %v has a zone that cannot be encoded",
			na.Endpoint)
		return messageError(op, ErrInvalidAddr, str)
	}
	return nil
}

// MsgAddr implements the Message interface and represents a batch of known
// addresses.  Each message is limited to a maximum number of addresses.
type MsgAddr struct {
	// AddrList contains the addresses that will be sent to or have been
	// received from a peer.
	AddrList []NetAddress
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgAddr) Command() Command {
	return CmdAddr
}

// NewMsgAddr returns a new empty addr message.
func NewMsgAddr() *MsgAddr {
	return &MsgAddr{}
}

// AddAddress adds a known address to the message.  If the maximum number of
// addresses has been reached, then an error is returned.
func (msg *MsgAddr) AddAddress(na NetAddress) error {
	const op = "MsgAddr.AddAddress"
	if len(msg.AddrList)+1 > MaxAddrPerMsg {
		str := fmt.Sprintf("too many addresses in message [max %v]",
			MaxAddrPerMsg)
		return messageError(op, ErrTooManyAddrs, str)
	}

	msg.AddrList = append(msg.AddrList, na)
	return nil
}

// AddAddresses adds multiple known addresses to the message.  If the number of
// addresses exceeds the maximum allowed then an error is returned.
func (msg *MsgAddr) AddAddresses(netAddrs ...NetAddress) error {
	for _, na := range netAddrs {
		err := msg.AddAddress(na)
		if err != nil {
			return err
		}
	}
	return nil
}

// ClearAddresses removes all addresses from the message.
func (msg *MsgAddr) ClearAddresses() {
	msg.AddrList = nil
}

// validate returns an error when the message cannot be encoded.
func (msg *MsgAddr) validate(op string) error {
	if len(msg.AddrList) > MaxAddrPerMsg {
		str := fmt.Sprintf("too many addresses for message [count %v, "+
			"max %v]", len(msg.AddrList), MaxAddrPerMsg)
		return messageError(op, ErrTooManyAddrs, str)
	}
	for i := range msg.AddrList {
		if err := msg.AddrList[i].validate(op); err != nil {
			return err
		}
	}
	return nil
}

// checkPayloadLength returns an error when an encoded message is empty or
// larger than the maximum payload.
func checkPayloadLength(op string, b []byte) error {
	if len(b) == 0 {
		return messageError(op, ErrMsgTruncated, "empty message")
	}
	if len(b) > MaxPayloadLength {
		str := fmt.Sprintf("message payload is too large - encoded %d "+
			"bytes, but maximum message payload is %d bytes", len(b),
			MaxPayloadLength)
		return messageError(op, ErrMsgTooLarge, str)
	}
	return nil
}

// addrFromBytes converts 4 or 16 address bytes to an address.
func addrFromBytes(op string, b []byte) (netip.Addr, error) {
	addr, ok := netip.AddrFromSlice(b)
	if !ok {
		str := fmt.Sprintf("invalid address length %d", len(b))
		return netip.Addr{}, messageError(op, ErrInvalidAddr, str)
	}
	return addr, nil
}

// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"errors"
	"net/netip"
	"testing"
	"time"
)

// TestAddr tests the MsgAddr API.
func TestAddr(t *testing.T) {
	msg := NewMsgAddr()
	if cmd := msg.Command(); cmd != CmdAddr {
		t.Errorf("NewMsgAddr: wrong command - got %v want %v", cmd, CmdAddr)
	}

	// Ensure NetAddresses are added properly.
	ep := netip.MustParseAddrPort("127.0.0.1:8333")
	ts := time.Unix(1700000000, 500)
	na := NewNetAddress(ep, ts, 7)
	if !na.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("NewNetAddress: timestamp not truncated: %v", na.Timestamp)
	}
	if err := msg.AddAddress(na); err != nil {
		t.Fatalf("AddAddress: %v", err)
	}
	if msg.AddrList[0] != na {
		t.Errorf("AddAddress: wrong address added - got %v, want %v",
			msg.AddrList[0], na)
	}

	// Ensure the address list is cleared properly.
	msg.ClearAddresses()
	if len(msg.AddrList) != 0 {
		t.Errorf("ClearAddresses: address list is not empty - "+
			"got %v [%v], want %v", len(msg.AddrList),
			msg.AddrList[0], 0)
	}

	// Ensure adding more than the max allowed addresses per message returns
	// error.
	var err error
	for i := 0; i < MaxAddrPerMsg+1; i++ {
		err = msg.AddAddress(na)
	}
	if !errors.Is(err, ErrTooManyAddrs) {
		t.Errorf("AddAddress: expected error on too many addresses not " +
			"received")
	}
	err = msg.AddAddresses(na)
	if !errors.Is(err, ErrTooManyAddrs) {
		t.Errorf("AddAddresses: expected error on too many addresses not " +
			"received")
	}
}

// TestGetAddr tests the MsgGetAddr API.
func TestGetAddr(t *testing.T) {
	msg := NewMsgGetAddr(10)
	if cmd := msg.Command(); cmd != CmdGetAddr {
		t.Errorf("NewMsgGetAddr: wrong command - got %v want %v", cmd,
			CmdGetAddr)
	}
	if msg.MaxCount != 10 {
		t.Errorf("NewMsgGetAddr: wrong count - got %d want 10", msg.MaxCount)
	}
}

// TestCommandStringer tests the stringized output for the Command type.
func TestCommandStringer(t *testing.T) {
	tests := []struct {
		in   Command
		want string
	}{
		{CmdGetAddr, "getaddr"},
		{CmdAddr, "addr"},
		{0xff, "Unknown Command (255)"},
	}

	for i, test := range tests {
		result := test.in.String()
		if result != test.want {
			t.Errorf("String #%d\n got: %s want: %s", i, result, test.want)
		}
	}
}

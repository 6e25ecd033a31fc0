// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import "fmt"

// Misbehavior identifies a kind of protocol misbehavior by a remote peer.
type Misbehavior uint8

const (
	// MisbehaviorDuplicateGetAddr is a request for addresses after the
	// first one on the same connection.
	MisbehaviorDuplicateGetAddr Misbehavior = iota

	// MisbehaviorEmptyAddr is an address message without addresses.
	MisbehaviorEmptyAddr

	// MisbehaviorTooManyAddrs is an address message with more addresses
	// than allowed.
	MisbehaviorTooManyAddrs

	// MisbehaviorDecodeFailure is a payload that could not be decoded.
	MisbehaviorDecodeFailure

	// MisbehaviorQuotaExceeded is a message beyond the message quota or
	// addresses beyond the address quota of the window.
	MisbehaviorQuotaExceeded

	numMisbehaviors
)

// misbehaviorStrings is a map of misbehavior kinds back to their constant
// names for pretty printing.
var misbehaviorStrings = map[Misbehavior]string{
	MisbehaviorDuplicateGetAddr: "duplicate getaddr",
	MisbehaviorEmptyAddr:        "empty addr",
	MisbehaviorTooManyAddrs:     "too many addrs",
	MisbehaviorDecodeFailure:    "decode failure",
	MisbehaviorQuotaExceeded:    "quota exceeded",
}

// String returns the Misbehavior in human-readable form.
func (m Misbehavior) String() string {
	if str, ok := misbehaviorStrings[m]; ok {
		return str
	}
	return fmt.Sprintf("Unknown Misbehavior (%d)", uint8(m))
}

// AddrStats summarizes the processing of one inbound address message.
type AddrStats struct {
	// Received is the number of addresses in the message.
	Received int

	// Inserted and Updated count the addresses that created or refreshed a
	// table record.
	Inserted int
	Updated  int

	// RejectedFull counts valid addresses that lost to every record of a
	// full bucket.
	RejectedFull int

	// Invalid counts addresses that failed validation or name the peer
	// itself.
	Invalid int

	// OverQuota counts addresses dropped because the address quota of the
	// window was exhausted.
	OverQuota int

	// Abandoned counts addresses left unprocessed because the session
	// closed.
	Abandoned int
}

// Observer is notified of events of interest on a session.  Callbacks run on
// the goroutine driving the session and must not block.  They may close the
// session, in which case any remaining work for the current message is
// abandoned.
type Observer interface {
	// OnMisbehavior is invoked every time the remote peer misbehaves.
	OnMisbehavior(s *Session, kind Misbehavior)

	// OnAddrs is invoked after an address message was processed.
	OnAddrs(s *Session, stats AddrStats)
}

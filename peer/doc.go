// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package peer implements the address discovery state of a single connection.

A Session sits between a connection and the shared address table.  It never
touches the network itself: every operation returns the messages that should
be sent to the remote peer along with the time the next announcement is due,
and the caller moves the bytes.

# Lifecycle

A session starts in the connecting state.  Open records the endpoint the
transport observed for the remote peer, optionally requests the peer's
addresses, and schedules the first announcement.  Each time Announce is called
once an announcement is due, the session passes through the announcing state
and settles in the idle state.  Close moves it to the closed state from any
other state and may be called from any goroutine.

# Inbound Messages

Every inbound message is counted against the message quota of the session
before it is decoded.  Address requests are answered with a random sample of
the table that excludes the requesting peer.  Advertised addresses are applied
to the table one at a time, each validated independently, until the address
quota is exhausted or the session is closed.

# Known Addresses

Each session tracks the addresses known to its remote peer in an age-partitioned
bloom filter.  Addresses the peer advertised or was sent are never announced to
it again on the same connection.

# Misbehavior

Protocol violations such as repeated address requests, empty or oversized
address messages, and undecodable payloads are counted per session and
reported to an optional Observer, which decides whether to disconnect.
*/
package peer

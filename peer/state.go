// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import "fmt"

// State is the lifecycle state of a discovery session.
type State uint32

const (
	// StateConnecting is the state of a session from the time the
	// connection opens until its first announcement.
	StateConnecting State = iota

	// StateAnnouncing is the state while an announcement is being built.
	StateAnnouncing

	// StateIdle is the state between announcements.
	StateIdle

	// StateClosed is the terminal state of a session.
	StateClosed

	numStates
)

// stateStrings is a map of states back to their constant names for pretty
// printing.
var stateStrings = map[State]string{
	StateConnecting: "connecting",
	StateAnnouncing: "announcing",
	StateIdle:       "idle",
	StateClosed:     "closed",
}

// String returns the State in human-readable form.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown State (%d)", uint32(s))
}

// Event is an input that drives session state transitions.
type Event uint8

const (
	// EventOpen is raised when the connection opens.
	EventOpen Event = iota

	// EventAnnounceDue is raised when the announcement timer fires.
	EventAnnounceDue

	// EventAnnounced is raised when an announcement was handed to the
	// transport.
	EventAnnounced

	// EventInbound is raised for every discovery message received.
	EventInbound

	// EventClose is raised when the connection closes.
	EventClose
)

// eventStrings is a map of events back to their constant names for pretty
// printing.
var eventStrings = map[Event]string{
	EventOpen:        "open",
	EventAnnounceDue: "announce due",
	EventAnnounced:   "announced",
	EventInbound:     "inbound",
	EventClose:       "close",
}

// String returns the Event in human-readable form.
func (e Event) String() string {
	if str, ok := eventStrings[e]; ok {
		return str
	}
	return fmt.Sprintf("Unknown Event (%d)", uint8(e))
}

// transitions lists the legal state transitions.  Pairs that are absent are
// illegal.
var transitions = [numStates]map[Event]State{
	StateConnecting: {
		EventOpen:        StateConnecting,
		EventAnnounceDue: StateAnnouncing,
		EventInbound:     StateConnecting,
		EventClose:       StateClosed,
	},
	StateAnnouncing: {
		EventAnnounced: StateIdle,
		EventClose:     StateClosed,
	},
	StateIdle: {
		EventAnnounceDue: StateAnnouncing,
		EventInbound:     StateIdle,
		EventClose:       StateClosed,
	},
	StateClosed: {
		EventClose: StateClosed,
	},
}

// nextState returns the state that follows the given event and whether the
// transition is legal.
func nextState(s State, e Event) (State, bool) {
	if s >= numStates {
		return s, false
	}
	next, ok := transitions[s][e]
	return next, ok
}

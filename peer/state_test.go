// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import "testing"

// TestNextState ensures every state and event pair transitions as expected.
func TestNextState(t *testing.T) {
	const illegal = State(0xff)
	allEvents := []Event{EventOpen, EventAnnounceDue, EventAnnounced,
		EventInbound, EventClose}

	tests := []struct {
		state State
		want  []State // indexed like allEvents
	}{{
		state: StateConnecting,
		want: []State{StateConnecting, StateAnnouncing, illegal,
			StateConnecting, StateClosed},
	}, {
		state: StateAnnouncing,
		want:  []State{illegal, illegal, StateIdle, illegal, StateClosed},
	}, {
		state: StateIdle,
		want: []State{illegal, StateAnnouncing, illegal, StateIdle,
			StateClosed},
	}, {
		state: StateClosed,
		want:  []State{illegal, illegal, illegal, illegal, StateClosed},
	}}

	for _, test := range tests {
		for i, event := range allEvents {
			got, ok := nextState(test.state, event)
			want := test.want[i]
			if want == illegal {
				if ok {
					t.Errorf("%v on %v: unexpected transition to %v",
						test.state, event, got)
				}
				continue
			}
			if !ok || got != want {
				t.Errorf("%v on %v: got %v (legal %v), want %v", test.state,
					event, got, ok, want)
			}
		}
	}

	if _, ok := nextState(numStates, EventClose); ok {
		t.Error("transition from an unknown state allowed")
	}
}

// TestStateStringers tests the stringized output for the state machine types.
func TestStateStringers(t *testing.T) {
	tests := []struct {
		in   interface{ String() string }
		want string
	}{
		{StateConnecting, "connecting"},
		{StateAnnouncing, "announcing"},
		{StateIdle, "idle"},
		{StateClosed, "closed"},
		{State(0xff), "Unknown State (255)"},
		{EventOpen, "open"},
		{EventAnnounceDue, "announce due"},
		{EventAnnounced, "announced"},
		{EventInbound, "inbound"},
		{EventClose, "close"},
		{Event(0xff), "Unknown Event (255)"},
		{MisbehaviorDuplicateGetAddr, "duplicate getaddr"},
		{MisbehaviorEmptyAddr, "empty addr"},
		{MisbehaviorTooManyAddrs, "too many addrs"},
		{MisbehaviorDecodeFailure, "decode failure"},
		{MisbehaviorQuotaExceeded, "quota exceeded"},
		{Misbehavior(0xff), "Unknown Misbehavior (255)"},
	}

	for i, test := range tests {
		if got := test.in.String(); got != test.want {
			t.Errorf("String #%d\n got: %s want: %s", i, got, test.want)
		}
	}
}

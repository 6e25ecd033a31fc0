// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"math"
	"testing"
	"time"
)

// TestLowerPriority ensures records are ordered by score first and then by the
// configured tie-break rule.
func TestLowerPriority(t *testing.T) {
	now := time.Unix(1700000000, 0)
	older := now.Add(-time.Hour)

	tests := []struct {
		name string
		a, b Record
		rule TieBreak
		want bool
	}{{
		name: "lower score",
		a:    Record{Score: 1, LastSeen: now},
		b:    Record{Score: 2, LastSeen: older},
		rule: TieBreakOldest,
		want: true,
	}, {
		name: "higher score",
		a:    Record{Score: 3, LastSeen: older},
		b:    Record{Score: 2, LastSeen: now},
		rule: TieBreakOldest,
		want: false,
	}, {
		name: "tied score, older",
		a:    Record{Score: 2, LastSeen: older},
		b:    Record{Score: 2, LastSeen: now},
		rule: TieBreakOldest,
		want: true,
	}, {
		name: "tied score, same age",
		a:    Record{Score: 2, LastSeen: now},
		b:    Record{Score: 2, LastSeen: now},
		rule: TieBreakOldest,
		want: false,
	}, {
		name: "tied score, random rule ignores age",
		a:    Record{Score: 2, LastSeen: older},
		b:    Record{Score: 2, LastSeen: now},
		rule: TieBreakRandom,
		want: false,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := lowerPriority(&test.a, &test.b, test.rule)
			if got != test.want {
				t.Errorf("unexpected result: got %v, want %v", got,
					test.want)
			}
		})
	}
}

// TestClampScore ensures scores are limited to the configured range without
// overflowing.
func TestClampScore(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		in   int64
		want int32
	}{
		{0, 0},
		{int64(cfg.MaxScore), cfg.MaxScore},
		{int64(cfg.MaxScore) + 1, cfg.MaxScore},
		{int64(cfg.MinScore) - 1, cfg.MinScore},
		{math.MaxInt32 + 10, cfg.MaxScore},
		{math.MinInt32 - 10, cfg.MinScore},
	}
	for _, test := range tests {
		if got := cfg.clampScore(test.in); got != test.want {
			t.Errorf("clampScore(%d): got %d, want %d", test.in, got,
				test.want)
		}
	}
}

// TestStringers ensures the enumerations print as expected.
func TestStringers(t *testing.T) {
	tests := []struct {
		in   interface{ String() string }
		want string
	}{
		{SourceGossip, "gossip"},
		{SourceSelfObserved, "self-observed"},
		{Source(9), "unknown source (9)"},
		{Inserted, "Inserted"},
		{Updated, "Updated"},
		{RejectedFull, "RejectedFull"},
		{RejectedInvalid, "RejectedInvalid"},
		{Outcome(9), "Unknown Outcome (9)"},
		{TieBreakOldest, "TieBreakOldest"},
		{TieBreakRandom, "TieBreakRandom"},
		{TieBreak(9), "Unknown TieBreak (9)"},
	}
	for _, test := range tests {
		if got := test.in.String(); got != test.want {
			t.Errorf("unexpected string: got %q, want %q", got, test.want)
		}
	}
}

// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"fmt"
	"net/netip"
	"time"
)

// Source identifies how an address was learned.
type Source uint8

const (
	// SourceGossip is an address advertised by a remote peer.  Such
	// addresses are unauthenticated.
	SourceGossip Source = iota

	// SourceSelfObserved is an address this node connected to or accepted a
	// connection from directly.
	SourceSelfObserved
)

// String returns the Source in human-readable form.
func (s Source) String() string {
	switch s {
	case SourceGossip:
		return "gossip"
	case SourceSelfObserved:
		return "self-observed"
	}
	return fmt.Sprintf("unknown source (%d)", uint8(s))
}

// Record is the state kept for one known remote endpoint.
type Record struct {
	// Endpoint is the network address and port of the remote node.
	Endpoint netip.AddrPort

	// LastSeen is the most recent time the endpoint was heard of.  It never
	// moves backwards.
	LastSeen time.Time

	// LastAttempt is the time of the last dial attempt.  The zero value
	// means the endpoint was never attempted.
	LastAttempt time.Time

	// Score is the connectivity score, clamped to the configured range.
	Score int32

	// Source is how the endpoint was learned.
	Source Source

	// BucketKey is the keyed hash that selects the bucket of the record.
	BucketKey uint64
}

// String returns a short human-readable description of the record.
func (r Record) String() string {
	return fmt.Sprintf("%v (score %d, %v, seen %v)", r.Endpoint, r.Score,
		r.Source, r.LastSeen.Format(time.RFC3339))
}

// knownAddress is a record together with its position in the table.
type knownAddress struct {
	rec Record

	// bucket is the index of the bucket holding the record and index is its
	// position within that bucket.
	bucket int
	index  int
}

// clampScore limits the given score to the configured range.
func (cfg *Config) clampScore(score int64) int32 {
	switch {
	case score < int64(cfg.MinScore):
		return cfg.MinScore
	case score > int64(cfg.MaxScore):
		return cfg.MaxScore
	}
	return int32(score)
}

// lowerPriority returns whether record a must give way to record b when
// competing for a slot.  Scores are compared first.  Equal scores are broken
// by last seen time when the tie-break rule is TieBreakOldest.
func lowerPriority(a, b *Record, rule TieBreak) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	if rule == TieBreakOldest {
		return a.LastSeen.Before(b.LastSeen)
	}
	return false
}

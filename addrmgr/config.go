// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/decred/dcrd/crypto/rand"
)

const (
	// DefaultBucketCount is the default number of buckets in the table.
	DefaultBucketCount = 256

	// DefaultBucketSize is the default maximum number of records per bucket.
	DefaultBucketSize = 64

	// DefaultBucketsPerGroup is the default number of buckets a single
	// network group may spread over.
	DefaultBucketsPerGroup = 8

	// DefaultMaxClockSkew is the default amount of time a record's last seen
	// time may be ahead of the local clock before it is rejected.
	DefaultMaxClockSkew = 10 * time.Minute

	// DefaultMinOccupancy is the default table size at or below which the
	// only record in a bucket survives a staleness sweep.
	DefaultMinOccupancy = 16

	// needAddressThreshold is the number of addresses under which the
	// address manager will claim to need more addresses.
	needAddressThreshold = 1000
)

// TieBreak selects which record is evicted from a full bucket when several
// records share the lowest score.
type TieBreak uint8

const (
	// TieBreakOldest evicts the record with the oldest last seen time.
	TieBreakOldest TieBreak = iota

	// TieBreakRandom evicts a uniformly random record among those tied.
	TieBreakRandom

	// numTieBreaks is the number of defined tie-break rules.
	numTieBreaks
)

// tieBreakStrings is a map of tie-break rules back to their constant names for
// pretty printing.
var tieBreakStrings = map[TieBreak]string{
	TieBreakOldest: "TieBreakOldest",
	TieBreakRandom: "TieBreakRandom",
}

// String returns the TieBreak in human-readable form.
func (t TieBreak) String() string {
	if s, ok := tieBreakStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("Unknown TieBreak (%d)", uint8(t))
}

// RandSource is the source of randomness used for sampling and tie-breaking.
// Implementations must be safe for use while the address manager lock is held
// and must return a value in [0,n) for n > 0.
type RandSource interface {
	IntN(n int) int
}

// cryptoRand is the default RandSource backed by the package level
// cryptographically secure generator.
type cryptoRand struct{}

// IntN returns a uniform random value in [0,n).
func (cryptoRand) IntN(n int) int {
	return rand.IntN(n)
}

// Config houses the tunables of the address manager.
type Config struct {
	// BucketCount is the number of buckets in the table.
	BucketCount int

	// BucketSize is the maximum number of records in each bucket.  The
	// capacity of the table is BucketCount*BucketSize.
	BucketSize int

	// BucketsPerGroup is the maximum number of distinct buckets the
	// addresses of a single network group map to.
	BucketsPerGroup int

	// MinScore and MaxScore bound every record score.
	MinScore int32
	MaxScore int32

	// DirectScore is the score floor of an endpoint observed directly.
	DirectScore int32

	// GossipScore is the highest score a gossiped endpoint enters with.
	GossipScore int32

	// SightingBonus is added on every direct sighting of a known endpoint.
	SightingBonus int32

	// SuccessBonus is added on a successful dial.
	SuccessBonus int32

	// FailurePenalty is subtracted on a failed dial.
	FailurePenalty int32

	// MaxClockSkew is how far ahead of the local clock a last seen time may
	// be before the record is rejected.
	MaxClockSkew time.Duration

	// MinOccupancy is the table size at or below which a stale record that is
	// alone in its bucket is kept.
	MinOccupancy int

	// TieBreak selects the victim among equally scored records.
	TieBreak TieBreak

	// Key is the secret used to map endpoints to buckets.  A zero key is
	// replaced by a random one.
	Key [32]byte

	// Clock provides the current time.  Nil means the wall clock.
	Clock clock.Clock

	// Rand provides randomness for sampling.  Nil means a cryptographically
	// secure source.
	Rand RandSource
}

// DefaultConfig returns the default address manager configuration.
func DefaultConfig() Config {
	return Config{
		BucketCount:     DefaultBucketCount,
		BucketSize:      DefaultBucketSize,
		BucketsPerGroup: DefaultBucketsPerGroup,
		MinScore:        -10,
		MaxScore:        100,
		DirectScore:     10,
		GossipScore:     0,
		SightingBonus:   1,
		SuccessBonus:    5,
		FailurePenalty:  2,
		MaxClockSkew:    DefaultMaxClockSkew,
		MinOccupancy:    DefaultMinOccupancy,
		TieBreak:        TieBreakOldest,
	}
}

// Capacity returns the maximum number of records a table created with the
// configuration can hold.
func (cfg *Config) Capacity() int {
	return cfg.BucketCount * cfg.BucketSize
}

// Validate returns an error of kind ErrInvalidConfig when the configuration
// is inconsistent.
func (cfg *Config) Validate() error {
	var str string
	switch {
	case cfg.BucketCount <= 0:
		str = fmt.Sprintf("bucket count %d must be positive", cfg.BucketCount)
	case cfg.BucketSize <= 0:
		str = fmt.Sprintf("bucket size %d must be positive", cfg.BucketSize)
	case cfg.BucketsPerGroup <= 0 || cfg.BucketsPerGroup > cfg.BucketCount:
		str = fmt.Sprintf("buckets per group %d must be in [1, %d]",
			cfg.BucketsPerGroup, cfg.BucketCount)
	case cfg.MinScore >= cfg.MaxScore:
		str = fmt.Sprintf("min score %d must be less than max score %d",
			cfg.MinScore, cfg.MaxScore)
	case cfg.DirectScore < cfg.MinScore || cfg.DirectScore > cfg.MaxScore:
		str = fmt.Sprintf("direct score %d is outside [%d, %d]",
			cfg.DirectScore, cfg.MinScore, cfg.MaxScore)
	case cfg.GossipScore < cfg.MinScore || cfg.GossipScore > cfg.MaxScore:
		str = fmt.Sprintf("gossip score %d is outside [%d, %d]",
			cfg.GossipScore, cfg.MinScore, cfg.MaxScore)
	case cfg.SightingBonus < 0 || cfg.SuccessBonus < 0 ||
		cfg.FailurePenalty < 0:
		str = "score deltas must not be negative"
	case cfg.MaxClockSkew < 0:
		str = fmt.Sprintf("max clock skew %v must not be negative",
			cfg.MaxClockSkew)
	case cfg.MinOccupancy < 0:
		str = fmt.Sprintf("min occupancy %d must not be negative",
			cfg.MinOccupancy)
	case cfg.TieBreak >= numTieBreaks:
		str = fmt.Sprintf("unknown tie-break rule %v", cfg.TieBreak)
	default:
		return nil
	}
	return makeError(ErrInvalidConfig, str)
}

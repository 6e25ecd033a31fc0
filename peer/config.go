// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/decred/addrgossip/addrmgr"
	"github.com/decred/addrgossip/guard"
	"github.com/decred/addrgossip/wire"
	"github.com/decred/dcrd/crypto/rand"
)

const (
	// DefaultAnnounceInterval is the default time between announcements.
	DefaultAnnounceInterval = 10 * time.Minute

	// DefaultAnnounceJitter is the default upper bound of the random delay
	// added to every announcement.
	DefaultAnnounceJitter = 30 * time.Second

	// DefaultAnnounceSize is the default number of known addresses sampled
	// into each announcement.
	DefaultAnnounceSize = 50

	// DefaultMaxKnownAddrs is the default number of addresses tracked as
	// known to the remote peer.
	DefaultMaxKnownAddrs = 10000

	// knownAddrsFPRate is the false positive rate of the filter that tracks
	// the addresses known to the remote peer.  A false positive only means
	// an address is not sent to that peer.
	knownAddrsFPRate = 0.001
)

// AddrTable is the address table a session reads from and writes to.  It is
// satisfied by *addrmgr.AddrManager.
type AddrTable interface {
	InsertOrUpdate(rec addrmgr.Record) addrmgr.Outcome
	Validate(rec addrmgr.Record) error
	Sample(n int, filter func(addrmgr.Record) bool) []addrmgr.Record
	LocalAddresses() []netip.AddrPort
}

// Config houses the parameters shared by the sessions of a node.
type Config struct {
	// Table is the address table fed by inbound addresses and sampled for
	// outbound ones.
	Table AddrTable

	// Codec decodes the raw payloads given to HandleBytes.
	Codec wire.Codec

	// Guard holds the per-peer quotas.
	Guard guard.Config

	// MaxAddrs is the maximum number of addresses accepted in, or sent in,
	// a single message.  It may not exceed wire.MaxAddrPerMsg.
	MaxAddrs int

	// AnnounceSize is the number of known addresses sampled into each
	// announcement.
	AnnounceSize int

	// AnnounceInterval is the time between announcements.
	AnnounceInterval time.Duration

	// AnnounceJitter bounds the random delay added to each announcement so
	// announcements from many sessions do not align.  Zero disables it.
	AnnounceJitter time.Duration

	// RequestOnOpen requests the peer's addresses when the session opens.
	RequestOnOpen bool

	// MaxKnownAddrs is the number of addresses remembered as known to the
	// remote peer.
	MaxKnownAddrs uint32

	// Clock provides the time for quota windows.  Nil means the wall clock.
	Clock clock.Clock

	// Jitter returns a uniformly random duration in [0, max).  Nil means
	// the crypto/rand package.
	Jitter func(max time.Duration) time.Duration

	// Observer is notified of misbehavior and processed address batches.
	// It may be nil.
	Observer Observer
}

// DefaultConfig returns a configuration with default parameters for the given
// table and codec.
func DefaultConfig(table AddrTable, codec wire.Codec) Config {
	return Config{
		Table:            table,
		Codec:            codec,
		Guard:            guard.DefaultConfig(),
		MaxAddrs:         wire.MaxAddrPerMsg,
		AnnounceSize:     DefaultAnnounceSize,
		AnnounceInterval: DefaultAnnounceInterval,
		AnnounceJitter:   DefaultAnnounceJitter,
		RequestOnOpen:    true,
		MaxKnownAddrs:    DefaultMaxKnownAddrs,
	}
}

// Validate returns an error when the session parameters are not usable.  The
// table is checked when a session is created.
func (cfg *Config) Validate() error {
	var desc string
	switch {
	case cfg.Codec == nil:
		desc = "session config requires a codec"
	case cfg.MaxAddrs <= 0 || cfg.MaxAddrs > wire.MaxAddrPerMsg:
		desc = fmt.Sprintf("max addrs per message %d is not in [1, %d]",
			cfg.MaxAddrs, wire.MaxAddrPerMsg)
	case cfg.AnnounceSize < 0 || cfg.AnnounceSize > cfg.MaxAddrs:
		desc = fmt.Sprintf("announce size %d is not in [0, %d]",
			cfg.AnnounceSize, cfg.MaxAddrs)
	case cfg.AnnounceInterval <= 0:
		desc = fmt.Sprintf("announce interval %v must be positive",
			cfg.AnnounceInterval)
	case cfg.AnnounceJitter < 0:
		desc = fmt.Sprintf("announce jitter %v must not be negative",
			cfg.AnnounceJitter)
	case cfg.MaxKnownAddrs == 0:
		desc = "max known addrs must be positive"
	}
	if desc != "" {
		return makeError(ErrInvalidConfig, desc)
	}
	if err := cfg.Guard.Validate(); err != nil {
		return makeError(ErrInvalidConfig, err.Error())
	}
	return nil
}

// jitter returns the random delay added to the next announcement.
func (cfg *Config) jitter() time.Duration {
	if cfg.AnnounceJitter <= 0 {
		return 0
	}
	if cfg.Jitter != nil {
		return cfg.Jitter(cfg.AnnounceJitter)
	}
	return rand.Duration(cfg.AnnounceJitter)
}

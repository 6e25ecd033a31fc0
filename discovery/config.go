// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/decred/addrgossip/addrmgr"
	"github.com/decred/addrgossip/guard"
	"github.com/decred/addrgossip/peer"
	"github.com/decred/addrgossip/wire"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultTickInterval is the default interval at which sessions are
	// asked whether an announcement is due.
	DefaultTickInterval = 5 * time.Second

	// DefaultStaleTTL is the default age after which an address that was
	// not heard of again is evicted.
	DefaultStaleTTL = 30 * 24 * time.Hour

	// DefaultStaleSweepInterval is the default interval between staleness
	// sweeps of the table.
	DefaultStaleSweepInterval = 10 * time.Minute

	// DefaultInboundQueueSize is the default number of inbound payloads
	// queued per session before further payloads are dropped.
	DefaultInboundQueueSize = 64
)

// MisbehaviorVerdict is the decision of a misbehavior hook.
type MisbehaviorVerdict uint8

const (
	// MisbehaveContinue keeps the session running.
	MisbehaveContinue MisbehaviorVerdict = iota

	// MisbehaveDisconnect closes the session.
	MisbehaveDisconnect
)

// String returns the MisbehaviorVerdict in human-readable form.
func (v MisbehaviorVerdict) String() string {
	switch v {
	case MisbehaveContinue:
		return "continue"
	case MisbehaveDisconnect:
		return "disconnect"
	}
	return fmt.Sprintf("Unknown MisbehaviorVerdict (%d)", uint8(v))
}

// Config holds every tunable of the discovery service.
type Config struct {
	// AddrManager configures the address table.  A nil clock defaults to
	// the service clock.
	AddrManager addrmgr.Config

	// Codec encodes and decodes discovery messages.
	Codec wire.Codec

	// Guard holds the per-peer quotas.
	Guard guard.Config

	// MaxAddrs is the maximum number of addresses per message.
	MaxAddrs int

	// AnnounceSize is the number of known addresses sampled into each
	// announcement.
	AnnounceSize int

	// AnnounceInterval is the time between announcements of a session.
	AnnounceInterval time.Duration

	// AnnounceJitter bounds the random delay added to each announcement.
	AnnounceJitter time.Duration

	// RequestOnOpen requests the addresses of every new peer.
	RequestOnOpen bool

	// MaxKnownAddrs is the number of addresses remembered per session as
	// known to the remote peer.
	MaxKnownAddrs uint32

	// TickInterval is the interval of the shared announcement ticker.
	TickInterval time.Duration

	// StaleTTL is the age after which an address is evicted.
	StaleTTL time.Duration

	// StaleSweepInterval is the interval between staleness sweeps.
	StaleSweepInterval time.Duration

	// InboundQueueSize is the number of payloads queued per session.
	InboundQueueSize int

	// Clock provides the time for the service and its sessions.  Nil means
	// the wall clock.
	Clock clock.Clock

	// OnMisbehavior, when set, is invoked every time a peer misbehaves and
	// decides whether its session is closed.
	OnMisbehavior func(id peer.ConnID, kind peer.Misbehavior) MisbehaviorVerdict

	// Registerer, when set, registers the service metrics.
	Registerer prometheus.Registerer
}

// DefaultConfig returns a configuration with the default parameters.
func DefaultConfig() Config {
	return Config{
		AddrManager:        addrmgr.DefaultConfig(),
		Codec:              wire.CompactCodec{},
		Guard:              guard.DefaultConfig(),
		MaxAddrs:           wire.MaxAddrPerMsg,
		AnnounceSize:       peer.DefaultAnnounceSize,
		AnnounceInterval:   peer.DefaultAnnounceInterval,
		AnnounceJitter:     peer.DefaultAnnounceJitter,
		RequestOnOpen:      true,
		MaxKnownAddrs:      peer.DefaultMaxKnownAddrs,
		TickInterval:       DefaultTickInterval,
		StaleTTL:           DefaultStaleTTL,
		StaleSweepInterval: DefaultStaleSweepInterval,
		InboundQueueSize:   DefaultInboundQueueSize,
	}
}

// sessionConfig returns the session parameters for the given table.
func (cfg *Config) sessionConfig(table peer.AddrTable, clk clock.Clock) peer.Config {
	return peer.Config{
		Table:            table,
		Codec:            cfg.Codec,
		Guard:            cfg.Guard,
		MaxAddrs:         cfg.MaxAddrs,
		AnnounceSize:     cfg.AnnounceSize,
		AnnounceInterval: cfg.AnnounceInterval,
		AnnounceJitter:   cfg.AnnounceJitter,
		RequestOnOpen:    cfg.RequestOnOpen,
		MaxKnownAddrs:    cfg.MaxKnownAddrs,
		Clock:            clk,
	}
}

// Validate returns an error when the configuration is not usable.
func (cfg *Config) Validate() error {
	if err := cfg.AddrManager.Validate(); err != nil {
		return makeError(ErrInvalidConfig, err.Error())
	}
	sessCfg := cfg.sessionConfig(nil, cfg.Clock)
	if err := sessCfg.Validate(); err != nil {
		return makeError(ErrInvalidConfig, err.Error())
	}

	var desc string
	switch {
	case cfg.TickInterval <= 0:
		desc = fmt.Sprintf("tick interval %v must be positive",
			cfg.TickInterval)
	case cfg.StaleTTL <= 0:
		desc = fmt.Sprintf("stale ttl %v must be positive", cfg.StaleTTL)
	case cfg.StaleSweepInterval <= 0:
		desc = fmt.Sprintf("stale sweep interval %v must be positive",
			cfg.StaleSweepInterval)
	case cfg.InboundQueueSize <= 0:
		desc = fmt.Sprintf("inbound queue size %d must be positive",
			cfg.InboundQueueSize)
	}
	if desc != "" {
		return makeError(ErrInvalidConfig, desc)
	}
	return nil
}

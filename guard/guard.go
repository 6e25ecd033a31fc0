// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package guard

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultWindow is the default length of a quota window.
	DefaultWindow = time.Minute

	// DefaultMaxMessages is the default number of discovery messages a peer
	// may send per window.
	DefaultMaxMessages = 10

	// DefaultMaxAddrs is the default number of addresses a peer may
	// advertise per window.
	DefaultMaxAddrs = 1000
)

// Config houses the quotas enforced by a Guard.
type Config struct {
	// Window is the length of each counting window.
	Window time.Duration

	// MaxMessages is the number of messages admitted per window.
	MaxMessages int

	// MaxAddrs is the number of addresses admitted per window.
	MaxAddrs int
}

// DefaultConfig returns the default quotas.
func DefaultConfig() Config {
	return Config{
		Window:      DefaultWindow,
		MaxMessages: DefaultMaxMessages,
		MaxAddrs:    DefaultMaxAddrs,
	}
}

// Validate returns an error when the quotas are not usable.
func (cfg *Config) Validate() error {
	switch {
	case cfg.Window <= 0:
		return fmt.Errorf("guard window %v must be positive", cfg.Window)
	case cfg.MaxMessages <= 0:
		return fmt.Errorf("guard message quota %d must be positive",
			cfg.MaxMessages)
	case cfg.MaxAddrs <= 0:
		return fmt.Errorf("guard address quota %d must be positive",
			cfg.MaxAddrs)
	}
	return nil
}

// errInvalidConfig is wrapped by the panic raised for an invalid config.
var errInvalidConfig = errors.New("invalid guard config")

// Guard counts the discovery messages and addresses received from a single
// peer within fixed windows.  Counters only reset when a new message is
// admitted, so a reset never happens while a message is being processed.
//
// A Guard is owned by one session and is not safe for concurrent access.
type Guard struct {
	cfg   Config
	clock clock.Clock

	windowStart time.Time
	messages    int
	addrs       int
}

// New returns a guard enforcing the given quotas.  A nil clock means the wall
// clock.  It panics when the configuration does not validate since callers
// are expected to validate it up front.
func New(cfg Config, clk clock.Clock) *Guard {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Errorf("%w: %v", errInvalidConfig, err))
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Guard{
		cfg:         cfg,
		clock:       clk,
		windowStart: clk.Now(),
	}
}

// roll starts a new window when the current one has elapsed.
func (g *Guard) roll(now time.Time) {
	if now.Sub(g.windowStart) < g.cfg.Window {
		return
	}
	g.windowStart = now
	g.messages = 0
	g.addrs = 0
}

// AllowMessage counts one inbound message and returns whether it is within the
// message quota of the current window.  Rejected messages are not counted.
func (g *Guard) AllowMessage() bool {
	g.roll(g.clock.Now())
	if g.messages >= g.cfg.MaxMessages {
		return false
	}
	g.messages++
	return true
}

// AdmitAddrs returns how many of n addresses fit in the remaining address
// quota of the current window and counts them.
func (g *Guard) AdmitAddrs(n int) int {
	if n <= 0 {
		return 0
	}
	admitted := min(n, g.cfg.MaxAddrs-g.addrs)
	if admitted < 0 {
		admitted = 0
	}
	g.addrs += admitted
	return admitted
}

// Counts returns the number of messages and addresses counted in the current
// window.
func (g *Guard) Counts() (messages, addrs int) {
	return g.messages, g.addrs
}

// WindowStart returns when the current window started.
func (g *Guard) WindowStart() time.Time {
	return g.windowStart
}

// Reset clears the counters and starts a new window now.
func (g *Guard) Reset() {
	g.windowStart = g.clock.Now()
	g.messages = 0
	g.addrs = 0
}

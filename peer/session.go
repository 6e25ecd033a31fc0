// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/decred/addrgossip/addrmgr"
	"github.com/decred/addrgossip/guard"
	"github.com/decred/addrgossip/wire"
	"github.com/decred/dcrd/container/apbf"
)

// ConnID uniquely identifies a connection for the lifetime of a node.
type ConnID uint64

// Output houses the messages a session wants sent to its remote peer along
// with the time its next announcement is due.
type Output struct {
	Messages     []wire.Message
	NextAnnounce time.Time
}

// Session is the address discovery state of a single connection.  It decides
// what to send and what to accept, while moving bytes is left to the caller.
//
// A session is driven by a single goroutine.  State, Close and the
// misbehavior counters may be used from any goroutine.
type Session struct {
	id     ConnID
	remote netip.AddrPort
	cfg    *Config

	state atomic.Uint32

	// These fields are only accessed by the goroutine driving the session.
	opened       bool
	getAddrSeen  bool
	nextAnnounce time.Time
	guard        *guard.Guard
	knownAddrs   *apbf.Filter

	misbehavior [numMisbehaviors]atomic.Uint32
}

// NewSession returns a session for the connection with the given id whose
// remote endpoint, as observed by the transport, is remote.
func NewSession(id ConnID, remote netip.AddrPort, cfg *Config) (*Session, error) {
	if cfg.Table == nil {
		return nil, makeError(ErrInvalidConfig, "session config requires an "+
			"address table")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		id:         id,
		remote:     addrmgr.Canonical(remote),
		cfg:        cfg,
		guard:      guard.New(cfg.Guard, cfg.Clock),
		knownAddrs: apbf.NewFilter(cfg.MaxKnownAddrs, knownAddrsFPRate),
	}, nil
}

// ID returns the connection id of the session.
func (s *Session) ID() ConnID {
	return s.id
}

// Remote returns the observed endpoint of the remote peer.
func (s *Session) Remote() netip.AddrPort {
	return s.remote
}

// State returns the current state of the session.
func (s *Session) State() State {
	return State(s.state.Load())
}

// String returns the session in a human-readable form.
func (s *Session) String() string {
	return fmt.Sprintf("%v (id %d)", s.remote, s.id)
}

// Misbehavior returns how many times the remote peer misbehaved in the given
// way.
func (s *Session) Misbehavior(kind Misbehavior) uint32 {
	if kind >= numMisbehaviors {
		return 0
	}
	return s.misbehavior[kind].Load()
}

// misbehave records a misbehavior and notifies the observer.
func (s *Session) misbehave(kind Misbehavior) {
	s.misbehavior[kind].Add(1)
	log.Debugf("Peer %v misbehaved: %v", s, kind)
	if s.cfg.Observer != nil {
		s.cfg.Observer.OnMisbehavior(s, kind)
	}
}

// transition applies an event to the session state.
func (s *Session) transition(e Event) error {
	cur := s.State()
	if cur == StateClosed && e != EventClose {
		return makeError(ErrSessionClosed, fmt.Sprintf("session %v is closed",
			s))
	}
	next, ok := nextState(cur, e)
	if !ok {
		str := fmt.Sprintf("event %v is not allowed in state %v", e, cur)
		return makeError(ErrInvalidState, str)
	}
	if !s.state.CompareAndSwap(uint32(cur), uint32(next)) {
		// Only Close races with the driving goroutine.
		return makeError(ErrSessionClosed, fmt.Sprintf("session %v is "+
			"closed", s))
	}
	return nil
}

// Close moves the session to its terminal state.  Work in progress for the
// current message stops before the next address is applied to the table.  It
// returns false when the session was already closed.
//
// This function is safe for concurrent access.
func (s *Session) Close() bool {
	for {
		cur := s.State()
		if cur == StateClosed {
			return false
		}
		if s.state.CompareAndSwap(uint32(cur), uint32(StateClosed)) {
			log.Debugf("Session %v closed", s)
			return true
		}
	}
}

// SendFailed closes the session after the transport failed to deliver one of
// its messages and returns an error describing the failure.
func (s *Session) SendFailed(err error) error {
	s.Close()
	str := fmt.Sprintf("unable to send to %v: %v", s, err)
	return makeError(ErrTransport, str)
}

// addKnownAddress adds the given address to the set of addresses known to the
// remote peer.
func (s *Session) addKnownAddress(ep netip.AddrPort) {
	s.knownAddrs.Add([]byte(addrmgr.Key(ep)))
}

// addressKnown returns true if the given address is already known to the
// remote peer.
func (s *Session) addressKnown(ep netip.AddrPort) bool {
	return s.knownAddrs.Contains([]byte(addrmgr.Key(ep)))
}

// checkOpen returns an error unless the session was opened and has not been
// closed since.
func (s *Session) checkOpen() error {
	if s.State() == StateClosed {
		str := fmt.Sprintf("session %v is closed", s)
		return makeError(ErrSessionClosed, str)
	}
	if !s.opened {
		str := fmt.Sprintf("session %v is not open", s)
		return makeError(ErrInvalidState, str)
	}
	return nil
}

// output returns an output without messages.
func (s *Session) output() Output {
	return Output{NextAnnounce: s.nextAnnounce}
}

// Open starts the session.  The observed endpoint of the remote peer is
// recorded in the table and the first announcement is scheduled.  An address
// request is returned when the configuration asks for one.
func (s *Session) Open(now time.Time) (Output, error) {
	if s.opened {
		str := fmt.Sprintf("session %v is already open", s)
		return s.output(), makeError(ErrInvalidState, str)
	}
	if err := s.transition(EventOpen); err != nil {
		return s.output(), err
	}
	s.opened = true

	// The remote peer trivially knows its own address.
	s.addKnownAddress(s.remote)

	rec := addrmgr.Record{
		Endpoint: s.remote,
		LastSeen: now,
		Source:   addrmgr.SourceSelfObserved,
	}
	outcome := s.cfg.Table.InsertOrUpdate(rec)
	log.Debugf("Opened session %v, observed endpoint %v", s, outcome)

	s.nextAnnounce = now.Add(s.cfg.jitter())
	out := s.output()
	if s.cfg.RequestOnOpen {
		out.Messages = []wire.Message{wire.NewMsgGetAddr(uint32(s.cfg.MaxAddrs))}
	}
	return out, nil
}

// Announce builds the periodic announcement once it is due.  The announcement
// carries the local addresses followed by a sample of the table that excludes
// the remote peer and every address already known to it.  Nothing is sent
// when the announcement is not due yet or there is nothing to announce.
func (s *Session) Announce(now time.Time) (Output, error) {
	if err := s.checkOpen(); err != nil {
		return s.output(), err
	}
	if now.Before(s.nextAnnounce) {
		return s.output(), nil
	}
	if err := s.transition(EventAnnounceDue); err != nil {
		return s.output(), err
	}

	msg := wire.NewMsgAddr()
	for _, ep := range s.cfg.Table.LocalAddresses() {
		if len(msg.AddrList) == s.cfg.MaxAddrs {
			break
		}
		msg.AddrList = append(msg.AddrList, wire.NewNetAddress(ep, now, 0))
	}
	n := min(s.cfg.AnnounceSize, s.cfg.MaxAddrs-len(msg.AddrList))
	recs := s.cfg.Table.Sample(n, func(rec addrmgr.Record) bool {
		return rec.Endpoint != s.remote && !s.addressKnown(rec.Endpoint)
	})
	for i := range recs {
		rec := &recs[i]
		na := wire.NewNetAddress(rec.Endpoint, rec.LastSeen, rec.Score)
		msg.AddrList = append(msg.AddrList, na)
		s.addKnownAddress(rec.Endpoint)
	}

	s.nextAnnounce = now.Add(s.cfg.AnnounceInterval + s.cfg.jitter())
	if err := s.transition(EventAnnounced); err != nil {
		return s.output(), err
	}

	out := s.output()
	if len(msg.AddrList) > 0 {
		log.Tracef("Announcing %s to %v", addrSummary(msg.AddrList), s)
		out.Messages = []wire.Message{msg}
	}
	return out, nil
}

// admit accounts for one inbound message.
func (s *Session) admit() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.transition(EventInbound); err != nil {
		return err
	}
	if !s.guard.AllowMessage() {
		s.misbehave(MisbehaviorQuotaExceeded)
		str := fmt.Sprintf("peer %v exceeded its message quota", s)
		return makeError(ErrQuotaExceeded, str)
	}
	return nil
}

// HandleBytes decodes a raw payload with the configured codec and handles the
// resulting message.  Payloads beyond the message quota are dropped before
// they are decoded.  Decoding errors are returned as is.
func (s *Session) HandleBytes(b []byte) (Output, error) {
	if err := s.admit(); err != nil {
		return s.output(), err
	}
	msg, err := s.cfg.Codec.Decode(b)
	if err != nil {
		s.misbehave(MisbehaviorDecodeFailure)
		return s.output(), err
	}
	return s.handle(msg)
}

// HandleMessage handles an already decoded message from the remote peer.
func (s *Session) HandleMessage(msg wire.Message) (Output, error) {
	if err := s.admit(); err != nil {
		return s.output(), err
	}
	return s.handle(msg)
}

// handle dispatches an admitted message.
func (s *Session) handle(msg wire.Message) (Output, error) {
	switch msg := msg.(type) {
	case *wire.MsgGetAddr:
		log.Tracef("Received getaddr (%s) from %v", messageSummary(msg), s)
		return s.handleGetAddr(msg), nil

	case *wire.MsgAddr:
		log.Tracef("Received addr (%s) from %v", messageSummary(msg), s)
		return s.handleAddr(msg)
	}

	str := fmt.Sprintf("unsupported message %T from %v", msg, s)
	return s.output(), makeError(ErrValidation, str)
}

// handleGetAddr replies to an address request with a sample of the table that
// excludes the remote peer.  Every request within quota is answered, but only
// the first one per connection is expected.
func (s *Session) handleGetAddr(msg *wire.MsgGetAddr) Output {
	if s.getAddrSeen {
		s.misbehave(MisbehaviorDuplicateGetAddr)
	}
	s.getAddrSeen = true

	n := s.cfg.MaxAddrs
	if uint64(msg.MaxCount) < uint64(n) {
		n = int(msg.MaxCount)
	}
	recs := s.cfg.Table.Sample(n, func(rec addrmgr.Record) bool {
		return rec.Endpoint != s.remote
	})

	out := s.output()
	if len(recs) == 0 {
		return out
	}
	reply := wire.NewMsgAddr()
	reply.AddrList = make([]wire.NetAddress, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		na := wire.NewNetAddress(rec.Endpoint, rec.LastSeen, rec.Score)
		reply.AddrList = append(reply.AddrList, na)
		s.addKnownAddress(rec.Endpoint)
	}
	out.Messages = []wire.Message{reply}
	return out
}

// handleAddr applies the advertised addresses to the table one at a time
// until the address quota is exhausted or the session is closed.
func (s *Session) handleAddr(msg *wire.MsgAddr) (Output, error) {
	out := s.output()

	// A message that has no addresses is invalid.
	if len(msg.AddrList) == 0 {
		s.misbehave(MisbehaviorEmptyAddr)
		return out, nil
	}
	if len(msg.AddrList) > s.cfg.MaxAddrs {
		s.misbehave(MisbehaviorTooManyAddrs)
		str := fmt.Sprintf("peer %v sent %d addresses (max %d)", s,
			len(msg.AddrList), s.cfg.MaxAddrs)
		return out, makeError(ErrValidation, str)
	}

	stats := AddrStats{Received: len(msg.AddrList)}
	for i := range msg.AddrList {
		if s.State() == StateClosed {
			stats.Abandoned = len(msg.AddrList) - i
			break
		}

		na := &msg.AddrList[i]
		rec := addrmgr.Record{
			Endpoint: addrmgr.Canonical(na.Endpoint),
			LastSeen: na.Timestamp,
			Score:    na.Score,
			Source:   addrmgr.SourceGossip,
		}

		// The remote peer knows the address whether or not it is kept.
		s.addKnownAddress(rec.Endpoint)

		// The endpoint of the peer is only learned from the connection.
		if rec.Endpoint == s.remote {
			log.Tracef("Ignoring own address %v from %v", rec.Endpoint, s)
			stats.Invalid++
			continue
		}
		if err := s.cfg.Table.Validate(rec); err != nil {
			log.Tracef("Ignoring address %v from %v: %v", rec.Endpoint, s,
				err)
			stats.Invalid++
			continue
		}
		if s.guard.AdmitAddrs(1) == 0 {
			stats.OverQuota = len(msg.AddrList) - i
			s.misbehave(MisbehaviorQuotaExceeded)
			break
		}

		switch s.cfg.Table.InsertOrUpdate(rec) {
		case addrmgr.Inserted:
			stats.Inserted++
		case addrmgr.Updated:
			stats.Updated++
		case addrmgr.RejectedFull:
			stats.RejectedFull++
		default:
			stats.Invalid++
		}
	}

	log.Debugf("Processed %d addresses from %v: %d new, %d updated, %d "+
		"invalid, %d over quota", stats.Received, s, stats.Inserted,
		stats.Updated, stats.Invalid, stats.OverQuota)
	if s.cfg.Observer != nil {
		s.cfg.Observer.OnAddrs(s, stats)
	}
	return out, nil
}

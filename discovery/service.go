// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/decred/addrgossip/addrmgr"
	"github.com/decred/addrgossip/peer"
)

// Transport delivers encoded discovery messages to connected peers.
type Transport interface {
	// SendBytes sends one encoded message to the peer of the connection.
	SendBytes(id peer.ConnID, b []byte) error
}

// sessionHandle houses a session along with the channels used to drive its
// goroutine.
type sessionHandle struct {
	sess     *peer.Session
	inbound  chan []byte
	poke     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
}

// stop closes the session and signals its goroutine to exit.  Payloads that
// are still queued are dropped.
func (h *sessionHandle) stop() {
	h.quitOnce.Do(func() {
		h.sess.Close()
		close(h.quit)
	})
}

// Service coordinates the discovery sessions of a node around a shared
// address table.
type Service struct {
	cfg       Config
	clock     clock.Clock
	table     *addrmgr.AddrManager
	transport Transport
	sessCfg   peer.Config
	started   atomic.Bool

	mtx      sync.Mutex
	sessions map[peer.ConnID]*sessionHandle
	stopped  bool
	wg       sync.WaitGroup

	statsMtx sync.Mutex
	counters counters
}

// New returns a discovery service using the given configuration which sends
// messages over the given transport.
func New(cfg *Config, transport Transport) (*Service, error) {
	if transport == nil {
		return nil, makeError(ErrInvalidConfig, "a transport is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	amCfg := cfg.AddrManager
	if amCfg.Clock == nil {
		amCfg.Clock = clk
	}
	table, err := addrmgr.New(amCfg)
	if err != nil {
		return nil, makeError(ErrInvalidConfig, err.Error())
	}

	s := &Service{
		cfg:       *cfg,
		clock:     clk,
		table:     table,
		transport: transport,
		sessions:  make(map[peer.ConnID]*sessionHandle),
		counters:  newCounters(),
	}
	s.sessCfg = cfg.sessionConfig(table, clk)
	s.sessCfg.Observer = (*sessionObserver)(s)

	if cfg.Registerer != nil {
		if err := cfg.Registerer.Register(s.Collector()); err != nil {
			str := fmt.Sprintf("unable to register metrics: %v", err)
			return nil, makeError(ErrInvalidConfig, str)
		}
	}
	return s, nil
}

// Run drives the shared announcement ticker and the staleness sweep until the
// context is done.  Every session is closed before it returns.
func (s *Service) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return makeError(ErrAlreadyRunning, "discovery service is already "+
			"running")
	}

	log.Tracef("Discovery service started")
	defer log.Tracef("Discovery service stopped")

	announceTicker := s.clock.Ticker(s.cfg.TickInterval)
	defer announceTicker.Stop()
	sweepTicker := s.clock.Ticker(s.cfg.StaleSweepInterval)
	defer sweepTicker.Stop()

out:
	for {
		select {
		case <-announceTicker.C:
			s.pokeSessions()

		case <-sweepTicker.C:
			s.sweepStale()

		case <-ctx.Done():
			break out
		}
	}

	s.shutdown()
	return nil
}

// shutdown closes every session and waits for their goroutines to exit.
func (s *Service) shutdown() {
	s.mtx.Lock()
	s.stopped = true
	for id, h := range s.sessions {
		h.stop()
		delete(s.sessions, id)
	}
	s.mtx.Unlock()
	s.wg.Wait()
}

// pokeSessions signals every session that an announcement may be due without
// blocking on busy sessions.
func (s *Service) pokeSessions() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, h := range s.sessions {
		select {
		case h.poke <- struct{}{}:
		default:
		}
	}
}

// sweepStale evicts the addresses that were not heard of within the ttl.
func (s *Service) sweepStale() {
	n := s.table.EvictStale(s.clock.Now(), s.cfg.StaleTTL)
	if n > 0 {
		log.Debugf("Evicted %d stale addresses (%d remain)", n,
			s.table.Size())
	}
	s.statsMtx.Lock()
	s.counters.staleEvicted += uint64(n)
	s.statsMtx.Unlock()
}

// OnConnected starts a discovery session for a new connection whose remote
// endpoint, as observed by the transport, is observed.
func (s *Service) OnConnected(id peer.ConnID, observed netip.AddrPort) error {
	sess, err := peer.NewSession(id, observed, &s.sessCfg)
	if err != nil {
		return err
	}
	h := &sessionHandle{
		sess:    sess,
		inbound: make(chan []byte, s.cfg.InboundQueueSize),
		poke:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}

	s.mtx.Lock()
	if s.stopped {
		s.mtx.Unlock()
		return makeError(ErrServiceStopped, "discovery service is stopped")
	}
	if _, ok := s.sessions[id]; ok {
		s.mtx.Unlock()
		str := fmt.Sprintf("connection id %d is already in use", id)
		return makeError(ErrDuplicateConn, str)
	}
	s.sessions[id] = h
	s.wg.Add(1)
	s.mtx.Unlock()

	out, err := sess.Open(s.clock.Now())
	if err != nil {
		log.Debugf("Unable to open session %v: %v", sess, err)
	}
	s.send(h, out)

	go s.sessionHandler(h)
	return nil
}

// OnDisconnected closes the session of a connection.  Work in progress for the
// session is abandoned and queued payloads are dropped.  Unknown ids are
// ignored.
func (s *Service) OnDisconnected(id peer.ConnID) {
	s.mtx.Lock()
	h, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mtx.Unlock()
	if ok {
		h.stop()
	}
}

// closeSession closes the session of the connection if it is still the
// current session for the id.
func (s *Service) closeSession(h *sessionHandle) {
	id := h.sess.ID()
	s.mtx.Lock()
	if s.sessions[id] == h {
		delete(s.sessions, id)
	}
	s.mtx.Unlock()
	h.stop()
}

// OnBytesReceived queues a payload received on the connection for its
// session.  The service takes ownership of the slice.  Payloads for unknown
// connections and payloads beyond the inbound queue size are dropped.
func (s *Service) OnBytesReceived(id peer.ConnID, b []byte) {
	s.mtx.Lock()
	h, ok := s.sessions[id]
	s.mtx.Unlock()
	if !ok {
		log.Tracef("Dropping %d bytes for unknown connection %d", len(b), id)
		return
	}

	select {
	case h.inbound <- b:
		s.statsMtx.Lock()
		s.counters.messagesReceived++
		s.statsMtx.Unlock()
	default:
		log.Debugf("Inbound queue of %v is full -- dropping message", h.sess)
		s.statsMtx.Lock()
		s.counters.messagesDropped++
		s.statsMtx.Unlock()
	}
}

// sessionHandler processes the inbound payloads and announcement ticks of a
// session in order until it is stopped.  It must be run as a goroutine.
func (s *Service) sessionHandler(h *sessionHandle) {
	defer s.wg.Done()

	for {
		select {
		case <-h.quit:
			return

		case b := <-h.inbound:
			out, err := h.sess.HandleBytes(b)
			if err != nil {
				log.Tracef("Message from %v dropped: %v", h.sess, err)
			}
			s.send(h, out)

		case <-h.poke:
			out, err := h.sess.Announce(s.clock.Now())
			if err != nil {
				log.Tracef("Announcement to %v skipped: %v", h.sess, err)
			}
			s.send(h, out)
		}
	}
}

// send encodes and sends the messages of a session output.  A transport
// failure closes the session.
func (s *Service) send(h *sessionHandle, out peer.Output) {
	for _, msg := range out.Messages {
		if h.sess.State() == peer.StateClosed {
			return
		}
		b, err := s.cfg.Codec.Encode(msg)
		if err != nil {
			log.Errorf("Unable to encode %v for %v: %v", msg.Command(),
				h.sess, err)
			continue
		}
		if err := s.transport.SendBytes(h.sess.ID(), b); err != nil {
			log.Debugf("%v", h.sess.SendFailed(err))
			s.statsMtx.Lock()
			s.counters.sendFailures++
			s.statsMtx.Unlock()
			s.closeSession(h)
			return
		}
	}
}

// connectedEndpoints returns the remote endpoints of all sessions.
func (s *Service) connectedEndpoints() map[netip.AddrPort]struct{} {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	eps := make(map[netip.AddrPort]struct{}, len(s.sessions))
	for _, h := range s.sessions {
		eps[h.sess.Remote()] = struct{}{}
	}
	return eps
}

// AddressesToDial returns up to n random known addresses that are neither
// connected nor local.
//
// This function is safe for concurrent access.
func (s *Service) AddressesToDial(n int) []netip.AddrPort {
	exclude := s.connectedEndpoints()
	for _, ep := range s.table.LocalAddresses() {
		exclude[ep] = struct{}{}
	}
	recs := s.table.Sample(n, func(rec addrmgr.Record) bool {
		_, ok := exclude[rec.Endpoint]
		return !ok
	})
	eps := make([]netip.AddrPort, 0, len(recs))
	for i := range recs {
		eps = append(eps, recs[i].Endpoint)
	}
	return eps
}

// KnownAddressCount returns the number of addresses in the table.
//
// This function is safe for concurrent access.
func (s *Service) KnownAddressCount() int {
	return s.table.Size()
}

// NeedMoreAddresses returns whether the table would benefit from more
// addresses.
//
// This function is safe for concurrent access.
func (s *Service) NeedMoreAddresses() bool {
	return s.table.NeedMoreAddresses()
}

// ReportDialResult updates the score of a dialed address.
//
// This function is safe for concurrent access.
func (s *Service) ReportDialResult(ep netip.AddrPort, ok bool) {
	var err error
	if ok {
		err = s.table.MarkDialSuccess(ep)
	} else {
		err = s.table.MarkDialFailure(ep)
	}
	if err != nil {
		log.Tracef("Dial result for %v not recorded: %v", ep, err)
	}
}

// AddLocalAddress registers one of our own routable addresses.  Local
// addresses are announced to peers and never stored in the table.
//
// This function is safe for concurrent access.
func (s *Service) AddLocalAddress(ep netip.AddrPort) error {
	if err := s.table.AddLocalAddress(ep); err != nil {
		return err
	}
	log.Infof("Added local address %v", addrmgr.Canonical(ep))
	return nil
}

// Snapshot returns a copy of every record in the table.
//
// This function is safe for concurrent access.
func (s *Service) Snapshot() []addrmgr.Record {
	return s.table.Records()
}

// Restore adds previously snapshotted records to the table and returns how
// many were added.
//
// This function is safe for concurrent access.
func (s *Service) Restore(recs []addrmgr.Record) int {
	n := s.table.Restore(recs)
	log.Infof("Restored %d of %d addresses", n, len(recs))
	return n
}

// sessionObserver adapts the service to the peer.Observer interface.
type sessionObserver Service

// OnMisbehavior counts the misbehavior and closes the session when the
// configured hook asks for it.
func (o *sessionObserver) OnMisbehavior(sess *peer.Session, kind peer.Misbehavior) {
	s := (*Service)(o)
	s.statsMtx.Lock()
	s.counters.misbehavior[kind]++
	s.statsMtx.Unlock()

	if s.cfg.OnMisbehavior == nil {
		return
	}
	if s.cfg.OnMisbehavior(sess.ID(), kind) != MisbehaveDisconnect {
		return
	}

	log.Infof("Disconnecting %v after misbehavior: %v", sess, kind)
	s.statsMtx.Lock()
	s.counters.disconnects++
	s.statsMtx.Unlock()
	s.mtx.Lock()
	h, ok := s.sessions[sess.ID()]
	s.mtx.Unlock()
	if ok && h.sess == sess {
		s.closeSession(h)
		return
	}
	sess.Close()
}

// OnAddrs accumulates the outcome of an address message.
func (o *sessionObserver) OnAddrs(sess *peer.Session, stats peer.AddrStats) {
	s := (*Service)(o)
	s.statsMtx.Lock()
	s.counters.addAddrStats(&stats)
	s.statsMtx.Unlock()
}

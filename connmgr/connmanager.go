// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2017-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package connmgr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/addrgossip/addrmgr"
	"github.com/decred/addrgossip/peer"
	"github.com/decred/addrgossip/wire"
	"github.com/decred/dcrd/container/lru"
	"github.com/decred/go-socks/socks"
	"golang.org/x/time/rate"
)

const (
	// defaultTargetOutbound is the default number of outbound connections to
	// maintain.
	defaultTargetOutbound = uint32(8)

	// defaultMaxConns is the default maximum number of connections.
	defaultMaxConns = uint32(125)

	// defaultRetryInterval is the default time an endpoint is skipped after
	// it was dialed.
	defaultRetryInterval = time.Minute

	// defaultConnectInterval is the default interval at which the number of
	// outbound connections is checked against the target.
	defaultConnectInterval = 5 * time.Second

	// defaultDialRate is the default sustained number of dials per second.
	defaultDialRate = rate.Limit(2)

	// defaultDialBurst is the default number of dials that may be started at
	// once.
	defaultDialBurst = 4

	// defaultTimeout is the default time allowed for a dial to complete.
	defaultTimeout = 30 * time.Second

	// defaultWriteTimeout is the default time allowed for a frame to be
	// written.
	defaultWriteTimeout = 30 * time.Second

	// retryCacheSize is the number of recently dialed endpoints remembered.
	retryCacheSize = 1024
)

// Discovery is the address discovery service driven by the connection
// manager.  It is satisfied by *discovery.Service.
type Discovery interface {
	OnConnected(id peer.ConnID, observed netip.AddrPort) error
	OnDisconnected(id peer.ConnID)
	OnBytesReceived(id peer.ConnID, b []byte)
	AddressesToDial(n int) []netip.AddrPort
	ReportDialResult(ep netip.AddrPort, ok bool)
}

// Config holds the configuration options related to the connection manager.
type Config struct {
	// Listeners defines a slice of listeners for which the connection
	// manager will take ownership of and accept connections.  Since the
	// connection manager takes ownership of these listeners, they will be
	// closed when the connection manager is stopped.
	Listeners []net.Listener

	// TargetOutbound is the number of outbound network connections to
	// maintain.  Defaults to 8.
	TargetOutbound uint32

	// MaxConns is the maximum number of inbound and outbound connections.
	// Inbound connections beyond it are refused.  Defaults to 125.
	MaxConns uint32

	// Permanent lists endpoints that are always kept connected.  When it is
	// not empty no other outbound connections are made.
	Permanent []netip.AddrPort

	// RetryInterval is the time an endpoint is not dialed again after a
	// dial attempt.  Defaults to 1 minute.
	RetryInterval time.Duration

	// ConnectInterval is the interval at which outbound connections are
	// topped up.  Defaults to 5 seconds.
	ConnectInterval time.Duration

	// DialRate and DialBurst configure the token bucket that paces outbound
	// dials.  They default to 2 dials per second with a burst of 4.
	DialRate  rate.Limit
	DialBurst int

	// Dial connects to the address on the named network.  Either Dial or
	// Proxy need to be specified (but not both).
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	// Proxy is a SOCKS5 proxy all outbound connections are made through.
	// Either Dial or Proxy need to be specified (but not both).
	Proxy *socks.Proxy

	// Timeout specifies the amount of time to wait for a connection to
	// complete before giving up.  Defaults to 30 seconds.
	Timeout time.Duration

	// WriteTimeout bounds the time allowed to write a single frame.
	// Defaults to 30 seconds.
	WriteTimeout time.Duration

	// MaxFrameSize is the maximum payload of a frame.  Defaults to the
	// maximum discovery message size.
	MaxFrameSize uint32

	// InboundPort, when not zero, replaces the source port of inbound
	// connections when they are reported to the discovery service since the
	// source port of a remote node is rarely the port it listens on.
	InboundPort uint16
}

// connection is an established connection to a remote node.
type connection struct {
	id        peer.ConnID
	conn      net.Conn
	endpoint  netip.AddrPort
	inbound   bool
	permanent bool

	// writeMtx serializes frame writes.
	writeMtx sync.Mutex
}

// String returns a human-readable string for the connection.
func (c *connection) String() string {
	direction := "outbound"
	if c.inbound {
		direction = "inbound"
	}
	return fmt.Sprintf("%v (%s, id %d)", c.endpoint, direction, c.id)
}

// ConnManager provides a manager to handle network connections.  It frames the
// payloads of the discovery service on TCP connections and maintains the
// target number of outbound connections using the addresses it provides.
type ConnManager struct {
	// connCount is the number of connections that have been made and is
	// used to assign unique connection ids.
	connCount atomic.Uint64

	// cfg specifies the configuration of the connection manager and is set
	// at creating time and treated as immutable after that.
	cfg Config

	// dial is the dial function from the config or the proxy.
	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	// limiter paces outbound dials.
	limiter *rate.Limiter

	// recent holds the endpoints dialed within the retry interval.
	recent *lru.Set[netip.AddrPort]

	disc    Discovery
	started atomic.Bool

	// The following fields are protected by the mutex.
	mtx     sync.Mutex
	conns   map[peer.ConnID]*connection
	pending map[netip.AddrPort]struct{}
	stopped bool

	wg sync.WaitGroup
}

// New returns a new connection manager with the provided configuration.
//
// Use Run to start listening and/or connecting to the network.
func New(cfg *Config) (*ConnManager, error) {
	if cfg.Dial == nil && cfg.Proxy == nil {
		return nil, makeError(ErrDialNil, "config: dial cannot be nil")
	}
	if cfg.Dial != nil && cfg.Proxy != nil {
		return nil, makeError(ErrBothDialsFilled,
			"config: cannot specify both Dial and Proxy")
	}
	if cfg.MaxConns != 0 && cfg.TargetOutbound > cfg.MaxConns {
		str := fmt.Sprintf("config: target outbound %d exceeds max "+
			"connections %d", cfg.TargetOutbound, cfg.MaxConns)
		return nil, makeError(ErrInvalidConfig, str)
	}

	// Default to sane values.
	c := *cfg // Copy so caller can't mutate
	if c.TargetOutbound == 0 {
		c.TargetOutbound = defaultTargetOutbound
	}
	if c.MaxConns == 0 {
		c.MaxConns = max(defaultMaxConns, c.TargetOutbound)
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.ConnectInterval <= 0 {
		c.ConnectInterval = defaultConnectInterval
	}
	if c.DialRate <= 0 {
		c.DialRate = defaultDialRate
	}
	if c.DialBurst <= 0 {
		c.DialBurst = defaultDialBurst
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = wire.MaxPayloadLength
	}

	cm := ConnManager{
		cfg:     c,
		dial:    c.Dial,
		limiter: rate.NewLimiter(c.DialRate, c.DialBurst),
		recent: lru.NewSetWithDefaultTTL[netip.AddrPort](retryCacheSize,
			c.RetryInterval),
		conns:   make(map[peer.ConnID]*connection),
		pending: make(map[netip.AddrPort]struct{}),
	}
	if c.Proxy != nil {
		cm.dial = c.Proxy.DialContext
	}
	return &cm, nil
}

// remoteEndpoint returns the endpoint reported to the discovery service for
// an inbound connection.
func (cm *ConnManager) remoteEndpoint(addr net.Addr) (netip.AddrPort, bool) {
	ep, ok := addrmgr.EndpointFromNetAddr(addr)
	if !ok {
		return netip.AddrPort{}, false
	}
	if cm.cfg.InboundPort != 0 {
		ep = netip.AddrPortFrom(ep.Addr(), cm.cfg.InboundPort)
	}
	return ep, true
}

// addConn registers an established connection, reports it to the discovery
// service and starts reading from it.  The connection is closed when the
// manager is stopping or the discovery service refuses it.
func (cm *ConnManager) addConn(conn net.Conn, ep netip.AddrPort, inbound, permanent bool) {
	c := &connection{
		id:        peer.ConnID(cm.connCount.Add(1)),
		conn:      conn,
		endpoint:  ep,
		inbound:   inbound,
		permanent: permanent,
	}

	cm.mtx.Lock()
	if cm.stopped {
		cm.mtx.Unlock()
		conn.Close()
		return
	}
	if inbound && uint32(len(cm.conns)) >= cm.cfg.MaxConns {
		cm.mtx.Unlock()
		log.Debugf("Refusing %v: max connections (%d) reached", c,
			cm.cfg.MaxConns)
		conn.Close()
		return
	}
	cm.conns[c.id] = c
	cm.wg.Add(1)
	cm.mtx.Unlock()

	log.Debugf("Connected to %v", c)
	if err := cm.disc.OnConnected(c.id, ep); err != nil {
		log.Debugf("Discovery refused %v: %v", c, err)
		cm.removeConn(c)
		conn.Close()
		cm.wg.Done()
		return
	}
	go cm.readHandler(c)
}

// removeConn forgets the connection and returns whether it was registered.
func (cm *ConnManager) removeConn(c *connection) bool {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	if _, ok := cm.conns[c.id]; !ok {
		return false
	}
	delete(cm.conns, c.id)
	return true
}

// readHandler reads frames from the connection and hands them to the
// discovery service until the connection fails or is closed.  It must be run
// as a goroutine.
func (cm *ConnManager) readHandler(c *connection) {
	defer cm.wg.Done()

	for {
		payload, err := readFrame(c.conn, cm.cfg.MaxFrameSize)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Debugf("Read from %v failed: %v", c, err)
			}
			break
		}
		cm.disc.OnBytesReceived(c.id, payload)
	}

	c.conn.Close()
	if cm.removeConn(c) {
		log.Debugf("Disconnected from %v", c)
	}
	cm.disc.OnDisconnected(c.id)
}

// SendBytes writes the payload as a single frame to the connection with the
// given id.  A failed write closes the connection.
//
// This is part of the discovery.Transport interface.
func (cm *ConnManager) SendBytes(id peer.ConnID, b []byte) error {
	cm.mtx.Lock()
	c, ok := cm.conns[id]
	cm.mtx.Unlock()
	if !ok {
		str := fmt.Sprintf("no connection with id %d", id)
		return makeError(ErrUnknownConn, str)
	}

	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(cm.cfg.WriteTimeout))
	if err := writeFrame(c.conn, b, cm.cfg.MaxFrameSize); err != nil {
		log.Debugf("Write to %v failed: %v", c, err)
		c.conn.Close()
		return err
	}
	return nil
}

// Disconnect closes the connection with the given id.  The discovery service
// is notified once the connection is torn down.
func (cm *ConnManager) Disconnect(id peer.ConnID) {
	cm.mtx.Lock()
	c, ok := cm.conns[id]
	cm.mtx.Unlock()
	if ok {
		log.Debugf("Disconnecting %v", c)
		c.conn.Close()
	}
}

// ConnCounts returns the number of inbound and outbound connections.
func (cm *ConnManager) ConnCounts() (inbound, outbound int) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	for _, c := range cm.conns {
		if c.inbound {
			inbound++
		} else {
			outbound++
		}
	}
	return inbound, outbound
}

// busyEndpoints returns the endpoints of outbound connections and pending
// dials along with their count.
func (cm *ConnManager) busyEndpoints() (map[netip.AddrPort]struct{}, int) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	busy := make(map[netip.AddrPort]struct{}, len(cm.conns)+len(cm.pending))
	var outbound int
	for _, c := range cm.conns {
		busy[c.endpoint] = struct{}{}
		if !c.inbound {
			outbound++
		}
	}
	for ep := range cm.pending {
		busy[ep] = struct{}{}
	}
	return busy, outbound + len(cm.pending)
}

// dialCandidates returns the endpoints to dial to reach the target number of
// outbound connections.
func (cm *ConnManager) dialCandidates() []netip.AddrPort {
	busy, outbound := cm.busyEndpoints()
	usable := func(ep netip.AddrPort) bool {
		_, ok := busy[ep]
		return !ok && !cm.recent.Contains(ep)
	}

	var candidates []netip.AddrPort
	if len(cm.cfg.Permanent) > 0 {
		for _, ep := range cm.cfg.Permanent {
			if usable(ep) {
				candidates = append(candidates, ep)
			}
		}
		return candidates
	}

	need := int(cm.cfg.TargetOutbound) - outbound
	if need <= 0 {
		return nil
	}
	// Ask for extra addresses since some may have been dialed recently.
	for _, ep := range cm.disc.AddressesToDial(need * 2) {
		if len(candidates) == need {
			break
		}
		if usable(ep) {
			candidates = append(candidates, ep)
		}
	}
	return candidates
}

// connectOutbound starts dials to top up the outbound connections.  Dials are
// paced by the limiter.
func (cm *ConnManager) connectOutbound(ctx context.Context) {
	for _, ep := range cm.dialCandidates() {
		if err := cm.limiter.Wait(ctx); err != nil {
			return
		}

		cm.mtx.Lock()
		if cm.stopped {
			cm.mtx.Unlock()
			return
		}
		cm.pending[ep] = struct{}{}
		cm.wg.Add(1)
		cm.mtx.Unlock()

		cm.recent.Put(ep)
		go cm.dialHandler(ctx, ep)
	}
}

// isPermanent returns whether the endpoint is a permanent peer.
func (cm *ConnManager) isPermanent(ep netip.AddrPort) bool {
	for _, p := range cm.cfg.Permanent {
		if p == ep {
			return true
		}
	}
	return false
}

// dialHandler dials the endpoint and reports the result to the discovery
// service.  It must be run as a goroutine.
func (cm *ConnManager) dialHandler(ctx context.Context, ep netip.AddrPort) {
	defer cm.wg.Done()

	log.Debugf("Attempting to connect to %v", ep)
	dialCtx, cancel := context.WithTimeout(ctx, cm.cfg.Timeout)
	conn, err := cm.dial(dialCtx, "tcp", ep.String())
	cancel()

	cm.mtx.Lock()
	delete(cm.pending, ep)
	cm.mtx.Unlock()

	if err != nil {
		// Ignore failures caused by shutdown.
		if ctx.Err() != nil {
			return
		}
		log.Debugf("Failed to connect to %v: %v", ep, err)
		cm.disc.ReportDialResult(ep, false)
		return
	}
	cm.disc.ReportDialResult(ep, true)
	cm.addConn(conn, ep, false, cm.isPermanent(ep))
}

// outboundHandler periodically tops up the outbound connections.  It must be
// run as a goroutine.
func (cm *ConnManager) outboundHandler(ctx context.Context) {
	defer cm.wg.Done()

	ticker := time.NewTicker(cm.cfg.ConnectInterval)
	defer ticker.Stop()
	for {
		cm.connectOutbound(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Trace("Outbound handler done")
			return
		}
	}
}

// listenHandler accepts incoming connections on a given listener.  It must be
// run as a goroutine.
func (cm *ConnManager) listenHandler(ctx context.Context, listener net.Listener) {
	defer cm.wg.Done()

	log.Infof("Server listening on %s", listener.Addr())
	for ctx.Err() == nil {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			// Only log the error if not forcibly shutting down.
			if ctx.Err() == nil {
				log.Errorf("Can't accept connection: %v", err)
			}
			continue
		}

		ep, ok := cm.remoteEndpoint(conn.RemoteAddr())
		if !ok {
			log.Debugf("Refusing connection from non-IP address %v",
				conn.RemoteAddr())
			conn.Close()
			continue
		}
		cm.addConn(conn, ep, true, false)
	}
	log.Tracef("Listener handler done for %s", listener.Addr())
}

// Run starts the connection manager along with its configured listeners and
// begins connecting to the network using addresses from the discovery
// service.  It blocks until the provided context is cancelled and all
// connections are closed.
func (cm *ConnManager) Run(ctx context.Context, disc Discovery) error {
	if disc == nil {
		return makeError(ErrDiscoveryNil, "discovery service cannot be nil")
	}
	if !cm.started.CompareAndSwap(false, true) {
		return makeError(ErrAlreadyRunning,
			"connection manager is already running")
	}
	cm.disc = disc

	log.Trace("Starting connection manager")
	for _, listener := range cm.cfg.Listeners {
		cm.wg.Add(1)
		go cm.listenHandler(ctx, listener)
	}
	cm.wg.Add(1)
	go cm.outboundHandler(ctx)

	<-ctx.Done()

	// Stop all the listeners and connections on shutdown.  The handlers
	// exit once their listener or connection is closed.
	for _, listener := range cm.cfg.Listeners {
		// Ignore the error since this is shutdown and there is no way
		// to recover anyways.
		_ = listener.Close()
	}
	cm.mtx.Lock()
	cm.stopped = true
	for _, c := range cm.conns {
		c.conn.Close()
	}
	cm.mtx.Unlock()

	cm.wg.Wait()
	log.Trace("Connection manager stopped")
	return nil
}

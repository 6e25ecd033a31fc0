// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

import (
	"context"
	"errors"
	mrand "math/rand/v2"
	"net/netip"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/addrgossip/addrmgr"
	"github.com/decred/addrgossip/peer"
	"github.com/decred/addrgossip/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"
)

// testNow is the mock time all service tests start at.
var testNow = time.Unix(1700000000, 0)

// testEndpoint returns a distinct routable endpoint for each i.
func testEndpoint(i int) netip.AddrPort {
	addr := netip.AddrFrom4([4]byte{20 + byte(i>>8), byte(i), 0, 1})
	return netip.AddrPortFrom(addr, 9108)
}

// testRecords returns gossiped records for count consecutive test endpoints
// starting at first.
func testRecords(first, count int, seen time.Time) []addrmgr.Record {
	recs := make([]addrmgr.Record, 0, count)
	for i := first; i < first+count; i++ {
		recs = append(recs, addrmgr.Record{
			Endpoint: testEndpoint(i),
			LastSeen: seen,
			Source:   addrmgr.SourceGossip,
		})
	}
	return recs
}

// route is the far end of an in-memory connection.
type route struct {
	svc *Service
	id  peer.ConnID
}

// memTransport delivers messages directly to the service on the far end of
// each connection.  Messages for connections without a route are recorded.
type memTransport struct {
	mtx    sync.Mutex
	routes map[peer.ConnID]route
	sent   map[peer.ConnID][][]byte
	fail   bool
}

func newMemTransport() *memTransport {
	return &memTransport{
		routes: make(map[peer.ConnID]route),
		sent:   make(map[peer.ConnID][][]byte),
	}
}

func (t *memTransport) SendBytes(id peer.ConnID, b []byte) error {
	t.mtx.Lock()
	if t.fail {
		t.mtx.Unlock()
		return errors.New("broken pipe")
	}
	r, ok := t.routes[id]
	if !ok {
		t.sent[id] = append(t.sent[id], b)
	}
	t.mtx.Unlock()

	if ok {
		r.svc.OnBytesReceived(r.id, append([]byte(nil), b...))
	}
	return nil
}

// newTestService returns a service using the mock clock without announcement
// jitter and with a deterministic table.  The configuration may be adjusted
// by modify.
func newTestService(t *testing.T, mock *clock.Mock, transport Transport, modify func(*Config)) *Service {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Clock = mock
	cfg.AnnounceJitter = 0
	cfg.AddrManager.Rand = mrand.New(mrand.NewPCG(5, 6))
	cfg.AddrManager.Key = [32]byte{0x07, 0x08}
	if modify != nil {
		modify(&cfg)
	}
	s, err := New(&cfg, transport)
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}
	return s
}

// newMock returns a mock clock set to testNow.
func newMock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(testNow)
	return mock
}

// waitFor polls until cond holds, advancing the mock clock by step between
// polls when one is given.
func waitFor(t *testing.T, mock *clock.Mock, step time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for condition")
		}
		if mock != nil {
			mock.Add(step)
		}
		time.Sleep(time.Millisecond)
	}
}

// endpointSet returns the endpoints of the records as a sorted slice of
// strings.
func endpointSet(recs []addrmgr.Record) []string {
	eps := make([]string, 0, len(recs))
	for _, rec := range recs {
		eps = append(eps, rec.Endpoint.String())
	}
	sort.Strings(eps)
	return eps
}

// TestConfigValidate ensures unusable service configurations are rejected.
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"zero tick", func(c *Config) { c.TickInterval = 0 }, true},
		{"zero ttl", func(c *Config) { c.StaleTTL = 0 }, true},
		{"zero sweep", func(c *Config) { c.StaleSweepInterval = 0 }, true},
		{"zero queue", func(c *Config) { c.InboundQueueSize = 0 }, true},
		{"bad table", func(c *Config) { c.AddrManager.BucketCount = 0 }, true},
		{"bad session", func(c *Config) { c.MaxAddrs = 0 }, true},
		{"no codec", func(c *Config) { c.Codec = nil }, true},
	}

	for _, test := range tests {
		cfg := DefaultConfig()
		test.modify(&cfg)
		err := cfg.Validate()
		if (err != nil) != test.wantErr {
			t.Errorf("%s: unexpected error: %v", test.name, err)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: unexpected error kind: %v", test.name, err)
		}
	}
}

// TestNew ensures a service requires a transport and registers its metrics
// once.
func TestNew(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := New(&cfg, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil transport: got %v, want %v", err, ErrInvalidConfig)
	}

	cfg.Registerer = prometheus.NewRegistry()
	if _, err := New(&cfg, newMemTransport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New(&cfg, newMemTransport()); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("duplicate registration: got %v, want %v", err,
			ErrInvalidConfig)
	}
}

// TestTwoNodeGossip ensures two connected nodes that each know five addresses
// end up knowing the union of both plus the endpoint of the other node.
func TestTwoNodeGossip(t *testing.T) {
	mock := newMock()
	transA, transB := newMemTransport(), newMemTransport()
	nodeA := newTestService(t, mock, transA, nil)
	nodeB := newTestService(t, mock, transB, nil)

	seen := testNow.Add(-time.Hour)
	recsA, recsB := testRecords(0, 5, seen), testRecords(5, 5, seen)
	if n := nodeA.Restore(recsA); n != 5 {
		t.Fatalf("restored %d addresses on node A", n)
	}
	if n := nodeB.Restore(recsB); n != 5 {
		t.Fatalf("restored %d addresses on node B", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return nodeA.Run(gctx) })
	g.Go(func() error { return nodeB.Run(gctx) })

	// Connect the nodes.  Each side observes the other at its public
	// endpoint.
	endpointA := netip.MustParseAddrPort("30.0.0.1:9108")
	endpointB := netip.MustParseAddrPort("40.0.0.1:9108")
	transA.routes[1] = route{svc: nodeB, id: 7}
	transB.routes[7] = route{svc: nodeA, id: 1}
	if err := nodeB.OnConnected(7, endpointA); err != nil {
		t.Fatalf("node B: unexpected error: %v", err)
	}
	if err := nodeA.OnConnected(1, endpointB); err != nil {
		t.Fatalf("node A: unexpected error: %v", err)
	}

	waitFor(t, mock, DefaultTickInterval, func() bool {
		return nodeA.KnownAddressCount() == 11 &&
			nodeB.KnownAddressCount() == 11
	})

	var union []addrmgr.Record
	union = append(union, recsA...)
	union = append(union, recsB...)
	wantA := endpointSet(append(union, addrmgr.Record{Endpoint: endpointB}))
	wantB := endpointSet(append(union, addrmgr.Record{Endpoint: endpointA}))
	if got := endpointSet(nodeA.Snapshot()); !reflect.DeepEqual(got, wantA) {
		t.Fatalf("node A table mismatch:\ngot %v\nwant %v", spew.Sdump(got),
			spew.Sdump(wantA))
	}
	if got := endpointSet(nodeB.Snapshot()); !reflect.DeepEqual(got, wantB) {
		t.Fatalf("node B table mismatch:\ngot %v\nwant %v", spew.Sdump(got),
			spew.Sdump(wantB))
	}

	// The connected node is never offered for dialing.
	for _, ep := range nodeA.AddressesToDial(100) {
		if ep == endpointB {
			t.Fatal("connected endpoint offered for dialing")
		}
	}
	if got := len(nodeA.AddressesToDial(100)); got != 10 {
		t.Fatalf("got %d addresses to dial, want 10", got)
	}

	statsA := nodeA.Stats()
	if statsA.Sessions != 1 || statsA.AddrsInserted != 5 {
		t.Fatalf("unexpected node A stats %+v", statsA)
	}

	cancel()
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if n := nodeA.Stats().Sessions; n != 0 {
		t.Fatalf("%d sessions remain after shutdown", n)
	}
	err := nodeA.OnConnected(2, endpointB)
	if !errors.Is(err, ErrServiceStopped) {
		t.Fatalf("connect after shutdown: got %v, want %v", err,
			ErrServiceStopped)
	}
}

// TestRunOnce ensures Run refuses to start twice.
func TestRunOnce(t *testing.T) {
	s := newTestService(t, newMock(), newMemTransport(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, nil, 0, func() bool { return s.started.Load() })
	if err := s.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("got %v, want %v", err, ErrAlreadyRunning)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
}

// TestDuplicateConn ensures connection ids cannot be reused while connected.
func TestDuplicateConn(t *testing.T) {
	s := newTestService(t, newMock(), newMemTransport(), nil)
	ep := testEndpoint(1)
	if err := s.OnConnected(1, ep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.OnConnected(1, ep); !errors.Is(err, ErrDuplicateConn) {
		t.Fatalf("got %v, want %v", err, ErrDuplicateConn)
	}
	s.OnDisconnected(1)
	s.OnDisconnected(1)
	if err := s.OnConnected(1, ep); err != nil {
		t.Fatalf("unexpected error after disconnect: %v", err)
	}
	s.OnDisconnected(1)
}

// TestSendFailure ensures a transport failure closes the session.
func TestSendFailure(t *testing.T) {
	trans := newMemTransport()
	trans.fail = true
	s := newTestService(t, newMock(), trans, nil)

	// The address request sent on open fails.
	if err := s.OnConnected(1, testEndpoint(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := s.Stats()
	if stats.Sessions != 0 || stats.SendFailures != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

// TestMisbehaviorDisconnect ensures the misbehavior hook decides whether a
// session is closed.
func TestMisbehaviorDisconnect(t *testing.T) {
	type report struct {
		id   peer.ConnID
		kind peer.Misbehavior
	}
	var mtx sync.Mutex
	var reports []report

	s := newTestService(t, newMock(), newMemTransport(), func(cfg *Config) {
		cfg.OnMisbehavior = func(id peer.ConnID, kind peer.Misbehavior) MisbehaviorVerdict {
			mtx.Lock()
			reports = append(reports, report{id, kind})
			mtx.Unlock()
			if kind == peer.MisbehaviorEmptyAddr {
				return MisbehaveDisconnect
			}
			return MisbehaveContinue
		}
	})
	if err := s.OnConnected(3, testEndpoint(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	codec := wire.CompactCodec{}
	getAddr, _ := codec.Encode(wire.NewMsgGetAddr(1))
	emptyAddr, _ := codec.Encode(wire.NewMsgAddr())

	// A duplicate request is reported but tolerated.
	s.OnBytesReceived(3, getAddr)
	s.OnBytesReceived(3, getAddr)
	waitFor(t, nil, 0, func() bool {
		return s.Stats().Misbehavior[peer.MisbehaviorDuplicateGetAddr] == 1
	})
	if s.Stats().Sessions != 1 {
		t.Fatal("session closed after tolerated misbehavior")
	}

	s.OnBytesReceived(3, emptyAddr)
	waitFor(t, nil, 0, func() bool { return s.Stats().Sessions == 0 })

	stats := s.Stats()
	if stats.MisbehaviorDisconnects != 1 ||
		stats.Misbehavior[peer.MisbehaviorEmptyAddr] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	mtx.Lock()
	want := []report{{3, peer.MisbehaviorDuplicateGetAddr},
		{3, peer.MisbehaviorEmptyAddr}}
	if !reflect.DeepEqual(reports, want) {
		t.Fatalf("unexpected reports %v, want %v", reports, want)
	}
	mtx.Unlock()

	// Payloads for the closed session are dropped.
	s.OnBytesReceived(3, getAddr)
	if got := s.Stats().MessagesReceived; got != 3 {
		t.Fatalf("unexpected received count %d", got)
	}
}

// blockingTransport blocks the first send until released.
type blockingTransport struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (t *blockingTransport) SendBytes(id peer.ConnID, b []byte) error {
	t.once.Do(func() {
		close(t.entered)
		<-t.release
	})
	return nil
}

// TestInboundQueueFull ensures payloads beyond the inbound queue of a busy
// session are dropped.
func TestInboundQueueFull(t *testing.T) {
	trans := &blockingTransport{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestService(t, newMock(), trans, func(cfg *Config) {
		cfg.InboundQueueSize = 2
		cfg.RequestOnOpen = false
	})
	s.Restore(testRecords(0, 3, testNow.Add(-time.Hour)))
	if err := s.OnConnected(1, testEndpoint(9)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	getAddr, _ := wire.CompactCodec{}.Encode(wire.NewMsgGetAddr(10))
	s.OnBytesReceived(1, getAddr)
	<-trans.entered

	// The session is blocked sending its reply.
	for i := 0; i < 3; i++ {
		s.OnBytesReceived(1, getAddr)
	}
	stats := s.Stats()
	if stats.MessagesReceived != 3 || stats.MessagesDropped != 1 ||
		stats.InboundQueued != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	close(trans.release)
	s.OnDisconnected(1)
}

// TestAddressesToDial ensures connected and local endpoints are never offered
// for dialing.
func TestAddressesToDial(t *testing.T) {
	s := newTestService(t, newMock(), newMemTransport(), nil)
	s.Restore(testRecords(0, 5, testNow.Add(-time.Hour)))
	local := netip.MustParseAddrPort("98.7.6.5:9108")
	if err := s.AddLocalAddress(local); err != nil {
		t.Fatalf("unable to add local address: %v", err)
	}
	if err := s.AddLocalAddress(netip.MustParseAddrPort("10.0.0.1:9108")); err == nil {
		t.Fatal("unroutable local address accepted")
	}
	if !s.NeedMoreAddresses() {
		t.Fatal("a table with five addresses does not need more")
	}

	connected := testEndpoint(0)
	if err := s.OnConnected(1, connected); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.KnownAddressCount(); got != 5 {
		t.Fatalf("unexpected known address count %d", got)
	}

	eps := s.AddressesToDial(10)
	if len(eps) != 4 {
		t.Fatalf("got %d addresses, want 4", len(eps))
	}
	for _, ep := range eps {
		if ep == connected || ep == local {
			t.Fatalf("%v offered for dialing", ep)
		}
	}
	if got := len(s.AddressesToDial(2)); got != 2 {
		t.Fatalf("got %d addresses, want 2", got)
	}

	s.OnDisconnected(1)
	if got := len(s.AddressesToDial(10)); got != 5 {
		t.Fatalf("got %d addresses after disconnect, want 5", got)
	}
	if got := s.Stats().LocalAddresses; got != 1 {
		t.Fatalf("unexpected local address count %d", got)
	}
}

// TestReportDialResult ensures dial results adjust the score of the address.
func TestReportDialResult(t *testing.T) {
	s := newTestService(t, newMock(), newMemTransport(), nil)
	ep := testEndpoint(0)
	s.Restore(testRecords(0, 1, testNow.Add(-time.Hour)))

	amCfg := addrmgr.DefaultConfig()
	tests := []struct {
		ok         bool
		wantScore  int32
		wantSource addrmgr.Source
	}{
		{true, amCfg.SuccessBonus, addrmgr.SourceSelfObserved},
		{false, amCfg.SuccessBonus - amCfg.FailurePenalty,
			addrmgr.SourceSelfObserved},
	}
	for i, test := range tests {
		s.ReportDialResult(ep, test.ok)
		recs := s.Snapshot()
		if len(recs) != 1 {
			t.Fatalf("%d: unexpected records %v", i, recs)
		}
		if recs[0].Score != test.wantScore || recs[0].Source != test.wantSource {
			t.Fatalf("%d: unexpected record %v", i, recs[0])
		}
	}

	// Unknown addresses are ignored.
	s.ReportDialResult(testEndpoint(1), false)
	if got := s.KnownAddressCount(); got != 1 {
		t.Fatalf("unexpected known address count %d", got)
	}
}

// TestStaleSweep ensures the periodic sweep evicts stale addresses.
func TestStaleSweep(t *testing.T) {
	mock := newMock()
	s := newTestService(t, mock, newMemTransport(), func(cfg *Config) {
		cfg.AddrManager.MinOccupancy = 0
	})
	stale := testRecords(0, 1, testNow.Add(-DefaultStaleTTL-time.Hour))
	fresh := testRecords(1, 1, testNow)
	s.Restore(append(stale, fresh...))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, mock, DefaultStaleSweepInterval, func() bool {
		return s.KnownAddressCount() == 1
	})
	recs := s.Snapshot()
	if recs[0].Endpoint != testEndpoint(1) {
		t.Fatalf("fresh address evicted: %v", recs)
	}
	if got := s.Stats().StaleEvicted; got != 1 {
		t.Fatalf("unexpected stale eviction count %d", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
}

// TestCollector ensures the service statistics are exported as metrics.
func TestCollector(t *testing.T) {
	s := newTestService(t, newMock(), newMemTransport(), nil)
	s.Restore(testRecords(0, 3, testNow.Add(-time.Hour)))

	c := s.Collector()
	if got := testutil.CollectAndCount(c); got != 20 {
		t.Fatalf("collected %d metrics, want 20", got)
	}

	const want = `
# HELP addrgossip_known_addresses Number of addresses in the address table.
# TYPE addrgossip_known_addresses gauge
addrgossip_known_addresses 3
`
	err := testutil.CollectAndCompare(c, strings.NewReader(want),
		"addrgossip_known_addresses")
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

// TestVerdictStringer tests the stringized output for MisbehaviorVerdict.
func TestVerdictStringer(t *testing.T) {
	tests := []struct {
		in   MisbehaviorVerdict
		want string
	}{
		{MisbehaveContinue, "continue"},
		{MisbehaveDisconnect, "disconnect"},
		{0xff, "Unknown MisbehaviorVerdict (255)"},
	}
	for i, test := range tests {
		if got := test.in.String(); got != test.want {
			t.Errorf("String #%d\n got: %s want: %s", i, got, test.want)
		}
	}
}

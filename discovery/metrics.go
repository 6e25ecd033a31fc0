// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

import (
	"github.com/decred/addrgossip/peer"
	"github.com/prometheus/client_golang/prometheus"
)

// metricsNamespace prefixes every exported metric.
const metricsNamespace = "addrgossip"

// allMisbehavior lists the misbehavior kinds reported by sessions.
var allMisbehavior = []peer.Misbehavior{
	peer.MisbehaviorDuplicateGetAddr,
	peer.MisbehaviorEmptyAddr,
	peer.MisbehaviorTooManyAddrs,
	peer.MisbehaviorDecodeFailure,
	peer.MisbehaviorQuotaExceeded,
}

// counters houses the cumulative counters of a service.  It is protected by
// the stats mutex of the service.
type counters struct {
	messagesReceived uint64
	messagesDropped  uint64
	sendFailures     uint64
	addrsInserted    uint64
	addrsUpdated     uint64
	addrsFull        uint64
	addrsInvalid     uint64
	addrsOverQuota   uint64
	addrsAbandoned   uint64
	misbehavior      map[peer.Misbehavior]uint64
	disconnects      uint64
	staleEvicted     uint64
}

// newCounters returns zeroed counters.
func newCounters() counters {
	return counters{misbehavior: make(map[peer.Misbehavior]uint64)}
}

// addAddrStats accumulates the outcome of one address message.
func (c *counters) addAddrStats(stats *peer.AddrStats) {
	c.addrsInserted += uint64(stats.Inserted)
	c.addrsUpdated += uint64(stats.Updated)
	c.addrsFull += uint64(stats.RejectedFull)
	c.addrsInvalid += uint64(stats.Invalid)
	c.addrsOverQuota += uint64(stats.OverQuota)
	c.addrsAbandoned += uint64(stats.Abandoned)
}

// Stats is a point in time view of the service.
type Stats struct {
	// Sessions is the number of open sessions.
	Sessions int

	// KnownAddresses is the number of addresses in the table.
	KnownAddresses int

	// LocalAddresses is the number of registered local addresses.
	LocalAddresses int

	// InboundQueued is the number of payloads waiting to be processed
	// across all sessions.
	InboundQueued int

	// MessagesReceived and MessagesDropped count the payloads that were
	// queued and the payloads dropped because a queue was full.
	MessagesReceived uint64
	MessagesDropped  uint64

	// SendFailures counts messages the transport failed to deliver.
	SendFailures uint64

	// These count the outcome of every advertised address.
	AddrsInserted     uint64
	AddrsUpdated      uint64
	AddrsRejectedFull uint64
	AddrsInvalid      uint64
	AddrsOverQuota    uint64
	AddrsAbandoned    uint64

	// Misbehavior counts misbehavior by kind.
	Misbehavior map[peer.Misbehavior]uint64

	// MisbehaviorDisconnects counts sessions closed by the misbehavior
	// hook.
	MisbehaviorDisconnects uint64

	// StaleEvicted counts addresses removed by staleness sweeps.
	StaleEvicted uint64
}

// Stats returns the current statistics of the service.
//
// This function is safe for concurrent access.
func (s *Service) Stats() Stats {
	var stats Stats
	s.mtx.Lock()
	stats.Sessions = len(s.sessions)
	for _, h := range s.sessions {
		stats.InboundQueued += len(h.inbound)
	}
	s.mtx.Unlock()

	stats.KnownAddresses = s.table.Size()
	stats.LocalAddresses = len(s.table.LocalAddresses())

	s.statsMtx.Lock()
	c := &s.counters
	stats.MessagesReceived = c.messagesReceived
	stats.MessagesDropped = c.messagesDropped
	stats.SendFailures = c.sendFailures
	stats.AddrsInserted = c.addrsInserted
	stats.AddrsUpdated = c.addrsUpdated
	stats.AddrsRejectedFull = c.addrsFull
	stats.AddrsInvalid = c.addrsInvalid
	stats.AddrsOverQuota = c.addrsOverQuota
	stats.AddrsAbandoned = c.addrsAbandoned
	stats.Misbehavior = make(map[peer.Misbehavior]uint64, len(c.misbehavior))
	for kind, n := range c.misbehavior {
		stats.Misbehavior[kind] = n
	}
	stats.MisbehaviorDisconnects = c.disconnects
	stats.StaleEvicted = c.staleEvicted
	s.statsMtx.Unlock()

	return stats
}

// collector exports the statistics of a service as Prometheus metrics.
type collector struct {
	svc *Service

	sessions       *prometheus.Desc
	knownAddresses *prometheus.Desc
	localAddresses *prometheus.Desc
	inboundQueued  *prometheus.Desc
	messages       *prometheus.Desc
	sendFailures   *prometheus.Desc
	addrs          *prometheus.Desc
	misbehavior    *prometheus.Desc
	disconnects    *prometheus.Desc
	staleEvicted   *prometheus.Desc
}

// Collector returns a Prometheus collector for the statistics of the service.
func (s *Service) Collector() prometheus.Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		fqName := prometheus.BuildFQName(metricsNamespace, "", name)
		return prometheus.NewDesc(fqName, help, labels, nil)
	}
	return &collector{
		svc: s,
		sessions: desc("sessions",
			"Number of open discovery sessions."),
		knownAddresses: desc("known_addresses",
			"Number of addresses in the address table."),
		localAddresses: desc("local_addresses",
			"Number of registered local addresses."),
		inboundQueued: desc("inbound_queued",
			"Number of inbound messages waiting to be processed."),
		messages: desc("messages_total",
			"Inbound discovery messages by result.", "result"),
		sendFailures: desc("send_failures_total",
			"Outbound discovery messages the transport failed to deliver."),
		addrs: desc("addresses_total",
			"Advertised addresses by outcome.", "outcome"),
		misbehavior: desc("misbehavior_total",
			"Peer misbehavior by kind.", "kind"),
		disconnects: desc("misbehavior_disconnects_total",
			"Sessions closed because of misbehavior."),
		staleEvicted: desc("stale_evicted_total",
			"Addresses evicted for not being heard of within the ttl."),
	}
}

// Describe sends the descriptors of every metric to the channel.
//
// This is part of the prometheus.Collector interface.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessions
	ch <- c.knownAddresses
	ch <- c.localAddresses
	ch <- c.inboundQueued
	ch <- c.messages
	ch <- c.sendFailures
	ch <- c.addrs
	ch <- c.misbehavior
	ch <- c.disconnects
	ch <- c.staleEvicted
}

// Collect sends the current value of every metric to the channel.
//
// This is part of the prometheus.Collector interface.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.svc.Stats()

	gauge := func(desc *prometheus.Desc, v int) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue,
			float64(v))
	}
	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue,
			float64(v), labels...)
	}

	gauge(c.sessions, stats.Sessions)
	gauge(c.knownAddresses, stats.KnownAddresses)
	gauge(c.localAddresses, stats.LocalAddresses)
	gauge(c.inboundQueued, stats.InboundQueued)
	counter(c.messages, stats.MessagesReceived, "received")
	counter(c.messages, stats.MessagesDropped, "dropped")
	counter(c.sendFailures, stats.SendFailures)
	counter(c.addrs, stats.AddrsInserted, "inserted")
	counter(c.addrs, stats.AddrsUpdated, "updated")
	counter(c.addrs, stats.AddrsRejectedFull, "rejected_full")
	counter(c.addrs, stats.AddrsInvalid, "invalid")
	counter(c.addrs, stats.AddrsOverQuota, "over_quota")
	counter(c.addrs, stats.AddrsAbandoned, "abandoned")
	for _, kind := range allMisbehavior {
		counter(c.misbehavior, stats.Misbehavior[kind], kind.String())
	}
	counter(c.disconnects, stats.MisbehaviorDisconnects)
	counter(c.staleEvicted, stats.StaleEvicted)
}

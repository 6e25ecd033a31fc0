// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/rand"
)

// Outcome describes the result of inserting or updating a record.
type Outcome uint8

const (
	// Inserted indicates a new record was added to the table.
	Inserted Outcome = iota

	// Updated indicates an existing record for the endpoint was updated.
	Updated

	// RejectedFull indicates the target bucket was full and the new record
	// lost the priority contest against every record in it.
	RejectedFull

	// RejectedInvalid indicates the record was unroutable, one of our own
	// addresses, or carried an implausible timestamp.
	RejectedInvalid
)

// outcomeStrings is a map of outcomes back to their constant names for pretty
// printing.
var outcomeStrings = map[Outcome]string{
	Inserted:        "Inserted",
	Updated:         "Updated",
	RejectedFull:    "RejectedFull",
	RejectedInvalid: "RejectedInvalid",
}

// String returns the Outcome in human-readable form.
func (o Outcome) String() string {
	if s, ok := outcomeStrings[o]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Outcome (%d)", uint8(o))
}

// AddrManager provides a concurrency safe, bounded, scored table of known
// remote endpoints.
type AddrManager struct {
	// mtx is used to ensure safe concurrent access to fields on an instance
	// of the address manager.
	mtx sync.Mutex

	cfg   Config
	clock clock.Clock
	rand  RandSource

	// key is a random seed used to map addresses to buckets.
	key [32]byte

	// buckets holds the records.  Every bucket is allocated once with a
	// capacity of the configured bucket size and never grows beyond it.
	buckets [][]*knownAddress

	// index maps every canonical endpoint in the table to its record.
	index map[netip.AddrPort]*knownAddress

	// localAddresses are the endpoints this node listens on, in the order
	// they were added.
	localAddresses []netip.AddrPort
}

// New returns a new address manager for the given configuration.
func New(cfg Config) (*AddrManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &AddrManager{
		cfg:   cfg,
		clock: cfg.Clock,
		rand:  cfg.Rand,
		key:   cfg.Key,
		index: make(map[netip.AddrPort]*knownAddress),
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	if a.rand == nil {
		a.rand = cryptoRand{}
	}
	if a.key == [32]byte{} {
		rand.Read(a.key[:])
	}
	a.buckets = make([][]*knownAddress, cfg.BucketCount)
	for i := range a.buckets {
		a.buckets[i] = make([]*knownAddress, 0, cfg.BucketSize)
	}
	return a, nil
}

// Config returns the configuration the address manager was created with.
func (a *AddrManager) Config() Config {
	return a.cfg
}

// bucketKey returns the keyed hash of the endpoint that selects its bucket.
// The endpoint hash is first reduced to one of BucketsPerGroup values and then
// mixed with the network group so all addresses of one group land in a
// bounded number of buckets.
func bucketKey(key [32]byte, ep netip.AddrPort, perGroup int) uint64 {
	data1 := make([]byte, 0, len(key)+64)
	data1 = append(data1, key[:]...)
	data1 = append(data1, Key(ep)...)
	hash1 := chainhash.HashB(data1)
	hash64 := binary.LittleEndian.Uint64(hash1)
	hash64 %= uint64(perGroup)
	var hashbuf [8]byte
	binary.LittleEndian.PutUint64(hashbuf[:], hash64)
	data2 := make([]byte, 0, len(key)+64)
	data2 = append(data2, key[:]...)
	data2 = append(data2, GroupKey(ep.Addr())...)
	data2 = append(data2, hashbuf[:]...)

	hash2 := chainhash.HashB(data2)
	return binary.LittleEndian.Uint64(hash2)
}

// validate checks the endpoint and last seen time of a record.  It must be
// called with the lock held.
func (a *AddrManager) validate(ep netip.AddrPort, lastSeen, now time.Time) error {
	if !IsRoutableEndpoint(ep) {
		str := fmt.Sprintf("endpoint %v is not routable", ep)
		return makeError(ErrUnroutable, str)
	}
	if lastSeen.After(now.Add(a.cfg.MaxClockSkew)) {
		str := fmt.Sprintf("endpoint %v last seen %v is too far in the "+
			"future", ep, lastSeen)
		return makeError(ErrFutureTimestamp, str)
	}
	if a.isLocal(ep) {
		str := fmt.Sprintf("endpoint %v is a local address", ep)
		return makeError(ErrLocalAddress, str)
	}
	return nil
}

// Validate returns an error describing why the record would be rejected by
// InsertOrUpdate or nil when it is acceptable.
//
// This function is safe for concurrent access.
func (a *AddrManager) Validate(rec Record) error {
	now := a.clock.Now()
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.validate(Canonical(rec.Endpoint), rec.LastSeen, now)
}

// InsertOrUpdate adds the record to the table or merges it into the existing
// record for the same endpoint.
//
// The last seen time of an existing record only moves forward.  A
// self-observed sighting raises the score to at least the direct score plus
// the sighting bonus while a gossiped sighting leaves it unchanged.  New
// gossiped records enter with at most the gossip score, lowered further by the
// record's own score when it is below that.
//
// When the target bucket is full, the lowest priority record in it is evicted
// unless the new record has strictly lower priority, in which case
// RejectedFull is returned.
//
// This function is safe for concurrent access.
func (a *AddrManager) InsertOrUpdate(rec Record) Outcome {
	now := a.clock.Now()
	ep := Canonical(rec.Endpoint)
	if rec.LastSeen.IsZero() {
		rec.LastSeen = now
	}

	a.mtx.Lock()
	defer a.mtx.Unlock()

	if err := a.validate(ep, rec.LastSeen, now); err != nil {
		log.Tracef("Rejecting %v: %v", ep, err)
		return RejectedInvalid
	}

	if ka, ok := a.index[ep]; ok {
		a.updateLocked(ka, &rec)
		return Updated
	}

	score := a.cfg.DirectScore
	if rec.Source != SourceSelfObserved {
		rec.Source = SourceGossip
		score = min(rec.Score, a.cfg.GossipScore)
	}
	return a.insertLocked(Record{
		Endpoint: ep,
		LastSeen: rec.LastSeen,
		Score:    a.cfg.clampScore(int64(score)),
		Source:   rec.Source,
	})
}

// updateLocked merges a new sighting into an existing record.  It must be
// called with the lock held.
func (a *AddrManager) updateLocked(ka *knownAddress, rec *Record) {
	if rec.LastSeen.After(ka.rec.LastSeen) {
		ka.rec.LastSeen = rec.LastSeen
	}
	if rec.Source == SourceSelfObserved {
		score := max(ka.rec.Score, a.cfg.DirectScore)
		ka.rec.Score = a.cfg.clampScore(int64(score) +
			int64(a.cfg.SightingBonus))
		ka.rec.Source = SourceSelfObserved
	}
}

// insertLocked places a record that is not yet in the table into its bucket,
// evicting the lowest priority record when the bucket is full.  It must be
// called with the lock held.
func (a *AddrManager) insertLocked(rec Record) Outcome {
	rec.BucketKey = bucketKey(a.key, rec.Endpoint, a.cfg.BucketsPerGroup)
	bucket := int(rec.BucketKey % uint64(len(a.buckets)))
	b := a.buckets[bucket]

	ka := &knownAddress{rec: rec, bucket: bucket}
	if len(b) < cap(b) {
		ka.index = len(b)
		a.buckets[bucket] = append(b, ka)
		a.index[rec.Endpoint] = ka
		log.Tracef("Added new address %v (total %d)", rec.Endpoint,
			len(a.index))
		return Inserted
	}

	victim := a.victimLocked(bucket)
	if lowerPriority(&rec, &victim.rec, a.cfg.TieBreak) {
		log.Tracef("Bucket %d full, rejecting %v", bucket, rec.Endpoint)
		return RejectedFull
	}

	log.Debugf("Bucket %d full, evicting %v for %v", bucket,
		victim.rec.Endpoint, rec.Endpoint)
	delete(a.index, victim.rec.Endpoint)
	ka.index = victim.index
	b[victim.index] = ka
	a.index[rec.Endpoint] = ka
	return Inserted
}

// victimLocked returns the lowest priority record of a non-empty bucket.  It
// must be called with the lock held.
func (a *AddrManager) victimLocked(bucket int) *knownAddress {
	b := a.buckets[bucket]
	victim := b[0]
	ties := 1
	for _, ka := range b[1:] {
		switch {
		case lowerPriority(&ka.rec, &victim.rec, a.cfg.TieBreak):
			victim = ka
			ties = 1

		case a.cfg.TieBreak == TieBreakRandom &&
			ka.rec.Score == victim.rec.Score:
			// Reservoir selection among the tied records.
			ties++
			if a.rand.IntN(ties) == 0 {
				victim = ka
			}
		}
	}
	return victim
}

// removeLocked deletes the record from its bucket and the index.  It must be
// called with the lock held.
func (a *AddrManager) removeLocked(ka *knownAddress) {
	b := a.buckets[ka.bucket]
	last := len(b) - 1
	if ka.index != last {
		b[ka.index] = b[last]
		b[ka.index].index = ka.index
	}
	b[last] = nil
	a.buckets[ka.bucket] = b[:last]
	delete(a.index, ka.rec.Endpoint)
}

// Sample returns up to n distinct records for which filter returns true.  A
// nil filter matches every record.  A non-empty bucket is chosen uniformly
// first and then a record uniformly within it, without replacement, until n
// records are selected or every record was considered.  The returned records
// are copies.
//
// This function is safe for concurrent access.
func (a *AddrManager) Sample(n int, filter func(Record) bool) []Record {
	if n <= 0 {
		return nil
	}

	a.mtx.Lock()
	defer a.mtx.Unlock()

	candidates := make([]int, 0, len(a.buckets))
	for i, b := range a.buckets {
		if len(b) > 0 {
			candidates = append(candidates, i)
		}
	}

	// remaining holds a lazily made copy of each candidate bucket that
	// shrinks as records are drawn.
	remaining := make([][]*knownAddress, len(candidates))
	result := make([]Record, 0, min(n, len(a.index)))
	for len(result) < n && len(candidates) > 0 {
		ci := a.rand.IntN(len(candidates))
		rem := remaining[ci]
		if rem == nil {
			rem = append([]*knownAddress(nil), a.buckets[candidates[ci]]...)
		}
		ri := a.rand.IntN(len(rem))
		ka := rem[ri]
		rem[ri] = rem[len(rem)-1]
		rem = rem[:len(rem)-1]

		if len(rem) == 0 {
			last := len(candidates) - 1
			candidates[ci] = candidates[last]
			remaining[ci] = remaining[last]
			candidates = candidates[:last]
			remaining = remaining[:last]
		} else {
			remaining[ci] = rem
		}

		if filter == nil || filter(ka.rec) {
			result = append(result, ka.rec)
		}
	}
	return result
}

// MarkDialFailure penalizes the endpoint for a failed connection attempt.  A
// record whose score is already at the minimum is removed.
//
// This function is safe for concurrent access.
func (a *AddrManager) MarkDialFailure(ep netip.AddrPort) error {
	now := a.clock.Now()
	ep = Canonical(ep)

	a.mtx.Lock()
	defer a.mtx.Unlock()

	ka, ok := a.index[ep]
	if !ok {
		str := fmt.Sprintf("address %v not found", ep)
		return makeError(ErrAddressNotFound, str)
	}
	if ka.rec.Score <= a.cfg.MinScore {
		log.Debugf("Removing %v after repeated dial failures", ep)
		a.removeLocked(ka)
		return nil
	}
	ka.rec.LastAttempt = now
	ka.rec.Score = a.cfg.clampScore(int64(ka.rec.Score) -
		int64(a.cfg.FailurePenalty))
	return nil
}

// MarkDialSuccess rewards the endpoint for a successful connection attempt and
// marks it as directly observed.
//
// This function is safe for concurrent access.
func (a *AddrManager) MarkDialSuccess(ep netip.AddrPort) error {
	now := a.clock.Now()
	ep = Canonical(ep)

	a.mtx.Lock()
	defer a.mtx.Unlock()

	ka, ok := a.index[ep]
	if !ok {
		str := fmt.Sprintf("address %v not found", ep)
		return makeError(ErrAddressNotFound, str)
	}
	ka.rec.LastAttempt = now
	if now.After(ka.rec.LastSeen) {
		ka.rec.LastSeen = now
	}
	ka.rec.Score = a.cfg.clampScore(int64(ka.rec.Score) +
		int64(a.cfg.SuccessBonus))
	ka.rec.Source = SourceSelfObserved
	return nil
}

// EvictStale removes every record not seen for longer than ttl as of now and
// returns how many were removed.  A stale record that is the only one in its
// bucket is kept while the table holds no more than the configured minimum
// occupancy.
//
// This function is safe for concurrent access.
func (a *AddrManager) EvictStale(now time.Time, ttl time.Duration) int {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	var evicted int
	for i := range a.buckets {
		// Iterate backwards since removal moves the last record into the
		// freed slot.
		for j := len(a.buckets[i]) - 1; j >= 0; j-- {
			ka := a.buckets[i][j]
			if now.Sub(ka.rec.LastSeen) <= ttl {
				continue
			}
			if len(a.buckets[i]) == 1 &&
				len(a.index) <= a.cfg.MinOccupancy {
				continue
			}
			a.removeLocked(ka)
			evicted++
		}
	}
	if evicted > 0 {
		log.Debugf("Evicted %d stale addresses (%d remaining)", evicted,
			len(a.index))
	}
	return evicted
}

// Size returns the number of records in the table.
//
// This function is safe for concurrent access.
func (a *AddrManager) Size() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return len(a.index)
}

// Contains returns whether the table holds a record for the endpoint.
//
// This function is safe for concurrent access.
func (a *AddrManager) Contains(ep netip.AddrPort) bool {
	a.mtx.Lock()
	_, ok := a.index[Canonical(ep)]
	a.mtx.Unlock()
	return ok
}

// Lookup returns a copy of the record for the endpoint.
//
// This function is safe for concurrent access.
func (a *AddrManager) Lookup(ep netip.AddrPort) (Record, bool) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	ka, ok := a.index[Canonical(ep)]
	if !ok {
		return Record{}, false
	}
	return ka.rec, true
}

// NeedMoreAddresses returns whether or not the address manager needs more
// addresses.
//
// This function is safe for concurrent access.
func (a *AddrManager) NeedMoreAddresses() bool {
	return a.Size() < min(needAddressThreshold, a.cfg.Capacity())
}

// Records returns a consistent copy of every record in the table.
//
// This function is safe for concurrent access.
func (a *AddrManager) Records() []Record {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	recs := make([]Record, 0, len(a.index))
	for _, b := range a.buckets {
		for _, ka := range b {
			recs = append(recs, ka.rec)
		}
	}
	return recs
}

// Restore inserts previously saved records, preserving their scores and
// timestamps, and returns the number added.  Records for endpoints already in
// the table and records that fail validation are skipped.
//
// This function is safe for concurrent access.
func (a *AddrManager) Restore(recs []Record) int {
	now := a.clock.Now()

	a.mtx.Lock()
	defer a.mtx.Unlock()

	var added int
	for _, rec := range recs {
		rec.Endpoint = Canonical(rec.Endpoint)
		if _, ok := a.index[rec.Endpoint]; ok {
			continue
		}
		if err := a.validate(rec.Endpoint, rec.LastSeen, now); err != nil {
			log.Debugf("Skipping saved address: %v", err)
			continue
		}
		if rec.Source != SourceSelfObserved {
			rec.Source = SourceGossip
		}
		rec.Score = a.cfg.clampScore(int64(rec.Score))
		if a.insertLocked(rec) == Inserted {
			added++
		}
	}
	log.Debugf("Restored %d of %d saved addresses", added, len(recs))
	return added
}

// isLocal returns whether the canonical endpoint is a local address.  It must
// be called with the lock held.
func (a *AddrManager) isLocal(ep netip.AddrPort) bool {
	for _, local := range a.localAddresses {
		if local == ep {
			return true
		}
	}
	return false
}

// AddLocalAddress adds ep to the list of local addresses to advertise.  Any
// record for the endpoint is removed from the table since a node never stores
// itself as a remote peer.
//
// This function is safe for concurrent access.
func (a *AddrManager) AddLocalAddress(ep netip.AddrPort) error {
	ep = Canonical(ep)
	if !IsRoutableEndpoint(ep) {
		str := fmt.Sprintf("address %v is not routable", ep)
		return makeError(ErrUnroutable, str)
	}

	a.mtx.Lock()
	defer a.mtx.Unlock()

	if a.isLocal(ep) {
		return nil
	}
	a.localAddresses = append(a.localAddresses, ep)
	if ka, ok := a.index[ep]; ok {
		a.removeLocked(ka)
	}
	return nil
}

// IsLocal returns whether ep is one of the local addresses.
//
// This function is safe for concurrent access.
func (a *AddrManager) IsLocal(ep netip.AddrPort) bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.isLocal(Canonical(ep))
}

// LocalAddresses returns the local addresses in the order they were added.
//
// This function is safe for concurrent access.
func (a *AddrManager) LocalAddresses() []netip.AddrPort {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return append([]netip.AddrPort(nil), a.localAddresses...)
}

// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2019-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package connmgr

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/decred/addrgossip/addrmgr"
	"github.com/decred/dcrd/crypto/rand"
)

const (
	// These constants are used by the DNS seed code to pick a random last
	// seen time.
	seedMinAge   = 3 * 24 * time.Hour
	seedAgeRange = 4 * 24 * time.Hour
)

// OnSeed is the signature of the callback function which is invoked when DNS
// seeding is successful.
type OnSeed func(recs []addrmgr.Record)

// LookupFunc is the signature of the DNS lookup function.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// DefaultLookup resolves the host with the default resolver.
func DefaultLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// SeedFromDNS queries every DNS seed concurrently and passes the addresses
// each returns to seedFn as gossiped records.  The addresses are dated to a
// random time between three and seven days ago so they rank below addresses
// learned from peers.  It returns once every lookup completed.
func SeedFromDNS(ctx context.Context, dnsSeeds []string, defaultPort uint16,
	lookupFn LookupFunc, seedFn OnSeed) {

	var wg sync.WaitGroup
	for _, seed := range dnsSeeds {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()

			addrs, err := lookupFn(ctx, host)
			if err != nil {
				log.Infof("DNS discovery failed on seed %s: %v", host, err)
				return
			}
			log.Infof("%d addresses found from DNS seed %s", len(addrs),
				host)
			if len(addrs) == 0 {
				return
			}

			now := time.Now()
			recs := make([]addrmgr.Record, 0, len(addrs))
			for _, addr := range addrs {
				age := seedMinAge + rand.Duration(seedAgeRange)
				recs = append(recs, addrmgr.Record{
					Endpoint: netip.AddrPortFrom(addr, defaultPort),
					LastSeen: now.Add(-age),
					Source:   addrmgr.SourceGossip,
				})
			}
			seedFn(recs)
		}(seed)
	}
	wg.Wait()
}

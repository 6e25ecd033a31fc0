// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"runtime"
	"time"

	"github.com/decred/addrgossip/addrmgr"
	"github.com/decred/addrgossip/addrstore"
	"github.com/decred/addrgossip/connmgr"
	"github.com/decred/addrgossip/discovery"
	"github.com/decred/addrgossip/peer"
	flags "github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"
)

const appName = "addrgossipd"

// seedCheckInterval is the interval at which the address table is checked for
// whether the DNS seeds need to be queried.
const seedCheckInterval = 5 * time.Minute

// snapshotHandler saves the address table to the store every interval until
// the context is done.
func snapshotHandler(ctx context.Context, store *addrstore.Store,
	svc *discovery.Service, interval time.Duration) error {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			recs := svc.Snapshot()
			if err := store.Save(recs); err != nil {
				storLog.Errorf("Unable to save address table: %v", err)
				continue
			}
			storLog.Debugf("Saved %d addresses", len(recs))

		case <-ctx.Done():
			return nil
		}
	}
}

// seedHandler queries the DNS seeds whenever the address table needs more
// addresses until the context is done.  Lookups go through the proxy when one
// is configured.
func seedHandler(ctx context.Context, cfg *config, svc *discovery.Service) error {
	lookup := connmgr.DefaultLookup
	if cfg.proxy != nil {
		proxyAddr := cfg.proxy.Addr
		lookup = func(ctx context.Context, host string) ([]netip.Addr, error) {
			return connmgr.TorLookupIP(ctx, host, proxyAddr)
		}
	}
	onSeed := func(recs []addrmgr.Record) {
		n := svc.Restore(recs)
		gospLog.Infof("Added %d addresses from DNS seeds", n)
	}

	ticker := time.NewTicker(seedCheckInterval)
	defer ticker.Stop()
	for {
		if svc.NeedMoreAddresses() {
			connmgr.SeedFromDNS(ctx, cfg.DNSSeeds, cfg.listenPortOrDefault(),
				lookup, onSeed)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// listenPortOrDefault returns the configured listen port or the default port
// of the network when not listening.
func (cfg *config) listenPortOrDefault() uint16 {
	if cfg.listenPort != 0 {
		return cfg.listenPort
	}
	return defaultPort
}

// gossipMain is the real main function for addrgossipd.  It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func gossipMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	cfg, _, err := loadConfig(appName, os.Args[1:])
	if err != nil {
		// Errors from parsing the options were already displayed.
		var errSU errSuppressUsage
		var flagsErr *flags.Error
		if !errors.As(err, &errSU) && !errors.As(err, &flagsErr) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintf(os.Stderr, "Use %s -h to show usage\n", appName)
		}
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Get a context that will be canceled when a shutdown signal has been
	// triggered from an OS signal such as SIGINT (Ctrl+C).
	ctx := shutdownListener()
	defer gospLog.Info("Shutdown complete")

	// Show version and home dir at startup.
	gospLog.Infof("Version %s (Go version %s %s/%s)", version(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	gospLog.Infof("Home dir: %s", cfg.AppDataDir)
	if cfg.NoFileLogging {
		gospLog.Info("File logging disabled")
	}

	// Return now if an interrupt signal was triggered.
	if shutdownRequested(ctx) {
		return nil
	}

	// Bind the listeners.
	var listeners []net.Listener
	for _, addr := range cfg.Listeners {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return fmt.Errorf("unable to listen on %s: %w", addr, err)
		}
		listeners = append(listeners, l)
	}

	cmgrCfg := connmgr.Config{
		Listeners:      listeners,
		TargetOutbound: uint32(cfg.TargetOutbound),
		MaxConns:       uint32(cfg.MaxPeers),
		Permanent:      cfg.connectPeers,
		Timeout:        cfg.DialTimeout,
		InboundPort:    cfg.listenPort,
	}
	if cfg.proxy != nil {
		cmgrCfg.Proxy = cfg.proxy
	} else {
		dialer := net.Dialer{Timeout: cfg.DialTimeout}
		cmgrCfg.Dial = dialer.DialContext
	}
	cmgr, err := connmgr.New(&cmgrCfg)
	if err != nil {
		for _, l := range listeners {
			l.Close()
		}
		return err
	}

	// Create the discovery service.  Misbehaving peers are disconnected
	// according to the configured policy.
	registry := newMetricsRegistry()
	dcfg := cfg.discoveryConfig()
	dcfg.Registerer = registry
	dcfg.OnMisbehavior = func(id peer.ConnID, kind peer.Misbehavior) discovery.MisbehaviorVerdict {
		if cfg.NoMisbehaviorDisconnect {
			return discovery.MisbehaveContinue
		}
		verdict := misbehaviorVerdict(kind)
		if verdict == discovery.MisbehaveDisconnect {
			cmgr.Disconnect(id)
		}
		return verdict
	}
	svc, err := discovery.New(&dcfg, cmgr)
	if err != nil {
		return err
	}
	for _, ep := range cfg.externalIPs {
		if err := svc.AddLocalAddress(ep); err != nil {
			gospLog.Warnf("Unable to add external address %v: %v", ep, err)
		}
	}

	// Load the saved address table.
	var store *addrstore.Store
	if !cfg.NoSnapshot {
		store, err = addrstore.Open(cfg.dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		recs, err := store.Load()
		if err != nil {
			return err
		}
		n := svc.Restore(recs)
		storLog.Infof("Loaded %d of %d saved addresses", n, len(recs))
	}

	var metrics *metricsServer
	if cfg.MetricsListen != "" {
		metrics, err = newMetricsServer(cfg.MetricsListen, registry)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return cmgr.Run(gctx, svc) })
	if metrics != nil {
		g.Go(func() error { return metrics.Run(gctx) })
	}
	if store != nil {
		g.Go(func() error {
			return snapshotHandler(gctx, store, svc, cfg.SnapshotInterval)
		})
	}
	if len(cfg.DNSSeeds) > 0 && len(cfg.connectPeers) == 0 {
		g.Go(func() error { return seedHandler(gctx, cfg, svc) })
	}
	err = g.Wait()

	// Save the final state of the address table.
	if store != nil {
		recs := svc.Snapshot()
		if saveErr := store.Save(recs); saveErr != nil {
			storLog.Errorf("Unable to save address table: %v", saveErr)
		} else {
			storLog.Infof("Saved %d addresses", len(recs))
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		gospLog.Errorf("%v", err)
		return err
	}
	return nil
}

func main() {
	// Work around defer not working after os.Exit()
	if err := gossipMain(); err != nil {
		os.Exit(1)
	}
}

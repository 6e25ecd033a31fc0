// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// portToLocalHostAddr prepends a default host of 127.0.0.1 when the provided
// address is solely a port number.
func portToLocalHostAddr(addr string) string {
	if _, err := strconv.Atoi(addr); err == nil {
		addr = net.JoinHostPort("127.0.0.1", addr)
	}
	return addr
}

// newMetricsRegistry returns a registry with the Go runtime and process
// collectors registered.
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(
		collectors.ProcessCollectorOpts{}))
	return reg
}

// metricsServer serves the metrics gathered by a registry over HTTP.
type metricsServer struct {
	listener net.Listener
	server   *http.Server
}

// newMetricsServer binds a listener to the provided address for serving the
// metrics of the registry at /metrics.
func newMetricsServer(listenAddr string, reg *prometheus.Registry) (*metricsServer, error) {
	listenAddr = portToLocalHostAddr(listenAddr)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("unable to listen on %s: %w", listenAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog: promErrorLog{},
	}))
	return &metricsServer{
		listener: listener,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: time.Second * 3,
		},
	}, nil
}

// Addr returns the address the server is listening on.
func (s *metricsServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Run serves requests until the context is done.
func (s *metricsServer) Run(ctx context.Context) error {
	gospLog.Infof("Metrics server listening on %s", s.listener.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- s.server.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Second*5)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
		<-errc
		return nil

	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// promErrorLog routes metric handler errors to the daemon logger.
type promErrorLog struct{}

// Println logs the error.  This is part of the promhttp.Logger interface.
func (promErrorLog) Println(v ...interface{}) {
	gospLog.Errorf("Metrics handler: %s", fmt.Sprint(v...))
}

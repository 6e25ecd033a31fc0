// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package discovery coordinates address discovery for a node.

A Service owns the address table of the node and one discovery session per
connection.  The embedding connection layer reports connections, disconnections
and received payloads, and provides a Transport to send encoded messages.  In
return the service offers addresses to dial and accepts the results of dialing
them.

Each session runs on its own goroutine and processes its payloads in arrival
order from a bounded queue.  A shared ticker asks every session whether an
announcement is due and a periodic sweep evicts addresses that were not heard
of within the configured ttl.

Statistics are available through Stats and are exported as Prometheus metrics
by the collector returned from Collector.
*/
package discovery

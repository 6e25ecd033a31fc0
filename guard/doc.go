// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package guard provides per-peer quotas on discovery traffic.

A Guard tracks two independent counters per fixed window: the number of
discovery messages and the number of addresses a peer has sent.  Messages and
addresses beyond the quotas are meant to be dropped silently by the caller.
Disconnecting abusive peers is left to the connection manager.

The window only rolls over when a message is admitted, so counters observed
while a message is processed never change underneath the caller.
*/
package guard

// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package addrmgr implements a concurrency-safe, bounded table of known peer
addresses.

# Address Manager Overview

A peer-to-peer network is dynamic since nodes connect and disconnect as they
please.  Each node must manage a source of endpoints to connect to and share
with other nodes.  Addresses are exchanged with gossip messages, allowing
peers to request and share known addresses with each other.  However, it is
important to remember that remote peers cannot be trusted.  A remote peer might
send invalid addresses, or worse, only send addresses they control with
malicious intent.

With that in mind, this package provides an address manager whose capacity is
structural rather than a matter of policy.  The table is made of a fixed number
of buckets, each holding a bounded number of records, allocated once when the
manager is created.  The bucket of an endpoint is selected by a keyed hash of
the endpoint and its network group so the addresses of a single network group
can only ever occupy a bounded number of buckets.  This drastically reduces the
chances of an attacker flooding the table with addresses they control.

Every record carries a score.  Endpoints observed directly start with a higher
score than endpoints learned by gossip, successful dials raise the score, and
failed dials lower it until the record is removed.  When a bucket is full, the
lowest scored record is evicted unless the new record has even lower priority,
so already trusted peers cannot be displaced by a flood of gossiped addresses.
Gossiped addresses are kept with a low score instead of being discarded, which
is referred to as quarantine.

The address manager also understands routability and refuses to store
addresses that are not reachable over the public internet or that claim to have
been seen implausibly far in the future.

# Sampling

Sample draws records uniformly among the non-empty buckets first and then
uniformly within the chosen bucket, without replacement, optionally restricted
by a caller provided predicate.  This keeps gossip from always advertising the
same popular addresses.

# Errors

Errors returned by this package are of type addrmgr.Error and support
errors.Is and errors.As against the ErrorKind constants.
*/
package addrmgr

// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package addrstore persists snapshots of the address table in a leveldb
database.

A snapshot replaces the previous one atomically.  Each record is stored under
its own key so a record that can no longer be decoded is skipped on load
instead of invalidating the whole snapshot.
*/
package addrstore

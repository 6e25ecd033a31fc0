// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrstore

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/decred/addrgossip/addrmgr"
)

// testRecords returns records covering both sources and zero attempt times.
func testRecords() []addrmgr.Record {
	seen := time.Unix(1700000000, 0)
	return []addrmgr.Record{{
		Endpoint: netip.MustParseAddrPort("20.0.0.1:9108"),
		LastSeen: seen,
		Score:    -3,
		Source:   addrmgr.SourceGossip,
	}, {
		Endpoint:    netip.MustParseAddrPort("21.0.0.1:9108"),
		LastSeen:    seen.Add(time.Hour),
		LastAttempt: seen.Add(2 * time.Hour),
		Score:       15,
		Source:      addrmgr.SourceSelfObserved,
	}, {
		Endpoint: netip.MustParseAddrPort("[2a01:4f8::1]:9108"),
		LastSeen: seen.Add(-time.Hour),
		Source:   addrmgr.SourceGossip,
	}}
}

// sameRecords returns whether the two sets hold the same persisted fields
// regardless of order.
func sameRecords(a, b []addrmgr.Record) bool {
	if len(a) != len(b) {
		return false
	}
	byEndpoint := make(map[netip.AddrPort]addrmgr.Record, len(a))
	for _, rec := range a {
		byEndpoint[rec.Endpoint] = rec
	}
	for _, rec := range b {
		want, ok := byEndpoint[rec.Endpoint]
		if !ok {
			return false
		}
		if !want.LastSeen.Equal(rec.LastSeen) ||
			!want.LastAttempt.Equal(rec.LastAttempt) ||
			want.Score != rec.Score || want.Source != rec.Source {
			return false
		}
	}
	return true
}

// TestSaveLoad ensures snapshots survive reopening the store and that a new
// snapshot replaces the previous one.
func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	recs, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("new store has %d records", len(recs))
	}

	want := testRecords()
	if err := s.Save(want); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("unexpected reopen error: %v", err)
	}
	defer s.Close()
	got, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if !sameRecords(got, want) {
		t.Fatalf("mismatched records -- got %v, want %v", got, want)
	}

	// Replace the snapshot with a subset.
	if err := s.Save(want[1:2]); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	got, err = s.Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if !sameRecords(got, want[1:2]) {
		t.Fatalf("mismatched records -- got %v, want %v", got, want[1:2])
	}

	// An empty snapshot clears the store.
	if err := s.Save(nil); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	got, err = s.Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("cleared store has %d records", len(got))
	}
}

// TestLoadSkipsMalformed ensures records that can not be decoded are skipped
// without failing the load.
func TestLoadSkipsMalformed(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer s.Close()

	if err := s.Save(testRecords()[:1]); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	bad := map[string]string{
		"garbage":      "{not json",
		"bad endpoint": `{"Addr":"nonsense","LastSeen":1700000000}`,
	}
	for key, value := range bad {
		if err := s.db.Put(recordKey(key), []byte(value), nil); err != nil {
			t.Fatalf("unexpected put error: %v", err)
		}
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if !sameRecords(got, testRecords()[:1]) {
		t.Fatalf("mismatched records -- got %v", got)
	}
}

// TestVersion ensures stores with an unsupported version are refused.
func TestVersion(t *testing.T) {
	tests := []struct {
		name    string
		version []byte
		wantErr error
	}{{
		name:    "current version",
		version: []byte{0, 0, 0, currentVersion},
		wantErr: nil,
	}, {
		name:    "newer version",
		version: []byte{0, 0, 0, currentVersion + 1},
		wantErr: ErrStoreVersion,
	}, {
		name:    "malformed version",
		version: []byte{1},
		wantErr: ErrStoreVersion,
	}}

	for _, test := range tests {
		dir := t.TempDir()
		s, err := Open(dir)
		if err != nil {
			t.Fatalf("%q: unexpected open error: %v", test.name, err)
		}
		if err := s.db.Put(versionKey, test.version, nil); err != nil {
			t.Fatalf("%q: unexpected put error: %v", test.name, err)
		}
		s.Close()

		s, err = Open(dir)
		if !errors.Is(err, test.wantErr) {
			t.Fatalf("%q: mismatched error -- got %v, want %v", test.name,
				err, test.wantErr)
		}
		if err == nil {
			s.Close()
		}
	}
}

// TestClosedStore ensures use after close reports ErrStoreClosed.
func TestClosedStore(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	if err := s.Save(testRecords()); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("mismatched save error -- got %v, want %v", err,
			ErrStoreClosed)
	}
	if _, err := s.Load(); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("mismatched load error -- got %v, want %v", err,
			ErrStoreClosed)
	}
}

// TestRestoreIntoTable ensures loaded records restore into an address table.
func TestRestoreIntoTable(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer s.Close()

	recs := testRecords()
	if err := s.Save(recs); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	am, err := addrmgr.New(addrmgr.DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected table error: %v", err)
	}
	// Loaded timestamps are far in the past relative to the wall clock but
	// still valid since only future timestamps are rejected.
	if n := am.Restore(loaded); n != len(recs) {
		t.Fatalf("restored %d records, want %d", n, len(recs))
	}
	for _, rec := range recs {
		got, ok := am.Lookup(rec.Endpoint)
		if !ok {
			t.Fatalf("missing restored record %v", rec.Endpoint)
		}
		if got.Score != rec.Score || got.Source != rec.Source {
			t.Fatalf("mismatched restored record -- got %v, want %v", got,
				rec)
		}
	}
}

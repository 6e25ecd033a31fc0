// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/decred/addrgossip/addrmgr"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	// dbName is the name of the database directory within the data
	// directory.
	dbName = "addrdb"

	// currentVersion is the version of the stored snapshot format.
	currentVersion = 1
)

var (
	// versionKey is the key of the snapshot format version.
	versionKey = []byte("version")

	// recordPrefix prefixes the key of every stored record.  The remainder
	// of the key is the endpoint key of the record.
	recordPrefix = []byte("addr:")
)

// serializedRecord is the stored form of an address record.  The bucket key
// is not stored since it depends on the secret key of the table it is loaded
// into.
type serializedRecord struct {
	Addr        string
	LastSeen    int64
	LastAttempt int64
	Score       int32
	Source      uint8
}

// Store is a leveldb backed store of address table snapshots.
type Store struct {
	db   *leveldb.DB
	path string
}

// convertLdbErr converts the passed leveldb error into an Error with the
// corresponding kind.
func convertLdbErr(ldbErr error, desc string) Error {
	kind := ErrStore
	switch {
	case ldberrors.IsCorrupted(ldbErr):
		kind = ErrStoreCorruption
	case errors.Is(ldbErr, leveldb.ErrClosed):
		kind = ErrStoreClosed
	case errors.Is(ldbErr, leveldb.ErrSnapshotReleased),
		errors.Is(ldbErr, leveldb.ErrIterReleased):
		kind = ErrStoreClosed
	}

	desc = fmt.Sprintf("%s: %v", desc, ldbErr)
	return Error{Err: kind, Description: desc}
}

// recordKey returns the database key for the endpoint.
func recordKey(key string) []byte {
	k := make([]byte, 0, len(recordPrefix)+len(key))
	k = append(k, recordPrefix...)
	return append(k, key...)
}

// unixOrZero returns the unix time of t, or zero when t is the zero time.
func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// timeOrZero is the inverse of unixOrZero.
func timeOrZero(secs int64) time.Time {
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// Open opens the address store in the given data directory, creating it when
// it does not exist.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, dbName)
	_, err := os.Stat(dbPath)
	dbExists := err == nil
	if !dbExists {
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			str := fmt.Sprintf("failed to create data directory %s: %v",
				dataDir, err)
			return nil, makeError(ErrStore, str)
		}
		log.Infof("Creating address store in %s", dbPath)
	}

	opts := opt.Options{
		ErrorIfExist: !dbExists,
		Strict:       opt.DefaultStrict,
		Compression:  opt.NoCompression,
		Filter:       filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(dbPath, &opts)
	if err != nil {
		return nil, convertLdbErr(err, "failed to open address store")
	}

	s := &Store{db: db, path: dbPath}
	if err := s.checkVersion(dbExists); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// checkVersion ensures the stored format version is supported, writing the
// current version to a newly created store.
func (s *Store) checkVersion(existed bool) error {
	v, err := s.db.Get(versionKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) && !existed {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], currentVersion)
		if err := s.db.Put(versionKey, b[:], nil); err != nil {
			return convertLdbErr(err, "failed to write store version")
		}
		return nil
	}
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return convertLdbErr(err, "failed to read store version")
	}
	if len(v) != 4 {
		str := fmt.Sprintf("address store %s has a malformed version",
			s.path)
		return makeError(ErrStoreVersion, str)
	}
	if version := binary.BigEndian.Uint32(v); version != currentVersion {
		str := fmt.Sprintf("address store %s has unsupported version %d",
			s.path, version)
		return makeError(ErrStoreVersion, str)
	}
	return nil
}

// Save atomically replaces the stored snapshot with the given records.
func (s *Store) Save(recs []addrmgr.Record) error {
	tx, err := s.db.OpenTransaction()
	if err != nil {
		return convertLdbErr(err, "failed to open transaction")
	}

	iter := tx.NewIterator(util.BytesPrefix(recordPrefix), nil)
	for iter.Next() {
		if err := tx.Delete(iter.Key(), nil); err != nil {
			iter.Release()
			tx.Discard()
			return convertLdbErr(err, "failed to remove saved address")
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		tx.Discard()
		return convertLdbErr(err, "failed to iterate saved addresses")
	}

	for i := range recs {
		rec := &recs[i]
		key := addrmgr.Key(rec.Endpoint)
		value, err := json.Marshal(serializedRecord{
			Addr:        key,
			LastSeen:    unixOrZero(rec.LastSeen),
			LastAttempt: unixOrZero(rec.LastAttempt),
			Score:       rec.Score,
			Source:      uint8(rec.Source),
		})
		if err != nil {
			tx.Discard()
			str := fmt.Sprintf("failed to encode address %s: %v", key, err)
			return makeError(ErrStore, str)
		}
		if err := tx.Put(recordKey(key), value, nil); err != nil {
			tx.Discard()
			return convertLdbErr(err, "failed to save address")
		}
	}

	if err := tx.Commit(); err != nil {
		tx.Discard()
		return convertLdbErr(err, "failed to commit address snapshot")
	}
	log.Debugf("Saved %d addresses to %s", len(recs), s.path)
	return nil
}

// Load returns the records of the stored snapshot.  Records that can not be
// decoded are skipped.
func (s *Store) Load() ([]addrmgr.Record, error) {
	iter := s.db.NewIterator(util.BytesPrefix(recordPrefix), nil)
	defer iter.Release()

	var recs []addrmgr.Record
	var skipped int
	for iter.Next() {
		var sr serializedRecord
		if err := json.Unmarshal(iter.Value(), &sr); err != nil {
			log.Debugf("Skipping undecodable address %q: %v", iter.Key(),
				err)
			skipped++
			continue
		}
		ep, err := addrmgr.ParseEndpoint(sr.Addr)
		if err != nil {
			log.Debugf("Skipping saved address: %v", err)
			skipped++
			continue
		}
		recs = append(recs, addrmgr.Record{
			Endpoint:    ep,
			LastSeen:    timeOrZero(sr.LastSeen),
			LastAttempt: timeOrZero(sr.LastAttempt),
			Score:       sr.Score,
			Source:      addrmgr.Source(sr.Source),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, convertLdbErr(err, "failed to load saved addresses")
	}
	if skipped > 0 {
		log.Warnf("Skipped %d malformed saved addresses", skipped)
	}
	return recs, nil
}

// Close closes the store.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return convertLdbErr(err, "failed to close address store")
	}
	return nil
}

// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blob is the badger store for archived tasks and slash records
package blob

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blinklabs-io/attest/database/types"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultBlockCacheSize   uint64 = 64 << 20
	DefaultIndexCacheSize   uint64 = 16 << 20
	DefaultValueLogFileSize uint64 = 256 << 20
	DefaultMemTableSize     uint64 = 32 << 20
	DefaultValueThreshold   uint64 = 1 << 10
	DefaultGcInterval              = 5 * time.Minute
)

// badgerTxn wraps a badger transaction and implements types.Txn
type badgerTxn struct {
	store    *Store
	tx       *badger.Txn
	finished bool
}

func (t *badgerTxn) Commit() error {
	if t.finished {
		return nil
	}
	if err := t.tx.Commit(); err != nil {
		return err
	}
	t.finished = true
	return nil
}

func (t *badgerTxn) Rollback() error {
	if t.finished {
		return nil
	}
	t.tx.Discard()
	t.finished = true
	return nil
}

type badgerIterator struct {
	iter *badger.Iterator
}

func (it *badgerIterator) Rewind()            { it.iter.Rewind() }
func (it *badgerIterator) Seek(prefix []byte) { it.iter.Seek(prefix) }
func (it *badgerIterator) Valid() bool        { return it.iter.Valid() }
func (it *badgerIterator) ValidForPrefix(p []byte) bool {
	return it.iter.ValidForPrefix(p)
}
func (it *badgerIterator) Next()                { it.iter.Next() }
func (it *badgerIterator) Item() types.BlobItem { return &badgerItem{item: it.iter.Item()} }
func (it *badgerIterator) Close()               { it.iter.Close() }
func (it *badgerIterator) Err() error           { return nil }

type badgerItem struct {
	item *badger.Item
}

func (i *badgerItem) Key() []byte {
	return i.item.KeyCopy(nil)
}

func (i *badgerItem) ValueCopy(dst []byte) ([]byte, error) {
	return i.item.ValueCopy(dst)
}

type errorIterator struct {
	err error
}

func (it *errorIterator) Rewind()                      {}
func (it *errorIterator) Seek(prefix []byte)           {}
func (it *errorIterator) Valid() bool                  { return false }
func (it *errorIterator) ValidForPrefix(p []byte) bool { return false }
func (it *errorIterator) Next()                        {}
func (it *errorIterator) Item() types.BlobItem         { return nil }
func (it *errorIterator) Close()                       {}
func (it *errorIterator) Err() error                   { return it.err }

// Store keeps archive blobs in badger. Data is kept in memory when no data
// directory is configured
type Store struct {
	promRegistry     prometheus.Registerer
	db               *badger.DB
	logger           *slog.Logger
	gcTicker         *time.Ticker
	gcStopCh         chan struct{}
	dataDir          string
	gcWg             sync.WaitGroup
	gcInterval       time.Duration
	blockCacheSize   uint64
	indexCacheSize   uint64
	valueLogFileSize uint64
	memTableSize     uint64
	valueThreshold   uint64
	gcEnabled        bool
}

// New opens the blob store
func New(opts ...StoreOptionFunc) (*Store, error) {
	s := &Store{
		gcEnabled:        true,
		gcInterval:       DefaultGcInterval,
		blockCacheSize:   DefaultBlockCacheSize,
		indexCacheSize:   DefaultIndexCacheSize,
		valueLogFileSize: DefaultValueLogFileSize,
		memTableSize:     DefaultMemTableSize,
		valueThreshold:   DefaultValueThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var badgerOpts badger.Options
	if s.dataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
		// Nothing to reclaim from an in-memory value log
		s.gcEnabled = false
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(s.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(s.dataDir, "blob")).
			WithBlockCacheSize(int64(s.blockCacheSize)).     //nolint:gosec // configured cache sizes are small
			WithIndexCacheSize(int64(s.indexCacheSize)).     //nolint:gosec // configured cache sizes are small
			WithValueLogFileSize(int64(s.valueLogFileSize)). //nolint:gosec // configured file sizes are small
			WithMemTableSize(int64(s.memTableSize)).         //nolint:gosec // configured table sizes are small
			WithCompression(options.Snappy)
	}
	badgerOpts = badgerOpts.
		WithLogger(NewBadgerLogger(s.logger)).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING).
		WithValueThreshold(int64(s.valueThreshold)) //nolint:gosec // threshold is small
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	s.db = db
	if s.promRegistry != nil {
		s.registerMetrics()
	}
	if s.gcEnabled {
		s.gcTicker = time.NewTicker(s.gcInterval)
		s.gcStopCh = make(chan struct{})
		s.gcWg.Add(1)
		go s.blobGc(s.gcTicker, s.gcStopCh)
	}
	return s, nil
}

func (s *Store) blobGc(t *time.Ticker, stop <-chan struct{}) {
	defer s.gcWg.Done()
	for {
		select {
		case <-t.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if err == nil {
					// Run it again if it just ran successfully
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					s.logger.Warn(
						fmt.Sprintf("blob DB: GC failure: %s", err),
						"component", "database",
					)
				}
				break
			}
		case <-stop:
			return
		}
	}
}

// Close stops the GC loop and closes the database handle
func (s *Store) Close() error {
	if s.gcTicker != nil {
		s.gcTicker.Stop()
		close(s.gcStopCh)
		s.gcWg.Wait()
		s.gcTicker = nil
	}
	return s.db.Close()
}

// DB returns the database handle
func (s *Store) DB() *badger.DB {
	return s.db
}

// NewTransaction creates a new badger transaction
func (s *Store) NewTransaction(update bool) types.Txn {
	return &badgerTxn{store: s, tx: s.db.NewTransaction(update)}
}

func (s *Store) validateTxn(txn types.Txn) (*badgerTxn, error) {
	if txn == nil {
		return nil, types.ErrNilTxn
	}
	bTxn, ok := txn.(*badgerTxn)
	if !ok {
		return nil, types.ErrTxnWrongType
	}
	if bTxn.store != s {
		return nil, errors.New("transaction from different store")
	}
	if bTxn.finished {
		return nil, types.ErrTxnFinished
	}
	return bTxn, nil
}

// Get retrieves a value within a transaction
func (s *Store) Get(txn types.Txn, key []byte) ([]byte, error) {
	bTxn, err := s.validateTxn(txn)
	if err != nil {
		return nil, err
	}
	item, err := bTxn.tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, types.ErrBlobKeyNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Set stores a key-value pair within a transaction
func (s *Store) Set(txn types.Txn, key, val []byte) error {
	bTxn, err := s.validateTxn(txn)
	if err != nil {
		return err
	}
	return bTxn.tx.Set(key, val)
}

// Delete removes a key within a transaction
func (s *Store) Delete(txn types.Txn, key []byte) error {
	bTxn, err := s.validateTxn(txn)
	if err != nil {
		return err
	}
	return bTxn.tx.Delete(key)
}

// NewIterator creates an iterator within a transaction
func (s *Store) NewIterator(
	txn types.Txn,
	opts types.BlobIteratorOptions,
) types.BlobIterator {
	bTxn, err := s.validateTxn(txn)
	if err != nil {
		return &errorIterator{err: err}
	}
	return &badgerIterator{
		iter: bTxn.tx.NewIterator(badger.IteratorOptions{
			Prefix:         opts.Prefix,
			Reverse:        opts.Reverse,
			PrefetchValues: true,
			PrefetchSize:   100,
		}),
	}
}

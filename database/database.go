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

// Package database persists committee state. Live state goes to a sqlite
// metadata store; finished tasks and closed slash records are archived in a
// badger blob store
package database

import (
	"errors"
	"io"
	"log/slog"

	"github.com/blinklabs-io/attest/database/blob"
	"github.com/blinklabs-io/attest/database/metadata"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// DataDir is the storage directory. Both stores run in memory when empty
	DataDir        string
	BlobCacheSize  uint64
	BlobGcDisabled bool
}

type Database struct {
	logger   *slog.Logger
	blob     *blob.Store
	metadata *metadata.Store
	dataDir  string
}

// Blob returns the underling blob store instance
func (d *Database) Blob() *blob.Store {
	return d.blob
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Metadata returns the underlying metadata store instance
func (d *Database) Metadata() *metadata.Store {
	return d.metadata
}

// Transaction starts a new database transaction and returns a handle to it
func (d *Database) Transaction(readWrite bool) *Txn {
	return NewTxn(d, readWrite)
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	if d.metadata != nil {
		err = errors.Join(err, d.metadata.Close())
	}
	if d.blob != nil {
		err = errors.Join(err, d.blob.Close())
	}
	return err
}

func (d *Database) init() error {
	// Check commit timestamp
	if err := d.checkCommitTimestamp(); err != nil {
		return err
	}
	return nil
}

// New creates a new database instance with optional persistence using the provided data directory
func New(cfg *Config) (*Database, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	metadataDb, err := metadata.New(cfg.DataDir, logger)
	if err != nil {
		if metadataDb != nil {
			_ = metadataDb.Close()
		}
		return nil, err
	}
	blobOpts := []blob.StoreOptionFunc{
		blob.WithLogger(logger),
		blob.WithDataDir(cfg.DataDir),
		blob.WithPromRegistry(cfg.PromRegistry),
	}
	if cfg.BlobCacheSize > 0 {
		blobOpts = append(blobOpts, blob.WithBlockCacheSize(cfg.BlobCacheSize))
	}
	if cfg.BlobGcDisabled {
		blobOpts = append(blobOpts, blob.WithGc(false))
	}
	blobDb, err := blob.New(blobOpts...)
	if err != nil {
		_ = metadataDb.Close()
		return nil, err
	}
	db := &Database{
		logger:   logger,
		blob:     blobDb,
		metadata: metadataDb,
		dataDir:  cfg.DataDir,
	}
	if err := db.init(); err != nil {
		// Database is available for recovery, so return it with error
		return db, err
	}
	return db, nil
}

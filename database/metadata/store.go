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

// Package metadata is the sqlite store for the live committee state
package metadata

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/attest/database/models"
	"github.com/blinklabs-io/attest/database/types"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

var memoryDbCounter atomic.Uint64

// Store is a SQLite-based metadata store holding members, accounts, open
// tasks and pending slashes
type Store struct {
	db          *gorm.DB
	logger      *slog.Logger
	timerVacuum *time.Timer
	timerMutex  sync.Mutex
	dataDir     string
	closed      bool
	vacuumWG    sync.WaitGroup
}

// New creates a SQLite metadata store. Uses in-memory database if dataDir is empty.
func New(dataDir string, logger *slog.Logger) (*Store, error) {
	var dsn string
	if dataDir == "" {
		// Every in-memory store gets its own named database. cache=shared lets
		// the pool's connections see the same data
		dsn = fmt.Sprintf(
			"file:attest-%d?mode=memory&cache=shared",
			memoryDbCounter.Add(1),
		)
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		metadataDbPath := filepath.Join(dataDir, "metadata.sqlite")
		// WAL journal mode, increase cache size to 50MB (from 2MB)
		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=cache_size(-50000)&_pragma=foreign_keys(1)",
			metadataDbPath,
		)
	}
	metadataDb, err := gorm.Open(
		sqlite.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, err
	}
	d := &Store{
		db:      metadataDb,
		dataDir: dataDir,
		logger:  logger,
	}
	if err := d.init(); err != nil {
		// Store is available for recovery, so return it with error
		return d, err
	}
	// Create table schemas
	if err := d.db.AutoMigrate(&CommitTimestamp{}); err != nil {
		return d, err
	}
	for _, model := range models.MigrateModels {
		d.logger.Debug(fmt.Sprintf("creating table: %#v", model))
		if err := d.db.AutoMigrate(model); err != nil {
			return d, err
		}
	}
	return d, nil
}

func (d *Store) init() error {
	if d.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	// Configure tracing for GORM
	if err := d.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	d.scheduleDailyVacuum()
	return nil
}

func (d *Store) runVacuum() error {
	d.timerMutex.Lock()
	if d.dataDir == "" || d.closed {
		d.timerMutex.Unlock()
		return nil
	}
	// Track this vacuum operation while we know the store is open
	d.vacuumWG.Add(1)
	d.timerMutex.Unlock()
	defer d.vacuumWG.Done()
	return d.db.Exec("VACUUM").Error
}

// scheduleDailyVacuum schedules a daily vacuum operation
func (d *Store) scheduleDailyVacuum() {
	d.timerMutex.Lock()
	defer d.timerMutex.Unlock()
	if d.closed {
		return
	}
	if d.timerVacuum != nil {
		d.timerVacuum.Stop()
	}
	f := func() {
		d.logger.Debug(
			"running vacuum on sqlite metadata database",
			"component", "database",
		)
		// schedule next run
		defer d.scheduleDailyVacuum()
		if err := d.runVacuum(); err != nil {
			d.logger.Error(
				"failed to free unused space in metadata store",
				"component", "database",
				"error", err,
			)
		}
	}
	d.timerVacuum = time.AfterFunc(24*time.Hour, f)
}

// Close shuts down the database connection and stops background processes
func (d *Store) Close() error {
	d.timerMutex.Lock()
	d.closed = true
	if d.timerVacuum != nil {
		d.timerVacuum.Stop()
		d.timerVacuum = nil
	}
	d.timerMutex.Unlock()
	// Wait for any in-flight vacuum operations to complete
	d.vacuumWG.Wait()
	db, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	return db.Close()
}

// DB returns the underlying GORM database handle
func (d *Store) DB() *gorm.DB {
	return d.db
}

type sqliteTxn struct {
	store    *Store
	tx       *gorm.DB
	finished bool
}

func (t *sqliteTxn) Commit() error {
	if t.finished {
		return nil
	}
	t.finished = true
	return t.tx.Commit().Error
}

func (t *sqliteTxn) Rollback() error {
	if t.finished {
		return nil
	}
	t.finished = true
	return t.tx.Rollback().Error
}

// Transaction begins a new database transaction
func (d *Store) Transaction() types.Txn {
	return &sqliteTxn{store: d, tx: d.db.Begin()}
}

// resolveDB returns the GORM handle of txn, or the store handle when txn is
// nil
func (d *Store) resolveDB(txn types.Txn) (*gorm.DB, error) {
	if txn == nil {
		return d.db, nil
	}
	tmpTxn, ok := txn.(*sqliteTxn)
	if !ok {
		return nil, types.ErrTxnWrongType
	}
	if tmpTxn.store != d {
		return nil, errors.New("transaction from different store")
	}
	if tmpTxn.finished {
		return nil, types.ErrTxnFinished
	}
	if tmpTxn.tx.Error != nil {
		return nil, tmpTxn.tx.Error
	}
	return tmpTxn.tx, nil
}

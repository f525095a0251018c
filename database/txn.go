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

package database

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/attest/database/types"
)

// Txn is a wrapper that coordinates both metadata and blob transactions.
// Metadata and blob are siblings, not nested.
type Txn struct {
	db          *Database
	blobTxn     types.Txn
	metadataTxn types.Txn
	lock        sync.Mutex
	finished    bool
	readWrite   bool
}

func NewTxn(db *Database, readWrite bool) *Txn {
	return &Txn{
		db:          db,
		readWrite:   readWrite,
		blobTxn:     db.blob.NewTransaction(readWrite),
		metadataTxn: db.metadata.Transaction(),
	}
}

// NewBlobOnlyTxn starts a transaction that only touches the archive
func NewBlobOnlyTxn(db *Database, readWrite bool) *Txn {
	return &Txn{
		db:        db,
		readWrite: readWrite,
		blobTxn:   db.blob.NewTransaction(readWrite),
	}
}

func (t *Txn) DB() *Database {
	return t.db
}

// Metadata returns the underlying metadata transaction handle
func (t *Txn) Metadata() types.Txn {
	return t.metadataTxn
}

// Blob returns the blob transaction handle
func (t *Txn) Blob() types.Txn {
	return t.blobTxn
}

// Do runs fn and commits, or rolls back when fn fails
func (t *Txn) Do(fn func(*Txn) error) error {
	if err := fn(t); err != nil {
		if rbErr := t.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := t.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// Commit writes the blob side first so a snapshot never refers to an archive
// entry that doesn't exist. Both sides carry the same commit timestamp, which
// is how a partial commit is detected on the next open
func (t *Txn) Commit() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.finished {
		return nil
	}
	if !t.readWrite {
		return t.rollback()
	}
	if t.metadataTxn != nil {
		if err := t.db.updateCommitTimestamp(t, time.Now().UnixMilli()); err != nil {
			_ = t.rollback()
			return fmt.Errorf("failed to update commit timestamp: %w", err)
		}
	}
	if err := t.blobTxn.Commit(); err != nil {
		t.blobTxn = nil
		_ = t.rollback()
		return fmt.Errorf("archive commit failed: %w", err)
	}
	t.blobTxn = nil
	if t.metadataTxn != nil {
		if err := t.metadataTxn.Commit(); err != nil {
			t.db.logger.Error(
				"partial commit: archive written, snapshot not",
				"component", "database",
				"error", err,
			)
			_ = t.rollback()
			return fmt.Errorf("snapshot commit failed: %w", err)
		}
		t.metadataTxn = nil
	}
	t.finished = true
	return nil
}

func (t *Txn) Rollback() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.rollback()
}

// rollback discards whichever sides are still open
func (t *Txn) rollback() error {
	if t.finished {
		return nil
	}
	t.finished = true
	var errs []error
	if t.blobTxn != nil {
		if err := t.blobTxn.Rollback(); err != nil {
			errs = append(errs, fmt.Errorf("archive rollback: %w", err))
		}
	}
	if t.metadataTxn != nil {
		if err := t.metadataTxn.Rollback(); err != nil {
			errs = append(errs, fmt.Errorf("snapshot rollback: %w", err))
		}
	}
	return errors.Join(errs...)
}

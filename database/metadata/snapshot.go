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

package metadata

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/attest/database/models"
	"github.com/blinklabs-io/attest/database/types"
	"gorm.io/gorm"
)

const (
	committeeStateRowId = 1
	createBatchSize     = 500
)

// Snapshot is the full live committee state
type Snapshot struct {
	State      models.CommitteeState
	Accounts   []models.Account
	Members    []models.Member
	Violations []models.Violation
	Tasks      []models.Task
	Slashes    []models.SlashRecord
}

// SaveSnapshot replaces the stored state with snap
func (d *Store) SaveSnapshot(txn types.Txn, snap *Snapshot) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	del := db.Session(&gorm.Session{AllowGlobalUpdate: true})
	// Children first
	for _, model := range []any{
		&models.Submission{},
		&models.Appeal{},
		&models.Task{},
		&models.SlashRecord{},
		&models.Account{},
		&models.Member{},
		&models.Violation{},
	} {
		if result := del.Delete(model); result.Error != nil {
			return fmt.Errorf("clear %T: %w", model, result.Error)
		}
	}
	state := snap.State
	state.ID = committeeStateRowId
	if result := db.Save(&state); result.Error != nil {
		return result.Error
	}
	if err := createAll(db, snap.Accounts); err != nil {
		return err
	}
	if err := createAll(db, snap.Members); err != nil {
		return err
	}
	if err := createAll(db, snap.Violations); err != nil {
		return err
	}
	// Submissions and appeals are created through their associations
	if err := createAll(db, snap.Tasks); err != nil {
		return err
	}
	return createAll(db, snap.Slashes)
}

func createAll[T any](db *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	if result := db.CreateInBatches(rows, createBatchSize); result.Error != nil {
		return fmt.Errorf("create %T: %w", rows, result.Error)
	}
	return nil
}

// LoadSnapshot returns the stored state. The boolean is false when nothing
// was ever saved
func (d *Store) LoadSnapshot(txn types.Txn) (*Snapshot, bool, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, false, err
	}
	var ret Snapshot
	if result := db.First(&ret.State, committeeStateRowId); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, result.Error
	}
	if result := db.Order("id").Find(&ret.Accounts); result.Error != nil {
		return nil, false, result.Error
	}
	if result := db.Order("id").Find(&ret.Members); result.Error != nil {
		return nil, false, result.Error
	}
	if result := db.Order("member_id").Find(&ret.Violations); result.Error != nil {
		return nil, false, result.Error
	}
	if result := db.Preload("Submissions").Order("id").Find(&ret.Tasks); result.Error != nil {
		return nil, false, result.Error
	}
	if result := db.Preload("Appeal").Order("id").Find(&ret.Slashes); result.Error != nil {
		return nil, false, result.Error
	}
	return &ret, true, nil
}

// DueSlashes returns the stored slash records with ExecAt at or before now
func (d *Store) DueSlashes(txn types.Txn, now uint64) ([]models.SlashRecord, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.SlashRecord
	result := db.Preload("Appeal").
		Where("exec_at <= ?", now).
		Order("exec_at, id").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

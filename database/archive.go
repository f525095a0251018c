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

	"github.com/blinklabs-io/attest/consensus"
	"github.com/blinklabs-io/attest/database/types"
	"github.com/blinklabs-io/attest/slash"
	"github.com/blinklabs-io/attest/stake"
	"github.com/blinklabs-io/attest/task"
	"github.com/blinklabs-io/gouroboros/cbor"
)

var ErrNotArchived = errors.New("not found in archive")

// ArchivedTask is a finished task as stored in the blob archive
type ArchivedTask struct {
	cbor.StructAsArray
	ID          uint64
	Subject     string
	Kind        string
	Round       uint32
	CreatedAt   uint64
	FinishedAt  uint64
	Outcome     consensus.Outcome
	Quorum      []stake.AccountID
	Submissions []ArchivedSubmission
	Summary     consensus.Summary
	SlashIDs    []uint64
}

type ArchivedSubmission struct {
	cbor.StructAsArray
	Member     stake.AccountID
	Commitment []byte
	CommitTime uint64
	Revealed   bool
	Core       []byte
	Payload    []byte
	Support    bool
	RevealTime uint64
	Dropped    bool
}

// NewArchivedTask builds the archive record of a finished task
func NewArchivedTask(
	t task.Task,
	summary consensus.Summary,
	finishedAt uint64,
	slashIDs []slash.ID,
) ArchivedTask {
	ret := ArchivedTask{
		ID:         uint64(t.ID),
		Subject:    t.Subject,
		Kind:       t.Kind,
		Round:      t.Round,
		CreatedAt:  t.CreatedAt,
		FinishedAt: finishedAt,
		Outcome:    t.Outcome,
		Quorum:     t.Quorum,
		Summary:    summary,
	}
	for _, id := range t.Assigned() {
		sub := t.Submissions[id]
		tmpSub := ArchivedSubmission{
			Member:     id,
			CommitTime: sub.CommitTime,
			Revealed:   sub.Revealed,
			Core:       sub.Core,
			Payload:    sub.Payload,
			Support:    sub.Support,
			RevealTime: sub.RevealTime,
			Dropped:    sub.Dropped,
		}
		if sub.Commitment != nil {
			tmpSub.Commitment = sub.Commitment.Bytes()
		}
		ret.Submissions = append(ret.Submissions, tmpSub)
	}
	for _, id := range slashIDs {
		ret.SlashIDs = append(ret.SlashIDs, uint64(id))
	}
	return ret
}

// ArchivedSlash is a closed slash record as stored in the blob archive
type ArchivedSlash struct {
	cbor.StructAsArray
	ID            uint64
	TaskID        uint64
	Subject       string
	Target        stake.AccountID
	TargetKind    slash.TargetKind
	Amount        uint64
	Reserved      uint64
	Reason        slash.Reason
	RewardTargets []stake.AccountID
	CreatedAt     uint64
	ExecAt        uint64
	Status        slash.Status
	Appeal        *ArchivedAppeal
}

type ArchivedAppeal struct {
	cbor.StructAsArray
	Applicant stake.AccountID
	Bond      uint64
	FiledAt   uint64
	Reason    string
	Resolved  bool
	Accepted  bool
}

// Record converts the archived record back to a slash record
func (a ArchivedSlash) Record() slash.Record {
	ret := slash.Record{
		ID:            slash.ID(a.ID),
		TaskID:        a.TaskID,
		Subject:       a.Subject,
		Target:        a.Target,
		TargetKind:    a.TargetKind,
		Amount:        a.Amount,
		Reserved:      a.Reserved,
		Reason:        a.Reason,
		RewardTargets: a.RewardTargets,
		CreatedAt:     a.CreatedAt,
		ExecAt:        a.ExecAt,
		Status:        a.Status,
	}
	if a.Appeal != nil {
		ret.Appeal = &slash.Appeal{
			Applicant: a.Appeal.Applicant,
			Bond:      a.Appeal.Bond,
			FiledAt:   a.Appeal.FiledAt,
			Reason:    a.Appeal.Reason,
			Resolved:  a.Appeal.Resolved,
			Accepted:  a.Appeal.Accepted,
		}
	}
	return ret
}

func newArchivedSlash(r slash.Record) ArchivedSlash {
	ret := ArchivedSlash{
		ID:            uint64(r.ID),
		TaskID:        r.TaskID,
		Subject:       r.Subject,
		Target:        r.Target,
		TargetKind:    r.TargetKind,
		Amount:        r.Amount,
		Reserved:      r.Reserved,
		Reason:        r.Reason,
		RewardTargets: r.RewardTargets,
		CreatedAt:     r.CreatedAt,
		ExecAt:        r.ExecAt,
		Status:        r.Status,
	}
	if r.Appeal != nil {
		ret.Appeal = &ArchivedAppeal{
			Applicant: r.Appeal.Applicant,
			Bond:      r.Appeal.Bond,
			FiledAt:   r.Appeal.FiledAt,
			Reason:    r.Appeal.Reason,
			Resolved:  r.Appeal.Resolved,
			Accepted:  r.Appeal.Accepted,
		}
	}
	return ret
}

// withBlobTxn runs fn in txn, or in a new blob transaction when txn is nil
func (d *Database) withBlobTxn(txn *Txn, readWrite bool, fn func(*Txn) error) error {
	if txn != nil {
		return fn(txn)
	}
	txn = NewBlobOnlyTxn(d, readWrite)
	return txn.Do(fn)
}

// ArchiveTask stores a finished task in the blob archive
func (d *Database) ArchiveTask(archived ArchivedTask, txn *Txn) error {
	data, err := cbor.Encode(&archived)
	if err != nil {
		return fmt.Errorf("encode archived task %d: %w", archived.ID, err)
	}
	return d.withBlobTxn(txn, true, func(txn *Txn) error {
		return d.blob.Set(txn.Blob(), types.TaskBlobKey(archived.ID), data)
	})
}

// ArchivedTask returns a finished task from the blob archive
func (d *Database) ArchivedTask(id uint64, txn *Txn) (ArchivedTask, error) {
	var ret ArchivedTask
	err := d.withBlobTxn(txn, false, func(txn *Txn) error {
		return d.getArchived(txn, types.TaskBlobKey(id), &ret)
	})
	return ret, err
}

// ArchivedTasks returns every archived task with an ID at or above fromID,
// in ID order, up to limit entries. A zero limit means no limit
func (d *Database) ArchivedTasks(fromID uint64, limit int, txn *Txn) ([]ArchivedTask, error) {
	var ret []ArchivedTask
	err := d.withBlobTxn(txn, false, func(txn *Txn) error {
		prefix := []byte(types.TaskBlobKeyPrefix)
		iter := d.blob.NewIterator(txn.Blob(), types.BlobIteratorOptions{Prefix: prefix})
		defer iter.Close()
		for iter.Seek(types.TaskBlobKey(fromID)); iter.ValidForPrefix(prefix); iter.Next() {
			if limit > 0 && len(ret) >= limit {
				break
			}
			val, err := iter.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var tmp ArchivedTask
			if _, err := cbor.Decode(val, &tmp); err != nil {
				return fmt.Errorf("decode archived task: %w", err)
			}
			ret = append(ret, tmp)
		}
		return iter.Err()
	})
	return ret, err
}

// ArchiveSlash stores a closed slash record in the blob archive
func (d *Database) ArchiveSlash(r slash.Record, txn *Txn) error {
	archived := newArchivedSlash(r)
	data, err := cbor.Encode(&archived)
	if err != nil {
		return fmt.Errorf("encode archived slash %d: %w", r.ID, err)
	}
	return d.withBlobTxn(txn, true, func(txn *Txn) error {
		return d.blob.Set(txn.Blob(), types.SlashBlobKey(uint64(r.ID)), data)
	})
}

// ArchivedSlash returns a closed slash record from the blob archive
func (d *Database) ArchivedSlash(id uint64, txn *Txn) (slash.Record, error) {
	var ret ArchivedSlash
	err := d.withBlobTxn(txn, false, func(txn *Txn) error {
		return d.getArchived(txn, types.SlashBlobKey(id), &ret)
	})
	if err != nil {
		return slash.Record{}, err
	}
	return ret.Record(), nil
}

func (d *Database) getArchived(txn *Txn, key []byte, dest any) error {
	val, err := d.blob.Get(txn.Blob(), key)
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return ErrNotArchived
		}
		return err
	}
	if _, err := cbor.Decode(val, dest); err != nil {
		return fmt.Errorf("decode archive record: %w", err)
	}
	return nil
}

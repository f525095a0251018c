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
	"fmt"
	"maps"
	"slices"

	"github.com/blinklabs-io/attest/consensus"
	"github.com/blinklabs-io/attest/database/metadata"
	"github.com/blinklabs-io/attest/database/models"
	"github.com/blinklabs-io/attest/database/types"
	"github.com/blinklabs-io/attest/digest"
	"github.com/blinklabs-io/attest/roster"
	"github.com/blinklabs-io/attest/slash"
	"github.com/blinklabs-io/attest/stake"
	"github.com/blinklabs-io/attest/task"
)

// State is the live committee state written after every tick
type State struct {
	LastTick    uint64
	NextTaskID  task.ID
	NextSlashID slash.ID
	Treasury    uint64
	Withdrawn   uint64
	Accounts    []stake.Account
	Members     []roster.Member
	Violations  map[stake.AccountID]uint64
	Tasks       []task.Task
	Slashes     []slash.Record
}

// SaveState replaces the stored live state. A new transaction is used when
// txn is nil
func (d *Database) SaveState(state *State, txn *Txn) error {
	if txn == nil {
		txn = d.Transaction(true)
		return txn.Do(func(txn *Txn) error {
			return d.SaveState(state, txn)
		})
	}
	return d.metadata.SaveSnapshot(txn.Metadata(), stateToSnapshot(state))
}

// LoadState returns the stored live state. The boolean is false on a fresh
// database
func (d *Database) LoadState() (*State, bool, error) {
	snap, ok, err := d.metadata.LoadSnapshot(nil)
	if err != nil || !ok {
		return nil, ok, err
	}
	state, err := snapshotToState(snap)
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// DueSlashes returns the stored slashes whose execution tick is at or before
// now, ordered by execution tick
func (d *Database) DueSlashes(now uint64, txn *Txn) ([]slash.Record, error) {
	var metadataTxn types.Txn
	if txn != nil {
		metadataTxn = txn.Metadata()
	}
	due, err := d.metadata.DueSlashes(metadataTxn, now)
	if err != nil {
		return nil, err
	}
	ret := make([]slash.Record, 0, len(due))
	for _, m := range due {
		ret = append(ret, modelToSlash(m))
	}
	return ret, nil
}

func stateToSnapshot(state *State) *metadata.Snapshot {
	snap := &metadata.Snapshot{
		State: models.CommitteeState{
			LastTick:    types.Uint64(state.LastTick),
			NextTaskID:  types.Uint64(state.NextTaskID),
			NextSlashID: types.Uint64(state.NextSlashID),
			Treasury:    types.Uint64(state.Treasury),
			Withdrawn:   types.Uint64(state.Withdrawn),
		},
	}
	for _, acct := range state.Accounts {
		snap.Accounts = append(snap.Accounts, models.Account{
			ID:            string(acct.ID),
			Staked:        types.Uint64(acct.Staked),
			Used:          types.Uint64(acct.Used),
			PendingReward: types.Uint64(acct.PendingReward),
			ClaimedReward: types.Uint64(acct.ClaimedReward),
		})
	}
	for _, m := range state.Members {
		snap.Members = append(snap.Members, models.Member{
			ID:         string(m.ID),
			Credential: m.Credential,
			Status:     uint8(m.Status),
		})
	}
	for _, id := range slices.Sorted(maps.Keys(state.Violations)) {
		snap.Violations = append(snap.Violations, models.Violation{
			MemberID: string(id),
			Count:    state.Violations[id],
		})
	}
	for i := range state.Tasks {
		snap.Tasks = append(snap.Tasks, taskToModel(&state.Tasks[i]))
	}
	for _, r := range state.Slashes {
		snap.Slashes = append(snap.Slashes, slashToModel(r))
	}
	return snap
}

func snapshotToState(snap *metadata.Snapshot) (*State, error) {
	state := &State{
		LastTick:    uint64(snap.State.LastTick),
		NextTaskID:  task.ID(snap.State.NextTaskID),
		NextSlashID: slash.ID(snap.State.NextSlashID),
		Treasury:    uint64(snap.State.Treasury),
		Withdrawn:   uint64(snap.State.Withdrawn),
		Violations:  make(map[stake.AccountID]uint64, len(snap.Violations)),
	}
	for _, acct := range snap.Accounts {
		state.Accounts = append(state.Accounts, stake.Account{
			ID:            stake.AccountID(acct.ID),
			Staked:        uint64(acct.Staked),
			Used:          uint64(acct.Used),
			PendingReward: uint64(acct.PendingReward),
			ClaimedReward: uint64(acct.ClaimedReward),
		})
	}
	for _, m := range snap.Members {
		state.Members = append(state.Members, roster.Member{
			ID:         stake.AccountID(m.ID),
			Credential: m.Credential,
			Status:     roster.Status(m.Status),
		})
	}
	for _, v := range snap.Violations {
		state.Violations[stake.AccountID(v.MemberID)] = v.Count
	}
	for _, tmpTask := range snap.Tasks {
		t, err := modelToTask(tmpTask)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", tmpTask.ID, err)
		}
		state.Tasks = append(state.Tasks, t)
	}
	for _, r := range snap.Slashes {
		state.Slashes = append(state.Slashes, modelToSlash(r))
	}
	return state, nil
}

func accountIDs(ids []stake.AccountID) []string {
	if ids == nil {
		return nil
	}
	ret := make([]string, len(ids))
	for i, id := range ids {
		ret[i] = string(id)
	}
	return ret
}

func toAccountIDs(ids []string) []stake.AccountID {
	if ids == nil {
		return nil
	}
	ret := make([]stake.AccountID, len(ids))
	for i, id := range ids {
		ret[i] = stake.AccountID(id)
	}
	return ret
}

func taskToModel(t *task.Task) models.Task {
	ret := models.Task{
		ID:              uint64(t.ID),
		Subject:         t.Subject,
		Kind:            t.Kind,
		QuorumSize:      t.QuorumSize,
		Quorum:          accountIDs(t.Quorum),
		Phase:           uint8(t.Phase),
		Round:           t.Round,
		Participants:    t.Participants,
		Voluntary:       t.Voluntary,
		CreatedTick:     types.Uint64(t.CreatedAt),
		BookingDeadline: types.Uint64(t.BookingDeadline),
		CommitDeadline:  types.Uint64(t.CommitDeadline),
		RevealStart:     types.Uint64(t.RevealStart),
		RevealEnd:       types.Uint64(t.RevealEnd),
		StakePerTask:    types.Uint64(t.StakePerTask),
		Timing: models.Timing{
			CommitWindow:    types.Uint64(t.Timing.CommitWindow),
			RevealWindow:    types.Uint64(t.Timing.RevealWindow),
			BookingWindow:   types.Uint64(t.Timing.BookingWindow),
			MaxRounds:       t.Timing.MaxRounds,
			OnMissingCommit: uint8(t.Timing.OnMissingCommit),
			MaxParticipants: t.Timing.MaxParticipants,
		},
		Outcome: uint8(t.Outcome),
	}
	if t.Counterpart != nil {
		ret.Counterpart = t.Counterpart.Bytes()
	}
	if t.Party != nil {
		ret.HasParty = true
		ret.PartyAccount = string(t.Party.Account)
		ret.PartyBond = types.Uint64(t.Party.Bond)
		ret.PartyFaultOn = uint8(t.Party.FaultOn)
	}
	for _, id := range t.Assigned() {
		sub := t.Submissions[id]
		tmpSub := models.Submission{
			TaskID:       uint64(t.ID),
			MemberID:     string(id),
			CommitTime:   types.Uint64(sub.CommitTime),
			Revealed:     sub.Revealed,
			Core:         sub.Core,
			Payload:      sub.Payload,
			Nonce:        sub.Nonce,
			Support:      sub.Support,
			RevealTime:   types.Uint64(sub.RevealTime),
			StakeForTask: types.Uint64(sub.StakeForTask),
			Dropped:      sub.Dropped,
		}
		if sub.Commitment != nil {
			tmpSub.Commitment = sub.Commitment.Bytes()
		}
		ret.Submissions = append(ret.Submissions, tmpSub)
	}
	return ret
}

func modelToTask(m models.Task) (task.Task, error) {
	ret := task.Task{
		ID:              task.ID(m.ID),
		Subject:         m.Subject,
		Kind:            m.Kind,
		QuorumSize:      m.QuorumSize,
		Quorum:          toAccountIDs(m.Quorum),
		Submissions:     make(map[stake.AccountID]*task.Submission, len(m.Submissions)),
		Phase:           task.Phase(m.Phase),
		Round:           m.Round,
		Participants:    m.Participants,
		Voluntary:       m.Voluntary,
		CreatedAt:       uint64(m.CreatedTick),
		BookingDeadline: uint64(m.BookingDeadline),
		CommitDeadline:  uint64(m.CommitDeadline),
		RevealStart:     uint64(m.RevealStart),
		RevealEnd:       uint64(m.RevealEnd),
		StakePerTask:    uint64(m.StakePerTask),
		Timing: task.TimingPolicy{
			CommitWindow:    uint64(m.Timing.CommitWindow),
			RevealWindow:    uint64(m.Timing.RevealWindow),
			BookingWindow:   uint64(m.Timing.BookingWindow),
			MaxRounds:       m.Timing.MaxRounds,
			OnMissingCommit: task.MissingCommitPolicy(m.Timing.OnMissingCommit),
			MaxParticipants: m.Timing.MaxParticipants,
		},
		Outcome: consensus.Outcome(m.Outcome),
	}
	if m.Counterpart != nil {
		tmpDigest, err := digest.FromBytes(m.Counterpart)
		if err != nil {
			return task.Task{}, err
		}
		ret.Counterpart = &tmpDigest
	}
	if m.HasParty {
		ret.Party = &task.ExternalParty{
			Account: stake.AccountID(m.PartyAccount),
			Bond:    uint64(m.PartyBond),
			FaultOn: consensus.Outcome(m.PartyFaultOn),
		}
	}
	for _, sub := range m.Submissions {
		tmpSub := &task.Submission{
			Member:       stake.AccountID(sub.MemberID),
			CommitTime:   uint64(sub.CommitTime),
			Revealed:     sub.Revealed,
			Core:         sub.Core,
			Payload:      sub.Payload,
			Nonce:        sub.Nonce,
			Support:      sub.Support,
			RevealTime:   uint64(sub.RevealTime),
			StakeForTask: uint64(sub.StakeForTask),
			Dropped:      sub.Dropped,
		}
		if sub.Commitment != nil {
			tmpDigest, err := digest.FromBytes(sub.Commitment)
			if err != nil {
				return task.Task{}, err
			}
			tmpSub.Commitment = &tmpDigest
		}
		ret.Submissions[tmpSub.Member] = tmpSub
	}
	return ret, nil
}

func slashToModel(r slash.Record) models.SlashRecord {
	ret := models.SlashRecord{
		ID:            uint64(r.ID),
		TaskID:        r.TaskID,
		Subject:       r.Subject,
		Target:        string(r.Target),
		TargetKind:    uint8(r.TargetKind),
		Amount:        types.Uint64(r.Amount),
		Reserved:      types.Uint64(r.Reserved),
		Reason:        uint8(r.Reason),
		RewardTargets: accountIDs(r.RewardTargets),
		CreatedTick:   types.Uint64(r.CreatedAt),
		ExecAt:        r.ExecAt,
		Status:        uint8(r.Status),
	}
	if r.Appeal != nil {
		ret.Appeal = &models.Appeal{
			SlashID:   uint64(r.ID),
			Applicant: string(r.Appeal.Applicant),
			Bond:      types.Uint64(r.Appeal.Bond),
			FiledAt:   types.Uint64(r.Appeal.FiledAt),
			Reason:    r.Appeal.Reason,
			Resolved:  r.Appeal.Resolved,
			Accepted:  r.Appeal.Accepted,
		}
	}
	return ret
}

func modelToSlash(m models.SlashRecord) slash.Record {
	ret := slash.Record{
		ID:            slash.ID(m.ID),
		TaskID:        m.TaskID,
		Subject:       m.Subject,
		Target:        stake.AccountID(m.Target),
		TargetKind:    slash.TargetKind(m.TargetKind),
		Amount:        uint64(m.Amount),
		Reserved:      uint64(m.Reserved),
		Reason:        slash.Reason(m.Reason),
		RewardTargets: toAccountIDs(m.RewardTargets),
		CreatedAt:     uint64(m.CreatedTick),
		ExecAt:        m.ExecAt,
		Status:        slash.Status(m.Status),
	}
	if m.Appeal != nil {
		ret.Appeal = &slash.Appeal{
			Applicant: stake.AccountID(m.Appeal.Applicant),
			Bond:      uint64(m.Appeal.Bond),
			FiledAt:   uint64(m.Appeal.FiledAt),
			Reason:    m.Appeal.Reason,
			Resolved:  m.Appeal.Resolved,
			Accepted:  m.Appeal.Accepted,
		}
	}
	return ret
}

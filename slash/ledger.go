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

// Package slash holds deferred slash records. A record is queued with an
// execution tick and may be appealed until then
package slash

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/blinklabs-io/attest/internal/errkind"
	"github.com/blinklabs-io/attest/stake"
)

var (
	ErrUnknownSlash    = errkind.Policy("unknown slash")
	ErrAlreadyAppealed = errkind.Policy("slash already appealed")
	ErrNotPending      = errkind.Policy("slash is not pending")
	ErrTooLate         = errkind.Policy("slash review window has closed")
	ErrNotEligible     = errkind.Policy("applicant is not the slashed party")
	ErrBondTooLow      = errkind.Policy("appeal bond too low")
	ErrNoAppeal        = errkind.Policy("slash has no open appeal")
)

type ID uint64

type Reason uint8

const (
	ReasonUnruly Reason = iota + 1
	ReasonInconsistentSubmission
	ReasonLosingVote
	ReasonExternalPartyAtFault
)

func (r Reason) String() string {
	switch r {
	case ReasonUnruly:
		return "unruly"
	case ReasonInconsistentSubmission:
		return "inconsistent_submission"
	case ReasonLosingVote:
		return "losing_vote"
	case ReasonExternalPartyAtFault:
		return "external_party_at_fault"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

type TargetKind uint8

const (
	TargetMember TargetKind = iota
	TargetParty
)

func (k TargetKind) String() string {
	if k == TargetParty {
		return "party"
	}
	return "member"
}

type Status uint8

const (
	StatusPending Status = iota
	StatusAppealed
	StatusCanceled
	StatusExecuted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAppealed:
		return "appealed"
	case StatusCanceled:
		return "canceled"
	case StatusExecuted:
		return "executed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Record is a deferred slash. Reserved is the stake held by the slashed
// obligation; Amount of it is slashed on execution and the rest released
type Record struct {
	ID            ID
	TaskID        uint64
	Subject       string
	Target        stake.AccountID
	TargetKind    TargetKind
	Amount        uint64
	Reserved      uint64
	Reason        Reason
	RewardTargets []stake.AccountID
	CreatedAt     uint64
	ExecAt        uint64
	Status        Status
	Appeal        *Appeal
}

func (r Record) clone() Record {
	ret := r
	ret.RewardTargets = slices.Clone(r.RewardTargets)
	if r.Appeal != nil {
		tmp := *r.Appeal
		ret.Appeal = &tmp
	}
	return ret
}

type Appeal struct {
	Applicant stake.AccountID
	Bond      uint64
	FiledAt   uint64
	Reason    string
	Resolved  bool
	Accepted  bool
}

// Ledger queues slash records by execution tick
type Ledger struct {
	logger  *slog.Logger
	stake   *stake.Ledger
	policy  Policy
	records map[ID]*Record
	queue   map[uint64][]ID
	// queueTicks holds the keys of queue in ascending order
	queueTicks []uint64
	nextID     ID
}

func NewLedger(stakeLedger *stake.Ledger, policy Policy, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Ledger{
		logger:  logger,
		stake:   stakeLedger,
		policy:  policy,
		records: make(map[ID]*Record),
		queue:   make(map[uint64][]ID),
		nextID:  1,
	}
}

func (l *Ledger) Policy() Policy {
	return l.policy
}

// Apply applies the immediate effects of a plan and queues its records. It
// returns the queued records
func (l *Ledger) Apply(effects Effects) ([]Record, error) {
	var errs []error
	for _, tmp := range effects.Releases {
		if tmp.Amount == 0 {
			continue
		}
		if err := l.stake.Release(tmp.Account, tmp.Amount); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", tmp.Account, err))
		}
	}
	for _, tmp := range effects.Rewards {
		if err := l.stake.Reward(tmp.Account, tmp.Amount); err != nil {
			errs = append(errs, fmt.Errorf("reward %s: %w", tmp.Account, err))
		}
	}
	return l.Queue(effects.Records), errors.Join(errs...)
}

// Queue assigns IDs to the records and indexes them by execution tick
func (l *Ledger) Queue(records []Record) []Record {
	ret := make([]Record, 0, len(records))
	for _, r := range records {
		tmp := r.clone()
		tmp.ID = l.nextID
		tmp.Status = StatusPending
		l.nextID++
		l.records[tmp.ID] = &tmp
		l.enqueue(tmp.ExecAt, tmp.ID)
		l.logger.Debug(
			"slash queued",
			"component", "slash",
			"slash", tmp.ID,
			"task", tmp.TaskID,
			"target", tmp.Target,
			"amount", tmp.Amount,
			"reason", tmp.Reason.String(),
			"exec_at", tmp.ExecAt,
		)
		ret = append(ret, tmp.clone())
	}
	return ret
}

func (l *Ledger) enqueue(execAt uint64, id ID) {
	if _, ok := l.queue[execAt]; !ok {
		idx, _ := slices.BinarySearch(l.queueTicks, execAt)
		l.queueTicks = slices.Insert(l.queueTicks, idx, execAt)
	}
	l.queue[execAt] = append(l.queue[execAt], id)
}

// ExecuteDue executes every open record with an execution tick at or before
// now and returns the closed records. Records already executed are no longer
// queued, so calling it again for the same tick does nothing
func (l *Ledger) ExecuteDue(now uint64) ([]Record, error) {
	var ret []Record
	var errs []error
	failed := make(map[uint64][]ID)
	for len(l.queueTicks) > 0 && l.queueTicks[0] <= now {
		tick := l.queueTicks[0]
		for _, id := range l.queue[tick] {
			r, ok := l.records[id]
			if !ok {
				continue
			}
			if err := l.execute(r); err != nil {
				errs = append(errs, fmt.Errorf("slash %d: %w", id, err))
				failed[tick] = append(failed[tick], id)
				continue
			}
			delete(l.records, id)
			ret = append(ret, r.clone())
		}
		delete(l.queue, tick)
		l.queueTicks = l.queueTicks[1:]
	}
	// Failed records are retried on the next sweep
	for tick, ids := range failed {
		for _, id := range ids {
			l.enqueue(tick, id)
		}
	}
	return ret, errors.Join(errs...)
}

func (l *Ledger) execute(r *Record) error {
	if r.Status == StatusAppealed && r.Appeal != nil && !r.Appeal.Resolved {
		// An appeal left unresolved at the execution tick is rejected
		if err := l.stake.SlashReserved(r.Appeal.Applicant, r.Appeal.Bond, nil); err != nil {
			return fmt.Errorf("forfeit appeal bond: %w", err)
		}
		r.Appeal.Resolved = true
		r.Status = StatusPending
	}
	if r.Status != StatusPending {
		return nil
	}
	acct, _ := l.stake.Account(r.Target)
	if acct.Used < r.Reserved || r.Amount > r.Reserved {
		return fmt.Errorf(
			"%w: %s has %d reserved, record holds %d",
			stake.ErrUnderflow,
			r.Target,
			acct.Used,
			r.Reserved,
		)
	}
	if err := l.stake.SlashReserved(r.Target, r.Amount, r.RewardTargets); err != nil {
		return err
	}
	if rest := r.Reserved - r.Amount; rest > 0 {
		if err := l.stake.Release(r.Target, rest); err != nil {
			return err
		}
	}
	r.Status = StatusExecuted
	l.logger.Info(
		"slash executed",
		"component", "slash",
		"slash", r.ID,
		"target", r.Target,
		"amount", r.Amount,
		"reason", r.Reason.String(),
	)
	return nil
}

// ApplyForReview files an appeal for a pending record, reserving the bond
// from the applicant. Only the slashed party may appeal, once, before the
// execution tick
func (l *Ledger) ApplyForReview(
	id ID,
	applicant stake.AccountID,
	bond uint64,
	reason string,
	now uint64,
) error {
	r, ok := l.records[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSlash, id)
	}
	if r.Appeal != nil {
		return fmt.Errorf("%w: %d", ErrAlreadyAppealed, id)
	}
	if r.Status != StatusPending {
		return fmt.Errorf("%w: %d is %s", ErrNotPending, id, r.Status)
	}
	if now >= r.ExecAt {
		return fmt.Errorf("%w: executes at %d", ErrTooLate, r.ExecAt)
	}
	if applicant != r.Target {
		return fmt.Errorf("%w: %s", ErrNotEligible, applicant)
	}
	minBond := l.policy.AppealBond
	if minBond == 0 {
		minBond = r.Reserved
	}
	if bond < minBond {
		return fmt.Errorf("%w: %d below %d", ErrBondTooLow, bond, minBond)
	}
	if err := l.stake.Reserve(applicant, bond); err != nil {
		return err
	}
	r.Status = StatusAppealed
	r.Appeal = &Appeal{
		Applicant: applicant,
		Bond:      bond,
		FiledAt:   now,
		Reason:    reason,
	}
	l.logger.Debug(
		"slash appealed",
		"component", "slash",
		"slash", id,
		"applicant", applicant,
		"bond", bond,
	)
	return nil
}

// Inverse is a transfer made when a canceled record is reversed
type Inverse struct {
	From   stake.AccountID
	To     stake.AccountID
	Amount uint64
}

// ResolveReview resolves the open appeal of a record. Accepting cancels the
// record, returns the bond and the reserved stake, and when the policy asks
// for it slashes each reward target its share in favor of the target.
// Rejecting forfeits the bond to the treasury and the record executes as
// scheduled
func (l *Ledger) ResolveReview(id ID, accept bool, now uint64) (Record, []Inverse, error) {
	r, ok := l.records[id]
	if !ok {
		return Record{}, nil, fmt.Errorf("%w: %d", ErrUnknownSlash, id)
	}
	if r.Status != StatusAppealed || r.Appeal == nil || r.Appeal.Resolved {
		return Record{}, nil, fmt.Errorf("%w: %d", ErrNoAppeal, id)
	}
	if now >= r.ExecAt {
		return Record{}, nil, fmt.Errorf("%w: executes at %d", ErrTooLate, r.ExecAt)
	}
	if !accept {
		if err := l.stake.SlashReserved(r.Appeal.Applicant, r.Appeal.Bond, nil); err != nil {
			return Record{}, nil, err
		}
		r.Appeal.Resolved = true
		r.Status = StatusPending
		l.logger.Debug(
			"slash appeal rejected",
			"component", "slash",
			"slash", id,
		)
		return r.clone(), nil, nil
	}
	inverse := l.planInverse(r)
	if err := l.stake.Release(r.Appeal.Applicant, r.Appeal.Bond); err != nil {
		return Record{}, nil, err
	}
	if err := l.stake.Release(r.Target, r.Reserved); err != nil {
		return Record{}, nil, err
	}
	for _, tmp := range inverse {
		if err := l.stake.Slash(tmp.From, tmp.Amount, []stake.AccountID{tmp.To}); err != nil {
			l.logger.Warn(
				"failed to apply inverse slash",
				"component", "slash",
				"slash", id,
				"from", tmp.From,
				"error", err,
			)
		}
	}
	r.Appeal.Resolved = true
	r.Appeal.Accepted = true
	r.Status = StatusCanceled
	delete(l.records, id)
	l.dequeue(r.ExecAt, id)
	l.logger.Info(
		"slash canceled",
		"component", "slash",
		"slash", id,
		"target", r.Target,
		"inverse", len(inverse),
	)
	return r.clone(), inverse, nil
}

// planInverse gives back to the target the share each reward target would
// have received, limited to the reward target's free stake
func (l *Ledger) planInverse(r *Record) []Inverse {
	if !l.policy.InverseOnCancel || len(r.RewardTargets) == 0 {
		return nil
	}
	share := r.Amount / uint64(len(r.RewardTargets))
	var ret []Inverse
	for _, from := range r.RewardTargets {
		if from == r.Target {
			continue
		}
		acct, _ := l.stake.Account(from)
		amount := min(share, acct.Free())
		if amount == 0 {
			continue
		}
		ret = append(ret, Inverse{From: from, To: r.Target, Amount: amount})
	}
	return ret
}

func (l *Ledger) dequeue(execAt uint64, id ID) {
	ids := slices.DeleteFunc(l.queue[execAt], func(tmp ID) bool { return tmp == id })
	if len(ids) > 0 {
		l.queue[execAt] = ids
		return
	}
	delete(l.queue, execAt)
	if idx, ok := slices.BinarySearch(l.queueTicks, execAt); ok {
		l.queueTicks = slices.Delete(l.queueTicks, idx, idx+1)
	}
}

// Record returns an open record
func (l *Ledger) Record(id ID) (Record, bool) {
	r, ok := l.records[id]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Records returns the open records ordered by ID
func (l *Ledger) Records() []Record {
	ret := []Record{}
	for _, id := range slices.Sorted(maps.Keys(l.records)) {
		ret = append(ret, l.records[id].clone())
	}
	return ret
}

func (l *Ledger) NextID() ID {
	return l.nextID
}

// Restore replaces the open records, used when loading persisted state
func (l *Ledger) Restore(records []Record, nextID ID) {
	l.records = make(map[ID]*Record, len(records))
	l.queue = make(map[uint64][]ID)
	l.queueTicks = nil
	records = slices.Clone(records)
	slices.SortFunc(records, func(a, b Record) int { return cmp.Compare(a.ID, b.ID) })
	for _, r := range records {
		tmp := r.clone()
		l.records[tmp.ID] = &tmp
		l.enqueue(tmp.ExecAt, tmp.ID)
		if tmp.ID >= nextID {
			nextID = tmp.ID + 1
		}
	}
	l.nextID = max(nextID, 1)
}

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

package task

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/blinklabs-io/attest/consensus"
	"github.com/blinklabs-io/attest/digest"
	"github.com/blinklabs-io/attest/roster"
	"github.com/blinklabs-io/attest/stake"
)

type EngineConfig struct {
	Ledger *stake.Ledger
	Roster *roster.Roster
	Hasher digest.Hasher
	Logger *slog.Logger
	// Seed is mixed into every quorum draw
	Seed []byte
}

// Engine owns every open task and drives it through its phases
type Engine struct {
	config   EngineConfig
	tasks    map[ID]*Task
	subjects map[string]ID
	nextID   ID
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Hasher == nil {
		cfg.Hasher = digest.Blake2b128{}
	}
	return &Engine{
		config:   cfg,
		tasks:    make(map[ID]*Task),
		subjects: make(map[string]ID),
		nextID:   1,
	}
}

type OpenRequest struct {
	Subject      string
	Kind         string
	QuorumSize   int
	Timing       TimingPolicy
	StakePerTask uint64
	// Counterpart is an independent commitment over the subject's core fields
	Counterpart *digest.Digest
	Party       *ExternalParty
	// Voluntary tasks start in Booking and are filled by members booking them
	Voluntary bool
}

// Open creates a task. Non-voluntary tasks draw their quorum immediately and
// start in Committing
func (e *Engine) Open(req OpenRequest, now uint64) (ID, error) {
	if req.Subject == "" {
		return 0, fmt.Errorf("%w: empty subject", ErrInvalidRequest)
	}
	if req.QuorumSize <= 0 {
		return 0, fmt.Errorf("%w: %d", roster.ErrInvalidQuorumSize, req.QuorumSize)
	}
	if err := req.Timing.Validate(); err != nil {
		return 0, err
	}
	if req.Timing.MaxParticipants > 0 && req.Timing.MaxParticipants < req.QuorumSize {
		return 0, fmt.Errorf("%w: participant cap below quorum size", ErrInvalidTiming)
	}
	if req.Voluntary && req.Timing.BookingWindow == 0 {
		return 0, fmt.Errorf("%w: voluntary booking needs a booking window", ErrInvalidTiming)
	}
	if id, ok := e.subjects[req.Subject]; ok {
		return 0, fmt.Errorf("%w: %s (task %d)", ErrSubjectBusy, req.Subject, id)
	}
	t := &Task{
		ID:           e.nextID,
		Subject:      req.Subject,
		Kind:         req.Kind,
		QuorumSize:   req.QuorumSize,
		Submissions:  make(map[stake.AccountID]*Submission),
		Phase:        PhaseBooking,
		Round:        1,
		Voluntary:    req.Voluntary,
		CreatedAt:    now,
		StakePerTask: req.StakePerTask,
		Timing:       req.Timing,
	}
	if req.Counterpart != nil {
		c := *req.Counterpart
		t.Counterpart = &c
	}
	if req.Party != nil {
		p := *req.Party
		t.Party = &p
		if err := e.config.Ledger.Reserve(p.Account, p.Bond); err != nil {
			return 0, fmt.Errorf("reserve party bond: %w", err)
		}
	}
	if req.Voluntary {
		t.BookingDeadline = now + req.Timing.BookingWindow
	} else if err := e.fill(t, now); err != nil {
		if t.Party != nil {
			_ = e.config.Ledger.Release(t.Party.Account, t.Party.Bond)
		}
		return 0, err
	}
	e.tasks[t.ID] = t
	e.subjects[t.Subject] = t.ID
	e.nextID++
	e.config.Logger.Debug(
		"task opened",
		"component", "task",
		"task", t.ID,
		"subject", t.Subject,
		"phase", t.Phase.String(),
		"quorum", t.Quorum,
	)
	return t.ID, nil
}

// fill draws members for the open slots of a task and starts the commit
// phase once the quorum is complete
func (e *Engine) fill(t *Task, now uint64) error {
	need := t.QuorumSize - len(t.Quorum)
	if need <= 0 {
		return nil
	}
	if t.Timing.MaxParticipants > 0 {
		need = min(need, t.Timing.MaxParticipants-t.Participants)
		if need <= 0 {
			return ErrTaskFull
		}
	}
	rng := roster.NewSeededRand(e.config.Seed, t.Subject, t.Round, now)
	members, err := e.config.Roster.AvailableQuorum(
		need,
		rng,
		func(m roster.Member) bool {
			if _, ok := t.Submissions[m.ID]; ok {
				return false
			}
			if t.isParty(m.ID) {
				return false
			}
			acct, _ := e.config.Ledger.Account(m.ID)
			return acct.Free() >= t.StakePerTask
		},
	)
	if err != nil {
		return err
	}
	if err := e.reserve(members, t.StakePerTask); err != nil {
		return err
	}
	for _, id := range members {
		e.assign(t, id)
	}
	if len(t.Quorum) == t.QuorumSize {
		e.startCommit(t, now)
	}
	return nil
}

// reserve reserves stake for every member or for none of them
func (e *Engine) reserve(members []stake.AccountID, amount uint64) error {
	for i, id := range members {
		if err := e.config.Ledger.Reserve(id, amount); err != nil {
			for _, done := range members[:i] {
				_ = e.config.Ledger.Release(done, amount)
			}
			return err
		}
	}
	return nil
}

func (e *Engine) assign(t *Task, id stake.AccountID) {
	t.Quorum = append(t.Quorum, id)
	t.Submissions[id] = &Submission{
		Member:       id,
		StakeForTask: t.StakePerTask,
	}
	t.Participants++
}

func (e *Engine) startCommit(t *Task, now uint64) {
	t.Phase = PhaseCommitting
	t.BookingDeadline = 0
	t.CommitDeadline = now + t.Timing.CommitWindow
	// Members kept from before a reopen may all have committed already
	if t.allCommitted() {
		e.startReveal(t, now)
	}
}

func (e *Engine) startReveal(t *Task, now uint64) {
	t.Phase = PhaseRevealing
	t.RevealStart = now
	t.RevealEnd = now + t.Timing.RevealWindow
}

func (e *Engine) get(id ID) (*Task, error) {
	t, ok := e.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTask, id)
	}
	return t, nil
}

func wrongPhase(t *Task, want Phase) error {
	return fmt.Errorf(
		"%w: task %d is %s, need %s",
		ErrWrongPhase,
		t.ID,
		t.Phase,
		want,
	)
}

// Book lets an Active member take an open slot of a task in Booking. Drawn
// tasks accept bookings only while slots dropped at a commit deadline are
// open. The task's external party can never book it
func (e *Engine) Book(id ID, member stake.AccountID, now uint64) error {
	t, err := e.get(id)
	if err != nil {
		return err
	}
	if t.Phase != PhaseBooking {
		return wrongPhase(t, PhaseBooking)
	}
	// Drawn tasks only take bookings for slots dropped at a commit deadline
	if !t.Voluntary && len(t.Dropped()) == 0 {
		return fmt.Errorf("%w: task %d", ErrNotBookable, t.ID)
	}
	m, ok := e.config.Roster.Member(member)
	if !ok || m.Status != roster.StatusActive || t.isParty(member) {
		return fmt.Errorf("%w: %s", ErrNotEligible, member)
	}
	if _, ok := t.Submissions[member]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyBooked, member)
	}
	if len(t.Quorum) >= t.QuorumSize ||
		(t.Timing.MaxParticipants > 0 && t.Participants >= t.Timing.MaxParticipants) {
		return ErrTaskFull
	}
	if err := e.config.Ledger.Reserve(member, t.StakePerTask); err != nil {
		return err
	}
	e.assign(t, member)
	if len(t.Quorum) == t.QuorumSize {
		e.startCommit(t, now)
	}
	return nil
}

// SubmitCommitment records a member's commitment. The last expected
// commitment opens the reveal window
func (e *Engine) SubmitCommitment(
	id ID,
	member stake.AccountID,
	commitment digest.Digest,
	now uint64,
) error {
	t, err := e.get(id)
	if err != nil {
		return err
	}
	if t.Phase != PhaseCommitting {
		return wrongPhase(t, PhaseCommitting)
	}
	if !t.inQuorum(member) {
		return fmt.Errorf("%w: %s", ErrNotAssigned, member)
	}
	sub := t.Submissions[member]
	if sub.Commitment != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyCommitted, member)
	}
	for _, other := range t.Submissions {
		if other.Commitment != nil && *other.Commitment == commitment {
			return fmt.Errorf("%w: %s", ErrDuplicateCommitment, commitment)
		}
	}
	c := commitment
	sub.Commitment = &c
	sub.CommitTime = now
	if t.allCommitted() {
		e.startReveal(t, now)
	}
	return nil
}

// SubmitReveal opens a member's commitment. The reveal must hash to the
// commitment and, when the task has a counterpart commitment, its core must
// hash to the counterpart
func (e *Engine) SubmitReveal(
	id ID,
	member stake.AccountID,
	reveal Reveal,
	now uint64,
) error {
	t, err := e.get(id)
	if err != nil {
		return err
	}
	if t.Phase != PhaseRevealing {
		return wrongPhase(t, PhaseRevealing)
	}
	if !t.inQuorum(member) {
		return fmt.Errorf("%w: %s", ErrNotAssigned, member)
	}
	sub := t.Submissions[member]
	if sub.Commitment == nil {
		return fmt.Errorf("%w: %s", ErrNotCommitted, member)
	}
	if sub.Revealed {
		return fmt.Errorf("%w: %s", ErrAlreadyRevealed, member)
	}
	computed := digest.Commit(
		e.config.Hasher,
		reveal.Core,
		reveal.Payload,
		reveal.Nonce,
		reveal.Support,
	)
	if computed != *sub.Commitment {
		return fmt.Errorf(
			"%w: got %s, committed %s",
			ErrCommitmentMismatch,
			computed,
			sub.Commitment,
		)
	}
	if t.Counterpart != nil {
		if core := e.config.Hasher.Sum(reveal.Core); core != *t.Counterpart {
			return fmt.Errorf(
				"%w: got %s, expected %s",
				ErrPayloadDoesNotMatchCounterpart,
				core,
				t.Counterpart,
			)
		}
	}
	sub.Revealed = true
	sub.Core = slices.Clone(reveal.Core)
	sub.Payload = slices.Clone(reveal.Payload)
	sub.Nonce = slices.Clone(reveal.Nonce)
	sub.Support = reveal.Support
	sub.RevealTime = now
	if t.allRevealed() {
		t.Phase = PhaseSummarizing
	}
	return nil
}

// Advance applies every deadline that has been reached at now. A deadline
// tick belongs to the next phase, so it must run before any submission for
// the same tick
func (e *Engine) Advance(now uint64) []Transition {
	var ret []Transition
	for _, id := range slices.Sorted(maps.Keys(e.tasks)) {
		t := e.tasks[id]
		from := t.Phase
		switch t.Phase {
		case PhaseBooking:
			if t.BookingDeadline == 0 || now < t.BookingDeadline {
				continue
			}
			if len(t.Quorum) == 0 {
				t.Phase = PhaseSummarizing
				t.BookingDeadline = 0
			} else {
				e.startCommit(t, now)
			}
		case PhaseCommitting:
			if now < t.CommitDeadline {
				continue
			}
			e.commitDeadline(t, now)
		case PhaseRevealing:
			if now < t.RevealEnd {
				continue
			}
			t.Phase = PhaseSummarizing
		default:
			continue
		}
		if t.Phase != from {
			ret = append(ret, Transition{Task: t.ID, Subject: t.Subject, From: from, To: t.Phase})
		}
	}
	return ret
}

func (e *Engine) commitDeadline(t *Task, now uint64) {
	var missing []stake.AccountID
	for _, id := range t.Quorum {
		if t.Submissions[id].Commitment == nil {
			missing = append(missing, id)
		}
	}
	canReopen := t.Timing.OnMissingCommit == MissingReopen &&
		(t.Timing.MaxParticipants == 0 || t.Participants < t.Timing.MaxParticipants)
	if len(missing) > 0 && canReopen {
		for _, id := range missing {
			t.Submissions[id].Dropped = true
		}
		t.Quorum = slices.DeleteFunc(t.Quorum, func(id stake.AccountID) bool {
			return slices.Contains(missing, id)
		})
		t.Phase = PhaseBooking
		t.CommitDeadline = 0
		t.BookingDeadline = now + t.Timing.BookingWindow
		e.config.Logger.Debug(
			"task slots reopened",
			"component", "task",
			"task", t.ID,
			"dropped", missing,
		)
		if !t.Voluntary {
			if err := e.fill(t, now); err != nil {
				e.config.Logger.Debug(
					"unable to fill reopened slots",
					"component", "task",
					"task", t.ID,
					"error", err,
				)
			}
		}
		return
	}
	if len(missing) < len(t.Quorum) {
		e.startReveal(t, now)
		return
	}
	t.Phase = PhaseSummarizing
}

// Retry attempts to fill non-voluntary tasks waiting in Booking for a large
// enough pool
func (e *Engine) Retry(now uint64) []Transition {
	var ret []Transition
	for _, id := range slices.Sorted(maps.Keys(e.tasks)) {
		t := e.tasks[id]
		if t.Phase != PhaseBooking || t.Voluntary {
			continue
		}
		if err := e.fill(t, now); err != nil {
			if !errors.Is(err, roster.ErrInsufficientPool) &&
				!errors.Is(err, ErrTaskFull) {
				e.config.Logger.Warn(
					"failed to fill task",
					"component", "task",
					"task", t.ID,
					"error", err,
				)
			}
			continue
		}
		if t.Phase != PhaseBooking {
			ret = append(ret, Transition{Task: t.ID, Subject: t.Subject, From: PhaseBooking, To: t.Phase})
		}
	}
	return ret
}

// Reopen starts a fresh round with a new quorum after a summary without
// consensus. The stake of the previous quorum must already be settled. When
// the pool is too small the task waits in Booking and is retried
func (e *Engine) Reopen(id ID, now uint64) error {
	t, err := e.get(id)
	if err != nil {
		return err
	}
	if t.Phase != PhaseSummarizing {
		return wrongPhase(t, PhaseSummarizing)
	}
	if t.Round >= t.Timing.MaxRounds {
		return fmt.Errorf("%w: round %d of %d", ErrRoundsExhausted, t.Round, t.Timing.MaxRounds)
	}
	t.Round++
	t.Quorum = nil
	t.Submissions = make(map[stake.AccountID]*Submission)
	t.Participants = 0
	t.Phase = PhaseBooking
	t.BookingDeadline = 0
	t.CommitDeadline = 0
	t.RevealStart = 0
	t.RevealEnd = 0
	if t.Voluntary {
		t.BookingDeadline = now + t.Timing.BookingWindow
		return nil
	}
	if err := e.fill(t, now); err != nil {
		e.config.Logger.Info(
			"task waiting for members",
			"component", "task",
			"task", t.ID,
			"round", t.Round,
			"error", err,
		)
	}
	return nil
}

// Cancel removes a task that has no commitments and returns all reserved
// stake and bonds
func (e *Engine) Cancel(id ID) error {
	t, err := e.get(id)
	if err != nil {
		return err
	}
	if t.Phase != PhaseBooking && t.Phase != PhaseCommitting {
		return wrongPhase(t, PhaseCommitting)
	}
	if t.Commitments() > 0 {
		return ErrCommitmentsExist
	}
	for _, memberID := range t.Assigned() {
		if err := e.config.Ledger.Release(memberID, t.Submissions[memberID].StakeForTask); err != nil {
			return err
		}
	}
	if t.Party != nil {
		if err := e.config.Ledger.Release(t.Party.Account, t.Party.Bond); err != nil {
			return err
		}
	}
	delete(e.tasks, id)
	delete(e.subjects, t.Subject)
	return nil
}

// Finish records the outcome of a summarized task
func (e *Engine) Finish(id ID, outcome consensus.Outcome) error {
	t, err := e.get(id)
	if err != nil {
		return err
	}
	if t.Phase != PhaseSummarizing {
		return wrongPhase(t, PhaseSummarizing)
	}
	t.Phase = PhaseFinished
	t.Outcome = outcome
	return nil
}

// Archive removes a finished task and returns it
func (e *Engine) Archive(id ID) (Task, error) {
	t, err := e.get(id)
	if err != nil {
		return Task{}, err
	}
	if t.Phase != PhaseFinished {
		return Task{}, wrongPhase(t, PhaseFinished)
	}
	delete(e.tasks, id)
	delete(e.subjects, t.Subject)
	return t.Clone(), nil
}

// Task returns a copy of the specified task
func (e *Engine) Task(id ID) (Task, bool) {
	t, ok := e.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.Clone(), true
}

// Tasks returns copies of all open tasks, ordered by ID. All phases are
// returned when none are given
func (e *Engine) Tasks(phases ...Phase) []Task {
	ret := []Task{}
	for _, id := range slices.Sorted(maps.Keys(e.tasks)) {
		t := e.tasks[id]
		if len(phases) > 0 && !slices.Contains(phases, t.Phase) {
			continue
		}
		ret = append(ret, t.Clone())
	}
	return ret
}

func (e *Engine) NextID() ID {
	return e.nextID
}

// Restore replaces the open tasks, used when loading persisted state
func (e *Engine) Restore(tasks []Task, nextID ID) {
	e.tasks = make(map[ID]*Task, len(tasks))
	e.subjects = make(map[string]ID, len(tasks))
	for _, t := range tasks {
		tmp := t.Clone()
		e.tasks[t.ID] = &tmp
		e.subjects[t.Subject] = t.ID
		if t.ID >= nextID {
			nextID = t.ID + 1
		}
	}
	e.nextID = max(nextID, 1)
}

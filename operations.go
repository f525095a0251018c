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

package attest

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/blinklabs-io/attest/digest"
	"github.com/blinklabs-io/attest/event"
	"github.com/blinklabs-io/attest/roster"
	"github.com/blinklabs-io/attest/slash"
	"github.com/blinklabs-io/attest/stake"
	"github.com/blinklabs-io/attest/task"
)

const (
	TaskKindOnboarding  = "onboarding"
	TaskKindFaultReport = "fault_report"
)

type OpenTaskRequest struct {
	Subject string
	// Kind selects the timing policy. Both onboarding and fault_report tasks
	// draw their quorum at open
	Kind string
	// QuorumSize defaults to the configured quorum size
	QuorumSize int
	// Timing overrides the timing policy of the kind. Kinds other than
	// onboarding and fault_report require it
	Timing *task.TimingPolicy
	// Counterpart is an independent commitment to the subject's core fields
	Counterpart *digest.Digest
	Party       *task.ExternalParty
	// Voluntary opens the task in Booking with no quorum; members take slots
	// with BookTask until the booking window closes. The timing policy needs a
	// booking window
	Voluntary bool
}

// RegisterMember adds a committee member. The member becomes eligible once it
// has set a credential and locked enough stake
func (c *Committee) RegisterMember(id stake.AccountID) (err error) {
	done, err := c.begin("register_member")
	if err != nil {
		return err
	}
	defer done(&err)
	if err := c.roster.Register(id); err != nil {
		return err
	}
	c.emit(
		event.MemberStatusEventType,
		event.MemberStatusEvent{
			Member: string(id),
			To:     roster.StatusWaitingCredential.String(),
		},
	)
	return nil
}

// SetCredential sets the ed25519 public key the member signs submissions with
func (c *Committee) SetCredential(id stake.AccountID, pubkey []byte) (err error) {
	done, err := c.begin("set_credential")
	if err != nil {
		return err
	}
	defer done(&err)
	return c.roster.SetCredential(id, pubkey)
}

// RegisterParty opens a stake account for an external party, such as a
// machine owner or a fault reporter, with an initial deposit to bond tasks
// with
func (c *Committee) RegisterParty(id stake.AccountID, deposit uint64) (err error) {
	done, err := c.begin("register_party")
	if err != nil {
		return err
	}
	defer done(&err)
	if deposit == 0 {
		return ErrInvalidAmount
	}
	if _, ok := c.roster.Member(id); ok {
		return fmt.Errorf("%w: %s is a member", roster.ErrAlreadyRegistered, id)
	}
	if _, ok := c.ledger.Account(id); ok {
		return fmt.Errorf("%w: %s", roster.ErrAlreadyRegistered, id)
	}
	return c.ledger.AddStake(id, deposit)
}

// AddStake locks more stake for a member or a registered party
func (c *Committee) AddStake(id stake.AccountID, amount uint64) (err error) {
	done, err := c.begin("add_stake")
	if err != nil {
		return err
	}
	defer done(&err)
	if amount == 0 {
		return ErrInvalidAmount
	}
	if err := c.checkAccount(id); err != nil {
		return err
	}
	return c.ledger.AddStake(id, amount)
}

// RemoveStake unlocks free stake
func (c *Committee) RemoveStake(id stake.AccountID, amount uint64) (err error) {
	done, err := c.begin("remove_stake")
	if err != nil {
		return err
	}
	defer done(&err)
	if amount == 0 {
		return ErrInvalidAmount
	}
	if err := c.checkAccount(id); err != nil {
		return err
	}
	return c.ledger.RemoveStake(id, amount)
}

func (c *Committee) checkAccount(id stake.AccountID) error {
	if _, ok := c.roster.Member(id); ok {
		return nil
	}
	if _, ok := c.ledger.Account(id); ok {
		return nil
	}
	return fmt.Errorf("%w: %s", roster.ErrUnknownMember, id)
}

// SetChill stops or resumes quorum draws for a member
func (c *Committee) SetChill(id stake.AccountID, chill bool) (err error) {
	done, err := c.begin("set_chill")
	if err != nil {
		return err
	}
	defer done(&err)
	return c.roster.SetChill(id, chill)
}

// Exit removes a chilled member without reserved stake and returns the
// withdrawn stake
func (c *Committee) Exit(id stake.AccountID) (amount uint64, err error) {
	done, err := c.begin("exit")
	if err != nil {
		return 0, err
	}
	defer done(&err)
	from, _ := c.roster.Member(id)
	amount, err = c.roster.Exit(id)
	if err != nil {
		return 0, err
	}
	delete(c.violations, id)
	c.emit(
		event.MemberStatusEventType,
		event.MemberStatusEvent{
			Member: string(id),
			From:   from.Status.String(),
		},
	)
	return amount, nil
}

// ClaimReward moves the pending reward of an account to claimed and returns
// the claimed amount
func (c *Committee) ClaimReward(id stake.AccountID) (amount uint64, err error) {
	done, err := c.begin("claim_reward")
	if err != nil {
		return 0, err
	}
	defer done(&err)
	return c.ledger.ClaimReward(id)
}

// OpenTask creates a task for a subject and returns its ID. Unless the request
// is voluntary it fails with roster.ErrInsufficientPool when fewer Active
// members than the quorum size can cover the stake
func (c *Committee) OpenTask(req OpenTaskRequest) (id task.ID, err error) {
	done, err := c.begin("open_task")
	if err != nil {
		return 0, err
	}
	defer done(&err)
	var timing task.TimingPolicy
	switch req.Kind {
	case TaskKindOnboarding:
		timing = c.config.onboardingTiming
	case TaskKindFaultReport:
		timing = c.config.faultReportTiming
	default:
		if req.Timing == nil {
			return 0, fmt.Errorf("%w: %q", ErrUnknownTaskKind, req.Kind)
		}
	}
	if req.Timing != nil {
		timing = *req.Timing
	}
	quorumSize := req.QuorumSize
	if quorumSize == 0 {
		quorumSize = c.config.quorumSize
	}
	stakePerTask, err := c.stakePerTask()
	if err != nil {
		return 0, err
	}
	id, err = c.engine.Open(
		task.OpenRequest{
			Subject:      req.Subject,
			Kind:         req.Kind,
			QuorumSize:   quorumSize,
			Timing:       timing,
			StakePerTask: stakePerTask,
			Counterpart:  req.Counterpart,
			Party:        req.Party,
			Voluntary:    req.Voluntary,
		},
		c.lastTick,
	)
	if err != nil {
		return 0, err
	}
	t, _ := c.engine.Task(id)
	quorum := make([]string, 0, len(t.Quorum))
	for _, member := range t.Quorum {
		quorum = append(quorum, string(member))
	}
	c.metrics.tasksOpenedTotal.WithLabelValues(req.Kind).Inc()
	c.emit(
		event.TaskOpenedEventType,
		event.TaskOpenedEvent{
			TaskID:  uint64(id),
			Subject: t.Subject,
			Kind:    t.Kind,
			Quorum:  quorum,
		},
	)
	c.logger.Info(
		"task opened",
		"component", "committee",
		"task", id,
		"subject", t.Subject,
		"kind", t.Kind,
		"phase", t.Phase.String(),
		"stake_per_task", stakePerTask,
	)
	return id, nil
}

func (c *Committee) stakePerTask() (uint64, error) {
	if c.config.stablePerTask == 0 {
		return c.config.stakePerTask, nil
	}
	rate, err := c.config.priceOracle.Rate()
	if err != nil {
		return 0, fmt.Errorf("price oracle: %w", err)
	}
	hi, amount := bits.Mul64(c.config.stablePerTask, rate)
	if hi != 0 {
		return 0, fmt.Errorf("%w: stake per task at rate %d", stake.ErrOverflow, rate)
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: zero stake per task at rate %d", ErrInvalidAmount, rate)
	}
	return amount, nil
}

// CancelTask removes a task that has no commitments and returns all reserved
// stake
func (c *Committee) CancelTask(id task.ID) (err error) {
	done, err := c.begin("cancel_task")
	if err != nil {
		return err
	}
	defer done(&err)
	t, ok := c.engine.Task(id)
	if !ok {
		return fmt.Errorf("%w: %d", task.ErrUnknownTask, id)
	}
	if err := c.engine.Cancel(id); err != nil {
		return err
	}
	c.emit(
		event.TaskPhaseEventType,
		event.TaskPhaseEvent{
			TaskID:  uint64(id),
			Subject: t.Subject,
			From:    t.Phase.String(),
			To:      "canceled",
			Round:   t.Round,
		},
	)
	return nil
}

// BookTask takes an open slot for a member: any slot of a voluntary task, or
// a slot reopened after a missed commit deadline
func (c *Committee) BookTask(id task.ID, member stake.AccountID) (err error) {
	done, err := c.begin("book_task")
	if err != nil {
		return err
	}
	defer done(&err)
	defer c.trackPhase(id)()
	return c.engine.Book(id, member, c.lastTick)
}

// SubmitCommitment records a member's commitment. When signature checks are
// on, sig must be the member's signature over CommitmentMessage
func (c *Committee) SubmitCommitment(
	id task.ID,
	member stake.AccountID,
	commitment digest.Digest,
	sig []byte,
) (err error) {
	done, err := c.begin("submit_commitment")
	if err != nil {
		return err
	}
	defer done(&err)
	if c.config.verifier != nil {
		if err := c.verify(id, member, sig, func(round uint32) ([]byte, error) {
			return CommitmentMessage(id, round, member, commitment)
		}); err != nil {
			return err
		}
	}
	defer c.trackPhase(id)()
	if err := c.engine.SubmitCommitment(id, member, commitment, c.lastTick); err != nil {
		return c.checkIntegrity(id, member, err)
	}
	return nil
}

// SubmitReveal opens a member's commitment. When signature checks are on, sig
// must be the member's signature over RevealMessage
func (c *Committee) SubmitReveal(
	id task.ID,
	member stake.AccountID,
	reveal task.Reveal,
	sig []byte,
) (err error) {
	done, err := c.begin("submit_reveal")
	if err != nil {
		return err
	}
	defer done(&err)
	if c.config.verifier != nil {
		if err := c.verify(id, member, sig, func(round uint32) ([]byte, error) {
			return RevealMessage(id, round, member, reveal)
		}); err != nil {
			return err
		}
	}
	defer c.trackPhase(id)()
	if err := c.engine.SubmitReveal(id, member, reveal, c.lastTick); err != nil {
		return c.checkIntegrity(id, member, err)
	}
	return nil
}

func (c *Committee) verify(
	id task.ID,
	member stake.AccountID,
	sig []byte,
	message func(round uint32) ([]byte, error),
) error {
	t, ok := c.engine.Task(id)
	if !ok {
		return fmt.Errorf("%w: %d", task.ErrUnknownTask, id)
	}
	m, ok := c.roster.Member(member)
	if !ok {
		return fmt.Errorf("%w: %s", roster.ErrUnknownMember, member)
	}
	msg, err := message(t.Round)
	if err != nil {
		return fmt.Errorf("encode submission message: %w", err)
	}
	if !c.config.verifier.Verify(m.Credential, msg, sig) {
		return c.checkIntegrity(id, member, fmt.Errorf("%w: %s", ErrInvalidSignature, member))
	}
	return nil
}

// checkIntegrity counts integrity violations per member and reports them to
// the embedder. It returns err unchanged
func (c *Committee) checkIntegrity(id task.ID, member stake.AccountID, err error) error {
	if !errors.Is(err, ErrIntegrityViolation) {
		return err
	}
	c.violations[member]++
	c.metrics.integrityViolations.Inc()
	c.logger.Warn(
		"integrity violation",
		"component", "committee",
		"task", id,
		"member", member,
		"count", c.violations[member],
		"error", err,
	)
	c.emit(
		event.IntegrityViolationEventType,
		event.IntegrityViolationEvent{
			Member: string(member),
			TaskID: uint64(id),
			Error:  err.Error(),
			Count:  c.violations[member],
		},
	)
	return err
}

// trackPhase returns a func emitting a phase event if the task changed phase
// in between
func (c *Committee) trackPhase(id task.ID) func() {
	before, ok := c.engine.Task(id)
	if !ok {
		return func() {}
	}
	return func() {
		after, ok := c.engine.Task(id)
		if !ok || after.Phase == before.Phase {
			return
		}
		c.emitTransitions([]task.Transition{
			{Task: id, Subject: after.Subject, From: before.Phase, To: after.Phase},
		})
	}
}

func (c *Committee) emitTransitions(transitions []task.Transition) {
	for _, tr := range transitions {
		var round uint32
		if t, ok := c.engine.Task(tr.Task); ok {
			round = t.Round
		}
		c.emit(
			event.TaskPhaseEventType,
			event.TaskPhaseEvent{
				TaskID:  uint64(tr.Task),
				Subject: tr.Subject,
				From:    tr.From.String(),
				To:      tr.To.String(),
				Round:   round,
			},
		)
	}
}

// ApplyForReview appeals a pending slash. Only the slashed account may
// appeal, once, before the slash executes. The bond is reserved from the
// applicant's stake
func (c *Committee) ApplyForReview(
	id slash.ID,
	applicant stake.AccountID,
	bond uint64,
	reason string,
) (err error) {
	done, err := c.begin("apply_for_review")
	if err != nil {
		return err
	}
	defer done(&err)
	if err := c.slashes.ApplyForReview(id, applicant, bond, reason, c.lastTick); err != nil {
		return err
	}
	r, _ := c.slashes.Record(id)
	c.metrics.appealsTotal.Inc()
	c.emit(event.SlashAppealedEventType, slashEvent(r))
	return nil
}

// ResolveReview resolves an appeal on behalf of an appeal authority.
// Accepting cancels the slash and returns the bond; rejecting forfeits the
// bond and the slash executes as scheduled
func (c *Committee) ResolveReview(
	authority stake.AccountID,
	id slash.ID,
	accept bool,
) (err error) {
	done, err := c.begin("resolve_review")
	if err != nil {
		return err
	}
	defer done(&err)
	if !c.isAuthority(authority) {
		return fmt.Errorf("%w: %s", ErrNotAuthority, authority)
	}
	r, inverse, err := c.slashes.ResolveReview(id, accept, c.lastTick)
	if err != nil {
		return err
	}
	if !accept {
		c.emit(event.SlashAppealRejectedEventType, slashEvent(r))
		return nil
	}
	c.unsaved.slashes = append(c.unsaved.slashes, r)
	c.metrics.slashesClosedTotal.WithLabelValues(r.Status.String()).Inc()
	c.emit(event.SlashCanceledEventType, slashEvent(r))
	c.logger.Info(
		"slash canceled on appeal",
		"component", "committee",
		"slash", id,
		"authority", authority,
		"inverse", len(inverse),
	)
	return nil
}

func slashEvent(r slash.Record) event.SlashEvent {
	return event.SlashEvent{
		SlashID: uint64(r.ID),
		TaskID:  r.TaskID,
		Target:  string(r.Target),
		Amount:  r.Amount,
		Reason:  r.Reason.String(),
		ExecAt:  r.ExecAt,
	}
}

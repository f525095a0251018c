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
	"fmt"
	"maps"
	"slices"

	"github.com/blinklabs-io/attest/consensus"
	"github.com/blinklabs-io/attest/digest"
	"github.com/blinklabs-io/attest/internal/errkind"
	"github.com/blinklabs-io/attest/stake"
)

var (
	ErrUnknownTask         = errkind.Policy("unknown task")
	ErrWrongPhase          = errkind.Policy("task is not in the required phase")
	ErrNotAssigned         = errkind.Policy("member is not assigned to task")
	ErrAlreadyCommitted    = errkind.Policy("member already committed")
	ErrDuplicateCommitment = errkind.Policy("commitment already submitted by another member")
	ErrNotCommitted        = errkind.Policy("member has no commitment")
	ErrAlreadyRevealed     = errkind.Policy("member already revealed")
	ErrCommitmentsExist    = errkind.Policy("task has commitments")
	ErrAlreadyBooked       = errkind.Policy("member already booked task")
	ErrTaskFull            = errkind.Policy("task has no open slots")
	ErrNotBookable         = errkind.Policy("task has no reopened slots to book")
	ErrNotEligible         = errkind.Policy("member is not eligible")
	ErrSubjectBusy         = errkind.Policy("subject already has an open task")
	ErrRoundsExhausted     = errkind.Policy("task rounds exhausted")
	ErrInvalidTiming       = errkind.Policy("invalid timing policy")
	ErrInvalidRequest      = errkind.Policy("invalid task request")

	ErrCommitmentMismatch             = errkind.Integrity("reveal does not match commitment")
	ErrPayloadDoesNotMatchCounterpart = errkind.Integrity("reveal does not match counterpart commitment")
)

type ID uint64

type Phase uint8

const (
	PhaseBooking Phase = iota
	PhaseCommitting
	PhaseRevealing
	PhaseSummarizing
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseBooking:
		return "booking"
	case PhaseCommitting:
		return "committing"
	case PhaseRevealing:
		return "revealing"
	case PhaseSummarizing:
		return "summarizing"
	case PhaseFinished:
		return "finished"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// MissingCommitPolicy decides what happens to quorum members that haven't
// committed by the commit deadline
type MissingCommitPolicy uint8

const (
	// MissingUnruly keeps the members in the quorum, to be judged unruly
	MissingUnruly MissingCommitPolicy = iota
	// MissingReopen drops the members and reopens their slots for booking
	MissingReopen
)

func (p MissingCommitPolicy) String() string {
	switch p {
	case MissingUnruly:
		return "unruly"
	case MissingReopen:
		return "reopen"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// Tick constants for 30 second ticks
const (
	HalfHour  uint64 = 60
	OneHour   uint64 = 120
	ThreeHour uint64 = 360
	OneDay    uint64 = 2880
	TwoDay    uint64 = 5760
)

// TimingPolicy parameterizes the phase windows of a task, in ticks
type TimingPolicy struct {
	CommitWindow    uint64
	RevealWindow    uint64
	BookingWindow   uint64
	MaxRounds       uint32
	OnMissingCommit MissingCommitPolicy
	// MaxParticipants caps the total number of members ever booked in a round
	// when slots are reopened. Zero means no cap
	MaxParticipants int
}

// OnboardingTiming allows 36 hours for commitments and 12 more for reveals.
// Members missing the commit deadline are unruly
func OnboardingTiming() TimingPolicy {
	return TimingPolicy{
		CommitWindow:    4320,
		RevealWindow:    TwoDay - 4320,
		BookingWindow:   OneDay,
		MaxRounds:       3,
		OnMissingCommit: MissingUnruly,
	}
}

// FaultReportTiming gives members an hour each to commit and reveal. Slots of
// members missing the commit deadline are reopened for three hours and refilled
// up to six participants
func FaultReportTiming() TimingPolicy {
	return TimingPolicy{
		CommitWindow:    OneHour,
		RevealWindow:    OneHour,
		BookingWindow:   ThreeHour,
		MaxRounds:       2,
		OnMissingCommit: MissingReopen,
		MaxParticipants: 6,
	}
}

func (p TimingPolicy) Validate() error {
	if p.CommitWindow == 0 || p.RevealWindow == 0 {
		return fmt.Errorf("%w: commit and reveal windows must be non-zero", ErrInvalidTiming)
	}
	if p.MaxRounds == 0 {
		return fmt.Errorf("%w: max rounds must be non-zero", ErrInvalidTiming)
	}
	if p.OnMissingCommit == MissingReopen && p.BookingWindow == 0 {
		return fmt.Errorf("%w: reopening slots needs a booking window", ErrInvalidTiming)
	}
	if p.MaxParticipants < 0 {
		return fmt.Errorf("%w: negative participant cap", ErrInvalidTiming)
	}
	return nil
}

// ExternalParty is a non-member account with a bond at stake on the outcome,
// such as a machine owner or a fault reporter
type ExternalParty struct {
	Account stake.AccountID
	Bond    uint64
	// FaultOn is the outcome that puts the party at fault
	FaultOn consensus.Outcome
}

// Submission is a member's commitment and reveal. Both are write-once
type Submission struct {
	Member       stake.AccountID
	Commitment   *digest.Digest
	CommitTime   uint64
	Revealed     bool
	Core         []byte
	Payload      []byte
	Nonce        []byte
	Support      bool
	RevealTime   uint64
	StakeForTask uint64
	// Dropped members missed the commit deadline and had their slot reopened
	Dropped bool
}

// Reveal is the opening of a commitment
type Reveal struct {
	Core    []byte
	Payload []byte
	Nonce   []byte
	Support bool
}

type Task struct {
	ID              ID
	Subject         string
	Kind            string
	QuorumSize      int
	Quorum          []stake.AccountID
	Submissions     map[stake.AccountID]*Submission
	Phase           Phase
	Round           uint32
	Participants    int
	Voluntary       bool
	CreatedAt       uint64
	BookingDeadline uint64
	CommitDeadline  uint64
	RevealStart     uint64
	RevealEnd       uint64
	Counterpart     *digest.Digest
	StakePerTask    uint64
	Party           *ExternalParty
	Timing          TimingPolicy
	Outcome         consensus.Outcome
}

// Clone returns a deep copy
func (t *Task) Clone() Task {
	ret := *t
	ret.Quorum = slices.Clone(t.Quorum)
	ret.Submissions = make(map[stake.AccountID]*Submission, len(t.Submissions))
	for id, sub := range t.Submissions {
		tmp := *sub
		if sub.Commitment != nil {
			c := *sub.Commitment
			tmp.Commitment = &c
		}
		tmp.Core = slices.Clone(sub.Core)
		tmp.Payload = slices.Clone(sub.Payload)
		tmp.Nonce = slices.Clone(sub.Nonce)
		ret.Submissions[id] = &tmp
	}
	if t.Counterpart != nil {
		c := *t.Counterpart
		ret.Counterpart = &c
	}
	if t.Party != nil {
		p := *t.Party
		ret.Party = &p
	}
	return ret
}

// Assigned returns every member holding task stake, including dropped ones
func (t *Task) Assigned() []stake.AccountID {
	return slices.Sorted(maps.Keys(t.Submissions))
}

// Dropped returns the members dropped for missing a commit deadline
func (t *Task) Dropped() []stake.AccountID {
	var ret []stake.AccountID
	for _, id := range t.Assigned() {
		if t.Submissions[id].Dropped {
			ret = append(ret, id)
		}
	}
	return ret
}

// Commitments returns the number of members that have committed
func (t *Task) Commitments() int {
	count := 0
	for _, sub := range t.Submissions {
		if sub.Commitment != nil {
			count++
		}
	}
	return count
}

// Reveals returns the accepted reveals in quorum order
func (t *Task) Reveals() []consensus.Revealed {
	var ret []consensus.Revealed
	for _, id := range t.Quorum {
		sub := t.Submissions[id]
		if sub == nil || !sub.Revealed {
			continue
		}
		ret = append(ret, consensus.Revealed{
			Member:  id,
			Core:    sub.Core,
			Payload: sub.Payload,
			Support: sub.Support,
		})
	}
	return ret
}

// Summarize runs the consensus summarizer over the task's reveals. Dropped
// members count as unruly
func (t *Task) Summarize() consensus.Summary {
	return consensus.Summarize(t.Assigned(), t.Reveals())
}

func (t *Task) inQuorum(id stake.AccountID) bool {
	return slices.Contains(t.Quorum, id)
}

// isParty reports whether id holds the task's external party bond
func (t *Task) isParty(id stake.AccountID) bool {
	return t.Party != nil && t.Party.Account == id
}

func (t *Task) allCommitted() bool {
	for _, id := range t.Quorum {
		if t.Submissions[id].Commitment == nil {
			return false
		}
	}
	return len(t.Quorum) > 0
}

func (t *Task) allRevealed() bool {
	for _, id := range t.Quorum {
		sub := t.Submissions[id]
		if sub.Commitment != nil && !sub.Revealed {
			return false
		}
	}
	return true
}

// Transition records a phase change
type Transition struct {
	Task    ID
	Subject string
	From    Phase
	To      Phase
}

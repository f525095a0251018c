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

package slash

import (
	"errors"
	"fmt"
	"slices"

	"github.com/blinklabs-io/attest/consensus"
	"github.com/blinklabs-io/attest/stake"
)

// DefaultReviewDelay is two days of 30 second ticks
const DefaultReviewDelay uint64 = 5760

var ErrInvalidPolicy = errors.New("invalid slash policy")

// Policy holds the slash percentages, in basis points of the task stake or of
// an external party's bond
type Policy struct {
	UnrulyBP        uint64 `yaml:"unrulyBasisPoints"       envconfig:"UNRULY_BP"`
	InconsistentBP  uint64 `yaml:"inconsistentBasisPoints" envconfig:"INCONSISTENT_BP"`
	LosingVoteBP    uint64 `yaml:"losingVoteBasisPoints"   envconfig:"LOSING_VOTE_BP"`
	ExternalPartyBP uint64 `yaml:"externalPartyBasisPoints" envconfig:"EXTERNAL_PARTY_BP"`
	// ConfirmReward is a flat bonus for every member on the winning side
	ConfirmReward uint64 `yaml:"confirmReward" envconfig:"CONFIRM_REWARD"`
	ReviewDelay   uint64 `yaml:"reviewDelay"   envconfig:"REVIEW_DELAY"`
	// AppealBond is the minimum appeal bond. Zero means the stake reserved by
	// the slashed obligation
	AppealBond uint64 `yaml:"appealBond" envconfig:"APPEAL_BOND"`
	// InverseOnCancel slashes the reward targets of a canceled record in favor
	// of its target
	InverseOnCancel bool `yaml:"inverseOnCancel" envconfig:"INVERSE_ON_CANCEL"`
}

func DefaultPolicy() Policy {
	return Policy{
		UnrulyBP:        stake.BasisPoints,
		InconsistentBP:  stake.BasisPoints,
		LosingVoteBP:    stake.BasisPoints,
		ExternalPartyBP: stake.BasisPoints,
		ReviewDelay:     DefaultReviewDelay,
		InverseOnCancel: true,
	}
}

func (p Policy) Validate() error {
	for name, bp := range map[string]uint64{
		"unruly":         p.UnrulyBP,
		"inconsistent":   p.InconsistentBP,
		"losing vote":    p.LosingVoteBP,
		"external party": p.ExternalPartyBP,
	} {
		if bp > stake.BasisPoints {
			return fmt.Errorf("%w: %s basis points %d above %d", ErrInvalidPolicy, name, bp, stake.BasisPoints)
		}
	}
	if p.ReviewDelay == 0 {
		return fmt.Errorf("%w: review delay must be non-zero", ErrInvalidPolicy)
	}
	return nil
}

// Party is an external party's bond as seen by the planner
type Party struct {
	Account stake.AccountID
	Bond    uint64
	FaultOn consensus.Outcome
}

// PlanInput is a summarized task
type PlanInput struct {
	TaskID       uint64
	Subject      string
	StakePerTask uint64
	// Assigned is every member holding StakePerTask for the task
	Assigned []stake.AccountID
	Summary  consensus.Summary
	Party    *Party
	// Final is set when a NoConsensus outcome will not be retried
	Final bool
	Now   uint64
}

// Transfer is an immediate stake release or reward credit
type Transfer struct {
	Account stake.AccountID
	Amount  uint64
}

// Effects is the full set of stake effects of a summarized task. It is
// computed before anything is applied
type Effects struct {
	Releases []Transfer
	Rewards  []Transfer
	Records  []Record
	// PartyKept is set when the party bond stays reserved for another round
	PartyKept bool
}

// Plan computes the effects of a summary.
//
// Confirmed: valid supporters are released with a bonus, against voters lose
// LosingVoteBP to the valid supporters, invalid supporters lose
// InconsistentBP to the treasury. Refused: against voters are released with a
// bonus, every supporter loses LosingVoteBP to the against voters.
// NoConsensus: every voter is released. Unruly members lose UnrulyBP to the
// treasury whatever the outcome
func (p Policy) Plan(in PlanInput) (Effects, error) {
	var ret Effects
	s := in.Summary
	winners := s.Winners()
	for _, id := range in.Assigned {
		var (
			reason  Reason
			bp      uint64
			targets []stake.AccountID
		)
		switch {
		case slices.Contains(s.Unruly, id):
			reason, bp = ReasonUnruly, p.UnrulyBP
		case s.Outcome == consensus.OutcomeConfirmed && slices.Contains(s.Against, id):
			reason, bp, targets = ReasonLosingVote, p.LosingVoteBP, winners
		case s.Outcome == consensus.OutcomeConfirmed && slices.Contains(s.InvalidSupport, id):
			reason, bp = ReasonInconsistentSubmission, p.InconsistentBP
		case s.Outcome == consensus.OutcomeRefused &&
			(slices.Contains(s.ValidSupport, id) || slices.Contains(s.InvalidSupport, id)):
			reason, bp, targets = ReasonLosingVote, p.LosingVoteBP, winners
		default:
			ret.Releases = append(ret.Releases, Transfer{Account: id, Amount: in.StakePerTask})
			if p.ConfirmReward > 0 && slices.Contains(winners, id) {
				ret.Rewards = append(ret.Rewards, Transfer{Account: id, Amount: p.ConfirmReward})
			}
			continue
		}
		amount, err := stake.MulBasisPoints(in.StakePerTask, bp)
		if err != nil {
			return Effects{}, err
		}
		if amount == 0 {
			ret.Releases = append(ret.Releases, Transfer{Account: id, Amount: in.StakePerTask})
			continue
		}
		ret.Records = append(ret.Records, p.record(in, id, TargetMember, amount, in.StakePerTask, reason, targets))
	}
	if in.Party != nil {
		switch {
		case s.Outcome == in.Party.FaultOn:
			amount, err := stake.MulBasisPoints(in.Party.Bond, p.ExternalPartyBP)
			if err != nil {
				return Effects{}, err
			}
			if amount == 0 {
				ret.Releases = append(ret.Releases, Transfer{Account: in.Party.Account, Amount: in.Party.Bond})
				break
			}
			ret.Records = append(
				ret.Records,
				p.record(in, in.Party.Account, TargetParty, amount, in.Party.Bond, ReasonExternalPartyAtFault, winners),
			)
		case s.Outcome == consensus.OutcomeNoConsensus && !in.Final:
			ret.PartyKept = true
		default:
			ret.Releases = append(ret.Releases, Transfer{Account: in.Party.Account, Amount: in.Party.Bond})
		}
	}
	return ret, nil
}

func (p Policy) record(
	in PlanInput,
	target stake.AccountID,
	kind TargetKind,
	amount uint64,
	reserved uint64,
	reason Reason,
	rewardTargets []stake.AccountID,
) Record {
	return Record{
		TaskID:        in.TaskID,
		Subject:       in.Subject,
		Target:        target,
		TargetKind:    kind,
		Amount:        amount,
		Reserved:      reserved,
		Reason:        reason,
		RewardTargets: slices.Clone(rewardTargets),
		CreatedAt:     in.Now,
		ExecAt:        in.Now + p.ReviewDelay,
		Status:        StatusPending,
	}
}

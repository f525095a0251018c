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

package task_test

import (
	"crypto/ed25519"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/attest/consensus"
	"github.com/blinklabs-io/attest/digest"
	"github.com/blinklabs-io/attest/internal/errkind"
	"github.com/blinklabs-io/attest/roster"
	"github.com/blinklabs-io/attest/stake"
	"github.com/blinklabs-io/attest/task"
)

const testStakePerTask = 1000

type testEnv struct {
	ledger *stake.Ledger
	roster *roster.Roster
	engine *task.Engine
}

func newTestEnv(t *testing.T, members int) *testEnv {
	t.Helper()
	l := stake.NewLedger(nil)
	r := roster.New(l, roster.Params{Baseline: 1000, MinFreeBasisPoints: 0}, nil)
	for i := range members {
		addMember(t, l, r, stake.AccountID(fmt.Sprintf("member-%02d", i)))
	}
	e := task.NewEngine(task.EngineConfig{
		Ledger: l,
		Roster: r,
		Seed:   []byte("test"),
	})
	return &testEnv{ledger: l, roster: r, engine: e}
}

func addMember(t *testing.T, l *stake.Ledger, r *roster.Roster, id stake.AccountID) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, r.Register(id))
	require.NoError(t, l.AddStake(id, 10_000))
	require.NoError(t, r.SetCredential(id, pub))
}

func onboardingRequest(subject string) task.OpenRequest {
	return task.OpenRequest{
		Subject:      subject,
		Kind:         "onboarding",
		QuorumSize:   3,
		Timing:       task.OnboardingTiming(),
		StakePerTask: testStakePerTask,
	}
}

func commitAndReveal(
	t *testing.T,
	e *task.Engine,
	id task.ID,
	member stake.AccountID,
	payload string,
	support bool,
	now uint64,
) task.Reveal {
	t.Helper()
	r := task.Reveal{
		Payload: []byte(payload),
		Nonce:   []byte("nonce-" + string(member)),
		Support: support,
	}
	require.NoError(
		t,
		e.SubmitCommitment(
			id,
			member,
			digest.Commitment(r.Core, r.Payload, r.Nonce, r.Support),
			now,
		),
	)
	return r
}

func TestOpenReservesQuorum(t *testing.T) {
	env := newTestEnv(t, 5)
	id, err := env.engine.Open(onboardingRequest("machine-1"), 100)
	require.NoError(t, err)
	tk, ok := env.engine.Task(id)
	require.True(t, ok)
	assert.Equal(t, task.PhaseCommitting, tk.Phase)
	assert.Equal(t, uint64(100+4320), tk.CommitDeadline)
	require.Len(t, tk.Quorum, 3)
	seen := make(map[stake.AccountID]bool)
	for _, m := range tk.Quorum {
		assert.False(t, seen[m])
		seen[m] = true
		acct, _ := env.ledger.Account(m)
		assert.Equal(t, uint64(testStakePerTask), acct.Used)
	}
	_, err = env.engine.Open(onboardingRequest("machine-1"), 101)
	assert.ErrorIs(t, err, task.ErrSubjectBusy)
}

func TestOpenInsufficientPool(t *testing.T) {
	env := newTestEnv(t, 2)
	require.NoError(t, env.ledger.AddStake("owner", 500))
	req := onboardingRequest("machine-1")
	req.Party = &task.ExternalParty{Account: "owner", Bond: 500, FaultOn: consensus.OutcomeRefused}
	_, err := env.engine.Open(req, 1)
	require.ErrorIs(t, err, roster.ErrInsufficientPool)
	// Nothing stays reserved
	for _, acct := range env.ledger.Accounts() {
		assert.Equal(t, uint64(0), acct.Used, "account %s", acct.ID)
	}
	assert.Empty(t, env.engine.Tasks())
}

func TestCommitRevealHappyPath(t *testing.T) {
	env := newTestEnv(t, 3)
	id, err := env.engine.Open(onboardingRequest("machine-1"), 10)
	require.NoError(t, err)
	tk, _ := env.engine.Task(id)
	reveals := make(map[stake.AccountID]task.Reveal)
	for _, m := range tk.Quorum {
		reveals[m] = commitAndReveal(t, env.engine, id, m, "gpu=4090", true, 20)
	}
	tk, _ = env.engine.Task(id)
	require.Equal(t, task.PhaseRevealing, tk.Phase)
	assert.Equal(t, uint64(20), tk.RevealStart)
	assert.Equal(t, uint64(20+1440), tk.RevealEnd)
	for _, m := range tk.Quorum {
		require.NoError(t, env.engine.SubmitReveal(id, m, reveals[m], 30))
	}
	tk, _ = env.engine.Task(id)
	require.Equal(t, task.PhaseSummarizing, tk.Phase)
	s := tk.Summarize()
	assert.Equal(t, consensus.OutcomeConfirmed, s.Outcome)
	assert.Len(t, s.ValidSupport, 3)
	assert.Equal(t, []byte("gpu=4090"), s.AgreedPayload)

	require.NoError(t, env.engine.Finish(id, s.Outcome))
	archived, err := env.engine.Archive(id)
	require.NoError(t, err)
	assert.Equal(t, task.PhaseFinished, archived.Phase)
	_, ok := env.engine.Task(id)
	assert.False(t, ok)
}

func TestCommitmentRules(t *testing.T) {
	env := newTestEnv(t, 4)
	id, err := env.engine.Open(onboardingRequest("machine-1"), 10)
	require.NoError(t, err)
	tk, _ := env.engine.Task(id)
	var outsider stake.AccountID
	for _, m := range env.roster.Members() {
		if !slices.Contains(tk.Quorum, m.ID) {
			outsider = m.ID
		}
	}
	require.NotEmpty(t, outsider)
	c := digest.Commitment(nil, []byte("p"), []byte("n"), true)
	err = env.engine.SubmitCommitment(id, outsider, c, 11)
	require.ErrorIs(t, err, task.ErrNotAssigned)
	require.NoError(t, env.engine.SubmitCommitment(id, tk.Quorum[0], c, 11))
	err = env.engine.SubmitCommitment(id, tk.Quorum[0], digest.Sum([]byte("x")), 11)
	require.ErrorIs(t, err, task.ErrAlreadyCommitted)
	err = env.engine.SubmitCommitment(id, tk.Quorum[1], c, 11)
	require.ErrorIs(t, err, task.ErrDuplicateCommitment)
	assert.ErrorIs(t, err, errkind.ErrPolicyViolation)
	err = env.engine.SubmitReveal(id, tk.Quorum[0], task.Reveal{}, 11)
	require.ErrorIs(t, err, task.ErrWrongPhase)
	err = env.engine.SubmitCommitment(99, tk.Quorum[0], c, 11)
	require.ErrorIs(t, err, task.ErrUnknownTask)
}

func TestRevealRules(t *testing.T) {
	env := newTestEnv(t, 3)
	id, err := env.engine.Open(onboardingRequest("machine-1"), 10)
	require.NoError(t, err)
	tk, _ := env.engine.Task(id)
	r0 := commitAndReveal(t, env.engine, id, tk.Quorum[0], "a", true, 11)
	commitAndReveal(t, env.engine, id, tk.Quorum[1], "a", true, 11)
	commitAndReveal(t, env.engine, id, tk.Quorum[2], "a", false, 11)

	// Flipping the vote breaks the commitment
	bad := r0
	bad.Support = false
	err = env.engine.SubmitReveal(id, tk.Quorum[0], bad, 12)
	require.ErrorIs(t, err, task.ErrCommitmentMismatch)
	assert.ErrorIs(t, err, errkind.ErrIntegrityViolation)

	require.NoError(t, env.engine.SubmitReveal(id, tk.Quorum[0], r0, 12))
	err = env.engine.SubmitReveal(id, tk.Quorum[0], r0, 12)
	require.ErrorIs(t, err, task.ErrAlreadyRevealed)
	tk, _ = env.engine.Task(id)
	assert.Equal(t, task.PhaseRevealing, tk.Phase)
}

// No reveal is accepted unless it hashes to its own commitment
func TestCommitBindsReveal(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	randBytes := func() []byte {
		buf := make([]byte, rng.IntN(16))
		for i := range buf {
			buf[i] = byte(rng.UintN(256))
		}
		return buf
	}
	for i := range 100 {
		env := newTestEnv(t, 3)
		id, err := env.engine.Open(onboardingRequest(fmt.Sprintf("m-%d", i)), 1)
		require.NoError(t, err)
		tk, _ := env.engine.Task(id)
		committed := make(map[stake.AccountID]task.Reveal)
		for _, m := range tk.Quorum {
			r := task.Reveal{
				Core:    randBytes(),
				Payload: randBytes(),
				Nonce:   append(randBytes(), []byte(m)...),
				Support: rng.IntN(2) == 0,
			}
			committed[m] = r
			require.NoError(t, env.engine.SubmitCommitment(
				id, m, digest.Commitment(r.Core, r.Payload, r.Nonce, r.Support), 2,
			))
		}
		for _, m := range tk.Quorum {
			r := committed[m]
			for _, tampered := range tamperedReveals(r, byte(rng.UintN(256))) {
				require.ErrorIs(
					t,
					env.engine.SubmitReveal(id, m, tampered, 3),
					task.ErrCommitmentMismatch,
				)
			}
			require.NoError(t, env.engine.SubmitReveal(id, m, r, 3))
		}
	}
}

// tamperedReveals returns variants of r that differ in content or only in
// where the field boundaries fall
func tamperedReveals(r task.Reveal, extra byte) []task.Reveal {
	clone := func(b []byte) []byte { return append([]byte{}, b...) }
	out := []task.Reveal{
		{
			Core:    r.Core,
			Payload: append(clone(r.Payload), extra),
			Nonce:   r.Nonce,
			Support: r.Support,
		},
		{Core: r.Core, Payload: r.Payload, Nonce: r.Nonce, Support: !r.Support},
	}
	// First nonce byte moved to the end of the payload
	if len(r.Nonce) > 0 {
		out = append(out, task.Reveal{
			Core:    r.Core,
			Payload: append(clone(r.Payload), r.Nonce[0]),
			Nonce:   r.Nonce[1:],
			Support: r.Support,
		})
	}
	// Last payload byte moved to the front of the nonce
	if n := len(r.Payload); n > 0 {
		out = append(out, task.Reveal{
			Core:    r.Core,
			Payload: r.Payload[:n-1],
			Nonce:   append([]byte{r.Payload[n-1]}, r.Nonce...),
			Support: r.Support,
		})
		// First payload byte moved to the end of the core
		out = append(out, task.Reveal{
			Core:    append(clone(r.Core), r.Payload[0]),
			Payload: r.Payload[1:],
			Nonce:   r.Nonce,
			Support: r.Support,
		})
	}
	// Last core byte moved to the front of the payload
	if n := len(r.Core); n > 0 {
		out = append(out, task.Reveal{
			Core:    r.Core[:n-1],
			Payload: append([]byte{r.Core[n-1]}, r.Payload...),
			Nonce:   r.Nonce,
			Support: r.Support,
		})
	}
	return out
}

func TestCounterpartCommitment(t *testing.T) {
	env := newTestEnv(t, 3)
	core := []byte("machine-1" + "reporter-rand" + "gpu broken")
	counterpart := digest.Sum(core)
	req := onboardingRequest("machine-1")
	req.Counterpart = &counterpart
	id, err := env.engine.Open(req, 1)
	require.NoError(t, err)
	tk, _ := env.engine.Task(id)

	wrongCore := []byte("machine-1" + "guessed" + "gpu broken")
	guess := task.Reveal{Core: wrongCore, Nonce: []byte("n0"), Support: true}
	good := task.Reveal{Core: core, Nonce: []byte("n1"), Support: true}
	require.NoError(t, env.engine.SubmitCommitment(
		id, tk.Quorum[0], digest.Commitment(guess.Core, nil, guess.Nonce, true), 2,
	))
	require.NoError(t, env.engine.SubmitCommitment(
		id, tk.Quorum[1], digest.Commitment(good.Core, nil, good.Nonce, true), 2,
	))
	require.NoError(t, env.engine.SubmitCommitment(
		id, tk.Quorum[2], digest.Sum([]byte("other")), 2,
	))
	err = env.engine.SubmitReveal(id, tk.Quorum[0], guess, 3)
	require.ErrorIs(t, err, task.ErrPayloadDoesNotMatchCounterpart)
	require.NoError(t, env.engine.SubmitReveal(id, tk.Quorum[1], good, 3))
}

func TestDeadlineTickRejectsSubmission(t *testing.T) {
	env := newTestEnv(t, 3)
	id, err := env.engine.Open(onboardingRequest("machine-1"), 0)
	require.NoError(t, err)
	tk, _ := env.engine.Task(id)
	r0 := commitAndReveal(t, env.engine, id, tk.Quorum[0], "a", true, tk.CommitDeadline-1)
	commitAndReveal(t, env.engine, id, tk.Quorum[1], "a", true, tk.CommitDeadline-1)

	transitions := env.engine.Advance(tk.CommitDeadline)
	require.Len(t, transitions, 1)
	assert.Equal(t, task.PhaseCommitting, transitions[0].From)
	assert.Equal(t, task.PhaseRevealing, transitions[0].To)
	err = env.engine.SubmitCommitment(
		id,
		tk.Quorum[2],
		digest.Sum([]byte("late")),
		tk.CommitDeadline,
	)
	require.ErrorIs(t, err, task.ErrWrongPhase)
	// The late member can't reveal either
	err = env.engine.SubmitReveal(id, tk.Quorum[2], task.Reveal{}, tk.CommitDeadline)
	require.ErrorIs(t, err, task.ErrNotCommitted)

	require.NoError(t, env.engine.SubmitReveal(id, tk.Quorum[0], r0, tk.CommitDeadline))
	tk, _ = env.engine.Task(id)
	assert.Empty(t, env.engine.Advance(tk.RevealEnd-1))
	require.Len(t, env.engine.Advance(tk.RevealEnd), 1)
	tk, _ = env.engine.Task(id)
	require.Equal(t, task.PhaseSummarizing, tk.Phase)
	s := tk.Summarize()
	expected := []stake.AccountID{tk.Quorum[1], tk.Quorum[2]}
	slices.Sort(expected)
	assert.Equal(t, expected, s.Unruly)
	assert.Equal(t, []stake.AccountID{tk.Quorum[0]}, s.InvalidSupport)
	assert.Equal(t, consensus.OutcomeNoConsensus, s.Outcome)
}

func TestNoCommitmentsGoesToSummarizing(t *testing.T) {
	env := newTestEnv(t, 3)
	id, err := env.engine.Open(onboardingRequest("machine-1"), 0)
	require.NoError(t, err)
	tk, _ := env.engine.Task(id)
	env.engine.Advance(tk.CommitDeadline)
	tk, _ = env.engine.Task(id)
	require.Equal(t, task.PhaseSummarizing, tk.Phase)
	s := tk.Summarize()
	assert.Len(t, s.Unruly, 3)
	assert.Equal(t, consensus.OutcomeNoConsensus, s.Outcome)
}

func TestMissingReopenDrawsReplacement(t *testing.T) {
	env := newTestEnv(t, 5)
	req := onboardingRequest("machine-1")
	req.Timing = task.FaultReportTiming()
	id, err := env.engine.Open(req, 0)
	require.NoError(t, err)
	tk, _ := env.engine.Task(id)
	reveals := map[stake.AccountID]task.Reveal{
		tk.Quorum[0]: commitAndReveal(t, env.engine, id, tk.Quorum[0], "a", true, 1),
		tk.Quorum[1]: commitAndReveal(t, env.engine, id, tk.Quorum[1], "a", true, 1),
	}
	missing := tk.Quorum[2]

	env.engine.Advance(tk.CommitDeadline)
	tk, _ = env.engine.Task(id)
	require.Equal(t, task.PhaseCommitting, tk.Phase)
	require.Len(t, tk.Quorum, 3)
	assert.NotContains(t, tk.Quorum, missing)
	assert.Equal(t, []stake.AccountID{missing}, tk.Dropped())
	assert.Equal(t, 4, tk.Participants)
	// The dropped member keeps its stake reserved until summarized
	acct, _ := env.ledger.Account(missing)
	assert.Equal(t, uint64(testStakePerTask), acct.Used)
	err = env.engine.SubmitCommitment(id, missing, digest.Sum([]byte("late")), tk.CommitDeadline)
	require.ErrorIs(t, err, task.ErrNotAssigned)

	reveals[tk.Quorum[2]] = commitAndReveal(t, env.engine, id, tk.Quorum[2], "a", true, tk.CommitDeadline-1)
	tk, _ = env.engine.Task(id)
	require.Equal(t, task.PhaseRevealing, tk.Phase)
	for _, m := range tk.Quorum {
		require.NoError(t, env.engine.SubmitReveal(id, m, reveals[m], tk.RevealStart+1))
	}
	tk, _ = env.engine.Task(id)
	require.Equal(t, task.PhaseSummarizing, tk.Phase)
	s := tk.Summarize()
	assert.Equal(t, []stake.AccountID{missing}, s.Unruly)
	assert.Len(t, s.ValidSupport, 3)
	assert.Equal(t, consensus.OutcomeConfirmed, s.Outcome)
}

func TestDrawnTaskBooksReopenedSlots(t *testing.T) {
	env := newTestEnv(t, 3)
	req := onboardingRequest("report-1")
	req.Kind = "fault_report"
	req.Timing = task.FaultReportTiming()
	id, err := env.engine.Open(req, 0)
	require.NoError(t, err)
	tk, _ := env.engine.Task(id)
	require.Equal(t, task.PhaseCommitting, tk.Phase)
	require.Len(t, tk.Quorum, 3)
	commitAndReveal(t, env.engine, id, tk.Quorum[0], "a", true, 1)
	commitAndReveal(t, env.engine, id, tk.Quorum[1], "a", true, 1)
	missing := tk.Quorum[2]

	// Nobody is left to draw, so the dropped slot waits for a booking
	env.engine.Advance(tk.CommitDeadline)
	tk, _ = env.engine.Task(id)
	require.Equal(t, task.PhaseBooking, tk.Phase)
	require.Len(t, tk.Quorum, 2)
	require.ErrorIs(t, env.engine.Book(id, missing, tk.CommitDeadline), task.ErrAlreadyBooked)

	addMember(t, env.ledger, env.roster, "member-03")
	require.NoError(t, env.engine.Book(id, "member-03", tk.CommitDeadline+1))
	tk, _ = env.engine.Task(id)
	require.Equal(t, task.PhaseCommitting, tk.Phase)
	assert.Contains(t, tk.Quorum, stake.AccountID("member-03"))
	assert.Equal(t, 4, tk.Participants)
}

func TestPartyNeverInQuorum(t *testing.T) {
	env := newTestEnv(t, 4)
	req := onboardingRequest("machine-1")
	req.Party = &task.ExternalParty{Account: "member-00", Bond: 500}
	id, err := env.engine.Open(req, 0)
	require.NoError(t, err)
	tk, _ := env.engine.Task(id)
	assert.ElementsMatch(
		t,
		[]stake.AccountID{"member-01", "member-02", "member-03"},
		tk.Quorum,
	)
	party, _ := env.ledger.Account("member-00")
	assert.Equal(t, uint64(500), party.Used)

	// Without the party the pool is too small
	env = newTestEnv(t, 3)
	req.Subject = "machine-2"
	_, err = env.engine.Open(req, 0)
	require.ErrorIs(t, err, roster.ErrInsufficientPool)
	party, _ = env.ledger.Account("member-00")
	assert.Zero(t, party.Used)

	// Nor can the party book its own voluntary task
	req.Subject = "report-1"
	req.Timing = task.FaultReportTiming()
	req.Voluntary = true
	id, err = env.engine.Open(req, 0)
	require.NoError(t, err)
	require.ErrorIs(t, env.engine.Book(id, "member-00", 1), task.ErrNotEligible)
	require.NoError(t, env.engine.Book(id, "member-01", 1))
}

func TestVoluntaryBooking(t *testing.T) {
	env := newTestEnv(t, 5)
	req := onboardingRequest("report-1")
	req.Kind = "fault-report"
	req.Timing = task.FaultReportTiming()
	req.Voluntary = true
	id, err := env.engine.Open(req, 0)
	require.NoError(t, err)
	tk, _ := env.engine.Task(id)
	require.Equal(t, task.PhaseBooking, tk.Phase)
	assert.Equal(t, task.ThreeHour, tk.BookingDeadline)

	require.NoError(t, env.engine.Book(id, "member-00", 1))
	require.ErrorIs(t, env.engine.Book(id, "member-00", 1), task.ErrAlreadyBooked)
	require.ErrorIs(t, env.engine.Book(id, "nobody", 1), task.ErrNotEligible)
	require.NoError(t, env.engine.Book(id, "member-01", 2))
	require.NoError(t, env.engine.Book(id, "member-02", 3))
	tk, _ = env.engine.Task(id)
	require.Equal(t, task.PhaseCommitting, tk.Phase)
	assert.Equal(t, 3+task.OneHour, tk.CommitDeadline)
	require.ErrorIs(t, env.engine.Book(id, "member-03", 4), task.ErrWrongPhase)
}

func TestVoluntaryBookingDeadline(t *testing.T) {
	env := newTestEnv(t, 5)
	req := onboardingRequest("report-1")
	req.Timing = task.FaultReportTiming()
	req.Voluntary = true
	id, err := env.engine.Open(req, 0)
	require.NoError(t, err)
	require.NoError(t, env.engine.Book(id, "member-00", 1))
	env.engine.Advance(task.ThreeHour)
	tk, _ := env.engine.Task(id)
	require.Equal(t, task.PhaseCommitting, tk.Phase)
	assert.Equal(t, []stake.AccountID{"member-00"}, tk.Quorum)

	// Nobody books at all
	req.Subject = "report-2"
	id2, err := env.engine.Open(req, 0)
	require.NoError(t, err)
	env.engine.Advance(task.ThreeHour)
	tk, _ = env.engine.Task(id2)
	assert.Equal(t, task.PhaseSummarizing, tk.Phase)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, 3)
	require.NoError(t, env.ledger.AddStake("owner", 700))
	req := onboardingRequest("machine-1")
	req.Party = &task.ExternalParty{Account: "owner", Bond: 700}
	id, err := env.engine.Open(req, 0)
	require.NoError(t, err)
	owner, _ := env.ledger.Account("owner")
	assert.Equal(t, uint64(700), owner.Used)
	require.NoError(t, env.engine.Cancel(id))
	for _, acct := range env.ledger.Accounts() {
		assert.Equal(t, uint64(0), acct.Used, "account %s", acct.ID)
	}
	require.ErrorIs(t, env.engine.Cancel(id), task.ErrUnknownTask)

	id, err = env.engine.Open(onboardingRequest("machine-1"), 1)
	require.NoError(t, err)
	tk, _ := env.engine.Task(id)
	commitAndReveal(t, env.engine, id, tk.Quorum[0], "a", true, 2)
	require.ErrorIs(t, env.engine.Cancel(id), task.ErrCommitmentsExist)
}

func TestReopen(t *testing.T) {
	env := newTestEnv(t, 3)
	id, err := env.engine.Open(onboardingRequest("machine-1"), 0)
	require.NoError(t, err)
	tk, _ := env.engine.Task(id)
	require.ErrorIs(t, env.engine.Reopen(id, 1), task.ErrWrongPhase)
	env.engine.Advance(tk.CommitDeadline)
	// Settle the previous quorum's stake the way the committee does
	for _, m := range tk.Quorum {
		require.NoError(t, env.ledger.Release(m, testStakePerTask))
	}
	// Shrink the pool so the new round has to wait
	require.NoError(t, env.roster.SetChill("member-00", true))
	reopenAt := tk.CommitDeadline
	require.NoError(t, env.engine.Reopen(id, reopenAt))
	tk, _ = env.engine.Task(id)
	require.Equal(t, task.PhaseBooking, tk.Phase)
	assert.Equal(t, uint32(2), tk.Round)
	assert.Empty(t, tk.Quorum)
	// A fresh round of a drawn task has no slots to book
	require.ErrorIs(t, env.engine.Book(id, "member-01", reopenAt), task.ErrNotBookable)
	assert.Empty(t, env.engine.Retry(reopenAt+1))

	require.NoError(t, env.roster.SetChill("member-00", false))
	transitions := env.engine.Retry(reopenAt + 2)
	require.Len(t, transitions, 1)
	assert.Equal(t, task.PhaseCommitting, transitions[0].To)
	tk, _ = env.engine.Task(id)
	assert.Len(t, tk.Quorum, 3)
	assert.Equal(t, reopenAt+2+tk.Timing.CommitWindow, tk.CommitDeadline)

	// Round limit
	env.engine.Advance(tk.CommitDeadline)
	for _, m := range tk.Quorum {
		require.NoError(t, env.ledger.Release(m, testStakePerTask))
	}
	require.NoError(t, env.engine.Reopen(id, tk.CommitDeadline))
	tk, _ = env.engine.Task(id)
	env.engine.Advance(tk.CommitDeadline)
	require.ErrorIs(t, env.engine.Reopen(id, tk.CommitDeadline), task.ErrRoundsExhausted)
}

func TestRestore(t *testing.T) {
	env := newTestEnv(t, 3)
	id, err := env.engine.Open(onboardingRequest("machine-1"), 0)
	require.NoError(t, err)
	tasks := env.engine.Tasks()
	e2 := task.NewEngine(task.EngineConfig{Ledger: env.ledger, Roster: env.roster})
	e2.Restore(tasks, env.engine.NextID())
	tk, ok := e2.Task(id)
	require.True(t, ok)
	assert.Equal(t, tasks[0], tk)
	_, err = e2.Open(onboardingRequest("machine-1"), 1)
	assert.ErrorIs(t, err, task.ErrSubjectBusy)
	assert.Equal(t, id+1, e2.NextID())
}

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

package roster

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"slices"

	"github.com/blinklabs-io/attest/internal/errkind"
	"github.com/blinklabs-io/attest/stake"
)

var (
	ErrAlreadyRegistered = errkind.Policy("member already registered")
	ErrUnknownMember     = errkind.Policy("unknown member")
	ErrInvalidCredential = errkind.Policy("invalid member credential")
	ErrNotChilled        = errkind.Policy("member is not chilled")
	ErrAlreadyChilled    = errkind.Policy("member is already chilled")
	ErrJobsPending       = errkind.Policy("member has reserved stake")
	ErrInsufficientPool  = errkind.Policy("insufficient active members")
	ErrInvalidQuorumSize = errkind.Policy("invalid quorum size")
)

type Status uint8

const (
	StatusWaitingCredential Status = iota
	StatusActive
	StatusFulfilling
	StatusChill
)

func (s Status) String() string {
	switch s {
	case StatusWaitingCredential:
		return "waiting_credential"
	case StatusActive:
		return "active"
	case StatusFulfilling:
		return "fulfilling"
	case StatusChill:
		return "chill"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

type Member struct {
	ID         stake.AccountID
	Credential []byte
	Status     Status
}

// Params drive the Fulfilling classification. A credentialed member that is
// not chilled is Fulfilling while its stake is below Baseline or its free
// stake is below MinFreeBasisPoints of its stake
type Params struct {
	Baseline           uint64
	MinFreeBasisPoints uint64
}

// StatusChangeFunc is called whenever a member changes status
type StatusChangeFunc func(id stake.AccountID, from Status, to Status)

// Roster is the single authoritative member table. Status partitions are
// derived from it on read
type Roster struct {
	logger   *slog.Logger
	ledger   *stake.Ledger
	members  map[stake.AccountID]*Member
	onChange []StatusChangeFunc
	params   Params
}

func New(ledger *stake.Ledger, params Params, logger *slog.Logger) *Roster {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r := &Roster{
		logger:  logger,
		ledger:  ledger,
		members: make(map[stake.AccountID]*Member),
		params:  params,
	}
	ledger.OnChange(r.Reevaluate)
	return r
}

// OnStatusChange registers a callback for member status transitions
func (r *Roster) OnStatusChange(fn StatusChangeFunc) {
	r.onChange = append(r.onChange, fn)
}

func (r *Roster) Params() Params {
	return r.params
}

// Register adds a member awaiting its credential
func (r *Roster) Register(id stake.AccountID) error {
	if _, ok := r.members[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	r.members[id] = &Member{
		ID:     id,
		Status: StatusWaitingCredential,
	}
	r.logger.Debug(
		"member registered",
		"component", "roster",
		"member", id,
	)
	return nil
}

// SetCredential stores the ed25519 public key used to authenticate the
// member's submissions. The first credential makes the member eligible
func (r *Roster) SetCredential(id stake.AccountID, pubkey []byte) error {
	m, ok := r.members[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMember, id)
	}
	if len(pubkey) != ed25519.PublicKeySize {
		return fmt.Errorf(
			"%w: expected %d byte key, got %d",
			ErrInvalidCredential,
			ed25519.PublicKeySize,
			len(pubkey),
		)
	}
	m.Credential = slices.Clone(pubkey)
	if m.Status == StatusWaitingCredential {
		r.setStatus(m, r.evaluate(id))
	}
	return nil
}

// SetChill moves a member into or out of Chill. Leaving Chill re-applies the
// stake classification
func (r *Roster) SetChill(id stake.AccountID, chill bool) error {
	m, ok := r.members[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMember, id)
	}
	if chill {
		if m.Status == StatusChill {
			return ErrAlreadyChilled
		}
		r.setStatus(m, StatusChill)
		return nil
	}
	if m.Status != StatusChill {
		return ErrNotChilled
	}
	if m.Credential == nil {
		r.setStatus(m, StatusWaitingCredential)
		return nil
	}
	r.setStatus(m, r.evaluate(id))
	return nil
}

// Exit removes a chilled member with no reserved stake and withdraws its
// stake. Returns the withdrawn amount
func (r *Roster) Exit(id stake.AccountID) (uint64, error) {
	m, ok := r.members[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMember, id)
	}
	if m.Status != StatusChill {
		return 0, ErrNotChilled
	}
	acct, _ := r.ledger.Account(id)
	if acct.Used != 0 {
		return 0, fmt.Errorf("%w: %d used", ErrJobsPending, acct.Used)
	}
	if acct.Staked > 0 {
		if err := r.ledger.RemoveStake(id, acct.Staked); err != nil {
			return 0, err
		}
	}
	delete(r.members, id)
	r.logger.Debug(
		"member exited",
		"component", "roster",
		"member", id,
		"withdrawn", acct.Staked,
	)
	return acct.Staked, nil
}

func (r *Roster) Member(id stake.AccountID) (Member, bool) {
	m, ok := r.members[id]
	if !ok {
		return Member{}, false
	}
	ret := *m
	ret.Credential = slices.Clone(m.Credential)
	return ret, true
}

// Members returns the members with any of the specified statuses, ordered by
// ID. All members are returned when no status is given
func (r *Roster) Members(statuses ...Status) []Member {
	ret := []Member{}
	for _, m := range r.members {
		if len(statuses) > 0 && !slices.Contains(statuses, m.Status) {
			continue
		}
		tmp := *m
		tmp.Credential = slices.Clone(m.Credential)
		ret = append(ret, tmp)
	}
	slices.SortFunc(ret, func(a, b Member) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return ret
}

// Restore replaces the member table, used when loading persisted state
func (r *Roster) Restore(members []Member) {
	r.members = make(map[stake.AccountID]*Member, len(members))
	for _, m := range members {
		tmp := m
		r.members[m.ID] = &tmp
	}
}

// Reevaluate re-applies the stake classification to a member. It is
// registered as a stake ledger observer
func (r *Roster) Reevaluate(id stake.AccountID) {
	m, ok := r.members[id]
	if !ok {
		return
	}
	switch m.Status {
	case StatusActive, StatusFulfilling:
		r.setStatus(m, r.evaluate(id))
	}
}

func (r *Roster) evaluate(id stake.AccountID) Status {
	acct, _ := r.ledger.Account(id)
	if acct.Staked < r.params.Baseline {
		return StatusFulfilling
	}
	// free < minFree * staked / 10000, compared in 128 bits
	lhsHi, lhsLo := bits.Mul64(acct.Free(), stake.BasisPoints)
	rhsHi, rhsLo := bits.Mul64(acct.Staked, r.params.MinFreeBasisPoints)
	if lhsHi < rhsHi || (lhsHi == rhsHi && lhsLo < rhsLo) {
		return StatusFulfilling
	}
	return StatusActive
}

func (r *Roster) setStatus(m *Member, status Status) {
	if m.Status == status {
		return
	}
	from := m.Status
	m.Status = status
	r.logger.Debug(
		"member status changed",
		"component", "roster",
		"member", m.ID,
		"from", from.String(),
		"to", status.String(),
	)
	for _, fn := range r.onChange {
		fn(m.ID, from, status)
	}
}

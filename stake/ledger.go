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

package stake

import (
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"slices"
)

// AccountID identifies a committee member or an external party
type AccountID string

type Account struct {
	ID            AccountID
	Staked        uint64
	Used          uint64
	PendingReward uint64
	ClaimedReward uint64
}

// Free returns the stake not reserved by any task, slash or appeal
func (a Account) Free() uint64 {
	return a.Staked - a.Used
}

// ChangeFunc is called after every mutation of an account's stake figures
type ChangeFunc func(AccountID)

// Ledger holds locked stake for every account. Every operation validates
// completely before mutating, so a failed call leaves the ledger untouched
type Ledger struct {
	logger    *slog.Logger
	accounts  map[AccountID]*Account
	observers []ChangeFunc
	treasury  uint64
	withdrawn uint64
}

func NewLedger(logger *slog.Logger) *Ledger {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Ledger{
		logger:   logger,
		accounts: make(map[AccountID]*Account),
	}
}

// OnChange registers an observer for stake mutations
func (l *Ledger) OnChange(fn ChangeFunc) {
	l.observers = append(l.observers, fn)
}

func (l *Ledger) notify(ids ...AccountID) {
	for _, id := range ids {
		for _, fn := range l.observers {
			fn(id)
		}
	}
}

// Account returns a copy of the specified account
func (l *Ledger) Account(id AccountID) (Account, bool) {
	acct, ok := l.accounts[id]
	if !ok {
		return Account{ID: id}, false
	}
	return *acct, true
}

// Accounts returns copies of all accounts ordered by ID
func (l *Ledger) Accounts() []Account {
	ret := make([]Account, 0, len(l.accounts))
	for _, acct := range l.accounts {
		ret = append(ret, *acct)
	}
	slices.SortFunc(ret, func(a, b Account) int {
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

// Treasury returns the total amount sent to the treasury sink
func (l *Ledger) Treasury() uint64 {
	return l.treasury
}

// Withdrawn returns the total amount of stake removed by its owners
func (l *Ledger) Withdrawn() uint64 {
	return l.withdrawn
}

// TotalStaked returns the sum of staked amounts across all accounts
func (l *Ledger) TotalStaked() (uint64, error) {
	var total uint64
	for _, acct := range l.accounts {
		var err error
		if total, err = add(total, acct.Staked); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Restore replaces the ledger contents, used when loading persisted state
func (l *Ledger) Restore(accounts []Account, treasury, withdrawn uint64) {
	l.accounts = make(map[AccountID]*Account, len(accounts))
	for _, acct := range accounts {
		tmp := acct
		l.accounts[acct.ID] = &tmp
	}
	l.treasury = treasury
	l.withdrawn = withdrawn
}

func (l *Ledger) account(id AccountID) *Account {
	acct, ok := l.accounts[id]
	if !ok {
		acct = &Account{ID: id}
		l.accounts[id] = acct
	}
	return acct
}

// AddStake deposits additional stake for an account, creating it if needed
func (l *Ledger) AddStake(id AccountID, amount uint64) error {
	acct := l.account(id)
	staked, err := add(acct.Staked, amount)
	if err != nil {
		return fmt.Errorf("add stake for %s: %w", id, err)
	}
	acct.Staked = staked
	l.notify(id)
	return nil
}

// RemoveStake withdraws stake. The remaining stake must still cover the
// reserved amount
func (l *Ledger) RemoveStake(id AccountID, amount uint64) error {
	acct, ok := l.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	if amount > acct.Free() {
		return fmt.Errorf(
			"%w: remove %d from %s with %d free",
			ErrUnderflow,
			amount,
			id,
			acct.Free(),
		)
	}
	withdrawn, err := add(l.withdrawn, amount)
	if err != nil {
		return err
	}
	acct.Staked -= amount
	l.withdrawn = withdrawn
	l.notify(id)
	return nil
}

// Reserve marks stake as used
func (l *Ledger) Reserve(id AccountID, amount uint64) error {
	acct, ok := l.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	if amount > acct.Free() {
		return fmt.Errorf(
			"%w: reserve %d from %s with %d free",
			ErrInsufficientFree,
			amount,
			id,
			acct.Free(),
		)
	}
	acct.Used += amount
	l.notify(id)
	return nil
}

// Release returns previously reserved stake to the free pool
func (l *Ledger) Release(id AccountID, amount uint64) error {
	acct, ok := l.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	if amount > acct.Used {
		return fmt.Errorf(
			"%w: release %d from %s with %d used",
			ErrUnderflow,
			amount,
			id,
			acct.Used,
		)
	}
	acct.Used -= amount
	l.notify(id)
	return nil
}

// Slash removes unreserved stake from an account and distributes it evenly
// to the reward targets. The remainder of the even split, or the whole amount
// without targets, goes to the treasury
func (l *Ledger) Slash(
	id AccountID,
	amount uint64,
	rewardTargets []AccountID,
) error {
	return l.slash(id, amount, 0, rewardTargets)
}

// SlashReserved slashes stake that was reserved for the slashed obligation,
// releasing the same amount from the reservation
func (l *Ledger) SlashReserved(
	id AccountID,
	amount uint64,
	rewardTargets []AccountID,
) error {
	return l.slash(id, amount, amount, rewardTargets)
}

func (l *Ledger) slash(
	id AccountID,
	amount uint64,
	release uint64,
	rewardTargets []AccountID,
) error {
	acct, ok := l.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	if amount > acct.Staked {
		return fmt.Errorf(
			"%w: slash %d from %s with %d staked",
			ErrUnderflow,
			amount,
			id,
			acct.Staked,
		)
	}
	if release > acct.Used {
		return fmt.Errorf(
			"%w: slash %d reserved from %s with %d used",
			ErrUnderflow,
			release,
			id,
			acct.Used,
		)
	}
	if acct.Staked-amount < acct.Used-release {
		return fmt.Errorf(
			"%w: slash of %d would leave reserved stake of %s unbacked",
			ErrUnderflow,
			amount,
			id,
		)
	}
	// Compute the credits up front so overflow is caught before mutation
	credits := make(map[AccountID]uint64)
	var share, remainder uint64 = 0, amount
	if len(rewardTargets) > 0 {
		share = amount / uint64(len(rewardTargets))
		remainder = amount % uint64(len(rewardTargets))
		for _, target := range rewardTargets {
			credit, err := add(credits[target], share)
			if err != nil {
				return err
			}
			credits[target] = credit
		}
	}
	for target, credit := range credits {
		var base uint64
		if tmp, ok := l.accounts[target]; ok {
			base = tmp.Staked
			if target == id {
				base -= amount
			}
		}
		if _, err := add(base, credit); err != nil {
			return fmt.Errorf("slash reward for %s: %w", target, err)
		}
	}
	treasury, err := add(l.treasury, remainder)
	if err != nil {
		return err
	}
	// Apply
	acct.Staked -= amount
	acct.Used -= release
	l.treasury = treasury
	changed := []AccountID{id}
	for _, target := range rewardTargets {
		credit, ok := credits[target]
		if !ok {
			continue
		}
		l.account(target).Staked += credit
		delete(credits, target)
		changed = append(changed, target)
	}
	l.logger.Debug(
		"stake slashed",
		"component", "stake",
		"account", id,
		"amount", amount,
		"reward_targets", len(rewardTargets),
		"treasury", remainder,
	)
	l.notify(changed...)
	return nil
}

// Reward credits a pending reward. Rewards are minted by the embedder's reward
// pool and do not change the staked amount
func (l *Ledger) Reward(id AccountID, amount uint64) error {
	acct := l.account(id)
	pending, err := add(acct.PendingReward, amount)
	if err != nil {
		return fmt.Errorf("reward for %s: %w", id, err)
	}
	acct.PendingReward = pending
	return nil
}

// ClaimReward moves the pending reward to claimed and returns the amount
func (l *Ledger) ClaimReward(id AccountID) (uint64, error) {
	acct, ok := l.accounts[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	if acct.PendingReward == 0 {
		return 0, ErrNothingToClaim
	}
	claimed, err := add(acct.ClaimedReward, acct.PendingReward)
	if err != nil {
		return 0, err
	}
	amount := acct.PendingReward
	acct.ClaimedReward = claimed
	acct.PendingReward = 0
	return amount, nil
}

func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return sum, nil
}

// MulBasisPoints returns amount * bp / 10000 without intermediate overflow
func MulBasisPoints(amount, bp uint64) (uint64, error) {
	if bp > BasisPoints {
		return 0, fmt.Errorf("%w: %d basis points", ErrOverflow, bp)
	}
	hi, lo := bits.Mul64(amount, bp)
	quo, _ := bits.Div64(hi, lo, BasisPoints)
	return quo, nil
}

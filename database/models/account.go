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

package models

import "github.com/blinklabs-io/attest/database/types"

// Account is a stake ledger account
type Account struct {
	ID            string       `gorm:"primarykey;size:128"`
	Staked        types.Uint64 `gorm:"not null"`
	Used          types.Uint64 `gorm:"not null"`
	PendingReward types.Uint64 `gorm:"not null"`
	ClaimedReward types.Uint64 `gorm:"not null"`
}

func (Account) TableName() string {
	return "account"
}

// Member is a roster entry
type Member struct {
	ID         string `gorm:"primarykey;size:128"`
	Credential []byte `gorm:"size:32"`
	Status     uint8  `gorm:"index"`
}

func (Member) TableName() string {
	return "member"
}

// Violation counts a member's integrity violations
type Violation struct {
	MemberID string `gorm:"primarykey;size:128"`
	Count    uint64
}

func (Violation) TableName() string {
	return "violation"
}

// CommitteeState holds the scalar committee state in a single row
type CommitteeState struct {
	ID          uint         `gorm:"primarykey"`
	LastTick    types.Uint64 `gorm:"not null"`
	NextTaskID  types.Uint64 `gorm:"not null"`
	NextSlashID types.Uint64 `gorm:"not null"`
	Treasury    types.Uint64 `gorm:"not null"`
	Withdrawn   types.Uint64 `gorm:"not null"`
}

func (CommitteeState) TableName() string {
	return "committee_state"
}

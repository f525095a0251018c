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

// Task is an open task. Finished tasks move to the blob archive
type Task struct {
	ID              uint64 `gorm:"primarykey;autoIncrement:false"`
	Subject         string `gorm:"uniqueIndex;size:256"`
	Kind            string `gorm:"size:64"`
	QuorumSize      int
	Quorum          []string `gorm:"serializer:json"`
	Phase           uint8    `gorm:"index"`
	Round           uint32
	Participants    int
	Voluntary       bool
	CreatedTick     types.Uint64 `gorm:"not null"`
	BookingDeadline types.Uint64 `gorm:"not null"`
	CommitDeadline  types.Uint64 `gorm:"not null"`
	RevealStart     types.Uint64 `gorm:"not null"`
	RevealEnd       types.Uint64 `gorm:"not null"`
	Counterpart     []byte       `gorm:"size:16"`
	StakePerTask    types.Uint64 `gorm:"not null"`
	PartyAccount    string       `gorm:"size:128"`
	PartyBond       types.Uint64 `gorm:"not null"`
	PartyFaultOn    uint8
	HasParty        bool
	Timing          Timing `gorm:"embedded;embeddedPrefix:timing_"`
	Outcome         uint8
	Submissions     []Submission `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
}

func (Task) TableName() string {
	return "task"
}

type Timing struct {
	CommitWindow    types.Uint64 `gorm:"not null"`
	RevealWindow    types.Uint64 `gorm:"not null"`
	BookingWindow   types.Uint64 `gorm:"not null"`
	MaxRounds       uint32
	OnMissingCommit uint8
	MaxParticipants int
}

// Submission is a member's commitment and reveal for a task
type Submission struct {
	TaskID       uint64       `gorm:"primarykey;autoIncrement:false"`
	MemberID     string       `gorm:"primarykey;size:128"`
	Commitment   []byte       `gorm:"size:16"`
	CommitTime   types.Uint64 `gorm:"not null"`
	Revealed     bool
	Core         []byte
	Payload      []byte
	Nonce        []byte
	Support      bool
	RevealTime   types.Uint64 `gorm:"not null"`
	StakeForTask types.Uint64 `gorm:"not null"`
	Dropped      bool
}

func (Submission) TableName() string {
	return "submission"
}

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

// SlashRecord is a pending or appealed slash. Closed records move to the
// blob archive
type SlashRecord struct {
	ID            uint64 `gorm:"primarykey;autoIncrement:false"`
	TaskID        uint64 `gorm:"index"`
	Subject       string `gorm:"size:256"`
	Target        string `gorm:"index;size:128"`
	TargetKind    uint8
	Amount        types.Uint64 `gorm:"not null"`
	Reserved      types.Uint64 `gorm:"not null"`
	Reason        uint8
	RewardTargets []string     `gorm:"serializer:json"`
	CreatedTick   types.Uint64 `gorm:"not null"`
	// ExecAt is stored as an integer so the due sweep can use the index
	ExecAt uint64 `gorm:"index"`
	Status uint8
	Appeal *Appeal `gorm:"foreignKey:SlashID;constraint:OnDelete:CASCADE"`
}

func (SlashRecord) TableName() string {
	return "slash_record"
}

type Appeal struct {
	SlashID   uint64       `gorm:"primarykey;autoIncrement:false"`
	Applicant string       `gorm:"size:128"`
	Bond      types.Uint64 `gorm:"not null"`
	FiledAt   types.Uint64 `gorm:"not null"`
	Reason    string       `gorm:"type:text"`
	Resolved  bool
	Accepted  bool
}

func (Appeal) TableName() string {
	return "appeal"
}

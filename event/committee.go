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

package event

const (
	TaskOpenedEventType          = EventType("attest.task.opened")
	TaskPhaseEventType           = EventType("attest.task.phase")
	TaskFinishedEventType        = EventType("attest.task.finished")
	MemberStatusEventType        = EventType("attest.member.status")
	SlashQueuedEventType         = EventType("attest.slash.queued")
	SlashExecutedEventType       = EventType("attest.slash.executed")
	SlashCanceledEventType       = EventType("attest.slash.canceled")
	SlashAppealedEventType       = EventType("attest.slash.appealed")
	SlashAppealRejectedEventType = EventType("attest.slash.appeal_rejected")
	IntegrityViolationEventType  = EventType("attest.integrity.violation")
)

// TaskOpenedEvent is emitted when a task is created
type TaskOpenedEvent struct {
	TaskID  uint64
	Subject string
	Kind    string
	// Quorum is empty for voluntary tasks or tasks waiting for members
	Quorum []string
}

// TaskPhaseEvent is emitted on every task phase change
type TaskPhaseEvent struct {
	TaskID  uint64
	Subject string
	From    string
	To      string
	Round   uint32
}

// TaskFinishedEvent is emitted when a task reaches a final outcome
type TaskFinishedEvent struct {
	TaskID        uint64
	Subject       string
	Kind          string
	Outcome       string
	AgreedPayload []byte
	Slashes       int
}

// MemberStatusEvent is emitted when a member changes status
type MemberStatusEvent struct {
	Member string
	From   string
	To     string
}

// SlashEvent is emitted when a slash record is queued, executed, appealed,
// canceled or has its appeal rejected
type SlashEvent struct {
	SlashID uint64
	TaskID  uint64
	Target  string
	Amount  uint64
	Reason  string
	ExecAt  uint64
}

// IntegrityViolationEvent is emitted when a member submits a reveal that
// doesn't match its commitment or the counterpart commitment. Count is the
// member's running total
type IntegrityViolationEvent struct {
	Member string
	TaskID uint64
	Error  string
	Count  uint64
}

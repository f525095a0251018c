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

// Package consensus turns the revealed submissions of a quorum into a
// verdict.
package consensus

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/blinklabs-io/gouroboros/cbor"

	"github.com/blinklabs-io/attest/stake"
)

type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeConfirmed
	OutcomeRefused
	OutcomeNoConsensus
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRefused:
		return "refused"
	case OutcomeNoConsensus:
		return "no_consensus"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// Revealed is an accepted reveal. The nonce is not part of the comparison
type Revealed struct {
	Member  stake.AccountID
	Core    []byte
	Payload []byte
	Support bool
}

type Summary struct {
	cbor.StructAsArray
	ValidSupport   []stake.AccountID
	InvalidSupport []stake.AccountID
	Against        []stake.AccountID
	Unruly         []stake.AccountID
	Outcome        Outcome
	AgreedCore     []byte
	AgreedPayload  []byte
}

// Winners returns the members whose verdict matched the outcome
func (s Summary) Winners() []stake.AccountID {
	switch s.Outcome {
	case OutcomeConfirmed:
		return s.ValidSupport
	case OutcomeRefused:
		return s.Against
	}
	return nil
}

type group struct {
	core    []byte
	payload []byte
	members []stake.AccountID
}

// groupKey is length-prefixed so that core/payload boundaries can't collide
func groupKey(core, payload []byte) string {
	buf := binary.BigEndian.AppendUint64(nil, uint64(len(core)))
	buf = append(buf, core...)
	buf = append(buf, payload...)
	return string(buf)
}

// Summarize partitions the reveals of a quorum.
//
// Support reveals are grouped by byte equality of their core and payload. The
// largest group with at least two members is the valid group; a tie for the
// largest size leaves no valid group. Every other supporter is invalid, every
// against voter is against, and quorum members without a reveal are unruly.
// The outcome is Confirmed when the valid group is non-empty and at least as
// large as the against set, Refused when the against set outnumbers all
// supporters, and NoConsensus otherwise. Reveals from outside the quorum and
// repeated reveals of a member are ignored
func Summarize(quorum []stake.AccountID, reveals []Revealed) Summary {
	var ret Summary
	inQuorum := make(map[stake.AccountID]bool, len(quorum))
	for _, id := range quorum {
		inQuorum[id] = true
	}
	revealed := make(map[stake.AccountID]bool, len(reveals))
	groups := make(map[string]*group)
	var groupOrder []string
	var supporters []stake.AccountID
	for _, r := range reveals {
		if !inQuorum[r.Member] || revealed[r.Member] {
			continue
		}
		revealed[r.Member] = true
		if !r.Support {
			ret.Against = append(ret.Against, r.Member)
			continue
		}
		supporters = append(supporters, r.Member)
		key := groupKey(r.Core, r.Payload)
		g, ok := groups[key]
		if !ok {
			g = &group{core: r.Core, payload: r.Payload}
			groups[key] = g
			groupOrder = append(groupOrder, key)
		}
		g.members = append(g.members, r.Member)
	}
	for _, id := range quorum {
		if !revealed[id] {
			ret.Unruly = append(ret.Unruly, id)
		}
	}
	// Find the unique largest support group
	var best *group
	tied := false
	for _, key := range groupOrder {
		g := groups[key]
		switch {
		case best == nil || len(g.members) > len(best.members):
			best = g
			tied = false
		case len(g.members) == len(best.members):
			tied = true
		}
	}
	if best != nil && !tied && len(best.members) >= 2 {
		ret.ValidSupport = slices.Clone(best.members)
	}
	for _, id := range supporters {
		if !slices.Contains(ret.ValidSupport, id) {
			ret.InvalidSupport = append(ret.InvalidSupport, id)
		}
	}
	valid := len(ret.ValidSupport)
	switch {
	case valid > 0 && valid >= len(ret.Against):
		ret.Outcome = OutcomeConfirmed
		ret.AgreedCore = slices.Clone(best.core)
		ret.AgreedPayload = slices.Clone(best.payload)
	case len(ret.Against) > valid+len(ret.InvalidSupport):
		ret.Outcome = OutcomeRefused
	default:
		ret.Outcome = OutcomeNoConsensus
	}
	slices.Sort(ret.ValidSupport)
	slices.Sort(ret.InvalidSupport)
	slices.Sort(ret.Against)
	slices.Sort(ret.Unruly)
	return ret
}

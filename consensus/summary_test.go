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

package consensus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blinklabs-io/attest/consensus"
	"github.com/blinklabs-io/attest/stake"
)

type ids = []stake.AccountID

func support(member string, payload string) consensus.Revealed {
	return consensus.Revealed{
		Member:  stake.AccountID(member),
		Payload: []byte(payload),
		Support: true,
	}
}

func against(member string, payload string) consensus.Revealed {
	return consensus.Revealed{
		Member:  stake.AccountID(member),
		Payload: []byte(payload),
	}
}

func TestSummarize(t *testing.T) {
	testDefs := []struct {
		name     string
		quorum   ids
		reveals  []consensus.Revealed
		valid    ids
		invalid  ids
		against  ids
		unruly   ids
		outcome  consensus.Outcome
		payload  string
		nilAgree bool
	}{
		{
			name:    "unanimous support",
			quorum:  ids{"a", "b", "c"},
			reveals: []consensus.Revealed{support("a", "x"), support("b", "x"), support("c", "x")},
			valid:   ids{"a", "b", "c"},
			outcome: consensus.OutcomeConfirmed,
			payload: "x",
		},
		{
			name:    "one dissenter",
			quorum:  ids{"a", "b", "c"},
			reveals: []consensus.Revealed{support("a", "x"), against("b", "y"), support("c", "x")},
			valid:   ids{"a", "c"},
			against: ids{"b"},
			outcome: consensus.OutcomeConfirmed,
			payload: "x",
		},
		{
			name:    "inconsistent supporter",
			quorum:  ids{"a", "b", "c"},
			reveals: []consensus.Revealed{support("c", "x"), support("b", "z"), support("a", "x")},
			valid:   ids{"a", "c"},
			invalid: ids{"b"},
			outcome: consensus.OutcomeConfirmed,
			payload: "x",
		},
		{
			name:    "one missing",
			quorum:  ids{"a", "b", "c"},
			reveals: []consensus.Revealed{support("a", "x"), support("b", "x")},
			valid:   ids{"a", "b"},
			unruly:  ids{"c"},
			outcome: consensus.OutcomeConfirmed,
			payload: "x",
		},
		{
			name:     "majority against",
			quorum:   ids{"a", "b", "c"},
			reveals:  []consensus.Revealed{against("a", "p"), against("b", "q"), support("c", "x")},
			invalid:  ids{"c"},
			against:  ids{"a", "b"},
			outcome:  consensus.OutcomeRefused,
			nilAgree: true,
		},
		{
			name:     "all different support",
			quorum:   ids{"a", "b", "c"},
			reveals:  []consensus.Revealed{support("a", "x"), support("b", "y"), support("c", "z")},
			invalid:  ids{"a", "b", "c"},
			outcome:  consensus.OutcomeNoConsensus,
			nilAgree: true,
		},
		{
			name:   "tied largest groups",
			quorum: ids{"a", "b", "c", "d"},
			reveals: []consensus.Revealed{
				support("a", "x"), support("b", "x"),
				support("c", "y"), support("d", "y"),
			},
			invalid:  ids{"a", "b", "c", "d"},
			outcome:  consensus.OutcomeNoConsensus,
			nilAgree: true,
		},
		{
			name:   "valid ties against",
			quorum: ids{"a", "b", "c", "d"},
			reveals: []consensus.Revealed{
				support("a", "x"), support("b", "x"),
				against("c", ""), against("d", ""),
			},
			valid:   ids{"a", "b"},
			against: ids{"c", "d"},
			outcome: consensus.OutcomeConfirmed,
			payload: "x",
		},
		{
			name:   "against equals all support",
			quorum: ids{"a", "b", "c", "d"},
			reveals: []consensus.Revealed{
				support("a", "x"), support("b", "y"),
				against("c", ""), against("d", ""),
			},
			invalid:  ids{"a", "b"},
			against:  ids{"c", "d"},
			outcome:  consensus.OutcomeNoConsensus,
			nilAgree: true,
		},
		{
			name:     "nobody revealed",
			quorum:   ids{"a", "b", "c"},
			unruly:   ids{"a", "b", "c"},
			outcome:  consensus.OutcomeNoConsensus,
			nilAgree: true,
		},
		{
			name:   "outsiders and repeats ignored",
			quorum: ids{"a", "b"},
			reveals: []consensus.Revealed{
				support("a", "x"), against("a", "x"),
				support("b", "x"), support("z", "x"),
			},
			valid:   ids{"a", "b"},
			outcome: consensus.OutcomeConfirmed,
			payload: "x",
		},
		{
			name:     "single supporter is never valid",
			quorum:   ids{"a", "b", "c"},
			reveals:  []consensus.Revealed{support("a", "x")},
			invalid:  ids{"a"},
			unruly:   ids{"b", "c"},
			outcome:  consensus.OutcomeNoConsensus,
			nilAgree: true,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			s := consensus.Summarize(testDef.quorum, testDef.reveals)
			assert.Equal(t, testDef.valid, s.ValidSupport, "valid")
			assert.Equal(t, testDef.invalid, s.InvalidSupport, "invalid")
			assert.Equal(t, testDef.against, s.Against, "against")
			assert.Equal(t, testDef.unruly, s.Unruly, "unruly")
			assert.Equal(t, testDef.outcome, s.Outcome)
			if testDef.nilAgree {
				assert.Nil(t, s.AgreedPayload)
			} else {
				assert.Equal(t, []byte(testDef.payload), s.AgreedPayload)
			}
		})
	}
}

func TestSummarizeCoreSeparatesGroups(t *testing.T) {
	// Same concatenation, different split between core and payload
	reveals := []consensus.Revealed{
		{Member: "a", Core: []byte("ab"), Payload: []byte("c"), Support: true},
		{Member: "b", Core: []byte("a"), Payload: []byte("bc"), Support: true},
		{Member: "c", Core: []byte("ab"), Payload: []byte("c"), Support: true},
	}
	s := consensus.Summarize(ids{"a", "b", "c"}, reveals)
	assert.Equal(t, ids{"a", "c"}, s.ValidSupport)
	assert.Equal(t, ids{"b"}, s.InvalidSupport)
	assert.Equal(t, []byte("ab"), s.AgreedCore)
	assert.Equal(t, ids{"a", "c"}, s.Winners())
}

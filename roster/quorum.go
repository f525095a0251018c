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
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"slices"

	"golang.org/x/crypto/blake2b"

	"github.com/blinklabs-io/attest/stake"
)

// Rand is the randomness source for quorum draws
type Rand interface {
	// IntN returns a uniform value in [0, n)
	IntN(n int) int
}

// NewSeededRand derives a deterministic stream from a shared seed and the
// draw context so every replica draws the same quorum
func NewSeededRand(seed []byte, subject string, round uint32, now uint64) *rand.Rand {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], round)
	binary.BigEndian.PutUint64(buf[4:12], now)
	h, _ := blake2b.New256(nil)
	h.Write(seed)
	h.Write([]byte(subject))
	h.Write(buf[:])
	var chachaSeed [32]byte
	copy(chachaSeed[:], h.Sum(nil))
	return rand.New(rand.NewChaCha8(chachaSeed))
}

// AvailableQuorum draws k distinct Active members uniformly at random with a
// partial Fisher-Yates shuffle over the ID-ordered pool. The optional eligible
// func further narrows the pool. A pool smaller than k is an error; members
// are never reused to fill a quorum
func (r *Roster) AvailableQuorum(
	k int,
	rng Rand,
	eligible func(Member) bool,
) ([]stake.AccountID, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuorumSize, k)
	}
	pool := make([]stake.AccountID, 0, len(r.members))
	for _, m := range r.Members(StatusActive) {
		if eligible != nil && !eligible(m) {
			continue
		}
		pool = append(pool, m.ID)
	}
	if len(pool) < k {
		return nil, fmt.Errorf(
			"%w: need %d, have %d",
			ErrInsufficientPool,
			k,
			len(pool),
		)
	}
	for i := range k {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return slices.Clone(pool[:k]), nil
}

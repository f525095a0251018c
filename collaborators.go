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

package attest

import (
	"crypto/ed25519"

	"github.com/blinklabs-io/attest/consensus"
	"github.com/blinklabs-io/attest/digest"
	"github.com/blinklabs-io/attest/stake"
	"github.com/blinklabs-io/attest/task"
	"github.com/blinklabs-io/gouroboros/cbor"
)

const (
	commitmentMessageTag = "attest/commitment"
	revealMessageTag     = "attest/reveal"
)

// Notifier is told about every finished task so the embedder can update the
// subject, such as marking a machine online. It is called with the committee
// locked and must not call back into the committee
type Notifier interface {
	NotifyResourceStatus(subject string, kind string, outcome consensus.Outcome)
}

// PriceOracle converts stake expressed in stable units into tokens
type PriceOracle interface {
	// Rate returns the token amount for one stable unit
	Rate() (uint64, error)
}

// SignatureVerifier checks a member's signature over a submission message
type SignatureVerifier interface {
	Verify(pubkey []byte, msg []byte, sig []byte) bool
}

// Ed25519Verifier verifies ed25519 signatures, matching the credentials
// accepted by the roster
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(pubkey []byte, msg []byte, sig []byte) bool {
	if len(pubkey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pubkey, msg, sig)
}

// CommitmentMessage returns the canonical message a member signs to submit a
// commitment
func CommitmentMessage(
	taskID task.ID,
	round uint32,
	member stake.AccountID,
	commitment digest.Digest,
) ([]byte, error) {
	return cbor.Encode(
		[]any{
			commitmentMessageTag,
			uint64(taskID),
			round,
			string(member),
			commitment.Bytes(),
		},
	)
}

// RevealMessage returns the canonical message a member signs to submit a
// reveal
func RevealMessage(
	taskID task.ID,
	round uint32,
	member stake.AccountID,
	reveal task.Reveal,
) ([]byte, error) {
	return cbor.Encode(
		[]any{
			revealMessageTag,
			uint64(taskID),
			round,
			string(member),
			reveal.Core,
			reveal.Payload,
			reveal.Nonce,
			reveal.Support,
		},
	)
}

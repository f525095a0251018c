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

package digest

import (
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Size is the digest width in bytes (BLAKE2b with a 128-bit output)
const Size = 16

var (
	supportByte = []byte("1")
	againstByte = []byte("0")
)

var ErrInvalidDigest = errors.New("invalid digest")

// Digest is a fixed-width commitment hash
type Digest [Size]byte

// Hasher produces digests. All participants must use a bit-exact identical
// implementation
type Hasher interface {
	Sum(data ...[]byte) Digest
}

// Blake2b128 is the default Hasher
type Blake2b128 struct{}

func (Blake2b128) Sum(data ...[]byte) Digest {
	return Sum(data...)
}

// Sum returns the BLAKE2b-128 digest of the concatenation of data
func Sum(data ...[]byte) Digest {
	// blake2b.New only fails for an invalid size or oversized key
	h, err := blake2b.New(Size, nil)
	if err != nil {
		panic(err)
	}
	for _, d := range data {
		h.Write(d)
	}
	var ret Digest
	copy(ret[:], h.Sum(nil))
	return ret
}

// Commit computes a commitment digest using the specified hasher. Each of
// core, payload and nonce is preceded by its length as a big-endian uint64,
// followed by "1" (support) or "0" (against), so no two splits of the same
// bytes share a preimage
func Commit(h Hasher, core, payload, nonce []byte, support bool) Digest {
	vote := againstByte
	if support {
		vote = supportByte
	}
	return h.Sum(
		lengthPrefix(core), core,
		lengthPrefix(payload), payload,
		lengthPrefix(nonce), nonce,
		vote,
	)
}

func lengthPrefix(field []byte) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(len(field)))
}

// Commitment computes a commitment digest with the default hasher
func Commitment(core, payload, nonce []byte, support bool) Digest {
	return Commit(Blake2b128{}, core, payload, nonce, support)
}

func FromBytes(data []byte) (Digest, error) {
	var ret Digest
	if len(data) != Size {
		return ret, fmt.Errorf(
			"%w: expected %d bytes, got %d",
			ErrInvalidDigest,
			Size,
			len(data),
		)
	}
	copy(ret[:], data)
	return ret, nil
}

// ParseHex decodes a hex digest, with or without a 0x prefix
func ParseHex(s string) (Digest, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	data, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %w", ErrInvalidDigest, err)
	}
	return FromBytes(data)
}

func (d Digest) Bytes() []byte {
	return d[:]
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) String() string {
	return "0x" + hex.EncodeToString(d[:])
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(data []byte) error {
	tmp, err := ParseHex(string(data))
	if err != nil {
		return err
	}
	*d = tmp
	return nil
}

func (d Digest) Value() (driver.Value, error) {
	return d[:], nil
}

func (d *Digest) Scan(val any) error {
	v, ok := val.([]byte)
	if !ok {
		return fmt.Errorf(
			"value was not expected type, wanted []byte, got %T",
			val,
		)
	}
	tmp, err := FromBytes(v)
	if err != nil {
		return err
	}
	*d = tmp
	return nil
}

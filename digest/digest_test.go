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

package digest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/attest/digest"
)

const (
	testMachineId   = "166aead3997957ce0e76b9e5fa5b12e2b7bd04a964f267171a2d458300ae7021"
	testReporterRnd = "abcdefg1"
	testErrReason   = "it's gpu is broken"
)

func TestSumKnownValues(t *testing.T) {
	testDefs := []struct {
		input    []string
		expected string
	}{
		{input: nil, expected: "0xcae66941d9efbd404e4d88758ea67670"},
		{input: []string{"abc"}, expected: "0xcf4ab791c62b8d2b2109c90275287816"},
		{input: []string{"a", "b", "c"}, expected: "0xcf4ab791c62b8d2b2109c90275287816"},
		{
			input:    []string{testMachineId, testReporterRnd, testErrReason},
			expected: "0x498d25b623a63382df71ffde42a32d38",
		},
	}
	for _, testDef := range testDefs {
		parts := make([][]byte, 0, len(testDef.input))
		for _, p := range testDef.input {
			parts = append(parts, []byte(p))
		}
		assert.Equal(t, testDef.expected, digest.Sum(parts...).String())
	}
}

func TestCommitmentPreimage(t *testing.T) {
	// Onboarding style: machine info, committee nonce, vote
	info := "8eaf04151687736326c9fea17e25fc5287613693c912909cb226aa4794f26a48" +
		"GeForceRTX2080Ti4435211283456682512345465324567733" +
		"Intel(R) Xeon(R) Silver 4110 CPU3226527988672"
	got := digest.Commitment(nil, []byte(info), []byte("abcdefg"), true)
	assert.Equal(t, "0x33aff2593803fbcb1cb6dbc19e2753da", got.String())
	// Fault report style: reporter core fields, committee nonce, vote
	core := []byte(testMachineId + testReporterRnd + testErrReason)
	got = digest.Commitment(core, nil, []byte("abcdefg2"), true)
	assert.Equal(t, "0xcd1ea0da0c1ebf414f1b3492e07b5ce3", got.String())
	// The vote is bound
	assert.NotEqual(
		t,
		got,
		digest.Commitment(core, nil, []byte("abcdefg2"), false),
	)
}

func TestCommitmentFieldBoundaries(t *testing.T) {
	base := digest.Commitment(nil, []byte("gpu:A100"), []byte("0-randa"), true)
	assert.Equal(t, "0x48d7f2e0fe8c510ff590dad5f0a75206", base.String())
	// The same bytes split differently between fields
	shifted := []struct {
		core    string
		payload string
		nonce   string
	}{
		{payload: "gpu:A1000", nonce: "-randa"},
		{payload: "gpu:A10", nonce: "00-randa"},
		{core: "gpu:", payload: "A100", nonce: "0-randa"},
		{payload: "gpu:A1000-randa"},
		{core: "gpu:A1000-randa"},
	}
	for _, s := range shifted {
		got := digest.Commitment([]byte(s.core), []byte(s.payload), []byte(s.nonce), true)
		assert.NotEqual(t, base, got, "core=%q payload=%q nonce=%q", s.core, s.payload, s.nonce)
	}
}

func TestParseHex(t *testing.T) {
	d := digest.Sum([]byte("abc"))
	parsed, err := digest.ParseHex(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
	parsed, err = digest.ParseHex("cf4ab791c62b8d2b2109c90275287816")
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
	_, err = digest.ParseHex("0xabcd")
	assert.ErrorIs(t, err, digest.ErrInvalidDigest)
	_, err = digest.ParseHex("zz")
	assert.ErrorIs(t, err, digest.ErrInvalidDigest)
}

func TestTextRoundTrip(t *testing.T) {
	d := digest.Sum([]byte("round trip"))
	text, err := d.MarshalText()
	require.NoError(t, err)
	var out digest.Digest
	require.NoError(t, out.UnmarshalText(text))
	assert.Equal(t, d, out)
	assert.False(t, out.IsZero())
	assert.True(t, digest.Digest{}.IsZero())
}

func TestScan(t *testing.T) {
	d := digest.Sum([]byte("scan"))
	val, err := d.Value()
	require.NoError(t, err)
	var out digest.Digest
	require.NoError(t, out.Scan(val))
	assert.Equal(t, d, out)
	assert.Error(t, out.Scan("not bytes"))
	assert.Error(t, out.Scan([]byte{1, 2, 3}))
}

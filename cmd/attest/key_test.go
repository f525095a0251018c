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

package main

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blinklabs-io/attest"
	"github.com/blinklabs-io/attest/digest"
	"github.com/blinklabs-io/attest/keystore"
	"github.com/blinklabs-io/attest/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignCommitment(t *testing.T) {
	dir := t.TempDir()
	skeyPath := filepath.Join(dir, "m1.skey")
	key, err := keystore.Generate("m1")
	require.NoError(t, err)
	require.NoError(t, key.Save(skeyPath, filepath.Join(dir, "m1.vkey")))

	cmd := signCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"commitment", "--key", skeyPath, "7", "1", "m1", "machine-1", "ok", "n1"})
	require.NoError(t, cmd.Execute())

	fields := strings.Fields(out.String())
	require.Len(t, fields, 2)
	d := digest.Commitment([]byte("machine-1"), []byte("ok"), []byte("n1"), true)
	assert.Equal(t, d.String(), fields[0])
	sig, err := hex.DecodeString(fields[1])
	require.NoError(t, err)
	msg, err := attest.CommitmentMessage(task.ID(7), 1, "m1", d)
	require.NoError(t, err)
	assert.True(t, attest.Ed25519Verifier{}.Verify(key.Public(), msg, sig))
}

func TestSignReveal(t *testing.T) {
	dir := t.TempDir()
	skeyPath := filepath.Join(dir, "m1.skey")
	key, err := keystore.Generate("m1")
	require.NoError(t, err)
	require.NoError(t, key.Save(skeyPath, filepath.Join(dir, "m1.vkey")))

	cmd := signCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"reveal", "--key", skeyPath, "--support=false", "7", "2", "m1", "machine-1", "ok", "n1"})
	require.NoError(t, cmd.Execute())

	sig, err := hex.DecodeString(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	msg, err := attest.RevealMessage(
		task.ID(7),
		2,
		"m1",
		task.Reveal{Core: []byte("machine-1"), Payload: []byte("ok"), Nonce: []byte("n1")},
	)
	require.NoError(t, err)
	assert.True(t, attest.Ed25519Verifier{}.Verify(key.Public(), msg, sig))
}

func TestSignBadTaskID(t *testing.T) {
	cmd := signCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"reveal", "--key", "unused", "x", "1", "m1", "c", "p", "n"})
	require.Error(t, cmd.Execute())
}

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

package errkind_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blinklabs-io/attest/internal/errkind"
)

func TestKindClassification(t *testing.T) {
	errPolicy := errkind.Policy("wrong phase")
	errIntegrity := errkind.Integrity("hash mismatch")
	errArith := errkind.Arithmetic("underflow")
	testDefs := []struct {
		err      error
		expected error
	}{
		{errPolicy, errkind.ErrPolicyViolation},
		{fmt.Errorf("task 4: %w", errPolicy), errkind.ErrPolicyViolation},
		{errIntegrity, errkind.ErrIntegrityViolation},
		{fmt.Errorf("reveal: %w", errIntegrity), errkind.ErrIntegrityViolation},
		{errArith, errkind.ErrArithmetic},
		{errors.New("plain"), nil},
		{nil, nil},
	}
	for _, testDef := range testDefs {
		assert.Equal(t, testDef.expected, errkind.Of(testDef.err))
	}
}

func TestKindSentinelIdentity(t *testing.T) {
	a := errkind.Policy("same text")
	b := errkind.Policy("same text")
	wrapped := fmt.Errorf("ctx: %w", a)
	assert.ErrorIs(t, wrapped, a)
	assert.NotErrorIs(t, wrapped, b)
	assert.ErrorIs(t, wrapped, errkind.ErrPolicyViolation)
	assert.NotErrorIs(t, wrapped, errkind.ErrArithmetic)
}

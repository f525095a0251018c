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

// Package errkind classifies committee errors into the three kinds callers
// act on: policy violations, integrity violations and stake arithmetic
// failures.
package errkind

import "errors"

var (
	// ErrPolicyViolation covers rejected operations that may succeed later
	// (wrong phase, insufficient stake, pool too small, duplicates)
	ErrPolicyViolation = errors.New("policy violation")
	// ErrIntegrityViolation covers hash and signature mismatches
	ErrIntegrityViolation = errors.New("integrity violation")
	// ErrArithmetic covers stake underflow and overflow
	ErrArithmetic = errors.New("stake arithmetic")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

// Policy returns a new sentinel error of the policy violation kind
func Policy(msg string) error {
	return &kindError{kind: ErrPolicyViolation, msg: msg}
}

// Integrity returns a new sentinel error of the integrity violation kind
func Integrity(msg string) error {
	return &kindError{kind: ErrIntegrityViolation, msg: msg}
}

// Arithmetic returns a new sentinel error of the arithmetic kind
func Arithmetic(msg string) error {
	return &kindError{kind: ErrArithmetic, msg: msg}
}

// Of returns the kind sentinel for err, or nil if err carries no kind
func Of(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrIntegrityViolation):
		return ErrIntegrityViolation
	case errors.Is(err, ErrArithmetic):
		return ErrArithmetic
	case errors.Is(err, ErrPolicyViolation):
		return ErrPolicyViolation
	}
	return nil
}

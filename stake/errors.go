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

package stake

import "github.com/blinklabs-io/attest/internal/errkind"

// BasisPoints is the denominator for percentage values
const BasisPoints = 10000

var (
	ErrInsufficientFree = errkind.Policy("insufficient free stake")
	ErrUnknownAccount   = errkind.Policy("unknown account")
	ErrNothingToClaim   = errkind.Policy("no pending reward to claim")
	ErrUnderflow        = errkind.Arithmetic("stake underflow")
	ErrOverflow         = errkind.Arithmetic("stake overflow")
)

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

package blob

import (
	"errors"
	"math/big"

	"github.com/blinklabs-io/attest/database/types"
)

const (
	commitTimestampBlobKey = "metadata_commit_timestamp"
)

// GetCommitTimestamp returns the last commit timestamp, or 0 if none was
// stored
func (s *Store) GetCommitTimestamp() (int64, error) {
	txn := s.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck

	val, err := s.Get(txn, []byte(commitTimestampBlobKey))
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return new(big.Int).SetBytes(val).Int64(), nil
}

func (s *Store) SetCommitTimestamp(txn types.Txn, timestamp int64) error {
	tmpTimestamp := new(big.Int).SetInt64(timestamp)
	return s.Set(txn, []byte(commitTimestampBlobKey), tmpTimestamp.Bytes())
}

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

package types

import (
	"encoding/binary"
	"errors"
)

const (
	TaskBlobKeyPrefix  = "at"
	SlashBlobKeyPrefix = "as"
)

func Uint64ToBytes(input uint64) []byte {
	ret := make([]byte, 8)
	binary.BigEndian.PutUint64(ret, input)
	return ret
}

// TaskBlobKey is the archive key of a finished task. Keys sort by task ID
func TaskBlobKey(taskID uint64) []byte {
	return append([]byte(TaskBlobKeyPrefix), Uint64ToBytes(taskID)...)
}

// SlashBlobKey is the archive key of a closed slash record
func SlashBlobKey(slashID uint64) []byte {
	return append([]byte(SlashBlobKeyPrefix), Uint64ToBytes(slashID)...)
}

// BlobKeyID returns the ID encoded in an archive key
func BlobKeyID(key []byte) (uint64, error) {
	if len(key) != 10 {
		return 0, errors.New("invalid archive key length")
	}
	return binary.BigEndian.Uint64(key[2:]), nil
}

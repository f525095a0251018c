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

package node

import (
	"fmt"
	"log/slog"

	"github.com/blinklabs-io/attest/database"
	"github.com/blinklabs-io/attest/internal/config"
	"github.com/blinklabs-io/attest/slash"
)

// Status is a summary of the stored committee state
type Status struct {
	LastTick       uint64
	Treasury       uint64
	Withdrawn      uint64
	Members        map[string]int
	Tasks          map[string]int
	PendingSlashes []slash.Record
	// DueSlashes are the pending slashes the next tick executes
	DueSlashes []slash.Record
	Finished   []database.ArchivedTask
}

// LoadStatus reads the stored committee state without starting the
// committee. At most recent finished tasks are included, starting at the
// task ID from
func LoadStatus(
	cfg *config.Config,
	logger *slog.Logger,
	from uint64,
	recent int,
) (*Status, error) {
	db, err := database.New(
		&database.Config{
			DataDir:       cfg.DatabasePath,
			Logger:        logger,
			BlobCacheSize: cfg.BlobCacheSize,
		},
	)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	state, found, err := db.LoadState()
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	ret := &Status{
		Members: make(map[string]int),
		Tasks:   make(map[string]int),
	}
	if !found {
		logger.Info("no stored state", "component", "node", "path", cfg.DatabasePath)
		return ret, nil
	}
	ret.LastTick = state.LastTick
	ret.Treasury = state.Treasury
	ret.Withdrawn = state.Withdrawn
	for _, m := range state.Members {
		ret.Members[m.Status.String()]++
	}
	for _, t := range state.Tasks {
		ret.Tasks[t.Phase.String()]++
	}
	for _, r := range state.Slashes {
		if r.Status == slash.StatusPending || r.Status == slash.StatusAppealed {
			ret.PendingSlashes = append(ret.PendingSlashes, r)
		}
	}
	ret.DueSlashes, err = db.DueSlashes(state.LastTick+1, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read due slashes: %w", err)
	}
	if recent > 0 {
		ret.Finished, err = db.ArchivedTasks(from, recent, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read archive: %w", err)
		}
	}
	return ret, nil
}

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
	"errors"
	"fmt"

	"github.com/blinklabs-io/attest/consensus"
	"github.com/blinklabs-io/attest/database"
	"github.com/blinklabs-io/attest/roster"
	"github.com/blinklabs-io/attest/slash"
	"github.com/blinklabs-io/attest/stake"
	"github.com/blinklabs-io/attest/task"
)

// Now returns the last processed tick
func (c *Committee) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTick
}

func (c *Committee) Member(id stake.AccountID) (roster.Member, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roster.Member(id)
}

// Members returns the members with any of the specified statuses, or every
// member when none are given
func (c *Committee) Members(statuses ...roster.Status) []roster.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roster.Members(statuses...)
}

func (c *Committee) Account(id stake.AccountID) (stake.Account, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Account(id)
}

// Task returns an open task
func (c *Committee) Task(id task.ID) (task.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Task(id)
}

// Tasks returns the open tasks in any of the specified phases
func (c *Committee) Tasks(phases ...task.Phase) []task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Tasks(phases...)
}

// FinishedTask returns a finished task from the archive
func (c *Committee) FinishedTask(id task.ID) (database.ArchivedTask, error) {
	if tmp, ok := c.summaries.Get(uint64(id)); ok {
		return tmp.(database.ArchivedTask), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.engine.Task(id); ok {
		return database.ArchivedTask{}, fmt.Errorf(
			"%w: task %d is %s",
			task.ErrWrongPhase,
			id,
			t.Phase,
		)
	}
	archived, err := c.db.ArchivedTask(uint64(id), nil)
	if err != nil {
		if errors.Is(err, database.ErrNotArchived) {
			return database.ArchivedTask{}, fmt.Errorf("%w: %d", task.ErrUnknownTask, id)
		}
		return database.ArchivedTask{}, err
	}
	c.summaries.Add(archived.ID, archived)
	return archived, nil
}

// Summary returns the consensus summary of a finished task
func (c *Committee) Summary(id task.ID) (consensus.Summary, error) {
	archived, err := c.FinishedTask(id)
	if err != nil {
		return consensus.Summary{}, err
	}
	return archived.Summary, nil
}

// Slash returns a slash record, open or closed
func (c *Committee) Slash(id slash.ID) (slash.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.slashes.Record(id); ok {
		return r, nil
	}
	for _, r := range c.unsaved.slashes {
		if r.ID == id {
			return r, nil
		}
	}
	r, err := c.db.ArchivedSlash(uint64(id), nil)
	if err != nil {
		if errors.Is(err, database.ErrNotArchived) {
			return slash.Record{}, fmt.Errorf("%w: %d", slash.ErrUnknownSlash, id)
		}
		return slash.Record{}, err
	}
	return r, nil
}

// PendingSlashes returns the open slash records ordered by ID
func (c *Committee) PendingSlashes() []slash.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slashes.Records()
}

// Treasury returns the total amount slashed to the treasury
func (c *Committee) Treasury() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Treasury()
}

// Violations returns the number of integrity violations recorded for a member
func (c *Committee) Violations(id stake.AccountID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.violations[id]
}

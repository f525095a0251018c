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
	"context"
	"fmt"
	"time"

	"github.com/blinklabs-io/attest/consensus"
	"github.com/blinklabs-io/attest/database"
	"github.com/blinklabs-io/attest/event"
	"github.com/blinklabs-io/attest/slash"
	"github.com/blinklabs-io/attest/task"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OnTick processes tick now. It must be called once per tick, with strictly
// increasing ticks, before any operation for that tick. The steps run in a
// fixed order:
//
//  1. execute slashes due at or before now
//  2. apply phase deadlines, so submissions at a deadline tick are rejected
//  3. summarize tasks, settle their stake and finish or reopen them
//  4. retry filling tasks waiting for enough Active members
//  5. persist the state and archives, then publish the tick's events
//
// A persistence failure is returned after the in-memory state has advanced;
// the unsaved archives are written with the next successful snapshot
func (c *Committee) OnTick(ctx context.Context, now uint64) (err error) {
	ctx, span := c.tracer.Start(
		ctx,
		"committee.OnTick",
		trace.WithAttributes(attribute.Int64("tick", int64(now))),
	)
	defer span.End()
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if now <= c.lastTick {
		err := fmt.Errorf("%w: %d after %d", ErrTickOutOfOrder, now, c.lastTick)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	c.lastTick = now
	c.executeDue(ctx, now)
	c.advance(ctx, now)
	c.summarize(ctx, now)
	c.emitTransitions(c.engine.Retry(now))
	if err := c.persist(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		c.logger.Error(
			"failed to persist committee state",
			"component", "committee",
			"tick", now,
			"error", err,
		)
		c.flushEvents()
		return err
	}
	c.updateGauges()
	c.flushEvents()
	c.metrics.tickDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (c *Committee) executeDue(ctx context.Context, now uint64) {
	_, span := c.tracer.Start(ctx, "committee.executeDue")
	defer span.End()
	records, err := c.slashes.ExecuteDue(now)
	if err != nil {
		// Failed records stay queued and are retried on the next tick
		span.RecordError(err)
		c.logger.Error(
			"failed to execute due slashes",
			"component", "committee",
			"tick", now,
			"error", err,
		)
	}
	span.SetAttributes(attribute.Int("executed", len(records)))
	for _, r := range records {
		c.unsaved.slashes = append(c.unsaved.slashes, r)
		c.metrics.slashesClosedTotal.WithLabelValues(r.Status.String()).Inc()
		c.emit(event.SlashExecutedEventType, slashEvent(r))
	}
}

func (c *Committee) advance(ctx context.Context, now uint64) {
	_, span := c.tracer.Start(ctx, "committee.advance")
	defer span.End()
	transitions := c.engine.Advance(now)
	span.SetAttributes(attribute.Int("transitions", len(transitions)))
	c.emitTransitions(transitions)
}

func (c *Committee) summarize(ctx context.Context, now uint64) {
	_, span := c.tracer.Start(ctx, "committee.summarize")
	defer span.End()
	tasks := c.engine.Tasks(task.PhaseSummarizing)
	span.SetAttributes(attribute.Int("tasks", len(tasks)))
	for _, t := range tasks {
		if err := c.settle(t, now); err != nil {
			span.RecordError(err)
			c.logger.Error(
				"failed to settle task",
				"component", "committee",
				"task", t.ID,
				"subject", t.Subject,
				"error", err,
			)
		}
	}
}

// settle computes the full stake effect set of a summarized task before
// applying any of it, then finishes the task or starts a new round
func (c *Committee) settle(t task.Task, now uint64) error {
	summary := t.Summarize()
	retry := summary.Outcome == consensus.OutcomeNoConsensus &&
		t.Round < t.Timing.MaxRounds
	in := slash.PlanInput{
		TaskID:       uint64(t.ID),
		Subject:      t.Subject,
		StakePerTask: t.StakePerTask,
		Assigned:     t.Assigned(),
		Summary:      summary,
		Final:        !retry,
		Now:          now,
	}
	if t.Party != nil {
		in.Party = &slash.Party{
			Account: t.Party.Account,
			Bond:    t.Party.Bond,
			FaultOn: t.Party.FaultOn,
		}
	}
	effects, err := c.slashes.Policy().Plan(in)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	records, err := c.slashes.Apply(effects)
	if err != nil {
		c.logger.Error(
			"failed to apply task effects",
			"component", "committee",
			"task", t.ID,
			"error", err,
		)
	}
	for _, r := range records {
		c.metrics.slashesQueuedTotal.WithLabelValues(r.Reason.String()).Inc()
		c.emit(event.SlashQueuedEventType, slashEvent(r))
	}
	if retry {
		if err := c.engine.Reopen(t.ID, now); err != nil {
			return fmt.Errorf("reopen: %w", err)
		}
		c.metrics.tasksReopenedTotal.Inc()
		reopened, _ := c.engine.Task(t.ID)
		c.emitTransitions([]task.Transition{
			{Task: t.ID, Subject: t.Subject, From: task.PhaseSummarizing, To: reopened.Phase},
		})
		c.logger.Info(
			"task reopened without consensus",
			"component", "committee",
			"task", t.ID,
			"subject", t.Subject,
			"round", reopened.Round,
		)
		return nil
	}
	if err := c.engine.Finish(t.ID, summary.Outcome); err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	finished, err := c.engine.Archive(t.ID)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	slashIDs := make([]slash.ID, 0, len(records))
	for _, r := range records {
		slashIDs = append(slashIDs, r.ID)
	}
	archived := database.NewArchivedTask(finished, summary, now, slashIDs)
	c.unsaved.tasks = append(c.unsaved.tasks, archived)
	c.summaries.Add(archived.ID, archived)
	if c.config.notifier != nil {
		c.config.notifier.NotifyResourceStatus(finished.Subject, finished.Kind, summary.Outcome)
	}
	c.metrics.tasksFinishedTotal.WithLabelValues(finished.Kind, summary.Outcome.String()).Inc()
	c.emitTransitions([]task.Transition{
		{Task: t.ID, Subject: t.Subject, From: task.PhaseSummarizing, To: task.PhaseFinished},
	})
	c.emit(
		event.TaskFinishedEventType,
		event.TaskFinishedEvent{
			TaskID:        uint64(t.ID),
			Subject:       finished.Subject,
			Kind:          finished.Kind,
			Outcome:       summary.Outcome.String(),
			AgreedPayload: summary.AgreedPayload,
			Slashes:       len(records),
		},
	)
	c.logger.Info(
		"task finished",
		"component", "committee",
		"task", t.ID,
		"subject", finished.Subject,
		"outcome", summary.Outcome.String(),
		"round", finished.Round,
		"slashes", len(records),
	)
	return nil
}

// persist writes the archives and the state snapshot in one transaction
func (c *Committee) persist(ctx context.Context) error {
	_, span := c.tracer.Start(ctx, "committee.persist")
	defer span.End()
	txn := c.db.Transaction(true)
	err := txn.Do(func(txn *database.Txn) error {
		for _, archived := range c.unsaved.tasks {
			if err := c.db.ArchiveTask(archived, txn); err != nil {
				return fmt.Errorf("archive task %d: %w", archived.ID, err)
			}
		}
		for _, r := range c.unsaved.slashes {
			if err := c.db.ArchiveSlash(r, txn); err != nil {
				return fmt.Errorf("archive slash %d: %w", r.ID, err)
			}
		}
		return c.db.SaveState(c.state(), txn)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(
		attribute.Int("archived_tasks", len(c.unsaved.tasks)),
		attribute.Int("archived_slashes", len(c.unsaved.slashes)),
	)
	c.unsaved = unsavedArchive{}
	return nil
}

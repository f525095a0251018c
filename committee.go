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
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/blinklabs-io/attest/database"
	"github.com/blinklabs-io/attest/event"
	"github.com/blinklabs-io/attest/internal/errkind"
	"github.com/blinklabs-io/attest/roster"
	"github.com/blinklabs-io/attest/slash"
	"github.com/blinklabs-io/attest/stake"
	"github.com/blinklabs-io/attest/task"
	lru "github.com/hashicorp/golang-lru"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/blinklabs-io/attest"

var (
	// ErrTickOutOfOrder is a caller contract violation: ticks must be
	// strictly increasing and processed once each
	ErrTickOutOfOrder   = errors.New("tick out of order")
	ErrClosed           = errors.New("committee is closed")
	ErrNotAuthority     = errkind.Policy("caller is not an appeal authority")
	ErrInvalidSignature = errkind.Integrity("invalid submission signature")
	ErrUnknownTaskKind  = errkind.Policy("unknown task kind")
	ErrInvalidAmount    = errkind.Policy("amount must be non-zero")
)

// Error kinds, see KindOf
var (
	ErrPolicyViolation    = errkind.ErrPolicyViolation
	ErrIntegrityViolation = errkind.ErrIntegrityViolation
	ErrArithmetic         = errkind.ErrArithmetic
)

// KindOf returns ErrPolicyViolation, ErrIntegrityViolation or ErrArithmetic
// for errors returned by the committee, or nil for other errors
func KindOf(err error) error {
	return errkind.Of(err)
}

// Committee is the entry point of the embedding ledger. It owns the stake
// ledger, roster, task engine and slash ledger and runs one operation at a
// time. Inbound operations use the last processed tick as the current time
type Committee struct {
	config      Config
	logger      *slog.Logger
	db          *database.Database
	ownDB       bool
	eventBus    *event.EventBus
	ownEventBus bool
	ledger      *stake.Ledger
	roster      *roster.Roster
	engine      *task.Engine
	slashes     *slash.Ledger
	summaries   *lru.Cache
	tracer      trace.Tracer
	metrics     committeeMetrics
	violations  map[stake.AccountID]uint64
	events      []event.Event
	// unsaved holds archive records not yet written with a state snapshot
	unsaved  unsavedArchive
	lastTick uint64
	closed   bool
	mu       sync.Mutex
}

type unsavedArchive struct {
	tasks   []database.ArchivedTask
	slashes []slash.Record
}

func New(cfg Config) (*Committee, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	c := &Committee{
		config:     cfg,
		logger:     cfg.logger,
		db:         cfg.db,
		eventBus:   cfg.eventBus,
		tracer:     otel.Tracer(tracerName),
		violations: make(map[stake.AccountID]uint64),
	}
	c.metrics.init(cfg.promRegistry)
	summaries, err := lru.New(cfg.summaryCacheSize)
	if err != nil {
		return nil, err
	}
	c.summaries = summaries
	if c.db == nil {
		if err := c.openDatabase(); err != nil {
			return nil, err
		}
	}
	if c.eventBus == nil {
		c.eventBus = event.NewEventBus(cfg.promRegistry, cfg.logger)
		c.ownEventBus = true
	}
	c.ledger = stake.NewLedger(cfg.logger)
	c.roster = roster.New(c.ledger, cfg.rosterParams, cfg.logger)
	c.roster.OnStatusChange(c.memberStatusChanged)
	c.engine = task.NewEngine(
		task.EngineConfig{
			Ledger: c.ledger,
			Roster: c.roster,
			Hasher: cfg.hasher,
			Logger: cfg.logger,
			Seed:   cfg.seed,
		},
	)
	c.slashes = slash.NewLedger(c.ledger, cfg.slashPolicy, cfg.logger)
	if err := c.loadState(); err != nil {
		_ = c.release()
		return nil, err
	}
	c.updateGauges()
	return c, nil
}

func (c *Committee) openDatabase() error {
	db, err := database.New(
		&database.Config{
			DataDir:       c.config.dataDir,
			Logger:        c.logger,
			PromRegistry:  c.config.promRegistry,
			BlobCacheSize: c.config.blobCacheSize,
		},
	)
	if db == nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	c.db = db
	c.ownDB = true
	if err != nil {
		var dbErr database.CommitTimestampError
		if !errors.As(err, &dbErr) {
			_ = db.Close()
			return fmt.Errorf("failed to open database: %w", err)
		}
		c.logger.Warn(
			"database initialization error, recovering",
			"component", "committee",
			"error", err,
		)
		if err := db.RecoverCommitTimestamp(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to recover database: %w", err)
		}
	}
	return nil
}

func (c *Committee) loadState() error {
	state, ok, err := c.db.LoadState()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if !ok {
		return nil
	}
	c.ledger.Restore(state.Accounts, state.Treasury, state.Withdrawn)
	c.roster.Restore(state.Members)
	c.engine.Restore(state.Tasks, state.NextTaskID)
	c.slashes.Restore(state.Slashes, state.NextSlashID)
	maps.Copy(c.violations, state.Violations)
	c.lastTick = state.LastTick
	c.logger.Info(
		"loaded committee state",
		"component", "committee",
		"tick", c.lastTick,
		"members", len(state.Members),
		"tasks", len(state.Tasks),
		"slashes", len(state.Slashes),
	)
	return nil
}

func (c *Committee) state() *database.State {
	return &database.State{
		LastTick:    c.lastTick,
		NextTaskID:  c.engine.NextID(),
		NextSlashID: c.slashes.NextID(),
		Treasury:    c.ledger.Treasury(),
		Withdrawn:   c.ledger.Withdrawn(),
		Accounts:    c.ledger.Accounts(),
		Members:     c.roster.Members(),
		Violations:  maps.Clone(c.violations),
		Tasks:       c.engine.Tasks(),
		Slashes:     c.slashes.Records(),
	}
}

// Close persists the current state and releases the database and event bus
// when the committee created them
func (c *Committee) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var err error
	if saveErr := c.persist(context.Background()); saveErr != nil {
		err = fmt.Errorf("failed to save state: %w", saveErr)
	}
	return errors.Join(err, c.release())
}

func (c *Committee) release() error {
	var err error
	if c.ownEventBus && c.eventBus != nil {
		c.eventBus.Stop()
	}
	if c.ownDB && c.db != nil {
		err = errors.Join(err, c.db.Close())
	}
	return err
}

// EventBus returns the bus committee events are published on
func (c *Committee) EventBus() *event.EventBus {
	return c.eventBus
}

// Database returns the committee database
func (c *Committee) Database() *database.Database {
	return c.db
}

func (c *Committee) memberStatusChanged(id stake.AccountID, from, to roster.Status) {
	c.emit(
		event.MemberStatusEventType,
		event.MemberStatusEvent{
			Member: string(id),
			From:   from.String(),
			To:     to.String(),
		},
	)
}

// emit queues an event to be published when the current operation completes
func (c *Committee) emit(eventType event.EventType, data any) {
	c.events = append(c.events, event.NewEvent(eventType, c.lastTick, data))
}

func (c *Committee) flushEvents() {
	events := c.events
	c.events = nil
	for _, evt := range events {
		c.eventBus.Publish(evt.Type, evt)
	}
}

// begin locks the committee for an operation. The returned func must be
// deferred with the operation's error
func (c *Committee) begin(op string) (func(*error), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	return func(errp *error) {
		defer c.mu.Unlock()
		c.flushEvents()
		if *errp == nil {
			return
		}
		c.metrics.rejectedTotal.WithLabelValues(op, kindLabel(*errp)).Inc()
		c.logger.Debug(
			"operation rejected",
			"component", "committee",
			"op", op,
			"error", *errp,
		)
	}, nil
}

func kindLabel(err error) string {
	switch KindOf(err) {
	case ErrPolicyViolation:
		return "policy"
	case ErrIntegrityViolation:
		return "integrity"
	case ErrArithmetic:
		return "arithmetic"
	default:
		return "other"
	}
}

func (c *Committee) isAuthority(id stake.AccountID) bool {
	return slices.Contains(c.config.authorities, id)
}

func (c *Committee) updateGauges() {
	c.metrics.tick.Set(float64(c.lastTick))
	c.metrics.members.Reset()
	for _, m := range c.roster.Members() {
		c.metrics.members.WithLabelValues(m.Status.String()).Inc()
	}
	c.metrics.tasks.Reset()
	for _, t := range c.engine.Tasks() {
		c.metrics.tasks.WithLabelValues(t.Phase.String()).Inc()
	}
	if total, err := c.ledger.TotalStaked(); err == nil {
		c.metrics.totalStaked.Set(float64(total))
	}
	c.metrics.treasury.Set(float64(c.ledger.Treasury()))
}

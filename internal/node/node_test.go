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
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/attest"
	"github.com/blinklabs-io/attest/consensus"
	"github.com/blinklabs-io/attest/internal/config"
	"github.com/blinklabs-io/attest/slash"
	"github.com/blinklabs-io/attest/stake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeTicker struct {
	mu    sync.Mutex
	now   uint64
	ticks []uint64
	err   error
	fired chan struct{}
}

func (f *fakeTicker) Now() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTicker) OnTick(_ context.Context, now uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.now = now
	f.ticks = append(f.ticks, now)
	if len(f.ticks) == 3 {
		close(f.fired)
	}
	return nil
}

func TestRunTicks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := &fakeTicker{now: 10, fired: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunTicks(ctx, f, time.Millisecond, discardLogger())
	}()
	select {
	case <-f.fired:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for ticks")
	}
	cancel()
	require.NoError(t, <-done)
	f.mu.Lock()
	defer f.mu.Unlock()
	require.GreaterOrEqual(t, len(f.ticks), 3)
	assert.Equal(t, []uint64{11, 12, 13}, f.ticks[:3])
}

func TestRunTicksStopsWhenClosed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := &fakeTicker{err: attest.ErrClosed, fired: make(chan struct{})}
	err := RunTicks(context.Background(), f, time.Millisecond, discardLogger())
	require.NoError(t, err)
}

func TestRunTicksKeepsGoingAfterFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := &fakeTicker{err: errors.New("disk full"), fired: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, RunTicks(ctx, f, time.Millisecond, discardLogger()))
	assert.Empty(t, f.ticks)
}

func testNodeConfig(t *testing.T) *config.Config {
	return &config.Config{
		DatabasePath:       t.TempDir(),
		TickInterval:       "30s",
		ShutdownTimeout:    "1s",
		Seed:               "74657374",
		QuorumSize:         2,
		StakePerTask:       1000,
		StakeBaseline:      20000,
		MinFreeBasisPoints: 4000,
		SummaryCacheSize:   16,
		Authorities:        []string{"council"},
		Slash:              slash.DefaultPolicy(),
	}
}

func TestCommitteeOptionsInvalidSeed(t *testing.T) {
	cfg := testNodeConfig(t)
	cfg.Seed = "zz"
	_, err := CommitteeOptions(cfg, discardLogger())
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoadStatus(t *testing.T) {
	cfg := testNodeConfig(t)
	logger := discardLogger()

	status, err := LoadStatus(cfg, logger, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, status.LastTick)
	assert.Empty(t, status.Members)

	opts, err := CommitteeOptions(cfg, logger)
	require.NoError(t, err)
	c, err := attest.New(attest.NewConfig(opts...))
	require.NoError(t, err)
	for _, id := range []stake.AccountID{"m1", "m2", "m3"} {
		require.NoError(t, c.RegisterMember(id))
		require.NoError(t, c.AddStake(id, cfg.StakeBaseline))
		if id == "m3" {
			continue
		}
		pub, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		require.NoError(t, c.SetCredential(id, pub))
	}
	require.NoError(t, c.OnTick(context.Background(), 1))
	_, err = c.OpenTask(attest.OpenTaskRequest{Subject: "machine-1", Kind: attest.TaskKindOnboarding})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	status, err = LoadStatus(cfg, logger, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), status.LastTick)
	assert.Equal(t, 1, status.Members["waiting_credential"])
	total := 0
	for _, count := range status.Members {
		total += count
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, map[string]int{"committing": 1}, status.Tasks)
	assert.Empty(t, status.PendingSlashes)
	assert.Empty(t, status.DueSlashes)
	assert.Empty(t, status.Finished)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := &logNotifier{logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	n.NotifyResourceStatus("machine-1", attest.TaskKindOnboarding, consensus.OutcomeConfirmed)
	assert.Contains(t, buf.String(), `"subject":"machine-1"`)
	assert.Contains(t, buf.String(), `"outcome":"`+consensus.OutcomeConfirmed.String()+`"`)
}

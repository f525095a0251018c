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
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/blinklabs-io/attest"
)

// Ticker is the part of the committee driven by the node clock
type Ticker interface {
	Now() uint64
	OnTick(ctx context.Context, now uint64) error
}

// RunTicks advances the committee by one tick every interval until ctx is
// done or the committee is closed. Failed ticks are logged and retried with
// the next tick number
func RunTicks(
	ctx context.Context,
	c Ticker,
	interval time.Duration,
	logger *slog.Logger,
) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		now := c.Now() + 1
		err := c.OnTick(ctx, now)
		switch {
		case err == nil:
			logger.Debug("tick", "component", "node", "tick", now)
		case errors.Is(err, attest.ErrClosed):
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		default:
			logger.Error(
				"tick failed",
				"component", "node",
				"tick", now,
				"error", err,
			)
		}
	}
}

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
	"testing"

	"github.com/blinklabs-io/attest/roster"
	"github.com/blinklabs-io/attest/slash"
	"github.com/blinklabs-io/attest/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.validate())
	assert.Equal(t, DefaultQuorumSize, cfg.quorumSize)
	assert.Equal(t, uint64(DefaultStakePerTask), cfg.stakePerTask)
	assert.Equal(t, Ed25519Verifier{}, cfg.verifier)
	assert.Equal(t, slash.DefaultPolicy(), cfg.slashPolicy)
	assert.Equal(t, task.OnboardingTiming(), cfg.onboardingTiming)
	assert.NotNil(t, cfg.logger)
}

func TestConfigValidate(t *testing.T) {
	badTiming := task.FaultReportTiming()
	badTiming.BookingWindow = 0
	badPolicy := slash.DefaultPolicy()
	badPolicy.ReviewDelay = 0
	tests := []struct {
		name string
		opts []ConfigOptionFunc
	}{
		{"quorum size", []ConfigOptionFunc{WithQuorumSize(0)}},
		{"stable without oracle", []ConfigOptionFunc{WithStablePerTask(10)}},
		{"zero stake", []ConfigOptionFunc{WithStakePerTask(0)}},
		{"min free", []ConfigOptionFunc{WithRosterParams(roster.Params{MinFreeBasisPoints: 10001})}},
		{"slash policy", []ConfigOptionFunc{WithSlashPolicy(badPolicy)}},
		{"fault timing", []ConfigOptionFunc{WithFaultReportTiming(badTiming)}},
		{"cache size", []ConfigOptionFunc{WithSummaryCacheSize(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(tt.opts...)
			require.Error(t, cfg.validate())
			_, err := New(cfg)
			require.Error(t, err)
		})
	}
}

func TestWithStablePerTask(t *testing.T) {
	cfg := NewConfig(WithStablePerTask(10), WithPriceOracle(fixedRate(3)))
	require.NoError(t, cfg.validate())
	assert.Equal(t, uint64(10), cfg.stablePerTask)
}

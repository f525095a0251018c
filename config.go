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
	"io"
	"log/slog"

	"github.com/blinklabs-io/attest/database"
	"github.com/blinklabs-io/attest/digest"
	"github.com/blinklabs-io/attest/event"
	"github.com/blinklabs-io/attest/roster"
	"github.com/blinklabs-io/attest/slash"
	"github.com/blinklabs-io/attest/stake"
	"github.com/blinklabs-io/attest/task"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultQuorumSize       = 3
	DefaultStakePerTask     = 1000
	DefaultStakeBaseline    = 20000
	DefaultMinFreeBP        = 4000
	DefaultSummaryCacheSize = 256
)

type Config struct {
	promRegistry      prometheus.Registerer
	logger            *slog.Logger
	eventBus          *event.EventBus
	db                *database.Database
	notifier          Notifier
	priceOracle       PriceOracle
	verifier          SignatureVerifier
	hasher            digest.Hasher
	dataDir           string
	blobCacheSize     uint64
	seed              []byte
	authorities       []stake.AccountID
	rosterParams      roster.Params
	slashPolicy       slash.Policy
	onboardingTiming  task.TimingPolicy
	faultReportTiming task.TimingPolicy
	quorumSize        int
	stakePerTask      uint64
	stablePerTask     uint64
	summaryCacheSize  int
}

// ConfigOptionFunc is a type that represents functions that modify the
// Committee config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new committee config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		verifier: Ed25519Verifier{},
		hasher:   digest.Blake2b128{},
		rosterParams: roster.Params{
			Baseline:           DefaultStakeBaseline,
			MinFreeBasisPoints: DefaultMinFreeBP,
		},
		slashPolicy:       slash.DefaultPolicy(),
		onboardingTiming:  task.OnboardingTiming(),
		faultReportTiming: task.FaultReportTiming(),
		quorumSize:        DefaultQuorumSize,
		stakePerTask:      DefaultStakePerTask,
		summaryCacheSize:  DefaultSummaryCacheSize,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *Config) validate() error {
	if c.quorumSize <= 0 {
		return fmt.Errorf("%w: %d", roster.ErrInvalidQuorumSize, c.quorumSize)
	}
	if c.stablePerTask > 0 && c.priceOracle == nil {
		return errors.New("stable stake per task requires a price oracle")
	}
	if c.stablePerTask == 0 && c.stakePerTask == 0 {
		return errors.New("stake per task must be non-zero")
	}
	if c.rosterParams.MinFreeBasisPoints > stake.BasisPoints {
		return fmt.Errorf(
			"min free basis points %d above %d",
			c.rosterParams.MinFreeBasisPoints,
			stake.BasisPoints,
		)
	}
	if err := c.slashPolicy.Validate(); err != nil {
		return err
	}
	if err := c.onboardingTiming.Validate(); err != nil {
		return fmt.Errorf("onboarding timing: %w", err)
	}
	if err := c.faultReportTiming.Validate(); err != nil {
		return fmt.Errorf("fault report timing: %w", err)
	}
	if c.summaryCacheSize <= 0 {
		return fmt.Errorf("invalid summary cache size %d", c.summaryCacheSize)
	}
	return nil
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithEventBus specifies the event bus to publish committee events on. A
// private bus is created and stopped with the committee when not specified
func WithEventBus(eventBus *event.EventBus) ConfigOptionFunc {
	return func(c *Config) {
		c.eventBus = eventBus
	}
}

// WithDatabase specifies an open database. The caller keeps ownership
func WithDatabase(db *database.Database) ConfigOptionFunc {
	return func(c *Config) {
		c.db = db
	}
}

// WithDatabasePath specifies the persistent storage directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobCacheSize sets the badger block cache size of a database opened by
// the committee
func WithBlobCacheSize(size uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.blobCacheSize = size
	}
}

// WithNotifier specifies the collaborator told about finished tasks
func WithNotifier(notifier Notifier) ConfigOptionFunc {
	return func(c *Config) {
		c.notifier = notifier
	}
}

// WithPriceOracle specifies the price oracle used with WithStablePerTask
func WithPriceOracle(oracle PriceOracle) ConfigOptionFunc {
	return func(c *Config) {
		c.priceOracle = oracle
	}
}

// WithSignatureVerifier specifies the verifier for signed submissions. A nil
// verifier turns signature checks off
func WithSignatureVerifier(verifier SignatureVerifier) ConfigOptionFunc {
	return func(c *Config) {
		c.verifier = verifier
	}
}

// WithHasher specifies the commitment hash. Every replica must use the same one
func WithHasher(hasher digest.Hasher) ConfigOptionFunc {
	return func(c *Config) {
		c.hasher = hasher
	}
}

// WithAuthorities specifies the accounts allowed to resolve appeals
func WithAuthorities(authorities ...stake.AccountID) ConfigOptionFunc {
	return func(c *Config) {
		c.authorities = authorities
	}
}

func WithRosterParams(params roster.Params) ConfigOptionFunc {
	return func(c *Config) {
		c.rosterParams = params
	}
}

func WithSlashPolicy(policy slash.Policy) ConfigOptionFunc {
	return func(c *Config) {
		c.slashPolicy = policy
	}
}

// WithSeed specifies the shared seed mixed into every quorum draw
func WithSeed(seed []byte) ConfigOptionFunc {
	return func(c *Config) {
		c.seed = seed
	}
}

// WithQuorumSize specifies the default quorum size for new tasks
func WithQuorumSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.quorumSize = size
	}
}

// WithStakePerTask specifies the stake reserved from each member of a quorum
func WithStakePerTask(amount uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.stakePerTask = amount
	}
}

// WithStablePerTask expresses the stake per task in stable units, converted
// at the price oracle rate when each task opens. It takes precedence over
// WithStakePerTask
func WithStablePerTask(value uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.stablePerTask = value
	}
}

// WithSummaryCacheSize specifies how many archived summaries are kept in memory
func WithSummaryCacheSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.summaryCacheSize = size
	}
}

func WithOnboardingTiming(timing task.TimingPolicy) ConfigOptionFunc {
	return func(c *Config) {
		c.onboardingTiming = timing
	}
}

func WithFaultReportTiming(timing task.TimingPolicy) ConfigOptionFunc {
	return func(c *Config) {
		c.faultReportTiming = timing
	}
}

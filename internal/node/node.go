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
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/attest"
	"github.com/blinklabs-io/attest/consensus"
	"github.com/blinklabs-io/attest/internal/config"
	"github.com/blinklabs-io/attest/roster"
	"github.com/blinklabs-io/attest/stake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "attest"

// CommitteeOptions maps the node config onto committee options
func CommitteeOptions(
	cfg *config.Config,
	logger *slog.Logger,
) ([]attest.ConfigOptionFunc, error) {
	seed, err := cfg.SeedBytes()
	if err != nil {
		return nil, err
	}
	authorities := make([]stake.AccountID, 0, len(cfg.Authorities))
	for _, a := range cfg.Authorities {
		authorities = append(authorities, stake.AccountID(a))
	}
	opts := []attest.ConfigOptionFunc{
		attest.WithLogger(logger),
		attest.WithDatabasePath(cfg.DatabasePath),
		attest.WithBlobCacheSize(cfg.BlobCacheSize),
		attest.WithSeed(seed),
		attest.WithAuthorities(authorities...),
		attest.WithQuorumSize(cfg.QuorumSize),
		attest.WithStakePerTask(cfg.StakePerTask),
		attest.WithSummaryCacheSize(cfg.SummaryCacheSize),
		attest.WithSlashPolicy(cfg.Slash),
		attest.WithRosterParams(
			roster.Params{
				Baseline:           cfg.StakeBaseline,
				MinFreeBasisPoints: cfg.MinFreeBasisPoints,
			},
		),
		attest.WithNotifier(&logNotifier{logger: logger}),
	}
	if cfg.SkipSignatures {
		opts = append(opts, attest.WithSignatureVerifier(nil))
	}
	return opts, nil
}

// logNotifier reports final task outcomes to the log
type logNotifier struct {
	logger *slog.Logger
}

func (n *logNotifier) NotifyResourceStatus(
	subject string,
	kind string,
	outcome consensus.Outcome,
) {
	n.logger.Info(
		"resource status decided",
		"component", "node",
		"subject", subject,
		"kind", kind,
		"outcome", outcome.String(),
	)
}

// setupTracing installs the global tracer provider. The returned func flushes
// and stops the exporter
func setupTracing(
	ctx context.Context,
	cfg *config.Config,
) (func(context.Context) error, error) {
	if !cfg.Tracing {
		return func(context.Context) error { return nil }, nil
	}
	var exporter sdktrace.SpanExporter
	var err error
	if cfg.TracingStdout {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	} else {
		// Configured from the OTEL_EXPORTER_OTLP_* env vars
		exporter, err = otlptracehttp.New(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(
			resource.NewSchemaless(
				attribute.String("service.name", serviceName),
			),
		),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	tickInterval, err := cfg.TickDuration()
	if err != nil {
		return err
	}
	shutdownTimeout, err := cfg.ShutdownDuration()
	if err != nil {
		return err
	}
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	shutdownTracing, err := setupTracing(signalCtx, cfg)
	if err != nil {
		return err
	}
	opts, err := CommitteeOptions(cfg, logger)
	if err != nil {
		return err
	}
	opts = append(
		opts,
		// Enable metrics with default prometheus registry
		attest.WithPrometheusRegistry(prometheus.DefaultRegisterer),
	)
	c, err := attest.New(attest.NewConfig(opts...))
	if err != nil {
		return err
	}
	logger.Info(
		"committee loaded",
		"component", "node",
		"tick", c.Now(),
		"members", len(c.Members()),
		"tasks", len(c.Tasks()),
	)

	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
	logger.Info(
		"serving prometheus metrics on "+metricsAddr,
		"component", "node",
	)
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errChan := make(chan error, 2)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("failed to start metrics listener: %w", err)
		}
	}()
	go func() {
		errChan <- RunTicks(signalCtx, c, tickInterval, logger)
	}()

	var runErr error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown", "component", "node")
	case runErr = <-errChan:
		logger.Error("node error", "component", "node", "error", runErr)
		signalCtxStop()
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		shutdownTimeout,
	)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "component", "node", "error", err)
	}
	// Close waits for an in-flight tick and saves the final snapshot
	if err := c.Close(); err != nil {
		logger.Error("shutdown errors occurred", "component", "node", "error", err)
		runErr = errors.Join(runErr, err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "component", "node", "error", err)
	}
	if runErr == nil {
		logger.Info("shutdown complete", "component", "node")
	}
	return runErr
}

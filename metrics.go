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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type committeeMetrics struct {
	tick                prometheus.Gauge
	tickDuration        prometheus.Histogram
	members             *prometheus.GaugeVec
	tasks               *prometheus.GaugeVec
	tasksOpenedTotal    *prometheus.CounterVec
	tasksFinishedTotal  *prometheus.CounterVec
	tasksReopenedTotal  prometheus.Counter
	slashesQueuedTotal  *prometheus.CounterVec
	slashesClosedTotal  *prometheus.CounterVec
	appealsTotal        prometheus.Counter
	integrityViolations prometheus.Counter
	rejectedTotal       *prometheus.CounterVec
	totalStaked         prometheus.Gauge
	treasury            prometheus.Gauge
}

// A nil registry creates unregistered metrics
func (m *committeeMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.tick = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "attest_committee_tick",
		Help: "last processed tick",
	})
	m.tickDuration = promautoFactory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attest_committee_tick_duration_seconds",
			Help:    "time spent processing a tick, including persistence",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)
	m.members = promautoFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "attest_committee_members",
			Help: "committee members by status",
		},
		[]string{"status"},
	)
	m.tasks = promautoFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "attest_committee_tasks",
			Help: "open tasks by phase",
		},
		[]string{"phase"},
	)
	m.tasksOpenedTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attest_committee_tasks_opened_total",
			Help: "total tasks opened",
		},
		[]string{"kind"},
	)
	m.tasksFinishedTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attest_committee_tasks_finished_total",
			Help: "total tasks finished by outcome",
		},
		[]string{"kind", "outcome"},
	)
	m.tasksReopenedTotal = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "attest_committee_tasks_reopened_total",
		Help: "total task rounds restarted after no consensus",
	})
	m.slashesQueuedTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attest_committee_slashes_queued_total",
			Help: "total slash records queued by reason",
		},
		[]string{"reason"},
	)
	m.slashesClosedTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attest_committee_slashes_closed_total",
			Help: "total slash records executed or canceled",
		},
		[]string{"status"},
	)
	m.appealsTotal = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "attest_committee_appeals_total",
		Help: "total appeals filed",
	})
	m.integrityViolations = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "attest_committee_integrity_violations_total",
		Help: "total submissions rejected for hash or signature mismatches",
	})
	m.rejectedTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attest_committee_rejected_total",
			Help: "total rejected operations by operation and error kind",
		},
		[]string{"op", "kind"},
	)
	m.totalStaked = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "attest_committee_staked",
		Help: "total locked stake",
	})
	m.treasury = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "attest_committee_treasury",
		Help: "total amount slashed to the treasury",
	})
}

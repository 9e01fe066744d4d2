// Copyright 2025 The axfor Authors
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

// Package metrics exposes the storage core's Prometheus metrics: commit
// throughput and latency, the current MVCC revision and key count, and
// watch fanout queue depth.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "kvreplica"
	subsystem = "storage"
)

// Metrics holds every Prometheus collector this module registers.
type Metrics struct {
	StorageOperationDuration *prometheus.HistogramVec
	StorageOperationTotal    *prometheus.CounterVec
	StorageOperationErrors   *prometheus.CounterVec

	CurrentRevision prometheus.Gauge
	KeysTotal       prometheus.Gauge

	RaftProposalsTotal  prometheus.Counter
	RaftProposalsFailed prometheus.Counter
	RaftLeaderChanges   prometheus.Counter

	ActiveWatches      prometheus.Gauge
	WatchEventsTotal   *prometheus.CounterVec
	WatchCreatedTotal  prometheus.Counter
	WatchCanceledTotal prometheus.Counter
	WatchQueueDepth    prometheus.Gauge
	WatchBackpressure  prometheus.Counter

	PanicsRecovered *prometheus.CounterVec
}

// New creates and registers every metric against registry.
func New(registry *prometheus.Registry) *Metrics {
	return &Metrics{
		StorageOperationDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "operation_duration_seconds",
				Help:      "Histogram of storage operation latencies by request kind.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		StorageOperationTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "operation_total",
				Help:      "Total number of storage operations by request kind.",
			},
			[]string{"operation"},
		),
		StorageOperationErrors: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "operation_errors_total",
				Help:      "Total number of storage operations that returned an error, by request kind.",
			},
			[]string{"operation"},
		),

		CurrentRevision: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "current_revision",
			Help:      "The most recently committed MVCC revision.",
		}),
		KeysTotal: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "keys_total",
			Help:      "Number of live (non-tombstoned) keys currently held.",
		}),

		RaftProposalsTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "proposals_total",
			Help:      "Total number of proposals submitted to consensus.",
		}),
		RaftProposalsFailed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "proposals_failed_total",
			Help:      "Total number of proposals that failed or timed out before committing.",
		}),
		RaftLeaderChanges: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "leader_changes_total",
			Help:      "Total number of observed raft leadership changes.",
		}),

		ActiveWatches: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "active",
			Help:      "Current number of live watch subscriptions.",
		}),
		WatchEventsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "watch",
				Name:      "events_total",
				Help:      "Total number of events delivered to watch subscribers, by event type.",
			},
			[]string{"type"},
		),
		WatchCreatedTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "created_total",
			Help:      "Total number of watch subscriptions created.",
		}),
		WatchCanceledTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "canceled_total",
			Help:      "Total number of watch subscriptions canceled.",
		}),
		WatchQueueDepth: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "publish_queue_depth",
			Help:      "Number of committed batches queued for dispatch to subscribers.",
		}),
		WatchBackpressure: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "backpressure_total",
			Help:      "Total number of times a commit blocked waiting on a slow watch subscriber.",
		}),

		PanicsRecovered: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "panics_recovered_total",
				Help:      "Total number of panics recovered at a goroutine boundary, by component.",
			},
			[]string{"component"},
		),
	}
}

// ObserveOperation records one storage operation's outcome and latency.
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	m.StorageOperationTotal.WithLabelValues(operation).Inc()
	m.StorageOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.StorageOperationErrors.WithLabelValues(operation).Inc()
	}
}

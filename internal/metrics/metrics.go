// Copyright 2025 The pgsqlite Authors
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

// Package metrics exposes the in-process Prometheus counters and
// histograms pgsqlite tracks for connections, queries, and errors.
// Grounded on the teacher's use of sql.IncrementStatusVariable-style
// status counters, implemented here with the teacher's actual metrics
// dependency, prometheus/client_golang, since spec.md's ambient stack
// calls for the same observability idiom even though alerting
// infrastructure itself is out of scope.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the process-wide metrics registry for a pgsqlite server.
type Metrics struct {
	Connections      prometheus.Counter
	ActiveSessions   prometheus.Gauge
	Queries          *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	QueryDuration    prometheus.Histogram
}

// New registers and returns a fresh Metrics instance against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pgsqlite",
			Name:      "connections_total",
			Help:      "Total number of client connections accepted.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pgsqlite",
			Name:      "active_sessions",
			Help:      "Number of currently open client sessions.",
		}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pgsqlite",
			Name:      "queries_total",
			Help:      "Total number of queries executed, by statement tag.",
		}, []string{"tag"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pgsqlite",
			Name:      "errors_total",
			Help:      "Total number of errors returned to clients, by kind.",
		}, []string{"kind"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pgsqlite",
			Name:      "query_duration_seconds",
			Help:      "Query execution latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.Connections, m.ActiveSessions, m.Queries, m.Errors, m.QueryDuration)
	return m
}

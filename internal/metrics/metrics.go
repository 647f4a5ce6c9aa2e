// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

// Package metrics provides Prometheus instrumentation for the pipeline:
// gateway publishes, aggregator throughput, store upserts, and query/API
// latency. All collectors are registered on the default registry and served
// from /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway metrics
	ActionsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "affinity_actions_published_total",
			Help: "Total user actions published to the action log",
		},
	)

	ActionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "affinity_actions_rejected_total",
			Help: "Total user actions rejected at validation",
		},
	)

	ActionPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "affinity_action_publish_failures_total",
			Help: "Total action publishes that failed after retries",
		},
	)

	// Aggregator metrics
	ActionsAggregated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "affinity_actions_aggregated_total",
			Help: "Total actions applied to aggregator state",
		},
	)

	ActionsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "affinity_actions_discarded_total",
			Help: "Total actions discarded as non-increasing weight",
		},
	)

	SimilaritiesEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "affinity_similarities_emitted_total",
			Help: "Total similarity records emitted to the similarity log",
		},
	)

	AggregatorFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "affinity_aggregator_fanout",
			Help:    "Pair updates per applied action",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		},
	)

	// Analyzer metrics
	StoreUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affinity_store_upserts_total",
			Help: "Total projection upserts by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: interaction|similarity, outcome: applied|skipped
	)

	MalformedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affinity_malformed_records_total",
			Help: "Total records dropped as malformed, by log",
		},
		[]string{"log"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "affinity_query_duration_seconds",
			Help:    "Recommendation query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"query"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affinity_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "affinity_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordQuery observes a query's duration.
func RecordQuery(query string, duration time.Duration) {
	QueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordUpsert counts a projection upsert outcome.
func RecordUpsert(kind string, applied bool) {
	outcome := "skipped"
	if applied {
		outcome = "applied"
	}
	StoreUpserts.WithLabelValues(kind, outcome).Inc()
}

// RecordAPIRequest counts and times an API request.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

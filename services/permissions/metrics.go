// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package permissions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Subject Collections
// =============================================================================

var (
	// cacheHits counts Load calls served from the resident cache.
	// Labels: type (subject type of the collection)
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "permissionsex",
		Subsystem: "subjects",
		Name:      "cache_hits_total",
		Help:      "Subject loads served from the resident cache",
	}, []string{"type"})

	// cacheMisses counts Load calls that had to construct a subject.
	// Labels: type
	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "permissionsex",
		Subsystem: "subjects",
		Name:      "cache_misses_total",
		Help:      "Subject loads that missed the resident cache",
	}, []string{"type"})

	// subjectLoads counts backing-store constructions by outcome.
	// Labels: type, status (success, error)
	subjectLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "permissionsex",
		Subsystem: "subjects",
		Name:      "loads_total",
		Help:      "Subject constructions against the backing store",
	}, []string{"type", "status"})

	// loadDuration measures the store fetch plus handle construction time.
	// Labels: type
	loadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "permissionsex",
		Subsystem: "subjects",
		Name:      "load_duration_seconds",
		Help:      "Subject construction latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"type"})

	// subjectUnloads counts advisory evictions.
	// Labels: type
	subjectUnloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "permissionsex",
		Subsystem: "subjects",
		Name:      "unloads_total",
		Help:      "Subjects evicted via SuggestUnload",
	}, []string{"type"})

	// residentSubjects tracks how many handles are live per collection.
	// Labels: type
	residentSubjects = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "permissionsex",
		Subsystem: "subjects",
		Name:      "resident",
		Help:      "Calculated subjects currently resident in the cache",
	}, []string{"type"})
)

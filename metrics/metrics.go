// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

// Package metrics registers the Prometheus counters and histograms the
// specification requires (§6), plus the monkit package-level instruments
// the rest of the module uses for its own internal tracing, following the
// split already present in the teacher's codebase: monkit
// (github.com/spacemonkeygo/monkit/v3) for per-call tracing inside a
// package (see storj.io/storj/satellite/gc.Service), and raw
// github.com/prometheus/client_golang for metrics whose shape (labels,
// histogram buckets) must be configurable from the outside — monkit has no
// notion of externally supplied histogram buckets, which is exactly what
// §6 requires for repair_duration_seconds.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spacemonkeygo/monkit/v3"
)

// mon is the package-level monkit instrument returned by Mon. Packages that
// trace with monkit today (gc) keep their own monkit.Package() scope.
var mon = monkit.Package()

// Mon returns the shared monkit package instrument, for packages that want
// to call mon.Task() without importing monkit directly.
func Mon() *monkit.Scope { return mon }

// defaultBuckets is used for any histogram whose name is absent from the
// caller-supplied overrides.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// BucketOverrides maps a metric name to the histogram buckets it should
// use, as supplied at process start (§6: "Histogram buckets are
// configurable via a key-value mapping {metric-name -> [f64]} supplied at
// process start; metrics whose name is absent use the builder's
// defaults.").
type BucketOverrides map[string][]float64

func (o BucketOverrides) bucketsFor(name string) []float64 {
	if buckets, ok := o[name]; ok && len(buckets) > 0 {
		return buckets
	}
	return defaultBuckets
}

// Registry holds the per-synchronizer Prometheus collectors named in §6:
// enqueued_items / dequeued_items (per type), repair_duration_seconds,
// repair_failures_total, and the segment_gc_* family.
type Registry struct {
	EnqueuedItems    *prometheus.CounterVec
	DequeuedItems    *prometheus.CounterVec
	RepairDuration   prometheus.Histogram
	RepairFailures   prometheus.Counter
	SegmentGcPasses  prometheus.Counter
	SegmentGcDeletes prometheus.Counter
}

// NewRegistry builds and registers a Registry labeled with node, applying
// bucket overrides where the caller supplied them.
func NewRegistry(reg prometheus.Registerer, node string, overrides BucketOverrides) *Registry {
	r := &Registry{
		EnqueuedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "frugal",
			Subsystem:   "synchronizer",
			Name:        "enqueued_items",
			Help:        "number of TodoItems enqueued, by type",
			ConstLabels: prometheus.Labels{"node": node},
		}, []string{"type"}),
		DequeuedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "frugal",
			Subsystem:   "synchronizer",
			Name:        "dequeued_items",
			Help:        "number of TodoItems dequeued, by type",
			ConstLabels: prometheus.Labels{"node": node},
		}, []string{"type"}),
		RepairDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "frugal",
			Subsystem:   "synchronizer",
			Name:        "repair_duration_seconds",
			Help:        "duration of a single repair task",
			ConstLabels: prometheus.Labels{"node": node},
			Buckets:     overrides.bucketsFor("repair_duration_seconds"),
		}),
		RepairFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "frugal",
			Subsystem:   "synchronizer",
			Name:        "repair_failures_total",
			Help:        "number of repair tasks that failed",
			ConstLabels: prometheus.Labels{"node": node},
		}),
		SegmentGcPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "frugal",
			Subsystem:   "synchronizer",
			Name:        "segment_gc_passes_total",
			Help:        "number of completed SegmentGc passes",
			ConstLabels: prometheus.Labels{"node": node},
		}),
		SegmentGcDeletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "frugal",
			Subsystem:   "synchronizer",
			Name:        "segment_gc_deletes_total",
			Help:        "number of lumps deleted by SegmentGc",
			ConstLabels: prometheus.Labels{"node": node},
		}),
	}

	if reg != nil {
		reg.MustRegister(r.EnqueuedItems, r.DequeuedItems, r.RepairDuration, r.RepairFailures, r.SegmentGcPasses, r.SegmentGcDeletes)
	}
	return r
}

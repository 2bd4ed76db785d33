// Package metrics exposes Prometheus counters/histograms for backup
// executions. Ambient observability is carried regardless of spec.md's
// Non-goals (those name product features, not operability) per the
// SPEC_FULL DOMAIN STACK table.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Executions counts backup executions by terminal status
// ("success", "error").
var Executions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vaultkeep",
	Subsystem: "executor",
	Name:      "executions_total",
	Help:      "Total number of backup executions, partitioned by terminal status.",
}, []string{"status"})

// ExecutionDuration observes wall-clock duration of completed executions,
// in seconds.
var ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "vaultkeep",
	Subsystem: "executor",
	Name:      "execution_duration_seconds",
	Help:      "Duration of backup executions from start to terminal status.",
	Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34min
})

// ArchiveBytes observes the size of the produced ZIP archive, in bytes.
var ArchiveBytes = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "vaultkeep",
	Subsystem: "executor",
	Name:      "archive_size_bytes",
	Help:      "Size of the produced backup archive in bytes.",
	Buckets:   prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB .. ~256MiB
})

// RetentionDeletions counts BackupLogs transitioned success->deleted by
// retention enforcement.
var RetentionDeletions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "vaultkeep",
	Subsystem: "executor",
	Name:      "retention_deletions_total",
	Help:      "Total number of BackupLog rows pruned by retention enforcement.",
})

// SchedulerTicks counts SchedulerLoop ticks.
var SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "vaultkeep",
	Subsystem: "scheduler",
	Name:      "ticks_total",
	Help:      "Total number of SchedulerLoop ticks.",
})

// DueDispatched counts schedules the evaluator reported due and the loop
// successfully dispatched (worker slot acquired; the executor takes the
// per-schedule lock afterwards).
var DueDispatched = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "vaultkeep",
	Subsystem: "scheduler",
	Name:      "due_dispatched_total",
	Help:      "Total number of due schedules successfully dispatched for execution.",
})

// DueSkipped counts schedules the evaluator reported due but that were
// skipped this tick (already in flight, or worker pool saturated).
var DueSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "vaultkeep",
	Subsystem: "scheduler",
	Name:      "due_skipped_total",
	Help:      "Total number of due schedules skipped because of lock contention or pool saturation.",
})

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookmirror",
			Name:      "sync_runs_total",
			Help:      "Count of sync runs by outcome.",
		},
		[]string{"status"},
	)

	slotsBuilt = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bookmirror",
			Name:      "slots_built_total",
			Help:      "Count of slot aggregates built.",
		},
	)

	recordsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookmirror",
			Name:      "records_skipped_total",
			Help:      "Count of source records skipped by reason.",
		},
		[]string{"reason"},
	)

	reconcileActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookmirror",
			Name:      "reconcile_actions_total",
			Help:      "Count of calendar reconcile actions by kind.",
		},
		[]string{"action"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "bookmirror",
			Name:      "run_duration_seconds",
			Help:      "Duration of full sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncRuns, slotsBuilt, recordsSkipped, reconcileActions, runDuration)
	})
}

func IncSyncRun(status string) {
	syncRuns.WithLabelValues(status).Inc()
}

func AddSlotsBuilt(n int) {
	slotsBuilt.Add(float64(n))
}

func IncRecordSkipped(reason string) {
	recordsSkipped.WithLabelValues(reason).Inc()
}

func IncReconcileAction(action string) {
	reconcileActions.WithLabelValues(action).Inc()
}

func ObserveRunDuration(d time.Duration) {
	runDuration.Observe(d.Seconds())
}

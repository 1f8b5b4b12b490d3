package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var once sync.Once

var (
	// GenerationRunsTotal counts candidate generation runs by outcome.
	GenerationRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lostfound",
		Subsystem: "matcher",
		Name:      "generation_runs_total",
		Help:      "Total candidate generation runs, labeled by result.",
	}, []string{"result"})

	// GenerationDurationSeconds measures one full generate-score-upsert run.
	GenerationDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lostfound",
		Subsystem: "matcher",
		Name:      "generation_duration_seconds",
		Help:      "End-to-end time of one candidate generation run.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// CandidatesUpsertedTotal counts match candidate upserts by outcome.
	CandidatesUpsertedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lostfound",
		Subsystem: "matcher",
		Name:      "candidates_upserted_total",
		Help:      "Total match candidate upserts, labeled by outcome (created/updated/skipped).",
	}, []string{"outcome"})

	// RetrievalTimeoutsTotal counts per-path retrieval timeouts. A
	// timeout degrades the run to the surviving paths.
	RetrievalTimeoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lostfound",
		Subsystem: "matcher",
		Name:      "retrieval_timeouts_total",
		Help:      "Total retrieval path timeouts, labeled by path (embedding/geo/hash).",
	}, []string{"path"})

	// TransitionsTotal counts match state transitions by target state.
	TransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lostfound",
		Subsystem: "matcher",
		Name:      "transitions_total",
		Help:      "Total match state transitions, labeled by target state.",
	}, []string{"target"})

	// NotificationsTotal counts notification publish attempts by result.
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lostfound",
		Subsystem: "matcher",
		Name:      "notifications_total",
		Help:      "Total match_found notification publish attempts, labeled by result.",
	}, []string{"result"})

	// WorkersInFlight is the number of generation runs currently executing.
	WorkersInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lostfound",
		Subsystem: "matcher",
		Name:      "workers_in_flight",
		Help:      "Current number of generation runs being processed by worker goroutines.",
	})
)

// Register registers all collectors with the default registry. Safe to
// call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			GenerationRunsTotal,
			GenerationDurationSeconds,
			CandidatesUpsertedTotal,
			RetrievalTimeoutsTotal,
			TransitionsTotal,
			NotificationsTotal,
			WorkersInFlight,
		)
	})
}

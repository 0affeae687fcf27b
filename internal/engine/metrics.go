package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/dbcop/internal/backend"
)

// History outcomes.
const (
	outcomeExecuted = "executed"
	outcomeSkipped  = "skipped"
	outcomeFailed   = "failed"
)

var (
	txnCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcop_transaction_commits_total",
			Help: "Total number of committed transactions.",
		},
		[]string{"backend"},
	)

	txnAbortsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcop_transaction_aborts_total",
			Help: "Total number of failed transaction attempts that were retried.",
		},
		[]string{"backend"},
	)

	txnAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbcop_transaction_attempts",
			Help:    "Attempts needed until a transaction committed.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"backend"},
	)

	historiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcop_histories_total",
			Help: "Total number of histories handled, by outcome.",
		},
		[]string{"backend", "outcome"},
	)

	historyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbcop_history_execution_seconds",
			Help:    "Wall-clock duration of the execute stage of a history.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(txnCommitsTotal)
	prometheus.MustRegister(txnAbortsTotal)
	prometheus.MustRegister(txnAttempts)
	prometheus.MustRegister(historiesTotal)
	prometheus.MustRegister(historyDuration)
}

// metricsObserver counts commits, aborts and attempts per backend.
type metricsObserver struct {
	backend string
}

func (m metricsObserver) OnAbort(backend.Progress) {
	txnAbortsTotal.WithLabelValues(m.backend).Inc()
}

func (m metricsObserver) OnCommit(p backend.Progress) {
	txnCommitsTotal.WithLabelValues(m.backend).Inc()
	if p.Attempt > 0 {
		txnAttempts.WithLabelValues(m.backend).Observe(float64(p.Attempt))
	}
}

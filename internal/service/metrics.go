package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the ledger's prometheus collectors.
type Metrics struct {
	Submissions        *prometheus.CounterVec
	EnqueueFailures    prometheus.Counter
	Settlements        *prometheus.CounterVec
	SettlementDuration *prometheus.HistogramVec
	SettlementFailures *prometheus.CounterVec
	DeadLetters        *prometheus.CounterVec
	Reenqueued         prometheus.Counter
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_submissions_total",
				Help: "Transaction submissions by type and result.",
			},
			[]string{"type", "result"},
		),
		EnqueueFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_enqueue_failures_total",
				Help: "Settlement jobs that could not be enqueued after the transaction was recorded.",
			},
		),
		Settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_settlements_total",
				Help: "Committed settlement outcomes by type and status.",
			},
			[]string{"type", "status"},
		),
		SettlementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_settlement_duration_seconds",
				Help:    "Settlement attempt duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		SettlementFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_settlement_failures_total",
				Help: "Failed settlement attempts by kind (transient, fatal).",
			},
			[]string{"kind"},
		),
		DeadLetters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_dead_letters_total",
				Help: "Settlement jobs moved to the dead-letter stream.",
			},
			[]string{"reason"},
		),
		Reenqueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_reconciler_reenqueued_total",
				Help: "Stale PROCESSING transactions re-enqueued by the reconciler.",
			},
		),
	}

	registry.MustRegister(
		m.Submissions, m.EnqueueFailures, m.Settlements, m.SettlementDuration,
		m.SettlementFailures, m.DeadLetters, m.Reenqueued,
	)
	return m
}

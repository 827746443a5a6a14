// Package observability holds the Prometheus metrics for the metering
// and knowledge-sync layer.
//
// Metric families:
//   - gateway:   remote-service calls by operation and outcome
//   - ledger:    transactions by kind and result, debit amount histogram
//   - reconcile: per-item actions by action and result
//   - poller:    polls by result, active tasks gauge, exhausted counter
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Gateway Metrics ────────────────────────────────────────────────────────

var (
	// GatewayRequests counts remote-service calls by operation and outcome.
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cartella",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Remote AI service calls by operation and classified outcome.",
	}, []string{"op", "outcome"})

	// GatewayLatency observes remote call duration in seconds.
	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cartella",
		Subsystem: "gateway",
		Name:      "request_seconds",
		Help:      "Remote AI service call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

var (
	// LedgerTransactions counts debit/credit outcomes by kind.
	LedgerTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cartella",
		Subsystem: "ledger",
		Name:      "transactions_total",
		Help:      "Ledger operations by transaction kind and result.",
	}, []string{"kind", "result"})

	// LedgerDebitAmount observes debit sizes in credits.
	LedgerDebitAmount = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cartella",
		Subsystem: "ledger",
		Name:      "debit_credits",
		Help:      "Distribution of debit amounts in credits.",
		Buckets:   []float64{1, 5, 10, 15, 25, 50, 100, 250},
	})
)

// ─── Reconciler Metrics ─────────────────────────────────────────────────────

// ReconcileActions counts per-item reconciliation outcomes.
var ReconcileActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cartella",
	Subsystem: "reconcile",
	Name:      "actions_total",
	Help:      "Reconciliation actions by action and result.",
}, []string{"action", "result"})

// ─── Poller Metrics ─────────────────────────────────────────────────────────

var (
	// PollerPolls counts status polls by result.
	PollerPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cartella",
		Subsystem: "poller",
		Name:      "polls_total",
		Help:      "Ingestion status polls by result.",
	}, []string{"result"})

	// PollerActiveTasks tracks the current polling working set.
	PollerActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cartella",
		Subsystem: "poller",
		Name:      "active_tasks",
		Help:      "Ingestion tasks currently being tracked.",
	})

	// PollerExhausted counts tasks that hit the attempt ceiling.
	PollerExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cartella",
		Subsystem: "poller",
		Name:      "exhausted_total",
		Help:      "Polling tasks that exhausted their retry budget.",
	})
)

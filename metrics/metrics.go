// Package metrics defines the Prometheus collectors for the coin engine.
// Collectors are package-level promauto registrations; the HTTP layer exposes
// them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntriesApplied counts committed ledger entries by reason.
	EntriesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coin_ledger_entries_applied_total",
		Help: "Ledger entries committed, labeled by reason.",
	}, []string{"reason"})

	// Replays counts idempotent replays (duplicate op ids resolved as the
	// previously recorded result).
	Replays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coin_ledger_replays_total",
		Help: "Operations resolved as idempotent replays.",
	})

	// InsufficientFunds counts rejected debit-guarded operations.
	InsufficientFunds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coin_ledger_insufficient_funds_total",
		Help: "Debit-guarded operations rejected for insufficient funds.",
	})

	// RetriesExhausted counts mutations that ran out of optimistic retries.
	RetriesExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coin_ledger_retries_exhausted_total",
		Help: "Mutations surfaced as transient failures after bounded retries.",
	})

	// SyncsProcessed counts state-sync calls that committed (or replayed).
	SyncsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coin_sync_processed_total",
		Help: "State sync calls processed.",
	})

	// SyncOpsRejected counts sub-operations rejected inside sync batches.
	SyncOpsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coin_sync_ops_rejected_total",
		Help: "Client operations rejected during sync folding.",
	})

	// OfflineCoinsAccrued totals coins credited by offline accrual.
	OfflineCoinsAccrued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coin_sync_offline_coins_total",
		Help: "Coins credited as offline earnings.",
	})

	// HTTPRequests counts API requests by route pattern and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coin_http_requests_total",
		Help: "HTTP requests, labeled by route pattern and status class.",
	}, []string{"route", "status"})
)

// Package metrics holds the Prometheus collectors for transfers and
// post-commit side effects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_transfers_total",
		Help: "Peer-to-peer transfers by asset and outcome",
	}, []string{"asset", "outcome"})

	TransferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_transfer_duration_seconds",
		Help:    "Time spent inside the transfer transaction",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	OutboxEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_outbox_events_total",
		Help: "Outbox events by type and outcome (enqueued, delivered, retried, dead, enqueue_failed)",
	}, []string{"type", "outcome"})

	PriceLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_price_lookups_total",
		Help: "Price feed lookups by source (cache, feed, default)",
	}, []string{"source"})
)

// Package metrics exposes Prometheus collectors for the marketplace.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "towbid"

var (
	TripRequestsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trip_requests_created_total", Help: "Trip requests created by service type"},
		[]string{"service_type"},
	)
	MatchingDrivers = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "matching_drivers",
		Help:      "Drivers in range when a request is created",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})
	BidsPlaced = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "bids_placed_total", Help: "Bids accepted into the book"})
	BidsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bid_attempts_rejected_total", Help: "Bid attempts refused by reason"},
		[]string{"reason"},
	)
	BidAccepts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bid_accepts_total", Help: "Bid acceptance outcomes"},
		[]string{"outcome"},
	)
	TripTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trip_transitions_total", Help: "Active trip status transitions"},
		[]string{"to"},
	)
	CreditMovements = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "credit_movements_total", Help: "Ledger entries by type and source"},
		[]string{"type", "source"},
	)
	TopUpProviderFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "topup_provider_failures_total", Help: "Top-ups that fell back to manual confirmation"})
	SweepExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "sweep_expired_total", Help: "Entities expired by the sweeper"},
		[]string{"entity"},
	)
	NotificationsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_emitted_total", Help: "Notifications persisted by type"},
		[]string{"type"},
	)
	NotificationPushFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "notification_push_failures_total", Help: "Best-effort pushes that failed"})
	LiveStreams = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "notification_streams", Help: "Open live notification streams"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carelink",
			Subsystem: "support",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carelink",
			Subsystem: "support",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carelink",
			Subsystem: "support",
			Name:      "messages_appended_total",
			Help:      "Messages appended to support sessions, by sender",
		},
		[]string{"sender"},
	)

	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "carelink",
			Subsystem: "support",
			Name:      "sessions_created_total",
			Help:      "Support sessions created on first visitor contact",
		},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carelink",
			Subsystem: "support",
			Name:      "status_transitions_total",
			Help:      "Session status transitions",
		},
		[]string{"to"},
	)

	OutboxDispatch = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carelink",
			Subsystem: "support",
			Name:      "outbox_dispatch_total",
			Help:      "Outbox intent dispatch/apply outcomes",
		},
		[]string{"kind", "result"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "carelink",
			Subsystem: "support",
			Name:      "rate_limited_total",
			Help:      "Public requests rejected by the rate limiter",
		},
	)
)

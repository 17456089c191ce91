package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	postsScheduledCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "posts_scheduled_total",
			Help:      "Total number of schedule requests, by platform and result.",
		},
		[]string{"platform", "result"}, // result="ok" | "invalid" | "broker_error" | "store_error"
	)
	postsCanceledCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "posts_canceled_total",
			Help:      "Total number of cancel requests, by result.",
		},
		[]string{"result"}, // result="canceled" | "already_final" | "unknown_message" | "broker_error"
	)
	executionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "executions_total",
			Help:      "Total number of execution callbacks, by outcome.",
		},
		[]string{"outcome"},
	)
	deliveryDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of platform delivery calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"platform"},
	)
)

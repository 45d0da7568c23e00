package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registered on the default registry served at /metrics.
var (
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classsync",
		Name:      "checkins_total",
		Help:      "Check-in attempts by outcome.",
	}, []string{"outcome"})

	CheckInDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "classsync",
		Name:      "checkin_distance_meters",
		Help:      "Distance from the session centroid of accepted check-ins.",
		Buckets:   []float64{5, 10, 20, 35, 50, 75, 100, 150, 250, 500},
	})

	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classsync",
		Name:      "sessions_started_total",
		Help:      "Attendance sessions opened.",
	})

	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classsync",
		Name:      "sessions_closed_total",
		Help:      "Attendance sessions closed, by lecturer or by the expiry sweeper.",
	}, []string{"reason"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classsync",
		Name:      "events_published_total",
		Help:      "Domain events handed to the queue, by result.",
	}, []string{"type", "result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classsync",
		Name:      "notifications_total",
		Help:      "Notifications written by the dispatcher, by kind and result.",
	}, []string{"kind", "result"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "classsync",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

package httphandler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_http_requests_total",
			Help: "Admin HTTP requests, by method, route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ordersync_http_request_duration_seconds",
			Help:    "Admin HTTP request duration in seconds, by route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_dispatch_http_requests_total",
		Help: "HTTP requests handled by the agent gateway",
	}, []string{"method", "route", "status"})

	// Awaited send_message calls last as long as the whole stream.
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_dispatch_http_request_duration_seconds",
		Help:    "HTTP request duration by route",
		Buckets: []float64{.005, .025, .1, .5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"method", "route"})

	httpInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agent_dispatch_http_in_flight_requests",
		Help: "Requests currently being served, including open SSE streams",
	}, []string{"route"})
)

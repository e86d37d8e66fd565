package discord

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_discord_api_requests",
	Help: "Number of REST API requests, by method and response status",
}, []string{"method", "status"})

var apiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "warden_discord_api_duration_seconds",
	Help:    "Duration of REST API requests (including retries)",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
}, []string{"method"})

var gatewayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_gateway_events",
	Help: "Number of gateway dispatch events received, by type",
}, []string{"type"})

var gatewayReconnects = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_gateway_reconnects",
	Help: "Number of gateway reconnect attempts",
})

var gatewayHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_gateway_handler_errors",
	Help: "Number of gateway event handlers which returned an error or panicked",
}, []string{"type"})

package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var remindersSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_reminders_sent",
	Help: "Number of rules reminders posted, by outcome",
}, []string{"status"})

var guildsAvailable = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "warden_guilds_available",
	Help: "Number of guilds announced by the gateway since startup",
})

func RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

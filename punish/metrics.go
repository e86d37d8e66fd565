package punish

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var punishmentsApplied = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_punishments_applied",
	Help: "Number of automatic mutes applied (including deadline extensions)",
})

var punishmentsLifted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_punishments_lifted",
	Help: "Number of mutes reverted, by trigger",
}, []string{"trigger"})

var punishmentErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_punishment_errors",
	Help: "Number of platform or storage failures while applying or lifting mutes",
}, []string{"stage"})

var punishmentsPending = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "warden_punishments_pending",
	Help: "Number of mutes with a scheduled lift",
})

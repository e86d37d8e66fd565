package automod

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionsCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_automod_actions",
	Help: "Number of messages removed by the automod filter, by rule",
}, []string{"rule"})

var filterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_automod_errors",
	Help: "Number of failures while enforcing automod rules, by stage",
}, []string{"stage"})

var messagesSeen = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_automod_messages_seen",
	Help: "Number of guild messages inspected by the automod filter",
})

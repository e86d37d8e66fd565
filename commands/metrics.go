package commands

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_interactions_handled",
	Help: "Number of slash commands and button clicks handled, by name and outcome",
}, []string{"name", "status"})

var ticketsOpened = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_tickets_opened",
	Help: "Number of ticket channels created",
})

var ticketsClosed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_tickets_closed",
	Help: "Number of ticket channels closed",
})

var verifications = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_verifications",
	Help: "Number of members granted the verified role",
})

package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var warningsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_warnings_issued",
	Help: "Number of warnings issued, by severity",
}, []string{"severity"})

var warningsRemoved = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_warnings_removed",
	Help: "Number of warnings deactivated",
})

var warningStoreErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_warning_store_errors",
	Help: "Number of failed warning persistence attempts",
})

var escalationCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_escalations",
	Help: "Number of times the escalation threshold was crossed",
})

var escalationErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_escalation_errors",
	Help: "Number of automatic punishments which failed to apply",
})

package ledger

const DefaultEscalationThreshold = 3

// Decides when accumulated warnings turn into an automatic punishment.
type EscalationPolicy struct {
	// number of active warnings at which escalation fires; <= 0 disables it
	Threshold int
}

func DefaultEscalationPolicy() EscalationPolicy {
	return EscalationPolicy{Threshold: DefaultEscalationThreshold}
}

func (p EscalationPolicy) ShouldEscalate(activeCount int) bool {
	if p.Threshold <= 0 {
		return false
	}
	return activeCount >= p.Threshold
}

package ledger

import (
	"time"
)

const (
	MinSeverity = 1
	MaxSeverity = 3
)

// A single warning issued to a subject. Records are only ever created by
// Ledger.Issue, and only ever mutated by Ledger.Remove (which clears Active).
type WarningRecord struct {
	// 1-based, assigned as count(existing records)+1; never reused
	SequenceID     int       `json:"sequence_id"`
	IssuerIdentity string    `json:"issuer_identity"`
	Reason         string    `json:"reason"`
	Severity       int       `json:"severity"`
	IssuedAt       time.Time `json:"issued_at"`
	Active         bool      `json:"active"`
	// guild the warning was issued in; informational, not part of the key
	Scope          string    `json:"scope,omitempty"`
}

// Subject identity (string form of the platform user id) to that subject's
// records, in issuance order.
type SubjectLedger map[string][]WarningRecord

// The user a warning targets, and the scope (guild) the warning was issued in.
// Records are keyed by ID alone; Scope tells escalation where to act.
type Subject struct {
	Scope string
	ID    string
}

func ClampSeverity(sev int) int {
	if sev < MinSeverity {
		return MinSeverity
	}
	if sev > MaxSeverity {
		return MaxSeverity
	}
	return sev
}

func CountActive(records []WarningRecord) int {
	n := 0
	for _, r := range records {
		if r.Active {
			n++
		}
	}
	return n
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("ledger")

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
)

// Applies the automatic punishment once a subject crosses the escalation
// threshold. Called from a background goroutine; errors are logged, never
// returned to the Issue caller.
type Escalator interface {
	Apply(ctx context.Context, subject Subject, reason string) error
}

// Which records Remove should deactivate: one sequence id, or all of them.
type Selector struct {
	all bool
	id  int
}

func All() Selector { return Selector{all: true} }

func ID(seq int) Selector { return Selector{id: seq} }

func (s Selector) IsAll() bool { return s.all }

func (s Selector) ID() int { return s.id }

func (s Selector) String() string {
	if s.all {
		return "all"
	}
	return strconv.Itoa(s.id)
}

// Parses a moderator-supplied selector: "all" or a sequence id.
func ParseSelector(raw string) (Selector, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "all") {
		return All(), nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(raw, "#"))
	if err != nil || n < 1 {
		return Selector{}, fmt.Errorf("%w: warning selector must be a number or \"all\": %q", ErrInvalidArgument, raw)
	}
	return ID(n), nil
}

// Issues, lists, and removes warnings, and triggers escalation.
//
// Every read-modify-persist cycle holds a per-subject lock, so concurrent
// Issue calls for one subject get distinct sequence ids. The ledger performs
// no authorization; callers are expected to have checked moderator rights.
type Ledger struct {
	Store     RecordStore
	Policy    EscalationPolicy
	Escalator Escalator
	Logger    *slog.Logger

	locks *xsync.MapOf[string, *sync.Mutex]
	wg    sync.WaitGroup
	now   func() time.Time
}

func NewLedger(store RecordStore, policy EscalationPolicy, esc Escalator, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		Store:     store,
		Policy:    policy,
		Escalator: esc,
		Logger:    logger.With("component", "ledger"),
		locks:     xsync.NewMapOf[string, *sync.Mutex](),
		now:       time.Now,
	}
}

func (l *Ledger) lockSubject(subject string) func() {
	mu, _ := l.locks.LoadOrCompute(subject, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	mu.Lock()
	return mu.Unlock
}

// Records a new warning and persists it. Severity is clamped into [1,3]
// (zero, meaning "not given", becomes 1). If the subject's active warning
// count now crosses the policy threshold, the escalator is invoked in the
// background.
func (l *Ledger) Issue(ctx context.Context, subject Subject, issuer, reason string, severity int) (*WarningRecord, error) {
	ctx, span := tracer.Start(ctx, "Issue")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subject.ID), attribute.String("scope", subject.Scope))

	if subject.ID == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidArgument)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: warning reason must not be empty", ErrInvalidArgument)
	}

	unlock := l.lockSubject(subject.ID)
	records, err := l.Store.LoadSubject(ctx, subject.ID)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("loading warnings: %w", err)
	}
	rec := WarningRecord{
		SequenceID:     len(records) + 1,
		IssuerIdentity: issuer,
		Reason:         reason,
		Severity:       ClampSeverity(severity),
		IssuedAt:       l.now().UTC(),
		Active:         true,
		Scope:          subject.Scope,
	}
	records = append(records, rec)
	if err := l.Store.SaveSubject(ctx, subject.ID, records); err != nil {
		unlock()
		warningStoreErrors.Inc()
		return nil, fmt.Errorf("persisting warning: %w", err)
	}
	active := CountActive(records)
	unlock()

	warningsIssued.WithLabelValues(strconv.Itoa(rec.Severity)).Inc()
	l.Logger.Info("warning issued", "subject", subject.ID, "scope", subject.Scope, "seq", rec.SequenceID, "severity", rec.Severity, "active", active)

	if l.Escalator != nil && l.Policy.ShouldEscalate(active) {
		l.escalate(ctx, subject, active)
	}
	return &rec, nil
}

func (l *Ledger) escalate(ctx context.Context, subject Subject, active int) {
	escalationCount.Inc()
	// detach from the caller's cancellation, but keep trace context
	ctx = context.WithoutCancel(ctx)
	reason := fmt.Sprintf("%d active warnings", active)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				l.Logger.Error("escalation panic", "err", r, "subject", subject.ID)
			}
		}()
		if err := l.Escalator.Apply(ctx, subject, reason); err != nil {
			escalationErrors.Inc()
			l.Logger.Error("automatic punishment failed", "subject", subject.ID, "scope", subject.Scope, "err", err)
		}
	}()
}

// Blocks until background escalations started by Issue have returned.
func (l *Ledger) Wait() {
	l.wg.Wait()
}

// Returns the subject's records in issuance order (empty for unknown subjects).
func (l *Ledger) List(ctx context.Context, subject string) ([]WarningRecord, error) {
	ctx, span := tracer.Start(ctx, "List")
	defer span.End()

	records, err := l.Store.LoadSubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("loading warnings: %w", err)
	}
	if records == nil {
		records = []WarningRecord{}
	}
	return records, nil
}

// Deactivates warnings. With All, every record is deactivated and the total
// record count (including ones that were already inactive) is returned. With a
// single id, that record is deactivated and 1 is returned; removing an already
// inactive record succeeds. Unknown subjects or ids give ErrNotFound and leave
// the store untouched.
func (l *Ledger) Remove(ctx context.Context, subject string, sel Selector) (int, error) {
	ctx, span := tracer.Start(ctx, "Remove")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subject), attribute.String("selector", sel.String()))

	unlock := l.lockSubject(subject)
	defer unlock()

	records, err := l.Store.LoadSubject(ctx, subject)
	if err != nil {
		return 0, fmt.Errorf("loading warnings: %w", err)
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("%w: no warnings for subject %s", ErrNotFound, subject)
	}

	count := 0
	if sel.IsAll() {
		for i := range records {
			records[i].Active = false
		}
		count = len(records)
	} else {
		for i := range records {
			if records[i].SequenceID == sel.ID() {
				records[i].Active = false
				count = 1
				break
			}
		}
		if count == 0 {
			return 0, fmt.Errorf("%w: no warning #%d for subject %s", ErrNotFound, sel.ID(), subject)
		}
	}

	if err := l.Store.SaveSubject(ctx, subject, records); err != nil {
		warningStoreErrors.Inc()
		return 0, fmt.Errorf("persisting warning removal: %w", err)
	}
	warningsRemoved.Add(float64(count))
	l.Logger.Info("warnings removed", "subject", subject, "selector", sel.String(), "count", count)
	return count, nil
}

type Totals struct {
	Subjects int `json:"subjects"`
	Total    int `json:"total"`
	Active   int `json:"active"`
}

// Aggregate counts over the whole ledger.
func (l *Ledger) Totals(ctx context.Context) (*Totals, error) {
	sl, err := l.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading warnings: %w", err)
	}
	t := Totals{Subjects: len(sl)}
	for _, records := range sl {
		t.Total += len(records)
		t.Active += CountActive(records)
	}
	return &t, nil
}

// Full copy of the ledger, for the admin API.
func (l *Ledger) Snapshot(ctx context.Context) (SubjectLedger, error) {
	ctx, span := tracer.Start(ctx, "Snapshot")
	defer span.End()

	sl, err := l.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading warnings: %w", err)
	}
	if sl == nil {
		sl = SubjectLedger{}
	}
	return sl, nil
}

// Copy of the records issued within one scope. Subjects without any such
// records are left out.
func (l *Ledger) SnapshotScope(ctx context.Context, scope string) (SubjectLedger, error) {
	sl, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := SubjectLedger{}
	for subject, records := range sl {
		var kept []WarningRecord
		for _, r := range records {
			if r.Scope == scope {
				kept = append(kept, r)
			}
		}
		if len(kept) > 0 {
			out[subject] = kept
		}
	}
	return out, nil
}

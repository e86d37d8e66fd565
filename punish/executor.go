package punish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatwarden/warden/ledger"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

var ErrStopped = errors.New("executor stopped")

const (
	DefaultRoleName = "Muted"
	DefaultDuration = 24 * time.Hour

	// "dark grey" in the client palette
	mutedRoleColor = 0x607d8b

	liftTimeout = 30 * time.Second
)

type RoleHandle struct {
	ID   string
	Name string
}

type RoleAttrs struct {
	Color int
	// deny SEND_MESSAGES for the role in every text channel of the scope
	DenySendMessages bool
	Reason           string
}

// Platform capabilities needed to mute and unmute members.
type Roles interface {
	// Idempotent: an existing role with the same name is returned unchanged.
	EnsureRole(ctx context.Context, scope, name string, attrs RoleAttrs) (RoleHandle, error)
	GrantRole(ctx context.Context, scope, subject, roleID, reason string) error
	RevokeRole(ctx context.Context, scope, subject, roleID, reason string) error
}

// Best-effort; implementations log their own failures.
type Notifier interface {
	SendToAuditLog(ctx context.Context, scope, title, body string)
}

type pendingLift struct {
	restriction Restriction
	timer       *time.Timer
}

// Applies time-bounded mutes and reverts them when they expire.
//
// Every Apply persists its deadline, so Restore can pick up pending lifts
// after a restart. Each Apply results in at most one lift: repeat Apply calls
// for a muted subject replace the deadline, and the superseded timer turns
// into a no-op.
type Executor struct {
	Roles    Roles
	Store    PendingStore
	Notifier Notifier
	Logger   *slog.Logger
	RoleName string
	Duration time.Duration

	// held across Apply, lifts and Cancel for one scope+subject, so a lift
	// in flight finishes before a new mute for the same member starts
	keyLocks *xsync.MapOf[string, *sync.Mutex]

	lk      sync.Mutex
	pending map[string]*pendingLift
	stopped bool
	wg      sync.WaitGroup
	now     func() time.Time
}

var _ ledger.Escalator = (*Executor)(nil)

func NewExecutor(roles Roles, store PendingStore, notifier Notifier, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Roles:    roles,
		Store:    store,
		Notifier: notifier,
		Logger:   logger.With("component", "punish"),
		RoleName: DefaultRoleName,
		Duration: DefaultDuration,
		keyLocks: xsync.NewMapOf[string, *sync.Mutex](),
		pending:  make(map[string]*pendingLift),
		now:      time.Now,
	}
}

func (e *Executor) lockKey(key string) func() {
	mu, _ := e.keyLocks.LoadOrCompute(key, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	mu.Lock()
	return mu.Unlock
}

// Mutes the subject within its scope and schedules the lift.
func (e *Executor) Apply(ctx context.Context, subject ledger.Subject, reason string) error {
	logger := e.Logger.With("scope", subject.Scope, "subject", subject.ID)

	e.lk.Lock()
	stopped := e.stopped
	e.lk.Unlock()
	if stopped {
		return ErrStopped
	}

	unlock := e.lockKey(restrictionKey(subject.Scope, subject.ID))
	defer unlock()

	role, err := e.Roles.EnsureRole(ctx, subject.Scope, e.RoleName, RoleAttrs{
		Color:            mutedRoleColor,
		DenySendMessages: true,
		Reason:           "role for automatic mutes",
	})
	if err != nil {
		punishmentErrors.WithLabelValues("ensure_role").Inc()
		return fmt.Errorf("ensuring mute role: %w", err)
	}

	auditReason := "automatic mute: " + reason
	if err := e.Roles.GrantRole(ctx, subject.Scope, subject.ID, role.ID, auditReason); err != nil {
		punishmentErrors.WithLabelValues("grant").Inc()
		return fmt.Errorf("granting mute role: %w", err)
	}

	now := e.now().UTC()
	r := Restriction{
		ID:        uuid.NewString(),
		Scope:     subject.Scope,
		Subject:   subject.ID,
		RoleID:    role.ID,
		Reason:    reason,
		AppliedAt: now,
		ExpiresAt: now.Add(e.Duration),
	}
	// the role is granted at this point, so the lift is scheduled even if the
	// deadline could not be persisted
	var storeErr error
	if err := e.Store.Put(ctx, r); err != nil {
		punishmentErrors.WithLabelValues("persist").Inc()
		storeErr = fmt.Errorf("persisting restriction: %w", err)
		logger.Error("failed to persist mute deadline", "err", err)
	}
	if extended := e.schedule(r); extended {
		logger.Info("mute deadline extended", "expires_at", r.ExpiresAt)
	} else {
		logger.Info("mute applied", "expires_at", r.ExpiresAt, "reason", reason)
	}
	punishmentsApplied.Inc()

	if e.Notifier != nil {
		e.Notifier.SendToAuditLog(ctx, subject.Scope, "Automatic mute",
			fmt.Sprintf("<@%s> was muted until <t:%d:f>.\nReason: %s", subject.ID, r.ExpiresAt.Unix(), reason))
	}
	return storeErr
}

// Installs the lift timer for r, replacing any earlier one for the same
// subject. Returns true if an earlier timer was replaced.
func (e *Executor) schedule(r Restriction) bool {
	e.lk.Lock()
	defer e.lk.Unlock()

	if e.stopped {
		return false
	}
	key := r.key()
	prev, extended := e.pending[key]
	if extended {
		prev.timer.Stop()
	}
	delay := r.ExpiresAt.Sub(e.now())
	if delay < 0 {
		delay = 0
	}
	id := r.ID
	e.pending[key] = &pendingLift{
		restriction: r,
		timer: time.AfterFunc(delay, func() {
			e.expire(key, id)
		}),
	}
	punishmentsPending.Set(float64(len(e.pending)))
	return extended
}

func (e *Executor) expire(key, id string) {
	unlock := e.lockKey(key)
	defer unlock()

	e.lk.Lock()
	p, ok := e.pending[key]
	if e.stopped || !ok || p.restriction.ID != id {
		// superseded, cancelled, or shutting down
		e.lk.Unlock()
		return
	}
	delete(e.pending, key)
	punishmentsPending.Set(float64(len(e.pending)))
	e.wg.Add(1)
	e.lk.Unlock()

	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.Logger.Error("mute lift panic", "err", r, "key", key)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), liftTimeout)
	defer cancel()
	e.lift(ctx, p.restriction, "expired")
}

// Revokes the role and drops the persisted deadline. Platform failures are
// logged; the deadline is dropped regardless, since a member who left the
// scope can never be unmuted.
func (e *Executor) lift(ctx context.Context, r Restriction, trigger string) error {
	logger := e.Logger.With("scope", r.Scope, "subject", r.Subject, "restriction", r.ID)

	revokeErr := e.Roles.RevokeRole(ctx, r.Scope, r.Subject, r.RoleID, "mute "+trigger)
	if revokeErr != nil {
		punishmentErrors.WithLabelValues("revoke").Inc()
		logger.Error("failed to revoke mute role", "err", revokeErr)
	}
	if err := e.Store.Delete(ctx, r.Scope, r.Subject, r.ID); err != nil {
		punishmentErrors.WithLabelValues("persist").Inc()
		logger.Error("failed to drop mute deadline", "err", err)
	}
	punishmentsLifted.WithLabelValues(trigger).Inc()
	logger.Info("mute lifted", "trigger", trigger)

	if e.Notifier != nil {
		e.Notifier.SendToAuditLog(ctx, r.Scope, "Mute lifted",
			fmt.Sprintf("<@%s> can talk again (%s).", r.Subject, trigger))
	}
	return revokeErr
}

// Reschedules persisted deadlines. Deadlines already in the past are lifted
// right away, in the background.
func (e *Executor) Restore(ctx context.Context) error {
	pending, err := e.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("loading pending restrictions: %w", err)
	}
	overdue := 0
	for _, r := range pending {
		if !r.ExpiresAt.After(e.now()) {
			overdue++
		}
		e.schedule(r)
	}
	e.Logger.Info("restored pending mutes", "count", len(pending), "overdue", overdue)
	return nil
}

// Manual unmute. Returns false if nothing was pending for the subject.
func (e *Executor) Cancel(ctx context.Context, scope, subject string) (bool, error) {
	key := restrictionKey(scope, subject)
	unlock := e.lockKey(key)
	defer unlock()

	e.lk.Lock()
	p, ok := e.pending[key]
	if ok {
		p.timer.Stop()
		delete(e.pending, key)
		punishmentsPending.Set(float64(len(e.pending)))
	}
	e.lk.Unlock()
	if !ok {
		return false, nil
	}
	if err := e.lift(ctx, p.restriction, "cancelled"); err != nil {
		return true, fmt.Errorf("revoking mute role: %w", err)
	}
	return true, nil
}

// Snapshot of scheduled lifts, soonest first. An empty scope matches all.
func (e *Executor) Pending(scope string) []Restriction {
	e.lk.Lock()
	defer e.lk.Unlock()
	out := make([]Restriction, 0, len(e.pending))
	for _, p := range e.pending {
		if scope != "" && p.restriction.Scope != scope {
			continue
		}
		out = append(out, p.restriction)
	}
	sortRestrictions(out)
	return out
}

// Stops all timers without lifting anything, and waits for lifts already
// in progress. Persisted deadlines are left for Restore.
func (e *Executor) Stop() {
	e.lk.Lock()
	e.stopped = true
	for _, p := range e.pending {
		p.timer.Stop()
	}
	e.pending = make(map[string]*pendingLift)
	punishmentsPending.Set(0)
	e.lk.Unlock()
	e.wg.Wait()
}

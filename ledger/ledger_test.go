package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/chatwarden/warden/kvstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEscalator struct {
	lk    sync.Mutex
	calls []Subject
	err   error
}

func (e *recordingEscalator) Apply(ctx context.Context, subject Subject, reason string) error {
	e.lk.Lock()
	defer e.lk.Unlock()
	e.calls = append(e.calls, subject)
	return e.err
}

func (e *recordingEscalator) Calls() []Subject {
	e.lk.Lock()
	defer e.lk.Unlock()
	return append([]Subject{}, e.calls...)
}

// fails every write, to exercise I/O error propagation
type brokenStore struct {
	RecordStore
}

func (s brokenStore) SaveSubject(ctx context.Context, subject string, records []WarningRecord) error {
	return errors.New("disk on fire")
}

func testLedger(esc Escalator) *Ledger {
	store := NewKVRecordStore(kvstore.NewMemStore())
	return NewLedger(store, DefaultEscalationPolicy(), esc, slog.Default())
}

var subjU = Subject{Scope: "guild1", ID: "user1"}

func TestIssueSequenceIDs(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := testLedger(nil)

	for i := 1; i <= 5; i++ {
		rec, err := l.Issue(ctx, subjU, "mod1", fmt.Sprintf("reason %d", i), 1)
		assert.NoError(err)
		assert.Equal(i, rec.SequenceID)
		assert.True(rec.Active)
		assert.Equal("mod1", rec.IssuerIdentity)
		assert.False(rec.IssuedAt.IsZero())
	}

	// other subjects have their own numbering
	rec, err := l.Issue(ctx, Subject{Scope: "guild1", ID: "user2"}, "mod1", "first", 1)
	assert.NoError(err)
	assert.Equal(1, rec.SequenceID)
}

func TestIssueSeverityClamp(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := testLedger(nil)

	tests := []struct {
		in  int
		out int
	}{
		{in: 5, out: 3},
		{in: -1, out: 1},
		{in: 0, out: 1},
		{in: 2, out: 2},
		{in: 3, out: 3},
	}
	for _, tc := range tests {
		rec, err := l.Issue(ctx, subjU, "mod1", "spam", tc.in)
		assert.NoError(err)
		assert.Equal(tc.out, rec.Severity, "severity %d", tc.in)
	}
	records, err := l.List(ctx, subjU.ID)
	assert.NoError(err)
	assert.Equal(3, records[0].Severity)
	assert.Equal(1, records[1].Severity)
}

func TestIssueInvalidArgument(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := testLedger(nil)

	_, err := l.Issue(ctx, subjU, "mod1", "", 1)
	assert.ErrorIs(err, ErrInvalidArgument)
	_, err = l.Issue(ctx, subjU, "mod1", "   ", 1)
	assert.ErrorIs(err, ErrInvalidArgument)
	_, err = l.Issue(ctx, Subject{Scope: "guild1"}, "mod1", "reason", 1)
	assert.ErrorIs(err, ErrInvalidArgument)

	records, err := l.List(ctx, subjU.ID)
	assert.NoError(err)
	assert.Empty(records)
}

func TestListUnknownSubject(t *testing.T) {
	assert := assert.New(t)
	l := testLedger(nil)

	records, err := l.List(context.Background(), "nobody")
	assert.NoError(err)
	assert.NotNil(records)
	assert.Empty(records)
}

func TestRemoveAll(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := testLedger(nil)

	for i := 0; i < 3; i++ {
		_, err := l.Issue(ctx, subjU, "mod1", "reason", 1)
		assert.NoError(err)
	}
	n, err := l.Remove(ctx, subjU.ID, ID(2))
	assert.NoError(err)
	assert.Equal(1, n)

	// counts already-inactive records too
	n, err = l.Remove(ctx, subjU.ID, All())
	assert.NoError(err)
	assert.Equal(3, n)

	records, err := l.List(ctx, subjU.ID)
	assert.NoError(err)
	assert.Equal(3, len(records))
	for _, r := range records {
		assert.False(r.Active)
	}
}

func TestRemoveNotFound(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := testLedger(nil)

	_, err := l.Remove(ctx, subjU.ID, All())
	assert.ErrorIs(err, ErrNotFound)
	_, err = l.Remove(ctx, subjU.ID, ID(1))
	assert.ErrorIs(err, ErrNotFound)

	_, err = l.Issue(ctx, subjU, "mod1", "reason", 1)
	assert.NoError(err)
	before, err := l.List(ctx, subjU.ID)
	assert.NoError(err)

	_, err = l.Remove(ctx, subjU.ID, ID(7))
	assert.ErrorIs(err, ErrNotFound)

	after, err := l.List(ctx, subjU.ID)
	assert.NoError(err)
	assert.Equal(before, after)
	assert.True(after[0].Active)
}

func TestRemoveInactiveIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := testLedger(nil)

	_, err := l.Issue(ctx, subjU, "mod1", "reason", 1)
	assert.NoError(err)
	for i := 0; i < 2; i++ {
		n, err := l.Remove(ctx, subjU.ID, ID(1))
		assert.NoError(err)
		assert.Equal(1, n)
	}
}

func TestSequenceIDsNotReused(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := testLedger(nil)

	_, err := l.Issue(ctx, subjU, "mod1", "one", 1)
	assert.NoError(err)
	_, err = l.Issue(ctx, subjU, "mod1", "two", 1)
	assert.NoError(err)
	_, err = l.Remove(ctx, subjU.ID, ID(1))
	assert.NoError(err)

	rec, err := l.Issue(ctx, subjU, "mod1", "three", 1)
	assert.NoError(err)
	assert.Equal(3, rec.SequenceID)

	records, err := l.List(ctx, subjU.ID)
	assert.NoError(err)
	assert.Equal(3, len(records))
	assert.False(records[0].Active)
	assert.True(records[1].Active)
	assert.True(records[2].Active)
}

// Ids are count(existing records)+1, and removed records still count, so
// issue, remove #1, issue yields #2 (not #3).
func TestSequenceIDAfterRemovingOnlyWarning(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := testLedger(nil)

	rec, err := l.Issue(ctx, subjU, "mod1", "one", 1)
	assert.NoError(err)
	assert.Equal(1, rec.SequenceID)
	n, err := l.Remove(ctx, subjU.ID, ID(1))
	assert.NoError(err)
	assert.Equal(1, n)

	rec, err = l.Issue(ctx, subjU, "mod1", "two", 1)
	assert.NoError(err)
	assert.Equal(2, rec.SequenceID)

	records, err := l.List(ctx, subjU.ID)
	assert.NoError(err)
	require.Equal(t, 2, len(records))
	assert.False(records[0].Active)
	assert.True(records[1].Active)
}

func TestSnapshotScope(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := testLedger(nil)

	_, err := l.Issue(ctx, Subject{Scope: "guild1", ID: "user1"}, "mod1", "spam here", 1)
	require.NoError(t, err)
	_, err = l.Issue(ctx, Subject{Scope: "guild2", ID: "user1"}, "mod2", "spam there", 1)
	require.NoError(t, err)
	_, err = l.Issue(ctx, Subject{Scope: "guild2", ID: "user2"}, "mod2", "rude", 2)
	require.NoError(t, err)

	sl, err := l.SnapshotScope(ctx, "guild1")
	assert.NoError(err)
	require.Equal(t, 1, len(sl))
	require.Equal(t, 1, len(sl["user1"]))
	assert.Equal("spam here", sl["user1"][0].Reason)
	assert.Equal("guild1", sl["user1"][0].Scope)

	sl, err = l.SnapshotScope(ctx, "guild2")
	assert.NoError(err)
	assert.Equal(2, len(sl))
	assert.Equal(2, sl["user1"][0].SequenceID)

	sl, err = l.SnapshotScope(ctx, "guild3")
	assert.NoError(err)
	assert.Empty(sl)

	// the unscoped snapshot still has everything
	all, err := l.Snapshot(ctx)
	assert.NoError(err)
	assert.Equal(2, len(all["user1"]))
}

func TestEscalationScenario(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	esc := &recordingEscalator{}
	l := testLedger(esc)

	for sev := 1; sev <= 3; sev++ {
		_, err := l.Issue(ctx, subjU, "mod1", "rude", sev)
		assert.NoError(err)
	}
	l.Wait()

	calls := esc.Calls()
	assert.Equal([]Subject{subjU}, calls)

	records, err := l.List(ctx, subjU.ID)
	assert.NoError(err)
	assert.Equal(3, len(records))
	for i, r := range records {
		assert.Equal(i+1, r.SequenceID)
		assert.True(r.Active)
	}
}

func TestEscalationUsesActiveCount(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	esc := &recordingEscalator{}
	l := testLedger(esc)

	_, err := l.Issue(ctx, subjU, "mod1", "one", 1)
	assert.NoError(err)
	_, err = l.Issue(ctx, subjU, "mod1", "two", 1)
	assert.NoError(err)
	_, err = l.Remove(ctx, subjU.ID, ID(1))
	assert.NoError(err)
	_, err = l.Issue(ctx, subjU, "mod1", "three", 1)
	assert.NoError(err)
	l.Wait()
	assert.Empty(esc.Calls())

	_, err = l.Issue(ctx, subjU, "mod1", "four", 1)
	assert.NoError(err)
	l.Wait()
	assert.Equal(1, len(esc.Calls()))
}

func TestEscalationFailureDoesNotFailIssue(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	esc := &recordingEscalator{err: errors.New("platform down")}
	l := testLedger(esc)
	l.Policy = EscalationPolicy{Threshold: 1}

	rec, err := l.Issue(ctx, subjU, "mod1", "reason", 1)
	assert.NoError(err)
	assert.Equal(1, rec.SequenceID)
	l.Wait()
	assert.Equal(1, len(esc.Calls()))
}

func TestIssueStoreFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	esc := &recordingEscalator{}
	l := testLedger(esc)
	l.Policy = EscalationPolicy{Threshold: 1}
	l.Store = brokenStore{RecordStore: l.Store}

	_, err := l.Issue(ctx, subjU, "mod1", "reason", 1)
	assert.Error(err)
	assert.Contains(err.Error(), "disk on fire")
	l.Wait()
	assert.Empty(esc.Calls())
}

func TestConcurrentIssue(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := testLedger(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Issue(ctx, subjU, "mod1", "flood", 1)
			assert.NoError(err)
		}()
	}
	wg.Wait()

	records, err := l.List(ctx, subjU.ID)
	assert.NoError(err)
	assert.Equal(20, len(records))
	seen := make(map[int]bool)
	for _, r := range records {
		assert.False(seen[r.SequenceID], "duplicate sequence id %d", r.SequenceID)
		seen[r.SequenceID] = true
	}
}

func TestShouldEscalate(t *testing.T) {
	assert := assert.New(t)
	p := DefaultEscalationPolicy()

	assert.False(p.ShouldEscalate(0))
	assert.False(p.ShouldEscalate(2))
	assert.True(p.ShouldEscalate(3))
	assert.True(p.ShouldEscalate(4))

	disabled := EscalationPolicy{Threshold: 0}
	assert.False(disabled.ShouldEscalate(100))
}

func TestParseSelector(t *testing.T) {
	assert := assert.New(t)

	sel, err := ParseSelector("all")
	assert.NoError(err)
	assert.True(sel.IsAll())
	sel, err = ParseSelector(" ALL ")
	assert.NoError(err)
	assert.True(sel.IsAll())

	sel, err = ParseSelector("#4")
	assert.NoError(err)
	assert.False(sel.IsAll())
	assert.Equal(4, sel.ID())

	for _, bad := range []string{"", "zero", "0", "-2", "1.5"} {
		_, err = ParseSelector(bad)
		assert.ErrorIs(err, ErrInvalidArgument, bad)
	}
}

func TestTotals(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := testLedger(nil)

	for _, id := range []string{"a", "a", "b"} {
		_, err := l.Issue(ctx, Subject{Scope: "g", ID: id}, "mod1", "reason", 1)
		assert.NoError(err)
	}
	_, err := l.Remove(ctx, "a", ID(1))
	assert.NoError(err)

	totals, err := l.Totals(ctx)
	assert.NoError(err)
	assert.Equal(&Totals{Subjects: 2, Total: 3, Active: 2}, totals)
}

func TestRecordStoreRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	dir := t.TempDir()

	kv, err := kvstore.NewFileStore(dir)
	require.NoError(t, err)
	store := NewKVRecordStore(kv)

	empty, err := store.Load(ctx)
	assert.NoError(err)
	assert.Empty(empty)

	l := NewLedger(store, DefaultEscalationPolicy(), nil, nil)
	_, err = l.Issue(ctx, Subject{Scope: "g", ID: "1001"}, "mod1", "spam «links»", 2)
	assert.NoError(err)
	_, err = l.Issue(ctx, Subject{Scope: "g", ID: "1002"}, "mod2", "flood", 1)
	assert.NoError(err)
	_, err = l.Remove(ctx, "1002", All())
	assert.NoError(err)

	p := filepath.Join(dir, warningsNamespace+".json")
	for i := 0; i < 2; i++ {
		sl, err := store.Load(ctx)
		assert.NoError(err)
		assert.Equal(2, len(sl))
		before, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.NoError(store.Save(ctx, sl))
		after, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(string(before), string(after))
	}

	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	for _, field := range []string{"sequence_id", "issuer_identity", "reason", "severity", "issued_at", "active"} {
		assert.Contains(string(raw), `"`+field+`"`)
	}

	// a fresh store over the same directory sees the same records
	kv2, err := kvstore.NewFileStore(dir)
	require.NoError(t, err)
	records, err := NewKVRecordStore(kv2).LoadSubject(ctx, "1001")
	assert.NoError(err)
	assert.Equal(1, len(records))
	assert.Equal("spam «links»", records[0].Reason)
	assert.Equal(2, records[0].Severity)
}

func TestRecordStoreSaveEmptySubject(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := NewKVRecordStore(kvstore.NewMemStore())

	assert.NoError(store.Save(ctx, SubjectLedger{"u1": nil}))
	sl, err := store.Load(ctx)
	assert.NoError(err)
	assert.Equal(SubjectLedger{"u1": []WarningRecord{}}, sl)
}

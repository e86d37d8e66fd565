package punish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chatwarden/warden/kvstore"
)

const restrictionsNamespace = "restrictions"

// A time-bounded role grant which still has to be reverted.
type Restriction struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Subject   string    `json:"subject"`
	RoleID    string    `json:"role_id"`
	Reason    string    `json:"reason"`
	AppliedAt time.Time `json:"applied_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *Restriction) key() string {
	return restrictionKey(r.Scope, r.Subject)
}

func restrictionKey(scope, subject string) string {
	return scope + "/" + subject
}

type PendingStore interface {
	List(ctx context.Context) ([]Restriction, error)
	// Overwrites any earlier restriction for the same scope and subject.
	Put(ctx context.Context, r Restriction) error
	// Deletes the restriction for scope and subject only if it still has the
	// given id; a newer restriction for the same subject is left alone.
	Delete(ctx context.Context, scope, subject, id string) error
}

type KVPendingStore struct {
	KV        kvstore.Store
	Namespace string
}

var _ PendingStore = (*KVPendingStore)(nil)

func NewKVPendingStore(kv kvstore.Store) *KVPendingStore {
	return &KVPendingStore{
		KV:        kv,
		Namespace: restrictionsNamespace,
	}
}

// Sorted by deadline, soonest first.
func (s *KVPendingStore) List(ctx context.Context) ([]Restriction, error) {
	all, err := s.KV.List(ctx, s.Namespace)
	if err != nil {
		return nil, err
	}
	out := make([]Restriction, 0, len(all))
	for k, raw := range all {
		var r Restriction
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decoding restriction %s: %w", k, err)
		}
		out = append(out, r)
	}
	sortRestrictions(out)
	return out, nil
}

func sortRestrictions(rs []Restriction) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].ExpiresAt.Equal(rs[j].ExpiresAt) {
			return rs[i].key() < rs[j].key()
		}
		return rs[i].ExpiresAt.Before(rs[j].ExpiresAt)
	})
}

func (s *KVPendingStore) Put(ctx context.Context, r Restriction) error {
	if r.Scope == "" || r.Subject == "" {
		return errors.New("restriction needs scope and subject")
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.KV.Put(ctx, s.Namespace, r.key(), raw)
}

// Callers serialize Put and Delete per subject; the read and the delete are
// not atomic on their own.
func (s *KVPendingStore) Delete(ctx context.Context, scope, subject, id string) error {
	key := restrictionKey(scope, subject)
	raw, err := s.KV.Get(ctx, s.Namespace, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	var cur Restriction
	if err := json.Unmarshal(raw, &cur); err != nil {
		return fmt.Errorf("decoding restriction %s: %w", key, err)
	}
	if cur.ID != id {
		return nil
	}
	return s.KV.Delete(ctx, s.Namespace, key)
}

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chatwarden/warden/kvstore"
)

const warningsNamespace = "warnings"

// Durable home of the SubjectLedger.
type RecordStore interface {
	// Returns an empty ledger (not an error) when nothing was ever saved.
	Load(ctx context.Context) (SubjectLedger, error)
	// Replaces all prior content atomically.
	Save(ctx context.Context, sl SubjectLedger) error
	// Returns nil (not an error) for unknown subjects.
	LoadSubject(ctx context.Context, subject string) ([]WarningRecord, error)
	SaveSubject(ctx context.Context, subject string, records []WarningRecord) error
}

// RecordStore on a kvstore namespace, one JSON array per subject.
type KVRecordStore struct {
	KV        kvstore.Store
	Namespace string
}

var _ RecordStore = (*KVRecordStore)(nil)

func NewKVRecordStore(kv kvstore.Store) *KVRecordStore {
	return &KVRecordStore{
		KV:        kv,
		Namespace: warningsNamespace,
	}
}

func encodeRecords(records []WarningRecord) ([]byte, error) {
	if records == nil {
		records = []WarningRecord{}
	}
	return json.Marshal(records)
}

func (s *KVRecordStore) Load(ctx context.Context) (SubjectLedger, error) {
	all, err := s.KV.List(ctx, s.Namespace)
	if err != nil {
		return nil, err
	}
	sl := make(SubjectLedger, len(all))
	for subject, raw := range all {
		var records []WarningRecord
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decoding warnings for %s: %w", subject, err)
		}
		if records == nil {
			records = []WarningRecord{}
		}
		sl[subject] = records
	}
	return sl, nil
}

func (s *KVRecordStore) Save(ctx context.Context, sl SubjectLedger) error {
	entries := make(map[string][]byte, len(sl))
	for subject, records := range sl {
		raw, err := encodeRecords(records)
		if err != nil {
			return fmt.Errorf("encoding warnings for %s: %w", subject, err)
		}
		entries[subject] = raw
	}
	return s.KV.Replace(ctx, s.Namespace, entries)
}

func (s *KVRecordStore) LoadSubject(ctx context.Context, subject string) ([]WarningRecord, error) {
	raw, err := s.KV.Get(ctx, s.Namespace, subject)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var records []WarningRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decoding warnings for %s: %w", subject, err)
	}
	return records, nil
}

func (s *KVRecordStore) SaveSubject(ctx context.Context, subject string, records []WarningRecord) error {
	raw, err := encodeRecords(records)
	if err != nil {
		return fmt.Errorf("encoding warnings for %s: %w", subject, err)
	}
	return s.KV.Put(ctx, s.Namespace, subject, raw)
}

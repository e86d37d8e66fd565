package kvstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type KVEntry struct {
	Namespace string `gorm:"primaryKey"`
	EntryKey  string `gorm:"primaryKey"`
	Value     []byte
	UpdatedAt time.Time
}

// SQL-backed store (sqlite or postgres, see cliutil.SetupDatabase).
type GormStore struct {
	DB *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&KVEntry{}); err != nil {
		return nil, err
	}
	return &GormStore{DB: db}, nil
}

func (s *GormStore) Get(ctx context.Context, ns, key string) ([]byte, error) {
	var ent KVEntry
	err := s.DB.WithContext(ctx).Where("namespace = ? AND entry_key = ?", ns, key).Take(&ent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return ent.Value, nil
}

func (s *GormStore) Put(ctx context.Context, ns, key string, val []byte) error {
	ent := KVEntry{
		Namespace: ns,
		EntryKey:  key,
		Value:     val,
		UpdatedAt: time.Now().UTC(),
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&ent).Error
}

func (s *GormStore) Delete(ctx context.Context, ns, key string) error {
	return s.DB.WithContext(ctx).Where("namespace = ? AND entry_key = ?", ns, key).Delete(&KVEntry{}).Error
}

func (s *GormStore) List(ctx context.Context, ns string) (map[string][]byte, error) {
	var ents []KVEntry
	if err := s.DB.WithContext(ctx).Where("namespace = ?", ns).Find(&ents).Error; err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(ents))
	for _, ent := range ents {
		out[ent.EntryKey] = ent.Value
	}
	return out, nil
}

func (s *GormStore) Replace(ctx context.Context, ns string, entries map[string][]byte) error {
	now := time.Now().UTC()
	ents := make([]KVEntry, 0, len(entries))
	for k, v := range entries {
		ents = append(ents, KVEntry{Namespace: ns, EntryKey: k, Value: v, UpdatedAt: now})
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("namespace = ?", ns).Delete(&KVEntry{}).Error; err != nil {
			return err
		}
		if len(ents) == 0 {
			return nil
		}
		return tx.CreateInBatches(ents, 200).Error
	})
}

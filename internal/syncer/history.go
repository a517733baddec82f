package syncer

import (
	"context"

	"gorm.io/gorm"
)

// HistoryStore appends and reads the immutable per-pass audit log. Rows are
// never mutated after insert.
type HistoryStore struct {
	db  *gorm.DB
	ids IDProvider
}

// NewHistoryStore constructs a HistoryStore.
func NewHistoryStore(db *gorm.DB, ids IDProvider) (*HistoryStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if ids == nil {
		return nil, errMissingIDProvider
	}
	return &HistoryStore{db: db, ids: ids}, nil
}

// Append inserts one history row, assigning its id.
func (s *HistoryStore) Append(ctx context.Context, entry *HistoryEntry) error {
	id, err := s.ids.NewID()
	if err != nil {
		return err
	}
	entry.ID = id
	return s.db.WithContext(ctx).Create(entry).Error
}

// List returns the most recent passes for an account, newest first.
func (s *HistoryStore) List(ctx context.Context, accountID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []HistoryEntry
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("started_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// ConflictStore appends and reads the immutable conflict audit log.
type ConflictStore struct {
	db  *gorm.DB
	ids IDProvider
}

// NewConflictStore constructs a ConflictStore.
func NewConflictStore(db *gorm.DB, ids IDProvider) (*ConflictStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if ids == nil {
		return nil, errMissingIDProvider
	}
	return &ConflictStore{db: db, ids: ids}, nil
}

// Append inserts one conflict row, assigning its id.
func (s *ConflictStore) Append(ctx context.Context, conflict *Conflict) error {
	id, err := s.ids.NewID()
	if err != nil {
		return err
	}
	conflict.ID = id
	return s.db.WithContext(ctx).Create(conflict).Error
}

// List returns the most recent conflicts for an account, newest first.
func (s *ConflictStore) List(ctx context.Context, accountID string, limit int) ([]Conflict, error) {
	if limit <= 0 {
		limit = 50
	}
	var conflicts []Conflict
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("resolved_at DESC").
		Limit(limit).
		Find(&conflicts).Error
	return conflicts, err
}

// WithTx returns a ConflictStore bound to the provided transaction handle,
// so conflict rows commit atomically with the upserts that produced them.
func (s *ConflictStore) WithTx(tx *gorm.DB) *ConflictStore {
	return &ConflictStore{db: tx, ids: s.ids}
}

package syncer

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrStateNotFound indicates no sync state row exists for the account.
var ErrStateNotFound = errors.New("syncer: sync state not found")

// StateStore persists the per-account sync state record. The AcquireSyncing
// conditional update is the cross-trigger mutual exclusion for the
// orchestrator: a scheduled tick and a manual "sync now" both go through it.
type StateStore struct {
	db    *gorm.DB
	clock func() time.Time
	ids   IDProvider
}

// StateStoreConfig describes the dependencies of a StateStore.
type StateStoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// NewStateStore constructs a StateStore after validating dependencies.
func NewStateStore(cfg StateStoreConfig) (*StateStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &StateStore{db: cfg.Database, clock: clock, ids: cfg.IDProvider}, nil
}

// WithTx returns a StateStore bound to the provided transaction handle.
func (s *StateStore) WithTx(tx *gorm.DB) *StateStore {
	return &StateStore{db: tx, clock: s.clock, ids: s.ids}
}

// Ensure returns the account's state row, creating the default record on
// first use (no prior sync, so the resumption token is the "*" sentinel).
func (s *StateStore) Ensure(ctx context.Context, accountID string) (*State, error) {
	state, err := s.Get(ctx, accountID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrStateNotFound) {
		return nil, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return nil, err
	}
	fresh := State{
		ID:              id,
		AccountID:       accountID,
		ResumptionToken: "*",
		Status:          StatusIdle,
		UpdatedAt:       s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&fresh).Error; err != nil {
		return nil, err
	}
	return &fresh, nil
}

// Get loads the account's state row.
func (s *StateStore) Get(ctx context.Context, accountID string) (*State, error) {
	var state State
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// AcquireSyncing attempts to move the account into the syncing status. The
// conditional update is atomic, so two concurrent triggers cannot both
// observe idle and both start: exactly one sees RowsAffected == 1.
func (s *StateStore) AcquireSyncing(ctx context.Context, accountID string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&State{}).
		Where("account_id = ? AND status <> ?", accountID, StatusSyncing).
		Updates(map[string]interface{}{
			"status":     StatusSyncing,
			"updated_at": s.clock().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// PersistToken stores the new resumption token. Called inside the pull
// transaction so the token never advances past upserts that were rolled back.
func (s *StateStore) PersistToken(ctx context.Context, accountID, token string) error {
	return s.db.WithContext(ctx).Model(&State{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"resumption_token": token,
			"updated_at":       s.clock().UTC(),
		}).Error
}

// Complete marks the pass successful: consecutive failures reset, lifetime
// error count is untouched.
func (s *StateStore) Complete(ctx context.Context, accountID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&State{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"status":               StatusCompleted,
			"last_sync_at":         at.UTC(),
			"consecutive_failures": 0,
			"error_message":        "",
			"updated_at":           s.clock().UTC(),
		}).Error
}

// Fail marks the pass failed, incrementing both the lifetime error count and
// the consecutive-failure counter the scheduler's backoff keys off.
func (s *StateStore) Fail(ctx context.Context, accountID, message string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&State{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"status":               StatusFailed,
			"last_sync_at":         at.UTC(),
			"error_count":          gorm.Expr("error_count + 1"),
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
			"error_message":        message,
			"updated_at":           s.clock().UTC(),
		}).Error
}

// SetNextSync records when the scheduler expects to run the account again.
// A missing state row is an error rather than a silent no-op.
func (s *StateStore) SetNextSync(ctx context.Context, accountID string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&State{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"next_sync_at": at.UTC(),
			"updated_at":   s.clock().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStateNotFound
	}
	return nil
}

// ReleaseStale returns any account stuck in syncing back to failed. Used at
// process start to recover from a crash mid-pass; the old token is still in
// place, so the next pass safely retries.
func (s *StateStore) ReleaseStale(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&State{}).
		Where("status = ?", StatusSyncing).
		Updates(map[string]interface{}{
			"status":        StatusFailed,
			"error_message": "pass interrupted by restart",
			"updated_at":    s.clock().UTC(),
		})
	return result.RowsAffected, result.Error
}

package syncer

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	errMissingDatabase     = errors.New("syncer: database handle is required")
	errMissingIDProvider   = errors.New("syncer: id provider is required")
	errMissingAccountStore = errors.New("syncer: account store is required")
	errMissingStateStore   = errors.New("syncer: state store is required")
	errMissingRunner       = errors.New("syncer: pass runner is required")
	errMissingLedger       = errors.New("syncer: rate ledger is required")
	// ErrAccountNotFound indicates the referenced sync account does not exist.
	ErrAccountNotFound = errors.New("syncer: account not found")
	// ErrMissingCredential indicates a connect attempt without a credential.
	ErrMissingCredential = errors.New("syncer: credential is required")
)

// AccountStore persists sync account records.
type AccountStore struct {
	db    *gorm.DB
	clock func() time.Time
	ids   IDProvider
}

// AccountStoreConfig describes the dependencies of an AccountStore.
type AccountStoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// NewAccountStore constructs an AccountStore after validating dependencies.
func NewAccountStore(cfg AccountStoreConfig) (*AccountStore, error) {
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
	return &AccountStore{db: cfg.Database, clock: clock, ids: cfg.IDProvider}, nil
}

// Connect creates or revives the account for a user: the credential is
// stored and sync is enabled. An existing row is reused so local data and
// the lifetime error counter survive reconnects.
func (s *AccountStore) Connect(ctx context.Context, userID, credential string, intervalMinutes int) (*Account, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, ErrMissingCredential
	}
	if intervalMinutes <= 0 {
		intervalMinutes = 15
	}
	now := s.clock().UTC()

	var account Account
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		id, idErr := s.ids.NewID()
		if idErr != nil {
			return nil, idErr
		}
		account = Account{
			ID:              id,
			UserID:          userID,
			Credential:      credential,
			SyncEnabled:     true,
			AutoSync:        true,
			IntervalMinutes: intervalMinutes,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
			return nil, err
		}
		return &account, nil
	}
	if err != nil {
		return nil, err
	}

	account.Credential = credential
	account.SyncEnabled = true
	account.AutoSync = true
	account.IntervalMinutes = intervalMinutes
	account.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// Get loads one account by id.
func (s *AccountStore) Get(ctx context.Context, accountID string) (*Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("id = ?", accountID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByUser loads the account owned by a user.
func (s *AccountStore) GetByUser(ctx context.Context, userID string) (*Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListAutoSync returns every account eligible for scheduled syncing.
func (s *AccountStore) ListAutoSync(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := s.db.WithContext(ctx).
		Where("sync_enabled = ? AND auto_sync = ?", true, true).
		Find(&accounts).Error
	return accounts, err
}

// SettingsUpdate carries the mutable account settings; nil fields are left
// unchanged.
type SettingsUpdate struct {
	AutoSync        *bool
	IntervalMinutes *int
	Credential      *string
}

// UpdateSettings applies a settings change and returns the fresh account.
// The caller is responsible for restarting the account's timer.
func (s *AccountStore) UpdateSettings(ctx context.Context, accountID string, update SettingsUpdate) (*Account, error) {
	account, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if update.AutoSync != nil {
		account.AutoSync = *update.AutoSync
	}
	if update.IntervalMinutes != nil && *update.IntervalMinutes > 0 {
		account.IntervalMinutes = *update.IntervalMinutes
	}
	if update.Credential != nil && strings.TrimSpace(*update.Credential) != "" {
		account.Credential = *update.Credential
	}
	account.UpdatedAt = s.clock().UTC()
	if err := s.db.WithContext(ctx).Save(account).Error; err != nil {
		return nil, err
	}
	return account, nil
}

// Disconnect soft-deletes the connection: the credential is cleared and sync
// disabled, but the row and all local data remain.
func (s *AccountStore) Disconnect(ctx context.Context, accountID string) error {
	result := s.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"credential":   "",
			"sync_enabled": false,
			"auto_sync":    false,
			"updated_at":   s.clock().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DisableAutoSync flips the auto-sync flag off, used by the scheduler's
// consecutive-failure fail-safe.
func (s *AccountStore) DisableAutoSync(ctx context.Context, accountID string) error {
	return s.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"auto_sync":  false,
			"updated_at": s.clock().UTC(),
		}).Error
}

package database

import (
	"errors"
	"time"

	"github.com/taskwell/backend/internal/syncer"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeEmptyTokens = "2026-07-14_normalize_empty_resumption_tokens"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeEmptyTokens, apply: normalizeEmptyResumptionTokens},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written before the sentinel default existed can carry an empty
// resumption token, which the remote client rejects. Reset them to the
// full-sync sentinel so the next pass re-imports cleanly.
func normalizeEmptyResumptionTokens(db *gorm.DB) error {
	return db.Model(&syncer.State{}).
		Where("resumption_token = ''").
		Update("resumption_token", "*").Error
}

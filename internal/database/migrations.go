package database

import (
	"errors"
	"time"

	"github.com/Gokul-madhav/home-ring/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillOwnerIndex = "2026-10-01_backfill_store_owner_index"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillOwnerIndex, apply: backfillOwnerIndex},
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
		if err := migration.apply(db, logger); err != nil {
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

// backfillOwnerIndex fills the secondary index column for rows written before it existed.
func backfillOwnerIndex(db *gorm.DB, logger *zap.Logger) error {
	nodeStore, err := store.New(store.Config{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	_, err = nodeStore.Reindex(db.Statement.Context)
	return err
}

package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Gokul-madhav/home-ring/internal/store"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsOwnerIndex(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&store.Node{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := store.Node{
		Path:      "calls/call-1",
		Parent:    "calls",
		InsertSeq: 1,
		ValueJSON: `{"ownerID":"owner-1","status":"ringing"}`,
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert legacy node: %v", err)
	}

	if err := applyMigrations(database.WithContext(context.Background()), zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored store.Node
	if err := database.Where("path = ?", legacy.Path).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload node: %v", err)
	}
	if stored.IndexValue != "owner-1" {
		testContext.Fatalf("expected owner index to be backfilled, got %q", stored.IndexValue)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillOwnerIndex).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestOpenCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "open.db")

	database, err := Open(context.Background(), DriverSQLite, databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("open failed: %v", err)
	}
	if !database.Migrator().HasTable(&store.Node{}) {
		testContext.Fatalf("expected store_nodes table to exist")
	}
	if _, err := Open(context.Background(), "oracle", databasePath, nil); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
}

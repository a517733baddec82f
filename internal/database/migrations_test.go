package database

import (
	"path/filepath"
	"testing"

	"github.com/taskwell/backend/internal/syncer"
)

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	for _, table := range []string{"projects", "sections", "labels", "tasks", "comments", "backups", "sync_accounts", "sync_states", "sync_history", "sync_conflicts", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %q after migration", table)
		}
	}

	var record migrationRecord
	if err := db.Where("name = ?", migrationNormalizeEmptyTokens).Take(&record).Error; err != nil {
		t.Fatalf("expected migration recorded: %v", err)
	}
}

func TestNormalizeEmptyResumptionTokens(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	rows := []syncer.State{
		{ID: "state-1", AccountID: "acct-1", ResumptionToken: "tok-1", Status: syncer.StatusIdle},
		{ID: "state-2", AccountID: "acct-2", ResumptionToken: "tok-2", Status: syncer.StatusIdle},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	// Simulate a row written before the sentinel default existed.
	if err := db.Model(&syncer.State{}).Where("id = ?", "state-2").Update("resumption_token", "").Error; err != nil {
		t.Fatalf("seed update failed: %v", err)
	}

	if err := normalizeEmptyResumptionTokens(db); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	var fixed syncer.State
	if err := db.Where("id = ?", "state-2").Take(&fixed).Error; err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if fixed.ResumptionToken != "*" {
		t.Fatalf("expected empty token normalized to the sentinel, got %q", fixed.ResumptionToken)
	}

	var untouched syncer.State
	if err := db.Where("id = ?", "state-1").Take(&untouched).Error; err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if untouched.ResumptionToken != "tok-1" {
		t.Fatalf("expected real token untouched, got %q", untouched.ResumptionToken)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected an error for an empty path")
	}
}

package taskstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestSnapshotBackupSerializesUserData(t *testing.T) {
	clock := newTestClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	store := mustStore(t, clock)

	project := Project{UserID: "user-1", Name: "Inbox"}
	if err := store.CreateProject(context.Background(), &project); err != nil {
		t.Fatalf("create project failed: %v", err)
	}
	task := Task{UserID: "user-1", ProjectID: &project.ID, Content: "buy milk", Priority: 4}
	if err := store.CreateTask(context.Background(), &task); err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	foreign := Project{UserID: "user-2", Name: "Other"}
	if err := store.CreateProject(context.Background(), &foreign); err != nil {
		t.Fatalf("create project failed: %v", err)
	}

	if err := store.SnapshotBackup(context.Background(), "user-1", BackupTagPreImport); err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	has, err := store.HasBackup(context.Background(), "user-1", BackupTagPreImport)
	if err != nil || !has {
		t.Fatalf("expected the backup to exist: %v", err)
	}
	has, err = store.HasBackup(context.Background(), "user-2", BackupTagPreImport)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if has {
		t.Fatalf("expected no backup for the other user")
	}

	var backup Backup
	if err := store.db.WithContext(context.Background()).
		Where("user_id = ? AND tag = ?", "user-1", BackupTagPreImport).
		Take(&backup).Error; err != nil {
		t.Fatalf("failed to load backup row: %v", err)
	}

	var payload struct {
		Projects []Project `json:"projects"`
		Tasks    []Task    `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(backup.PayloadJSON), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if len(payload.Projects) != 1 || payload.Projects[0].Name != "Inbox" {
		t.Fatalf("unexpected projects in snapshot: %+v", payload.Projects)
	}
	if len(payload.Tasks) != 1 || payload.Tasks[0].Content != "buy milk" {
		t.Fatalf("unexpected tasks in snapshot: %+v", payload.Tasks)
	}
}

func TestSnapshotBackupRequiresUser(t *testing.T) {
	clock := newTestClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	store := mustStore(t, clock)

	if err := store.SnapshotBackup(context.Background(), "", BackupTagPreImport); err == nil {
		t.Fatalf("expected an error for a missing user id")
	}
}

package syncer

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/taskwell/backend/internal/taskstore"
	"gorm.io/gorm"
)

var testDatabaseSequence int64

func mustOpenDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	name := fmt.Sprintf("file:syncer-test-%d?mode=memory&cache=shared", atomic.AddInt64(&testDatabaseSequence, 1))
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&taskstore.Project{},
		&taskstore.Section{},
		&taskstore.Label{},
		&taskstore.Task{},
		&taskstore.Comment{},
		&taskstore.Backup{},
		&Account{},
		&State{},
		&HistoryEntry{},
		&Conflict{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func mustTaskStore(t *testing.T, db *gorm.DB, clock func() time.Time) *taskstore.Store {
	t.Helper()
	store, err := taskstore.NewStore(taskstore.StoreConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: taskstore.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build task store: %v", err)
	}
	return store
}

func mustAccountStore(t *testing.T, db *gorm.DB, clock func() time.Time) *AccountStore {
	t.Helper()
	store, err := NewAccountStore(AccountStoreConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build account store: %v", err)
	}
	return store
}

func mustStateStore(t *testing.T, db *gorm.DB, clock func() time.Time) *StateStore {
	t.Helper()
	store, err := NewStateStore(StateStoreConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build state store: %v", err)
	}
	return store
}

func mustHistoryStore(t *testing.T, db *gorm.DB) *HistoryStore {
	t.Helper()
	store, err := NewHistoryStore(db, NewUUIDProvider())
	if err != nil {
		t.Fatalf("failed to build history store: %v", err)
	}
	return store
}

func mustConflictStore(t *testing.T, db *gorm.DB) *ConflictStore {
	t.Helper()
	store, err := NewConflictStore(db, NewUUIDProvider())
	if err != nil {
		t.Fatalf("failed to build conflict store: %v", err)
	}
	return store
}

// testClock is a hand-advanced clock shared across the stores under test.
type testClock struct {
	current time.Time
}

func newTestClock(at time.Time) *testClock {
	return &testClock{current: at.UTC()}
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

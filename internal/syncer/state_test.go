package syncer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEnsureCreatesDefaultState(t *testing.T) {
	db := mustOpenDatabase(t)
	clock := newTestClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	states := mustStateStore(t, db, clock.Now)

	state, err := states.Ensure(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if state.ResumptionToken != "*" {
		t.Fatalf("expected full-sync sentinel token, got %q", state.ResumptionToken)
	}
	if state.Status != StatusIdle {
		t.Fatalf("expected idle status, got %q", state.Status)
	}

	again, err := states.Ensure(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	if again.ID != state.ID {
		t.Fatalf("expected ensure to reuse the existing row")
	}
}

func TestAcquireSyncingIsMutuallyExclusive(t *testing.T) {
	db := mustOpenDatabase(t)
	clock := newTestClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	states := mustStateStore(t, db, clock.Now)

	if _, err := states.Ensure(context.Background(), "acct-1"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	first, err := states.AcquireSyncing(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if !first {
		t.Fatalf("expected first acquire to win the guard")
	}

	second, err := states.AcquireSyncing(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if second {
		t.Fatalf("expected second acquire to be rejected while syncing")
	}

	if err := states.Complete(context.Background(), "acct-1", clock.Now()); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	third, err := states.AcquireSyncing(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("third acquire failed: %v", err)
	}
	if !third {
		t.Fatalf("expected acquire to succeed after the pass completed")
	}
}

func TestFailIncrementsBothErrorCounters(t *testing.T) {
	db := mustOpenDatabase(t)
	clock := newTestClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	states := mustStateStore(t, db, clock.Now)

	if _, err := states.Ensure(context.Background(), "acct-1"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := states.Fail(context.Background(), "acct-1", "remote unavailable", clock.Now()); err != nil {
			t.Fatalf("fail update failed: %v", err)
		}
	}

	state, err := states.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if state.ErrorCount != 3 || state.ConsecutiveFailures != 3 {
		t.Fatalf("unexpected counters: lifetime=%d consecutive=%d", state.ErrorCount, state.ConsecutiveFailures)
	}
	if state.ErrorMessage != "remote unavailable" {
		t.Fatalf("unexpected error message: %q", state.ErrorMessage)
	}

	if err := states.Complete(context.Background(), "acct-1", clock.Now()); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	state, err = states.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get after complete failed: %v", err)
	}
	if state.ConsecutiveFailures != 0 {
		t.Fatalf("expected consecutive failures to reset on success, got %d", state.ConsecutiveFailures)
	}
	if state.ErrorCount != 3 {
		t.Fatalf("expected lifetime error count to survive success, got %d", state.ErrorCount)
	}
	if state.ErrorMessage != "" {
		t.Fatalf("expected error message cleared on success, got %q", state.ErrorMessage)
	}
}

func TestPersistTokenUpdatesResumptionToken(t *testing.T) {
	db := mustOpenDatabase(t)
	clock := newTestClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	states := mustStateStore(t, db, clock.Now)

	if _, err := states.Ensure(context.Background(), "acct-1"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := states.PersistToken(context.Background(), "acct-1", "tok-42"); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	state, err := states.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if state.ResumptionToken != "tok-42" {
		t.Fatalf("expected token tok-42, got %q", state.ResumptionToken)
	}
}

func TestSetNextSyncReportsMissingState(t *testing.T) {
	db := mustOpenDatabase(t)
	clock := newTestClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	states := mustStateStore(t, db, clock.Now)

	err := states.SetNextSync(context.Background(), "acct-missing", clock.Now().Add(time.Hour))
	if !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound for a missing row, got %v", err)
	}

	if _, err := states.Ensure(context.Background(), "acct-1"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	next := clock.Now().Add(time.Hour)
	if err := states.SetNextSync(context.Background(), "acct-1", next); err != nil {
		t.Fatalf("set next sync failed: %v", err)
	}
	state, err := states.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if state.NextSyncAt == nil || !state.NextSyncAt.Equal(next) {
		t.Fatalf("expected next sync recorded, got %v", state.NextSyncAt)
	}
}

func TestReleaseStaleFailsInterruptedPasses(t *testing.T) {
	db := mustOpenDatabase(t)
	clock := newTestClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	states := mustStateStore(t, db, clock.Now)

	if _, err := states.Ensure(context.Background(), "acct-1"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if _, err := states.Ensure(context.Background(), "acct-2"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if _, err := states.AcquireSyncing(context.Background(), "acct-1"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	released, err := states.ReleaseStale(context.Background())
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected exactly one stale pass released, got %d", released)
	}

	state, err := states.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if state.Status != StatusFailed {
		t.Fatalf("expected stale pass to be marked failed, got %q", state.Status)
	}

	untouched, err := states.Get(context.Background(), "acct-2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if untouched.Status != StatusIdle {
		t.Fatalf("expected idle account untouched, got %q", untouched.Status)
	}
}

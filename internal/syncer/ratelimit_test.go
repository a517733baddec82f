package syncer

import (
	"testing"
	"time"
)

func TestRateLedgerCountsCallsWithinWindow(t *testing.T) {
	ledger := NewRateLedger(60 * time.Second)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	ledger.Record("acct-1", now.Add(-90*time.Second))
	ledger.Record("acct-1", now.Add(-30*time.Second))
	ledger.Record("acct-1", now.Add(-5*time.Second))
	ledger.Record("acct-2", now)

	if got := ledger.CountSince("acct-1", now); got != 2 {
		t.Fatalf("expected 2 calls inside the window, got %d", got)
	}
	if got := ledger.CountSince("acct-2", now); got != 1 {
		t.Fatalf("expected accounts to be tracked separately, got %d", got)
	}
	if got := ledger.CountSince("acct-unknown", now); got != 0 {
		t.Fatalf("expected unknown account to count zero, got %d", got)
	}
}

func TestRateLedgerPrunesExpiredEntries(t *testing.T) {
	ledger := NewRateLedger(60 * time.Second)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	ledger.Record("acct-1", now)
	if got := ledger.CountSince("acct-1", now.Add(2*time.Minute)); got != 0 {
		t.Fatalf("expected all entries pruned after the window, got %d", got)
	}
}

func TestRateLedgerIgnoresEmptyAccount(t *testing.T) {
	ledger := NewRateLedger(0)
	ledger.Record("", time.Now())
	if got := ledger.CountSince("", time.Now()); got != 0 {
		t.Fatalf("expected empty account id to be ignored, got %d", got)
	}
}

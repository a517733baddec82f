package syncer

import (
	"testing"
	"time"
)

func TestDetectConflictRequiresLocalEditAfterLastSync(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	synced := base.Add(-time.Minute)

	if detectConflict(base, &synced) == false {
		t.Fatalf("expected conflict when local edit is newer than last sync")
	}
	if detectConflict(synced, &base) {
		t.Fatalf("expected no conflict when last sync is newer than local edit")
	}
	equal := base
	if detectConflict(base, &equal) {
		t.Fatalf("expected no conflict when timestamps are equal")
	}
}

func TestDetectConflictTreatsUnstampedRowAsConflicted(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	if !detectConflict(base, nil) {
		t.Fatalf("expected never-synced row to count as conflicted")
	}
}

func TestResolveConflictLocalityBias(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		editedAt time.Time
		want     Resolution
	}{
		{name: "ten seconds old wins locally", editedAt: now.Add(-10 * time.Second), want: ResolutionLocalWins},
		{name: "exactly at window wins locally", editedAt: now.Add(-LocalWinsWindow), want: ResolutionLocalWins},
		{name: "five minutes old loses to remote", editedAt: now.Add(-5 * time.Minute), want: ResolutionRemoteWins},
	}
	for _, testCase := range cases {
		if got := resolveConflict(testCase.editedAt, now); got != testCase.want {
			t.Fatalf("%s: got %q, want %q", testCase.name, got, testCase.want)
		}
	}
}

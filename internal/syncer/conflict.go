package syncer

import "time"

// LocalWinsWindow is the locality bias for conflict resolution: a local edit
// made within this window beats an incoming remote edit for the current
// pass. The row is re-evaluated on the next pass.
const LocalWinsWindow = 60 * time.Second

// detectConflict reports whether a local row was edited since its last
// confirmed sync, meaning an incoming remote overwrite would clobber a local
// change. A row that was never remote-stamped counts as conflicted.
func detectConflict(localUpdatedAt time.Time, lastRemoteSyncAt *time.Time) bool {
	if lastRemoteSyncAt == nil {
		return true
	}
	return localUpdatedAt.After(*lastRemoteSyncAt)
}

// resolveConflict applies last-write-wins with the locality bias: local wins
// when the local edit is younger than LocalWinsWindow, otherwise remote wins.
func resolveConflict(localUpdatedAt, now time.Time) Resolution {
	if now.Sub(localUpdatedAt) <= LocalWinsWindow {
		return ResolutionLocalWins
	}
	return ResolutionRemoteWins
}

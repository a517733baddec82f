package syncer

import (
	"sync"
	"time"
)

const defaultRateWindow = 60 * time.Second

// RateLedger keeps a rolling count of outbound API calls per account within
// a trailing window. The remote client records into it on every call; the
// scheduler reads it to gate new passes.
type RateLedger struct {
	mu     sync.Mutex
	window time.Duration
	calls  map[string][]time.Time
}

// NewRateLedger constructs a ledger with the given window; zero or negative
// falls back to the 60 second default.
func NewRateLedger(window time.Duration) *RateLedger {
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLedger{
		window: window,
		calls:  make(map[string][]time.Time),
	}
}

// Record registers one outbound call for the account. Satisfies
// remote.Recorder.
func (l *RateLedger) Record(accountID string, at time.Time) {
	if accountID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[accountID] = append(l.prune(accountID, at), at)
}

// CountSince returns the number of calls the account made within the
// trailing window ending at now.
func (l *RateLedger) CountSince(accountID string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	pruned := l.prune(accountID, now)
	if len(pruned) == 0 {
		delete(l.calls, accountID)
	} else {
		l.calls[accountID] = pruned
	}
	return len(pruned)
}

// prune drops entries older than the window. Caller must hold the lock.
func (l *RateLedger) prune(accountID string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	recorded := l.calls[accountID]
	kept := recorded[:0]
	for _, at := range recorded {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	return kept
}

package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// maxConsecutiveFailures is the fail-safe threshold: at the fifth
	// consecutive failure the account's timer stops and auto-sync is
	// disabled, so a broken or revoked credential is never hammered forever.
	maxConsecutiveFailures = 5
	// maxBackoffMinutes caps the exponential backoff window.
	maxBackoffMinutes = 60
)

// PassRunner runs one synchronization pass. Satisfied by *Orchestrator.
type PassRunner interface {
	RunPass(ctx context.Context, account Account, mode PassMode) (PassResult, error)
}

// SchedulerConfig describes the dependencies of the Scheduler.
type SchedulerConfig struct {
	Accounts     *AccountStore
	States       *StateStore
	Runner       PassRunner
	Ledger       *RateLedger
	RateLimit    int
	Logger       *zap.Logger
	Clock        func() time.Time
	TickInterval func(minutes int) time.Duration
}

// Scheduler owns one recurring timer per account and the failure-backoff
// policy. It is constructed once at process start and passed by handle to
// whichever component needs to start or stop timers; there is no package
// level shared instance.
type Scheduler struct {
	accounts  *AccountStore
	states    *StateStore
	runner    PassRunner
	ledger    *RateLedger
	rateLimit int
	logger    *zap.Logger
	clock     func() time.Time
	interval  func(minutes int) time.Duration

	// baseCtx outlives any single request so a timer started from an HTTP
	// handler keeps running after the request context is cancelled.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	timers map[string]*accountTimer
	wg     sync.WaitGroup
}

type accountTimer struct {
	stop chan struct{}
}

// NewScheduler constructs a Scheduler after validating dependencies.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Accounts == nil {
		return nil, errMissingAccountStore
	}
	if cfg.States == nil {
		return nil, errMissingStateStore
	}
	if cfg.Runner == nil {
		return nil, errMissingRunner
	}
	if cfg.Ledger == nil {
		return nil, errMissingLedger
	}
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 400
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := cfg.TickInterval
	if interval == nil {
		interval = func(minutes int) time.Duration {
			return time.Duration(minutes) * time.Minute
		}
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		accounts:  cfg.Accounts,
		states:    cfg.States,
		runner:    cfg.Runner,
		ledger:    cfg.Ledger,
		rateLimit: rateLimit,
		logger:    logger,
		clock:     clock,
		interval:  interval,
		baseCtx:   baseCtx,
		cancel:    cancel,
		timers:    make(map[string]*accountTimer),
	}, nil
}

// StartAll loads every account with sync and auto-sync enabled and starts a
// timer for each.
func (s *Scheduler) StartAll(ctx context.Context) error {
	accounts, err := s.accounts.ListAutoSync(ctx)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		s.StartAccount(account)
	}
	s.logger.Info("scheduler started", zap.Int("accounts", len(accounts)))
	return nil
}

// StartAccount cancels any existing timer for the account, runs one pass
// immediately, then reschedules every IntervalMinutes. Called both at boot
// and after a settings change so a stale timer never runs old settings.
func (s *Scheduler) StartAccount(account Account) {
	s.StopAccount(account.ID)

	timer := &accountTimer{stop: make(chan struct{})}
	s.mu.Lock()
	s.timers[account.ID] = timer
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop(account.ID, account.IntervalMinutes, timer.stop)
}

// StopAccount cancels the account's timer. Idempotent.
func (s *Scheduler) StopAccount(accountID string) {
	s.mu.Lock()
	timer, ok := s.timers[accountID]
	if ok {
		delete(s.timers, accountID)
	}
	s.mu.Unlock()
	if ok {
		close(timer.stop)
	}
}

// StopAll cancels every timer and waits for in-flight ticks to drain.
// Stopping only prevents the next tick; a running pass completes.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[string]*accountTimer)
	s.mu.Unlock()
	s.cancel()
	for _, timer := range timers {
		close(timer.stop)
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Running reports whether the account currently has a timer.
func (s *Scheduler) Running(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[accountID]
	return ok
}

// SyncNow runs one manual pass, bypassing the backoff and rate gates but
// not the status guard: a pass already in flight still rejects it with
// ErrPassInProgress.
func (s *Scheduler) SyncNow(ctx context.Context, accountID string, mode PassMode) (PassResult, error) {
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return PassResult{}, err
	}
	result, err := s.runner.RunPass(ctx, *account, mode)
	if err != nil {
		return PassResult{}, err
	}
	s.afterPass(ctx, *account, result)
	return result, nil
}

func (s *Scheduler) runLoop(accountID string, intervalMinutes int, stop <-chan struct{}) {
	defer s.wg.Done()

	interval := s.interval(intervalMinutes)
	s.tick(s.baseCtx, accountID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			s.tick(s.baseCtx, accountID)
		}
	}
}

// tick reloads the account so a credential rotation or settings change made
// since the last tick is honored, gates the run, and executes one pass.
func (s *Scheduler) tick(ctx context.Context, accountID string) {
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		s.logger.Error("scheduler tick: account load failed", zap.String("account_id", accountID), zap.Error(err))
		return
	}
	if !account.SyncEnabled || !account.AutoSync {
		s.logger.Info("scheduler tick: account no longer eligible, stopping", zap.String("account_id", accountID))
		s.StopAccount(accountID)
		return
	}

	ok, reason, err := s.shouldSync(ctx, *account)
	if err != nil {
		s.logger.Error("scheduler tick: gate check failed", zap.String("account_id", accountID), zap.Error(err))
		return
	}
	if !ok {
		s.logger.Debug("scheduler tick skipped", zap.String("account_id", accountID), zap.String("reason", reason))
		return
	}

	result, err := s.runner.RunPass(ctx, *account, ModeIncremental)
	if err != nil {
		// The guard raced with a manual trigger; skip, no error counted.
		if err == ErrPassInProgress {
			return
		}
		s.logger.Error("scheduler tick: pass failed to start", zap.String("account_id", accountID), zap.Error(err))
		return
	}
	s.afterPass(ctx, *account, result)
}

// shouldSync is the gate evaluated before every scheduled pass. A false
// return skips the tick without error.
func (s *Scheduler) shouldSync(ctx context.Context, account Account) (bool, string, error) {
	state, err := s.states.Ensure(ctx, account.ID)
	if err != nil {
		return false, "", err
	}
	if state.Status == StatusSyncing {
		return false, "pass already running", nil
	}

	now := s.clock().UTC()
	if state.ConsecutiveFailures > 0 && state.LastSyncAt != nil {
		backoff := backoffWindow(state.ConsecutiveFailures)
		if now.Before(state.LastSyncAt.Add(backoff)) {
			return false, "within backoff window", nil
		}
	}

	if s.ledger.CountSince(account.ID, now) >= s.rateLimit {
		return false, "rate window exhausted", nil
	}
	return true, "", nil
}

// afterPass applies the failure policy and records the next expected run.
// The state row is ensured first: a runner that never touched the row (or a
// row lost to an operator reset) must not lose the schedule stamp.
func (s *Scheduler) afterPass(ctx context.Context, account Account, result PassResult) {
	now := s.clock().UTC()
	next := now.Add(s.interval(account.IntervalMinutes))
	if _, err := s.states.Ensure(ctx, account.ID); err != nil {
		s.logger.Error("failed to ensure sync state", zap.String("account_id", account.ID), zap.Error(err))
	} else if err := s.states.SetNextSync(ctx, account.ID, next); err != nil {
		s.logger.Error("failed to record next sync time", zap.String("account_id", account.ID), zap.Error(err))
	}

	if result.Status != StatusFailed {
		return
	}

	if result.AuthFailed {
		s.logger.Warn("credential rejected, disabling auto-sync", zap.String("account_id", account.ID))
		s.disable(ctx, account.ID)
		return
	}

	state, err := s.states.Get(ctx, account.ID)
	if err != nil {
		s.logger.Error("failed to load state after pass", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	if state.ConsecutiveFailures >= maxConsecutiveFailures {
		s.logger.Warn("consecutive failure limit reached, disabling auto-sync",
			zap.String("account_id", account.ID),
			zap.Int("consecutive_failures", state.ConsecutiveFailures))
		s.disable(ctx, account.ID)
	}
}

func (s *Scheduler) disable(ctx context.Context, accountID string) {
	s.StopAccount(accountID)
	if err := s.accounts.DisableAutoSync(ctx, accountID); err != nil {
		s.logger.Error("failed to disable auto-sync", zap.String("account_id", accountID), zap.Error(err))
	}
}

// backoffWindow computes min(2^consecutiveFailures, 60) minutes.
func backoffWindow(consecutiveFailures int) time.Duration {
	minutes := 1
	for i := 0; i < consecutiveFailures; i++ {
		minutes *= 2
		if minutes >= maxBackoffMinutes {
			minutes = maxBackoffMinutes
			break
		}
	}
	return time.Duration(minutes) * time.Minute
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/taskwell/backend/internal/auth"
	"github.com/taskwell/backend/internal/remote"
	"github.com/taskwell/backend/internal/syncer"
	"github.com/taskwell/backend/internal/taskstore"
	"gorm.io/gorm"
)

var testDatabaseSequence int64

// stubRemote answers every call with an empty payload so handler tests
// exercise the HTTP surface without a live remote service.
type stubRemote struct{}

func (stubRemote) FullSync(context.Context) (*remote.SyncResponse, error) {
	return &remote.SyncResponse{SyncToken: "tok-full", FullSync: true}, nil
}

func (stubRemote) IncrementalSync(_ context.Context, token string) (*remote.SyncResponse, error) {
	return &remote.SyncResponse{SyncToken: "tok-inc"}, nil
}

func (stubRemote) PushCommands(_ context.Context, token string, _ []remote.Command) (*remote.SyncResponse, error) {
	return &remote.SyncResponse{SyncToken: token}, nil
}

func (stubRemote) UpdateTask(context.Context, string, map[string]interface{}) (*remote.Task, error) {
	return &remote.Task{}, nil
}

func (stubRemote) CloseTask(context.Context, string) error { return nil }

func (stubRemote) ReopenTask(context.Context, string) error { return nil }

func (stubRemote) UpdateProject(context.Context, string, map[string]interface{}) (*remote.Project, error) {
	return &remote.Project{}, nil
}

type routerFixture struct {
	handler   http.Handler
	accounts  *syncer.AccountStore
	states    *syncer.StateStore
	scheduler *syncer.Scheduler
	issuer    *auth.TokenIssuer
}

func mustRouter(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := fmt.Sprintf("file:server-test-%d?mode=memory&cache=shared", atomic.AddInt64(&testDatabaseSequence, 1))
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&taskstore.Project{},
		&taskstore.Section{},
		&taskstore.Label{},
		&taskstore.Task{},
		&taskstore.Comment{},
		&taskstore.Backup{},
		&syncer.Account{},
		&syncer.State{},
		&syncer.HistoryEntry{},
		&syncer.Conflict{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	tasks, err := taskstore.NewStore(taskstore.StoreConfig{
		Database:   db,
		IDProvider: taskstore.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build task store: %v", err)
	}
	accounts, err := syncer.NewAccountStore(syncer.AccountStoreConfig{
		Database:   db,
		IDProvider: syncer.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build account store: %v", err)
	}
	states, err := syncer.NewStateStore(syncer.StateStoreConfig{
		Database:   db,
		IDProvider: syncer.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build state store: %v", err)
	}
	history, err := syncer.NewHistoryStore(db, syncer.NewUUIDProvider())
	if err != nil {
		t.Fatalf("failed to build history store: %v", err)
	}
	conflicts, err := syncer.NewConflictStore(db, syncer.NewUUIDProvider())
	if err != nil {
		t.Fatalf("failed to build conflict store: %v", err)
	}

	dispatcher := syncer.NewDispatcher()
	orchestrator, err := syncer.NewOrchestrator(syncer.OrchestratorConfig{
		Database:   db,
		Tasks:      tasks,
		States:     states,
		History:    history,
		Conflicts:  conflicts,
		Dispatcher: dispatcher,
		Clients: func(syncer.Account) (syncer.RemoteAPI, error) {
			return stubRemote{}, nil
		},
	})
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	scheduler, err := syncer.NewScheduler(syncer.SchedulerConfig{
		Accounts:  accounts,
		States:    states,
		Runner:    orchestrator,
		Ledger:    syncer.NewRateLedger(0),
		RateLimit: 400,
		TickInterval: func(minutes int) time.Duration {
			return time.Duration(minutes) * time.Hour
		},
	})
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	t.Cleanup(scheduler.StopAll)

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		AdminAPIKey:   "admin-key",
		Issuer:        "taskwell-auth",
		Audience:      "taskwell-api",
		TokenTTL:      time.Hour,
	})

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: issuer,
		Accounts:     accounts,
		States:       states,
		History:      history,
		Conflicts:    conflicts,
		Scheduler:    scheduler,
		Dispatcher:   dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &routerFixture{
		handler:   handler,
		accounts:  accounts,
		states:    states,
		scheduler: scheduler,
		issuer:    issuer,
	}
}

func (f *routerFixture) bearer(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := f.issuer.Exchange("admin-key", userID)
	if err != nil {
		t.Fatalf("failed to issue test token: %v", err)
	}
	return token
}

func (f *routerFixture) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeAccount(t *testing.T, recorder *httptest.ResponseRecorder) accountResponsePayload {
	t.Helper()
	var payload accountResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode account payload: %v", err)
	}
	return payload
}

func TestTokenExchangeEndpoint(t *testing.T) {
	fixture := mustRouter(t)

	recorder := fixture.request(t, http.MethodPost, "/auth/token", "", gin.H{
		"api_key": "admin-key",
		"user_id": "user-1",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", recorder.Code, recorder.Body.String())
	}
	var payload tokenResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode token payload: %v", err)
	}
	if payload.AccessToken == "" || payload.TokenType != "Bearer" {
		t.Fatalf("unexpected token payload: %+v", payload)
	}

	recorder = fixture.request(t, http.MethodPost, "/auth/token", "", gin.H{
		"api_key": "wrong-key",
		"user_id": "user-1",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong api key, got %d", recorder.Code)
	}

	recorder = fixture.request(t, http.MethodPost, "/auth/token", "", gin.H{
		"api_key": "admin-key",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing user id, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	fixture := mustRouter(t)

	recorder := fixture.request(t, http.MethodGet, "/sync/accounts", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", recorder.Code)
	}

	recorder = fixture.request(t, http.MethodGet, "/sync/accounts", "not-a-jwt", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a malformed token, got %d", recorder.Code)
	}
}

func TestConnectStartsAccountTimer(t *testing.T) {
	fixture := mustRouter(t)
	token := fixture.bearer(t, "user-connect")

	recorder := fixture.request(t, http.MethodPost, "/sync/accounts", token, gin.H{
		"credential":       "remote-token",
		"interval_minutes": 30,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", recorder.Code, recorder.Body.String())
	}
	payload := decodeAccount(t, recorder)
	if !payload.SyncEnabled || !payload.AutoSync {
		t.Fatalf("expected sync enabled after connect: %+v", payload)
	}
	if payload.IntervalMinutes != 30 {
		t.Fatalf("unexpected interval: %d", payload.IntervalMinutes)
	}
	if !payload.TimerRunning {
		t.Fatalf("expected the recurring timer to start on connect")
	}

	recorder = fixture.request(t, http.MethodPost, "/sync/accounts", token, gin.H{
		"credential": "",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing credential, got %d", recorder.Code)
	}
}

func TestGetStateDefaultsToFullImportSentinel(t *testing.T) {
	fixture := mustRouter(t)
	account, err := fixture.accounts.Connect(context.Background(), "user-state", "remote-token", 15)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	token := fixture.bearer(t, "user-state")

	recorder := fixture.request(t, http.MethodGet, "/sync/accounts/"+account.ID+"/state", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", recorder.Code, recorder.Body.String())
	}
	var payload stateResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode state payload: %v", err)
	}
	if payload.ResumptionToken != "*" {
		t.Fatalf("expected the full-import sentinel, got %q", payload.ResumptionToken)
	}
	if payload.Status != "idle" {
		t.Fatalf("unexpected status: %q", payload.Status)
	}
}

func TestManualRunEndpoint(t *testing.T) {
	fixture := mustRouter(t)
	account, err := fixture.accounts.Connect(context.Background(), "user-run", "remote-token", 15)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	token := fixture.bearer(t, "user-run")

	recorder := fixture.request(t, http.MethodPost, "/sync/accounts/"+account.ID+"/run", token, gin.H{
		"mode": "full",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", recorder.Code, recorder.Body.String())
	}
	var payload runResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode run payload: %v", err)
	}
	if payload.Status != "completed" || payload.Mode != "full" {
		t.Fatalf("unexpected run payload: %+v", payload)
	}
	if payload.TokenAfter != "tok-full" {
		t.Fatalf("expected the remote token persisted, got %q", payload.TokenAfter)
	}

	recorder = fixture.request(t, http.MethodPost, "/sync/accounts/"+account.ID+"/run", token, gin.H{
		"mode": "sideways",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown mode, got %d", recorder.Code)
	}
}

func TestManualRunRejectsConcurrentPass(t *testing.T) {
	fixture := mustRouter(t)
	account, err := fixture.accounts.Connect(context.Background(), "user-busy", "remote-token", 15)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if _, err := fixture.states.Ensure(context.Background(), account.ID); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	acquired, err := fixture.states.AcquireSyncing(context.Background(), account.ID)
	if err != nil || !acquired {
		t.Fatalf("failed to hold the status guard: acquired=%v err=%v", acquired, err)
	}
	token := fixture.bearer(t, "user-busy")

	recorder := fixture.request(t, http.MethodPost, "/sync/accounts/"+account.ID+"/run", token, gin.H{"mode": "full"})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 while a pass is running, got %d", recorder.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if payload["error"] != "pass_in_progress" {
		t.Fatalf("unexpected error code: %q", payload["error"])
	}
}

func TestManualRunRejectedWhenSyncDisabled(t *testing.T) {
	fixture := mustRouter(t)
	account, err := fixture.accounts.Connect(context.Background(), "user-off", "remote-token", 15)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := fixture.accounts.Disconnect(context.Background(), account.ID); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	token := fixture.bearer(t, "user-off")

	recorder := fixture.request(t, http.MethodPost, "/sync/accounts/"+account.ID+"/run", token, gin.H{"mode": "full"})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a disabled account, got %d", recorder.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if payload["error"] != "sync_disabled" {
		t.Fatalf("unexpected error code: %q", payload["error"])
	}
}

func TestDisconnectKeepsLocalData(t *testing.T) {
	fixture := mustRouter(t)
	account, err := fixture.accounts.Connect(context.Background(), "user-del", "remote-token", 15)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	token := fixture.bearer(t, "user-del")

	recorder := fixture.request(t, http.MethodDelete, "/sync/accounts/"+account.ID, token, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d body=%s", recorder.Code, recorder.Body.String())
	}

	recorder = fixture.request(t, http.MethodGet, "/sync/accounts", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected the account row to survive disconnect, got %d", recorder.Code)
	}
	payload := decodeAccount(t, recorder)
	if payload.SyncEnabled {
		t.Fatalf("expected sync disabled after disconnect")
	}
}

func TestAccountOwnershipEnforced(t *testing.T) {
	fixture := mustRouter(t)
	if _, err := fixture.accounts.Connect(context.Background(), "user-a", "remote-token-a", 15); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	other, err := fixture.accounts.Connect(context.Background(), "user-b", "remote-token-b", 15)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	token := fixture.bearer(t, "user-a")

	for _, path := range []string{
		"/sync/accounts/" + other.ID + "/state",
		"/sync/accounts/" + other.ID + "/history",
		"/sync/accounts/" + other.ID + "/conflicts",
	} {
		recorder := fixture.request(t, http.MethodGet, path, token, nil)
		if recorder.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 for another user's account, got %d", path, recorder.Code)
		}
	}
}

func TestHistoryAndConflictEndpoints(t *testing.T) {
	fixture := mustRouter(t)
	account, err := fixture.accounts.Connect(context.Background(), "user-hist", "remote-token", 15)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	token := fixture.bearer(t, "user-hist")

	recorder := fixture.request(t, http.MethodPost, "/sync/accounts/"+account.ID+"/run", token, gin.H{"mode": "full"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("run failed: %d body=%s", recorder.Code, recorder.Body.String())
	}

	recorder = fixture.request(t, http.MethodGet, "/sync/accounts/"+account.ID+"/history", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	var historyPayload struct {
		History []historyEntryPayload `json:"history"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &historyPayload); err != nil {
		t.Fatalf("failed to decode history payload: %v", err)
	}
	if len(historyPayload.History) != 1 {
		t.Fatalf("expected one history entry, got %d", len(historyPayload.History))
	}
	if historyPayload.History[0].Status != "completed" || historyPayload.History[0].TokenAfter != "tok-full" {
		t.Fatalf("unexpected history entry: %+v", historyPayload.History[0])
	}

	recorder = fixture.request(t, http.MethodGet, "/sync/accounts/"+account.ID+"/conflicts", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	var conflictPayloadBody struct {
		Conflicts []conflictPayload `json:"conflicts"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &conflictPayloadBody); err != nil {
		t.Fatalf("failed to decode conflict payload: %v", err)
	}
	if len(conflictPayloadBody.Conflicts) != 0 {
		t.Fatalf("expected no conflicts for an empty import, got %d", len(conflictPayloadBody.Conflicts))
	}
}

func TestUpdateSettingsControlsTimer(t *testing.T) {
	fixture := mustRouter(t)
	account, err := fixture.accounts.Connect(context.Background(), "user-set", "remote-token", 15)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	token := fixture.bearer(t, "user-set")

	recorder := fixture.request(t, http.MethodPatch, "/sync/accounts/"+account.ID+"/settings", token, gin.H{
		"interval_minutes": 45,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", recorder.Code, recorder.Body.String())
	}
	payload := decodeAccount(t, recorder)
	if payload.IntervalMinutes != 45 {
		t.Fatalf("unexpected interval: %d", payload.IntervalMinutes)
	}
	if !payload.TimerRunning {
		t.Fatalf("expected the timer restarted with the new interval")
	}

	recorder = fixture.request(t, http.MethodPatch, "/sync/accounts/"+account.ID+"/settings", token, gin.H{
		"auto_sync": false,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", recorder.Code, recorder.Body.String())
	}
	payload = decodeAccount(t, recorder)
	if payload.AutoSync {
		t.Fatalf("expected auto-sync disabled")
	}
	if payload.TimerRunning {
		t.Fatalf("expected the timer stopped when auto-sync is off")
	}
}

package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/taskwell/backend/internal/auth"
	"github.com/taskwell/backend/internal/syncer"
	"go.uber.org/zap"
)

const userIDContextKey = "taskwell_user_id"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingAccounts     = errors.New("account store dependency required")
	errMissingStates       = errors.New("state store dependency required")
	errMissingHistory      = errors.New("history store dependency required")
	errMissingConflicts    = errors.New("conflict store dependency required")
	errMissingScheduler    = errors.New("scheduler dependency required")
	errMissingDispatcher   = errors.New("dispatcher dependency required")
	errInvalidAuthorizatn  = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates API bearer tokens.
type TokenManager interface {
	Exchange(apiKey, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies collects everything the HTTP surface needs.
type Dependencies struct {
	TokenManager TokenManager
	Accounts     *syncer.AccountStore
	States       *syncer.StateStore
	History      *syncer.HistoryStore
	Conflicts    *syncer.ConflictStore
	Scheduler    *syncer.Scheduler
	Dispatcher   *syncer.Dispatcher
	Logger       *zap.Logger
}

// NewHTTPHandler wires the gin router: one public token-exchange route plus
// the bearer-protected sync account routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.States == nil {
		return nil, errMissingStates
	}
	if deps.History == nil {
		return nil, errMissingHistory
	}
	if deps.Conflicts == nil {
		return nil, errMissingConflicts
	}
	if deps.Scheduler == nil {
		return nil, errMissingScheduler
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		accounts:   deps.Accounts,
		states:     deps.States,
		history:    deps.History,
		conflicts:  deps.Conflicts,
		scheduler:  deps.Scheduler,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}

	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/sync/accounts", handler.handleConnect)
	protected.GET("/sync/accounts", handler.handleGetAccount)
	protected.DELETE("/sync/accounts/:id", handler.handleDisconnect)
	protected.PATCH("/sync/accounts/:id/settings", handler.handleUpdateSettings)
	protected.POST("/sync/accounts/:id/run", handler.handleRun)
	protected.GET("/sync/accounts/:id/state", handler.handleGetState)
	protected.GET("/sync/accounts/:id/history", handler.handleGetHistory)
	protected.GET("/sync/accounts/:id/conflicts", handler.handleGetConflicts)
	protected.GET("/sync/accounts/:id/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	accounts   *syncer.AccountStore
	states     *syncer.StateStore
	history    *syncer.HistoryStore
	conflicts  *syncer.ConflictStore
	scheduler  *syncer.Scheduler
	dispatcher *syncer.Dispatcher
	logger     *zap.Logger
}

type tokenRequestPayload struct {
	APIKey string `json:"api_key"`
	UserID string `json:"user_id"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.APIKey) == "" || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.Exchange(request.APIKey, request.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidAPIKey) {
			h.logger.Warn("api key rejected", zap.String("user_id", request.UserID))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type connectRequestPayload struct {
	Credential      string `json:"credential"`
	IntervalMinutes int    `json:"interval_minutes"`
}

type accountResponsePayload struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	SyncEnabled     bool   `json:"sync_enabled"`
	AutoSync        bool   `json:"auto_sync"`
	IntervalMinutes int    `json:"interval_minutes"`
	TimerRunning    bool   `json:"timer_running"`
}

func (h *httpHandler) accountPayload(account *syncer.Account) accountResponsePayload {
	return accountResponsePayload{
		ID:              account.ID,
		UserID:          account.UserID,
		SyncEnabled:     account.SyncEnabled,
		AutoSync:        account.AutoSync,
		IntervalMinutes: account.IntervalMinutes,
		TimerRunning:    h.scheduler.Running(account.ID),
	}
}

func (h *httpHandler) handleConnect(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request connectRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.accounts.Connect(c.Request.Context(), userID, request.Credential, request.IntervalMinutes)
	if err != nil {
		if errors.Is(err, syncer.ErrMissingCredential) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "credential_required"})
			return
		}
		h.logger.Error("failed to connect account", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "connect_failed"})
		return
	}

	h.scheduler.StartAccount(*account)
	c.JSON(http.StatusCreated, h.accountPayload(account))
}

func (h *httpHandler) handleGetAccount(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	account, err := h.accounts.GetByUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, syncer.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to load account", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, h.accountPayload(account))
}

// ownedAccount loads the path account and enforces that the bearer subject
// owns it. A nil return means the response has already been written.
func (h *httpHandler) ownedAccount(c *gin.Context) *syncer.Account {
	userID := c.GetString(userIDContextKey)
	account, err := h.accounts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, syncer.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return nil
		}
		h.logger.Error("failed to load account", zap.String("account_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return nil
	}
	if account.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return nil
	}
	return account
}

func (h *httpHandler) handleDisconnect(c *gin.Context) {
	account := h.ownedAccount(c)
	if account == nil {
		return
	}

	h.scheduler.StopAccount(account.ID)
	if err := h.accounts.Disconnect(c.Request.Context(), account.ID); err != nil {
		h.logger.Error("failed to disconnect account", zap.String("account_id", account.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disconnect_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type settingsRequestPayload struct {
	AutoSync        *bool   `json:"auto_sync"`
	IntervalMinutes *int    `json:"interval_minutes"`
	Credential      *string `json:"credential"`
}

func (h *httpHandler) handleUpdateSettings(c *gin.Context) {
	account := h.ownedAccount(c)
	if account == nil {
		return
	}

	var request settingsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.accounts.UpdateSettings(c.Request.Context(), account.ID, syncer.SettingsUpdate{
		AutoSync:        request.AutoSync,
		IntervalMinutes: request.IntervalMinutes,
		Credential:      request.Credential,
	})
	if err != nil {
		h.logger.Error("failed to update settings", zap.String("account_id", account.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}

	// Restart the timer so the new interval and eligibility take effect now
	// rather than on the next tick.
	if updated.SyncEnabled && updated.AutoSync {
		h.scheduler.StartAccount(*updated)
	} else {
		h.scheduler.StopAccount(updated.ID)
	}
	c.JSON(http.StatusOK, h.accountPayload(updated))
}

type runRequestPayload struct {
	Mode string `json:"mode"`
}

type runResponsePayload struct {
	Mode        string   `json:"mode"`
	Status      string   `json:"status"`
	TokenBefore string   `json:"token_before"`
	TokenAfter  string   `json:"token_after"`
	DurationMS  int64    `json:"duration_ms"`
	Stats       string   `json:"stats"`
	Errors      []string `json:"errors,omitempty"`
}

func (h *httpHandler) handleRun(c *gin.Context) {
	account := h.ownedAccount(c)
	if account == nil {
		return
	}
	if !account.SyncEnabled || account.Credential == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "sync_disabled"})
		return
	}

	var request runRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	mode := syncer.ModeIncremental
	switch strings.ToLower(strings.TrimSpace(request.Mode)) {
	case "", string(syncer.ModeIncremental):
	case string(syncer.ModeFull):
		mode = syncer.ModeFull
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_mode"})
		return
	}

	result, err := h.scheduler.SyncNow(c.Request.Context(), account.ID, mode)
	if err != nil {
		if errors.Is(err, syncer.ErrPassInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "pass_in_progress"})
			return
		}
		h.logger.Error("manual sync failed to start", zap.String("account_id", account.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}

	c.JSON(http.StatusOK, runResponsePayload{
		Mode:        string(result.Mode),
		Status:      string(result.Status),
		TokenBefore: result.TokenBefore,
		TokenAfter:  result.TokenAfter,
		DurationMS:  result.Duration.Milliseconds(),
		Stats:       result.Stats.JSON(),
		Errors:      result.Errors,
	})
}

type stateResponsePayload struct {
	AccountID           string     `json:"account_id"`
	ResumptionToken     string     `json:"resumption_token"`
	Status              string     `json:"status"`
	LastSyncAt          *time.Time `json:"last_sync_at"`
	NextSyncAt          *time.Time `json:"next_sync_at"`
	ErrorCount          int64      `json:"error_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	ErrorMessage        string     `json:"error_message,omitempty"`
}

func (h *httpHandler) handleGetState(c *gin.Context) {
	account := h.ownedAccount(c)
	if account == nil {
		return
	}

	state, err := h.states.Ensure(c.Request.Context(), account.ID)
	if err != nil {
		h.logger.Error("failed to load sync state", zap.String("account_id", account.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, stateResponsePayload{
		AccountID:           state.AccountID,
		ResumptionToken:     state.ResumptionToken,
		Status:              string(state.Status),
		LastSyncAt:          state.LastSyncAt,
		NextSyncAt:          state.NextSyncAt,
		ErrorCount:          state.ErrorCount,
		ConsecutiveFailures: state.ConsecutiveFailures,
		ErrorMessage:        state.ErrorMessage,
	})
}

type historyEntryPayload struct {
	ID          string    `json:"id"`
	Mode        string    `json:"mode"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
	TokenBefore string    `json:"token_before"`
	TokenAfter  string    `json:"token_after"`
	Stats       string    `json:"stats"`
	Errors      string    `json:"errors,omitempty"`
}

func (h *httpHandler) handleGetHistory(c *gin.Context) {
	account := h.ownedAccount(c)
	if account == nil {
		return
	}

	entries, err := h.history.List(c.Request.Context(), account.ID, 0)
	if err != nil {
		h.logger.Error("failed to load sync history", zap.String("account_id", account.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	payload := make([]historyEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, historyEntryPayload{
			ID:          entry.ID,
			Mode:        string(entry.Mode),
			Status:      string(entry.Status),
			StartedAt:   entry.StartedAt,
			DurationMS:  entry.DurationMillis,
			TokenBefore: entry.TokenBefore,
			TokenAfter:  entry.TokenAfter,
			Stats:       entry.StatsJSON,
			Errors:      entry.ErrorsJSON,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": payload})
}

type conflictPayload struct {
	ID             string    `json:"id"`
	EntityType     string    `json:"entity_type"`
	EntityID       string    `json:"entity_id"`
	ExternalID     string    `json:"external_id"`
	LocalSnapshot  string    `json:"local_snapshot"`
	RemoteSnapshot string    `json:"remote_snapshot"`
	Resolution     string    `json:"resolution"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

func (h *httpHandler) handleGetConflicts(c *gin.Context) {
	account := h.ownedAccount(c)
	if account == nil {
		return
	}

	conflicts, err := h.conflicts.List(c.Request.Context(), account.ID, 0)
	if err != nil {
		h.logger.Error("failed to load conflicts", zap.String("account_id", account.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	payload := make([]conflictPayload, 0, len(conflicts))
	for _, conflict := range conflicts {
		payload = append(payload, conflictPayload{
			ID:             conflict.ID,
			EntityType:     conflict.EntityType,
			EntityID:       conflict.EntityID,
			ExternalID:     conflict.ExternalID,
			LocalSnapshot:  conflict.LocalSnapshotJSON,
			RemoteSnapshot: conflict.RemoteSnapshotJSON,
			Resolution:     string(conflict.Resolution),
			ResolvedAt:     conflict.ResolvedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": payload})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorizatn.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorizatn.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

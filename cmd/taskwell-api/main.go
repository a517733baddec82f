package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/taskwell/backend/internal/auth"
	"github.com/taskwell/backend/internal/config"
	"github.com/taskwell/backend/internal/database"
	"github.com/taskwell/backend/internal/logging"
	"github.com/taskwell/backend/internal/remote"
	"github.com/taskwell/backend/internal/server"
	"github.com/taskwell/backend/internal/syncer"
	"github.com/taskwell/backend/internal/taskstore"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskwell-api",
		Short: "Taskwell synchronization backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("remote-base-url", defaults.GetString("remote.base_url"), "Remote REST endpoint base URL")
	cmd.PersistentFlags().String("remote-sync-url", defaults.GetString("remote.sync_url"), "Remote incremental sync endpoint URL")
	cmd.PersistentFlags().Int("sync-interval-minutes", defaults.GetInt("sync.interval_minutes"), "Default sync interval in minutes")
	cmd.PersistentFlags().Int("sync-rate-limit", defaults.GetInt("sync.rate_limit"), "Maximum remote API calls per rolling minute window")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "API token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "API token signing secret (overrides env)")
	cmd.PersistentFlags().String("admin-api-key", "", "Admin API key for token exchange (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "remote.sync_url", "remote-sync-url")
	bindFlag(cmd, "sync.interval_minutes", "sync-interval-minutes")
	bindFlag(cmd, "sync.rate_limit", "sync-rate-limit")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.admin_api_key", "admin-api-key")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningKey),
		AdminAPIKey:   appConfig.AdminAPIKey,
		Issuer:        appConfig.AuthIssuer,
		Audience:      appConfig.AuthAudience,
		TokenTTL:      appConfig.TokenTTL,
	})

	tasks, err := taskstore.NewStore(taskstore.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: taskstore.NewUUIDProvider(),
	})
	if err != nil {
		return err
	}

	ids := syncer.NewUUIDProvider()
	accounts, err := syncer.NewAccountStore(syncer.AccountStoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids,
	})
	if err != nil {
		return err
	}
	states, err := syncer.NewStateStore(syncer.StateStoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids,
	})
	if err != nil {
		return err
	}
	history, err := syncer.NewHistoryStore(db, ids)
	if err != nil {
		return err
	}
	conflicts, err := syncer.NewConflictStore(db, ids)
	if err != nil {
		return err
	}

	ledger := syncer.NewRateLedger(0)
	dispatcher := syncer.NewDispatcher()

	clientFactory := func(account syncer.Account) (syncer.RemoteAPI, error) {
		return remote.NewClient(remote.ClientConfig{
			BaseURL:   appConfig.RemoteBaseURL,
			SyncURL:   appConfig.RemoteSyncURL,
			Token:     account.Credential,
			AccountID: account.ID,
			Recorder:  ledger,
		})
	}

	orchestrator, err := syncer.NewOrchestrator(syncer.OrchestratorConfig{
		Database:   db,
		Tasks:      tasks,
		States:     states,
		History:    history,
		Conflicts:  conflicts,
		Clients:    clientFactory,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	scheduler, err := syncer.NewScheduler(syncer.SchedulerConfig{
		Accounts:  accounts,
		States:    states,
		Runner:    orchestrator,
		Ledger:    ledger,
		RateLimit: appConfig.SyncRateLimit,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	// Any row stuck in syncing belongs to a pass interrupted by a crash. The
	// old token is still persisted, so failing the row lets the scheduler
	// retry cleanly.
	released, err := states.ReleaseStale(ctx)
	if err != nil {
		return err
	}
	if released > 0 {
		logger.Warn("released stale sync passes", zap.Int64("count", released))
	}

	if err := scheduler.StartAll(ctx); err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Accounts:     accounts,
		States:       states,
		History:      history,
		Conflicts:    conflicts,
		Scheduler:    scheduler,
		Dispatcher:   dispatcher,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		scheduler.StopAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		scheduler.StopAll()
		return err
	}
}

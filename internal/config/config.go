package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "TASKWELL"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "taskwell.db"
	defaultLogLevel        = "info"
	defaultRemoteBaseURL   = "https://api.todoist.com/rest/v2"
	defaultRemoteSyncURL   = "https://api.todoist.com/sync/v9/sync"
	defaultSyncIntervalMin = 15
	defaultRateLimit       = 400
	defaultTokenTTLMinutes = 30
	defaultAuthIssuer      = "taskwell-auth"
	defaultAuthAudience    = "taskwell-api"
)

// AppConfig captures runtime configuration for the API server and sync engine.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	AuthSigningKey  string
	AuthIssuer      string
	AuthAudience    string
	AdminAPIKey     string
	TokenTTL        time.Duration
	RemoteBaseURL   string
	RemoteSyncURL   string
	SyncIntervalMin int
	SyncRateLimit   int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("remote.base_url", defaultRemoteBaseURL)
	configViper.SetDefault("remote.sync_url", defaultRemoteSyncURL)
	configViper.SetDefault("sync.interval_minutes", defaultSyncIntervalMin)
	configViper.SetDefault("sync.rate_limit", defaultRateLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		AuthSigningKey:  configViper.GetString("auth.signing_secret"),
		AuthIssuer:      configViper.GetString("auth.issuer"),
		AuthAudience:    configViper.GetString("auth.audience"),
		AdminAPIKey:     configViper.GetString("auth.admin_api_key"),
		TokenTTL:        time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		RemoteBaseURL:   configViper.GetString("remote.base_url"),
		RemoteSyncURL:   configViper.GetString("remote.sync_url"),
		SyncIntervalMin: configViper.GetInt("sync.interval_minutes"),
		SyncRateLimit:   configViper.GetInt("sync.rate_limit"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningKey) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AdminAPIKey) == "" {
		return fmt.Errorf("auth.admin_api_key is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RemoteBaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if strings.TrimSpace(c.RemoteSyncURL) == "" {
		return fmt.Errorf("remote.sync_url is required")
	}
	if c.SyncIntervalMin <= 0 {
		return fmt.Errorf("sync.interval_minutes must be positive")
	}
	if c.SyncRateLimit <= 0 {
		return fmt.Errorf("sync.rate_limit must be positive")
	}
	return nil
}

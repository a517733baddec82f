package syncer

import (
	"encoding/json"
	"time"
)

// Status enumerates the sync state machine for one account. A pass may only
// start while the status is not "syncing"; that single guard provides the
// per-account mutual exclusion.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// PassMode selects between a full snapshot pass and an incremental delta pass.
type PassMode string

const (
	ModeFull        PassMode = "full"
	ModeIncremental PassMode = "incremental"
)

// Resolution names the winner of a detected conflict.
type Resolution string

const (
	ResolutionLocalWins  Resolution = "local_wins"
	ResolutionRemoteWins Resolution = "remote_wins"
)

// Account identifies one user's connection to the remote service. Disconnect
// clears the credential and disables sync but keeps the row and all local
// data.
type Account struct {
	ID              string    `gorm:"column:id;primaryKey;size:190;not null"`
	UserID          string    `gorm:"column:user_id;size:190;not null;uniqueIndex"`
	Credential      string    `gorm:"column:credential;size:512"`
	SyncEnabled     bool      `gorm:"column:sync_enabled;not null;default:false"`
	AutoSync        bool      `gorm:"column:auto_sync;not null;default:false"`
	IntervalMinutes int       `gorm:"column:interval_minutes;not null;default:15"`
	CreatedAt       time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Account) TableName() string {
	return "sync_accounts"
}

// State is the durable per-account sync record. ErrorCount accumulates over
// the account's lifetime; ConsecutiveFailures resets to zero on any success.
type State struct {
	ID                  string     `gorm:"column:id;primaryKey;size:190;not null"`
	AccountID           string     `gorm:"column:account_id;size:190;not null;uniqueIndex"`
	ResumptionToken     string     `gorm:"column:resumption_token;size:512;not null;default:'*'"`
	Status              Status     `gorm:"column:status;size:32;not null;default:'idle'"`
	LastSyncAt          *time.Time `gorm:"column:last_sync_at"`
	NextSyncAt          *time.Time `gorm:"column:next_sync_at"`
	ErrorCount          int64      `gorm:"column:error_count;not null;default:0"`
	ConsecutiveFailures int        `gorm:"column:consecutive_failures;not null;default:0"`
	ErrorMessage        string     `gorm:"column:error_message;type:text"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (State) TableName() string {
	return "sync_states"
}

// HistoryEntry is one append-only row per completed or failed pass.
type HistoryEntry struct {
	ID             string    `gorm:"column:id;primaryKey;size:190;not null"`
	AccountID      string    `gorm:"column:account_id;size:190;not null;index:idx_history_account_time,priority:1"`
	Mode           PassMode  `gorm:"column:mode;size:16;not null"`
	Status         Status    `gorm:"column:status;size:32;not null"`
	StartedAt      time.Time `gorm:"column:started_at;not null;index:idx_history_account_time,priority:2"`
	DurationMillis int64     `gorm:"column:duration_ms;not null"`
	TokenBefore    string    `gorm:"column:token_before;size:512;not null"`
	TokenAfter     string    `gorm:"column:token_after;size:512;not null"`
	StatsJSON      string    `gorm:"column:stats_json;type:text;not null"`
	ErrorsJSON     string    `gorm:"column:errors_json;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (HistoryEntry) TableName() string {
	return "sync_history"
}

// Conflict is one append-only audit row per detected conflict, regardless of
// which side won. It is the only way an operator can recover from a wrong
// resolution.
type Conflict struct {
	ID                 string     `gorm:"column:id;primaryKey;size:190;not null"`
	AccountID          string     `gorm:"column:account_id;size:190;not null;index:idx_conflicts_account_time,priority:1"`
	EntityType         string     `gorm:"column:entity_type;size:32;not null"`
	EntityID           string     `gorm:"column:entity_id;size:190;not null"`
	ExternalID         string     `gorm:"column:external_id;size:190;not null"`
	LocalSnapshotJSON  string     `gorm:"column:local_snapshot_json;type:text;not null"`
	RemoteSnapshotJSON string     `gorm:"column:remote_snapshot_json;type:text;not null"`
	Resolution         Resolution `gorm:"column:resolution;size:32;not null"`
	ResolvedAt         time.Time  `gorm:"column:resolved_at;not null;index:idx_conflicts_account_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Conflict) TableName() string {
	return "sync_conflicts"
}

// ClassStats counts pull outcomes for one entity class.
type ClassStats struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	Deferred int `json:"deferred"`
}

// PassStats aggregates what one pass did, serialized into the history row.
type PassStats struct {
	Projects     ClassStats `json:"projects"`
	Sections     ClassStats `json:"sections"`
	Labels       ClassStats `json:"labels"`
	Tasks        ClassStats `json:"tasks"`
	Comments     ClassStats `json:"comments"`
	Conflicts    int        `json:"conflicts"`
	Pushed       int        `json:"pushed"`
	PushFailures int        `json:"push_failures"`
}

// JSON serializes the stats for storage; failures degrade to an empty object.
func (s PassStats) JSON() string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

// IDProvider issues identifiers for newly created rows.
type IDProvider interface {
	NewID() (string, error)
}

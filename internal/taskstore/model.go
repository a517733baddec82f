package taskstore

import "time"

// EntityType names one class of locally stored resource. The fixed
// dependency order used during pulls is projects, sections, labels,
// tasks, comments.
type EntityType string

const (
	EntityProject EntityType = "project"
	EntitySection EntityType = "section"
	EntityLabel   EntityType = "label"
	EntityTask    EntityType = "task"
	EntityComment EntityType = "comment"
)

// Project models a locally stored project. ExternalID carries the remote
// service identifier once the row has been matched or mirrored; at most one
// row per user may hold a given external id.
//
// Timestamp columns are store-managed on every model here: GORM's automatic
// created_at/updated_at tracking is disabled because a remote apply must
// leave updated_at exactly equal to last_remote_sync_at, or the push query
// would pick the row back up.
type Project struct {
	ID               string     `gorm:"column:id;primaryKey;size:190;not null"`
	UserID           string     `gorm:"column:user_id;size:190;not null;index;uniqueIndex:idx_projects_user_external,priority:1"`
	Name             string     `gorm:"column:name;size:320;not null"`
	Color            string     `gorm:"column:color;size:64"`
	IsFavorite       bool       `gorm:"column:is_favorite;not null;default:false"`
	IsArchived       bool       `gorm:"column:is_archived;not null;default:false"`
	ExternalID       *string    `gorm:"column:external_id;size:190;uniqueIndex:idx_projects_user_external,priority:2"`
	LastRemoteSyncAt *time.Time `gorm:"column:last_remote_sync_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Project) TableName() string {
	return "projects"
}

// Section models a grouping of tasks inside a project.
type Section struct {
	ID               string     `gorm:"column:id;primaryKey;size:190;not null"`
	UserID           string     `gorm:"column:user_id;size:190;not null;index;uniqueIndex:idx_sections_user_external,priority:1"`
	ProjectID        *string    `gorm:"column:project_id;size:190;index"`
	Name             string     `gorm:"column:name;size:320;not null"`
	ExternalID       *string    `gorm:"column:external_id;size:190;uniqueIndex:idx_sections_user_external,priority:2"`
	LastRemoteSyncAt *time.Time `gorm:"column:last_remote_sync_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Section) TableName() string {
	return "sections"
}

// Label models a user tag applied to tasks.
type Label struct {
	ID               string     `gorm:"column:id;primaryKey;size:190;not null"`
	UserID           string     `gorm:"column:user_id;size:190;not null;index;uniqueIndex:idx_labels_user_external,priority:1"`
	Name             string     `gorm:"column:name;size:320;not null"`
	Color            string     `gorm:"column:color;size:64"`
	ExternalID       *string    `gorm:"column:external_id;size:190;uniqueIndex:idx_labels_user_external,priority:2"`
	LastRemoteSyncAt *time.Time `gorm:"column:last_remote_sync_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Label) TableName() string {
	return "labels"
}

// Task models a locally stored task. Priority uses the local convention
// where 1 is the highest priority. DueDate holds a calendar date in
// 2006-01-02 form; DueTime, when present, holds a wall-clock instant in
// RFC 3339 form.
type Task struct {
	ID               string     `gorm:"column:id;primaryKey;size:190;not null"`
	UserID           string     `gorm:"column:user_id;size:190;not null;index;uniqueIndex:idx_tasks_user_external,priority:1"`
	ProjectID        *string    `gorm:"column:project_id;size:190;index"`
	SectionID        *string    `gorm:"column:section_id;size:190"`
	ParentID         *string    `gorm:"column:parent_id;size:190"`
	Content          string     `gorm:"column:content;type:text;not null"`
	Description      string     `gorm:"column:description;type:text"`
	Priority         int        `gorm:"column:priority;not null;default:4"`
	DueDate          *string    `gorm:"column:due_date;size:10"`
	DueTime          *string    `gorm:"column:due_time;size:40"`
	LabelNames       string     `gorm:"column:label_names;type:text"`
	Completed        bool       `gorm:"column:completed;not null;default:false"`
	CompletedAt      *time.Time `gorm:"column:completed_at"`
	RemoteCompleted  bool       `gorm:"column:remote_completed;not null;default:false"`
	ExternalID       *string    `gorm:"column:external_id;size:190;uniqueIndex:idx_tasks_user_external,priority:2"`
	LastRemoteSyncAt *time.Time `gorm:"column:last_remote_sync_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Task) TableName() string {
	return "tasks"
}

// Comment models a note attached to a task.
type Comment struct {
	ID               string     `gorm:"column:id;primaryKey;size:190;not null"`
	UserID           string     `gorm:"column:user_id;size:190;not null;index;uniqueIndex:idx_comments_user_external,priority:1"`
	TaskID           *string    `gorm:"column:task_id;size:190;index"`
	Content          string     `gorm:"column:content;type:text;not null"`
	PostedAt         time.Time  `gorm:"column:posted_at;not null"`
	ExternalID       *string    `gorm:"column:external_id;size:190;uniqueIndex:idx_comments_user_external,priority:2"`
	LastRemoteSyncAt *time.Time `gorm:"column:last_remote_sync_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// Backup is an immutable snapshot of a user's local data, written before the
// first full import so a botched import can be recovered by replaying it.
type Backup struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index:idx_backups_user_tag,priority:1"`
	Tag         string    `gorm:"column:tag;size:64;not null;index:idx_backups_user_tag,priority:2"`
	PayloadJSON string    `gorm:"column:payload_json;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Backup) TableName() string {
	return "backups"
}

// BackupTagPreImport marks the snapshot taken before the first full import.
const BackupTagPreImport = "pre_import"

package remote

import "encoding/json"

// FullSyncToken is the sentinel token requesting the entire dataset rather
// than a delta.
const FullSyncToken = "*"

// Due carries the remote service's split due payload: a calendar date plus
// an optional concrete datetime.
type Due struct {
	Date     string `json:"date,omitempty"`
	Datetime string `json:"datetime,omitempty"`
}

// Project is the remote wire shape for a project resource.
type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Color      string `json:"color,omitempty"`
	IsFavorite bool   `json:"is_favorite,omitempty"`
	IsArchived bool   `json:"is_archived,omitempty"`
	IsDeleted  bool   `json:"is_deleted,omitempty"`
}

// Section is the remote wire shape for a section resource.
type Section struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	Name      string `json:"name"`
	IsDeleted bool   `json:"is_deleted,omitempty"`
}

// Label is the remote wire shape for a label resource.
type Label struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	IsDeleted bool   `json:"is_deleted,omitempty"`
}

// Task is the remote wire shape for a task resource. The incremental
// endpoint calls these "items". Priority uses the remote convention where
// 4 is the highest priority.
type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id,omitempty"`
	SectionID   string   `json:"section_id,omitempty"`
	ParentID    string   `json:"parent_id,omitempty"`
	Content     string   `json:"content"`
	Description string   `json:"description,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	Due         *Due     `json:"due,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Checked     bool     `json:"checked,omitempty"`
	CompletedAt string   `json:"completed_at,omitempty"`
	IsDeleted   bool     `json:"is_deleted,omitempty"`
}

// Comment is the remote wire shape for a comment resource. The incremental
// endpoint calls these "notes".
type Comment struct {
	ID        string `json:"id"`
	ItemID    string `json:"item_id,omitempty"`
	Content   string `json:"content"`
	PostedAt  string `json:"posted_at,omitempty"`
	IsDeleted bool   `json:"is_deleted,omitempty"`
}

// User is the remote account owner payload returned by full syncs.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// SyncRequest is the body posted to the incremental sync endpoint.
type SyncRequest struct {
	SyncToken     string    `json:"sync_token"`
	ResourceTypes []string  `json:"resource_types,omitempty"`
	Commands      []Command `json:"commands,omitempty"`
}

// SyncResponse is the incremental sync endpoint payload. TempIDMapping maps
// locally generated temporary ids from create commands to the real remote
// ids the service assigned.
type SyncResponse struct {
	SyncToken     string                     `json:"sync_token"`
	FullSync      bool                       `json:"full_sync,omitempty"`
	Projects      []Project                  `json:"projects,omitempty"`
	Items         []Task                     `json:"items,omitempty"`
	Labels        []Label                    `json:"labels,omitempty"`
	Sections      []Section                  `json:"sections,omitempty"`
	Notes         []Comment                  `json:"notes,omitempty"`
	User          *User                      `json:"user,omitempty"`
	TempIDMapping map[string]string          `json:"temp_id_mapping,omitempty"`
	SyncStatus    map[string]json.RawMessage `json:"sync_status,omitempty"`
}

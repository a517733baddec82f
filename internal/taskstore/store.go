package taskstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("taskstore: database handle is required")
	errMissingIDProvider = errors.New("taskstore: id provider is required")
	errMissingUserID     = errors.New("taskstore: user identifier is required")
)

// IDProvider issues identifiers for newly created rows.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies required by the task store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Store is the gorm-backed local store the sync engine writes through. All
// remote-applied writes go through the ApplyRemote* methods, which stamp
// LastRemoteSyncAt together with UpdatedAt so the push query does not pick
// them up again.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
	ids   IDProvider
}

// NewStore constructs a Store after validating its dependencies.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, clock: clock, ids: cfg.IDProvider}, nil
}

// Transaction runs fn against a Store bound to a single database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(*Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.WithTx(tx))
	})
}

// WithTx returns a Store bound to the provided transaction handle, for
// callers that coordinate a transaction across multiple stores.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, clock: s.clock, ids: s.ids}
}

// LocalID resolves a remote external id to the local row id for the given
// entity class. The second return reports whether a matching row exists.
func (s *Store) LocalID(ctx context.Context, userID string, entity EntityType, externalID string) (string, bool, error) {
	if userID == "" {
		return "", false, errMissingUserID
	}
	var table string
	switch entity {
	case EntityProject:
		table = Project{}.TableName()
	case EntitySection:
		table = Section{}.TableName()
	case EntityLabel:
		table = Label{}.TableName()
	case EntityTask:
		table = Task{}.TableName()
	case EntityComment:
		table = Comment{}.TableName()
	default:
		return "", false, fmt.Errorf("taskstore: unknown entity type %q", entity)
	}

	var id string
	err := s.db.WithContext(ctx).Table(table).
		Select("id").
		Where("user_id = ? AND external_id = ?", userID, externalID).
		Take(&id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *Store) assignID(current string) (string, error) {
	if current != "" {
		return current, nil
	}
	return s.ids.NewID()
}

// --- projects ---

// CreateProject inserts a new project, assigning an id when absent.
func (s *Store) CreateProject(ctx context.Context, project *Project) error {
	id, err := s.assignID(project.ID)
	if err != nil {
		return err
	}
	project.ID = id
	now := s.clock().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now
	return s.db.WithContext(ctx).Create(project).Error
}

// SaveProject persists a local edit, refreshing UpdatedAt.
func (s *Store) SaveProject(ctx context.Context, project *Project) error {
	project.UpdatedAt = s.clock().UTC()
	return s.db.WithContext(ctx).Save(project).Error
}

// ApplyRemoteProject overwrites a row with remote data, stamping both
// UpdatedAt and LastRemoteSyncAt to the same instant.
func (s *Store) ApplyRemoteProject(ctx context.Context, project *Project, at time.Time) error {
	at = at.UTC()
	project.UpdatedAt = at
	project.LastRemoteSyncAt = &at
	if project.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return err
		}
		project.ID = id
		project.CreatedAt = at
	}
	return s.db.WithContext(ctx).Save(project).Error
}

// GetProject loads a project by local id; returns (nil, nil) when absent.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var project Project
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// FindProjectByExternalID returns the project matched by the remote id, or
// (nil, nil) when no row carries it yet.
func (s *Store) FindProjectByExternalID(ctx context.Context, userID, externalID string) (*Project, error) {
	var project Project
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND external_id = ?", userID, externalID).
		Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// ListProjects returns every project for the user.
func (s *Store) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	var projects []Project
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&projects).Error
	return projects, err
}

// ListChangedProjects returns previously synced projects edited locally
// since their last confirmed sync.
func (s *Store) ListChangedProjects(ctx context.Context, userID string) ([]Project, error) {
	var projects []Project
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND external_id IS NOT NULL AND updated_at > last_remote_sync_at", userID).
		Find(&projects).Error
	return projects, err
}

// ListUnsyncedProjects returns local projects never mirrored to the remote.
func (s *Store) ListUnsyncedProjects(ctx context.Context, userID string) ([]Project, error) {
	var projects []Project
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND external_id IS NULL", userID).
		Find(&projects).Error
	return projects, err
}

// StampProjectSynced records a successful push for one row.
func (s *Store) StampProjectSynced(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Project{}).
		Where("id = ?", id).
		Update("last_remote_sync_at", at.UTC()).Error
}

// SetProjectExternalID binds a freshly mirrored project to its remote id.
func (s *Store) SetProjectExternalID(ctx context.Context, id, externalID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Project{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"external_id":         externalID,
			"last_remote_sync_at": at.UTC(),
		}).Error
}

// DeleteProject removes a project row.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&Project{}).Error
}

// --- sections ---

// ApplyRemoteSection overwrites or creates a section from remote data.
func (s *Store) ApplyRemoteSection(ctx context.Context, section *Section, at time.Time) error {
	at = at.UTC()
	section.UpdatedAt = at
	section.LastRemoteSyncAt = &at
	if section.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return err
		}
		section.ID = id
		section.CreatedAt = at
	}
	return s.db.WithContext(ctx).Save(section).Error
}

// FindSectionByExternalID returns the section matched by the remote id.
func (s *Store) FindSectionByExternalID(ctx context.Context, userID, externalID string) (*Section, error) {
	var section Section
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND external_id = ?", userID, externalID).
		Take(&section).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &section, nil
}

// DeleteSection removes a section row.
func (s *Store) DeleteSection(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&Section{}).Error
}

// --- labels ---

// ApplyRemoteLabel overwrites or creates a label from remote data.
func (s *Store) ApplyRemoteLabel(ctx context.Context, label *Label, at time.Time) error {
	at = at.UTC()
	label.UpdatedAt = at
	label.LastRemoteSyncAt = &at
	if label.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return err
		}
		label.ID = id
		label.CreatedAt = at
	}
	return s.db.WithContext(ctx).Save(label).Error
}

// FindLabelByExternalID returns the label matched by the remote id.
func (s *Store) FindLabelByExternalID(ctx context.Context, userID, externalID string) (*Label, error) {
	var label Label
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND external_id = ?", userID, externalID).
		Take(&label).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &label, nil
}

// DeleteLabel removes a label row.
func (s *Store) DeleteLabel(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&Label{}).Error
}

// --- tasks ---

// CreateTask inserts a new task, assigning an id when absent.
func (s *Store) CreateTask(ctx context.Context, task *Task) error {
	id, err := s.assignID(task.ID)
	if err != nil {
		return err
	}
	task.ID = id
	now := s.clock().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	return s.db.WithContext(ctx).Create(task).Error
}

// SaveTask persists a local edit, refreshing UpdatedAt.
func (s *Store) SaveTask(ctx context.Context, task *Task) error {
	task.UpdatedAt = s.clock().UTC()
	return s.db.WithContext(ctx).Save(task).Error
}

// ApplyRemoteTask overwrites or creates a task from remote data.
func (s *Store) ApplyRemoteTask(ctx context.Context, task *Task, at time.Time) error {
	at = at.UTC()
	task.UpdatedAt = at
	task.LastRemoteSyncAt = &at
	if task.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return err
		}
		task.ID = id
		task.CreatedAt = at
	}
	return s.db.WithContext(ctx).Save(task).Error
}

// GetTask loads a task by local id; returns (nil, nil) when absent.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// FindTaskByExternalID returns the task matched by the remote id.
func (s *Store) FindTaskByExternalID(ctx context.Context, userID, externalID string) (*Task, error) {
	var task Task
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND external_id = ?", userID, externalID).
		Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns every task for the user.
func (s *Store) ListTasks(ctx context.Context, userID string) ([]Task, error) {
	var tasks []Task
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

// ListChangedTasks returns previously synced tasks edited locally since
// their last confirmed sync.
func (s *Store) ListChangedTasks(ctx context.Context, userID string) ([]Task, error) {
	var tasks []Task
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND external_id IS NOT NULL AND updated_at > last_remote_sync_at", userID).
		Find(&tasks).Error
	return tasks, err
}

// ListUnsyncedTasks returns local tasks never mirrored to the remote.
func (s *Store) ListUnsyncedTasks(ctx context.Context, userID string) ([]Task, error) {
	var tasks []Task
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND external_id IS NULL", userID).
		Find(&tasks).Error
	return tasks, err
}

// StampTaskSynced records a successful push for one row.
func (s *Store) StampTaskSynced(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Task{}).
		Where("id = ?", id).
		Update("last_remote_sync_at", at.UTC()).Error
}

// StampTaskPushed records a successful push that also changed the remote
// completion state, refreshing the last-known remote flag.
func (s *Store) StampTaskPushed(ctx context.Context, id string, completed bool, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_remote_sync_at": at.UTC(),
			"remote_completed":    completed,
		}).Error
}

// SetTaskExternalID binds a freshly mirrored task to its remote id.
func (s *Store) SetTaskExternalID(ctx context.Context, id, externalID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"external_id":         externalID,
			"last_remote_sync_at": at.UTC(),
		}).Error
}

// DeleteTask removes a task row.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&Task{}).Error
}

// --- comments ---

// ApplyRemoteComment overwrites or creates a comment from remote data.
func (s *Store) ApplyRemoteComment(ctx context.Context, comment *Comment, at time.Time) error {
	at = at.UTC()
	comment.UpdatedAt = at
	comment.LastRemoteSyncAt = &at
	if comment.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return err
		}
		comment.ID = id
		comment.CreatedAt = at
	}
	return s.db.WithContext(ctx).Save(comment).Error
}

// FindCommentByExternalID returns the comment matched by the remote id.
func (s *Store) FindCommentByExternalID(ctx context.Context, userID, externalID string) (*Comment, error) {
	var comment Comment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND external_id = ?", userID, externalID).
		Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// DeleteComment removes a comment row.
func (s *Store) DeleteComment(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&Comment{}).Error
}

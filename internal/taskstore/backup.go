package taskstore

import (
	"context"
	"encoding/json"
)

type backupPayload struct {
	Projects []Project `json:"projects"`
	Labels   []Label   `json:"labels"`
	Tasks    []Task    `json:"tasks"`
}

// SnapshotBackup serializes all of the user's projects, labels and tasks
// into an append-only backup row. The engine only guarantees the snapshot
// exists; restoring it is a manual operator procedure.
func (s *Store) SnapshotBackup(ctx context.Context, userID, tag string) error {
	if userID == "" {
		return errMissingUserID
	}

	payload := backupPayload{}
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&payload.Projects).Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&payload.Labels).Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&payload.Tasks).Error; err != nil {
		return err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return err
	}

	backup := Backup{
		ID:          id,
		UserID:      userID,
		Tag:         tag,
		PayloadJSON: string(encoded),
		CreatedAt:   s.clock().UTC(),
	}
	return s.db.WithContext(ctx).Create(&backup).Error
}

// HasBackup reports whether a backup with the given tag already exists for
// the user.
func (s *Store) HasBackup(ctx context.Context, userID, tag string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Backup{}).
		Where("user_id = ? AND tag = ?", userID, tag).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

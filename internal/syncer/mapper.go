package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/taskwell/backend/internal/remote"
	"github.com/taskwell/backend/internal/taskstore"
)

// remotePriorityMax is the top of the remote priority range, where the
// highest number is the highest priority. Locally the lowest number is the
// highest priority, so values invert through (max+1) - value.
const remotePriorityMax = 4

// MapOutcome tags what happened to one pulled row. Deferred rows reference a
// parent the local store has not seen yet; they resolve naturally on a later
// pass once the parent arrives.
type MapOutcome string

const (
	OutcomeCreated  MapOutcome = "created"
	OutcomeUpdated  MapOutcome = "updated"
	OutcomeDeleted  MapOutcome = "deleted"
	OutcomeDeferred MapOutcome = "deferred"
	OutcomeSkipped  MapOutcome = "skipped"
	OutcomeFailed   MapOutcome = "failed"
)

// RefResolver resolves a remote external id to the local row id for an
// entity class. Satisfied by *taskstore.Store.
type RefResolver interface {
	LocalID(ctx context.Context, userID string, entity taskstore.EntityType, externalID string) (string, bool, error)
}

// LocalPriority converts a remote priority value to the local convention.
func LocalPriority(remotePriority int) int {
	if remotePriority < 1 {
		remotePriority = 1
	}
	if remotePriority > remotePriorityMax {
		remotePriority = remotePriorityMax
	}
	return (remotePriorityMax + 1) - remotePriority
}

// RemotePriority converts a local priority value back to the remote
// convention. The inversion is its own inverse, so values round-trip.
func RemotePriority(localPriority int) int {
	return LocalPriority(localPriority)
}

// DueFromRemote splits the remote due payload into the local
// (dueDate, dueTime) pair.
func DueFromRemote(due *remote.Due) (*string, *string) {
	if due == nil {
		return nil, nil
	}
	var dueDate, dueTime *string
	if strings.TrimSpace(due.Date) != "" {
		value := due.Date
		dueDate = &value
	}
	if strings.TrimSpace(due.Datetime) != "" {
		value := due.Datetime
		dueTime = &value
		if dueDate == nil {
			if parsed, err := time.Parse(time.RFC3339, due.Datetime); err == nil {
				date := parsed.Format("2006-01-02")
				dueDate = &date
			}
		}
	}
	return dueDate, dueTime
}

// DueToRemote composes the local (dueDate, dueTime) pair back into the
// remote due payload. Returns nil when neither half is set.
func DueToRemote(dueDate, dueTime *string) *remote.Due {
	if dueDate == nil && dueTime == nil {
		return nil
	}
	due := &remote.Due{}
	if dueDate != nil {
		due.Date = *dueDate
	}
	if dueTime != nil {
		due.Datetime = *dueTime
	}
	return due
}

// ProjectFromRemote maps a remote project onto a local row, preserving local
// identity fields when an existing row is supplied.
func ProjectFromRemote(userID string, remoteProject remote.Project, existing *taskstore.Project) taskstore.Project {
	project := taskstore.Project{}
	if existing != nil {
		project = *existing
	}
	externalID := remoteProject.ID
	project.UserID = userID
	project.ExternalID = &externalID
	project.Name = remoteProject.Name
	project.Color = remoteProject.Color
	project.IsFavorite = remoteProject.IsFavorite
	project.IsArchived = remoteProject.IsArchived
	return project
}

// LabelFromRemote maps a remote label onto a local row.
func LabelFromRemote(userID string, remoteLabel remote.Label, existing *taskstore.Label) taskstore.Label {
	label := taskstore.Label{}
	if existing != nil {
		label = *existing
	}
	externalID := remoteLabel.ID
	label.UserID = userID
	label.ExternalID = &externalID
	label.Name = remoteLabel.Name
	label.Color = remoteLabel.Color
	return label
}

// SectionFromRemote maps a remote section onto a local row. The second
// return is false when the owning project has no local row yet and the
// section must be deferred to a later pass.
func SectionFromRemote(ctx context.Context, resolver RefResolver, userID string, remoteSection remote.Section, existing *taskstore.Section) (taskstore.Section, bool, error) {
	section := taskstore.Section{}
	if existing != nil {
		section = *existing
	}
	externalID := remoteSection.ID
	section.UserID = userID
	section.ExternalID = &externalID
	section.Name = remoteSection.Name

	if remoteSection.ProjectID != "" {
		localID, found, err := resolver.LocalID(ctx, userID, taskstore.EntityProject, remoteSection.ProjectID)
		if err != nil {
			return taskstore.Section{}, false, err
		}
		if !found {
			return taskstore.Section{}, false, nil
		}
		section.ProjectID = &localID
	} else {
		section.ProjectID = nil
	}
	return section, true, nil
}

// TaskFromRemote maps a remote task onto a local row, resolving project,
// section and parent references through the local external-id index. The
// second return is false when any referenced parent has no local row yet.
func TaskFromRemote(ctx context.Context, resolver RefResolver, userID string, remoteTask remote.Task, existing *taskstore.Task) (taskstore.Task, bool, error) {
	task := taskstore.Task{}
	if existing != nil {
		task = *existing
	}
	externalID := remoteTask.ID
	task.UserID = userID
	task.ExternalID = &externalID
	task.Content = remoteTask.Content
	task.Description = remoteTask.Description
	task.Priority = LocalPriority(remoteTask.Priority)
	task.DueDate, task.DueTime = DueFromRemote(remoteTask.Due)
	task.LabelNames = strings.Join(remoteTask.Labels, ",")
	task.Completed = remoteTask.Checked
	task.RemoteCompleted = remoteTask.Checked
	if remoteTask.Checked && remoteTask.CompletedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, remoteTask.CompletedAt); err == nil {
			completedAt := parsed.UTC()
			task.CompletedAt = &completedAt
		}
	}
	if !remoteTask.Checked {
		task.CompletedAt = nil
	}

	references := []struct {
		externalID string
		entity     taskstore.EntityType
		target     **string
	}{
		{remoteTask.ProjectID, taskstore.EntityProject, &task.ProjectID},
		{remoteTask.SectionID, taskstore.EntitySection, &task.SectionID},
		{remoteTask.ParentID, taskstore.EntityTask, &task.ParentID},
	}
	for _, ref := range references {
		if ref.externalID == "" {
			*ref.target = nil
			continue
		}
		localID, found, err := resolver.LocalID(ctx, userID, ref.entity, ref.externalID)
		if err != nil {
			return taskstore.Task{}, false, err
		}
		if !found {
			return taskstore.Task{}, false, nil
		}
		resolved := localID
		*ref.target = &resolved
	}
	return task, true, nil
}

// CommentFromRemote maps a remote comment onto a local row. The second
// return is false when the owning task has no local row yet.
func CommentFromRemote(ctx context.Context, resolver RefResolver, userID string, remoteComment remote.Comment, existing *taskstore.Comment) (taskstore.Comment, bool, error) {
	comment := taskstore.Comment{}
	if existing != nil {
		comment = *existing
	}
	externalID := remoteComment.ID
	comment.UserID = userID
	comment.ExternalID = &externalID
	comment.Content = remoteComment.Content
	if remoteComment.PostedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, remoteComment.PostedAt); err == nil {
			comment.PostedAt = parsed.UTC()
		}
	}

	if remoteComment.ItemID != "" {
		localID, found, err := resolver.LocalID(ctx, userID, taskstore.EntityTask, remoteComment.ItemID)
		if err != nil {
			return taskstore.Comment{}, false, err
		}
		if !found {
			return taskstore.Comment{}, false, nil
		}
		comment.TaskID = &localID
	} else {
		comment.TaskID = nil
	}
	return comment, true, nil
}

// TaskPushArgs builds the REST field-update payload for a locally edited task.
func TaskPushArgs(task taskstore.Task) map[string]interface{} {
	args := map[string]interface{}{
		"content":     task.Content,
		"description": task.Description,
		"priority":    RemotePriority(task.Priority),
	}
	if due := DueToRemote(task.DueDate, task.DueTime); due != nil {
		if due.Datetime != "" {
			args["due_datetime"] = due.Datetime
		} else {
			args["due_date"] = due.Date
		}
	}
	if task.LabelNames != "" {
		args["labels"] = strings.Split(task.LabelNames, ",")
	}
	return args
}

// ProjectPushArgs builds the REST field-update payload for a locally edited
// project.
func ProjectPushArgs(project taskstore.Project) map[string]interface{} {
	return map[string]interface{}{
		"name":        project.Name,
		"color":       project.Color,
		"is_favorite": project.IsFavorite,
	}
}

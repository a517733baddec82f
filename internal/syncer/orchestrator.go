package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taskwell/backend/internal/remote"
	"github.com/taskwell/backend/internal/taskstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrPassInProgress indicates the account's status guard rejected a trigger
// because another pass is still running.
var ErrPassInProgress = errors.New("syncer: a sync pass is already running for this account")

var noOpLogger = zap.NewNop()

// RemoteAPI is the slice of the remote client the orchestrator drives.
// Satisfied by *remote.Client.
type RemoteAPI interface {
	FullSync(ctx context.Context) (*remote.SyncResponse, error)
	IncrementalSync(ctx context.Context, token string) (*remote.SyncResponse, error)
	PushCommands(ctx context.Context, token string, commands []remote.Command) (*remote.SyncResponse, error)
	UpdateTask(ctx context.Context, id string, args map[string]interface{}) (*remote.Task, error)
	CloseTask(ctx context.Context, id string) error
	ReopenTask(ctx context.Context, id string) error
	UpdateProject(ctx context.Context, id string, args map[string]interface{}) (*remote.Project, error)
}

// ClientFactory builds a remote client bound to one account's credential.
type ClientFactory func(account Account) (RemoteAPI, error)

// OrchestratorConfig describes the dependencies of the Orchestrator.
type OrchestratorConfig struct {
	Database   *gorm.DB
	Tasks      *taskstore.Store
	States     *StateStore
	History    *HistoryStore
	Conflicts  *ConflictStore
	Clients    ClientFactory
	Dispatcher *Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Orchestrator drives one synchronization pass: pull remote deltas, map and
// upsert into the local store, detect conflicts, push local deltas back, and
// persist the new resumption token plus history.
type Orchestrator struct {
	db         *gorm.DB
	tasks      *taskstore.Store
	states     *StateStore
	history    *HistoryStore
	conflicts  *ConflictStore
	clients    ClientFactory
	dispatcher *Dispatcher
	logger     *zap.Logger
	clock      func() time.Time
}

// NewOrchestrator constructs an Orchestrator after validating dependencies.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Tasks == nil {
		return nil, errors.New("syncer: task store is required")
	}
	if cfg.States == nil {
		return nil, errMissingStateStore
	}
	if cfg.History == nil {
		return nil, errors.New("syncer: history store is required")
	}
	if cfg.Conflicts == nil {
		return nil, errors.New("syncer: conflict store is required")
	}
	if cfg.Clients == nil {
		return nil, errors.New("syncer: client factory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Orchestrator{
		db:         cfg.Database,
		tasks:      cfg.Tasks,
		states:     cfg.States,
		history:    cfg.History,
		conflicts:  cfg.Conflicts,
		clients:    cfg.Clients,
		dispatcher: dispatcher,
		logger:     logger,
		clock:      clock,
	}, nil
}

// PassResult summarizes one synchronization pass.
type PassResult struct {
	Mode        PassMode
	Status      Status
	Stats       PassStats
	Errors      []string
	TokenBefore string
	TokenAfter  string
	StartedAt   time.Time
	Duration    time.Duration
	AuthFailed  bool
}

// RunPass executes one pass for the account. The status guard is acquired
// first; ErrPassInProgress is returned when another pass holds it. A pass
// runs to completion once started, so there is no mid-pass cancellation.
func (o *Orchestrator) RunPass(ctx context.Context, account Account, mode PassMode) (PassResult, error) {
	state, err := o.states.Ensure(ctx, account.ID)
	if err != nil {
		return PassResult{}, err
	}
	acquired, err := o.states.AcquireSyncing(ctx, account.ID)
	if err != nil {
		return PassResult{}, err
	}
	if !acquired {
		return PassResult{}, ErrPassInProgress
	}

	startedAt := o.clock().UTC()
	result := PassResult{
		Mode:        mode,
		TokenBefore: state.ResumptionToken,
		TokenAfter:  state.ResumptionToken,
		StartedAt:   startedAt,
	}
	o.dispatcher.Publish(Event{AccountID: account.ID, Type: EventPassStarted, Mode: mode, At: startedAt})
	o.logger.Info("sync pass started",
		zap.String("account_id", account.ID),
		zap.String("mode", string(mode)),
		zap.String("token_before", result.TokenBefore))

	token := state.ResumptionToken
	if mode == ModeFull {
		token = remote.FullSyncToken
	}

	client, err := o.clients(account)
	if err != nil {
		return o.finish(ctx, account, result, []string{err.Error()}), nil
	}

	// First-ever import for this account: snapshot existing local data so a
	// botched import can be replayed by an operator.
	if token == remote.FullSyncToken {
		hasBackup, backupErr := o.tasks.HasBackup(ctx, account.UserID, taskstore.BackupTagPreImport)
		if backupErr != nil {
			return o.finish(ctx, account, result, []string{backupErr.Error()}), nil
		}
		if !hasBackup {
			if backupErr := o.tasks.SnapshotBackup(ctx, account.UserID, taskstore.BackupTagPreImport); backupErr != nil {
				return o.finish(ctx, account, result, []string{backupErr.Error()}), nil
			}
			o.logger.Info("pre-import backup written", zap.String("account_id", account.ID))
		}
	}

	var response *remote.SyncResponse
	if token == remote.FullSyncToken {
		response, err = client.FullSync(ctx)
	} else {
		response, err = client.IncrementalSync(ctx, token)
	}
	if err != nil {
		result.AuthFailed = remote.IsAuthError(err)
		return o.finish(ctx, account, result, []string{err.Error()}), nil
	}

	var passErrors []string

	// Upserts and the token advance commit together: a crash mid-pass leaves
	// the old token in place and the pass is safe to retry.
	txErr := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txTasks := o.tasks.WithTx(tx)
		txConflicts := o.conflicts.WithTx(tx)
		o.applyPull(ctx, txTasks, txConflicts, account, response, &result.Stats, &passErrors)
		return o.states.WithTx(tx).PersistToken(ctx, account.ID, response.SyncToken)
	})
	if txErr != nil {
		passErrors = append(passErrors, txErr.Error())
		return o.finish(ctx, account, result, passErrors), nil
	}
	result.TokenAfter = response.SyncToken

	if mode == ModeIncremental {
		o.pushLocalChanges(ctx, client, account, &result.Stats, &passErrors)
		o.pushLocalCreates(ctx, client, account, &result, &passErrors)
	}

	return o.finish(ctx, account, result, passErrors), nil
}

// finish writes the terminal state, appends history and publishes the
// terminal event, regardless of outcome.
func (o *Orchestrator) finish(ctx context.Context, account Account, result PassResult, passErrors []string) PassResult {
	now := o.clock().UTC()
	result.Errors = passErrors
	result.Duration = now.Sub(result.StartedAt)

	if len(passErrors) == 0 {
		result.Status = StatusCompleted
		if err := o.states.Complete(ctx, account.ID, now); err != nil {
			o.logger.Error("failed to mark pass completed", zap.String("account_id", account.ID), zap.Error(err))
		}
	} else {
		result.Status = StatusFailed
		lastError := passErrors[len(passErrors)-1]
		if err := o.states.Fail(ctx, account.ID, lastError, now); err != nil {
			o.logger.Error("failed to mark pass failed", zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	errorsJSON := ""
	if len(passErrors) > 0 {
		if encoded, err := json.Marshal(passErrors); err == nil {
			errorsJSON = string(encoded)
		}
	}
	entry := HistoryEntry{
		AccountID:      account.ID,
		Mode:           result.Mode,
		Status:         result.Status,
		StartedAt:      result.StartedAt,
		DurationMillis: result.Duration.Milliseconds(),
		TokenBefore:    result.TokenBefore,
		TokenAfter:     result.TokenAfter,
		StatsJSON:      result.Stats.JSON(),
		ErrorsJSON:     errorsJSON,
	}
	if err := o.history.Append(ctx, &entry); err != nil {
		o.logger.Error("failed to append sync history", zap.String("account_id", account.ID), zap.Error(err))
	}

	eventType := EventPassCompleted
	message := ""
	if result.Status == StatusFailed {
		eventType = EventPassFailed
		message = passErrors[len(passErrors)-1]
	}
	o.dispatcher.Publish(Event{AccountID: account.ID, Type: eventType, Mode: result.Mode, Message: message, At: now})

	o.logger.Info("sync pass finished",
		zap.String("account_id", account.ID),
		zap.String("status", string(result.Status)),
		zap.Int("conflicts", result.Stats.Conflicts),
		zap.Int("errors", len(passErrors)),
		zap.Duration("duration", result.Duration))
	return result
}

// applyPull upserts each resource class in the fixed dependency order, so
// parent records exist before children reference them. A single-row failure
// is recorded and the pull continues.
func (o *Orchestrator) applyPull(ctx context.Context, tasks *taskstore.Store, conflicts *ConflictStore, account Account, response *remote.SyncResponse, stats *PassStats, passErrors *[]string) {
	for _, remoteProject := range response.Projects {
		outcome, err := o.applyProject(ctx, tasks, conflicts, stats, account, remoteProject)
		o.tally(&stats.Projects, stats, outcome, err, passErrors, "project", remoteProject.ID)
	}
	for _, remoteSection := range response.Sections {
		outcome, err := o.applySection(ctx, tasks, conflicts, stats, account, remoteSection)
		o.tally(&stats.Sections, stats, outcome, err, passErrors, "section", remoteSection.ID)
	}
	for _, remoteLabel := range response.Labels {
		outcome, err := o.applyLabel(ctx, tasks, conflicts, stats, account, remoteLabel)
		o.tally(&stats.Labels, stats, outcome, err, passErrors, "label", remoteLabel.ID)
	}
	for _, remoteTask := range response.Items {
		outcome, err := o.applyTask(ctx, tasks, conflicts, stats, account, remoteTask)
		o.tally(&stats.Tasks, stats, outcome, err, passErrors, "task", remoteTask.ID)
	}
	for _, remoteComment := range response.Notes {
		outcome, err := o.applyComment(ctx, tasks, conflicts, stats, account, remoteComment)
		o.tally(&stats.Comments, stats, outcome, err, passErrors, "comment", remoteComment.ID)
	}
}

func (o *Orchestrator) tally(class *ClassStats, stats *PassStats, outcome MapOutcome, err error, passErrors *[]string, entity, externalID string) {
	if err != nil {
		*passErrors = append(*passErrors, fmt.Sprintf("pull %s %s: %v", entity, externalID, err))
		o.logger.Error("pull row failed", zap.String("entity", entity), zap.String("external_id", externalID), zap.Error(err))
		return
	}
	switch outcome {
	case OutcomeCreated:
		class.Created++
	case OutcomeUpdated:
		class.Updated++
	case OutcomeDeleted:
		class.Deleted++
	case OutcomeDeferred:
		class.Deferred++
		o.logger.Warn("pull row deferred, parent not yet local",
			zap.String("entity", entity), zap.String("external_id", externalID))
	}
}

// recordConflict appends the audit row and returns the chosen resolution.
// Both snapshots are stored regardless of outcome.
func (o *Orchestrator) recordConflict(ctx context.Context, conflicts *ConflictStore, stats *PassStats, account Account, entity taskstore.EntityType, entityID, externalID string, localUpdatedAt time.Time, localSnapshot, remoteSnapshot interface{}) (Resolution, error) {
	now := o.clock().UTC()
	localJSON, _ := json.Marshal(localSnapshot)
	remoteJSON, _ := json.Marshal(remoteSnapshot)
	resolution := resolveConflict(localUpdatedAt, now)

	conflict := Conflict{
		AccountID:          account.ID,
		EntityType:         string(entity),
		EntityID:           entityID,
		ExternalID:         externalID,
		LocalSnapshotJSON:  string(localJSON),
		RemoteSnapshotJSON: string(remoteJSON),
		Resolution:         resolution,
		ResolvedAt:         now,
	}
	if err := conflicts.Append(ctx, &conflict); err != nil {
		return resolution, err
	}
	stats.Conflicts++
	return resolution, nil
}

func (o *Orchestrator) applyProject(ctx context.Context, tasks *taskstore.Store, conflicts *ConflictStore, stats *PassStats, account Account, remoteProject remote.Project) (MapOutcome, error) {
	existing, err := tasks.FindProjectByExternalID(ctx, account.UserID, remoteProject.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if remoteProject.IsDeleted {
		if existing == nil {
			return OutcomeSkipped, nil
		}
		if err := tasks.DeleteProject(ctx, existing.ID); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeDeleted, nil
	}
	now := o.clock().UTC()
	if existing == nil {
		project := ProjectFromRemote(account.UserID, remoteProject, nil)
		if err := tasks.ApplyRemoteProject(ctx, &project, now); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeCreated, nil
	}
	if detectConflict(existing.UpdatedAt, existing.LastRemoteSyncAt) {
		resolution, err := o.recordConflict(ctx, conflicts, stats, account, taskstore.EntityProject, existing.ID, remoteProject.ID, existing.UpdatedAt, existing, remoteProject)
		if err != nil {
			return OutcomeFailed, err
		}
		if resolution == ResolutionLocalWins {
			return OutcomeSkipped, nil
		}
	}
	project := ProjectFromRemote(account.UserID, remoteProject, existing)
	if err := tasks.ApplyRemoteProject(ctx, &project, now); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeUpdated, nil
}

func (o *Orchestrator) applySection(ctx context.Context, tasks *taskstore.Store, conflicts *ConflictStore, stats *PassStats, account Account, remoteSection remote.Section) (MapOutcome, error) {
	existing, err := tasks.FindSectionByExternalID(ctx, account.UserID, remoteSection.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if remoteSection.IsDeleted {
		if existing == nil {
			return OutcomeSkipped, nil
		}
		if err := tasks.DeleteSection(ctx, existing.ID); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeDeleted, nil
	}
	if existing != nil && detectConflict(existing.UpdatedAt, existing.LastRemoteSyncAt) {
		resolution, err := o.recordConflict(ctx, conflicts, stats, account, taskstore.EntitySection, existing.ID, remoteSection.ID, existing.UpdatedAt, existing, remoteSection)
		if err != nil {
			return OutcomeFailed, err
		}
		if resolution == ResolutionLocalWins {
			return OutcomeSkipped, nil
		}
	}
	section, resolved, err := SectionFromRemote(ctx, tasks, account.UserID, remoteSection, existing)
	if err != nil {
		return OutcomeFailed, err
	}
	if !resolved {
		return OutcomeDeferred, nil
	}
	if err := tasks.ApplyRemoteSection(ctx, &section, o.clock().UTC()); err != nil {
		return OutcomeFailed, err
	}
	if existing == nil {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}

func (o *Orchestrator) applyLabel(ctx context.Context, tasks *taskstore.Store, conflicts *ConflictStore, stats *PassStats, account Account, remoteLabel remote.Label) (MapOutcome, error) {
	existing, err := tasks.FindLabelByExternalID(ctx, account.UserID, remoteLabel.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if remoteLabel.IsDeleted {
		if existing == nil {
			return OutcomeSkipped, nil
		}
		if err := tasks.DeleteLabel(ctx, existing.ID); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeDeleted, nil
	}
	if existing != nil && detectConflict(existing.UpdatedAt, existing.LastRemoteSyncAt) {
		resolution, err := o.recordConflict(ctx, conflicts, stats, account, taskstore.EntityLabel, existing.ID, remoteLabel.ID, existing.UpdatedAt, existing, remoteLabel)
		if err != nil {
			return OutcomeFailed, err
		}
		if resolution == ResolutionLocalWins {
			return OutcomeSkipped, nil
		}
	}
	label := LabelFromRemote(account.UserID, remoteLabel, existing)
	if err := tasks.ApplyRemoteLabel(ctx, &label, o.clock().UTC()); err != nil {
		return OutcomeFailed, err
	}
	if existing == nil {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}

func (o *Orchestrator) applyTask(ctx context.Context, tasks *taskstore.Store, conflicts *ConflictStore, stats *PassStats, account Account, remoteTask remote.Task) (MapOutcome, error) {
	existing, err := tasks.FindTaskByExternalID(ctx, account.UserID, remoteTask.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if remoteTask.IsDeleted {
		if existing == nil {
			return OutcomeSkipped, nil
		}
		if err := tasks.DeleteTask(ctx, existing.ID); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeDeleted, nil
	}
	if existing != nil && detectConflict(existing.UpdatedAt, existing.LastRemoteSyncAt) {
		resolution, err := o.recordConflict(ctx, conflicts, stats, account, taskstore.EntityTask, existing.ID, remoteTask.ID, existing.UpdatedAt, existing, remoteTask)
		if err != nil {
			return OutcomeFailed, err
		}
		if resolution == ResolutionLocalWins {
			return OutcomeSkipped, nil
		}
	}
	task, resolved, err := TaskFromRemote(ctx, tasks, account.UserID, remoteTask, existing)
	if err != nil {
		return OutcomeFailed, err
	}
	if !resolved {
		return OutcomeDeferred, nil
	}
	if err := tasks.ApplyRemoteTask(ctx, &task, o.clock().UTC()); err != nil {
		return OutcomeFailed, err
	}
	if existing == nil {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}

func (o *Orchestrator) applyComment(ctx context.Context, tasks *taskstore.Store, conflicts *ConflictStore, stats *PassStats, account Account, remoteComment remote.Comment) (MapOutcome, error) {
	existing, err := tasks.FindCommentByExternalID(ctx, account.UserID, remoteComment.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if remoteComment.IsDeleted {
		if existing == nil {
			return OutcomeSkipped, nil
		}
		if err := tasks.DeleteComment(ctx, existing.ID); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeDeleted, nil
	}
	if existing != nil && detectConflict(existing.UpdatedAt, existing.LastRemoteSyncAt) {
		resolution, err := o.recordConflict(ctx, conflicts, stats, account, taskstore.EntityComment, existing.ID, remoteComment.ID, existing.UpdatedAt, existing, remoteComment)
		if err != nil {
			return OutcomeFailed, err
		}
		if resolution == ResolutionLocalWins {
			return OutcomeSkipped, nil
		}
	}
	comment, resolved, err := CommentFromRemote(ctx, tasks, account.UserID, remoteComment, existing)
	if err != nil {
		return OutcomeFailed, err
	}
	if !resolved {
		return OutcomeDeferred, nil
	}
	if err := tasks.ApplyRemoteComment(ctx, &comment, o.clock().UTC()); err != nil {
		return OutcomeFailed, err
	}
	if existing == nil {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}

// pushLocalChanges mirrors local edits of previously synced rows back to the
// remote service. A failure on one row never aborts the rest.
func (o *Orchestrator) pushLocalChanges(ctx context.Context, client RemoteAPI, account Account, stats *PassStats, passErrors *[]string) {
	changedTasks, err := o.tasks.ListChangedTasks(ctx, account.UserID)
	if err != nil {
		*passErrors = append(*passErrors, fmt.Sprintf("push query tasks: %v", err))
		return
	}
	for _, task := range changedTasks {
		externalID := *task.ExternalID
		var pushErr error
		if task.Completed != task.RemoteCompleted {
			if task.Completed {
				pushErr = client.CloseTask(ctx, externalID)
			} else {
				pushErr = client.ReopenTask(ctx, externalID)
			}
			if pushErr == nil {
				pushErr = o.tasks.StampTaskPushed(ctx, task.ID, task.Completed, o.clock().UTC())
			}
		} else {
			_, pushErr = client.UpdateTask(ctx, externalID, TaskPushArgs(task))
			if pushErr == nil {
				pushErr = o.tasks.StampTaskSynced(ctx, task.ID, o.clock().UTC())
			}
		}
		if pushErr != nil {
			stats.PushFailures++
			*passErrors = append(*passErrors, fmt.Sprintf("push task %s: %v", externalID, pushErr))
			o.logger.Error("push row failed", zap.String("entity", "task"), zap.String("external_id", externalID), zap.Error(pushErr))
			if remote.IsAuthError(pushErr) {
				return
			}
			continue
		}
		stats.Pushed++
	}

	changedProjects, err := o.tasks.ListChangedProjects(ctx, account.UserID)
	if err != nil {
		*passErrors = append(*passErrors, fmt.Sprintf("push query projects: %v", err))
		return
	}
	for _, project := range changedProjects {
		externalID := *project.ExternalID
		_, pushErr := client.UpdateProject(ctx, externalID, ProjectPushArgs(project))
		if pushErr == nil {
			pushErr = o.tasks.StampProjectSynced(ctx, project.ID, o.clock().UTC())
		}
		if pushErr != nil {
			stats.PushFailures++
			*passErrors = append(*passErrors, fmt.Sprintf("push project %s: %v", externalID, pushErr))
			o.logger.Error("push row failed", zap.String("entity", "project"), zap.String("external_id", externalID), zap.Error(pushErr))
			if remote.IsAuthError(pushErr) {
				return
			}
			continue
		}
		stats.Pushed++
	}
}

// pushLocalCreates mirrors never-synced local rows to the remote service as
// batched create commands, then consumes the temp-id mapping to bind the
// local rows to their new remote ids.
func (o *Orchestrator) pushLocalCreates(ctx context.Context, client RemoteAPI, account Account, result *PassResult, passErrors *[]string) {
	unsyncedProjects, err := o.tasks.ListUnsyncedProjects(ctx, account.UserID)
	if err != nil {
		*passErrors = append(*passErrors, fmt.Sprintf("push query unsynced projects: %v", err))
		return
	}
	unsyncedTasks, err := o.tasks.ListUnsyncedTasks(ctx, account.UserID)
	if err != nil {
		*passErrors = append(*passErrors, fmt.Sprintf("push query unsynced tasks: %v", err))
		return
	}
	if len(unsyncedProjects) == 0 && len(unsyncedTasks) == 0 {
		return
	}

	type pendingRow struct {
		entity  taskstore.EntityType
		localID string
	}
	pending := make(map[string]pendingRow)
	projectTempIDs := make(map[string]string)
	commands := make([]remote.Command, 0, len(unsyncedProjects)+len(unsyncedTasks))

	for _, project := range unsyncedProjects {
		command := remote.NewCreateCommand("project_add", map[string]interface{}{
			"name":        project.Name,
			"color":       project.Color,
			"is_favorite": project.IsFavorite,
		})
		pending[command.TempID] = pendingRow{entity: taskstore.EntityProject, localID: project.ID}
		projectTempIDs[project.ID] = command.TempID
		commands = append(commands, command)
	}

	for _, task := range unsyncedTasks {
		args := TaskPushArgs(task)
		if task.ProjectID != nil {
			// Reference the remote project id when known; a project created
			// in this same batch is referenced by its temp id instead.
			if tempID, ok := projectTempIDs[*task.ProjectID]; ok {
				args["project_id"] = tempID
			} else {
				parent, lookupErr := o.tasks.GetProject(ctx, *task.ProjectID)
				if lookupErr != nil {
					*passErrors = append(*passErrors, fmt.Sprintf("push create task %s: %v", task.ID, lookupErr))
					continue
				}
				if parent != nil && parent.ExternalID != nil {
					args["project_id"] = *parent.ExternalID
				}
			}
		}
		command := remote.NewCreateCommand("item_add", args)
		pending[command.TempID] = pendingRow{entity: taskstore.EntityTask, localID: task.ID}
		commands = append(commands, command)
	}

	if len(commands) == 0 {
		return
	}
	response, err := client.PushCommands(ctx, result.TokenAfter, commands)
	if err != nil {
		result.Stats.PushFailures += len(commands)
		result.AuthFailed = result.AuthFailed || remote.IsAuthError(err)
		*passErrors = append(*passErrors, fmt.Sprintf("push creates: %v", err))
		return
	}

	now := o.clock().UTC()
	for tempID, realID := range response.TempIDMapping {
		row, ok := pending[tempID]
		if !ok {
			continue
		}
		var bindErr error
		switch row.entity {
		case taskstore.EntityProject:
			bindErr = o.tasks.SetProjectExternalID(ctx, row.localID, realID, now)
		case taskstore.EntityTask:
			bindErr = o.tasks.SetTaskExternalID(ctx, row.localID, realID, now)
		}
		if bindErr != nil {
			*passErrors = append(*passErrors, fmt.Sprintf("bind external id %s: %v", realID, bindErr))
			continue
		}
		result.Stats.Pushed++
	}

	if response.SyncToken != "" {
		if err := o.states.PersistToken(ctx, account.ID, response.SyncToken); err != nil {
			*passErrors = append(*passErrors, fmt.Sprintf("persist token after creates: %v", err))
			return
		}
		result.TokenAfter = response.SyncToken
	}
}

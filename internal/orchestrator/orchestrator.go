package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/execapi"
	"github.com/kazz187/agentdash/internal/project"
	"github.com/kazz187/agentdash/internal/projectrun"
	"github.com/kazz187/agentdash/internal/task"
	"github.com/kazz187/agentdash/pkg/cerr"
)

// Submitter starts remote jobs. *execapi.Client implements it.
type Submitter interface {
	SubmitTask(ctx context.Context, t *task.Task, repositoryURL string) (*execapi.TaskSubmission, error)
	SubmitProject(ctx context.Context, description string, keyFiles []string) (*execapi.ProjectSubmission, error)
}

// RunWatcher takes over a freshly created project run.
type RunWatcher interface {
	Watch(run *projectrun.ProjectRun)
}

type Orchestrator struct {
	eventBus    *eventbus.Bus
	taskRepo    task.Repository
	projectRepo project.Repository
	runRepo     projectrun.Repository
	submitter   Submitter
	watcher     RunWatcher
	now         func() time.Time
}

func New(
	eventBus *eventbus.Bus,
	taskRepo task.Repository,
	projectRepo project.Repository,
	runRepo projectrun.Repository,
	submitter Submitter,
	watcher RunWatcher,
) *Orchestrator {
	return &Orchestrator{
		eventBus:    eventBus,
		taskRepo:    taskRepo,
		projectRepo: projectRepo,
		runRepo:     runRepo,
		submitter:   submitter,
		watcher:     watcher,
		now:         time.Now,
	}
}

// RunTask submits a task to the execution API and records the returned job
// id with state pending. Nothing is written when a precondition fails or the
// remote call fails.
func (o *Orchestrator) RunTask(ctx context.Context, ownerID, taskID string) (*task.Task, error) {
	t, err := o.taskRepo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && t.OwnerID != ownerID {
		return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	if err := task.Transition(task.TriggerStart, t.State, task.StatePending); err != nil {
		return nil, cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task in state %s cannot be run", t.State), err)
	}

	p, err := o.projectRepo.Get(ctx, t.ProjectID)
	if err != nil {
		return nil, err
	}
	if p.RepositoryURL == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "project has no repository URL",
			fmt.Errorf("%w: project %s has no repository URL", execapi.ErrInvalidInput, p.ID)).
			AddFieldViolation("repository_url", "required to run tasks")
	}

	sub, err := o.submitter.SubmitTask(ctx, t, p.RepositoryURL)
	if err != nil {
		return nil, err
	}

	updated, err := o.taskRepo.Mutate(ctx, t.ID, "", func(cur *task.Task) error {
		if err := task.Transition(task.TriggerStart, cur.State, task.StatePending); err != nil {
			return cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task in state %s cannot be run", cur.State), err)
		}
		cur.RemoteJobID = sub.RemoteJobID
		cur.State = task.StatePending
		if sub.BranchName != "" {
			cur.BranchName = sub.BranchName
		}
		cur.UpdatedAt = o.now()
		return nil
	})
	if err != nil {
		// The remote job exists but is not tracked locally.
		slog.ErrorContext(ctx, "failed to record submitted task run",
			"task_id", t.ID, "remote_job_id", sub.RemoteJobID, "error", err)
		return nil, err
	}

	o.eventBus.PublishNew(eventbus.TaskRunStarted, updated.ID, updated, map[string]string{
		eventbus.MetaOwnerID:   updated.OwnerID,
		eventbus.MetaProjectID: updated.ProjectID,
		eventbus.MetaState:     string(updated.State),
	})
	slog.InfoContext(ctx, "task run started",
		"task_id", updated.ID, "code", updated.Code, "remote_job_id", updated.RemoteJobID)
	return updated, nil
}

// RunProject submits a project's key files to the execution API, persists a
// project run seeded with one pending subtask per returned id and hands it to
// the watcher.
func (o *Orchestrator) RunProject(ctx context.Context, ownerID, projectID string) (*projectrun.ProjectRun, error) {
	p, err := o.projectRepo.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && p.OwnerID != ownerID {
		return nil, cerr.NewError(cerr.NotFound, "project not found", nil)
	}
	if p.Archived {
		return nil, cerr.NewError(cerr.FailedPrecondition, "archived projects cannot be run", nil)
	}

	var missing []string
	if p.RepositoryURL == "" {
		missing = append(missing, "repository_url")
	}
	keyFiles := project.ParseKeyFiles(p.KeyFiles)
	if len(keyFiles) == 0 {
		missing = append(missing, "key_files")
	}
	if len(missing) > 0 {
		e := cerr.NewError(cerr.InvalidArgument, "project is missing repository URL or key files",
			fmt.Errorf("%w: project %s missing %v", execapi.ErrInvalidInput, p.ID, missing))
		for _, field := range missing {
			e.AddFieldViolation(field, "required to run the project")
		}
		return nil, e
	}

	sub, err := o.submitter.SubmitProject(ctx, p.RunDescription(), keyFiles)
	if err != nil {
		return nil, err
	}

	now := o.now()
	run := &projectrun.ProjectRun{
		ID:              ulid.Make().String(),
		OwnerID:         p.OwnerID,
		ProjectID:       p.ID,
		RemoteProjectID: sub.RemoteProjectID,
		Subtasks:        projectrun.SeedSubtasks(sub.SubtaskIDs),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.runRepo.Create(ctx, run); err != nil {
		slog.ErrorContext(ctx, "failed to record submitted project run",
			"project_id", p.ID, "remote_project_id", sub.RemoteProjectID, "error", err)
		return nil, err
	}
	o.watcher.Watch(run)

	o.eventBus.PublishNew(eventbus.ProjectRunStarted, run.ID, run, map[string]string{
		eventbus.MetaOwnerID:   run.OwnerID,
		eventbus.MetaProjectID: run.ProjectID,
	})
	slog.InfoContext(ctx, "project run started",
		"project_run_id", run.ID, "project_id", p.ID, "remote_project_id", run.RemoteProjectID,
		"subtasks", len(run.Subtasks))
	return run, nil
}

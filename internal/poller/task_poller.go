// Package poller tracks in-flight remote jobs and reconciles their status into
// the local store. One TaskPoller and one ProjectPoller run per server
// process; clients follow progress through the event stream.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/execapi"
	"github.com/kazz187/agentdash/internal/reconcile"
	"github.com/kazz187/agentdash/internal/task"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/clog"
	"github.com/kazz187/agentdash/pkg/panicerr"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 5 * time.Second

type TaskStatusFetcher interface {
	GetTaskStatus(ctx context.Context, remoteJobID string) (*execapi.TaskStatus, error)
}

// errNoChange aborts a Mutate without writing.
var errNoChange = errors.New("no change")

type TaskPoller struct {
	taskRepo task.Repository
	client   TaskStatusFetcher
	eventBus *eventbus.Bus
	interval time.Duration
	now      func() time.Time
}

func NewTaskPoller(taskRepo task.Repository, client TaskStatusFetcher, eventBus *eventbus.Bus, interval time.Duration) *TaskPoller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &TaskPoller{
		taskRepo: taskRepo,
		client:   client,
		eventBus: eventBus,
		interval: interval,
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled. It never stops on its own.
func (p *TaskPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "task poller started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "task poller stopped")
			return nil
		case <-ticker.C:
			if err := panicerr.SafeContext(p.PollOnce)(ctx); err != nil {
				slog.ErrorContext(ctx, "task poll tick failed", "error", err)
			}
		}
	}
}

// PollOnce runs a single tick: it lists in-flight tasks fresh from the store
// and reconciles each one in list order. A failure for one task is logged and
// does not stop the others.
func (p *TaskPoller) PollOnce(ctx context.Context) error {
	tasks, _, err := p.taskRepo.List(ctx, task.Filter{InFlight: true})
	if err != nil {
		return fmt.Errorf("list in-flight tasks: %w", err)
	}
	for _, t := range tasks {
		if ctx.Err() != nil {
			return nil
		}
		if err := p.pollTask(ctx, t); err != nil {
			slog.WarnContext(ctx, "failed to poll task",
				"task_id", t.ID, "remote_job_id", t.RemoteJobID, "code", cerr.CodeOf(err).String(), "error", err)
		}
	}
	return nil
}

func (p *TaskPoller) pollTask(ctx context.Context, t *task.Task) error {
	ctx = clog.ContextWithSlog(ctx)
	clog.AddAttributes(ctx, map[string]any{"task_id": t.ID, "remote_job_id": t.RemoteJobID})

	status, err := p.client.GetTaskStatus(ctx, t.RemoteJobID)
	if err != nil {
		return err
	}

	var decision reconcile.Decision
	updated, err := p.taskRepo.Mutate(ctx, t.ID, "", func(cur *task.Task) error {
		// A rerun or reset between listing and now supersedes this status.
		if cur.RemoteJobID != t.RemoteJobID || !cur.InFlight() {
			return errNoChange
		}
		decision = reconcile.Decide(cur, status)
		if decision.Rejected != nil {
			return fmt.Errorf("remote status %q: %w", status.Status, decision.Rejected)
		}
		if !decision.Apply(cur) {
			return errNoChange
		}
		cur.UpdatedAt = p.now()
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return err
	}

	meta := map[string]string{
		eventbus.MetaOwnerID:   updated.OwnerID,
		eventbus.MetaProjectID: updated.ProjectID,
		eventbus.MetaState:     string(updated.State),
	}
	p.eventBus.PublishNew(eventbus.TaskUpdated, updated.ID, updated, meta)
	if updated.State.Terminal() {
		p.eventBus.PublishNew(eventbus.TaskFinished, updated.ID, updated, meta)
		slog.InfoContext(ctx, "task finished", "state", updated.State, "branch_name", updated.BranchName)
	} else {
		slog.DebugContext(ctx, "task updated", "state", updated.State, "branch_name", updated.BranchName)
	}
	return nil
}

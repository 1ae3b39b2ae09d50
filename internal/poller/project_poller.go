package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/execapi"
	"github.com/kazz187/agentdash/internal/projectrun"
	"github.com/kazz187/agentdash/internal/reconcile"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/clog"
	"github.com/kazz187/agentdash/pkg/panicerr"
)

type ProjectStatusFetcher interface {
	GetProjectStatus(ctx context.Context, remoteProjectID string) (*execapi.ProjectStatus, error)
}

// ProjectPoller runs one watcher per active project run. A watcher exits in
// the tick that observes every subtask in a terminal status.
type ProjectPoller struct {
	runRepo  projectrun.Repository
	client   ProjectStatusFetcher
	eventBus *eventbus.Bus
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	ctx      context.Context // set by Run; nil until then
	queued   []string        // run ids watched before Run
	watching map[string]struct{}
	closed   bool
	wg       conc.WaitGroup
}

func NewProjectPoller(runRepo projectrun.Repository, client ProjectStatusFetcher, eventBus *eventbus.Bus, interval time.Duration) *ProjectPoller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &ProjectPoller{
		runRepo:  runRepo,
		client:   client,
		eventBus: eventBus,
		interval: interval,
		now:      time.Now,
		watching: make(map[string]struct{}),
	}
}

// Run resumes watchers for every persisted active run, then blocks until ctx
// is cancelled and all watchers have exited.
func (p *ProjectPoller) Run(ctx context.Context) error {
	p.mu.Lock()
	p.ctx = ctx
	queued := p.queued
	p.queued = nil
	for _, id := range queued {
		p.startLocked(id)
	}
	p.mu.Unlock()

	if err := p.Resume(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to resume project runs", "error", err)
	}

	slog.InfoContext(ctx, "project poller started", "interval", p.interval)
	<-ctx.Done()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	slog.InfoContext(ctx, "project poller stopped")
	return nil
}

// Resume starts watchers for all active runs in the store.
func (p *ProjectPoller) Resume(ctx context.Context) error {
	runs, _, err := p.runRepo.List(ctx, projectrun.Filter{ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("list active project runs: %w", err)
	}
	for _, run := range runs {
		p.Watch(run)
	}
	if len(runs) > 0 {
		slog.InfoContext(ctx, "resumed project runs", "count", len(runs))
	}
	return nil
}

// Watch starts polling run. Watching a run that already has a watcher is a
// no-op.
func (p *ProjectPoller) Watch(run *projectrun.ProjectRun) {
	if !run.Active {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		p.queued = append(p.queued, run.ID)
		return
	}
	p.startLocked(run.ID)
}

// Watching reports whether run id currently has a watcher.
func (p *ProjectPoller) Watching(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.watching[id]
	return ok
}

func (p *ProjectPoller) startLocked(id string) {
	if p.closed {
		return
	}
	if _, ok := p.watching[id]; ok {
		return
	}
	p.watching[id] = struct{}{}
	ctx := p.ctx
	p.wg.Go(func() { p.watch(ctx, id) })
}

func (p *ProjectPoller) watch(ctx context.Context, id string) {
	defer func() {
		p.mu.Lock()
		delete(p.watching, id)
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		retired, err := panicerr.SafeValue(ctx, func(ctx context.Context) (bool, error) {
			return p.PollRun(ctx, id)
		})
		if cerr.IsCode(err, cerr.NotFound) {
			slog.InfoContext(ctx, "project run removed, stop watching", "project_run_id", id)
			return
		}
		if err != nil {
			slog.WarnContext(ctx, "failed to poll project run", "project_run_id", id, "error", err)
			continue
		}
		if retired {
			return
		}
	}
}

// PollRun fetches the remote status of one run, replaces its subtask list
// and persists it. It reports true once the run is retired, either by this
// call or earlier. On error the stored run is left untouched.
func (p *ProjectPoller) PollRun(ctx context.Context, id string) (bool, error) {
	ctx = clog.ContextWithSlog(ctx)
	clog.AddAttribute(ctx, "project_run_id", id)

	run, err := p.runRepo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !run.Active {
		return true, nil
	}

	status, err := p.client.GetProjectStatus(ctx, run.RemoteProjectID)
	if err != nil {
		return false, err
	}

	now := p.now()
	run.Subtasks = reconcile.Subtasks(status.Subtasks)
	run.RemoteCreatedAt = status.CreatedAt
	run.RemoteUpdatedAt = status.UpdatedAt
	run.UpdatedAt = now
	done := reconcile.ProjectDone(run.Subtasks)
	if done {
		run.Active = false
		run.FinishedAt = &now
	}
	if err := p.runRepo.Update(ctx, run); err != nil {
		return false, err
	}

	meta := map[string]string{
		eventbus.MetaOwnerID:   run.OwnerID,
		eventbus.MetaProjectID: run.ProjectID,
	}
	p.eventBus.PublishNew(eventbus.ProjectRunUpdated, run.ID, run, meta)
	if done {
		p.eventBus.PublishNew(eventbus.ProjectRunFinished, run.ID, run, meta)
		progress := run.Progress()
		slog.InfoContext(ctx, "project run finished",
			"completed", progress.Completed, "failed", progress.Failed)
	}
	return done, nil
}

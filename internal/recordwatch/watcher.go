// Package recordwatch republishes records that another process wrote into a
// shared local storage directory.
package recordwatch

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/sourcegraph/conc"

	"github.com/kazz187/agentdash/internal/agent"
	agentrepo "github.com/kazz187/agentdash/internal/agent/repositoryimpl"
	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/project"
	projectrepo "github.com/kazz187/agentdash/internal/project/repositoryimpl"
	"github.com/kazz187/agentdash/internal/projectrun"
	runrepo "github.com/kazz187/agentdash/internal/projectrun/repositoryimpl"
	"github.com/kazz187/agentdash/internal/task"
	taskrepo "github.com/kazz187/agentdash/internal/task/repositoryimpl"
	"github.com/kazz187/agentdash/pkg/storage"
)

// Source emits changes below a storage prefix. *storage.LocalStorage
// implements it.
type Source interface {
	Watch(ctx context.Context, prefix string, fn func(storage.Change)) error
}

// RunWatcher starts polling an active project run.
type RunWatcher interface {
	Watch(run *projectrun.ProjectRun)
}

type Watcher struct {
	source      Source
	eventBus    *eventbus.Bus
	taskRepo    task.Repository
	projectRepo project.Repository
	agentRepo   agent.Repository
	runRepo     projectrun.Repository
	runWatcher  RunWatcher
}

func New(
	source Source,
	eventBus *eventbus.Bus,
	taskRepo task.Repository,
	projectRepo project.Repository,
	agentRepo agent.Repository,
	runRepo projectrun.Repository,
	runWatcher RunWatcher,
) *Watcher {
	return &Watcher{
		source:      source,
		eventBus:    eventBus,
		taskRepo:    taskRepo,
		projectRepo: projectRepo,
		agentRepo:   agentRepo,
		runRepo:     runRepo,
		runWatcher:  runWatcher,
	}
}

var prefixes = []string{
	taskrepo.TasksPrefix,
	projectrepo.ProjectsPrefix,
	agentrepo.AgentsPrefix,
	runrepo.ProjectRunsPrefix,
}

// Run watches every record prefix until ctx is cancelled. Writes made by this
// process are observed as well, so consumers of StorageRecordModified must
// tolerate repeats.
func (w *Watcher) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	errs := make(chan error, len(prefixes))
	for _, prefix := range prefixes {
		wg.Go(func() {
			if err := w.source.Watch(ctx, prefix, func(c storage.Change) { w.handle(ctx, c) }); err != nil {
				errs <- err
			}
		})
	}
	wg.Wait()
	close(errs)
	return <-errs
}

func (w *Watcher) handle(ctx context.Context, c storage.Change) {
	prefix, file := path.Split(c.Path)
	prefix = strings.TrimSuffix(prefix, "/")
	id := strings.TrimSuffix(file, ".yaml")
	if id == file {
		return
	}
	meta := map[string]string{eventbus.MetaPath: c.Path}

	if c.Removed {
		w.eventBus.PublishNew(eventbus.StorageRecordModified, id, nil, meta)
		return
	}

	var (
		record any
		err    error
	)
	switch prefix {
	case taskrepo.TasksPrefix:
		var t *task.Task
		if t, err = w.taskRepo.Get(ctx, id); err == nil {
			record = t
			meta[eventbus.MetaOwnerID] = t.OwnerID
			meta[eventbus.MetaProjectID] = t.ProjectID
			meta[eventbus.MetaState] = string(t.State)
		}
	case projectrepo.ProjectsPrefix:
		var p *project.Project
		if p, err = w.projectRepo.Get(ctx, id); err == nil {
			record = p
			meta[eventbus.MetaOwnerID] = p.OwnerID
			meta[eventbus.MetaProjectID] = p.ID
		}
	case agentrepo.AgentsPrefix:
		var a *agent.Agent
		if a, err = w.agentRepo.Get(ctx, id); err == nil {
			record = a
			meta[eventbus.MetaOwnerID] = a.OwnerID
		}
	case runrepo.ProjectRunsPrefix:
		var run *projectrun.ProjectRun
		if run, err = w.runRepo.Get(ctx, id); err == nil {
			record = run
			meta[eventbus.MetaOwnerID] = run.OwnerID
			meta[eventbus.MetaProjectID] = run.ProjectID
			if run.Active {
				w.runWatcher.Watch(run)
			}
		}
	default:
		return
	}
	if err != nil {
		slog.WarnContext(ctx, "failed to reload changed record", "path", c.Path, "error", err)
		return
	}
	w.eventBus.PublishNew(eventbus.StorageRecordModified, id, record, meta)
}

package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/execapi"
	"github.com/kazz187/agentdash/internal/projectrun"
	runrepo "github.com/kazz187/agentdash/internal/projectrun/repositoryimpl"
	"github.com/kazz187/agentdash/internal/task"
	taskrepo "github.com/kazz187/agentdash/internal/task/repositoryimpl"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/storage"
)

// fakeRemote serves scripted statuses. Each call pops the next response for
// an id; the last one repeats.
type fakeRemote struct {
	mu       sync.Mutex
	tasks    map[string][]*execapi.TaskStatus
	projects map[string][]*execapi.ProjectStatus
	errs     map[string]error
	calls    map[string]int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		tasks:    make(map[string][]*execapi.TaskStatus),
		projects: make(map[string][]*execapi.ProjectStatus),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeRemote) GetTaskStatus(_ context.Context, id string) (*execapi.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	q := f.tasks[id]
	s := q[0]
	if len(q) > 1 {
		f.tasks[id] = q[1:]
	}
	return s, nil
}

func (f *fakeRemote) GetProjectStatus(_ context.Context, id string) (*execapi.ProjectStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	q := f.projects[id]
	s := q[0]
	if len(q) > 1 {
		f.projects[id] = q[1:]
	}
	return s, nil
}

func (f *fakeRemote) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func newStorage(t *testing.T) storage.Storage {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return st
}

func createTask(t *testing.T, repo task.Repository, id, remoteJobID string, state task.State) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &task.Task{
		ID: id, OwnerID: "alice", Code: "ABC-" + id, Title: id, State: state,
		Priority: task.PriorityMedium, ProjectID: "P1", RemoteJobID: remoteJobID,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
}

func TestTaskPoller_Scenario(t *testing.T) {
	ctx := context.Background()
	repo := taskrepo.NewYAMLRepository(newStorage(t))
	remote := newFakeRemote()
	bus := eventbus.New()
	subID, events := bus.Subscribe(16)
	defer bus.Unsubscribe(subID)

	createTask(t, repo, "T", "X1", task.StatePending)
	remote.tasks["X1"] = []*execapi.TaskStatus{
		{Status: "running"},
		{Status: "completed", BranchName: "feature/x"},
	}
	p := NewTaskPoller(repo, remote, bus, time.Hour)

	require.NoError(t, p.PollOnce(ctx))
	got, err := repo.Get(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, task.StateRunning, got.State)
	assert.Equal(t, eventbus.TaskUpdated, (<-events).Type)

	require.NoError(t, p.PollOnce(ctx))
	got, err = repo.Get(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, task.StateComplete, got.State)
	assert.Equal(t, "feature/x", got.BranchName)
	assert.Equal(t, eventbus.TaskUpdated, (<-events).Type)
	assert.Equal(t, eventbus.TaskFinished, (<-events).Type)

	// Retired: no further queries.
	require.NoError(t, p.PollOnce(ctx))
	assert.Equal(t, 2, remote.callCount("X1"))
}

func TestTaskPoller_NoWriteWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	repo := taskrepo.NewYAMLRepository(newStorage(t))
	remote := newFakeRemote()
	bus := eventbus.New()
	subID, events := bus.Subscribe(16)
	defer bus.Unsubscribe(subID)

	createTask(t, repo, "T", "X1", task.StateRunning)
	before, err := repo.Get(ctx, "T")
	require.NoError(t, err)
	remote.tasks["X1"] = []*execapi.TaskStatus{{Status: "running"}}
	p := NewTaskPoller(repo, remote, bus, time.Hour)

	require.NoError(t, p.PollOnce(ctx))
	require.NoError(t, p.PollOnce(ctx))

	after, err := repo.Get(ctx, "T")
	require.NoError(t, err)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
	assert.Empty(t, events)
	assert.Equal(t, 2, remote.callCount("X1"))
}

func TestTaskPoller_FailureDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	repo := taskrepo.NewYAMLRepository(newStorage(t))
	remote := newFakeRemote()

	createTask(t, repo, "T1", "X1", task.StatePending)
	createTask(t, repo, "T2", "X2", task.StatePending)
	createTask(t, repo, "T3", "", task.StateDraft)
	createTask(t, repo, "T4", "X4", task.StateComplete)
	remote.errs["X1"] = cerr.NewError(cerr.Unavailable, "execution API is unavailable", execapi.ErrUnavailable)
	remote.tasks["X2"] = []*execapi.TaskStatus{{Status: "running"}}
	p := NewTaskPoller(repo, remote, eventbus.New(), time.Hour)

	require.NoError(t, p.PollOnce(ctx))

	t1, err := repo.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, t1.State)
	t2, err := repo.Get(ctx, "T2")
	require.NoError(t, err)
	assert.Equal(t, task.StateRunning, t2.State)

	assert.Equal(t, 1, remote.callCount("X1"))
	assert.Zero(t, remote.callCount("X4"))

	// T1 stays in the working set.
	delete(remote.errs, "X1")
	remote.tasks["X1"] = []*execapi.TaskStatus{{Status: "failed"}}
	require.NoError(t, p.PollOnce(ctx))
	t1, err = repo.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, t1.State)
}

func TestTaskPoller_UnknownStatusDoesNotRegress(t *testing.T) {
	ctx := context.Background()
	repo := taskrepo.NewYAMLRepository(newStorage(t))
	remote := newFakeRemote()

	createTask(t, repo, "T", "X1", task.StateRunning)
	remote.tasks["X1"] = []*execapi.TaskStatus{{Status: "mystery"}}
	p := NewTaskPoller(repo, remote, eventbus.New(), time.Hour)

	require.NoError(t, p.PollOnce(ctx))
	got, err := repo.Get(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, task.StateRunning, got.State)
}

func TestTaskPoller_RunStopsOnCancel(t *testing.T) {
	repo := taskrepo.NewYAMLRepository(newStorage(t))
	remote := newFakeRemote()
	createTask(t, repo, "T", "X1", task.StatePending)
	remote.tasks["X1"] = []*execapi.TaskStatus{{Status: "running"}}
	p := NewTaskPoller(repo, remote, eventbus.New(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := repo.Get(context.Background(), "T")
		return err == nil && got.State == task.StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("task poller did not stop")
	}
}

func projectStatus(statuses ...string) *execapi.ProjectStatus {
	ps := &execapi.ProjectStatus{RemoteProjectID: "RP1", CreatedAt: "c", UpdatedAt: "u"}
	for i, s := range statuses {
		ps.Subtasks = append(ps.Subtasks, execapi.Subtask{
			RemoteID: []string{"s1", "s2"}[i], Status: s, Description: "file",
		})
	}
	return ps
}

func createRun(t *testing.T, repo projectrun.Repository) *projectrun.ProjectRun {
	t.Helper()
	run := &projectrun.ProjectRun{
		ID: "R1", OwnerID: "alice", ProjectID: "P1", RemoteProjectID: "RP1",
		Subtasks: projectrun.SeedSubtasks([]string{"s1", "s2"}), Active: true,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), run))
	return run
}

func TestProjectPoller_PollRunRetirement(t *testing.T) {
	ctx := context.Background()
	repo := runrepo.NewYAMLRepository(newStorage(t))
	remote := newFakeRemote()
	bus := eventbus.New()
	subID, events := bus.Subscribe(16)
	defer bus.Unsubscribe(subID)

	createRun(t, repo)
	remote.projects["RP1"] = []*execapi.ProjectStatus{
		projectStatus("completed", "running"),
		projectStatus("completed", "failed"),
	}
	p := NewProjectPoller(repo, remote, bus, time.Hour)

	retired, err := p.PollRun(ctx, "R1")
	require.NoError(t, err)
	assert.False(t, retired)
	run, err := repo.Get(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, run.Active)
	assert.Equal(t, "running", run.Subtasks[1].Status)
	assert.Equal(t, "u", run.RemoteUpdatedAt)
	assert.Equal(t, eventbus.ProjectRunUpdated, (<-events).Type)

	retired, err = p.PollRun(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, retired)
	run, err = repo.Get(ctx, "R1")
	require.NoError(t, err)
	assert.False(t, run.Active)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, projectrun.Progress{Total: 2, Completed: 1, Failed: 1}, run.Progress())
	assert.Equal(t, eventbus.ProjectRunUpdated, (<-events).Type)
	assert.Equal(t, eventbus.ProjectRunFinished, (<-events).Type)

	// Retired runs are not queried again.
	retired, err = p.PollRun(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, retired)
	assert.Equal(t, 2, remote.callCount("RP1"))
}

func TestProjectPoller_EmptyRunRetires(t *testing.T) {
	ctx := context.Background()
	repo := runrepo.NewYAMLRepository(newStorage(t))
	remote := newFakeRemote()
	createRun(t, repo)
	remote.projects["RP1"] = []*execapi.ProjectStatus{projectStatus()}
	p := NewProjectPoller(repo, remote, eventbus.New(), time.Hour)

	retired, err := p.PollRun(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, retired)
	run, err := repo.Get(ctx, "R1")
	require.NoError(t, err)
	assert.False(t, run.Active)
	assert.Empty(t, run.Subtasks)

	retired, err = p.PollRun(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, retired)
	assert.Equal(t, 1, remote.callCount("RP1"))
}

func TestProjectPoller_WatcherStopsWhenRunMissing(t *testing.T) {
	remote := newFakeRemote()
	p := NewProjectPoller(runrepo.NewYAMLRepository(newStorage(t)), remote, eventbus.New(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Watch(&projectrun.ProjectRun{ID: "gone", RemoteProjectID: "RP1", Active: true})
	require.Eventually(t, func() bool { return !p.Watching("gone") }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, remote.callCount("RP1"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("project poller did not stop")
	}
}

func TestProjectPoller_FailureLeavesRunUntouched(t *testing.T) {
	ctx := context.Background()
	repo := runrepo.NewYAMLRepository(newStorage(t))
	remote := newFakeRemote()
	createRun(t, repo)
	remote.errs["RP1"] = cerr.NewError(cerr.Unavailable, "execution API is unavailable", execapi.ErrUnavailable)
	p := NewProjectPoller(repo, remote, eventbus.New(), time.Hour)

	retired, err := p.PollRun(ctx, "R1")
	require.Error(t, err)
	assert.False(t, retired)

	run, err := repo.Get(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, run.Active)
	assert.Equal(t, projectrun.InitialSubtaskDescription, run.Subtasks[0].Description)
}

func TestProjectPoller_WatcherStopsAfterRetirement(t *testing.T) {
	repo := runrepo.NewYAMLRepository(newStorage(t))
	remote := newFakeRemote()
	run := createRun(t, repo)
	remote.projects["RP1"] = []*execapi.ProjectStatus{
		projectStatus("completed", "running"),
		projectStatus("completed", "completed"),
	}
	p := NewProjectPoller(repo, remote, eventbus.New(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Resume picks up the persisted active run; Watch is idempotent.
	p.Watch(run)
	require.Eventually(t, func() bool {
		got, err := repo.Get(context.Background(), "R1")
		return err == nil && !got.Active
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !p.Watching("R1") }, time.Second, 5*time.Millisecond)

	calls := remote.callCount("RP1")
	assert.Equal(t, 2, calls)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, remote.callCount("RP1"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("project poller did not stop")
	}
}

func TestProjectPoller_WatchIgnoresInactiveRuns(t *testing.T) {
	p := NewProjectPoller(runrepo.NewYAMLRepository(newStorage(t)), newFakeRemote(), eventbus.New(), time.Hour)
	p.Watch(&projectrun.ProjectRun{ID: "R1"})
	assert.False(t, p.Watching("R1"))
}

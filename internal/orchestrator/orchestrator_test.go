package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/execapi"
	"github.com/kazz187/agentdash/internal/project"
	projectrepo "github.com/kazz187/agentdash/internal/project/repositoryimpl"
	"github.com/kazz187/agentdash/internal/projectrun"
	runrepo "github.com/kazz187/agentdash/internal/projectrun/repositoryimpl"
	"github.com/kazz187/agentdash/internal/task"
	taskrepo "github.com/kazz187/agentdash/internal/task/repositoryimpl"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/storage"
)

type fakeSubmitter struct {
	mu          sync.Mutex
	taskCalls   int
	projectArgs [][]string
	taskRes     *execapi.TaskSubmission
	projectRes  *execapi.ProjectSubmission
	err         error
}

func (f *fakeSubmitter) SubmitTask(_ context.Context, _ *task.Task, _ string) (*execapi.TaskSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskCalls++
	return f.taskRes, f.err
}

func (f *fakeSubmitter) SubmitProject(_ context.Context, _ string, keyFiles []string) (*execapi.ProjectSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projectArgs = append(f.projectArgs, keyFiles)
	return f.projectRes, f.err
}

type fakeWatcher struct {
	runs []*projectrun.ProjectRun
}

func (f *fakeWatcher) Watch(run *projectrun.ProjectRun) {
	f.runs = append(f.runs, run)
}

type fixture struct {
	orch      *Orchestrator
	tasks     task.Repository
	projects  project.Repository
	runs      projectrun.Repository
	submitter *fakeSubmitter
	watcher   *fakeWatcher
	bus       *eventbus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	f := &fixture{
		tasks:     taskrepo.NewYAMLRepository(st),
		projects:  projectrepo.NewYAMLRepository(st),
		runs:      runrepo.NewYAMLRepository(st),
		submitter: &fakeSubmitter{},
		watcher:   &fakeWatcher{},
		bus:       eventbus.New(),
	}
	f.orch = New(f.bus, f.tasks, f.projects, f.runs, f.submitter, f.watcher)
	return f
}

func (f *fixture) project(t *testing.T, repoURL, keyFiles string) *project.Project {
	t.Helper()
	p := &project.Project{
		ID: "P1", OwnerID: "alice", Name: "Widgets", Key: "WID",
		RepositoryURL: repoURL, KeyFiles: keyFiles,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, f.projects.Create(context.Background(), p))
	return p
}

func (f *fixture) task(t *testing.T, state task.State) *task.Task {
	t.Helper()
	tk := &task.Task{
		ID: "T1", OwnerID: "alice", Code: "WID-001", Title: "Fix login",
		State: state, Priority: task.PriorityMedium, ProjectID: "P1",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, f.tasks.Create(context.Background(), tk))
	return tk
}

func TestRunTask(t *testing.T) {
	f := newFixture(t)
	f.project(t, "https://github.com/acme/widgets", "")
	f.task(t, task.StateDraft)
	f.submitter.taskRes = &execapi.TaskSubmission{RemoteJobID: "X1"}

	subID, events := f.bus.Subscribe(4)
	defer f.bus.Unsubscribe(subID)

	got, err := f.orch.RunTask(context.Background(), "alice", "T1")
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, got.State)
	assert.Equal(t, "X1", got.RemoteJobID)

	stored, err := f.tasks.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, stored.State)
	assert.Equal(t, "X1", stored.RemoteJobID)
	assert.True(t, stored.InFlight())

	ev := <-events
	assert.Equal(t, eventbus.TaskRunStarted, ev.Type)
	assert.Equal(t, "T1", ev.ResourceID)
}

func TestRunTask_KeepsBranchWhenNoneReturned(t *testing.T) {
	f := newFixture(t)
	f.project(t, "https://github.com/acme/widgets", "")
	tk := f.task(t, task.StateFailed)
	_, err := f.tasks.Mutate(context.Background(), tk.ID, "", func(cur *task.Task) error {
		cur.BranchName = "feature/old"
		cur.RemoteJobID = "X0"
		return nil
	})
	require.NoError(t, err)
	f.submitter.taskRes = &execapi.TaskSubmission{RemoteJobID: "X1"}

	got, err := f.orch.RunTask(context.Background(), "alice", "T1")
	require.NoError(t, err)
	assert.Equal(t, "X1", got.RemoteJobID)
	assert.Equal(t, "feature/old", got.BranchName)
}

func TestRunTask_NoRepositoryURL(t *testing.T) {
	f := newFixture(t)
	f.project(t, "", "")
	f.task(t, task.StateDraft)

	_, err := f.orch.RunTask(context.Background(), "alice", "T1")
	require.Error(t, err)
	assert.ErrorIs(t, err, execapi.ErrInvalidInput)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	assert.Zero(t, f.submitter.taskCalls)

	stored, err := f.tasks.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, task.StateDraft, stored.State)
	assert.Empty(t, stored.RemoteJobID)
}

func TestRunTask_Complete(t *testing.T) {
	f := newFixture(t)
	f.project(t, "https://github.com/acme/widgets", "")
	f.task(t, task.StateComplete)

	_, err := f.orch.RunTask(context.Background(), "alice", "T1")
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrIllegalTransition)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	assert.Zero(t, f.submitter.taskCalls)
}

func TestRunTask_RemoteFailureLeavesTaskUntouched(t *testing.T) {
	f := newFixture(t)
	f.project(t, "https://github.com/acme/widgets", "")
	f.task(t, task.StateDraft)
	f.submitter.err = cerr.NewError(cerr.Unavailable, "execution API is unavailable", execapi.ErrUnavailable)

	_, err := f.orch.RunTask(context.Background(), "alice", "T1")
	assert.ErrorIs(t, err, execapi.ErrUnavailable)

	stored, err := f.tasks.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, task.StateDraft, stored.State)
	assert.Empty(t, stored.RemoteJobID)
}

func TestRunTask_OtherOwner(t *testing.T) {
	f := newFixture(t)
	f.project(t, "https://github.com/acme/widgets", "")
	f.task(t, task.StateDraft)

	_, err := f.orch.RunTask(context.Background(), "bob", "T1")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	assert.Zero(t, f.submitter.taskCalls)
}

func TestRunProject(t *testing.T) {
	f := newFixture(t)
	f.project(t, "https://github.com/acme/widgets", " a.py, b.py\nc.py ,\n")
	f.submitter.projectRes = &execapi.ProjectSubmission{RemoteProjectID: "RP1", SubtaskIDs: []string{"s1", "s2"}}

	run, err := f.orch.RunProject(context.Background(), "alice", "P1")
	require.NoError(t, err)

	require.Len(t, f.submitter.projectArgs, 1)
	assert.Equal(t, []string{"a.py", "b.py", "c.py"}, f.submitter.projectArgs[0])

	assert.True(t, run.Active)
	assert.Equal(t, "RP1", run.RemoteProjectID)
	assert.Equal(t, []projectrun.Subtask{
		{RemoteID: "s1", Status: "pending", Description: "Initializing..."},
		{RemoteID: "s2", Status: "pending", Description: "Initializing..."},
	}, run.Subtasks)

	stored, err := f.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Subtasks, stored.Subtasks)
	assert.True(t, stored.Active)

	require.Len(t, f.watcher.runs, 1)
	assert.Equal(t, run.ID, f.watcher.runs[0].ID)
}

func TestRunProject_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		repoURL  string
		keyFiles string
	}{
		{name: "empty manifest", repoURL: "https://github.com/acme/widgets", keyFiles: ""},
		{name: "blank manifest", repoURL: "https://github.com/acme/widgets", keyFiles: ",  ,\n"},
		{name: "no repository", repoURL: "", keyFiles: "a.py"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.project(t, tt.repoURL, tt.keyFiles)

			_, err := f.orch.RunProject(context.Background(), "alice", "P1")
			require.Error(t, err)
			assert.ErrorIs(t, err, execapi.ErrInvalidInput)
			assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
			assert.Empty(t, f.submitter.projectArgs)
			assert.Empty(t, f.watcher.runs)

			runs, total, err := f.runs.List(context.Background(), projectrun.Filter{})
			require.NoError(t, err)
			assert.Zero(t, total)
			assert.Empty(t, runs)
		})
	}
}

func TestRunProject_Archived(t *testing.T) {
	f := newFixture(t)
	f.project(t, "https://github.com/acme/widgets", "a.py")
	_, err := f.projects.Mutate(context.Background(), "P1", "", func(p *project.Project) error {
		p.Archived = true
		return nil
	})
	require.NoError(t, err)

	_, err = f.orch.RunProject(context.Background(), "alice", "P1")
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	assert.Empty(t, f.submitter.projectArgs)
}

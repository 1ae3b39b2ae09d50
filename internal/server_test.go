package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/agentdash/internal/agent"
	agentrepo "github.com/kazz187/agentdash/internal/agent/repositoryimpl"
	"github.com/kazz187/agentdash/internal/config"
	"github.com/kazz187/agentdash/internal/event"
	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/execapi"
	"github.com/kazz187/agentdash/internal/orchestrator"
	"github.com/kazz187/agentdash/internal/project"
	projectrepo "github.com/kazz187/agentdash/internal/project/repositoryimpl"
	"github.com/kazz187/agentdash/internal/projectrun"
	runrepo "github.com/kazz187/agentdash/internal/projectrun/repositoryimpl"
	"github.com/kazz187/agentdash/internal/pushnotification"
	pushrepo "github.com/kazz187/agentdash/internal/pushsubscription/repositoryimpl"
	"github.com/kazz187/agentdash/internal/task"
	taskrepo "github.com/kazz187/agentdash/internal/task/repositoryimpl"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/storage"
)

type watchedRuns struct {
	mu  sync.Mutex
	ids []string
}

func (w *watchedRuns) Watch(run *projectrun.ProjectRun) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ids = append(w.ids, run.ID)
}

type apiClient struct {
	t      *testing.T
	srv    *httptest.Server
	apiKey string
}

func (c *apiClient) do(method, path string, body any, out any) int {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, r)
	require.NoError(c.t, err)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	res, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(c.t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

type testEnv struct {
	srv       *httptest.Server
	remote    *httptest.Server
	runs      *watchedRuns
	storeDown atomic.Bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/tasks":
			_, _ = io.WriteString(w, `{"task_id":"job-1","branch_name":"feature/login"}`)
		case "/api/project-tasks":
			_, _ = io.WriteString(w, `{"project_id":"remote-p1","subtask_ids":["s1","s2"]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(remote.Close)

	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	bus := eventbus.New()
	tasks := taskrepo.NewYAMLRepository(st)
	projects := projectrepo.NewYAMLRepository(st)
	agents := agentrepo.NewYAMLRepository(st)
	runs := runrepo.NewYAMLRepository(st)
	watched := &watchedRuns{}
	orch := orchestrator.New(bus, tasks, projects, runs, execapi.New(remote.URL), watched)

	env := &testEnv{remote: remote, runs: watched}
	ping := func(ctx context.Context) error {
		if env.storeDown.Load() {
			return errors.New("disk detached")
		}
		_, err := st.List(ctx, projectrepo.ProjectsPrefix)
		return err
	}

	vapid := &config.VAPIDEnv{}
	pushRepo := pushrepo.NewYAMLRepository(st)
	s := NewServer(
		&config.BaseEnv{APIKeys: map[string]string{"alice-key": "alice", "bob-key": "bob"}},
		ping,
		project.NewServer(projects, runs, orch, bus),
		projectrun.NewServer(runs),
		task.NewServer(tasks, projects, agents, orch, bus),
		agent.NewServer(agents, bus),
		event.NewServer(bus),
		pushnotification.NewServer(vapid, pushRepo, pushnotification.NewSender(vapid, pushRepo)),
	)
	env.srv = httptest.NewServer(s.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) client(t *testing.T, apiKey string) *apiClient {
	return &apiClient{t: t, srv: e.srv, apiKey: apiKey}
}

func TestServerAuthentication(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, env.client(t, "").do(http.MethodGet, "/health", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, env.client(t, "").do(http.MethodGet, "/api/projects", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, env.client(t, "wrong").do(http.MethodGet, "/api/projects", nil, nil))
	assert.Equal(t, http.StatusOK, env.client(t, "alice-key").do(http.MethodGet, "/api/projects", nil, nil))
}

func TestServerGRPCHealth(t *testing.T) {
	env := newTestEnv(t)
	check := func(service string) (int, map[string]any) {
		t.Helper()
		res, err := env.srv.Client().Post(env.srv.URL+"/grpc.health.v1.Health/Check", "application/json",
			strings.NewReader(`{"service":"`+service+`"}`))
		require.NoError(t, err)
		defer res.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
		return res.StatusCode, body
	}

	status, body := check("")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SERVING", body["status"])

	status, body = check("agentdash.Unknown")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])

	env.storeDown.Store(true)
	status, body = check("")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unavailable", body["code"])
	assert.Equal(t, "record store is unavailable", body["message"])
}

func TestServerNotFound(t *testing.T) {
	env := newTestEnv(t)

	var herr cerr.HTTPError
	status := env.client(t, "alice-key").do(http.MethodGet, "/api/nope", nil, &herr)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NotFound", herr.Code)
}

func TestServerTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	alice := env.client(t, "alice-key")
	bob := env.client(t, "bob-key")

	var p project.Project
	require.Equal(t, http.StatusCreated, alice.do(http.MethodPost, "/api/projects", map[string]any{
		"name":           "Web App",
		"repository_url": "https://github.com/acme/web.git",
		"key_files":      "a.py,b.py",
	}, &p))
	assert.Equal(t, "WEB", p.Key)

	var created task.Task
	require.Equal(t, http.StatusCreated, alice.do(http.MethodPost, "/api/tasks", map[string]any{
		"title":      "Add login",
		"project_id": p.ID,
		"tags":       []string{"auth", " auth ", ""},
	}, &created))
	assert.Equal(t, "WEB-001", created.Code)
	assert.Equal(t, task.StateDraft, created.State)
	assert.Equal(t, task.PriorityMedium, created.Priority)
	assert.Equal(t, []string{"auth"}, created.Tags)

	var herr cerr.HTTPError
	assert.Equal(t, http.StatusNotFound, bob.do(http.MethodGet, "/api/tasks/"+created.ID, nil, &herr))

	var started task.Task
	require.Equal(t, http.StatusAccepted, alice.do(http.MethodPost, "/api/tasks/"+created.ID+"/run", nil, &started))
	assert.Equal(t, task.StatePending, started.State)
	assert.Equal(t, "job-1", started.RemoteJobID)
	assert.Equal(t, "feature/login", started.BranchName)

	status := alice.do(http.MethodPatch, "/api/tasks/"+created.ID, map[string]any{"state": "complete"}, &herr)
	assert.Equal(t, http.StatusPreconditionFailed, status)
	assert.Equal(t, "FailedPrecondition", herr.Code)

	status = alice.do(http.MethodPost, "/api/tasks/"+created.ID+"/reset", nil, &herr)
	assert.Equal(t, http.StatusPreconditionFailed, status)

	var grouped task.GroupedTasks
	require.Equal(t, http.StatusOK, alice.do(http.MethodGet, "/api/tasks?group=state", nil, &grouped))
	assert.Equal(t, 1, grouped.Total)
	require.Len(t, grouped.Groups[task.StatePending], 1)
	assert.Equal(t, created.ID, grouped.Groups[task.StatePending][0].ID)
}

func TestServerCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)

	var herr cerr.HTTPError
	status := env.client(t, "alice-key").do(http.MethodPost, "/api/tasks", map[string]any{
		"priority": "urgent",
	}, &herr)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "InvalidArgument", herr.Code)

	fields := make([]string, 0, len(herr.Violations))
	for _, v := range herr.Violations {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{"title", "project_id", "priority"}, fields)
}

func TestServerRunProject(t *testing.T) {
	env := newTestEnv(t)
	alice := env.client(t, "alice-key")

	var p project.Project
	require.Equal(t, http.StatusCreated, alice.do(http.MethodPost, "/api/projects", map[string]any{
		"name":           "Api",
		"repository_url": "https://github.com/acme/api",
		"key_files":      "a.py,b.py",
	}, &p))

	var run projectrun.ProjectRun
	require.Equal(t, http.StatusAccepted, alice.do(http.MethodPost, "/api/projects/"+p.ID+"/run", nil, &run))
	assert.Equal(t, "remote-p1", run.RemoteProjectID)
	assert.True(t, run.Active)
	require.Len(t, run.Subtasks, 2)
	assert.Equal(t, projectrun.InitialSubtaskDescription, run.Subtasks[0].Description)
	assert.Equal(t, []string{run.ID}, env.runs.ids)

	var got projectrun.RunResponse
	require.Equal(t, http.StatusOK, alice.do(http.MethodGet, "/api/project-runs/"+run.ID, nil, &got))
	assert.Equal(t, 2, got.Progress.Total)
	assert.Equal(t, 2, got.Progress.Running)

	var herr cerr.HTTPError
	assert.Equal(t, http.StatusNotFound, env.client(t, "bob-key").do(http.MethodGet, "/api/project-runs/"+run.ID, nil, &herr))
}

func TestServerPushWithoutVAPID(t *testing.T) {
	env := newTestEnv(t)

	var herr cerr.HTTPError
	status := env.client(t, "alice-key").do(http.MethodGet, "/api/push/vapid-public-key", nil, &herr)
	assert.Equal(t, http.StatusPreconditionFailed, status)
	assert.Equal(t, "FailedPrecondition", herr.Code)
}

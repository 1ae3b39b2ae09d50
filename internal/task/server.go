package task

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/agentdash/internal/agent"
	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/owner"
	"github.com/kazz187/agentdash/internal/project"
	"github.com/kazz187/agentdash/internal/request"
	"github.com/kazz187/agentdash/pkg/cerr"
)

// Runner starts task runs.
type Runner interface {
	RunTask(ctx context.Context, ownerID, taskID string) (*Task, error)
}

type Server struct {
	repo        Repository
	projectRepo project.Repository
	agentRepo   agent.Repository
	runner      Runner
	eventBus    *eventbus.Bus
}

func NewServer(repo Repository, projectRepo project.Repository, agentRepo agent.Repository, runner Runner, eventBus *eventbus.Bus) *Server {
	return &Server{
		repo:        repo,
		projectRepo: projectRepo,
		agentRepo:   agentRepo,
		runner:      runner,
		eventBus:    eventBus,
	}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/", s.CreateTask)
	r.Get("/", s.ListTasks)
	r.Get("/{id}", s.GetTask)
	r.Patch("/{id}", s.UpdateTask)
	r.Delete("/{id}", s.DeleteTask)
	r.Post("/{id}/run", s.RunTask)
	r.Post("/{id}/reset", s.ResetTask)
}

type CreateTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	ProjectID   string   `json:"project_id"`
	AgentID     string   `json:"agent_id"`
	Tags        []string `json:"tags"`
}

func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateTaskRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}
	e := cerr.NewError(cerr.InvalidArgument, "invalid task", nil)
	if strings.TrimSpace(req.Title) == "" {
		e.AddFieldViolation("title", "required")
	}
	if req.ProjectID == "" {
		e.AddFieldViolation("project_id", "required")
	}
	if !req.Priority.Valid() {
		e.AddFieldViolation("priority", "must be low, medium or high")
	}
	if e.HasViolations() {
		cerr.SetJSONError(ctx, e)
		return
	}

	ownerID := owner.FromContext(ctx)
	p, err := s.activeProject(ctx, ownerID, req.ProjectID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.AgentID != "" {
		if err := s.checkAgent(ctx, ownerID, req.AgentID); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
	}

	n, err := s.projectRepo.NextTaskNumber(ctx, p.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}

	now := time.Now()
	t := &Task{
		ID:          ulid.Make().String(),
		OwnerID:     ownerID,
		Code:        FormatCode(p.Key, n),
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		State:       StateDraft,
		Priority:    req.Priority,
		ProjectID:   p.ID,
		AgentID:     req.AgentID,
		Tags:        NormalizeTags(req.Tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.publish(eventbus.TaskCreated, t)
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, t)
}

// GroupedTasks is the list response for group=state.
type GroupedTasks struct {
	Groups map[State][]*Task `json:"groups"`
	Total  int               `json:"total"`
}

func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset, err := request.Pagination(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	q := r.URL.Query()
	f := Filter{
		OwnerID:   owner.FromContext(ctx),
		ProjectID: q.Get("project_id"),
		State:     State(q.Get("state")),
		Query:     strings.TrimSpace(q.Get("q")),
		Limit:     limit,
		Offset:    offset,
	}
	if f.State != "" && !f.State.Valid() {
		cerr.SetJSONError(ctx, cerr.NewError(cerr.InvalidArgument, "invalid state", nil).
			AddFieldViolation("state", "unknown state"))
		return
	}

	switch group := q.Get("group"); group {
	case "":
		tasks, total, err := s.repo.List(ctx, f)
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		cerr.SetJSONResponse(ctx, request.NewListResponse(tasks, total, limit, offset))
	case "state":
		f.Limit, f.Offset = 0, 0
		tasks, total, err := s.repo.List(ctx, f)
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		cerr.SetJSONResponse(ctx, GroupedTasks{Groups: GroupByState(tasks), Total: total})
	default:
		cerr.SetJSONError(ctx, cerr.NewError(cerr.InvalidArgument, "invalid group", nil).
			AddFieldViolation("group", fmt.Sprintf("unsupported grouping %q", group)))
	}
}

func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.repo.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if ownerID := owner.FromContext(ctx); ownerID != "" && t.OwnerID != ownerID {
		cerr.SetNewJSONError(ctx, cerr.NotFound, "task not found", nil)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

// UpdateTaskRequest holds optional fields; nil leaves a field unchanged.
// State is accepted only to reject it: the lifecycle moves by run, poll and
// reset.
type UpdateTaskRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Priority    *Priority `json:"priority"`
	AgentID     *string   `json:"agent_id"`
	Tags        *[]string `json:"tags"`
	State       *State    `json:"state"`
}

func (s *Server) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req UpdateTaskRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	e := cerr.NewError(cerr.InvalidArgument, "invalid task", nil)
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		e.AddFieldViolation("title", "must not be empty")
	}
	if req.Priority != nil && !req.Priority.Valid() {
		e.AddFieldViolation("priority", "must be low, medium or high")
	}
	if e.HasViolations() {
		cerr.SetJSONError(ctx, e)
		return
	}

	ownerID := owner.FromContext(ctx)
	if req.AgentID != nil && *req.AgentID != "" {
		if err := s.checkAgent(ctx, ownerID, *req.AgentID); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
	}

	t, err := s.repo.Mutate(ctx, chi.URLParam(r, "id"), ownerID, func(t *Task) error {
		if req.State != nil && *req.State != t.State {
			return cerr.NewError(cerr.FailedPrecondition, "task state cannot be edited directly", ErrIllegalTransition).
				AddFieldViolation("state", "use run or reset")
		}
		if req.Title != nil {
			t.Title = strings.TrimSpace(*req.Title)
		}
		if req.Description != nil {
			t.Description = *req.Description
		}
		if req.Priority != nil {
			t.Priority = *req.Priority
		}
		if req.AgentID != nil {
			t.AgentID = *req.AgentID
		}
		if req.Tags != nil {
			t.Tags = NormalizeTags(*req.Tags)
		}
		t.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.publish(eventbus.TaskUpdated, t)
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	ownerID := owner.FromContext(ctx)
	if err := s.repo.Delete(ctx, id, ownerID); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.eventBus.PublishNew(eventbus.TaskDeleted, id, nil, map[string]string{
		eventbus.MetaOwnerID: ownerID,
	})
	cerr.SetJSONResponseWithStatus(ctx, http.StatusOK, struct{}{})
}

func (s *Server) RunTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.runner.RunTask(ctx, owner.FromContext(ctx), chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusAccepted, t)
}

// ResetTask moves a draft or failed task back to draft. The previous
// correlation id is kept.
func (s *Server) ResetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.repo.Mutate(ctx, chi.URLParam(r, "id"), owner.FromContext(ctx), func(t *Task) error {
		if err := Transition(TriggerReset, t.State, StateDraft); err != nil {
			return cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task in state %s cannot be reset", t.State), err)
		}
		t.State = StateDraft
		t.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.publish(eventbus.TaskUpdated, t)
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) activeProject(ctx context.Context, ownerID, id string) (*project.Project, error) {
	p, err := s.projectRepo.Get(ctx, id)
	if cerr.IsCode(err, cerr.NotFound) || (err == nil && ownerID != "" && p.OwnerID != ownerID) {
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid task", err).
			AddFieldViolation("project_id", "project not found")
	}
	if err != nil {
		return nil, err
	}
	if p.Archived {
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid task", nil).
			AddFieldViolation("project_id", "project is archived")
	}
	return p, nil
}

func (s *Server) checkAgent(ctx context.Context, ownerID, id string) error {
	a, err := s.agentRepo.Get(ctx, id)
	if cerr.IsCode(err, cerr.NotFound) || (err == nil && ownerID != "" && a.OwnerID != ownerID) {
		return cerr.NewError(cerr.InvalidArgument, "invalid task", err).
			AddFieldViolation("agent_id", "agent not found")
	}
	if err != nil {
		return err
	}
	if a.Archived {
		return cerr.NewError(cerr.InvalidArgument, "invalid task", nil).
			AddFieldViolation("agent_id", "agent is archived")
	}
	return nil
}

func (s *Server) publish(eventType eventbus.EventType, t *Task) {
	s.eventBus.PublishNew(eventType, t.ID, t, map[string]string{
		eventbus.MetaOwnerID:   t.OwnerID,
		eventbus.MetaProjectID: t.ProjectID,
		eventbus.MetaState:     string(t.State),
	})
}

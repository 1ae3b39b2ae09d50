package project

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/owner"
	"github.com/kazz187/agentdash/internal/projectrun"
	"github.com/kazz187/agentdash/internal/request"
	"github.com/kazz187/agentdash/pkg/cerr"
)

// Runner starts project runs.
type Runner interface {
	RunProject(ctx context.Context, ownerID, projectID string) (*projectrun.ProjectRun, error)
}

type Server struct {
	repo     Repository
	runRepo  projectrun.Repository
	runner   Runner
	eventBus *eventbus.Bus
}

func NewServer(repo Repository, runRepo projectrun.Repository, runner Runner, eventBus *eventbus.Bus) *Server {
	return &Server{repo: repo, runRepo: runRepo, runner: runner, eventBus: eventBus}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/", s.CreateProject)
	r.Get("/", s.ListProjects)
	r.Get("/{id}", s.GetProject)
	r.Patch("/{id}", s.UpdateProject)
	r.Post("/{id}/archive", s.ArchiveProject)
	r.Post("/{id}/run", s.RunProject)
	r.Get("/{id}/runs", s.ListProjectRuns)
}

type CreateProjectRequest struct {
	Name          string `json:"name"`
	Key           string `json:"key"`
	Description   string `json:"description"`
	RepositoryURL string `json:"repository_url"`
	KeyFiles      string `json:"key_files"`
}

func (s *Server) CreateProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateProjectRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		cerr.SetJSONError(ctx, cerr.NewError(cerr.InvalidArgument, "invalid project", nil).
			AddFieldViolation("name", "required"))
		return
	}
	key := strings.TrimSpace(req.Key)
	var err error
	if key == "" {
		key, err = DeriveKey(name)
	} else {
		err = ValidateKey(key)
	}
	if err != nil {
		cerr.SetJSONError(ctx, cerr.NewError(cerr.InvalidArgument, "invalid project", err).
			AddFieldViolation("key", "must be 2-6 uppercase letters"))
		return
	}

	now := time.Now()
	p := &Project{
		ID:            ulid.Make().String(),
		OwnerID:       owner.FromContext(ctx),
		Name:          name,
		Key:           key,
		Description:   req.Description,
		RepositoryURL: strings.TrimSpace(req.RepositoryURL),
		KeyFiles:      req.KeyFiles,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.publish(eventbus.ProjectCreated, p)
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, p)
}

func (s *Server) ListProjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset, err := request.Pagination(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	archived, err := request.Bool(r, "archived")
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	projects, total, err := s.repo.List(ctx, Filter{
		OwnerID:  owner.FromContext(ctx),
		Archived: archived,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, request.NewListResponse(projects, total, limit, offset))
}

func (s *Server) GetProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := s.get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, p)
}

// UpdateProjectRequest holds optional fields; nil leaves a field unchanged.
type UpdateProjectRequest struct {
	Name          *string `json:"name"`
	Key           *string `json:"key"`
	Description   *string `json:"description"`
	RepositoryURL *string `json:"repository_url"`
	KeyFiles      *string `json:"key_files"`
}

func (s *Server) UpdateProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req UpdateProjectRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		cerr.SetJSONError(ctx, cerr.NewError(cerr.InvalidArgument, "invalid project", nil).
			AddFieldViolation("name", "must not be empty"))
		return
	}

	p, err := s.repo.Mutate(ctx, chi.URLParam(r, "id"), owner.FromContext(ctx), func(p *Project) error {
		if req.Key != nil && *req.Key != p.Key {
			return cerr.NewError(cerr.InvalidArgument, "project key cannot be changed", nil).
				AddFieldViolation("key", "immutable after creation")
		}
		if req.Name != nil {
			p.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			p.Description = *req.Description
		}
		if req.RepositoryURL != nil {
			p.RepositoryURL = strings.TrimSpace(*req.RepositoryURL)
		}
		if req.KeyFiles != nil {
			p.KeyFiles = *req.KeyFiles
		}
		p.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.publish(eventbus.ProjectUpdated, p)
	cerr.SetJSONResponse(ctx, p)
}

// ArchiveProject hides a project from selection. Existing tasks keep their
// reference. Archiving is one-way.
func (s *Server) ArchiveProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := s.repo.Mutate(ctx, chi.URLParam(r, "id"), owner.FromContext(ctx), func(p *Project) error {
		if p.Archived {
			return nil
		}
		p.Archived = true
		p.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.publish(eventbus.ProjectUpdated, p)
	cerr.SetJSONResponse(ctx, p)
}

func (s *Server) RunProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := s.runner.RunProject(ctx, owner.FromContext(ctx), chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusAccepted, run)
}

func (s *Server) ListProjectRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := s.get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	limit, offset, err := request.Pagination(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	activeOnly, err := request.Bool(r, "active")
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	runs, total, err := s.runRepo.List(ctx, projectrun.Filter{
		OwnerID:    p.OwnerID,
		ProjectID:  p.ID,
		ActiveOnly: activeOnly,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, request.NewListResponse(runs, total, limit, offset))
}

// get loads a project visible to the caller. Foreign projects are reported
// as not found.
func (s *Server) get(ctx context.Context, id string) (*Project, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ownerID := owner.FromContext(ctx); ownerID != "" && p.OwnerID != ownerID {
		return nil, cerr.NewError(cerr.NotFound, "project not found", nil)
	}
	return p, nil
}

func (s *Server) publish(eventType eventbus.EventType, p *Project) {
	s.eventBus.PublishNew(eventType, p.ID, p, map[string]string{
		eventbus.MetaOwnerID:   p.OwnerID,
		eventbus.MetaProjectID: p.ID,
	})
}

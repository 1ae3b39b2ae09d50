package agent

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/owner"
	"github.com/kazz187/agentdash/internal/request"
	"github.com/kazz187/agentdash/pkg/cerr"
)

type Server struct {
	repo     Repository
	eventBus *eventbus.Bus
}

func NewServer(repo Repository, eventBus *eventbus.Bus) *Server {
	return &Server{repo: repo, eventBus: eventBus}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/", s.CreateAgent)
	r.Get("/", s.ListAgents)
	r.Get("/{id}", s.GetAgent)
	r.Patch("/{id}", s.UpdateAgent)
	r.Post("/{id}/archive", s.ArchiveAgent)
}

type CreateAgentRequest struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

func (s *Server) CreateAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateAgentRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	e := cerr.NewError(cerr.InvalidArgument, "invalid agent", nil)
	if strings.TrimSpace(req.Name) == "" {
		e.AddFieldViolation("name", "required")
	}
	if strings.TrimSpace(req.URL) == "" {
		e.AddFieldViolation("url", "required")
	}
	if e.HasViolations() {
		cerr.SetJSONError(ctx, e)
		return
	}

	now := time.Now()
	a := &Agent{
		ID:          ulid.Make().String(),
		OwnerID:     owner.FromContext(ctx),
		Name:        strings.TrimSpace(req.Name),
		URL:         strings.TrimSpace(req.URL),
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.publish(eventbus.AgentCreated, a)
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, a)
}

func (s *Server) ListAgents(w http.ResponseWriter, r *http.Request) {
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
	agents, total, err := s.repo.List(ctx, Filter{
		OwnerID:  owner.FromContext(ctx),
		Archived: archived,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, request.NewListResponse(agents, total, limit, offset))
}

func (s *Server) GetAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, a)
}

type UpdateAgentRequest struct {
	Name        *string `json:"name"`
	URL         *string `json:"url"`
	Description *string `json:"description"`
}

func (s *Server) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req UpdateAgentRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	e := cerr.NewError(cerr.InvalidArgument, "invalid agent", nil)
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		e.AddFieldViolation("name", "must not be empty")
	}
	if req.URL != nil && strings.TrimSpace(*req.URL) == "" {
		e.AddFieldViolation("url", "must not be empty")
	}
	if e.HasViolations() {
		cerr.SetJSONError(ctx, e)
		return
	}

	a, err := s.repo.Mutate(ctx, chi.URLParam(r, "id"), owner.FromContext(ctx), func(a *Agent) error {
		if req.Name != nil {
			a.Name = strings.TrimSpace(*req.Name)
		}
		if req.URL != nil {
			a.URL = strings.TrimSpace(*req.URL)
		}
		if req.Description != nil {
			a.Description = *req.Description
		}
		a.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.publish(eventbus.AgentUpdated, a)
	cerr.SetJSONResponse(ctx, a)
}

func (s *Server) ArchiveAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.repo.Mutate(ctx, chi.URLParam(r, "id"), owner.FromContext(ctx), func(a *Agent) error {
		if !a.Archived {
			a.Archived = true
			a.UpdatedAt = time.Now()
		}
		return nil
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.publish(eventbus.AgentUpdated, a)
	cerr.SetJSONResponse(ctx, a)
}

// get loads an agent visible to the caller. Foreign agents are reported as
// not found.
func (s *Server) get(ctx context.Context, id string) (*Agent, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ownerID := owner.FromContext(ctx); ownerID != "" && a.OwnerID != ownerID {
		return nil, cerr.NewError(cerr.NotFound, "agent not found", nil)
	}
	return a, nil
}

func (s *Server) publish(eventType eventbus.EventType, a *Agent) {
	s.eventBus.PublishNew(eventType, a.ID, a, map[string]string{
		eventbus.MetaOwnerID: a.OwnerID,
	})
}

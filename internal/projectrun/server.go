package projectrun

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/agentdash/internal/owner"
	"github.com/kazz187/agentdash/pkg/cerr"
)

type Server struct {
	repo Repository
}

func NewServer(repo Repository) *Server {
	return &Server{repo: repo}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/{id}", s.GetProjectRun)
}

// RunResponse adds derived progress to a stored run.
type RunResponse struct {
	*ProjectRun
	Progress Progress `json:"progress"`
}

func (s *Server) GetProjectRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := s.repo.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if ownerID := owner.FromContext(ctx); ownerID != "" && run.OwnerID != ownerID {
		cerr.SetNewJSONError(ctx, cerr.NotFound, "project run not found", nil)
		return
	}
	cerr.SetJSONResponse(ctx, RunResponse{ProjectRun: run, Progress: run.Progress()})
}

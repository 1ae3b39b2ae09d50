package pushnotification

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/agentdash/internal/config"
	"github.com/kazz187/agentdash/internal/owner"
	"github.com/kazz187/agentdash/internal/pushsubscription"
	"github.com/kazz187/agentdash/internal/request"
	"github.com/kazz187/agentdash/pkg/cerr"
)

type Server struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
	notifier Notifier
}

func NewServer(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository, notifier Notifier) *Server {
	return &Server{
		vapidEnv: vapidEnv,
		repo:     repo,
		notifier: notifier,
	}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/vapid-public-key", s.GetVapidPublicKey)
	r.Post("/subscriptions", s.RegisterSubscription)
	r.Delete("/subscriptions", s.UnregisterSubscription)
	r.Post("/test", s.SendTestNotification)
}

type VapidPublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

func (s *Server) GetVapidPublicKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.vapidEnv.VAPIDPublicKey == "" {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "VAPID keys not configured", nil)
		return
	}
	cerr.SetJSONResponse(ctx, &VapidPublicKeyResponse{PublicKey: s.vapidEnv.VAPIDPublicKey})
}

type RegisterSubscriptionRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
}

// RegisterSubscription is idempotent per endpoint: registering a known
// endpoint again refreshes its keys.
func (s *Server) RegisterSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RegisterSubscriptionRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	e := cerr.NewError(cerr.InvalidArgument, "invalid push subscription", nil)
	if strings.TrimSpace(req.Endpoint) == "" {
		e.AddFieldViolation("endpoint", "required")
	}
	if req.P256dhKey == "" {
		e.AddFieldViolation("p256dh_key", "required")
	}
	if req.AuthKey == "" {
		e.AddFieldViolation("auth_key", "required")
	}
	if e.HasViolations() {
		cerr.SetJSONError(ctx, e)
		return
	}

	sub, err := s.repo.Upsert(ctx, &pushsubscription.Subscription{
		ID:        ulid.Make().String(),
		OwnerID:   owner.FromContext(ctx),
		Endpoint:  strings.TrimSpace(req.Endpoint),
		P256dhKey: req.P256dhKey,
		AuthKey:   req.AuthKey,
		CreatedAt: time.Now(),
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, sub)
}

type UnregisterSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
}

func (s *Server) UnregisterSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req UnregisterSubscriptionRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.Endpoint == "" {
		cerr.SetJSONError(ctx, cerr.NewError(cerr.InvalidArgument, "invalid push subscription", nil).
			AddFieldViolation("endpoint", "required"))
		return
	}
	if err := s.repo.DeleteByEndpoint(ctx, owner.FromContext(ctx), req.Endpoint); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}

func (s *Server) SendTestNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.notifier.SendToOwner(ctx, owner.FromContext(ctx), &NotificationPayload{
		Title: "agentdash test",
		Body:  "Push notifications are working!",
	})
	cerr.SetJSONResponseWithStatus(ctx, http.StatusAccepted, struct{}{})
}

package internal

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kazz187/agentdash/internal/agent"
	"github.com/kazz187/agentdash/internal/config"
	"github.com/kazz187/agentdash/internal/event"
	"github.com/kazz187/agentdash/internal/owner"
	"github.com/kazz187/agentdash/internal/project"
	"github.com/kazz187/agentdash/internal/projectrun"
	"github.com/kazz187/agentdash/internal/pushnotification"
	"github.com/kazz187/agentdash/internal/task"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/clog"
)

var corsPolicy = cors.New(cors.Options{
	AllowedOrigins:   []string{"*"},
	AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
	AllowedHeaders:   []string{"X-API-Key", "Authorization", "Content-Type", "Connect-Protocol-Version"},
	AllowCredentials: true,
})

type Server struct {
	server                 *http.Server
	env                    *config.BaseEnv
	storePing              func(context.Context) error
	projectServer          *project.Server
	projectRunServer       *projectrun.Server
	taskServer             *task.Server
	agentServer            *agent.Server
	eventServer            *event.Server
	pushNotificationServer *pushnotification.Server
}

func NewServer(
	env *config.BaseEnv,
	storePing func(context.Context) error,
	projectServer *project.Server,
	projectRunServer *projectrun.Server,
	taskServer *task.Server,
	agentServer *agent.Server,
	eventServer *event.Server,
	pushNotificationServer *pushnotification.Server,
) *Server {
	return &Server{
		env:                    env,
		storePing:              storePing,
		projectServer:          projectServer,
		projectRunServer:       projectRunServer,
		taskServer:             taskServer,
		agentServer:            agentServer,
		eventServer:            eventServer,
		pushNotificationServer: pushNotificationServer,
	}
}

// Handler builds the full handler chain: API key check, CORS and h2c around
// the JSON API, the event stream and the health endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(clog.SlogChiMiddleware(clog.WithChiAttributes(func(r *http.Request) map[string]any {
			return map[string]any{"owner_id": owner.FromContext(r.Context())}
		})))
		// The event stream writes its own response.
		r.Get("/events", s.eventServer.SubscribeEvents)
		r.Group(func(r chi.Router) {
			r.Use(cerr.NewJSONResponseChiMiddleware())
			r.Route("/projects", s.projectServer.Routes)
			r.Route("/project-runs", s.projectRunServer.Routes)
			r.Route("/tasks", s.taskServer.Routes)
			r.Route("/agents", s.agentServer.Routes)
			r.Route("/push", s.pushNotificationServer.Routes)
			r.NotFound(func(w http.ResponseWriter, r *http.Request) {
				cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
			})
		})
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/api/", r)
	mux.Handle(grpchealth.NewHandler(&storeChecker{ping: s.storePing}, connect.WithInterceptors(s.interceptors()...)))

	return h2c.NewHandler(corsPolicy.Handler(s.apiKeyMiddleware(mux)), &http2.Server{})
}

// ListenAndServe starts the HTTP server. ctx becomes the base context of every
// request, so cancelling it also ends open event streams.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.InfoContext(ctx, "starting server", "addr", addr)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// storeChecker answers gRPC health checks for the server as a whole. The
// server is serving while its record store answers.
type storeChecker struct {
	ping func(context.Context) error
}

func (c *storeChecker) Check(ctx context.Context, req *grpchealth.CheckRequest) (*grpchealth.CheckResponse, error) {
	if req.Service != "" {
		return nil, cerr.NewError(cerr.NotFound, "unknown service "+req.Service, nil)
	}
	if err := c.ping(ctx); err != nil {
		return nil, cerr.NewError(cerr.Unavailable, "record store is unavailable", err)
	}
	return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
}

func (s *Server) interceptors() []connect.Interceptor {
	return []connect.Interceptor{
		clog.NewSlogConnectInterceptor(),
		cerr.NewConnectErrorInterceptor(),
	}
}

// apiKeyMiddleware resolves the caller's owner id from the API key. Health
// checks pass through unauthenticated.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/"+grpchealth.HealthV1ServiceName+"/Check" {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		ownerID, ok := s.env.APIKeys[apiKey]
		if apiKey == "" || !ok || ownerID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(owner.WithID(r.Context(), ownerID)))
	})
}

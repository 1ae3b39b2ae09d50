package clog

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type chiConfig struct {
	filter     func(r *http.Request) bool
	attributes func(r *http.Request) map[string]any
}

type ChiOption func(*chiConfig)

// WithChiFilter suppresses the access log for requests where filter returns
// false.
func WithChiFilter(filter func(r *http.Request) bool) ChiOption {
	return func(cfg *chiConfig) { cfg.filter = filter }
}

// WithChiAttributes adds request-derived attributes (e.g. the caller's owner
// id) to every log line of the request.
func WithChiAttributes(fn func(r *http.Request) map[string]any) ChiOption {
	return func(cfg *chiConfig) { cfg.attributes = fn }
}

// SlogChiMiddleware gives each request an attribute bag and writes one access
// log line when the handler returns, at a level derived from the status.
func SlogChiMiddleware(opts ...ChiOption) func(http.Handler) http.Handler {
	var cfg chiConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx := ContextWithSlog(r.Context())
			AddAttributes(ctx, map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
				"proto":  r.Proto,
			})
			if reqID := middleware.GetReqID(r.Context()); reqID != "" {
				AddAttribute(ctx, "request_id", reqID)
			}
			if cfg.attributes != nil {
				AddAttributes(ctx, cfg.attributes(r))
			}

			next.ServeHTTP(ww, r.WithContext(ctx))

			if cfg.filter != nil && !cfg.filter(r) {
				return
			}
			AddAttributes(ctx, map[string]any{
				"status":        ww.Status(),
				"bytes_written": ww.BytesWritten(),
				"duration":      time.Since(start),
			})
			Log(ctx, HTTPStatusToLevel(ww.Status()), http.StatusText(ww.Status()))
		})
	}
}

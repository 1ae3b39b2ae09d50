package event

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/owner"
)

const keepAliveInterval = 30 * time.Second

// Server streams bus events to API clients as server-sent events. Clients
// subscribe here instead of polling the execution API themselves.
type Server struct {
	eventBus *eventbus.Bus
}

func NewServer(eventBus *eventbus.Bus) *Server {
	return &Server{eventBus: eventBus}
}

// SubscribeEvents serves GET /api/events. Optional query parameters: type
// (repeatable or comma separated) and project_id. It writes the response
// itself and must not sit behind the cerr JSON middleware.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming is not supported", http.StatusNotImplemented)
		return
	}

	subID, ch := s.eventBus.Subscribe(64)
	defer s.eventBus.Unsubscribe(subID)

	typeFilter := make(map[eventbus.EventType]struct{})
	for _, v := range r.URL.Query()["type"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				typeFilter[eventbus.EventType(t)] = struct{}{}
			}
		}
	}
	projectID := r.URL.Query().Get("project_id")
	ownerID := owner.FromContext(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !match(ev, ownerID, projectID, typeFilter) {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.WarnContext(ctx, "failed to encode event", "event_id", ev.ID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func match(ev *eventbus.Event, ownerID, projectID string, types map[eventbus.EventType]struct{}) bool {
	if ownerID != "" && ev.Metadata[eventbus.MetaOwnerID] != ownerID {
		return false
	}
	if len(types) > 0 {
		if _, ok := types[ev.Type]; !ok {
			return false
		}
	}
	if projectID != "" {
		if eventProjectID, ok := ev.Metadata[eventbus.MetaProjectID]; ok && eventProjectID != projectID {
			return false
		}
	}
	return true
}

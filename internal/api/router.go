package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler builds the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if s.hub != nil {
		r.Get("/ws", s.handleWebSocket)
	}

	return r
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// handleHealth runs every component check and answers 503 if any fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{Status: "ok", Version: s.version, Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := s.checks[name].HealthCheck(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}

// StatusResponse is the /status body.
type StatusResponse struct {
	Version              string `json:"version"`
	UptimeSeconds        int64  `json:"uptime_seconds"`
	State                string `json:"state"`
	MessagesReceived     uint64 `json:"messages_received"`
	MessagesDiscarded    uint64 `json:"messages_discarded"`
	EventsRejected       uint64 `json:"events_rejected"`
	FramesWritten        uint64 `json:"frames_written"`
	FramesDropped        uint64 `json:"frames_dropped"`
	FramesSpooled        uint64 `json:"frames_spooled"`
	CollectorReconnects  uint64 `json:"collector_reconnects"`
	SubscriberReconnects uint64 `json:"mqtt_reconnects"`
	InboxDepth           int    `json:"inbox_depth"`
	LiveClients          int    `json:"live_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "gateway status not available")
		return
	}

	st := s.status()
	resp := StatusResponse{
		Version:              s.version,
		UptimeSeconds:        int64(time.Since(s.started).Seconds()),
		State:                st.State.String(),
		MessagesReceived:     st.MessagesReceived,
		MessagesDiscarded:    st.MessagesDiscarded,
		EventsRejected:       st.EventsRejected,
		FramesWritten:        st.FramesWritten,
		FramesDropped:        st.FramesDropped,
		FramesSpooled:        st.FramesSpooled,
		CollectorReconnects:  st.CollectorReconnects,
		SubscriberReconnects: st.SubscriberReconnects,
		InboxDepth:           st.InboxDepth,
	}
	if s.hub != nil {
		resp.LiveClients = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oszuidwest/zwfm-lamper/internal/audio"
	"github.com/oszuidwest/zwfm-lamper/internal/config"
	"github.com/oszuidwest/zwfm-lamper/internal/eventlog"
	"github.com/oszuidwest/zwfm-lamper/internal/health"
	"github.com/oszuidwest/zwfm-lamper/internal/server"
	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

// Pipeline is the part of the orchestrator the status server reads.
type Pipeline interface {
	Status() types.PipelineStatus
	Latest() (types.Update, bool)
}

// Server exposes pipeline status over HTTP and WebSocket.
type Server struct {
	config   *config.Config
	pipeline Pipeline
	version  *VersionChecker
	feed     *server.Feed
	health   *health.Handler
}

// NewServer returns a Server reading status from p.
func NewServer(cfg *config.Config, p Pipeline, version *VersionChecker) *Server {
	s := &Server{
		config:   cfg,
		pipeline: p,
		version:  version,
		health: health.New(
			health.PipelineRunning(p.Status),
			health.DeviceConnected(p.Status),
		),
	}
	s.feed = server.NewFeed(s.buildStatus, p.Latest)
	return s
}

// buildStatus returns the full status message.
func (s *Server) buildStatus() types.WSStatusResponse {
	return types.WSStatusResponse{
		Type:    "status",
		Status:  s.pipeline.Status(),
		Version: s.version.Info(),
		Input:   s.config.Audio.Input,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.buildStatus())
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	u, ok := s.pipeline.Latest()
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no frame analysed yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, server.UpdateResponse(u))
}

// handleEvents serves GET /api/events?limit=&offset=&type=.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	path := s.config.System.EventLog
	if path == "" {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "event log not configured"})
		return
	}

	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), 50)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offset"})
		return
	}

	events, more, err := eventlog.ReadLast(path, limit, offset, eventlog.EventType(q.Get("type")))
	if err != nil {
		slog.Error("failed to read event log", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read event log"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events, "has_more": more})
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, audio.ListDevices())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// SetupRoutes returns an [http.Handler] with all status routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/latest", s.handleLatest)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.Handle("GET /ws", s.feed)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start serves on addr in the background and returns the server for shutdown.
func (s *Server) Start(addr string) *http.Server {
	slog.Info("starting status server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: types.ShutdownTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}

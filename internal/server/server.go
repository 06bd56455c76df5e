// Package server exposes the research service over HTTP: a synchronous run
// endpoint, an SSE streaming endpoint, session cancellation, and the
// connection monitor's stats.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"deepsearch/internal/config"
	"deepsearch/internal/logging"
	"deepsearch/internal/service"
	"deepsearch/internal/session"
)

// Server owns the HTTP surface.
type Server struct {
	cfg      config.ServerConfig
	svc      *service.Service
	sessions *session.Registry
	monitor  *session.Monitor
	http     *http.Server
}

// New assembles the server.
func New(cfg config.ServerConfig, svc *service.Service, sessions *session.Registry, monitor *session.Monitor) *Server {
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		sessions: sessions,
		monitor:  monitor,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", s.cfg.APIKeyHeader},
		ExposedHeaders:   []string{"X-Connection-ID"},
		AllowCredentials: false,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", s.handleHealth)
		r.Get("/monitor/sse/stats", s.handleStats)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAPIKey)
			r.Post("/deepsearch/run", s.handleRun)
			r.Post("/deepsearch/run/stream", s.handleRunStream)
			r.Post("/deepsearch/cancel/{sessionID}", s.handleCancel)
		})
	})
	return r
}

// ListenAndServe runs until the context is cancelled, then drains.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		logging.Server("listening on %s", s.cfg.Addr)
		errc <- s.http.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" {
			got := r.Header.Get(s.cfg.APIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.APIKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing api key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s.sessions.SetCancelled(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "session_id": id})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	resp, err := s.svc.Run(r.Context(), "", req)
	if err != nil {
		if session.IsCancelled(err) {
			writeError(w, 499, "request cancelled")
			return
		}
		writeError(w, http.StatusInternalServerError, "research failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (service.Request, bool) {
	var req service.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ServerWarn("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

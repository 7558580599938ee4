// Package status serves the read only operator API: rate budget, work pool
// snapshots, and pull request history
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"agpm/internal/core/version"
	perr "agpm/internal/platform/errors"
	"agpm/internal/platform/logger"
	"agpm/internal/platform/ratelimit"
	"agpm/internal/platform/workpool"
	histdom "agpm/internal/services/history/domain"
)

// Deps are the read sides the handlers expose
type Deps struct {
	Governor *ratelimit.Governor
	Pool     *workpool.Pool
	History  histdom.StorePort
	Log      logger.Logger
}

// NewRouter builds the chi router with the common middleware stack
func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	h := handlers{d: d}
	r.Route("/v1/status", func(r chi.Router) {
		r.Get("/budget", h.budget)
		r.Get("/requests", h.requests)
		r.Get("/history", h.history)
		r.Get("/version", h.version)
	})
	return r
}

type handlers struct {
	d Deps
}

func (h handlers) budget(w http.ResponseWriter, _ *http.Request) {
	if h.d.Governor == nil {
		writeError(w, http.StatusServiceUnavailable, "rate governor not running")
		return
	}
	writeJSON(w, http.StatusOK, h.d.Governor.Snapshot())
}

func (h handlers) requests(w http.ResponseWriter, _ *http.Request) {
	if h.d.Pool == nil {
		writeError(w, http.StatusServiceUnavailable, "work pool not running")
		return
	}
	snap := h.d.Pool.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":   snap.Pending,
		"running":   snap.Running,
		"completed": snap.Completed,
		"rpm":       h.d.Pool.RPM(),
	})
}

func (h handlers) history(w http.ResponseWriter, r *http.Request) {
	if h.d.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}
	recs, err := h.d.History.List(r.Context())
	if err != nil {
		h.d.Log.Error().Err(err).Msg("status history read failed")
		writeError(w, perr.HTTPStatus(err), "history read failed")
		return
	}
	if recs == nil {
		recs = []histdom.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Info())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}

// Server wraps the router in an http.Server with a graceful stop
type Server struct {
	srv *http.Server
	log logger.Logger
}

// NewServer builds the server bound to addr
func NewServer(addr string, d Deps) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(d),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: d.Log,
	}
}

// Start serves in a goroutine; ErrServerClosed is the clean exit
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("status api listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("status api failed")
		}
	}()
}

// Stop drains in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

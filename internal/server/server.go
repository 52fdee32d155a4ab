// Package server wires the HTTP surface: the session channel endpoint,
// login, face identity management, and health probes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariavoice/aria/internal/config"
	"github.com/ariavoice/aria/internal/gateway"
	"github.com/ariavoice/aria/internal/store"
)

const readTimeout = 30 * time.Second

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	server *http.Server
}

// HealthCheck reports one dependency's availability.
type HealthCheck func(ctx context.Context) error

func New(cfg *config.Config, st *store.Store, pool *pgxpool.Pool, gw *gateway.Gateway, checks map[string]HealthCheck) *Server {
	router := chi.NewRouter()
	router.Use(Recovery)
	router.Use(Logger)

	router.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Get("/health/ready", readiness(pool, checks))

	router.Get("/ws", gw.ServeHTTP)

	api := newAPIHandler(cfg, st)
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", api.login)

		r.Group(func(r chi.Router) {
			r.Use(api.auth)
			r.Get("/faces", api.listFaces)
			r.Post("/faces", api.createFace)
			r.Delete("/faces/{id}", api.deleteFace)
			r.Post("/faces/{id}/photos", api.addFacePhoto)
		})
	})

	return &Server{cfg: cfg, router: router}
}

// readiness probes the database and every registered adapter. Any failure
// flips the payload to degraded and the response to 503, with the failing
// dependency named in the checks map.
func readiness(pool *pgxpool.Pool, checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks)+1)
		healthy := true

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				results["database"] = err.Error()
				healthy = false
			} else {
				results["database"] = "ok"
			}
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				healthy = false
			} else {
				results[name] = "ok"
			}
		}

		status, code := "ok", http.StatusOK
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"checks": results,
		})
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: readTimeout,
		// Streaming endpoints hold the connection open indefinitely.
		WriteTimeout: 0,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

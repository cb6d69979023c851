// Package api is the management HTTP surface: router CRUD and on-demand
// device operations, session listing and the RADIUS accounting ingest hook.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/wisprnet/fleet/internal/api/handler"
	mw "github.com/wisprnet/fleet/internal/api/middleware"
	"github.com/wisprnet/fleet/internal/core"
	"github.com/wisprnet/fleet/internal/fleet"
)

type Server struct {
	router    chi.Router
	logger    zerolog.Logger
	services  *core.Services
	pool      *pgxpool.Pool
	sync      *fleet.Orchestrator
	newClient handler.ClientFactory
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, services *core.Services, sync *fleet.Orchestrator, newClient handler.ClientFactory) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger,
		services:  services,
		pool:      pool,
		sync:      sync,
		newClient: newClient,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Routers
		router := handler.NewRouter(s.services.Router, s.sync, s.newClient)
		r.Get("/routers", router.List)
		r.Post("/routers", router.Create)
		r.Get("/routers/{id}", router.Get)
		r.Put("/routers/{id}", router.Update)
		r.Delete("/routers/{id}", router.Delete)

		// On-demand device operations
		r.Get("/routers/{id}/status", router.Status)
		r.Get("/routers/{id}/clients", router.Clients)
		r.Get("/routers/{id}/logs", router.Logs)
		r.Post("/routers/{id}/ping", router.Ping)
		r.Post("/routers/{id}/reboot", router.Reboot)
		r.Post("/routers/{id}/disconnect", router.Disconnect)
		r.Post("/routers/{id}/winbox", router.Winbox)
		r.Post("/routers/{id}/sync-profiles", router.SyncProfiles)
		r.Post("/routers/{id}/vouchers", router.CreateVoucher)
		r.Delete("/routers/{id}/vouchers/{username}", router.DeleteVoucher)

		// Sessions
		session := handler.NewSession(s.services.Accounting)
		r.Get("/sessions", session.List)

		// RADIUS accounting ingest
		accounting := handler.NewAccounting(s.services.Accounting, s.logger)
		r.Post("/radius/accounting", accounting.Ingest)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api implements the HTTP surface and SSE Gateway (C10):
// a gorilla/mux router fronting the session/scheduler/event
// operations the rest of the core exposes.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/agentviewer/core/internal/api/middleware"
	"github.com/agentviewer/core/internal/api/version"
	"github.com/agentviewer/core/internal/bus"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ServerConfig holds the listen address and optional auth password
// (spec.md §6 env vars / CLI flags).
type ServerConfig struct {
	Host     string
	Port     int
	Password string
}

// NewRouter builds the mux.Router for deps, applying logging/recovery
// middleware and an optional bearer-password auth gate.
func NewRouter(cfg ServerConfig, deps Dependencies, b *bus.Bus) *mux.Router {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{deps: deps}

	r := mux.NewRouter()
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(version.Middleware)
	if cfg.Password != "" {
		r.Use(passwordAuth(cfg.Password))
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.health).Methods(http.MethodGet)
	api.HandleFunc("/events", ServeEvents(b, log)).Methods(http.MethodGet)

	api.HandleFunc("/projects", h.listProjects).Methods(http.MethodGet)
	api.HandleFunc("/projects/{pid}", h.getProject).Methods(http.MethodGet)
	api.HandleFunc("/projects/{pid}/sessions", h.createSession).Methods(http.MethodPost)
	api.HandleFunc("/projects/{pid}/sessions/{sid}", h.getSession).Methods(http.MethodGet)
	api.HandleFunc("/projects/{pid}/sessions/{sid}/continue", h.continueSession).Methods(http.MethodPost)

	api.HandleFunc("/sessionProcesses/{id}/stop", h.stopSessionProcess).Methods(http.MethodPost)
	api.HandleFunc("/sessionProcesses/{id}/abort", h.abortSessionProcess).Methods(http.MethodPost)

	api.HandleFunc("/permissions/{requestId}/respond", h.respondPermission).Methods(http.MethodPost)

	api.HandleFunc("/scheduler/jobs", h.listJobs).Methods(http.MethodGet)
	api.HandleFunc("/scheduler/jobs", h.createJob).Methods(http.MethodPost)
	api.HandleFunc("/scheduler/jobs/{id}", h.updateJob).Methods(http.MethodPatch)
	api.HandleFunc("/scheduler/jobs/{id}", h.deleteJob).Methods(http.MethodDelete)

	return r
}

// passwordAuth requires a matching X-Agentviewer-Password header (or
// password query param) on every request when cfg.Password is set
// (spec.md §6: "auth password" is a configured but unspecified-shape
// credential; a header check is the minimal viable mechanism).
func passwordAuth(password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Agentviewer-Password")
			if got == "" {
				got = r.URL.Query().Get("password")
			}
			if got != password {
				WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing password")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Server wraps the router in an *http.Server with graceful shutdown.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
	log    *zap.Logger
}

// NewServer constructs a Server.
func NewServer(cfg ServerConfig, deps Dependencies, b *bus.Bus) *Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		router: NewRouter(cfg, deps, b),
		cfg:    cfg,
		log:    log.Named("api"),
	}
}

// Router returns the underlying mux.Router, mostly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the HTTP server; it blocks until the server
// stops (normally via Shutdown, which makes it return
// http.ErrServerClosed).
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{Addr: addr, Handler: s.router}
	s.log.Info("api server listening", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	s.log.Info("api server shutting down")
	return s.server.Shutdown(shutdownCtx)
}

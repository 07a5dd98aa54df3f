// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package admin serves the operational HTTP endpoints of the import worker:
// health, worker status and a manual trigger.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/casalead/ingestion/internal/scheduler"
)

// Pinger is a dependency probed by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check names a health dependency.
type Check struct {
	Name   string
	Pinger Pinger
}

// Controller is the subset of the worker the endpoints drive.
type Controller interface {
	Status() scheduler.Status
	TriggerAsync(ctx context.Context) error
}

// Handler serves the admin endpoints.
type Handler struct {
	worker Controller
	checks []Check
}

// NewHandler creates an admin handler. Checks run in order on /health.
func NewHandler(worker Controller, checks ...Check) *Handler {
	return &Handler{worker: worker, checks: checks}
}

// Routes returns the admin mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.ServeHealth)
	mux.HandleFunc("GET /status", h.ServeStatus)
	mux.HandleFunc("POST /trigger", h.ServeTrigger)
	return mux
}

// ServeHealth pings every dependency and reports 503 on the first failure.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, c := range h.checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			slog.Warn("health check failed", "dependency", c.Name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": c.Name + " unhealthy",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ServeStatus reports the worker state.
func (h *Handler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.worker.Status())
}

// ServeTrigger starts a cycle in the background. It answers 409 when one is
// already running.
func (h *Handler) ServeTrigger(w http.ResponseWriter, r *http.Request) {
	err := h.worker.TriggerAsync(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already_running"})
	case err != nil:
		slog.Error("manual trigger failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
	default:
		slog.Info("manual import cycle triggered")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write admin response", "error", err)
	}
}

// Serve starts the admin HTTP server on the given port. It binds the port
// immediately and signals readiness via the returned channel. The server
// shuts down when ctx is cancelled.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind admin port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("admin server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("admin server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
		}
	}()

	return ready, nil
}

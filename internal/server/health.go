// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"

	"github.com/sustainable-computing-io/smaragdine/internal/service"
)

// ReadinessChecker reports whether a service can serve requests
type ReadinessChecker interface {
	Ready() error
}

type health struct {
	api     APIService
	checker ReadinessChecker
}

var (
	_ service.Service     = (*health)(nil)
	_ service.Initializer = (*health)(nil)
)

// NewHealth creates the service that provides health check endpoints
func NewHealth(api APIService, checker ReadinessChecker) *health {
	return &health{
		api:     api,
		checker: checker,
	}
}

func (h *health) Name() string {
	return "health"
}

func (h *health) Init() error {
	return h.api.Register("/health/", "health", "Health check endpoints", h.handlers())
}

func (h *health) handlers() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/readyz", h.readyzHandler)
	mux.HandleFunc("/health/livez", h.livezHandler)
	return mux
}

// readyzHandler returns 200 once the sampler has usable power meters
func (h *health) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.checker.Ready(); err != nil {
		h.respondWithError(w, "not ready", err.Error())
		return
	}
	h.respondWithSuccess(w, "ok")
}

// livezHandler returns 200 as long as the server answers
func (h *health) livezHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.respondWithSuccess(w, "alive")
}

func (h *health) respondWithSuccess(w http.ResponseWriter, status string) {
	h.respond(w, http.StatusOK, map[string]string{"status": status})
}

func (h *health) respondWithError(w http.ResponseWriter, status, reason string) {
	h.respond(w, http.StatusServiceUnavailable, map[string]string{
		"status": status,
		"reason": reason,
	})
}

func (h *health) respond(w http.ResponseWriter, code int, response map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

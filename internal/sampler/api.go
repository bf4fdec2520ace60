// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package sampler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
	"github.com/sustainable-computing-io/smaragdine/internal/dataset"
	"github.com/sustainable-computing-io/smaragdine/internal/service"
)

const (
	StartPath  = "/v1/sampler/start"
	StopPath   = "/v1/sampler/stop"
	ReadPath   = "/v1/sampler/read"
	StatusPath = "/v1/sampler/status"
)

// Error codes carried in ErrorResponse
const (
	CodeSessionActive = "session_active"
	CodeNoSession     = "no_session"
	CodeInvalidPid    = "invalid_pid"
	CodeBadRequest    = "bad_request"
	CodeInternal      = "internal"
)

// StartRequest is the body of a start request. Period is a Go duration
// string; an empty period uses the server default.
type StartRequest struct {
	Pid    int    `json:"pid"`
	Period string `json:"period,omitempty"`
}

// StatusResponse describes the current session
type StatusResponse struct {
	State   string `json:"state"`
	Pid     int    `json:"pid,omitempty"`
	Period  string `json:"period,omitempty"`
	Samples int    `json:"samples"`
}

// ErrorResponse is returned with every non 2xx status
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Controller is the sampling session interface served over HTTP
type Controller interface {
	Start(pid int, period time.Duration) error
	Stop() error
	Read() (dataset.Dataset, error)
	Status() Status
}

// APIRegistry registers HTTP handlers
type APIRegistry interface {
	Register(endpoint, summary, description string, handler http.Handler) error
}

// API exposes a Controller on the API server
type API struct {
	logger     *slog.Logger
	registry   APIRegistry
	controller Controller
}

var (
	_ service.Initializer = (*API)(nil)
	_ Controller          = (*Sampler)(nil)
)

// NewAPI creates the sampler HTTP API
func NewAPI(registry APIRegistry, controller Controller, logger *slog.Logger) *API {
	return &API{
		logger:     logger.With("service", "sampler-api"),
		registry:   registry,
		controller: controller,
	}
}

func (a *API) Name() string {
	return "sampler-api"
}

type endpoint struct {
	path, summary, desc string
	handler             http.Handler
}

func (a *API) endpoints() []endpoint {
	return []endpoint{
		{StartPath, "start", "Start sampling a process (POST)", allow(http.MethodPost, a.start)},
		{StopPath, "stop", "Stop sampling (POST)", allow(http.MethodPost, a.stop)},
		{ReadPath, "read", "Power samples and CPU times of the last session", allow(http.MethodGet, a.read)},
		{StatusPath, "status", "State of the sampling session", allow(http.MethodGet, a.status)},
	}
}

func (a *API) Init() error {
	for _, ep := range a.endpoints() {
		if err := a.registry.Register(ep.path, ep.summary, ep.desc, ep.handler); err != nil {
			return fmt.Errorf("failed to register %s: %w", ep.path, err)
		}
	}
	return nil
}

// Handler returns the API on its own mux
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, ep := range a.endpoints() {
		mux.Handle(ep.path, ep.handler)
	}
	return mux
}

func (a *API) start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Errorf("invalid start request: %w", err))
		return
	}

	var period time.Duration
	if req.Period != "" {
		d, err := time.ParseDuration(req.Period)
		if err != nil || d < 0 {
			a.writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Errorf("invalid period %q", req.Period))
			return
		}
		period = d
	}

	if err := a.controller.Start(req.Pid, period); err != nil {
		a.writeControllerError(w, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, a.statusResponse())
}

func (a *API) stop(w http.ResponseWriter, _ *http.Request) {
	if err := a.controller.Stop(); err != nil {
		a.writeControllerError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, a.statusResponse())
}

func (a *API) read(w http.ResponseWriter, _ *http.Request) {
	d, err := a.controller.Read()
	if err != nil {
		a.writeControllerError(w, err)
		return
	}
	if d.Samples == nil {
		d.Samples = []accounting.Sample{}
	}
	a.writeJSON(w, http.StatusOK, d)
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.statusResponse())
}

func (a *API) statusResponse() StatusResponse {
	st := a.controller.Status()
	resp := StatusResponse{
		State:   st.State.String(),
		Pid:     st.Pid,
		Samples: st.Samples,
	}
	if st.Period > 0 {
		resp.Period = st.Period.String()
	}
	return resp
}

func (a *API) writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionActive):
		a.writeError(w, http.StatusConflict, CodeSessionActive, err)
	case errors.Is(err, ErrNoSession):
		a.writeError(w, http.StatusConflict, CodeNoSession, err)
	case errors.Is(err, ErrInvalidPid):
		a.writeError(w, http.StatusBadRequest, CodeInvalidPid, err)
	default:
		a.writeError(w, http.StatusInternalServerError, CodeInternal, err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, code string, err error) {
	a.logger.Debug("request failed", "status", status, "error", err)
	a.writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

func allow(method string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	})
}

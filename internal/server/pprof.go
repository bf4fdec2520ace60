// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/sustainable-computing-io/smaragdine/internal/service"
)

const pprofPath = "/debug/pprof/"

// mutexProfileFraction reports 1 in 5 contention events on the sampler lock
// shared by the collector and the API handlers
const mutexProfileFraction = 5

// profiler serves the runtime profiles of the sampler server
type profiler struct {
	api      APIService
	fraction int
	previous int
}

var (
	_ service.Service     = (*profiler)(nil)
	_ service.Initializer = (*profiler)(nil)
	_ service.Shutdowner  = (*profiler)(nil)
)

// NewPprof creates the profiling endpoints and enables mutex profiling while
// they are served
func NewPprof(api APIService) *profiler {
	return &profiler{
		api:      api,
		fraction: mutexProfileFraction,
	}
}

func (p *profiler) Name() string {
	return "pprof"
}

func (p *profiler) Init() error {
	if err := p.api.Register(pprofPath, "pprof", "Runtime profiles of the sampler", profileHandlers()); err != nil {
		return err
	}
	p.previous = runtime.SetMutexProfileFraction(p.fraction)
	return nil
}

// Shutdown restores the mutex profile fraction found at Init
func (p *profiler) Shutdown() error {
	runtime.SetMutexProfileFraction(p.previous)
	return nil
}

func profileHandlers() http.Handler {
	mux := http.NewServeMux()

	// Index also serves the named profiles: heap, goroutine, mutex, ...
	mux.HandleFunc(pprofPath, pprof.Index)
	mux.HandleFunc(pprofPath+"cmdline", pprof.Cmdline)
	mux.HandleFunc(pprofPath+"profile", pprof.Profile)
	mux.HandleFunc(pprofPath+"symbol", pprof.Symbol)
	mux.HandleFunc(pprofPath+"trace", pprof.Trace)

	return mux
}

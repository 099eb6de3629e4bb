// SPDX-License-Identifier: Apache-2.0

// Package api exposes crew runs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/planner"
	"github.com/smkhb/Stock-Agent/pkg/runtime"
)

// Runner starts crew runs.
type Runner interface {
	Kickoff(ctx context.Context, inputs map[string]string) (*runtime.RunResult, error)
	Graph() *planner.Graph
	RequiredInputs() []string
}

// Config for the HTTP handler.
type Config struct {
	Runner Runner
	// Traces serves persisted trace entries. Optional.
	Traces planner.TraceStore
	Logger *slog.Logger
}

// RunRequest is the body of POST /v1/runs.
type RunRequest struct {
	Inputs map[string]string `json:"inputs"`
	Trace  bool              `json:"trace,omitempty"`
}

// GraphResponse describes the task graph in execution order.
type GraphResponse struct {
	ID     string         `json:"id,omitempty"`
	Inputs []string       `json:"inputs"`
	Tasks  []planner.Task `json:"tasks"`
}

type server struct {
	runner Runner
	traces planner.TraceStore
	logger *slog.Logger
}

// New returns an HTTP handler exposing the crew.
func New(cfg Config) (http.Handler, error) {
	if cfg.Runner == nil {
		return nil, errors.New(errors.CodeConfig, "api runner is required", nil)
	}
	s := &server{runner: cfg.Runner, traces: cfg.Traces, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.health)
	router.Route("/v1", func(r chi.Router) {
		r.Get("/graph", s.graph)
		r.Post("/runs", s.run)
		r.Get("/runs/{runID}/trace", s.trace)
	})
	return router, nil
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) graph(w http.ResponseWriter, _ *http.Request) {
	g := s.runner.Graph()
	order, err := g.TopologicalOrder()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, GraphResponse{ID: g.ID, Inputs: s.runner.RequiredInputs(), Tasks: order})
}

func (s *server) run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, errors.New(errors.CodeInvalidInput, "invalid run request body", err))
		return
	}

	s.logger.Info("api.run.request",
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Int("inputs", len(req.Inputs)),
		slog.Bool("trace", req.Trace),
	)
	result, err := s.runner.Kickoff(r.Context(), req.Inputs)
	writeJSON(w, runtime.StatusCode(err), runtime.NewPayload(result, err, req.Trace))
}

func (s *server) trace(w http.ResponseWriter, r *http.Request) {
	if s.traces == nil {
		s.fail(w, errors.New(errors.CodeConfig, "trace store is not configured", nil))
		return
	}
	filter := planner.TraceFilter{
		RunID:  chi.URLParam(r, "runID"),
		TaskID: r.URL.Query().Get("task"),
		Status: r.URL.Query().Get("status"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.fail(w, errors.Newf(errors.CodeInvalidInput, "invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}
	entries, err := s.traces.List(r.Context(), filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	if len(entries) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody(errors.CodeInvalidInput, "no trace entries for run "+filter.RunID))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) fail(w http.ResponseWriter, err error) {
	ce := errors.AsCrewError(err)
	s.logger.Warn("api.request.failed", slog.String("error_code", string(ce.Code)), slog.String("error", err.Error()))
	writeJSON(w, ce.StatusCode, errorBody(ce.Code, ce.Message))
}

func errorBody(code errors.ErrorCode, message string) map[string]string {
	return map[string]string{"status": "failed", "error_kind": string(code), "message": message}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

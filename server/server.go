//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package server exposes diagram execution over HTTP: REST endpoints for
// diagrams and executions, and a per-execution Server-Sent Events stream
// fed by the streaming observer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"

	"github.com/dipeo/dipeo-go/compiler"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/log"
	"github.com/dipeo/dipeo-go/observer"
	"github.com/dipeo/dipeo-go/state"
	"github.com/dipeo/dipeo-go/storage"
)

// Server wires the compiler, engine, and observers behind an HTTP API.
type Server struct {
	engine    *engine.Engine
	compiler  *compiler.Compiler
	diagrams  storage.Store
	states    state.Store
	streaming *observer.StreamingObserver

	mu      sync.Mutex
	cancels map[execution.ID]context.CancelFunc
}

// New creates a server.
func New(eng *engine.Engine, comp *compiler.Compiler, diagrams storage.Store, states state.Store, streaming *observer.StreamingObserver) *Server {
	return &Server{
		engine:    eng,
		compiler:  comp,
		diagrams:  diagrams,
		states:    states,
		streaming: streaming,
		cancels:   make(map[execution.ID]context.CancelFunc),
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/diagrams", s.handleListDiagrams).Methods(http.MethodGet)
	r.HandleFunc("/executions", s.handleStartExecution).Methods(http.MethodPost)
	r.HandleFunc("/executions", s.handleListExecutions).Methods(http.MethodGet)
	r.HandleFunc("/executions/{id}", s.handleGetExecution).Methods(http.MethodGet)
	r.HandleFunc("/executions/{id}/cancel", s.handleCancelExecution).Methods(http.MethodPost)
	r.HandleFunc("/executions/{id}/events", s.handleStreamEvents).Methods(http.MethodGet)
	return r
}

type startRequest struct {
	DiagramID string `json:"diagram_id"`
}

type startResponse struct {
	ExecutionID execution.ID `json:"execution_id"`
}

func (s *Server) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DiagramID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("body must carry diagram_id"))
		return
	}

	domain, err := s.diagrams.Load(r.Context(), req.DiagramID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrDiagramNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	compiled, err := s.compiler.Compile(domain)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	executionID := execution.ID(ulid.Make().String())
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[executionID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancels, executionID)
			s.mu.Unlock()
			cancel()
		}()
		if _, err := s.engine.Run(runCtx, compiled, executionID); err != nil {
			log.Warnf("execution %s finished with error: %v", executionID, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, startResponse{ExecutionID: executionID})
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	executionID := execution.ID(mux.Vars(r)["id"])
	s.mu.Lock()
	cancel, ok := s.cancels[executionID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("execution %s is not running", executionID))
		return
	}
	cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.states.ListExecutions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := execution.ID(mux.Vars(r)["id"])
	snap, err := s.states.GetSnapshot(r.Context(), executionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, state.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListDiagrams(w http.ResponseWriter, r *http.Request) {
	infos, err := s.diagrams.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleStreamEvents serves the execution's event stream as SSE. The
// stream ends after the terminal execution event or when the client
// disconnects.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported by connection"))
		return
	}
	executionID := execution.ID(mux.Vars(r)["id"])

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := s.streaming.Subscribe(executionID)
	defer cancel()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				log.Errorf("encode event for %s: %v", executionID, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package inmemory provides an in-memory StateStore. Suitable for tests and
// single-process runs; not durable.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/state"
)

// Store keeps snapshots in process memory.
type Store struct {
	mu        sync.RWMutex
	snapshots map[execution.ID]*execution.Snapshot
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{snapshots: make(map[execution.ID]*execution.Snapshot)}
}

// CreateExecution registers a new execution; existing ids are left intact.
func (s *Store) CreateExecution(_ context.Context, executionID execution.ID, diagramID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[executionID]; ok {
		return nil
	}
	now := time.Now()
	s.snapshots[executionID] = &execution.Snapshot{
		ExecutionID: executionID,
		DiagramID:   diagramID,
		Status:      execution.StatusPending,
		NodeStates:  make(map[diagram.NodeID]*execution.NodeState),
		StartedAt:   &now,
	}
	return nil
}

// UpdateStatus records an execution status transition.
func (s *Store) UpdateStatus(_ context.Context, executionID execution.ID, status execution.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[executionID]
	if !ok {
		return state.ErrNotFound
	}
	snap.Status = status
	if errMsg != "" {
		snap.Error = errMsg
	}
	if status.Terminal() && snap.CompletedAt == nil {
		now := time.Now()
		snap.CompletedAt = &now
	}
	return nil
}

// UpdateNodeStatus records a node status transition.
func (s *Store) UpdateNodeStatus(_ context.Context, executionID execution.ID, nodeID diagram.NodeID, status execution.NodeStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[executionID]
	if !ok {
		return state.ErrNotFound
	}
	ns, ok := snap.NodeStates[nodeID]
	if !ok {
		ns = &execution.NodeState{}
		snap.NodeStates[nodeID] = ns
	}
	ns.Status = status
	ns.Error = errMsg
	return nil
}

// UpdateNodeOutput records a node's output.
func (s *Store) UpdateNodeOutput(_ context.Context, executionID execution.ID, nodeID diagram.NodeID, output *execution.NodeOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[executionID]
	if !ok {
		return state.ErrNotFound
	}
	ns, ok := snap.NodeStates[nodeID]
	if !ok {
		ns = &execution.NodeState{}
		snap.NodeStates[nodeID] = ns
	}
	ns.Output = output
	return nil
}

// SaveSnapshot replaces the stored snapshot wholesale.
func (s *Store) SaveSnapshot(_ context.Context, snapshot *execution.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.ExecutionID] = snapshot
	return nil
}

// GetSnapshot loads the last stored snapshot.
func (s *Store) GetSnapshot(_ context.Context, executionID execution.ID) (*execution.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[executionID]
	if !ok {
		return nil, state.ErrNotFound
	}
	return snap, nil
}

// ListExecutions lists known executions, most recent first.
func (s *Store) ListExecutions(_ context.Context) ([]state.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summaries := make([]state.Summary, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		summaries = append(summaries, state.Summary{
			ExecutionID: snap.ExecutionID,
			DiagramID:   snap.DiagramID,
			Status:      snap.Status,
			StartedAt:   snap.StartedAt,
			CompletedAt: snap.CompletedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		ti, tj := summaries[i].StartedAt, summaries[j].StartedAt
		if ti == nil || tj == nil {
			return summaries[i].ExecutionID > summaries[j].ExecutionID
		}
		return ti.After(*tj)
	})
	return summaries, nil
}

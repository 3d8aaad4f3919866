//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package file provides a filesystem StateStore that persists execution
// snapshots as msgpack documents, one file per execution. Writes go through
// a temp file and rename; terminal snapshots are fsynced.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/state"
)

const snapshotExt = ".state.msgpack"

// Store persists snapshots under a base directory.
type Store struct {
	dir string
	mu  sync.Mutex
	// cache holds the working copy per execution so incremental updates do
	// not re-read the file on every event.
	cache map[execution.ID]*execution.Snapshot
}

// NewStore creates the base directory if needed and returns a store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir, cache: make(map[execution.ID]*execution.Snapshot)}, nil
}

func (s *Store) path(executionID execution.ID) string {
	return filepath.Join(s.dir, string(executionID)+snapshotExt)
}

// CreateExecution registers a new execution; existing ids are left intact.
func (s *Store) CreateExecution(ctx context.Context, executionID execution.ID, diagramID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[executionID]; ok {
		return nil
	}
	if _, err := os.Stat(s.path(executionID)); err == nil {
		snap, err := s.load(executionID)
		if err != nil {
			return err
		}
		s.cache[executionID] = snap
		return nil
	}
	snap := &execution.Snapshot{
		ExecutionID: executionID,
		DiagramID:   diagramID,
		Status:      execution.StatusPending,
		NodeStates:  make(map[diagram.NodeID]*execution.NodeState),
	}
	s.cache[executionID] = snap
	return s.write(snap, false)
}

// UpdateStatus records an execution status transition.
func (s *Store) UpdateStatus(ctx context.Context, executionID execution.ID, status execution.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.working(executionID)
	if err != nil {
		return err
	}
	snap.Status = status
	if errMsg != "" {
		snap.Error = errMsg
	}
	return s.write(snap, status.Terminal())
}

// UpdateNodeStatus records a node status transition.
func (s *Store) UpdateNodeStatus(ctx context.Context, executionID execution.ID, nodeID diagram.NodeID, status execution.NodeStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.working(executionID)
	if err != nil {
		return err
	}
	ns, ok := snap.NodeStates[nodeID]
	if !ok {
		ns = &execution.NodeState{}
		snap.NodeStates[nodeID] = ns
	}
	ns.Status = status
	ns.Error = errMsg
	return s.write(snap, false)
}

// UpdateNodeOutput records a node's output.
func (s *Store) UpdateNodeOutput(ctx context.Context, executionID execution.ID, nodeID diagram.NodeID, output *execution.NodeOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.working(executionID)
	if err != nil {
		return err
	}
	ns, ok := snap.NodeStates[nodeID]
	if !ok {
		ns = &execution.NodeState{}
		snap.NodeStates[nodeID] = ns
	}
	ns.Output = output
	return s.write(snap, false)
}

// SaveSnapshot persists a full snapshot, fsyncing terminal states.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot *execution.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[snapshot.ExecutionID] = snapshot
	return s.write(snapshot, snapshot.Status.Terminal())
}

// GetSnapshot loads the last persisted snapshot.
func (s *Store) GetSnapshot(ctx context.Context, executionID execution.ID) (*execution.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.cache[executionID]; ok {
		return snap, nil
	}
	return s.load(executionID)
}

// ListExecutions lists persisted executions, most recent first.
func (s *Store) ListExecutions(ctx context.Context) ([]state.Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read state dir: %w", err)
	}
	var summaries []state.Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotExt) {
			continue
		}
		id := execution.ID(strings.TrimSuffix(entry.Name(), snapshotExt))
		snap, err := s.GetSnapshot(ctx, id)
		if err != nil {
			continue
		}
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

func (s *Store) working(executionID execution.ID) (*execution.Snapshot, error) {
	if snap, ok := s.cache[executionID]; ok {
		return snap, nil
	}
	snap, err := s.load(executionID)
	if err != nil {
		return nil, err
	}
	s.cache[executionID] = snap
	return snap, nil
}

func (s *Store) load(executionID execution.ID) (*execution.Snapshot, error) {
	data, err := os.ReadFile(s.path(executionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, state.ErrNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap execution.Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", executionID, err)
	}
	return &snap, nil
}

func (s *Store) write(snap *execution.Snapshot, durable bool) error {
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ExecutionID, err)
	}
	target := s.path(snap.ExecutionID)
	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open snapshot temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if durable {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("sync snapshot: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

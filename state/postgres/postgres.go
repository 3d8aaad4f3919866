//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package postgres provides a bun-backed StateStore for multi-process
// deployments. Snapshots are stored as jsonb, one row per execution.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/state"
)

type executionRow struct {
	bun.BaseModel `bun:"table:dipeo_executions,alias:e"`

	ExecutionID string     `bun:"execution_id,pk"`
	DiagramID   string     `bun:"diagram_id"`
	Status      string     `bun:"status"`
	Snapshot    []byte     `bun:"snapshot,type:jsonb"`
	StartedAt   *time.Time `bun:"started_at"`
	CompletedAt *time.Time `bun:"completed_at"`
	Error       string     `bun:"error"`
}

// Store persists execution snapshots in PostgreSQL.
type Store struct {
	db *bun.DB
	mu sync.Mutex
	// cache keeps the working snapshot per execution so incremental event
	// writes do not round-trip through the database.
	cache map[execution.ID]*execution.Snapshot
}

// NewStore connects to PostgreSQL with the given DSN and ensures the
// executions table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	s := &Store{db: db, cache: make(map[execution.ID]*execution.Snapshot)}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB wraps an existing bun.DB. The caller owns the connection.
func NewStoreWithDB(ctx context.Context, db *bun.DB) (*Store, error) {
	s := &Store{db: db, cache: make(map[execution.ID]*execution.Snapshot)}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*executionRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create executions table: %w", err)
	}
	return nil
}

// CreateExecution registers a new execution; existing ids are left intact.
func (s *Store) CreateExecution(ctx context.Context, executionID execution.ID, diagramID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[executionID]; ok {
		return nil
	}
	now := time.Now()
	snap := &execution.Snapshot{
		ExecutionID: executionID,
		DiagramID:   diagramID,
		Status:      execution.StatusPending,
		NodeStates:  make(map[diagram.NodeID]*execution.NodeState),
		StartedAt:   &now,
	}
	s.cache[executionID] = snap
	return s.upsert(ctx, snap)
}

// UpdateStatus records an execution status transition.
func (s *Store) UpdateStatus(ctx context.Context, executionID execution.ID, status execution.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.working(ctx, executionID)
	if err != nil {
		return err
	}
	snap.Status = status
	if errMsg != "" {
		snap.Error = errMsg
	}
	if status.Terminal() && snap.CompletedAt == nil {
		now := time.Now()
		snap.CompletedAt = &now
	}
	return s.upsert(ctx, snap)
}

// UpdateNodeStatus records a node status transition.
func (s *Store) UpdateNodeStatus(ctx context.Context, executionID execution.ID, nodeID diagram.NodeID, status execution.NodeStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.working(ctx, executionID)
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
	return s.upsert(ctx, snap)
}

// UpdateNodeOutput records a node's output.
func (s *Store) UpdateNodeOutput(ctx context.Context, executionID execution.ID, nodeID diagram.NodeID, output *execution.NodeOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.working(ctx, executionID)
	if err != nil {
		return err
	}
	ns, ok := snap.NodeStates[nodeID]
	if !ok {
		ns = &execution.NodeState{}
		snap.NodeStates[nodeID] = ns
	}
	ns.Output = output
	return s.upsert(ctx, snap)
}

// SaveSnapshot persists a full snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot *execution.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[snapshot.ExecutionID] = snapshot
	return s.upsert(ctx, snapshot)
}

// GetSnapshot loads the last persisted snapshot.
func (s *Store) GetSnapshot(ctx context.Context, executionID execution.ID) (*execution.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working(ctx, executionID)
}

// ListExecutions lists known executions, most recent first.
func (s *Store) ListExecutions(ctx context.Context) ([]state.Summary, error) {
	var rows []executionRow
	if err := s.db.NewSelect().
		Model(&rows).
		Order("started_at DESC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	summaries := make([]state.Summary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, state.Summary{
			ExecutionID: execution.ID(row.ExecutionID),
			DiagramID:   row.DiagramID,
			Status:      execution.Status(row.Status),
			StartedAt:   row.StartedAt,
			CompletedAt: row.CompletedAt,
		})
	}
	return summaries, nil
}

func (s *Store) working(ctx context.Context, executionID execution.ID) (*execution.Snapshot, error) {
	if snap, ok := s.cache[executionID]; ok {
		return snap, nil
	}
	row := new(executionRow)
	err := s.db.NewSelect().
		Model(row).
		Where("execution_id = ?", string(executionID)).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, state.ErrNotFound
		}
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}
	var snap execution.Snapshot
	if err := json.Unmarshal(row.Snapshot, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", executionID, err)
	}
	s.cache[executionID] = &snap
	return &snap, nil
}

func (s *Store) upsert(ctx context.Context, snap *execution.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ExecutionID, err)
	}
	row := &executionRow{
		ExecutionID: string(snap.ExecutionID),
		DiagramID:   snap.DiagramID,
		Status:      string(snap.Status),
		Snapshot:    data,
		StartedAt:   snap.StartedAt,
		CompletedAt: snap.CompletedAt,
		Error:       snap.Error,
	}
	if _, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (execution_id) DO UPDATE").
		Set("diagram_id = EXCLUDED.diagram_id").
		Set("status = EXCLUDED.status").
		Set("snapshot = EXCLUDED.snapshot").
		Set("started_at = EXCLUDED.started_at").
		Set("completed_at = EXCLUDED.completed_at").
		Set("error = EXCLUDED.error").
		Exec(ctx); err != nil {
		return fmt.Errorf("upsert execution %s: %w", snap.ExecutionID, err)
	}
	return nil
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package state defines the StateStore port through which execution state is
// persisted. Implementations live in subpackages: inmemory for tests and
// single-process runs, file for msgpack snapshots on disk, postgres for a
// bun-backed relational store.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/execution"
)

// ErrNotFound is returned when an execution id is unknown to the store.
var ErrNotFound = errors.New("state: execution not found")

// Summary is a lightweight listing record.
type Summary struct {
	ExecutionID execution.ID     `json:"execution_id"`
	DiagramID   string           `json:"diagram_id,omitempty"`
	Status      execution.Status `json:"status"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Store is the persistence port the observer bus writes through.
// CreateExecution must be idempotent. Implementations guarantee a durable
// write (best effort) before returning from SaveSnapshot for terminal
// statuses.
type Store interface {
	// CreateExecution registers a new execution. Creating an existing id is
	// a no-op.
	CreateExecution(ctx context.Context, executionID execution.ID, diagramID string) error
	// UpdateStatus records an execution status transition.
	UpdateStatus(ctx context.Context, executionID execution.ID, status execution.Status, errMsg string) error
	// UpdateNodeStatus records a node status transition.
	UpdateNodeStatus(ctx context.Context, executionID execution.ID, nodeID diagram.NodeID, status execution.NodeStatus, errMsg string) error
	// UpdateNodeOutput records a node's output.
	UpdateNodeOutput(ctx context.Context, executionID execution.ID, nodeID diagram.NodeID, output *execution.NodeOutput) error
	// SaveSnapshot persists a full state snapshot.
	SaveSnapshot(ctx context.Context, snapshot *execution.Snapshot) error
	// GetSnapshot loads the last persisted snapshot.
	GetSnapshot(ctx context.Context, executionID execution.ID) (*execution.Snapshot, error)
	// ListExecutions lists known executions, most recent first.
	ListExecutions(ctx context.Context) ([]Summary, error)
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/state"
)

func TestCreateIsIdempotent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateExecution(ctx, "e1", "diag"))
	require.NoError(t, s.UpdateStatus(ctx, "e1", execution.StatusRunning, ""))
	require.NoError(t, s.CreateExecution(ctx, "e1", "other"))

	snap, err := s.GetSnapshot(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusRunning, snap.Status, "re-create leaves existing state intact")
	assert.Equal(t, "diag", snap.DiagramID)
}

func TestNodeUpdatesAccumulate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateExecution(ctx, "e1", "diag"))
	require.NoError(t, s.UpdateNodeStatus(ctx, "e1", "n1", execution.NodeRunning, ""))
	require.NoError(t, s.UpdateNodeOutput(ctx, "e1", "n1", &execution.NodeOutput{Value: "done"}))
	require.NoError(t, s.UpdateNodeStatus(ctx, "e1", "n1", execution.NodeCompleted, ""))

	snap, err := s.GetSnapshot(ctx, "e1")
	require.NoError(t, err)
	ns := snap.NodeStates["n1"]
	require.NotNil(t, ns)
	assert.Equal(t, execution.NodeCompleted, ns.Status)
	assert.Equal(t, "done", ns.Output.Value)
}

func TestTerminalStatusStampsCompletion(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateExecution(ctx, "e1", "diag"))
	require.NoError(t, s.UpdateStatus(ctx, "e1", execution.StatusFailed, "node n1: boom"))

	snap, err := s.GetSnapshot(ctx, "e1")
	require.NoError(t, err)
	assert.NotNil(t, snap.CompletedAt)
	assert.Equal(t, "node n1: boom", snap.Error)
}

func TestUnknownExecution(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.GetSnapshot(ctx, "nope")
	require.ErrorIs(t, err, state.ErrNotFound)
	require.ErrorIs(t, s.UpdateStatus(ctx, "nope", execution.StatusRunning, ""), state.ErrNotFound)
	require.ErrorIs(t, s.UpdateNodeStatus(ctx, "nope", "n1", execution.NodeRunning, ""), state.ErrNotFound)
}

func TestListExecutions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateExecution(ctx, "e1", "a"))
	require.NoError(t, s.CreateExecution(ctx, "e2", "b"))

	summaries, err := s.ListExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	for _, summary := range summaries {
		assert.Equal(t, execution.StatusPending, summary.Status)
	}
}

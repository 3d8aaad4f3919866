//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package file

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/state"
)

func TestSnapshotSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateExecution(ctx, "e1", "diag"))
	require.NoError(t, s.UpdateNodeStatus(ctx, "e1", "n1", execution.NodeCompleted, ""))
	require.NoError(t, s.UpdateNodeOutput(ctx, "e1", "n1", &execution.NodeOutput{Value: "result"}))
	require.NoError(t, s.UpdateStatus(ctx, "e1", execution.StatusCompleted, ""))

	// A fresh store over the same directory reads the persisted snapshot.
	reopened, err := NewStore(dir)
	require.NoError(t, err)
	snap, err := reopened.GetSnapshot(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, snap.Status)
	assert.Equal(t, "result", snap.NodeStates["n1"].Output.Value)
}

func TestSaveSnapshotWholesale(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.SaveSnapshot(ctx, &execution.Snapshot{
		ExecutionID: "e1",
		DiagramID:   "diag",
		Status:      execution.StatusFailed,
		Error:       "node n1: boom",
		NodeStates: map[diagram.NodeID]*execution.NodeState{
			"n1": {Status: execution.NodeFailed, Error: "boom"},
		},
	}))

	snap, err := s.GetSnapshot(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, snap.Status)
	assert.Equal(t, "boom", snap.NodeStates["n1"].Error)
}

func TestCreateRecoversExistingFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateExecution(ctx, "e1", "diag"))
	require.NoError(t, s.UpdateStatus(ctx, "e1", execution.StatusRunning, ""))

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, reopened.CreateExecution(ctx, "e1", "ignored"))

	snap, err := reopened.GetSnapshot(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusRunning, snap.Status)
	assert.Equal(t, "diag", snap.DiagramID)
}

func TestMissingExecution(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.GetSnapshot(context.Background(), "nope")
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.CreateExecution(ctx, "e1", "diag"))
	require.NoError(t, s.UpdateStatus(ctx, "e1", execution.StatusCompleted, ""))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1.state.msgpack", entries[0].Name())
}

func TestListExecutions(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.CreateExecution(ctx, "e1", "a"))
	require.NoError(t, s.CreateExecution(ctx, "e2", "b"))
	require.NoError(t, s.UpdateStatus(ctx, "e2", execution.StatusCompleted, ""))

	summaries, err := s.ListExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	byID := map[execution.ID]state.Summary{}
	for _, sum := range summaries {
		byID[sum.ExecutionID] = sum
	}
	assert.Equal(t, execution.StatusPending, byID["e1"].Status)
	assert.Equal(t, execution.StatusCompleted, byID["e2"].Status)
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package execution

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-go/llm"
)

func TestNodeLifecycle(t *testing.T) {
	s := NewState("exec-1", "diag-1")
	assert.Equal(t, StatusPending, s.Status())
	assert.Equal(t, NodePending, s.NodeStatusOf("a"))

	s.MarkNodeRunning("a")
	assert.Equal(t, NodeRunning, s.NodeStatusOf("a"))

	s.MarkNodeComplete("a", &NodeOutput{Value: "done"})
	assert.True(t, s.IsNodeComplete("a"))
	assert.Equal(t, 1, s.IterationCount("a"))

	out, ok := s.GetNodeOutput("a")
	require.True(t, ok)
	assert.Equal(t, "done", out.Value)
}

func TestMarkNodeFailed(t *testing.T) {
	s := NewState("exec-1", "")
	s.MarkNodeRunning("a")
	s.MarkNodeFailed("a", errors.New("boom"))

	assert.Equal(t, NodeFailed, s.NodeStatusOf("a"))
	snap := s.Snapshot()
	assert.Equal(t, "boom", snap.NodeStates["a"].Error)
	assert.NotNil(t, snap.NodeStates["a"].EndedAt)
}

func TestMarkNodeSkippedKeepsOutput(t *testing.T) {
	s := NewState("exec-1", "")
	s.MarkNodeComplete("a", &NodeOutput{Value: 42})
	s.MarkNodeSkipped("a", SkipMaxIterations)

	assert.Equal(t, NodeSkipped, s.NodeStatusOf("a"))
	out, ok := s.GetNodeOutput("a")
	require.True(t, ok, "skip must retain the last output as passthrough")
	assert.Equal(t, 42, out.Value)
	assert.Equal(t, SkipMaxIterations, s.Snapshot().NodeStates["a"].SkipReason)
}

func TestResetNodeForIterationPreservesCounters(t *testing.T) {
	s := NewState("exec-1", "")
	s.MarkNodeComplete("a", &NodeOutput{Value: "first"})
	s.MarkNodeComplete("a", &NodeOutput{Value: "second"})
	require.Equal(t, 2, s.IterationCount("a"))

	s.ResetNodeForIteration("a")
	assert.Equal(t, NodePending, s.NodeStatusOf("a"))
	assert.Equal(t, 2, s.IterationCount("a"), "reset must not clear iteration count")

	out, ok := s.GetNodeOutput("a")
	require.True(t, ok)
	assert.Equal(t, "second", out.Value, "reset must keep the last output visible")
}

func TestTokenAccumulation(t *testing.T) {
	s := NewState("exec-1", "")
	s.MarkNodeComplete("a", &NodeOutput{
		Value:      "x",
		TokenUsage: &llm.TokenUsage{Input: 10, Output: 5},
	})
	s.UpdateTokenUsage(llm.TokenUsage{Input: 10, Output: 5})
	s.UpdateTokenUsage(llm.TokenUsage{Input: 3, Output: 2, Cached: 1})

	totals := s.TokenTotals()
	assert.Equal(t, 13, totals.Input)
	assert.Equal(t, 7, totals.Output)
	assert.Equal(t, 1, totals.Cached)

	snap := s.Snapshot()
	require.NotNil(t, snap.NodeStates["a"].TokenUsage)
	assert.Equal(t, 10, snap.NodeStates["a"].TokenUsage.Input)
}

func TestTerminalStatusStampsCompletion(t *testing.T) {
	s := NewState("exec-1", "")
	s.UpdateStatus(StatusRunning, "")
	assert.Nil(t, s.Snapshot().CompletedAt)

	s.UpdateStatus(StatusFailed, "node a failed")
	snap := s.Snapshot()
	require.NotNil(t, snap.CompletedAt)
	assert.Equal(t, "node a failed", snap.Error)
	assert.True(t, snap.Status.Terminal())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := NewState("exec-1", "")
	s.MarkNodeComplete("a", &NodeOutput{
		Value:    "v",
		Metadata: map[string]any{"condition_result": true},
	})

	snap := s.Snapshot()
	snap.NodeStates["a"].Output.Metadata["condition_result"] = false
	snap.NodeStates["a"].Status = NodeFailed

	out, _ := s.GetNodeOutput("a")
	result, ok := out.ConditionResult()
	require.True(t, ok)
	assert.True(t, result, "mutating a snapshot must not affect live state")
	assert.Equal(t, NodeCompleted, s.NodeStatusOf("a"))
}

func TestConditionResultHelpers(t *testing.T) {
	var nilOut *NodeOutput
	_, ok := nilOut.ConditionResult()
	assert.False(t, ok)
	assert.False(t, nilOut.SkipRequested())

	out := &NodeOutput{Metadata: map[string]any{"condition_result": false, "skipped": true}}
	result, ok := out.ConditionResult()
	assert.True(t, ok)
	assert.False(t, result)
	assert.True(t, out.SkipRequested())
}

func TestRetryCounter(t *testing.T) {
	s := NewState("exec-1", "")
	assert.Equal(t, 1, s.IncrementRetry("a"))
	assert.Equal(t, 2, s.IncrementRetry("a"))
}

func TestManager(t *testing.T) {
	m := NewManager()
	st := m.Create("exec-1", "diag")
	require.NotNil(t, st)

	// Creating again reuses the existing state.
	again := m.Create("exec-1", "diag")
	assert.Same(t, st, again)

	got, ok := m.Get("exec-1")
	require.True(t, ok)
	assert.Equal(t, ID("exec-1"), got.ExecutionID())

	_, ok = m.Get("missing")
	assert.False(t, ok)

	m.Remove("exec-1")
	_, ok = m.Get("exec-1")
	assert.False(t, ok)
}

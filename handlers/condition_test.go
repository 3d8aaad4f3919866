//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-go/condition"
	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/service"
)

func exprCondition(expression string) *diagram.ConditionNode {
	return &diagram.ConditionNode{
		BaseNode:      diagram.BaseNode{NodeID: "cond", NodeType: diagram.NodeTypeCondition},
		ConditionType: diagram.ConditionTypeExpression,
		Expression:    expression,
	}
}

func TestConditionExpressionTrue(t *testing.T) {
	h := &ConditionHandler{}
	nc := testContext()
	service.ConditionEvaluation.Register(nc.Services, condition.NewExprEvaluator())
	nc.Inputs = map[string]any{"default": map[string]any{"score": 0.9}}

	out, err := h.Execute(context.Background(), exprCondition("score > 0.8"), nc)
	require.NoError(t, err)
	assert.Equal(t, true, out.Value)
	assert.Equal(t, true, out.Metadata["condition_result"])
}

func TestConditionExpressionFalse(t *testing.T) {
	h := &ConditionHandler{}
	nc := testContext()
	service.ConditionEvaluation.Register(nc.Services, condition.NewExprEvaluator())
	nc.Inputs = map[string]any{"default": map[string]any{"score": 0.2}}

	out, err := h.Execute(context.Background(), exprCondition("score > 0.8"), nc)
	require.NoError(t, err)
	assert.Equal(t, false, out.Value)
}

func TestConditionExpressionSeesIteration(t *testing.T) {
	h := &ConditionHandler{}
	nc := testContext()
	service.ConditionEvaluation.Register(nc.Services, condition.NewExprEvaluator())
	nc.Iteration = 3

	out, err := h.Execute(context.Background(), exprCondition("iteration >= 3"), nc)
	require.NoError(t, err)
	assert.Equal(t, true, out.Value)
}

func TestConditionExpressionErrorIsValidation(t *testing.T) {
	h := &ConditionHandler{}
	nc := testContext()
	service.ConditionEvaluation.Register(nc.Services, condition.NewExprEvaluator())

	_, err := h.Execute(context.Background(), exprCondition("score >"), nc)
	require.Error(t, err)
	assert.Equal(t, engine.KindValidation, engine.KindOf(err))
}

func TestConditionWithoutEvaluatorService(t *testing.T) {
	h := &ConditionHandler{}

	_, err := h.Execute(context.Background(), exprCondition("true"), testContext())
	require.Error(t, err)
	assert.Equal(t, engine.KindConfiguration, engine.KindOf(err))
}

// loopContext builds start -> person(max 2) -> cond with a back-edge
// cond -> person and returns a context positioned at the condition.
func loopContext(t *testing.T) *engine.NodeContext {
	t.Helper()
	nodes := []diagram.ExecutableNode{
		&diagram.StartNode{BaseNode: diagram.BaseNode{NodeID: "start", NodeType: diagram.NodeTypeStart}},
		&diagram.PersonJobNode{
			BaseNode:     diagram.BaseNode{NodeID: "person", NodeType: diagram.NodeTypePersonJob},
			PersonID:     "writer",
			MaxIteration: 2,
		},
		&diagram.ConditionNode{
			BaseNode:      diagram.BaseNode{NodeID: "cond", NodeType: diagram.NodeTypeCondition},
			ConditionType: diagram.ConditionTypeDetectMaxIterations,
		},
	}
	edges := []*diagram.ExecutableEdge{
		{ID: "e1", SourceNodeID: "start", TargetNodeID: "person"},
		{ID: "e2", SourceNodeID: "person", TargetNodeID: "cond"},
		{ID: "e3", SourceNodeID: "cond", SourceOutput: diagram.HandleLabelCondFalse, TargetNodeID: "person", LoopBack: true},
	}
	dg := diagram.NewExecutableDiagram(nodes, edges, &diagram.CompiledMetadata{})

	nc := testContext()
	nc.NodeID = "cond"
	nc.Diagram = dg
	nc.State = execution.NewState("exec-test", "loop")
	return nc
}

func TestDetectMaxIterationsBelowCap(t *testing.T) {
	h := &ConditionHandler{}
	nc := loopContext(t)
	nc.State.MarkNodeComplete("person", &execution.NodeOutput{Value: "draft 0"})

	out, err := h.Execute(context.Background(), nc.Diagram.Nodes()[2], nc)
	require.NoError(t, err)
	assert.Equal(t, false, out.Value, "one of two iterations spent")
}

func TestDetectMaxIterationsAtCap(t *testing.T) {
	h := &ConditionHandler{}
	nc := loopContext(t)
	nc.State.MarkNodeComplete("person", &execution.NodeOutput{Value: "draft 0"})
	nc.State.ResetNodeForIteration("person")
	nc.State.MarkNodeComplete("person", &execution.NodeOutput{Value: "draft 1"})

	out, err := h.Execute(context.Background(), nc.Diagram.Nodes()[2], nc)
	require.NoError(t, err)
	assert.Equal(t, true, out.Value)
}

func TestDetectMaxIterationsNoUpstreamPersons(t *testing.T) {
	h := &ConditionHandler{}
	nodes := []diagram.ExecutableNode{
		&diagram.StartNode{BaseNode: diagram.BaseNode{NodeID: "start", NodeType: diagram.NodeTypeStart}},
		&diagram.ConditionNode{
			BaseNode:      diagram.BaseNode{NodeID: "cond", NodeType: diagram.NodeTypeCondition},
			ConditionType: diagram.ConditionTypeDetectMaxIterations,
		},
	}
	edges := []*diagram.ExecutableEdge{
		{ID: "e1", SourceNodeID: "start", TargetNodeID: "cond"},
	}
	nc := testContext()
	nc.NodeID = "cond"
	nc.Diagram = diagram.NewExecutableDiagram(nodes, edges, &diagram.CompiledMetadata{})
	nc.State = execution.NewState("exec-test", "loop")

	out, err := h.Execute(context.Background(), nodes[1], nc)
	require.NoError(t, err)
	assert.Equal(t, true, out.Value, "no capped persons upstream means the loop has nothing left to run")
}

func TestConditionEnvFlattening(t *testing.T) {
	nc := testContext()
	nc.Iteration = 1
	nc.Inputs = map[string]any{
		"default": map[string]any{"score": 0.5, "inputs": "shadowed"},
		"extra":   "side",
	}

	env := conditionEnv(nc)
	assert.Equal(t, 0.5, env["score"])
	assert.Equal(t, nc.Inputs, env["inputs"], "built-in env names are not overwritten by input fields")
	assert.Equal(t, 1, env["iteration"])
	assert.Equal(t, nc.Inputs["default"], env["input"])
}

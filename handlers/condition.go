//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package handlers

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/service"
)

// ConditionHandler evaluates a branch decision. Expression conditions go
// through the condition evaluation port; detect_max_iterations inspects the
// iteration counters of looping person nodes upstream of the condition.
type ConditionHandler struct{}

// NodeType implements engine.Handler.
func (h *ConditionHandler) NodeType() diagram.NodeType { return diagram.NodeTypeCondition }

// Execute implements engine.Handler.
func (h *ConditionHandler) Execute(ctx context.Context, node diagram.ExecutableNode, nc *engine.NodeContext) (*execution.NodeOutput, error) {
	cond, ok := node.(*diagram.ConditionNode)
	if !ok {
		return nil, engine.Internal(fmt.Errorf("condition handler received %T", node))
	}

	var result bool
	switch cond.ConditionType {
	case diagram.ConditionTypeDetectMaxIterations:
		result = h.detectMaxIterations(nc)
	default:
		evaluator, err := service.Require(nc.Services, service.ConditionEvaluation)
		if err != nil {
			return nil, engine.Configuration(err)
		}
		env := conditionEnv(nc)
		result, err = evaluator.Evaluate(ctx, cond.Expression, env)
		if err != nil {
			return nil, engine.Validation(err)
		}
	}

	return &execution.NodeOutput{
		Value:    result,
		Metadata: map[string]any{"condition_result": result},
	}, nil
}

// detectMaxIterations is true when every capped person node upstream of the
// condition (walking non-back edges) has exhausted its iterations. A
// condition with no upstream person nodes reports true so a misconfigured
// loop still terminates.
func (h *ConditionHandler) detectMaxIterations(nc *engine.NodeContext) bool {
	seen := make(map[diagram.NodeID]bool)
	stack := []diagram.NodeID{nc.NodeID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		node, ok := nc.Diagram.GetNode(id)
		if ok {
			max := 0
			switch n := node.(type) {
			case *diagram.PersonJobNode:
				max = n.MaxIteration
			case *diagram.PersonBatchJobNode:
				max = n.MaxIteration
			}
			if max > 0 && nc.State.IterationCount(id) < max {
				return false
			}
		}
		for _, e := range nc.Diagram.GetIncomingEdges(id) {
			if !e.LoopBack {
				stack = append(stack, e.SourceNodeID)
			}
		}
	}
	return true
}

// conditionEnv builds the expression environment: the raw inputs map plus,
// when the default input is an object, its fields as top-level variables.
func conditionEnv(nc *engine.NodeContext) map[string]any {
	env := map[string]any{
		"inputs":    nc.Inputs,
		"iteration": nc.Iteration,
	}
	if v, ok := nc.FirstInput(); ok {
		env["input"] = v
		if m, ok := v.(map[string]any); ok {
			for k, val := range m {
				if _, taken := env[k]; !taken {
					env[k] = val
				}
			}
		}
	}
	return env
}

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
)

// StartHandler seeds an execution with the start node's custom data.
type StartHandler struct{}

// NodeType implements engine.Handler.
func (h *StartHandler) NodeType() diagram.NodeType { return diagram.NodeTypeStart }

// Execute implements engine.Handler.
func (h *StartHandler) Execute(_ context.Context, node diagram.ExecutableNode, _ *engine.NodeContext) (*execution.NodeOutput, error) {
	start, ok := node.(*diagram.StartNode)
	if !ok {
		return nil, engine.Internal(fmt.Errorf("start handler received %T", node))
	}
	var value any
	if len(start.CustomData) > 0 {
		value = start.CustomData
	} else {
		value = ""
	}
	return &execution.NodeOutput{Value: value}, nil
}

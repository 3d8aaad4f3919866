//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/events"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/service"
)

// UserResponseHandler pauses execution for an interactive answer. The
// prompt is broadcast on the execution's event stream and answered through
// the engine's interactive handler.
type UserResponseHandler struct{}

// NodeType implements engine.Handler.
func (h *UserResponseHandler) NodeType() diagram.NodeType { return diagram.NodeTypeUserResponse }

// Execute implements engine.Handler.
func (h *UserResponseHandler) Execute(ctx context.Context, node diagram.ExecutableNode, nc *engine.NodeContext) (*execution.NodeOutput, error) {
	ur, ok := node.(*diagram.UserResponseNode)
	if !ok {
		return nil, engine.Internal(fmt.Errorf("user_response handler received %T", node))
	}
	if nc.Interactive == nil {
		return nil, engine.Configuration(fmt.Errorf("user_response %s: no interactive handler attached", node.ID()))
	}

	if ur.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ur.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	prompt := renderTemplate(ur.Prompt, promptVars(nc))
	extra := map[string]any{"inputs": nc.Inputs}

	if router, ok := service.Resolve(nc.Services, service.MessageRouter); ok {
		evt := events.NewInteractivePrompt(nc.ExecutionID, nc.NodeID, prompt, extra)
		_ = router.BroadcastToExecution(nc.ExecutionID, evt)
	}

	response, err := nc.Interactive.Prompt(ctx, nc.NodeID, prompt, extra)
	if err != nil {
		return nil, fmt.Errorf("user_response %s: %w", node.ID(), err)
	}

	if router, ok := service.Resolve(nc.Services, service.MessageRouter); ok {
		evt := events.NewInteractiveResponse(nc.ExecutionID, nc.NodeID, response)
		_ = router.BroadcastToExecution(nc.ExecutionID, evt)
	}

	return &execution.NodeOutput{Value: response}, nil
}

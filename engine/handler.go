//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package engine

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-go/conversation"
	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/service"
)

// InteractiveHandler answers interactive prompts raised by user_response
// nodes. The CLI and server each provide one.
type InteractiveHandler interface {
	Prompt(ctx context.Context, nodeID diagram.NodeID, prompt string, extra map[string]any) (string, error)
}

// InteractiveFunc adapts a function to InteractiveHandler.
type InteractiveFunc func(ctx context.Context, nodeID diagram.NodeID, prompt string, extra map[string]any) (string, error)

// Prompt implements InteractiveHandler.
func (f InteractiveFunc) Prompt(ctx context.Context, nodeID diagram.NodeID, prompt string, extra map[string]any) (string, error) {
	return f(ctx, nodeID, prompt, extra)
}

// NodeContext is the per-invocation environment a handler receives.
type NodeContext struct {
	ExecutionID execution.ID
	NodeID      diagram.NodeID
	// Iteration is the 0-based iteration the node is executing.
	Iteration int
	// Inputs holds the resolved inbound values keyed by target input label.
	Inputs map[string]any
	// Services resolves the runtime dependencies the handler needs.
	Services *service.Registry
	// Conversation is the per-execution conversation memory.
	Conversation *conversation.Manager
	// Interactive answers user prompts; nil when no frontend is attached.
	Interactive InteractiveHandler
	// Diagram is the immutable compiled graph, for handlers that inspect
	// topology (detect_max_iterations conditions).
	Diagram *diagram.ExecutableDiagram
	// State offers read access to node statuses and iteration counters.
	// Handlers must not write through it.
	State *execution.State
}

// Input returns the value keyed under label, or the sole input when only one
// edge feeds the node.
func (nc *NodeContext) Input(label string) (any, bool) {
	if v, ok := nc.Inputs[label]; ok {
		return v, true
	}
	if label == string(diagram.HandleLabelDefault) && len(nc.Inputs) == 1 {
		for _, v := range nc.Inputs {
			return v, true
		}
	}
	return nil, false
}

// FirstInput returns the default input value, if present.
func (nc *NodeContext) FirstInput() (any, bool) {
	return nc.Input(string(diagram.HandleLabelDefault))
}

// Handler executes one node type.
type Handler interface {
	// NodeType names the type this handler serves.
	NodeType() diagram.NodeType
	// Execute runs the node and returns its output. The scheduler inspects
	// only metadata.condition_result, metadata.skipped, and token usage.
	Execute(ctx context.Context, node diagram.ExecutableNode, nc *NodeContext) (*execution.NodeOutput, error)
}

// HandlerRegistry maps node types to handlers.
type HandlerRegistry struct {
	handlers map[diagram.NodeType]Handler
}

// NewHandlerRegistry creates a registry from the given handlers.
func NewHandlerRegistry(handlers ...Handler) *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[diagram.NodeType]Handler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.NodeType()] = h
	}
	return r
}

// Register adds or replaces the handler for its node type.
func (r *HandlerRegistry) Register(h Handler) {
	r.handlers[h.NodeType()] = h
}

// Resolve returns the handler for the node type.
func (r *HandlerRegistry) Resolve(t diagram.NodeType) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, Configuration(fmt.Errorf("no handler registered for node type %q", t))
	}
	return h, nil
}

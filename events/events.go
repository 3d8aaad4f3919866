//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package events defines the lifecycle events the observer bus fans out to
// subscribers. Shapes are JSON-stable; external consumers read them off the
// per-execution stream.
package events

import (
	"time"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/llm"
)

// Type enumerates lifecycle event kinds.
type Type string

// Event types.
const (
	TypeExecutionStart      Type = "execution_start"
	TypeNodeUpdate          Type = "node_update"
	TypeNodeError           Type = "node_error"
	TypeExecutionComplete   Type = "execution_complete"
	TypeExecutionError      Type = "execution_error"
	TypeInteractivePrompt   Type = "interactive_prompt"
	TypeInteractiveResponse Type = "interactive_response"
	// TypeQueueOverflow marks dropped events on a bounded subscriber queue.
	TypeQueueOverflow Type = "queue_overflow"
)

// Event is a single lifecycle notification. Fields are populated per type;
// within one execution, events are published in the scheduler's commit
// order.
type Event struct {
	Type        Type                  `json:"type"`
	ExecutionID execution.ID          `json:"execution_id"`
	DiagramID   string                `json:"diagram_id,omitempty"`
	NodeID      diagram.NodeID        `json:"node_id,omitempty"`
	State       execution.NodeStatus  `json:"state,omitempty"`
	SkipReason  string                `json:"skip_reason,omitempty"`
	Output      *execution.NodeOutput `json:"output,omitempty"`
	Status      execution.Status      `json:"status,omitempty"`
	Error       string                `json:"error,omitempty"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	EndedAt     *time.Time            `json:"ended_at,omitempty"`
	TokenUsage  *llm.TokenUsage       `json:"token_usage,omitempty"`
	RetryCount  int                   `json:"retry_count,omitempty"`
	Prompt      string                `json:"prompt,omitempty"`
	Context     map[string]any        `json:"context,omitempty"`
	Response    string                `json:"response,omitempty"`
	// Dropped counts events discarded before a queue_overflow marker.
	Dropped   int       `json:"dropped,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(t Type, executionID execution.ID) *Event {
	return &Event{Type: t, ExecutionID: executionID, Timestamp: time.Now()}
}

// NewExecutionStart builds an execution_start event.
func NewExecutionStart(executionID execution.ID, diagramID string) *Event {
	e := newEvent(TypeExecutionStart, executionID)
	e.DiagramID = diagramID
	return e
}

// NewNodeUpdate builds a node_update event from the node's current record.
func NewNodeUpdate(executionID execution.ID, nodeID diagram.NodeID, ns *execution.NodeState) *Event {
	e := newEvent(TypeNodeUpdate, executionID)
	e.NodeID = nodeID
	if ns != nil {
		e.State = ns.Status
		e.SkipReason = ns.SkipReason
		e.Output = ns.Output
		e.StartedAt = ns.StartedAt
		e.EndedAt = ns.EndedAt
		e.TokenUsage = ns.TokenUsage
		e.RetryCount = ns.RetryCount
	}
	return e
}

// NewNodeError builds a node_error event.
func NewNodeError(executionID execution.ID, nodeID diagram.NodeID, err error) *Event {
	e := newEvent(TypeNodeError, executionID)
	e.NodeID = nodeID
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// NewExecutionComplete builds an execution_complete event.
func NewExecutionComplete(executionID execution.ID, status execution.Status) *Event {
	e := newEvent(TypeExecutionComplete, executionID)
	e.Status = status
	return e
}

// NewExecutionError builds an execution_error event.
func NewExecutionError(executionID execution.ID, err error) *Event {
	e := newEvent(TypeExecutionError, executionID)
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// NewInteractivePrompt builds an interactive_prompt event.
func NewInteractivePrompt(executionID execution.ID, nodeID diagram.NodeID, prompt string, context map[string]any) *Event {
	e := newEvent(TypeInteractivePrompt, executionID)
	e.NodeID = nodeID
	e.Prompt = prompt
	e.Context = context
	return e
}

// NewInteractiveResponse builds an interactive_response event.
func NewInteractiveResponse(executionID execution.ID, nodeID diagram.NodeID, response string) *Event {
	e := newEvent(TypeInteractiveResponse, executionID)
	e.NodeID = nodeID
	e.Response = response
	return e
}

// NewQueueOverflow builds the marker event a bounded queue emits after
// dropping its oldest entries.
func NewQueueOverflow(executionID execution.ID, dropped int) *Event {
	e := newEvent(TypeQueueOverflow, executionID)
	e.Dropped = dropped
	return e
}

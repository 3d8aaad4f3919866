//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package execution tracks the mutable per-run state of a diagram execution:
// node statuses, outputs, iteration counters, and aggregate token tallies.
package execution

import (
	"sync"
	"time"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/llm"
)

// ID is an opaque execution identifier.
type ID string

// Status is the execution-level lifecycle status.
type Status string

// Execution statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// NodeStatus is the per-node lifecycle status.
type NodeStatus string

// Node statuses.
const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// Terminal reports whether the node status is final for the current
// iteration.
func (s NodeStatus) Terminal() bool {
	return s == NodeCompleted || s == NodeFailed || s == NodeSkipped
}

// Skip reasons recorded when a node is marked skipped.
const (
	SkipMaxIterations  = "max_iterations"
	SkipBranchNotTaken = "branch_not_taken"
	SkipUpstreamFailed = "upstream_failed"
	SkipByHandler      = "handler_requested"
	SkipCircuitOpen    = "circuit_open"
)

// NodeOutput is the opaque result a handler produces. The scheduler only
// inspects Metadata for the condition result and skip markers, and
// TokenUsage for aggregation.
type NodeOutput struct {
	Value      any             `json:"value" msgpack:"value"`
	Metadata   map[string]any  `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	TokenUsage *llm.TokenUsage `json:"token_usage,omitempty" msgpack:"token_usage,omitempty"`
}

// ConditionResult reads the metadata.condition_result flag emitted by
// condition handlers.
func (o *NodeOutput) ConditionResult() (bool, bool) {
	if o == nil || o.Metadata == nil {
		return false, false
	}
	v, ok := o.Metadata["condition_result"].(bool)
	return v, ok
}

// SkipRequested reads the metadata.skipped flag a handler may set to request
// a skip (e.g., max-iteration passthrough computed inside the handler).
func (o *NodeOutput) SkipRequested() bool {
	if o == nil || o.Metadata == nil {
		return false
	}
	v, _ := o.Metadata["skipped"].(bool)
	return v
}

// NodeState is the per-node record inside an execution.
type NodeState struct {
	Status         NodeStatus      `json:"status" msgpack:"status"`
	Output         *NodeOutput     `json:"output,omitempty" msgpack:"output,omitempty"`
	Error          string          `json:"error,omitempty" msgpack:"error,omitempty"`
	SkipReason     string          `json:"skip_reason,omitempty" msgpack:"skip_reason,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty" msgpack:"started_at,omitempty"`
	EndedAt        *time.Time      `json:"ended_at,omitempty" msgpack:"ended_at,omitempty"`
	IterationCount int             `json:"iteration_count" msgpack:"iteration_count"`
	RetryCount     int             `json:"retry_count,omitempty" msgpack:"retry_count,omitempty"`
	TokenUsage     *llm.TokenUsage `json:"token_usage,omitempty" msgpack:"token_usage,omitempty"`
}

// Snapshot is a deep copy of an execution's state, suitable for persistence
// and observer reads.
type Snapshot struct {
	ExecutionID ID                            `json:"execution_id" msgpack:"execution_id"`
	DiagramID   string                        `json:"diagram_id,omitempty" msgpack:"diagram_id,omitempty"`
	Status      Status                        `json:"status" msgpack:"status"`
	NodeStates  map[diagram.NodeID]*NodeState `json:"node_states" msgpack:"node_states"`
	TokenTotals llm.TokenUsage                `json:"token_totals" msgpack:"token_totals"`
	StartedAt   *time.Time                    `json:"started_at,omitempty" msgpack:"started_at,omitempty"`
	CompletedAt *time.Time                    `json:"completed_at,omitempty" msgpack:"completed_at,omitempty"`
	Error       string                        `json:"error,omitempty" msgpack:"error,omitempty"`
}

// State is the mutable per-execution record. The scheduler holds exclusive
// write access; other readers use Snapshot.
type State struct {
	mu          sync.Mutex
	executionID ID
	diagramID   string
	status      Status
	nodeStates  map[diagram.NodeID]*NodeState
	currentNode diagram.NodeID
	tokenTotals llm.TokenUsage
	startedAt   *time.Time
	completedAt *time.Time
	errMsg      string
}

// NewState creates a pending execution state.
func NewState(executionID ID, diagramID string) *State {
	now := time.Now()
	return &State{
		executionID: executionID,
		diagramID:   diagramID,
		status:      StatusPending,
		nodeStates:  make(map[diagram.NodeID]*NodeState),
		startedAt:   &now,
	}
}

// ExecutionID returns the execution id.
func (s *State) ExecutionID() ID { return s.executionID }

// DiagramID returns the diagram id the execution runs, if known.
func (s *State) DiagramID() string { return s.diagramID }

// Status returns the current execution status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// UpdateStatus transitions the execution status. A terminal status stamps the
// completion time.
func (s *State) UpdateStatus(status Status, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if errMsg != "" {
		s.errMsg = errMsg
	}
	if status.Terminal() && s.completedAt == nil {
		now := time.Now()
		s.completedAt = &now
	}
}

// SetCurrentNode records the node the scheduler is dispatching.
func (s *State) SetCurrentNode(nodeID diagram.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentNode = nodeID
}

// CurrentNode returns the most recently dispatched node.
func (s *State) CurrentNode() diagram.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentNode
}

// node returns the node record, creating it on first touch. Caller holds mu.
func (s *State) node(nodeID diagram.NodeID) *NodeState {
	ns, ok := s.nodeStates[nodeID]
	if !ok {
		ns = &NodeState{Status: NodePending}
		s.nodeStates[nodeID] = ns
	}
	return ns
}

// MarkNodeRunning transitions a node to running and stamps its start time.
func (s *State) MarkNodeRunning(nodeID diagram.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.node(nodeID)
	now := time.Now()
	ns.Status = NodeRunning
	ns.StartedAt = &now
	ns.EndedAt = nil
	ns.Error = ""
	ns.SkipReason = ""
}

// MarkNodeComplete records a successful node result and bumps the iteration
// counter.
func (s *State) MarkNodeComplete(nodeID diagram.NodeID, output *NodeOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.node(nodeID)
	now := time.Now()
	ns.Status = NodeCompleted
	ns.Output = output
	ns.EndedAt = &now
	ns.IterationCount++
	if output != nil && output.TokenUsage != nil {
		if ns.TokenUsage == nil {
			ns.TokenUsage = &llm.TokenUsage{}
		}
		ns.TokenUsage.Add(*output.TokenUsage)
	}
}

// MarkNodeFailed records a node failure.
func (s *State) MarkNodeFailed(nodeID diagram.NodeID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.node(nodeID)
	now := time.Now()
	ns.Status = NodeFailed
	ns.EndedAt = &now
	if err != nil {
		ns.Error = err.Error()
	}
}

// MarkNodeSkipped records a skip with a structured reason. The node's last
// output is retained as the passthrough value for downstream consumers.
func (s *State) MarkNodeSkipped(nodeID diagram.NodeID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.node(nodeID)
	now := time.Now()
	ns.Status = NodeSkipped
	ns.SkipReason = reason
	ns.EndedAt = &now
}

// ResetNodeForIteration re-arms a node for a new loop iteration, preserving
// its iteration counter and last output.
func (s *State) ResetNodeForIteration(nodeID diagram.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.node(nodeID)
	ns.Status = NodePending
	ns.Error = ""
	ns.SkipReason = ""
	ns.StartedAt = nil
	ns.EndedAt = nil
}

// IncrementRetry bumps and returns the node's retry counter.
func (s *State) IncrementRetry(nodeID diagram.NodeID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.node(nodeID)
	ns.RetryCount++
	return ns.RetryCount
}

// NodeStatusOf returns the node's current status.
func (s *State) NodeStatusOf(nodeID diagram.NodeID) NodeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.nodeStates[nodeID]; ok {
		return ns.Status
	}
	return NodePending
}

// IsNodeComplete reports whether the node completed its current iteration.
func (s *State) IsNodeComplete(nodeID diagram.NodeID) bool {
	return s.NodeStatusOf(nodeID) == NodeCompleted
}

// GetNodeOutput returns the node's last output, if any.
func (s *State) GetNodeOutput(nodeID diagram.NodeID) (*NodeOutput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.nodeStates[nodeID]
	if !ok || ns.Output == nil {
		return nil, false
	}
	return ns.Output, true
}

// IterationCount returns how many times the node has completed.
func (s *State) IterationCount(nodeID diagram.NodeID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.nodeStates[nodeID]; ok {
		return ns.IterationCount
	}
	return 0
}

// UpdateTokenUsage accumulates a handler-reported usage delta into the
// execution totals. The scheduler is the only writer, making the totals
// authoritative.
func (s *State) UpdateTokenUsage(delta llm.TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTotals.Add(delta)
}

// TokenTotals returns the aggregate usage.
func (s *State) TokenTotals() llm.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenTotals
}

// Error returns the execution error message, if any.
func (s *State) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Snapshot deep-copies the state for persistence or observer reads.
func (s *State) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodeStates := make(map[diagram.NodeID]*NodeState, len(s.nodeStates))
	for id, ns := range s.nodeStates {
		copied := *ns
		if ns.Output != nil {
			output := *ns.Output
			if ns.Output.Metadata != nil {
				output.Metadata = make(map[string]any, len(ns.Output.Metadata))
				for k, v := range ns.Output.Metadata {
					output.Metadata[k] = v
				}
			}
			if ns.Output.TokenUsage != nil {
				usage := *ns.Output.TokenUsage
				output.TokenUsage = &usage
			}
			copied.Output = &output
		}
		if ns.TokenUsage != nil {
			usage := *ns.TokenUsage
			copied.TokenUsage = &usage
		}
		nodeStates[id] = &copied
	}

	return &Snapshot{
		ExecutionID: s.executionID,
		DiagramID:   s.diagramID,
		Status:      s.status,
		NodeStates:  nodeStates,
		TokenTotals: s.tokenTotals,
		StartedAt:   s.startedAt,
		CompletedAt: s.completedAt,
		Error:       s.errMsg,
	}
}

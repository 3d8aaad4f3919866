//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package diagram

// JoinPolicy decides when a node with multiple inbound edges becomes ready.
type JoinPolicy string

// Join policies.
const (
	// JoinPolicyAll requires every incoming edge's source to be completed or
	// skipped. This is the default for all node types.
	JoinPolicyAll JoinPolicy = "all"
	// JoinPolicyAny requires at least one completed incoming source. Used by
	// condition nodes.
	JoinPolicyAny JoinPolicy = "any"
)

// TriggerMode selects how a start node fires.
type TriggerMode string

// Trigger modes for start nodes.
const (
	TriggerModeManual TriggerMode = "manual"
	TriggerModeHook   TriggerMode = "hook"
)

// ConditionType selects the evaluation strategy for a condition node.
type ConditionType string

// Condition types.
const (
	// ConditionTypeExpression evaluates a boolean expression against node
	// outputs through the condition evaluation port.
	ConditionTypeExpression ConditionType = "expression"
	// ConditionTypeDetectMaxIterations is true when every looping person_job
	// feeding the condition has reached its iteration cap.
	ConditionTypeDetectMaxIterations ConditionType = "detect_max_iterations"
)

// RetentionRule controls conversation memory cleaning before an LLM call.
type RetentionRule string

// Retention rules.
const (
	RetentionNoForget    RetentionRule = "no_forget"
	RetentionOnEveryTurn RetentionRule = "on_every_turn"
	RetentionForgetOwn   RetentionRule = "forget_own"
)

// ExecutableNode is the typed immutable node record produced by the compiler.
// The concrete type determines which fields are populated.
type ExecutableNode interface {
	ID() NodeID
	Type() NodeType
	Label() string
	Position() Vec2
	// JoinPolicy reports how inbound edges gate readiness for this node.
	JoinPolicy() JoinPolicy
}

// BaseNode carries the fields shared by every executable node. It is embedded
// by the concrete node types.
type BaseNode struct {
	NodeID    NodeID
	NodeType  NodeType
	NodeLabel string
	Pos       Vec2
}

// ID returns the node id.
func (b BaseNode) ID() NodeID { return b.NodeID }

// Type returns the node type.
func (b BaseNode) Type() NodeType { return b.NodeType }

// Label returns the display label.
func (b BaseNode) Label() string { return b.NodeLabel }

// Position returns the canvas position.
func (b BaseNode) Position() Vec2 { return b.Pos }

// JoinPolicy defaults to all.
func (b BaseNode) JoinPolicy() JoinPolicy { return JoinPolicyAll }

// StartNode begins an execution. It has no inbound edges.
type StartNode struct {
	BaseNode
	TriggerMode TriggerMode
	// HookEvent names the external event that fires a hook-triggered start.
	// Required when TriggerMode is hook.
	HookEvent  string
	CustomData map[string]any
}

// EndpointNode terminates a path. It has no outbound edges and can
// optionally persist its final input.
type EndpointNode struct {
	BaseNode
	SaveToFile bool
	FilePath   string
}

// ConditionNode routes execution down its condtrue or condfalse branch.
type ConditionNode struct {
	BaseNode
	ConditionType ConditionType
	// Expression is the boolean expression for expression conditions.
	Expression string
	Policy     JoinPolicy
}

// JoinPolicy returns the configured policy, defaulting to any.
func (n ConditionNode) JoinPolicy() JoinPolicy {
	if n.Policy == "" {
		return JoinPolicyAny
	}
	return n.Policy
}

// ToolConfig declares a tool available to a person during a job.
type ToolConfig struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// PersonJobNode invokes an LLM person, optionally iterating when part of a
// loop. The first prompt is used on iteration 0 only.
type PersonJobNode struct {
	BaseNode
	PersonID        PersonID
	MaxIteration    int
	DefaultPrompt   string
	FirstOnlyPrompt string
	Tools           []ToolConfig
	Retention       RetentionRule
}

// PersonBatchJobNode runs a person once per element of its list input.
type PersonBatchJobNode struct {
	BaseNode
	PersonID      PersonID
	MaxIteration  int
	DefaultPrompt string
	BatchKey      string
	Retention     RetentionRule
}

// CodeJobNode evaluates an expression or external script.
type CodeJobNode struct {
	BaseNode
	Language string
	Code     string
	FilePath string
}

// APIJobNode performs an HTTP request.
type APIJobNode struct {
	BaseNode
	URL     string
	Method  string
	Headers map[string]string
	Params  map[string]any
	Body    map[string]any
	// TimeoutSeconds bounds the request; zero means the engine default.
	TimeoutSeconds int
}

// DBOperation enumerates db node operations.
type DBOperation string

// DB operations.
const (
	DBOperationRead   DBOperation = "read"
	DBOperationWrite  DBOperation = "write"
	DBOperationAppend DBOperation = "append"
)

// DBNode reads or writes a file-backed data source.
type DBNode struct {
	BaseNode
	Operation     DBOperation
	SubType       string
	SourceDetails string
}

// NotionNode talks to the Notion API through the injected Notion service.
type NotionNode struct {
	BaseNode
	Operation  string
	PageID     string
	DatabaseID string
}

// UserResponseNode pauses execution for an interactive answer.
type UserResponseNode struct {
	BaseNode
	Prompt         string
	TimeoutSeconds int
}

// HookNode invokes an external command or webhook.
type HookNode struct {
	BaseNode
	HookType       string
	Command        string
	URL            string
	TimeoutSeconds int
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package rules implements the pluggable rule registry governing which node
// connections are legal and how data is transformed between node types.
package rules

import (
	"github.com/dipeo/dipeo-go/diagram"
)

// Category separates the two rule families sharing registration semantics.
type Category string

// Rule categories.
const (
	CategoryConnection Category = "connection"
	CategoryTransform  Category = "transform"
)

// Priority orders rule evaluation. Connection rules evaluate in descending
// priority with the first denial stopping evaluation; transform rules merge
// in ascending priority so higher-priority fields win.
type Priority int

// Priority bands.
const (
	PriorityLow    Priority = 10
	PriorityNormal Priority = 50
	PriorityHigh   Priority = 100
)

// Key identifies a rule registration.
type Key struct {
	Name        string
	Category    Category
	Priority    Priority
	Description string
	// Immutable rules cannot be replaced without force.
	Immutable bool
	// Dependencies names rules this rule assumes are present. Informational.
	Dependencies []string
}

// ConnectionRule decides whether an edge between two node types is legal.
type ConnectionRule interface {
	// CanConnect reports whether source may feed target.
	CanConnect(source, target diagram.NodeType) bool
	// Reason explains a denial; empty when the pair is allowed.
	Reason(source, target diagram.NodeType) string
}

// TransformRule contributes fields to the transform map of a matching edge.
type TransformRule interface {
	// AppliesTo reports whether the rule is relevant for the edge.
	AppliesTo(source, target diagram.ExecutableNode) bool
	// Transform returns the fields the rule contributes.
	Transform(source, target diagram.ExecutableNode) map[string]any
}

// ConnectionRuleFunc adapts plain functions to ConnectionRule.
type ConnectionRuleFunc struct {
	Allow   func(source, target diagram.NodeType) bool
	Explain func(source, target diagram.NodeType) string
}

// CanConnect implements ConnectionRule.
func (f ConnectionRuleFunc) CanConnect(source, target diagram.NodeType) bool {
	return f.Allow(source, target)
}

// Reason implements ConnectionRule.
func (f ConnectionRuleFunc) Reason(source, target diagram.NodeType) string {
	if f.Explain == nil {
		return ""
	}
	return f.Explain(source, target)
}

// TransformRuleFunc adapts plain functions to TransformRule.
type TransformRuleFunc struct {
	Applies func(source, target diagram.ExecutableNode) bool
	Apply   func(source, target diagram.ExecutableNode) map[string]any
}

// AppliesTo implements TransformRule.
func (f TransformRuleFunc) AppliesTo(source, target diagram.ExecutableNode) bool {
	return f.Applies(source, target)
}

// Transform implements TransformRule.
func (f TransformRuleFunc) Transform(source, target diagram.ExecutableNode) map[string]any {
	return f.Apply(source, target)
}

// outputCapableTypes lists node types that produce data outputs.
var outputCapableTypes = map[diagram.NodeType]bool{
	diagram.NodeTypePersonJob: true,
	diagram.NodeTypeCondition: true,
	diagram.NodeTypeCodeJob:   true,
	diagram.NodeTypeAPIJob:    true,
	diagram.NodeTypeStart:     true,
}

// RegisterBuiltins installs the built-in rule set into the registry.
// Built-in rules are immutable; replacing one requires force.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		key  Key
		rule any
	}{
		{
			key: Key{
				Name:        "start_no_input",
				Category:    CategoryConnection,
				Priority:    PriorityHigh,
				Description: "start nodes accept no incoming connections",
				Immutable:   true,
			},
			rule: ConnectionRuleFunc{
				Allow: func(_, target diagram.NodeType) bool {
					return target != diagram.NodeTypeStart
				},
				Explain: func(_, target diagram.NodeType) string {
					if target == diagram.NodeTypeStart {
						return "start nodes cannot be a connection target"
					}
					return ""
				},
			},
		},
		{
			key: Key{
				Name:        "endpoint_no_output",
				Category:    CategoryConnection,
				Priority:    PriorityHigh,
				Description: "endpoint nodes produce no outgoing connections",
				Immutable:   true,
			},
			rule: ConnectionRuleFunc{
				Allow: func(source, _ diagram.NodeType) bool {
					return source != diagram.NodeTypeEndpoint
				},
				Explain: func(source, _ diagram.NodeType) string {
					if source == diagram.NodeTypeEndpoint {
						return "endpoint nodes cannot be a connection source"
					}
					return ""
				},
			},
		},
		{
			key: Key{
				Name:        "output_capable",
				Category:    CategoryConnection,
				Priority:    PriorityNormal,
				Description: "output-capable nodes must not target a start node",
				Immutable:   true,
				Dependencies: []string{
					"start_no_input",
				},
			},
			rule: ConnectionRuleFunc{
				Allow: func(source, target diagram.NodeType) bool {
					if outputCapableTypes[source] && target == diagram.NodeTypeStart {
						return false
					}
					return true
				},
				Explain: func(source, target diagram.NodeType) string {
					if outputCapableTypes[source] && target == diagram.NodeTypeStart {
						return "output-capable nodes cannot feed a start node"
					}
					return ""
				},
			},
		},
		{
			key: Key{
				Name:        "personjob_tool_extraction",
				Category:    CategoryTransform,
				Priority:    PriorityNormal,
				Description: "extract tool results when the source person_job has tools configured",
				Immutable:   true,
			},
			rule: TransformRuleFunc{
				Applies: func(source, _ diagram.ExecutableNode) bool {
					job, ok := source.(*diagram.PersonJobNode)
					return ok && len(job.Tools) > 0
				},
				Apply: func(_, _ diagram.ExecutableNode) map[string]any {
					return map[string]any{"extract_tool_results": true}
				},
			},
		},
	}

	for _, b := range builtins {
		if err := r.Register(b.key, b.rule); err != nil {
			return err
		}
	}
	return nil
}

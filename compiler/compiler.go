//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package compiler turns a declarative DomainDiagram into an immutable
// ExecutableDiagram through a six-phase pipeline: validation, node
// transformation, connection resolution, edge building, optimization, and
// assembly. Phases accumulate diagnostics; the pipeline stops at the first
// phase that produces errors.
package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/rules"
)

// Phase identifies a pipeline stage, 1-based in pipeline order.
type Phase int

// Pipeline phases.
const (
	PhaseValidation Phase = iota + 1
	PhaseNodeTransformation
	PhaseConnectionResolution
	PhaseEdgeBuilding
	PhaseOptimization
	PhaseAssembly
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseValidation:
		return "validation"
	case PhaseNodeTransformation:
		return "node_transformation"
	case PhaseConnectionResolution:
		return "connection_resolution"
	case PhaseEdgeBuilding:
		return "edge_building"
	case PhaseOptimization:
		return "optimization"
	case PhaseAssembly:
		return "assembly"
	default:
		return fmt.Sprintf("phase_%d", int(p))
	}
}

// Diagnostic is one compiler finding, fatal or advisory.
type Diagnostic struct {
	Phase   Phase           `json:"phase"`
	Message string          `json:"message"`
	NodeID  diagram.NodeID  `json:"node_id,omitempty"`
	ArrowID diagram.ArrowID `json:"arrow_id,omitempty"`
}

// Error implements error.
func (d Diagnostic) Error() string {
	var sb strings.Builder
	sb.WriteString(d.Phase.String())
	if d.NodeID != "" {
		fmt.Fprintf(&sb, " [node %s]", d.NodeID)
	}
	if d.ArrowID != "" {
		fmt.Fprintf(&sb, " [arrow %s]", d.ArrowID)
	}
	sb.WriteString(": ")
	sb.WriteString(d.Message)
	return sb.String()
}

// Result is the outcome of CompileWithDiagnostics.
type Result struct {
	// Diagram is non-nil only when compilation reached assembly without
	// errors.
	Diagram  *diagram.ExecutableDiagram
	Errors   []Diagnostic
	Warnings []Diagnostic
}

// Ok reports whether compilation produced a diagram.
func (r *Result) Ok() bool { return r.Diagram != nil && len(r.Errors) == 0 }

// Err folds the error diagnostics into a single error, or nil.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, d := range r.Errors {
		errs[i] = d
	}
	return fmt.Errorf("compilation failed: %w", errors.Join(errs...))
}

// Compiler runs the pipeline. Safe for concurrent use; each compilation
// gets its own context.
type Compiler struct {
	rules *rules.Registry
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithRules sets the rule registry consulted for connection checks and edge
// transforms. Defaults to the process-wide registry.
func WithRules(r *rules.Registry) Option {
	return func(c *Compiler) { c.rules = r }
}

// New creates a compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{}
	for _, opt := range opts {
		opt(c)
	}
	if c.rules == nil {
		c.rules = rules.Default()
	}
	return c
}

// Compile runs the full pipeline and returns the executable diagram, or an
// error folding every diagnostic when any phase fails.
func (c *Compiler) Compile(domain *diagram.DomainDiagram) (*diagram.ExecutableDiagram, error) {
	result := c.CompileWithDiagnostics(domain, 0)
	if err := result.Err(); err != nil {
		return nil, err
	}
	return result.Diagram, nil
}

// CompileWithDiagnostics runs the pipeline, stopping early after
// stopAfter when it is a valid phase (zero means run to completion). Phase
// logic never panics; diagnostics carry the originating phase and, where
// known, the node or arrow id.
func (c *Compiler) CompileWithDiagnostics(domain *diagram.DomainDiagram, stopAfter Phase) *Result {
	cc := &compilation{
		domain:   domain,
		registry: c.rules,
		result:   &Result{},
	}
	phases := []struct {
		phase Phase
		run   func(*compilation)
	}{
		{PhaseValidation, (*compilation).validate},
		{PhaseNodeTransformation, (*compilation).transformNodes},
		{PhaseConnectionResolution, (*compilation).resolveConnections},
		{PhaseEdgeBuilding, (*compilation).buildEdges},
		{PhaseOptimization, (*compilation).optimize},
		{PhaseAssembly, (*compilation).assemble},
	}
	for _, p := range phases {
		cc.phase = p.phase
		p.run(cc)
		if len(cc.result.Errors) > 0 {
			return cc.result
		}
		if stopAfter != 0 && p.phase >= stopAfter {
			return cc.result
		}
	}
	return cc.result
}

// compilation is the per-run pipeline context: inputs, accumulated outputs
// of earlier phases, and diagnostics.
type compilation struct {
	domain   *diagram.DomainDiagram
	registry *rules.Registry
	result   *Result
	phase    Phase

	// Phase 2 outputs.
	nodes       map[diagram.NodeID]diagram.ExecutableNode
	nodeOrder   []diagram.NodeID
	startNodes  []diagram.NodeID
	personNodes map[diagram.PersonID][]diagram.NodeID

	// Phase 3 outputs.
	connections []resolvedConnection

	// Phase 4 outputs.
	edges        []*diagram.ExecutableEdge
	dependencies map[diagram.NodeID][]diagram.NodeID

	// Phase 5 outputs.
	parallelGroups [][]diagram.NodeID

	// Phase 6 output mirrors result.Diagram.
}

// resolvedConnection is an arrow with both handles resolved to node/label
// tuples.
type resolvedConnection struct {
	arrow        diagram.DomainArrow
	sourceNodeID diagram.NodeID
	sourceLabel  diagram.HandleLabel
	targetNodeID diagram.NodeID
	targetLabel  diagram.HandleLabel
}

func (cc *compilation) errorf(nodeID diagram.NodeID, arrowID diagram.ArrowID, format string, args ...any) {
	cc.result.Errors = append(cc.result.Errors, Diagnostic{
		Phase:   cc.phase,
		Message: fmt.Sprintf(format, args...),
		NodeID:  nodeID,
		ArrowID: arrowID,
	})
}

func (cc *compilation) warnf(nodeID diagram.NodeID, arrowID diagram.ArrowID, format string, args ...any) {
	cc.result.Warnings = append(cc.result.Warnings, Diagnostic{
		Phase:   cc.phase,
		Message: fmt.Sprintf(format, args...),
		NodeID:  nodeID,
		ArrowID: arrowID,
	})
}

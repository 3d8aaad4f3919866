//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package handle implements the handle algebra: parsing and building the
// canonical handle identifiers that arrow endpoints reference, and the
// default handle synthesis used when a diagram omits explicit handles.
//
// The canonical form is "<node_id>:<label>", optionally suffixed with the
// direction: "<node_id>:<label>:<direction>". Round-tripping an identifier
// through Parse and Build is the identity.
package handle

import (
	"fmt"
	"strings"

	"github.com/dipeo/dipeo-go/diagram"
)

// Delimiter separates the segments of a handle identifier.
const Delimiter = ":"

// ParseError is the structured failure returned by Parse. It carries the
// offending identifier so compiler phases can surface the originating arrow.
type ParseError struct {
	HandleID diagram.HandleID
	Reason   string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid handle id %q: %s", e.HandleID, e.Reason)
}

// Parsed is the decomposition of a handle identifier. Direction is empty when
// the identifier does not encode one; callers infer it from whether the
// handle appears on an arrow's source or target.
type Parsed struct {
	NodeID    diagram.NodeID
	Label     diagram.HandleLabel
	Direction diagram.HandleDirection
}

// standardLabels is the closed label set accepted without an allow-list.
var standardLabels = map[diagram.HandleLabel]bool{
	diagram.HandleLabelDefault:   true,
	diagram.HandleLabelInput:     true,
	diagram.HandleLabelOutput:    true,
	diagram.HandleLabelCondTrue:  true,
	diagram.HandleLabelCondFalse: true,
	diagram.HandleLabelFirst:     true,
}

// Parse splits a handle identifier into its parts, validating the label
// against the closed standard set.
func Parse(id diagram.HandleID) (Parsed, error) {
	return ParseCustom(id, nil)
}

// ParseCustom behaves like Parse but additionally accepts the given custom
// labels. Custom labels come from per-node-type declarations.
func ParseCustom(id diagram.HandleID, custom []diagram.HandleLabel) (Parsed, error) {
	raw := string(id)
	if strings.TrimSpace(raw) == "" {
		return Parsed{}, &ParseError{HandleID: id, Reason: "empty identifier"}
	}

	parts := strings.Split(raw, Delimiter)
	if len(parts) < 2 || len(parts) > 3 {
		return Parsed{}, &ParseError{HandleID: id, Reason: "expected <node_id>:<label>[:<direction>]"}
	}

	nodeID := diagram.NodeID(parts[0])
	if nodeID == "" {
		return Parsed{}, &ParseError{HandleID: id, Reason: "empty node id"}
	}

	label := diagram.HandleLabel(parts[1])
	if label == "" {
		return Parsed{}, &ParseError{HandleID: id, Reason: "empty label"}
	}
	if !standardLabels[label] && !containsLabel(custom, label) {
		return Parsed{}, &ParseError{HandleID: id, Reason: fmt.Sprintf("unknown label %q", label)}
	}

	parsed := Parsed{NodeID: nodeID, Label: label}
	if len(parts) == 3 {
		switch diagram.HandleDirection(parts[2]) {
		case diagram.HandleDirectionInput:
			parsed.Direction = diagram.HandleDirectionInput
		case diagram.HandleDirectionOutput:
			parsed.Direction = diagram.HandleDirectionOutput
		default:
			return Parsed{}, &ParseError{HandleID: id, Reason: fmt.Sprintf("unknown direction %q", parts[2])}
		}
	}
	return parsed, nil
}

// Build constructs the canonical two-segment identifier.
func Build(nodeID diagram.NodeID, label diagram.HandleLabel) diagram.HandleID {
	return diagram.HandleID(string(nodeID) + Delimiter + string(label))
}

// BuildDirected constructs the three-segment identifier that also encodes
// the direction. Parse(BuildDirected(n, l, d)) returns (n, l, d).
func BuildDirected(nodeID diagram.NodeID, label diagram.HandleLabel, direction diagram.HandleDirection) diagram.HandleID {
	return diagram.HandleID(string(nodeID) + Delimiter + string(label) + Delimiter + string(direction))
}

// DefaultHandles deterministically synthesizes the handles for a node of the
// given type. Every node gets an input and an output handle except start
// (output only) and endpoint (input only). Condition nodes additionally get
// condtrue/condfalse outputs; person_job gets a first input consumed on
// iteration 0 only.
func DefaultHandles(nodeID diagram.NodeID, nodeType diagram.NodeType) []diagram.DomainHandle {
	var handles []diagram.DomainHandle
	add := func(label diagram.HandleLabel, direction diagram.HandleDirection) {
		handles = append(handles, diagram.DomainHandle{
			ID:        BuildDirected(nodeID, label, direction),
			NodeID:    nodeID,
			Label:     label,
			Direction: direction,
		})
	}

	switch nodeType {
	case diagram.NodeTypeStart:
		add(diagram.HandleLabelDefault, diagram.HandleDirectionOutput)
	case diagram.NodeTypeEndpoint:
		add(diagram.HandleLabelDefault, diagram.HandleDirectionInput)
	case diagram.NodeTypeCondition:
		add(diagram.HandleLabelDefault, diagram.HandleDirectionInput)
		add(diagram.HandleLabelCondTrue, diagram.HandleDirectionOutput)
		add(diagram.HandleLabelCondFalse, diagram.HandleDirectionOutput)
	case diagram.NodeTypePersonJob, diagram.NodeTypePersonBatch:
		add(diagram.HandleLabelDefault, diagram.HandleDirectionInput)
		add(diagram.HandleLabelFirst, diagram.HandleDirectionInput)
		add(diagram.HandleLabelDefault, diagram.HandleDirectionOutput)
	default:
		add(diagram.HandleLabelDefault, diagram.HandleDirectionInput)
		add(diagram.HandleLabelDefault, diagram.HandleDirectionOutput)
	}
	return handles
}

func containsLabel(labels []diagram.HandleLabel, label diagram.HandleLabel) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

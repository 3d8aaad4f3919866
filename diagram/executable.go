//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package diagram

import "fmt"

// EdgeID uniquely identifies an executable edge.
type EdgeID string

// ExecutableEdge is a resolved connection between two typed nodes.
type ExecutableEdge struct {
	ID           EdgeID
	SourceNodeID NodeID
	SourceOutput HandleLabel
	TargetNodeID NodeID
	TargetInput  HandleLabel
	ContentType  ContentType
	// TransformRules is the merged transform map the scheduler applies to the
	// source output before keying it under TargetInput.
	TransformRules map[string]any
	// LoopBack marks a back-edge of a cycle. Back-edges are soft for
	// join-policy evaluation on iterations past the first.
	LoopBack bool
	Metadata map[string]any
}

// CompiledMetadata is the metadata block assembled with an ExecutableDiagram.
type CompiledMetadata struct {
	Name        string
	Description string
	Version     string
	// StartNodes lists every start node id.
	StartNodes []NodeID
	// PersonNodes indexes person ids to the nodes referencing them.
	PersonNodes map[PersonID][]NodeID
	// Persons catalogs the LLM identities the diagram uses.
	Persons map[PersonID]DomainPerson
	// Dependencies maps each node to the set of nodes it depends on.
	Dependencies map[NodeID][]NodeID
	// ParallelGroups are sets of nodes with disjoint dependencies that the
	// scheduler may dispatch together.
	ParallelGroups [][]NodeID
	// Warnings carries non-fatal compiler findings.
	Warnings []string
	// Fingerprint is a content hash of the compiled graph, usable as a
	// compilation cache key.
	Fingerprint string
}

// ExecutableDiagram is the immutable post-compile artifact. All lookups are
// O(1); construction happens once in the compiler's assembly phase.
type ExecutableDiagram struct {
	nodes    map[NodeID]ExecutableNode
	order    []NodeID
	edges    []*ExecutableEdge
	incoming map[NodeID][]*ExecutableEdge
	outgoing map[NodeID][]*ExecutableEdge
	// ExecutionOrder is an optional pre-computed topological order; when nil
	// the scheduler derives ordering on demand.
	ExecutionOrder []NodeID
	Metadata       *CompiledMetadata
}

// NewExecutableDiagram assembles an executable diagram from its parts.
// Nodes keep their given order for deterministic iteration.
func NewExecutableDiagram(nodes []ExecutableNode, edges []*ExecutableEdge, metadata *CompiledMetadata) *ExecutableDiagram {
	d := &ExecutableDiagram{
		nodes:    make(map[NodeID]ExecutableNode, len(nodes)),
		order:    make([]NodeID, 0, len(nodes)),
		edges:    edges,
		incoming: make(map[NodeID][]*ExecutableEdge),
		outgoing: make(map[NodeID][]*ExecutableEdge),
		Metadata: metadata,
	}
	for _, n := range nodes {
		d.nodes[n.ID()] = n
		d.order = append(d.order, n.ID())
	}
	for _, e := range edges {
		d.incoming[e.TargetNodeID] = append(d.incoming[e.TargetNodeID], e)
		d.outgoing[e.SourceNodeID] = append(d.outgoing[e.SourceNodeID], e)
	}
	return d
}

// GetNode returns the node with the given id.
func (d *ExecutableDiagram) GetNode(id NodeID) (ExecutableNode, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// Nodes returns every node in insertion order.
func (d *ExecutableDiagram) Nodes() []ExecutableNode {
	out := make([]ExecutableNode, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.nodes[id])
	}
	return out
}

// NodeIDs returns every node id in insertion order.
func (d *ExecutableDiagram) NodeIDs() []NodeID {
	out := make([]NodeID, len(d.order))
	copy(out, d.order)
	return out
}

// Edges returns every edge.
func (d *ExecutableDiagram) Edges() []*ExecutableEdge {
	return d.edges
}

// GetIncomingEdges returns the edges targeting the given node.
func (d *ExecutableDiagram) GetIncomingEdges(id NodeID) []*ExecutableEdge {
	return d.incoming[id]
}

// GetOutgoingEdges returns the edges originating at the given node.
func (d *ExecutableDiagram) GetOutgoingEdges(id NodeID) []*ExecutableEdge {
	return d.outgoing[id]
}

// StartNodes returns the typed start nodes.
func (d *ExecutableDiagram) StartNodes() []ExecutableNode {
	var out []ExecutableNode
	for _, id := range d.order {
		if d.nodes[id].Type() == NodeTypeStart {
			out = append(out, d.nodes[id])
		}
	}
	return out
}

// NodesOfType returns every node of the given type in insertion order.
func (d *ExecutableDiagram) NodesOfType(t NodeType) []ExecutableNode {
	var out []ExecutableNode
	for _, id := range d.order {
		if d.nodes[id].Type() == t {
			out = append(out, d.nodes[id])
		}
	}
	return out
}

// Validate re-checks the post-compile invariants. It is used defensively
// before execution; a non-empty result indicates a compiler bug or a
// hand-assembled diagram.
func (d *ExecutableDiagram) Validate() []error {
	var errs []error

	seenEdges := make(map[EdgeID]bool, len(d.edges))
	for _, e := range d.edges {
		if seenEdges[e.ID] {
			errs = append(errs, fmt.Errorf("duplicate edge id %q", e.ID))
		}
		seenEdges[e.ID] = true
		if _, ok := d.nodes[e.SourceNodeID]; !ok {
			errs = append(errs, fmt.Errorf("edge %q references missing source node %q", e.ID, e.SourceNodeID))
		}
		if _, ok := d.nodes[e.TargetNodeID]; !ok {
			errs = append(errs, fmt.Errorf("edge %q references missing target node %q", e.ID, e.TargetNodeID))
		}
	}

	for id, n := range d.nodes {
		switch n.Type() {
		case NodeTypeStart:
			if len(d.incoming[id]) > 0 {
				errs = append(errs, fmt.Errorf("start node %q has incoming edges", id))
			}
		case NodeTypeEndpoint:
			if len(d.outgoing[id]) > 0 {
				errs = append(errs, fmt.Errorf("endpoint node %q has outgoing edges", id))
			}
		}
	}

	if len(d.StartNodes()) == 0 {
		errs = append(errs, fmt.Errorf("diagram has no start node"))
	}

	return errs
}

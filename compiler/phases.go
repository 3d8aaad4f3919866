//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package compiler

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/handle"
)

// validate is phase 1: structural checks on the raw domain diagram.
func (cc *compilation) validate() {
	d := cc.domain
	if d == nil || len(d.Nodes) == 0 {
		cc.errorf("", "", "diagram has no nodes")
		return
	}

	seen := make(map[diagram.NodeID]bool, len(d.Nodes))
	hasStart, hasEndpoint := false, false
	for _, n := range d.Nodes {
		if seen[n.ID] {
			cc.errorf(n.ID, "", "duplicate node id")
		}
		seen[n.ID] = true
		if !diagram.IsKnownNodeType(n.Type) {
			cc.errorf(n.ID, "", "unknown node type %q", n.Type)
		}
		switch n.Type {
		case diagram.NodeTypeStart:
			hasStart = true
		case diagram.NodeTypeEndpoint:
			hasEndpoint = true
		}
	}
	if !hasStart {
		cc.errorf("", "", "diagram has no start node")
	}
	if !hasEndpoint {
		cc.warnf("", "", "diagram has no endpoint node")
	}

	condTrue := make(map[diagram.NodeID]bool)
	condFalse := make(map[diagram.NodeID]bool)
	for _, a := range d.Arrows {
		src, err := cc.parseHandle(a.Source)
		if err != nil {
			cc.errorf("", a.ID, "bad source handle: %v", err)
			continue
		}
		tgt, err := cc.parseHandle(a.Target)
		if err != nil {
			cc.errorf("", a.ID, "bad target handle: %v", err)
			continue
		}
		if src.Direction == diagram.HandleDirectionInput {
			cc.errorf(src.NodeID, a.ID, "arrow source %q is an input handle", a.Source)
		}
		if tgt.Direction == diagram.HandleDirectionOutput {
			cc.errorf(tgt.NodeID, a.ID, "arrow target %q is an output handle", a.Target)
		}
		srcNode, ok := d.GetNode(src.NodeID)
		if !ok {
			cc.errorf(src.NodeID, a.ID, "arrow references missing source node")
			continue
		}
		tgtNode, ok := d.GetNode(tgt.NodeID)
		if !ok {
			cc.errorf(tgt.NodeID, a.ID, "arrow references missing target node")
			continue
		}
		if tgtNode.Type == diagram.NodeTypeStart {
			cc.errorf(tgtNode.ID, a.ID, "start node cannot have incoming arrows")
		}
		if srcNode.Type == diagram.NodeTypeEndpoint {
			cc.errorf(srcNode.ID, a.ID, "endpoint node cannot have outgoing arrows")
		}
		if ok, reason := cc.registry.CheckConnection(srcNode.Type, tgtNode.Type); !ok {
			cc.errorf(srcNode.ID, a.ID, "connection %s -> %s rejected: %s", srcNode.Type, tgtNode.Type, reason)
		}
		if srcNode.Type == diagram.NodeTypeCondition {
			switch src.Label {
			case diagram.HandleLabelCondTrue:
				condTrue[srcNode.ID] = true
			case diagram.HandleLabelCondFalse:
				condFalse[srcNode.ID] = true
			}
		}
	}
	for _, n := range d.Nodes {
		if n.Type != diagram.NodeTypeCondition {
			continue
		}
		if !condTrue[n.ID] {
			cc.warnf(n.ID, "", "condition node has no condtrue branch")
		}
		if !condFalse[n.ID] {
			cc.warnf(n.ID, "", "condition node has no condfalse branch")
		}
	}
}

// transformNodes is phase 2: build typed immutable nodes through per-type
// factories and extract the start and person indices.
func (cc *compilation) transformNodes() {
	cc.nodes = make(map[diagram.NodeID]diagram.ExecutableNode, len(cc.domain.Nodes))
	cc.personNodes = make(map[diagram.PersonID][]diagram.NodeID)
	for _, dn := range cc.domain.Nodes {
		node, err := buildNode(dn, cc.domain)
		if err != nil {
			cc.errorf(dn.ID, "", "%v", err)
			continue
		}
		cc.nodes[dn.ID] = node
		cc.nodeOrder = append(cc.nodeOrder, dn.ID)
		switch n := node.(type) {
		case *diagram.StartNode:
			cc.startNodes = append(cc.startNodes, n.ID())
		case *diagram.PersonJobNode:
			cc.personNodes[n.PersonID] = append(cc.personNodes[n.PersonID], n.ID())
		case *diagram.PersonBatchJobNode:
			cc.personNodes[n.PersonID] = append(cc.personNodes[n.PersonID], n.ID())
		}
	}
}

// resolveConnections is phase 3: resolve each arrow's handles against the
// handle algebra and the node's declared or default handle set.
func (cc *compilation) resolveConnections() {
	for _, a := range cc.domain.Arrows {
		src, err := cc.parseHandle(a.Source)
		if err != nil {
			cc.errorf("", a.ID, "bad source handle: %v", err)
			continue
		}
		tgt, err := cc.parseHandle(a.Target)
		if err != nil {
			cc.errorf("", a.ID, "bad target handle: %v", err)
			continue
		}
		if !cc.handleExists(src.NodeID, src.Label, diagram.HandleDirectionOutput) {
			cc.errorf(src.NodeID, a.ID, "node has no output handle %q", src.Label)
			continue
		}
		if !cc.handleExists(tgt.NodeID, tgt.Label, diagram.HandleDirectionInput) {
			cc.errorf(tgt.NodeID, a.ID, "node has no input handle %q", tgt.Label)
			continue
		}
		cc.connections = append(cc.connections, resolvedConnection{
			arrow:        a,
			sourceNodeID: src.NodeID,
			sourceLabel:  src.Label,
			targetNodeID: tgt.NodeID,
			targetLabel:  tgt.Label,
		})
	}
}

// buildEdges is phase 4: materialize executable edges with merged transform
// rules and fill the dependency map.
func (cc *compilation) buildEdges() {
	cc.dependencies = make(map[diagram.NodeID][]diagram.NodeID)
	depSeen := make(map[diagram.NodeID]map[diagram.NodeID]bool)
	for _, conn := range cc.connections {
		source := cc.nodes[conn.sourceNodeID]
		target := cc.nodes[conn.targetNodeID]
		transforms := cc.registry.TransformsFor(source, target)
		if raw, ok := conn.arrow.Data["transform"]; ok {
			if m, ok := raw.(map[string]any); ok {
				if transforms == nil {
					transforms = make(map[string]any, len(m))
				}
				for k, v := range m {
					transforms[k] = v
				}
			}
		}
		contentType := conn.arrow.ContentType
		if contentType == "" {
			contentType = diagram.ContentTypeRawText
		}
		edge := &diagram.ExecutableEdge{
			ID:             diagram.EdgeID(conn.arrow.ID),
			SourceNodeID:   conn.sourceNodeID,
			SourceOutput:   conn.sourceLabel,
			TargetNodeID:   conn.targetNodeID,
			TargetInput:    conn.targetLabel,
			ContentType:    contentType,
			TransformRules: transforms,
			Metadata:       conn.arrow.Data,
		}
		cc.edges = append(cc.edges, edge)
		if depSeen[conn.targetNodeID] == nil {
			depSeen[conn.targetNodeID] = make(map[diagram.NodeID]bool)
		}
		if !depSeen[conn.targetNodeID][conn.sourceNodeID] {
			depSeen[conn.targetNodeID][conn.sourceNodeID] = true
			cc.dependencies[conn.targetNodeID] = append(cc.dependencies[conn.targetNodeID], conn.sourceNodeID)
		}
	}
	for _, deps := range cc.dependencies {
		sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	}
}

// optimize is phase 5: pure analysis. Reachability and cycle findings are
// warnings; back-edges of detected cycles are marked LoopBack, and nodes
// with identical dependency signatures are grouped for parallel dispatch.
func (cc *compilation) optimize() {
	outgoing := make(map[diagram.NodeID][]*diagram.ExecutableEdge)
	for _, e := range cc.edges {
		outgoing[e.SourceNodeID] = append(outgoing[e.SourceNodeID], e)
	}

	// Reachability from the start set.
	reached := make(map[diagram.NodeID]bool)
	stack := append([]diagram.NodeID(nil), cc.startNodes...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[id] {
			continue
		}
		reached[id] = true
		for _, e := range outgoing[id] {
			stack = append(stack, e.TargetNodeID)
		}
	}
	for _, id := range cc.nodeOrder {
		if !reached[id] && cc.nodes[id].Type() != diagram.NodeTypeStart {
			cc.warnf(id, "", "node is unreachable from any start node")
		}
	}

	// Cycle detection with back-edge marking. White/gray/black DFS from the
	// start set in deterministic order.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[diagram.NodeID]int)
	var visit func(id diagram.NodeID)
	visit = func(id diagram.NodeID) {
		color[id] = gray
		for _, e := range outgoing[id] {
			switch color[e.TargetNodeID] {
			case white:
				visit(e.TargetNodeID)
			case gray:
				e.LoopBack = true
				cc.warnf(e.SourceNodeID, diagram.ArrowID(e.ID), "cycle detected via edge to %s", e.TargetNodeID)
			}
		}
		color[id] = black
	}
	for _, id := range cc.startNodes {
		if color[id] == white {
			visit(id)
		}
	}
	for _, id := range cc.nodeOrder {
		if color[id] == white {
			visit(id)
		}
	}

	// Parallel groups: nodes sharing an identical non-empty dependency set
	// can run together once the shared dependencies complete.
	signatures := make(map[string][]diagram.NodeID)
	for _, id := range cc.nodeOrder {
		deps := cc.dependencies[id]
		if len(deps) == 0 {
			continue
		}
		sig := ""
		for _, d := range deps {
			sig += string(d) + "|"
		}
		signatures[sig] = append(signatures[sig], id)
	}
	sigs := make([]string, 0, len(signatures))
	for sig, members := range signatures {
		if len(members) > 1 {
			sigs = append(sigs, sig)
		}
	}
	sort.Strings(sigs)
	for _, sig := range sigs {
		members := signatures[sig]
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		cc.parallelGroups = append(cc.parallelGroups, members)
	}
}

// assemble is phase 6: materialize the ExecutableDiagram with its metadata
// block and content fingerprint.
func (cc *compilation) assemble() {
	meta := &diagram.CompiledMetadata{
		StartNodes:     append([]diagram.NodeID(nil), cc.startNodes...),
		PersonNodes:    cc.personNodes,
		Persons:        make(map[diagram.PersonID]diagram.DomainPerson),
		Dependencies:   cc.dependencies,
		ParallelGroups: cc.parallelGroups,
		Fingerprint:    cc.fingerprint(),
	}
	if md := cc.domain.Metadata; md != nil {
		meta.Name = md.Name
		meta.Description = md.Description
		meta.Version = md.Version
	}
	for _, p := range cc.domain.Persons {
		meta.Persons[p.ID] = p
	}
	for _, w := range cc.result.Warnings {
		meta.Warnings = append(meta.Warnings, w.Error())
	}

	nodes := make([]diagram.ExecutableNode, 0, len(cc.nodeOrder))
	for _, id := range cc.nodeOrder {
		nodes = append(nodes, cc.nodes[id])
	}
	exec := diagram.NewExecutableDiagram(nodes, cc.edges, meta)
	exec.ExecutionOrder = cc.topologicalOrder()
	cc.result.Diagram = exec
}

// topologicalOrder returns a stable topological order ignoring back-edges,
// or nil when one cannot be derived.
func (cc *compilation) topologicalOrder() []diagram.NodeID {
	indegree := make(map[diagram.NodeID]int, len(cc.nodeOrder))
	forward := make(map[diagram.NodeID][]diagram.NodeID)
	for _, id := range cc.nodeOrder {
		indegree[id] = 0
	}
	for _, e := range cc.edges {
		if e.LoopBack {
			continue
		}
		indegree[e.TargetNodeID]++
		forward[e.SourceNodeID] = append(forward[e.SourceNodeID], e.TargetNodeID)
	}
	var ready []diagram.NodeID
	for _, id := range cc.nodeOrder {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	var order []diagram.NodeID
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range forward[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(order) != len(cc.nodeOrder) {
		return nil
	}
	return order
}

// fingerprint hashes the compiled topology so identical inputs produce
// identical cache keys.
func (cc *compilation) fingerprint() string {
	type edgeKey struct {
		ID     diagram.EdgeID      `json:"id"`
		Source diagram.NodeID      `json:"source"`
		Out    diagram.HandleLabel `json:"out"`
		Target diagram.NodeID      `json:"target"`
		In     diagram.HandleLabel `json:"in"`
	}
	type nodeKey struct {
		ID   diagram.NodeID   `json:"id"`
		Type diagram.NodeType `json:"type"`
	}
	doc := struct {
		Nodes []nodeKey `json:"nodes"`
		Edges []edgeKey `json:"edges"`
	}{}
	for _, id := range cc.nodeOrder {
		doc.Nodes = append(doc.Nodes, nodeKey{ID: id, Type: cc.nodes[id].Type()})
	}
	for _, e := range cc.edges {
		doc.Edges = append(doc.Edges, edgeKey{ID: e.ID, Source: e.SourceNodeID, Out: e.SourceOutput, Target: e.TargetNodeID, In: e.TargetInput})
	}
	sort.Slice(doc.Nodes, func(i, j int) bool { return doc.Nodes[i].ID < doc.Nodes[j].ID })
	sort.Slice(doc.Edges, func(i, j int) bool { return doc.Edges[i].ID < doc.Edges[j].ID })
	data, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum[:16])
}

// parseHandle parses a handle id, allowing custom labels the diagram
// declares explicitly.
func (cc *compilation) parseHandle(id diagram.HandleID) (handle.Parsed, error) {
	var custom []diagram.HandleLabel
	for _, h := range cc.domain.Handles {
		custom = append(custom, h.Label)
	}
	return handle.ParseCustom(id, custom)
}

// handleExists checks the node's declared handles, falling back to the
// defaults for its type when the diagram declares none for that node.
func (cc *compilation) handleExists(nodeID diagram.NodeID, label diagram.HandleLabel, dir diagram.HandleDirection) bool {
	declared := false
	for _, h := range cc.domain.Handles {
		if h.NodeID != nodeID {
			continue
		}
		declared = true
		if h.Label == label && h.Direction == dir {
			return true
		}
	}
	if declared {
		return false
	}
	node, ok := cc.domain.GetNode(nodeID)
	if !ok {
		return false
	}
	for _, h := range handle.DefaultHandles(nodeID, node.Type) {
		if h.Label == label && h.Direction == dir {
			return true
		}
	}
	return false
}

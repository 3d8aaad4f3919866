//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package engine

import (
	"sort"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/execution"
)

// run carries the per-execution scheduling state: the gate set, in-flight
// tracking, and dispatch ordering derived from compiled metadata.
type run struct {
	dg *diagram.ExecutableDiagram
	st *execution.State
	// gated marks edges suppressed by a condition's non-taken branch. Gates
	// clear when the enclosing loop re-arms.
	gated map[diagram.EdgeID]bool
	// inflight tracks dispatched nodes whose results are pending.
	inflight map[diagram.NodeID]bool
	// groupPriority orders dispatch: nodes in earlier parallel groups first,
	// ungrouped nodes last, ties broken lexicographically by id.
	groupPriority map[diagram.NodeID]int
}

func newRun(dg *diagram.ExecutableDiagram, st *execution.State) *run {
	r := &run{
		dg:            dg,
		st:            st,
		gated:         make(map[diagram.EdgeID]bool),
		inflight:      make(map[diagram.NodeID]bool),
		groupPriority: make(map[diagram.NodeID]int),
	}
	if dg.Metadata != nil {
		for i, group := range dg.Metadata.ParallelGroups {
			for _, id := range group {
				r.groupPriority[id] = i
			}
		}
	}
	return r
}

func (r *run) priority(id diagram.NodeID) int {
	if p, ok := r.groupPriority[id]; ok {
		return p
	}
	return int(^uint(0) >> 1)
}

// deliversValue reports whether a terminal source node offers an output for
// downstream consumers. Skips with passthrough semantics still deliver.
func deliversValue(ns execution.NodeStatus, reason string) bool {
	if ns == execution.NodeCompleted {
		return true
	}
	return ns == execution.NodeSkipped &&
		(reason == execution.SkipMaxIterations || reason == execution.SkipByHandler)
}

// edgeDead reports whether an incoming edge can never deliver for the
// current iteration: it is gated, or its source failed or was skipped
// without a passthrough value.
func (r *run) edgeDead(e *diagram.ExecutableEdge) (dead bool, failed bool) {
	if r.gated[e.ID] {
		return true, false
	}
	snap := r.nodeState(e.SourceNodeID)
	switch snap.Status {
	case execution.NodeFailed:
		return true, true
	case execution.NodeSkipped:
		if deliversValue(snap.Status, snap.SkipReason) {
			return false, false
		}
		return true, snap.SkipReason == execution.SkipUpstreamFailed
	default:
		return false, false
	}
}

func (r *run) nodeState(id diagram.NodeID) execution.NodeState {
	snap := r.st.Snapshot()
	if ns, ok := snap.NodeStates[id]; ok {
		return *ns
	}
	return execution.NodeState{Status: execution.NodePending}
}

// joinSatisfied evaluates the node's join policy. Back-edges are soft: they
// participate only when their source has advanced at least as far as the
// target's next iteration.
func (r *run) joinSatisfied(node diagram.ExecutableNode) bool {
	incoming := r.dg.GetIncomingEdges(node.ID())
	if len(incoming) == 0 {
		return true
	}
	targetIter := r.st.IterationCount(node.ID())

	switch node.JoinPolicy() {
	case diagram.JoinPolicyAny:
		for _, e := range incoming {
			if r.gated[e.ID] {
				continue
			}
			src := r.nodeState(e.SourceNodeID)
			if !deliversValue(src.Status, src.SkipReason) {
				continue
			}
			if e.LoopBack && src.IterationCount < targetIter {
				continue
			}
			return true
		}
		return false

	default: // all
		for _, e := range incoming {
			if r.gated[e.ID] {
				continue
			}
			src := r.nodeState(e.SourceNodeID)
			if e.LoopBack {
				if src.IterationCount < targetIter {
					return false
				}
				continue
			}
			if !src.Status.Terminal() {
				return false
			}
		}
		return true
	}
}

// sweepSkips propagates structural skips until fixpoint: nodes whose every
// live inbound path is gone become skipped with branch_not_taken or
// upstream_failed. Nodes at their iteration cap are skipped with
// max_iterations, retaining their last output as the passthrough value.
// Returns the nodes skipped this sweep in the order they were marked.
func (r *run) sweepSkips() []diagram.NodeID {
	var marked []diagram.NodeID
	for {
		changed := false
		for _, node := range r.dg.Nodes() {
			id := node.ID()
			if r.inflight[id] || r.st.NodeStatusOf(id) != execution.NodePending {
				continue
			}
			incoming := r.dg.GetIncomingEdges(id)
			if len(incoming) == 0 {
				continue
			}
			allDead, anyFailed, undecided := true, false, false
			for _, e := range incoming {
				if e.LoopBack {
					continue
				}
				dead, failed := r.edgeDead(e)
				if !dead {
					allDead = false
					src := r.nodeState(e.SourceNodeID)
					if !src.Status.Terminal() {
						undecided = true
					}
				}
				anyFailed = anyFailed || failed
			}
			if !allDead || undecided {
				continue
			}
			reason := execution.SkipBranchNotTaken
			if anyFailed {
				reason = execution.SkipUpstreamFailed
			}
			r.st.MarkNodeSkipped(id, reason)
			marked = append(marked, id)
			changed = true
		}
		if !changed {
			return marked
		}
	}
}

// capReached reports whether the node carries an iteration cap that is
// exhausted.
func capReached(node diagram.ExecutableNode, iterations int) bool {
	switch n := node.(type) {
	case *diagram.PersonJobNode:
		return n.MaxIteration > 0 && iterations >= n.MaxIteration
	case *diagram.PersonBatchJobNode:
		return n.MaxIteration > 0 && iterations >= n.MaxIteration
	default:
		return false
	}
}

// readyNodes returns the dispatchable set in deterministic order. Nodes
// whose iteration cap is exhausted are skipped in place rather than
// returned.
func (r *run) readyNodes() (ready []diagram.ExecutableNode, capSkipped []diagram.NodeID) {
	for _, node := range r.dg.Nodes() {
		id := node.ID()
		if r.inflight[id] || r.st.NodeStatusOf(id) != execution.NodePending {
			continue
		}
		if !r.joinSatisfied(node) {
			continue
		}
		if capReached(node, r.st.IterationCount(id)) {
			r.st.MarkNodeSkipped(id, execution.SkipMaxIterations)
			capSkipped = append(capSkipped, id)
			continue
		}
		ready = append(ready, node)
	}
	sort.Slice(ready, func(i, j int) bool {
		pi, pj := r.priority(ready[i].ID()), r.priority(ready[j].ID())
		if pi != pj {
			return pi < pj
		}
		return ready[i].ID() < ready[j].ID()
	})
	return ready, capSkipped
}

// loopExhausted reports whether a back-edge points at a node whose iteration
// cap is spent. Such an edge can no longer drive a re-arm; without this check
// a condition that never routes out of the loop would re-arm the body
// forever.
func (r *run) loopExhausted(backEdge *diagram.ExecutableEdge) bool {
	node, ok := r.dg.GetNode(backEdge.TargetNodeID)
	if !ok {
		return true
	}
	return capReached(node, r.st.IterationCount(node.ID()))
}

// applyConditionResult gates the non-taken branch of a completed condition
// node for the current iteration.
func (r *run) applyConditionResult(id diagram.NodeID, result bool) {
	notTaken := diagram.HandleLabelCondTrue
	if result {
		notTaken = diagram.HandleLabelCondFalse
	}
	for _, e := range r.dg.GetOutgoingEdges(id) {
		if e.SourceOutput == notTaken {
			r.gated[e.ID] = true
		}
	}
}

// rearmLoop resets the loop body headed by the fired back-edge: every node
// on a path from the back-edge target to its source returns to pending with
// iteration counters preserved, and gates inside the body clear.
func (r *run) rearmLoop(backEdge *diagram.ExecutableEdge) []diagram.NodeID {
	forward := r.reachable(backEdge.TargetNodeID, false)
	backward := r.reachable(backEdge.SourceNodeID, true)
	body := make(map[diagram.NodeID]bool)
	for id := range forward {
		if backward[id] {
			body[id] = true
		}
	}
	body[backEdge.TargetNodeID] = true
	body[backEdge.SourceNodeID] = true

	var rearmed []diagram.NodeID
	for _, node := range r.dg.Nodes() {
		id := node.ID()
		if !body[id] {
			continue
		}
		if r.st.NodeStatusOf(id).Terminal() {
			r.st.ResetNodeForIteration(id)
			rearmed = append(rearmed, id)
		}
	}
	for _, e := range r.dg.Edges() {
		if body[e.SourceNodeID] {
			delete(r.gated, e.ID)
		}
	}
	return rearmed
}

// reachable walks non-back edges from start, forward or backward.
func (r *run) reachable(start diagram.NodeID, backward bool) map[diagram.NodeID]bool {
	seen := make(map[diagram.NodeID]bool)
	stack := []diagram.NodeID{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		if backward {
			for _, e := range r.dg.GetIncomingEdges(id) {
				if !e.LoopBack {
					stack = append(stack, e.SourceNodeID)
				}
			}
		} else {
			for _, e := range r.dg.GetOutgoingEdges(id) {
				if !e.LoopBack {
					stack = append(stack, e.TargetNodeID)
				}
			}
		}
	}
	return seen
}

// resolveInputs builds the handler input map for a node's next iteration.
func (r *run) resolveInputs(node diagram.ExecutableNode) map[string]any {
	incoming := r.dg.GetIncomingEdges(node.ID())
	iteration := r.st.IterationCount(node.ID())

	// person_job first/default selection: iteration 0 prefers edges feeding
	// the first input when any exist; later iterations ignore them.
	isPerson := node.Type() == diagram.NodeTypePersonJob
	hasFirst := false
	if isPerson {
		for _, e := range incoming {
			if e.TargetInput == diagram.HandleLabelFirst && !r.gated[e.ID] {
				hasFirst = true
				break
			}
		}
	}

	inputs := make(map[string]any)
	for _, e := range incoming {
		if r.gated[e.ID] {
			continue
		}
		if isPerson {
			if iteration == 0 && hasFirst && e.TargetInput == diagram.HandleLabelDefault {
				continue
			}
			if iteration > 0 && e.TargetInput == diagram.HandleLabelFirst {
				continue
			}
		}
		out, ok := r.st.GetNodeOutput(e.SourceNodeID)
		if !ok {
			continue
		}
		value := transformOutput(out, e.TransformRules)
		key := string(e.TargetInput)
		if existing, ok := inputs[key]; ok {
			if list, ok := existing.([]any); ok {
				inputs[key] = append(list, value)
			} else {
				inputs[key] = []any{existing, value}
			}
		} else {
			inputs[key] = value
		}
	}
	return inputs
}

// transformOutput applies an edge's merged transform rules to a source
// output before it is keyed under the target input.
func transformOutput(out *execution.NodeOutput, rules map[string]any) any {
	value := out.Value
	if extract, _ := rules["extract_tool_results"].(bool); extract && out.Metadata != nil {
		if results, ok := out.Metadata["tool_results"]; ok {
			value = results
		}
	}
	return value
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package storage

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/handle"
)

// readableStep is one workflow entry: a labeled step with its node type
// and inlined properties.
type readableStep struct {
	Label string           `yaml:"step"`
	Type  diagram.NodeType `yaml:"type"`
	Props map[string]any   `yaml:",inline"`
}

// readableRaw mirrors readableDoc for decoding, with flow as free-form
// YAML: each key is a source step label, each value either a single target
// label, a list of labels, or a map of source handle to targets.
type readableRaw struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Workflow    []readableStep         `yaml:"workflow"`
	Flow        map[string]any         `yaml:"flow"`
	Persons     map[string]lightPerson `yaml:"persons"`
}

// ReadableCodec reads and writes the Readable YAML format.
type ReadableCodec struct{}

// Format implements Codec.
func (c *ReadableCodec) Format() Format { return FormatReadable }

// Marshal implements Codec.
func (c *ReadableCodec) Marshal(d *diagram.DomainDiagram) ([]byte, error) {
	out := map[string]any{}
	if d.Metadata != nil {
		if d.Metadata.Name != "" {
			out["name"] = d.Metadata.Name
		}
		if d.Metadata.Description != "" {
			out["description"] = d.Metadata.Description
		}
	}

	labels := make(map[diagram.NodeID]string, len(d.Nodes))
	var workflow []map[string]any
	for _, n := range d.Nodes {
		label := uniqueLabel(n.Label(), labels)
		labels[n.ID] = label
		step := map[string]any{"step": label, "type": string(n.Type)}
		for k, v := range n.Data {
			if k == "label" {
				continue
			}
			step[k] = v
		}
		workflow = append(workflow, step)
	}
	out["workflow"] = workflow

	// flow: source label -> target, or handle -> target map for branching
	// sources.
	flow := make(map[string]any)
	for _, a := range d.Arrows {
		src, err := handle.Parse(a.Source)
		if err != nil {
			return nil, fmt.Errorf("arrow %s: %w", a.ID, err)
		}
		tgt, err := handle.Parse(a.Target)
		if err != nil {
			return nil, fmt.Errorf("arrow %s: %w", a.ID, err)
		}
		srcLabel := labels[src.NodeID]
		target := lightRef(labels[tgt.NodeID], tgt.Label)
		if src.Label == diagram.HandleLabelDefault {
			appendFlowTarget(flow, srcLabel, target)
			continue
		}
		branches, ok := flow[srcLabel].(map[string]any)
		if !ok {
			branches = make(map[string]any)
			if existing, has := flow[srcLabel]; has {
				branches[string(diagram.HandleLabelDefault)] = existing
			}
			flow[srcLabel] = branches
		}
		appendFlowTarget(branches, string(src.Label), target)
	}
	if len(flow) > 0 {
		out["flow"] = flow
	}

	if len(d.Persons) > 0 {
		persons := make(map[string]lightPerson, len(d.Persons))
		for _, p := range d.Persons {
			key := p.Label
			if key == "" {
				key = string(p.ID)
			}
			persons[key] = lightPerson{
				Service:      p.LLMConfig.Service,
				Model:        p.LLMConfig.Model,
				APIKeyID:     p.LLMConfig.APIKeyID,
				SystemPrompt: p.LLMConfig.SystemPrompt,
				Temperature:  p.LLMConfig.Temperature,
				MaxTokens:    p.LLMConfig.MaxTokens,
			}
		}
		out["persons"] = persons
	}
	return yaml.Marshal(out)
}

// Unmarshal implements Codec.
func (c *ReadableCodec) Unmarshal(data []byte) (*diagram.DomainDiagram, error) {
	var raw readableRaw
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse readable diagram: %w", err)
	}
	if len(raw.Workflow) == 0 {
		return nil, fmt.Errorf("readable diagram has no workflow steps")
	}

	d := &diagram.DomainDiagram{}
	if raw.Name != "" || raw.Description != "" {
		d.Metadata = &diagram.DiagramMetadata{Name: raw.Name, Description: raw.Description}
	}

	ids := make(map[string]diagram.NodeID, len(raw.Workflow))
	for i, step := range raw.Workflow {
		if step.Label == "" {
			return nil, fmt.Errorf("workflow step %d has no step label", i)
		}
		if _, dup := ids[step.Label]; dup {
			return nil, fmt.Errorf("duplicate step label %q", step.Label)
		}
		id := diagram.NodeID(fmt.Sprintf("node_%d", i+1))
		ids[step.Label] = id
		nodeData := map[string]any{"label": step.Label}
		for k, v := range step.Props {
			nodeData[k] = v
		}
		d.Nodes = append(d.Nodes, diagram.DomainNode{ID: id, Type: step.Type, Data: nodeData})
	}

	// Collect every flow edge first, then order and number them so YAML
	// map iteration cannot leak nondeterministic arrow ids.
	type flowEdge struct {
		source diagram.HandleID
		target diagram.HandleID
	}
	var flowEdges []flowEdge
	addArrow := func(srcLabel string, srcHandle diagram.HandleLabel, targetRef string) error {
		srcID, ok := ids[srcLabel]
		if !ok {
			return fmt.Errorf("flow source %q matches no step", srcLabel)
		}
		tgtID, tgtHandle, err := resolveLightRef(targetRef, ids, diagram.HandleLabelDefault)
		if err != nil {
			return err
		}
		flowEdges = append(flowEdges, flowEdge{
			source: handle.Build(srcID, srcHandle),
			target: handle.Build(tgtID, tgtHandle),
		})
		return nil
	}

	for srcLabel, value := range raw.Flow {
		if err := expandFlowValue(srcLabel, diagram.HandleLabelDefault, value, addArrow); err != nil {
			return nil, err
		}
	}
	sort.Slice(flowEdges, func(i, j int) bool {
		if flowEdges[i].source != flowEdges[j].source {
			return flowEdges[i].source < flowEdges[j].source
		}
		return flowEdges[i].target < flowEdges[j].target
	})
	for i, e := range flowEdges {
		d.Arrows = append(d.Arrows, diagram.DomainArrow{
			ID:     diagram.ArrowID(fmt.Sprintf("arrow_%d", i+1)),
			Source: e.source,
			Target: e.target,
		})
	}

	for label, p := range raw.Persons {
		d.Persons = append(d.Persons, diagram.DomainPerson{
			ID:    diagram.PersonID(label),
			Label: label,
			LLMConfig: diagram.LLMConfig{
				Service:      p.Service,
				Model:        p.Model,
				APIKeyID:     p.APIKeyID,
				SystemPrompt: p.SystemPrompt,
				Temperature:  p.Temperature,
				MaxTokens:    p.MaxTokens,
			},
		})
	}
	sortPersons(d.Persons)
	return d, nil
}

// expandFlowValue walks one flow entry: a string target, a list of
// targets, or a map of source handle to nested targets.
func expandFlowValue(srcLabel string, srcHandle diagram.HandleLabel, value any, add func(string, diagram.HandleLabel, string) error) error {
	switch v := value.(type) {
	case string:
		return add(srcLabel, srcHandle, v)
	case []any:
		for _, item := range v {
			if err := expandFlowValue(srcLabel, srcHandle, item, add); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for h, nested := range v {
			if err := expandFlowValue(srcLabel, diagram.HandleLabel(h), nested, add); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("flow entry %q has unsupported value %T", srcLabel, value)
	}
}

func appendFlowTarget(m map[string]any, key, target string) {
	switch existing := m[key].(type) {
	case nil:
		m[key] = target
	case string:
		m[key] = []any{existing, target}
	case []any:
		m[key] = append(existing, target)
	}
}

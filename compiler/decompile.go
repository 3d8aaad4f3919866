//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package compiler

import (
	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/handle"
)

// Decompile projects an executable diagram back into declarative form.
// The projection is lossy: handle objects get fresh ids derived from the
// canonical form, UI metadata beyond position is gone, and only persons
// referenced by person nodes are reconstituted.
func Decompile(exec *diagram.ExecutableDiagram) *diagram.DomainDiagram {
	d := &diagram.DomainDiagram{}

	for _, node := range exec.Nodes() {
		d.Nodes = append(d.Nodes, diagram.DomainNode{
			ID:       node.ID(),
			Type:     node.Type(),
			Position: node.Position(),
			Data:     nodeData(node),
		})
		d.Handles = append(d.Handles, handle.DefaultHandles(node.ID(), node.Type())...)
	}

	for _, e := range exec.Edges() {
		d.Arrows = append(d.Arrows, diagram.DomainArrow{
			ID:          diagram.ArrowID(e.ID),
			Source:      handle.BuildDirected(e.SourceNodeID, e.SourceOutput, diagram.HandleDirectionOutput),
			Target:      handle.BuildDirected(e.TargetNodeID, e.TargetInput, diagram.HandleDirectionInput),
			ContentType: e.ContentType,
			Data:        e.Metadata,
		})
	}

	if exec.Metadata != nil {
		if exec.Metadata.Name != "" || exec.Metadata.Description != "" || exec.Metadata.Version != "" {
			d.Metadata = &diagram.DiagramMetadata{
				Name:        exec.Metadata.Name,
				Description: exec.Metadata.Description,
				Version:     exec.Metadata.Version,
			}
		}
		seen := make(map[diagram.PersonID]bool)
		for personID := range exec.Metadata.PersonNodes {
			if seen[personID] {
				continue
			}
			seen[personID] = true
			if p, ok := exec.Metadata.Persons[personID]; ok {
				d.Persons = append(d.Persons, p)
			}
		}
	}

	return d
}

// nodeData rebuilds the property bag for a typed node.
func nodeData(node diagram.ExecutableNode) map[string]any {
	data := map[string]any{"label": node.Label()}
	switch n := node.(type) {
	case *diagram.StartNode:
		data["trigger_mode"] = string(n.TriggerMode)
		if n.HookEvent != "" {
			data["hook_event"] = n.HookEvent
		}
		if len(n.CustomData) > 0 {
			data["custom_data"] = n.CustomData
		}
	case *diagram.EndpointNode:
		if n.SaveToFile {
			data["save_to_file"] = true
			data["file_path"] = n.FilePath
		}
	case *diagram.ConditionNode:
		data["condition_type"] = string(n.ConditionType)
		if n.Expression != "" {
			data["expression"] = n.Expression
		}
		data["join_policy"] = string(n.JoinPolicy())
	case *diagram.PersonJobNode:
		data["person"] = string(n.PersonID)
		data["max_iteration"] = n.MaxIteration
		if n.DefaultPrompt != "" {
			data["default_prompt"] = n.DefaultPrompt
		}
		if n.FirstOnlyPrompt != "" {
			data["first_only_prompt"] = n.FirstOnlyPrompt
		}
		if len(n.Tools) > 0 {
			tools := make([]any, 0, len(n.Tools))
			for _, t := range n.Tools {
				tool := map[string]any{"name": t.Name}
				if t.Description != "" {
					tool["description"] = t.Description
				}
				if len(t.Parameters) > 0 {
					tool["parameters"] = t.Parameters
				}
				tools = append(tools, tool)
			}
			data["tools"] = tools
		}
		if n.Retention != diagram.RetentionNoForget {
			data["memory_profile"] = string(n.Retention)
		}
	case *diagram.PersonBatchJobNode:
		data["person"] = string(n.PersonID)
		data["max_iteration"] = n.MaxIteration
		if n.DefaultPrompt != "" {
			data["default_prompt"] = n.DefaultPrompt
		}
		data["batch_key"] = n.BatchKey
		if n.Retention != diagram.RetentionNoForget {
			data["memory_profile"] = string(n.Retention)
		}
	case *diagram.CodeJobNode:
		data["language"] = n.Language
		if n.Code != "" {
			data["code"] = n.Code
		}
		if n.FilePath != "" {
			data["file_path"] = n.FilePath
		}
	case *diagram.APIJobNode:
		data["url"] = n.URL
		data["method"] = n.Method
		if len(n.Headers) > 0 {
			headers := make(map[string]any, len(n.Headers))
			for k, v := range n.Headers {
				headers[k] = v
			}
			data["headers"] = headers
		}
		if len(n.Params) > 0 {
			data["params"] = n.Params
		}
		if len(n.Body) > 0 {
			data["body"] = n.Body
		}
		if n.TimeoutSeconds > 0 {
			data["timeout"] = n.TimeoutSeconds
		}
	case *diagram.DBNode:
		data["operation"] = string(n.Operation)
		data["sub_type"] = n.SubType
		data["source_details"] = n.SourceDetails
	case *diagram.NotionNode:
		data["operation"] = n.Operation
		if n.PageID != "" {
			data["page_id"] = n.PageID
		}
		if n.DatabaseID != "" {
			data["database_id"] = n.DatabaseID
		}
	case *diagram.UserResponseNode:
		if n.Prompt != "" {
			data["prompt"] = n.Prompt
		}
		data["timeout"] = n.TimeoutSeconds
	case *diagram.HookNode:
		data["hook_type"] = n.HookType
		if n.Command != "" {
			data["command"] = n.Command
		}
		if n.URL != "" {
			data["url"] = n.URL
		}
		data["timeout"] = n.TimeoutSeconds
	}
	return data
}

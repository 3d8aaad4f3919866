//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package compiler

import (
	"fmt"

	"github.com/dipeo/dipeo-go/diagram"
)

// buildNode constructs the typed node for a domain node, validating the
// type-specific required properties and applying defaults.
func buildNode(dn diagram.DomainNode, d *diagram.DomainDiagram) (diagram.ExecutableNode, error) {
	base := diagram.BaseNode{
		NodeID:    dn.ID,
		NodeType:  dn.Type,
		NodeLabel: dn.Label(),
		Pos:       dn.Position,
	}
	bag := props(dn.Data)

	switch dn.Type {
	case diagram.NodeTypeStart:
		mode := diagram.TriggerMode(bag.str("trigger_mode", string(diagram.TriggerModeManual)))
		if mode != diagram.TriggerModeManual && mode != diagram.TriggerModeHook {
			return nil, fmt.Errorf("start node: unknown trigger_mode %q", mode)
		}
		hookEvent := bag.str("hook_event", "")
		if mode == diagram.TriggerModeHook && hookEvent == "" {
			return nil, fmt.Errorf("start node: trigger_mode hook requires hook_event")
		}
		return &diagram.StartNode{
			BaseNode:    base,
			TriggerMode: mode,
			HookEvent:   hookEvent,
			CustomData:  bag.obj("custom_data"),
		}, nil

	case diagram.NodeTypeEndpoint:
		return &diagram.EndpointNode{
			BaseNode:   base,
			SaveToFile: bag.boolean("save_to_file", false),
			FilePath:   bag.str("file_path", ""),
		}, nil

	case diagram.NodeTypeCondition:
		condType := diagram.ConditionType(bag.str("condition_type", string(diagram.ConditionTypeExpression)))
		expression := bag.str("expression", "")
		if condType == diagram.ConditionTypeExpression && expression == "" {
			return nil, fmt.Errorf("condition node: expression conditions require an expression")
		}
		return &diagram.ConditionNode{
			BaseNode:      base,
			ConditionType: condType,
			Expression:    expression,
			Policy:        diagram.JoinPolicy(bag.str("join_policy", string(diagram.JoinPolicyAny))),
		}, nil

	case diagram.NodeTypePersonJob:
		personID := diagram.PersonID(bag.str("person", ""))
		if personID == "" {
			return nil, fmt.Errorf("person_job node: person reference is required")
		}
		if _, ok := d.GetPerson(personID); !ok {
			return nil, fmt.Errorf("person_job node: person %q is not defined", personID)
		}
		maxIter := bag.integer("max_iteration", 1)
		if maxIter < 1 {
			return nil, fmt.Errorf("person_job node: max_iteration must be >= 1, got %d", maxIter)
		}
		return &diagram.PersonJobNode{
			BaseNode:        base,
			PersonID:        personID,
			MaxIteration:    maxIter,
			DefaultPrompt:   bag.str("default_prompt", ""),
			FirstOnlyPrompt: bag.str("first_only_prompt", ""),
			Tools:           parseTools(bag.list("tools")),
			Retention:       retention(bag.str("memory_profile", "")),
		}, nil

	case diagram.NodeTypePersonBatch:
		personID := diagram.PersonID(bag.str("person", ""))
		if personID == "" {
			return nil, fmt.Errorf("person_batch_job node: person reference is required")
		}
		if _, ok := d.GetPerson(personID); !ok {
			return nil, fmt.Errorf("person_batch_job node: person %q is not defined", personID)
		}
		maxIter := bag.integer("max_iteration", 1)
		if maxIter < 1 {
			return nil, fmt.Errorf("person_batch_job node: max_iteration must be >= 1, got %d", maxIter)
		}
		return &diagram.PersonBatchJobNode{
			BaseNode:      base,
			PersonID:      personID,
			MaxIteration:  maxIter,
			DefaultPrompt: bag.str("default_prompt", ""),
			BatchKey:      bag.str("batch_key", "items"),
			Retention:     retention(bag.str("memory_profile", "")),
		}, nil

	case diagram.NodeTypeCodeJob:
		code := bag.str("code", "")
		filePath := bag.str("file_path", "")
		if code == "" && filePath == "" {
			return nil, fmt.Errorf("code_job node: code or file_path is required")
		}
		return &diagram.CodeJobNode{
			BaseNode: base,
			Language: bag.str("language", "expr"),
			Code:     code,
			FilePath: filePath,
		}, nil

	case diagram.NodeTypeAPIJob:
		url := bag.str("url", "")
		if url == "" {
			return nil, fmt.Errorf("api_job node: url is required")
		}
		headers := make(map[string]string)
		for k, v := range bag.obj("headers") {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
		return &diagram.APIJobNode{
			BaseNode:       base,
			URL:            url,
			Method:         bag.str("method", "GET"),
			Headers:        headers,
			Params:         bag.obj("params"),
			Body:           bag.obj("body"),
			TimeoutSeconds: bag.integer("timeout", 0),
		}, nil

	case diagram.NodeTypeDB:
		op := diagram.DBOperation(bag.str("operation", string(diagram.DBOperationRead)))
		switch op {
		case diagram.DBOperationRead, diagram.DBOperationWrite, diagram.DBOperationAppend:
		default:
			return nil, fmt.Errorf("db node: unknown operation %q", op)
		}
		details := bag.str("source_details", "")
		if details == "" {
			return nil, fmt.Errorf("db node: source_details is required")
		}
		return &diagram.DBNode{
			BaseNode:      base,
			Operation:     op,
			SubType:       bag.str("sub_type", "file"),
			SourceDetails: details,
		}, nil

	case diagram.NodeTypeNotion:
		op := bag.str("operation", "")
		if op == "" {
			return nil, fmt.Errorf("notion node: operation is required")
		}
		return &diagram.NotionNode{
			BaseNode:   base,
			Operation:  op,
			PageID:     bag.str("page_id", ""),
			DatabaseID: bag.str("database_id", ""),
		}, nil

	case diagram.NodeTypeUserResponse:
		return &diagram.UserResponseNode{
			BaseNode:       base,
			Prompt:         bag.str("prompt", ""),
			TimeoutSeconds: bag.integer("timeout", 60),
		}, nil

	case diagram.NodeTypeHook:
		hookType := bag.str("hook_type", "shell")
		switch hookType {
		case "shell":
			if bag.str("command", "") == "" {
				return nil, fmt.Errorf("hook node: shell hooks require a command")
			}
		case "webhook":
			if bag.str("url", "") == "" {
				return nil, fmt.Errorf("hook node: webhooks require a url")
			}
		default:
			return nil, fmt.Errorf("hook node: unknown hook_type %q", hookType)
		}
		return &diagram.HookNode{
			BaseNode:       base,
			HookType:       hookType,
			Command:        bag.str("command", ""),
			URL:            bag.str("url", ""),
			TimeoutSeconds: bag.integer("timeout", 30),
		}, nil

	default:
		return nil, fmt.Errorf("no factory for node type %q", dn.Type)
	}
}

func retention(profile string) diagram.RetentionRule {
	switch diagram.RetentionRule(profile) {
	case diagram.RetentionOnEveryTurn:
		return diagram.RetentionOnEveryTurn
	case diagram.RetentionForgetOwn:
		return diagram.RetentionForgetOwn
	default:
		return diagram.RetentionNoForget
	}
}

func parseTools(raw []any) []diagram.ToolConfig {
	var tools []diagram.ToolConfig
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		bag := props(m)
		tools = append(tools, diagram.ToolConfig{
			Name:        bag.str("name", ""),
			Description: bag.str("description", ""),
			Parameters:  bag.obj("parameters"),
		})
	}
	return tools
}

// props wraps a node's free-form data bag with tolerant accessors. JSON and
// YAML decoding produce different numeric types, so integers accept both.
type props map[string]any

func (p props) str(key, fallback string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func (p props) integer(key string, fallback int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func (p props) boolean(key string, fallback bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return fallback
}

func (p props) obj(key string) map[string]any {
	if v, ok := p[key].(map[string]any); ok {
		return v
	}
	return nil
}

func (p props) list(key string) []any {
	if v, ok := p[key].([]any); ok {
		return v
	}
	return nil
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package handlers

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-go/conversation"
	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/llm"
	"github.com/dipeo/dipeo-go/service"
)

// PersonJobHandler invokes the LLM identity behind a person_job node. It
// applies the node's retention rule before building the message array, and
// records both the prompt and the reply in conversation memory.
type PersonJobHandler struct{}

// NodeType implements engine.Handler.
func (h *PersonJobHandler) NodeType() diagram.NodeType { return diagram.NodeTypePersonJob }

// Execute implements engine.Handler.
func (h *PersonJobHandler) Execute(ctx context.Context, node diagram.ExecutableNode, nc *engine.NodeContext) (*execution.NodeOutput, error) {
	job, ok := node.(*diagram.PersonJobNode)
	if !ok {
		return nil, engine.Internal(fmt.Errorf("person_job handler received %T", node))
	}

	prompt := job.DefaultPrompt
	if nc.Iteration == 0 && job.FirstOnlyPrompt != "" {
		prompt = job.FirstOnlyPrompt
	}
	result, err := completeForPerson(ctx, nc, job.PersonID, prompt, job.Retention, llmTools(job.Tools))
	if err != nil {
		return nil, err
	}

	output := &execution.NodeOutput{
		Value:      result.Text,
		TokenUsage: &result.TokenUsage,
	}
	if len(result.ToolOutputs) > 0 {
		output.Metadata = map[string]any{"tool_results": toolResults(result.ToolOutputs)}
	}
	return output, nil
}

// PersonBatchJobHandler runs a person once per element of its list input
// and collects the replies.
type PersonBatchJobHandler struct{}

// NodeType implements engine.Handler.
func (h *PersonBatchJobHandler) NodeType() diagram.NodeType { return diagram.NodeTypePersonBatch }

// Execute implements engine.Handler.
func (h *PersonBatchJobHandler) Execute(ctx context.Context, node diagram.ExecutableNode, nc *engine.NodeContext) (*execution.NodeOutput, error) {
	job, ok := node.(*diagram.PersonBatchJobNode)
	if !ok {
		return nil, engine.Internal(fmt.Errorf("person_batch_job handler received %T", node))
	}

	items, err := batchItems(nc, job.BatchKey)
	if err != nil {
		return nil, err
	}

	var replies []any
	var usage llm.TokenUsage
	for i, item := range items {
		vars := map[string]any{"item": item, "index": i}
		prompt := renderTemplate(job.DefaultPrompt, vars)
		if prompt == job.DefaultPrompt && job.DefaultPrompt != "" {
			// No placeholder consumed the item; append it so each call still
			// varies per element.
			prompt = fmt.Sprintf("%s\n\n%s", job.DefaultPrompt, asString(item))
		}
		result, err := completeForPerson(ctx, nc, job.PersonID, prompt, job.Retention, nil)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		replies = append(replies, result.Text)
		usage.Add(result.TokenUsage)
	}

	return &execution.NodeOutput{Value: replies, TokenUsage: &usage}, nil
}

// completeForPerson applies retention, builds the message array from the
// person's history plus the rendered prompt, and runs one completion.
func completeForPerson(ctx context.Context, nc *engine.NodeContext, personID diagram.PersonID, prompt string, retention diagram.RetentionRule, tools []llm.Tool) (*llm.Result, error) {
	svc, err := service.Require(nc.Services, service.LLMService)
	if err != nil {
		return nil, engine.Configuration(err)
	}
	person, ok := nc.Diagram.Metadata.Persons[personID]
	if !ok {
		return nil, engine.Configuration(fmt.Errorf("person %q is not in the compiled persons catalog", personID))
	}

	nc.Conversation.ApplyRetention(personID, retention, nc.ExecutionID)

	userText := renderTemplate(prompt, promptVars(nc))
	if userText == "" {
		if v, ok := nc.FirstInput(); ok {
			userText = asString(v)
		}
	}
	if userText == "" {
		return nil, engine.Validation(fmt.Errorf("person node %s produced an empty prompt", nc.NodeID))
	}

	messages := make([]llm.Message, 0, 8)
	for _, msg := range nc.Conversation.GetHistory(personID) {
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, llm.NewUserMessage(userText))

	opts := llm.Options{
		Model:        person.LLMConfig.Model,
		APIKeyID:     person.LLMConfig.APIKeyID,
		SystemPrompt: person.LLMConfig.SystemPrompt,
		Temperature:  person.LLMConfig.Temperature,
		MaxTokens:    person.LLMConfig.MaxTokens,
		Tools:        tools,
	}
	result, err := svc.Complete(ctx, messages, opts)
	if err != nil {
		return nil, err
	}

	nc.Conversation.Append(personID, conversation.Message{
		Role:        llm.RoleUser,
		Content:     userText,
		NodeID:      nc.NodeID,
		ExecutionID: nc.ExecutionID,
	})
	nc.Conversation.Append(personID, conversation.Message{
		Role:        llm.RoleAssistant,
		Content:     result.Text,
		NodeID:      nc.NodeID,
		ExecutionID: nc.ExecutionID,
		Sender:      personID,
		TokenCount:  result.TokenUsage.Output,
	})
	return result, nil
}

// promptVars flattens the node inputs for template rendering.
func promptVars(nc *engine.NodeContext) map[string]any {
	vars := make(map[string]any, len(nc.Inputs)+2)
	for k, v := range nc.Inputs {
		vars[k] = v
	}
	if v, ok := nc.FirstInput(); ok {
		vars["input"] = v
		if m, ok := v.(map[string]any); ok {
			for k, val := range m {
				if _, taken := vars[k]; !taken {
					vars[k] = val
				}
			}
		}
	}
	vars["iteration"] = nc.Iteration
	return vars
}

// batchItems extracts the list the batch node iterates over: the input
// keyed by batchKey, a list-valued default input, or the batchKey field of
// an object default input.
func batchItems(nc *engine.NodeContext, batchKey string) ([]any, error) {
	if v, ok := nc.Inputs[batchKey]; ok {
		if list, ok := v.([]any); ok {
			return list, nil
		}
	}
	if v, ok := nc.FirstInput(); ok {
		switch t := v.(type) {
		case []any:
			return t, nil
		case map[string]any:
			if list, ok := t[batchKey].([]any); ok {
				return list, nil
			}
		}
	}
	return nil, engine.Validation(fmt.Errorf("person_batch_job %s: no list input under %q", nc.NodeID, batchKey))
}

func llmTools(configs []diagram.ToolConfig) []llm.Tool {
	if len(configs) == 0 {
		return nil
	}
	tools := make([]llm.Tool, 0, len(configs))
	for _, t := range configs {
		tools = append(tools, llm.Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return tools
}

func toolResults(outputs []llm.ToolOutput) []any {
	results := make([]any, 0, len(outputs))
	for _, out := range outputs {
		results = append(results, map[string]any{
			"name":      out.Name,
			"arguments": out.Arguments,
		})
	}
	return results
}

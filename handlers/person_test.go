//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package handlers

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/llm"
	"github.com/dipeo/dipeo-go/service"
)

// fakeLLM records every call and replies with a canned or computed result.
type fakeLLM struct {
	calls []fakeCall
	reply func(messages []llm.Message, opts llm.Options) (*llm.Result, error)
}

type fakeCall struct {
	messages []llm.Message
	opts     llm.Options
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message, opts llm.Options) (*llm.Result, error) {
	f.calls = append(f.calls, fakeCall{messages: messages, opts: opts})
	if f.reply != nil {
		return f.reply(messages, opts)
	}
	return &llm.Result{Text: "ok", TokenUsage: llm.TokenUsage{Input: 10, Output: 5}}, nil
}

func personContext(t *testing.T, fake *fakeLLM) *engine.NodeContext {
	t.Helper()
	temp := 0.7
	nc := testContext()
	service.LLMService.Register(nc.Services, fake)
	nc.Diagram = diagram.NewExecutableDiagram(nil, nil, &diagram.CompiledMetadata{
		Persons: map[diagram.PersonID]diagram.DomainPerson{
			"writer": {
				ID:    "writer",
				Label: "Writer",
				LLMConfig: diagram.LLMConfig{
					Service:      "openai",
					Model:        "gpt-4o",
					APIKeyID:     "APIKEY_1",
					SystemPrompt: "You write drafts.",
					Temperature:  &temp,
				},
			},
		},
	})
	return nc
}

func personNode() *diagram.PersonJobNode {
	return &diagram.PersonJobNode{
		BaseNode:      diagram.BaseNode{NodeID: "p", NodeType: diagram.NodeTypePersonJob},
		PersonID:      "writer",
		DefaultPrompt: "Write about {{topic}}",
	}
}

func TestPersonJobCompletes(t *testing.T) {
	fake := &fakeLLM{}
	nc := personContext(t, fake)
	nc.Inputs = map[string]any{"default": map[string]any{"topic": "concurrency"}}

	out, err := (&PersonJobHandler{}).Execute(context.Background(), personNode(), nc)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Value)
	require.NotNil(t, out.TokenUsage)
	assert.Equal(t, 10, out.TokenUsage.Input)
	assert.Equal(t, 5, out.TokenUsage.Output)

	require.Len(t, fake.calls, 1)
	call := fake.calls[0]
	assert.Equal(t, "gpt-4o", call.opts.Model)
	assert.Equal(t, "APIKEY_1", call.opts.APIKeyID)
	assert.Equal(t, "You write drafts.", call.opts.SystemPrompt)
	require.Len(t, call.messages, 1)
	assert.Equal(t, llm.RoleUser, call.messages[0].Role)
	assert.Equal(t, "Write about concurrency", call.messages[0].Content)
}

func TestPersonJobFirstOnlyPrompt(t *testing.T) {
	fake := &fakeLLM{}
	node := personNode()
	node.FirstOnlyPrompt = "Introduce yourself"

	nc := personContext(t, fake)
	nc.Inputs = map[string]any{"default": map[string]any{"topic": "x"}}
	_, err := (&PersonJobHandler{}).Execute(context.Background(), node, nc)
	require.NoError(t, err)

	nc2 := personContext(t, fake)
	nc2.Iteration = 1
	nc2.Inputs = map[string]any{"default": map[string]any{"topic": "channels"}}
	_, err = (&PersonJobHandler{}).Execute(context.Background(), node, nc2)
	require.NoError(t, err)

	require.Len(t, fake.calls, 2)
	assert.Equal(t, "Introduce yourself", fake.calls[0].messages[0].Content)
	assert.Equal(t, "Write about channels", fake.calls[1].messages[0].Content)
}

func TestPersonJobRecordsConversation(t *testing.T) {
	fake := &fakeLLM{}
	nc := personContext(t, fake)
	nc.Inputs = map[string]any{"default": map[string]any{"topic": "errors"}}

	_, err := (&PersonJobHandler{}).Execute(context.Background(), personNode(), nc)
	require.NoError(t, err)

	history := nc.Conversation.GetHistory("writer")
	require.Len(t, history, 2)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, "Write about errors", history[0].Content)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
	assert.Equal(t, "ok", history[1].Content)
	assert.Equal(t, diagram.PersonID("writer"), history[1].Sender)
	assert.Equal(t, 5, history[1].TokenCount)
}

func TestPersonJobCarriesHistoryIntoNextCall(t *testing.T) {
	fake := &fakeLLM{}
	nc := personContext(t, fake)
	nc.Inputs = map[string]any{"default": map[string]any{"topic": "maps"}}
	node := personNode()

	_, err := (&PersonJobHandler{}).Execute(context.Background(), node, nc)
	require.NoError(t, err)
	nc.Iteration = 1
	_, err = (&PersonJobHandler{}).Execute(context.Background(), node, nc)
	require.NoError(t, err)

	require.Len(t, fake.calls, 2)
	// Second call sees the first exchange plus the new prompt.
	assert.Len(t, fake.calls[1].messages, 3)
}

func TestPersonJobPromptFallsBackToInput(t *testing.T) {
	fake := &fakeLLM{}
	nc := personContext(t, fake)
	nc.Inputs = map[string]any{"default": "review this paragraph"}
	node := personNode()
	node.DefaultPrompt = ""

	_, err := (&PersonJobHandler{}).Execute(context.Background(), node, nc)
	require.NoError(t, err)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, "review this paragraph", fake.calls[0].messages[0].Content)
}

func TestPersonJobEmptyPromptIsValidation(t *testing.T) {
	fake := &fakeLLM{}
	nc := personContext(t, fake)
	node := personNode()
	node.DefaultPrompt = ""

	_, err := (&PersonJobHandler{}).Execute(context.Background(), node, nc)
	require.Error(t, err)
	assert.Equal(t, engine.KindValidation, engine.KindOf(err))
	assert.Empty(t, fake.calls)
}

func TestPersonJobUnknownPersonIsConfiguration(t *testing.T) {
	fake := &fakeLLM{}
	nc := personContext(t, fake)
	nc.Inputs = map[string]any{"default": map[string]any{"topic": "x"}}
	node := personNode()
	node.PersonID = "ghost"

	_, err := (&PersonJobHandler{}).Execute(context.Background(), node, nc)
	require.Error(t, err)
	assert.Equal(t, engine.KindConfiguration, engine.KindOf(err))
}

func TestPersonJobMissingLLMServiceIsConfiguration(t *testing.T) {
	nc := testContext()
	nc.Diagram = diagram.NewExecutableDiagram(nil, nil, &diagram.CompiledMetadata{})

	_, err := (&PersonJobHandler{}).Execute(context.Background(), personNode(), nc)
	require.Error(t, err)
	assert.Equal(t, engine.KindConfiguration, engine.KindOf(err))
}

func TestPersonJobSurfacesToolOutputs(t *testing.T) {
	fake := &fakeLLM{reply: func([]llm.Message, llm.Options) (*llm.Result, error) {
		return &llm.Result{
			Text: "calling tools",
			ToolOutputs: []llm.ToolOutput{
				{Name: "search", Arguments: map[string]any{"query": "go"}},
			},
		}, nil
	}}
	nc := personContext(t, fake)
	nc.Inputs = map[string]any{"default": map[string]any{"topic": "x"}}
	node := personNode()
	node.Tools = []diagram.ToolConfig{{Name: "search", Description: "web search"}}

	out, err := (&PersonJobHandler{}).Execute(context.Background(), node, nc)
	require.NoError(t, err)
	require.Len(t, fake.calls[0].opts.Tools, 1)
	assert.Equal(t, "search", fake.calls[0].opts.Tools[0].Name)
	results, ok := out.Metadata["tool_results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
}

func TestPersonBatchJobRunsPerItem(t *testing.T) {
	fake := &fakeLLM{reply: func(messages []llm.Message, _ llm.Options) (*llm.Result, error) {
		last := messages[len(messages)-1]
		return &llm.Result{
			Text:       "reply to " + last.Content,
			TokenUsage: llm.TokenUsage{Input: 4, Output: 2},
		}, nil
	}}
	nc := personContext(t, fake)
	nc.Inputs = map[string]any{"items": []any{"alpha", "beta"}}

	node := &diagram.PersonBatchJobNode{
		BaseNode:      diagram.BaseNode{NodeID: "b", NodeType: diagram.NodeTypePersonBatch},
		PersonID:      "writer",
		BatchKey:      "items",
		DefaultPrompt: "Summarize {{item}}",
	}
	out, err := (&PersonBatchJobHandler{}).Execute(context.Background(), node, nc)
	require.NoError(t, err)

	replies, ok := out.Value.([]any)
	require.True(t, ok)
	require.Len(t, replies, 2)
	assert.Equal(t, "reply to Summarize alpha", replies[0])
	assert.Equal(t, "reply to Summarize beta", replies[1])
	require.NotNil(t, out.TokenUsage)
	assert.Equal(t, 8, out.TokenUsage.Input)
	assert.Equal(t, 4, out.TokenUsage.Output)
}

func TestPersonBatchJobAppendsItemWhenNoPlaceholder(t *testing.T) {
	fake := &fakeLLM{}
	nc := personContext(t, fake)
	nc.Inputs = map[string]any{"default": []any{"only item"}}

	node := &diagram.PersonBatchJobNode{
		BaseNode:      diagram.BaseNode{NodeID: "b", NodeType: diagram.NodeTypePersonBatch},
		PersonID:      "writer",
		BatchKey:      "items",
		DefaultPrompt: "Review the following.",
	}
	_, err := (&PersonBatchJobHandler{}).Execute(context.Background(), node, nc)
	require.NoError(t, err)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, "Review the following.\n\nonly item", fake.calls[0].messages[0].Content)
}

func TestPersonBatchJobFailureNamesItem(t *testing.T) {
	fake := &fakeLLM{reply: func([]llm.Message, llm.Options) (*llm.Result, error) {
		return nil, fmt.Errorf("provider down")
	}}
	nc := personContext(t, fake)
	nc.Inputs = map[string]any{"items": []any{"a"}}

	node := &diagram.PersonBatchJobNode{
		BaseNode:      diagram.BaseNode{NodeID: "b", NodeType: diagram.NodeTypePersonBatch},
		PersonID:      "writer",
		BatchKey:      "items",
		DefaultPrompt: "Summarize {{item}}",
	}
	_, err := (&PersonBatchJobHandler{}).Execute(context.Background(), node, nc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch item 0")
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package llm defines the LLM service port consumed by person nodes.
// Concrete provider adapters live in subpackages and are injected through
// the service registry.
package llm

import (
	"context"
	"errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrNoCompletion is returned when a provider produces no choices.
var ErrNoCompletion = errors.New("llm: provider returned no completion")

// Message is a single chat message sent to or received from a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// TokenUsage counts tokens consumed by a single completion.
// Cached counts tokens served from the provider's prompt cache.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Cached int `json:"cached,omitempty"`
}

// Add accumulates another usage record into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.Cached += other.Cached
}

// Total returns the total number of tokens in the record.
func (u TokenUsage) Total() int {
	return u.Input + u.Output + u.Cached
}

// Options carries per-call generation parameters.
type Options struct {
	Model        string   `json:"model"`
	APIKeyID     string   `json:"api_key_id"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	Tools        []Tool   `json:"tools,omitempty"`
}

// Tool declares a tool the model may call during a completion.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolOutput is a single tool invocation produced by the model.
type ToolOutput struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Raw       string         `json:"raw,omitempty"`
}

// Result is the outcome of one completion call.
type Result struct {
	Text        string       `json:"text"`
	TokenUsage  TokenUsage   `json:"token_usage"`
	ToolOutputs []ToolOutput `json:"tool_outputs,omitempty"`
}

// Service is the provider-agnostic completion port.
// Implementations must be safe for concurrent use.
type Service interface {
	// Complete runs a single chat completion.
	Complete(ctx context.Context, messages []Message, opts Options) (*Result, error)
}

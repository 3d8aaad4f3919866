//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package openai adapts the OpenAI chat completion API to the llm.Service
// port. API keys are resolved per call through the apikey service, so one
// adapter serves persons bound to different keys.
package openai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/dipeo/dipeo-go/apikey"
	"github.com/dipeo/dipeo-go/llm"
	"github.com/dipeo/dipeo-go/log"
)

// Service implements llm.Service over the OpenAI API.
type Service struct {
	keys apikey.Service
	// baseURL overrides the API endpoint, for proxies and compatible
	// providers.
	baseURL string

	mu      sync.Mutex
	clients map[string]*gopenai.Client
}

// Option configures the service.
type Option func(*Service)

// WithBaseURL points the adapter at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *Service) { s.baseURL = url }
}

// New creates an adapter resolving keys through the given service.
func New(keys apikey.Service, opts ...Option) *Service {
	s := &Service{keys: keys, clients: make(map[string]*gopenai.Client)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Complete implements llm.Service.
func (s *Service) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Result, error) {
	client, err := s.client(ctx, opts.APIKeyID)
	if err != nil {
		return nil, err
	}

	req := gopenai.ChatCompletionRequest{
		Model:    opts.Model,
		Messages: buildMessages(messages, opts.SystemPrompt),
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	for _, tool := range opts.Tools {
		req.Tools = append(req.Tools, gopenai.Tool{
			Type: gopenai.ToolTypeFunction,
			Function: &gopenai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.ErrNoCompletion
	}

	choice := resp.Choices[0]
	result := &llm.Result{
		Text: choice.Message.Content,
		TokenUsage: llm.TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
		},
	}
	if details := resp.Usage.PromptTokensDetails; details != nil {
		result.TokenUsage.Cached = details.CachedTokens
	}
	for _, call := range choice.Message.ToolCalls {
		args, err := llm.ParseToolArguments(call.Function.Arguments)
		if err != nil {
			log.Warnf("openai: unparseable arguments for tool %s: %v", call.Function.Name, err)
		}
		result.ToolOutputs = append(result.ToolOutputs, llm.ToolOutput{
			Name:      call.Function.Name,
			Arguments: args,
			Raw:       call.Function.Arguments,
		})
	}
	return result, nil
}

func (s *Service) client(ctx context.Context, keyID string) (*gopenai.Client, error) {
	if keyID == "" {
		return nil, errors.New("openai: completion options carry no api_key_id")
	}
	s.mu.Lock()
	if client, ok := s.clients[keyID]; ok {
		s.mu.Unlock()
		return client, nil
	}
	s.mu.Unlock()

	secret, err := s.keys.GetKey(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("openai: resolve key %s: %w", keyID, err)
	}
	cfg := gopenai.DefaultConfig(secret)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}
	client := gopenai.NewClientWithConfig(cfg)

	s.mu.Lock()
	s.clients[keyID] = client
	s.mu.Unlock()
	return client, nil
}

func buildMessages(messages []llm.Message, systemPrompt string) []gopenai.ChatCompletionMessage {
	out := make([]gopenai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, gopenai.ChatCompletionMessage{
			Role:    gopenai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range messages {
		out = append(out, gopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		})
	}
	return out
}

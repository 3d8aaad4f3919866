//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/execution"
)

// HookHandler invokes an external command or webhook, passing the node's
// inputs as JSON on stdin or in the request body.
type HookHandler struct {
	// Client overrides the HTTP client for webhook hooks, mainly for tests.
	Client *http.Client
}

// NodeType implements engine.Handler.
func (h *HookHandler) NodeType() diagram.NodeType { return diagram.NodeTypeHook }

// Execute implements engine.Handler.
func (h *HookHandler) Execute(ctx context.Context, node diagram.ExecutableNode, nc *engine.NodeContext) (*execution.NodeOutput, error) {
	hook, ok := node.(*diagram.HookNode)
	if !ok {
		return nil, engine.Internal(fmt.Errorf("hook handler received %T", node))
	}

	if hook.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(hook.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	payload, err := json.Marshal(nc.Inputs)
	if err != nil {
		return nil, engine.Validation(fmt.Errorf("hook %s: encode inputs: %w", node.ID(), err))
	}

	switch hook.HookType {
	case "shell":
		cmd := exec.CommandContext(ctx, "sh", "-c", hook.Command)
		cmd.Stdin = bytes.NewReader(payload)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("hook %s: %w: %s", node.ID(), err, truncate(stderr.String(), 200))
		}
		return &execution.NodeOutput{Value: strings.TrimRight(stdout.String(), "\n")}, nil

	case "webhook":
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, engine.Validation(fmt.Errorf("hook %s: %w", node.ID(), err))
		}
		req.Header.Set("Content-Type", "application/json")
		client := h.Client
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, engine.Transient(fmt.Errorf("hook %s: %w", node.ID(), err))
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, engine.Transient(fmt.Errorf("hook %s: status %d", node.ID(), resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("hook %s: status %d", node.ID(), resp.StatusCode)
		}
		return &execution.NodeOutput{Value: string(body)}, nil

	default:
		return nil, engine.Validation(fmt.Errorf("hook %s: unknown hook_type %q", node.ID(), hook.HookType))
	}
}

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
	"net/url"
	"time"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/execution"
)

// APIJobHandler performs one HTTP request. 429 and 5xx responses surface as
// transient errors so the engine's retry policy applies; other non-2xx
// statuses fail the node.
type APIJobHandler struct {
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// NodeType implements engine.Handler.
func (h *APIJobHandler) NodeType() diagram.NodeType { return diagram.NodeTypeAPIJob }

// Execute implements engine.Handler.
func (h *APIJobHandler) Execute(ctx context.Context, node diagram.ExecutableNode, nc *engine.NodeContext) (*execution.NodeOutput, error) {
	job, ok := node.(*diagram.APIJobNode)
	if !ok {
		return nil, engine.Internal(fmt.Errorf("api_job handler received %T", node))
	}

	if job.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	target, err := buildURL(job, promptVars(nc))
	if err != nil {
		return nil, engine.Validation(err)
	}

	var body io.Reader
	if len(job.Body) > 0 {
		data, err := json.Marshal(job.Body)
		if err != nil {
			return nil, engine.Validation(fmt.Errorf("api_job %s: encode body: %w", node.ID(), err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, job.Method, target, body)
	if err != nil {
		return nil, engine.Validation(fmt.Errorf("api_job %s: %w", node.ID(), err))
	}
	for k, v := range job.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, engine.Transient(fmt.Errorf("api_job %s: %w", node.ID(), err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, engine.Transient(fmt.Errorf("api_job %s: read response: %w", node.ID(), err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, engine.Transient(fmt.Errorf("api_job %s: status %d", node.ID(), resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("api_job %s: status %d: %s", node.ID(), resp.StatusCode, truncate(string(payload), 200))
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		value = string(payload)
	}
	return &execution.NodeOutput{
		Value:    value,
		Metadata: map[string]any{"status_code": resp.StatusCode},
	}, nil
}

// buildURL renders template placeholders in the URL and appends query
// params.
func buildURL(job *diagram.APIJobNode, vars map[string]any) (string, error) {
	rendered := renderTemplate(job.URL, vars)
	u, err := url.Parse(rendered)
	if err != nil {
		return "", fmt.Errorf("api_job %s: bad url %q: %w", job.ID(), rendered, err)
	}
	if len(job.Params) > 0 {
		q := u.Query()
		for k, v := range job.Params {
			q.Set(k, asString(v))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

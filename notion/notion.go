//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package notion defines the port notion nodes call. The runtime ships no
// concrete client; deployments bind their own implementation through the
// service registry.
package notion

import "context"

// Operation names the supported page interactions.
type Operation string

const (
	OpReadPage      Operation = "read_page"
	OpCreatePage    Operation = "create_page"
	OpUpdatePage    Operation = "update_page"
	OpQueryDatabase Operation = "query_database"
)

// Request describes one call against a workspace.
type Request struct {
	Operation  Operation      `json:"operation"`
	PageID     string         `json:"page_id,omitempty"`
	DatabaseID string         `json:"database_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Service executes requests against a Notion workspace.
type Service interface {
	Execute(ctx context.Context, req *Request) (map[string]any, error)
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package handlers

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/notion"
	"github.com/dipeo/dipeo-go/service"
)

// NotionHandler forwards the node to the injected Notion service.
type NotionHandler struct{}

// NodeType implements engine.Handler.
func (h *NotionHandler) NodeType() diagram.NodeType { return diagram.NodeTypeNotion }

// Execute implements engine.Handler.
func (h *NotionHandler) Execute(ctx context.Context, node diagram.ExecutableNode, nc *engine.NodeContext) (*execution.NodeOutput, error) {
	nn, ok := node.(*diagram.NotionNode)
	if !ok {
		return nil, engine.Internal(fmt.Errorf("notion handler received %T", node))
	}
	svc, err := service.Require(nc.Services, service.NotionService)
	if err != nil {
		return nil, engine.Configuration(err)
	}

	result, err := svc.Execute(ctx, &notion.Request{
		Operation:  notion.Operation(nn.Operation),
		PageID:     nn.PageID,
		DatabaseID: nn.DatabaseID,
		Payload:    nc.Inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("notion %s: %w", node.ID(), err)
	}
	return &execution.NodeOutput{Value: result}, nil
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/service"
)

// EndpointHandler terminates a path, optionally persisting its final input
// through the file service.
type EndpointHandler struct{}

// NodeType implements engine.Handler.
func (h *EndpointHandler) NodeType() diagram.NodeType { return diagram.NodeTypeEndpoint }

// Execute implements engine.Handler.
func (h *EndpointHandler) Execute(ctx context.Context, node diagram.ExecutableNode, nc *engine.NodeContext) (*execution.NodeOutput, error) {
	endpoint, ok := node.(*diagram.EndpointNode)
	if !ok {
		return nil, engine.Internal(fmt.Errorf("endpoint handler received %T", node))
	}
	value, _ := nc.FirstInput()

	if endpoint.SaveToFile {
		if endpoint.FilePath == "" {
			return nil, engine.Validation(fmt.Errorf("endpoint %s: save_to_file set without file_path", node.ID()))
		}
		files, err := service.Require(nc.Services, service.FileService)
		if err != nil {
			return nil, engine.Configuration(err)
		}
		data, err := renderFileContent(value)
		if err != nil {
			return nil, err
		}
		if err := files.Write(ctx, endpoint.FilePath, data); err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", node.ID(), err)
		}
	}

	return &execution.NodeOutput{Value: value}, nil
}

func renderFileContent(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, engine.Validation(fmt.Errorf("serialize endpoint output: %w", err))
		}
		return data, nil
	}
}

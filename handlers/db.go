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
	"strings"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/service"
)

// DBHandler reads and writes file-backed data sources through the file
// service. JSON sources are decoded on read; other files pass through as
// text.
type DBHandler struct{}

// NodeType implements engine.Handler.
func (h *DBHandler) NodeType() diagram.NodeType { return diagram.NodeTypeDB }

// Execute implements engine.Handler.
func (h *DBHandler) Execute(ctx context.Context, node diagram.ExecutableNode, nc *engine.NodeContext) (*execution.NodeOutput, error) {
	db, ok := node.(*diagram.DBNode)
	if !ok {
		return nil, engine.Internal(fmt.Errorf("db handler received %T", node))
	}
	files, err := service.Require(nc.Services, service.FileService)
	if err != nil {
		return nil, engine.Configuration(err)
	}

	switch db.Operation {
	case diagram.DBOperationRead:
		data, err := files.Read(ctx, db.SourceDetails)
		if err != nil {
			return nil, fmt.Errorf("db %s: %w", node.ID(), err)
		}
		if strings.HasSuffix(db.SourceDetails, ".json") {
			var value any
			if err := json.Unmarshal(data, &value); err == nil {
				return &execution.NodeOutput{Value: value}, nil
			}
		}
		return &execution.NodeOutput{Value: string(data)}, nil

	case diagram.DBOperationWrite, diagram.DBOperationAppend:
		value, _ := nc.FirstInput()
		data, err := renderFileContent(value)
		if err != nil {
			return nil, err
		}
		if db.Operation == diagram.DBOperationAppend {
			err = files.Append(ctx, db.SourceDetails, data)
		} else {
			err = files.Write(ctx, db.SourceDetails, data)
		}
		if err != nil {
			return nil, fmt.Errorf("db %s: %w", node.ID(), err)
		}
		return &execution.NodeOutput{Value: value}, nil

	default:
		return nil, engine.Validation(fmt.Errorf("db %s: unknown operation %q", node.ID(), db.Operation))
	}
}

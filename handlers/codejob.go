//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package handlers

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/service"
)

// CodeJobHandler evaluates an expr-lang snippet against the node's inputs.
// Inline code runs directly; file-backed code is loaded through the file
// service first.
type CodeJobHandler struct{}

// NodeType implements engine.Handler.
func (h *CodeJobHandler) NodeType() diagram.NodeType { return diagram.NodeTypeCodeJob }

// Execute implements engine.Handler.
func (h *CodeJobHandler) Execute(ctx context.Context, node diagram.ExecutableNode, nc *engine.NodeContext) (*execution.NodeOutput, error) {
	job, ok := node.(*diagram.CodeJobNode)
	if !ok {
		return nil, engine.Internal(fmt.Errorf("code_job handler received %T", node))
	}
	if job.Language != "" && job.Language != "expr" {
		return nil, engine.Validation(fmt.Errorf("code_job %s: unsupported language %q", node.ID(), job.Language))
	}

	code := job.Code
	if code == "" && job.FilePath != "" {
		files, err := service.Require(nc.Services, service.FileService)
		if err != nil {
			return nil, engine.Configuration(err)
		}
		data, err := files.Read(ctx, job.FilePath)
		if err != nil {
			return nil, fmt.Errorf("code_job %s: %w", node.ID(), err)
		}
		code = string(data)
	}
	if code == "" {
		return nil, engine.Validation(fmt.Errorf("code_job %s: no code to evaluate", node.ID()))
	}

	env := conditionEnv(nc)
	program, err := expr.Compile(code, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, engine.Validation(fmt.Errorf("code_job %s: compile: %w", node.ID(), err))
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("code_job %s: evaluate: %w", node.ID(), err)
	}
	return &execution.NodeOutput{Value: out}, nil
}

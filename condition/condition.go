//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package condition evaluates branch expressions against node inputs and
// execution metadata. Expressions use expr-lang syntax and must yield a
// boolean.
package condition

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator is the port condition nodes call.
type Evaluator interface {
	// Evaluate runs the expression against env and returns its boolean
	// result. Unknown variables resolve to nil rather than failing.
	Evaluate(ctx context.Context, expression string, env map[string]any) (bool, error)
}

// ExprEvaluator compiles expressions with expr-lang and caches the
// compiled programs by source text.
type ExprEvaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewExprEvaluator creates an evaluator with an empty program cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{programs: make(map[string]*vm.Program)}
}

// Evaluate implements Evaluator.
func (e *ExprEvaluator) Evaluate(_ context.Context, expression string, env map[string]any) (bool, error) {
	if expression == "" {
		return false, fmt.Errorf("condition expression is empty")
	}
	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}
	if env == nil {
		env = map[string]any{}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", expression, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %T, want bool", expression, out)
	}
	return result, nil
}

func (e *ExprEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", expression, err)
	}
	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()
	return program, nil
}

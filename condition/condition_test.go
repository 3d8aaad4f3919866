//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package condition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateBooleanExpressions(t *testing.T) {
	e := NewExprEvaluator()
	ctx := context.Background()

	cases := []struct {
		expression string
		env        map[string]any
		want       bool
	}{
		{"score > 0.8", map[string]any{"score": 0.9}, true},
		{"score > 0.8", map[string]any{"score": 0.5}, false},
		{`status == "done"`, map[string]any{"status": "done"}, true},
		{"len(items) >= 2", map[string]any{"items": []any{1, 2, 3}}, true},
		{"a && !b", map[string]any{"a": true, "b": false}, true},
	}
	for _, tc := range cases {
		got, err := e.Evaluate(ctx, tc.expression, tc.env)
		require.NoError(t, err, tc.expression)
		assert.Equal(t, tc.want, got, tc.expression)
	}
}

func TestEvaluateUndefinedVariablesAreNil(t *testing.T) {
	e := NewExprEvaluator()
	got, err := e.Evaluate(context.Background(), "missing == nil", map[string]any{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluateEmptyExpression(t *testing.T) {
	e := NewExprEvaluator()
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestEvaluateCompileError(t *testing.T) {
	e := NewExprEvaluator()
	_, err := e.Evaluate(context.Background(), "1 +", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile")
}

func TestEvaluateNilEnv(t *testing.T) {
	e := NewExprEvaluator()
	got, err := e.Evaluate(context.Background(), "1 < 2", nil)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestProgramCacheReuse(t *testing.T) {
	e := NewExprEvaluator()
	ctx := context.Background()

	_, err := e.Evaluate(ctx, "x > 1", map[string]any{"x": 2})
	require.NoError(t, err)
	_, err = e.Evaluate(ctx, "x > 1", map[string]any{"x": 0})
	require.NoError(t, err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.programs, 1)
}

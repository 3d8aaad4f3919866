//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolArgumentsStrictJSON(t *testing.T) {
	args, err := ParseToolArguments(`{"query": "weather", "limit": 3}`)
	require.NoError(t, err)
	assert.Equal(t, "weather", args["query"])
	assert.Equal(t, float64(3), args["limit"])
}

func TestParseToolArgumentsEmpty(t *testing.T) {
	args, err := ParseToolArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestParseToolArgumentsRepairsMalformedJSON(t *testing.T) {
	cases := map[string]string{
		"trailing comma": `{"query": "weather",}`,
		"single quotes":  `{'query': 'weather'}`,
		"unquoted keys":  `{query: "weather"}`,
		"truncated":      `{"query": "weather"`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			args, err := ParseToolArguments(raw)
			require.NoError(t, err)
			assert.Equal(t, "weather", args["query"])
		})
	}
}

func TestParseToolArgumentsUnrepairable(t *testing.T) {
	_, err := ParseToolArguments(`[1, 2, 3]`)
	require.Error(t, err, "non-object payloads are rejected")
}

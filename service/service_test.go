//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-go/apikey"
)

func TestTypedRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	// A concrete implementation registers against an interface-typed key
	// without an explicit conversion.
	store := &apikey.EnvStore{Prefix: "TEST_"}
	APIKeyService.Register(r, store)

	got, ok := Resolve(r, APIKeyService)
	require.True(t, ok)
	assert.Same(t, store, got.(*apikey.EnvStore))
}

func TestResolveMissing(t *testing.T) {
	r := NewRegistry()
	_, ok := Resolve(r, LLMService)
	assert.False(t, ok)
}

func TestRequireNamesTheMissingService(t *testing.T) {
	r := NewRegistry()
	_, err := Require(r, NotionService)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOTION_SERVICE")
}

func TestRebindReplaces(t *testing.T) {
	r := NewRegistry()
	APIKeyService.Register(r, &apikey.EnvStore{Prefix: "A_"})
	second := &apikey.EnvStore{Prefix: "B_"}
	APIKeyService.Register(r, second)

	got, err := Require(r, APIKeyService)
	require.NoError(t, err)
	assert.Same(t, second, got.(*apikey.EnvStore))
}

func TestUntypedView(t *testing.T) {
	r := NewRegistry()
	APIKeyService.Register(r, &apikey.EnvStore{})

	assert.True(t, r.Has("API_KEY_SERVICE"))
	assert.False(t, r.Has("LLM_SERVICE"))

	raw, ok := r.Get("API_KEY_SERVICE")
	require.True(t, ok)
	assert.NotNil(t, raw)

	assert.Equal(t, []string{"API_KEY_SERVICE"}, r.Names())
}

func TestKeysCarryDistinctNames(t *testing.T) {
	names := map[string]bool{}
	for _, n := range []string{
		LLMService.Name(),
		FileService.Name(),
		StateStore.Name(),
		APIKeyService.Name(),
		ConversationManager.Name(),
		MessageRouter.Name(),
		NotionService.Name(),
		ConditionEvaluation.Name(),
	} {
		assert.False(t, names[n], "duplicate key name %s", n)
		names[n] = true
	}
}

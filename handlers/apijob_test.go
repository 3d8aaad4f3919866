//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
)

func apiNode(url, method string) *diagram.APIJobNode {
	return &diagram.APIJobNode{
		BaseNode: diagram.BaseNode{NodeID: "api", NodeType: diagram.NodeTypeAPIJob},
		URL:      url,
		Method:   method,
	}
}

func TestAPIJobDecodesJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": 42, "name": "gopher"})
	}))
	defer srv.Close()

	h := &APIJobHandler{Client: srv.Client()}
	out, err := h.Execute(context.Background(), apiNode(srv.URL, http.MethodGet), testContext())
	require.NoError(t, err)

	value, ok := out.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "gopher", value["name"])
	assert.Equal(t, http.StatusOK, out.Metadata["status_code"])
}

func TestAPIJobKeepsNonJSONBodyAsString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text reply"))
	}))
	defer srv.Close()

	h := &APIJobHandler{Client: srv.Client()}
	out, err := h.Execute(context.Background(), apiNode(srv.URL, http.MethodGet), testContext())
	require.NoError(t, err)
	assert.Equal(t, "plain text reply", out.Value)
}

func TestAPIJobRendersURLAndParams(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	node := apiNode(srv.URL+"/users/{{user}}", http.MethodGet)
	node.Params = map[string]any{"limit": 5}
	nc := testContext()
	nc.Inputs = map[string]any{"default": map[string]any{"user": "ada"}}

	h := &APIJobHandler{Client: srv.Client()}
	_, err := h.Execute(context.Background(), node, nc)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/users/ada", got.URL.Path)
	assert.Equal(t, "5", got.URL.Query().Get("limit"))
}

func TestAPIJobSendsJSONBody(t *testing.T) {
	var contentType string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	node := apiNode(srv.URL, http.MethodPost)
	node.Body = map[string]any{"title": "hello"}

	h := &APIJobHandler{Client: srv.Client()}
	out, err := h.Execute(context.Background(), node, testContext())
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "hello", body["title"])
	assert.Equal(t, http.StatusCreated, out.Metadata["status_code"])
}

func TestAPIJobServerErrorsAreTransient(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		h := &APIJobHandler{Client: srv.Client()}
		_, err := h.Execute(context.Background(), apiNode(srv.URL, http.MethodGet), testContext())
		srv.Close()
		require.Error(t, err, status)
		assert.Equal(t, engine.KindTransient, engine.KindOf(err), status)
	}
}

func TestAPIJobClientErrorsAreNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such resource"))
	}))
	defer srv.Close()

	h := &APIJobHandler{Client: srv.Client()}
	_, err := h.Execute(context.Background(), apiNode(srv.URL, http.MethodGet), testContext())
	require.Error(t, err)
	assert.NotEqual(t, engine.KindTransient, engine.KindOf(err))
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "no such resource")
}

func TestAPIJobConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	h := &APIJobHandler{}
	_, err := h.Execute(context.Background(), apiNode(srv.URL, http.MethodGet), testContext())
	require.Error(t, err)
	assert.Equal(t, engine.KindTransient, engine.KindOf(err))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-go/compiler"
	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/handlers"
	"github.com/dipeo/dipeo-go/observer"
	"github.com/dipeo/dipeo-go/rules"
	"github.com/dipeo/dipeo-go/server"
	"github.com/dipeo/dipeo-go/service"
	"github.com/dipeo/dipeo-go/state"
	"github.com/dipeo/dipeo-go/state/inmemory"
	"github.com/dipeo/dipeo-go/storage"
)

type testEnv struct {
	http     *httptest.Server
	diagrams *storage.FileStore
	states   state.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	diagrams, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	states := inmemory.NewStore()
	manager := execution.NewManager()
	streaming := observer.NewStreamingObserver()
	bus := observer.NewBus(observer.NewStateStoreObserver(states, manager), streaming)

	eng := engine.New(handlers.All(),
		engine.WithServices(service.NewRegistry()),
		engine.WithBus(bus),
		engine.WithManager(manager),
	)
	reg, err := rules.NewRegistryWithBuiltins(rules.WithEnvironment(rules.EnvTest))
	require.NoError(t, err)
	comp := compiler.New(compiler.WithRules(reg))

	srv := server.New(eng, comp, diagrams, states, streaming)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{http: ts, diagrams: diagrams, states: states}
}

func passthroughDiagram(name string) *diagram.DomainDiagram {
	return &diagram.DomainDiagram{
		Metadata: &diagram.DiagramMetadata{Name: name},
		Nodes: []diagram.DomainNode{
			{ID: "start", Type: diagram.NodeTypeStart, Data: map[string]any{"label": "Start"}},
			{ID: "end", Type: diagram.NodeTypeEndpoint, Data: map[string]any{"label": "End"}},
		},
		Arrows: []diagram.DomainArrow{
			{ID: "a1", Source: "start:default", Target: "end:default"},
		},
	}
}

func (e *testEnv) saveDiagram(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, e.diagrams.Save(context.Background(), id, passthroughDiagram(id), storage.FormatNative))
}

func (e *testEnv) startExecution(t *testing.T, diagramID string) execution.ID {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"diagram_id": diagramID})
	resp, err := http.Post(e.http.URL+"/executions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started struct {
		ExecutionID execution.ID `json:"execution_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	require.NotEmpty(t, started.ExecutionID)
	return started.ExecutionID
}

func (e *testEnv) waitForStatus(t *testing.T, id execution.ID, want execution.Status) *execution.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := e.states.GetSnapshot(context.Background(), id)
		if err == nil && snap.Status == want {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s never reached %s", id, want)
	return nil
}

func TestListDiagrams(t *testing.T) {
	env := newTestEnv(t)
	env.saveDiagram(t, "alpha")
	env.saveDiagram(t, "beta")

	resp, err := http.Get(env.http.URL + "/diagrams")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var infos []storage.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	assert.Len(t, infos, 2)
}

func TestStartExecutionRunsToCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.saveDiagram(t, "flow")

	id := env.startExecution(t, "flow")
	snap := env.waitForStatus(t, id, execution.StatusCompleted)
	assert.Equal(t, execution.NodeCompleted, snap.NodeStates["start"].Status)
	assert.Equal(t, execution.NodeCompleted, snap.NodeStates["end"].Status)
}

func TestStartExecutionUnknownDiagram(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(map[string]string{"diagram_id": "ghost"})
	resp, err := http.Post(env.http.URL+"/executions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartExecutionRejectsEmptyBody(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.http.URL+"/executions", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartExecutionRejectsUncompilableDiagram(t *testing.T) {
	env := newTestEnv(t)
	// An endpoint with no start node fails compilation.
	broken := &diagram.DomainDiagram{
		Metadata: &diagram.DiagramMetadata{Name: "broken"},
		Nodes: []diagram.DomainNode{
			{ID: "end", Type: diagram.NodeTypeEndpoint},
		},
	}
	require.NoError(t, env.diagrams.Save(context.Background(), "broken", broken, storage.FormatNative))

	body, _ := json.Marshal(map[string]string{"diagram_id": "broken"})
	resp, err := http.Post(env.http.URL+"/executions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetExecutionSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.saveDiagram(t, "flow")
	id := env.startExecution(t, "flow")
	env.waitForStatus(t, id, execution.StatusCompleted)

	resp, err := http.Get(env.http.URL + "/executions/" + string(id))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap execution.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, id, snap.ExecutionID)
	assert.Equal(t, execution.StatusCompleted, snap.Status)
}

func TestGetExecutionUnknown(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.http.URL + "/executions/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListExecutions(t *testing.T) {
	env := newTestEnv(t)
	env.saveDiagram(t, "flow")
	id := env.startExecution(t, "flow")
	env.waitForStatus(t, id, execution.StatusCompleted)

	resp, err := http.Get(env.http.URL + "/executions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summaries []state.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, id, summaries[0].ExecutionID)
}

func TestCancelUnknownExecution(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.http.URL+"/executions/nope/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventStreamReplaysExecution(t *testing.T) {
	env := newTestEnv(t)
	env.saveDiagram(t, "flow")
	id := env.startExecution(t, "flow")
	env.waitForStatus(t, id, execution.StatusCompleted)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.http.URL+"/executions/"+string(id)+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The streaming observer keeps a backlog, so a late subscriber still
	// sees the whole run.
	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			types = append(types, name)
			if name == "execution_complete" {
				break
			}
		}
	}
	require.NotEmpty(t, types)
	assert.Equal(t, "execution_start", types[0])
	assert.Contains(t, types, "node_update")
	assert.Equal(t, "execution_complete", types[len(types)-1])
}

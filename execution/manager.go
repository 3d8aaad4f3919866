//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package execution

import (
	"sync"

	"github.com/dipeo/dipeo-go/log"
)

// Manager owns one State per execution id.
type Manager struct {
	mu     sync.Mutex
	states map[ID]*State
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{states: make(map[ID]*State)}
}

// Create registers a new execution state. The call is idempotent: creating
// an execution that already exists (e.g., replay) is a logged no-op.
func (m *Manager) Create(executionID ID, diagramID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.states[executionID]; ok {
		log.Infof("execution %s already exists, reusing state", executionID)
		return existing
	}
	st := NewState(executionID, diagramID)
	m.states[executionID] = st
	return st
}

// Get returns the state for an execution id.
func (m *Manager) Get(executionID ID) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[executionID]
	return st, ok
}

// Remove drops a finished execution's state.
func (m *Manager) Remove(executionID ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, executionID)
}

// List returns snapshots of every tracked execution.
func (m *Manager) List() []*Snapshot {
	m.mu.Lock()
	states := make([]*State, 0, len(m.states))
	for _, st := range m.states {
		states = append(states, st)
	}
	m.mu.Unlock()

	snapshots := make([]*Snapshot, 0, len(states))
	for _, st := range states {
		snapshots = append(snapshots, st.Snapshot())
	}
	return snapshots
}

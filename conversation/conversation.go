//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package conversation keeps per-person message history for LLM nodes, with
// scoped retention policies applied before each model invocation.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/execution"
)

// Message is one entry in a person's conversation log.
type Message struct {
	ID          string         `json:"id"`
	Role        string         `json:"role"`
	Content     string         `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
	NodeID      diagram.NodeID `json:"node_id,omitempty"`
	ExecutionID execution.ID   `json:"execution_id,omitempty"`
	// Sender is the person that authored the message, when it originated
	// from a person node rather than the user or system.
	Sender     diagram.PersonID `json:"sender,omitempty"`
	TokenCount int              `json:"token_count,omitempty"`
}

// Summary describes a person's log without exposing its contents.
type Summary struct {
	MessageCount     int `json:"message_count"`
	ApproxTokenCount int `json:"approx_token_count"`
}

// Manager owns the conversation logs for one process. Logs are partitioned
// by person id; writes to a partition are serialized.
type Manager struct {
	mu   sync.Mutex
	logs map[diagram.PersonID][]Message
}

// NewManager creates an empty conversation manager.
func NewManager() *Manager {
	return &Manager{logs: make(map[diagram.PersonID][]Message)}
}

// Append adds a message to a person's log, assigning an id and timestamp
// when the caller left them empty.
func (m *Manager) Append(personID diagram.PersonID, msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[personID] = append(m.logs[personID], msg)
}

// GetHistory returns a copy of the person's ordered message log.
func (m *Manager) GetHistory(personID diagram.PersonID) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.logs[personID]
	out := make([]Message, len(history))
	copy(out, history)
	return out
}

// ForgetForPerson clears the person's entire log.
func (m *Manager) ForgetForPerson(personID diagram.PersonID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.logs, personID)
}

// ForgetOwnMessages drops entries the person authored within the given
// execution, keeping messages from other senders and other executions.
func (m *Manager) ForgetOwnMessages(personID diagram.PersonID, executionID execution.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.logs[personID]
	kept := history[:0]
	for _, msg := range history {
		if msg.Sender == personID && msg.ExecutionID == executionID {
			continue
		}
		kept = append(kept, msg)
	}
	m.logs[personID] = kept
}

// ApplyRetention enforces the node's retention rule before the engine builds
// the LLM message array.
func (m *Manager) ApplyRetention(personID diagram.PersonID, rule diagram.RetentionRule, executionID execution.ID) {
	switch rule {
	case diagram.RetentionOnEveryTurn:
		m.ForgetForPerson(personID)
	case diagram.RetentionForgetOwn:
		m.ForgetOwnMessages(personID, executionID)
	case diagram.RetentionNoForget, "":
		// Keep everything.
	}
}

// Summarize reports the size of a person's log. Token counts fall back to a
// character-based estimate when messages carry no explicit count.
func (m *Manager) Summarize(personID diagram.PersonID) Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.logs[personID]
	summary := Summary{MessageCount: len(history)}
	for _, msg := range history {
		if msg.TokenCount > 0 {
			summary.ApproxTokenCount += msg.TokenCount
			continue
		}
		// Rough heuristic: four characters per token.
		summary.ApproxTokenCount += len(msg.Content) / 4
	}
	return summary
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-go/diagram"
)

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	m := NewManager()
	m.Append("p1", Message{Role: "user", Content: "hello"})

	history := m.GetHistory("p1")
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].ID)
	assert.False(t, history[0].Timestamp.IsZero())
}

func TestHistoryIsolationBetweenPersons(t *testing.T) {
	m := NewManager()
	m.Append("p1", Message{Role: "user", Content: "for p1"})
	m.Append("p2", Message{Role: "user", Content: "for p2"})

	assert.Len(t, m.GetHistory("p1"), 1)
	assert.Len(t, m.GetHistory("p2"), 1)
	assert.Equal(t, "for p1", m.GetHistory("p1")[0].Content)
}

func TestGetHistoryReturnsCopy(t *testing.T) {
	m := NewManager()
	m.Append("p1", Message{Role: "user", Content: "original"})

	history := m.GetHistory("p1")
	history[0].Content = "mutated"
	assert.Equal(t, "original", m.GetHistory("p1")[0].Content)
}

func TestForgetOwnMessages(t *testing.T) {
	m := NewManager()
	m.Append("p1", Message{Role: "user", Content: "question", ExecutionID: "e1"})
	m.Append("p1", Message{Role: "assistant", Content: "answer", Sender: "p1", ExecutionID: "e1"})
	m.Append("p1", Message{Role: "assistant", Content: "older answer", Sender: "p1", ExecutionID: "e0"})

	m.ForgetOwnMessages("p1", "e1")

	history := m.GetHistory("p1")
	require.Len(t, history, 2)
	assert.Equal(t, "question", history[0].Content)
	assert.Equal(t, "older answer", history[1].Content, "other executions keep their messages")
}

func TestApplyRetention(t *testing.T) {
	seed := func() *Manager {
		m := NewManager()
		m.Append("p1", Message{Role: "user", Content: "q", ExecutionID: "e1"})
		m.Append("p1", Message{Role: "assistant", Content: "a", Sender: "p1", ExecutionID: "e1"})
		return m
	}

	t.Run("no_forget keeps everything", func(t *testing.T) {
		m := seed()
		m.ApplyRetention("p1", diagram.RetentionNoForget, "e1")
		assert.Len(t, m.GetHistory("p1"), 2)
	})

	t.Run("empty rule keeps everything", func(t *testing.T) {
		m := seed()
		m.ApplyRetention("p1", "", "e1")
		assert.Len(t, m.GetHistory("p1"), 2)
	})

	t.Run("on_every_turn clears the log", func(t *testing.T) {
		m := seed()
		m.ApplyRetention("p1", diagram.RetentionOnEveryTurn, "e1")
		assert.Empty(t, m.GetHistory("p1"))
	})

	t.Run("forget_own drops own messages only", func(t *testing.T) {
		m := seed()
		m.ApplyRetention("p1", diagram.RetentionForgetOwn, "e1")
		history := m.GetHistory("p1")
		require.Len(t, history, 1)
		assert.Equal(t, "q", history[0].Content)
	})
}

func TestSummarize(t *testing.T) {
	m := NewManager()
	m.Append("p1", Message{Role: "user", Content: "12345678", TokenCount: 0})
	m.Append("p1", Message{Role: "assistant", Content: "x", TokenCount: 30})

	summary := m.Summarize("p1")
	assert.Equal(t, 2, summary.MessageCount)
	// 8 chars / 4 per token = 2, plus the explicit 30.
	assert.Equal(t, 32, summary.ApproxTokenCount)
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package engine

import (
	"sync"
	"time"

	"github.com/dipeo/dipeo-go/diagram"
)

// BreakerConfig tunes the per-node-type circuit breaker. The zero value
// disables it.
type BreakerConfig struct {
	// Threshold is the number of failures within Window that opens the
	// circuit.
	Threshold int
	// Window is the sliding failure-counting window.
	Window time.Duration
	// Cooldown is how long an open circuit rejects dispatches.
	Cooldown time.Duration
}

// Enabled reports whether the breaker is active.
func (c BreakerConfig) Enabled() bool { return c.Threshold > 0 }

// breaker tracks recent failures per node type and rejects dispatches of a
// type whose failure rate tripped the threshold.
type breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	failures map[diagram.NodeType][]time.Time
	openedAt map[diagram.NodeType]time.Time
	now      func() time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	return &breaker{
		cfg:      cfg,
		failures: make(map[diagram.NodeType][]time.Time),
		openedAt: make(map[diagram.NodeType]time.Time),
		now:      time.Now,
	}
}

// allow reports whether a node of the given type may be dispatched.
func (b *breaker) allow(t diagram.NodeType) bool {
	if !b.cfg.Enabled() {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	opened, ok := b.openedAt[t]
	if !ok {
		return true
	}
	if b.now().Sub(opened) >= b.cfg.Cooldown {
		delete(b.openedAt, t)
		delete(b.failures, t)
		return true
	}
	return false
}

// recordFailure notes a failed dispatch and opens the circuit when the
// threshold is crossed inside the window.
func (b *breaker) recordFailure(t diagram.NodeType) {
	if !b.cfg.Enabled() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	cutoff := now.Add(-b.cfg.Window)
	recent := b.failures[t][:0]
	for _, ts := range b.failures[t] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	b.failures[t] = recent
	if len(recent) >= b.cfg.Threshold {
		b.openedAt[t] = now
	}
}

// recordSuccess clears the failure history for the type.
func (b *breaker) recordSuccess(t diagram.NodeType) {
	if !b.cfg.Enabled() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, t)
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package observer implements the pub/sub fabric that persists execution
// state and fans lifecycle events out to subscribers.
package observer

import (
	"context"
	"sync"

	"github.com/dipeo/dipeo-go/events"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/log"
)

// Subscriber consumes lifecycle events. OnEvent is called in the scheduler's
// commit order for a given execution; implementations must not block
// indefinitely.
type Subscriber interface {
	OnEvent(ctx context.Context, evt *events.Event) error
}

// MessageRouter is the outward-facing port for pushing events to external
// channels (web UI, CLI monitors).
type MessageRouter interface {
	// BroadcastToExecution delivers an event to every consumer of the
	// execution's stream.
	BroadcastToExecution(executionID execution.ID, evt *events.Event) error
	// Publish sends an arbitrary message on a named channel.
	Publish(channel string, message any) error
}

// Bus delivers events to its subscribers in registration order. Within one
// execution, publication order equals the scheduler's commit order; the
// scheduler publishes serially, so the bus performs no reordering.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewBus creates an empty bus.
func NewBus(subscribers ...Subscriber) *Bus {
	return &Bus{subscribers: subscribers}
}

// Subscribe attaches a subscriber. Events published before Subscribe are not
// replayed.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Publish delivers the event to every subscriber. Persistence subscribers
// may return an error for terminal events that could not be durably written;
// the first such error is returned after all subscribers have been notified.
func (b *Bus) Publish(ctx context.Context, evt *events.Event) error {
	b.mu.RLock()
	subscribers := make([]Subscriber, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	var firstErr error
	for _, s := range subscribers {
		if err := s.OnEvent(ctx, evt); err != nil {
			log.Errorf("observer: subscriber failed on %s event for %s: %v", evt.Type, evt.ExecutionID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

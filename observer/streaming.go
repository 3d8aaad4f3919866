//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package observer

import (
	"context"
	"sync"

	"github.com/dipeo/dipeo-go/events"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/log"
)

const defaultQueueCapacity = 256

// StreamingObserver buffers events per execution for live consumers. Each
// execution gets a bounded queue; when a slow consumer lets the queue fill,
// the oldest events are dropped and a single queue_overflow marker carrying
// the drop count is inserted at the front of the backlog. The producing
// scheduler is never blocked.
type StreamingObserver struct {
	mu       sync.Mutex
	capacity int
	queues   map[execution.ID]*eventQueue
}

// StreamingOption configures a StreamingObserver.
type StreamingOption func(*StreamingObserver)

// WithQueueCapacity bounds each per-execution queue. Values below one fall
// back to the default.
func WithQueueCapacity(n int) StreamingOption {
	return func(o *StreamingObserver) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// NewStreamingObserver creates a streaming observer.
func NewStreamingObserver(opts ...StreamingOption) *StreamingObserver {
	o := &StreamingObserver{
		capacity: defaultQueueCapacity,
		queues:   make(map[execution.ID]*eventQueue),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnEvent implements Subscriber. It never blocks and never returns an error;
// backpressure is handled by dropping from the front of the queue.
func (o *StreamingObserver) OnEvent(_ context.Context, evt *events.Event) error {
	o.queue(evt.ExecutionID).push(evt)
	return nil
}

// BroadcastToExecution implements MessageRouter over the execution's queue.
func (o *StreamingObserver) BroadcastToExecution(executionID execution.ID, evt *events.Event) error {
	o.queue(executionID).push(evt)
	return nil
}

// Publish implements MessageRouter. Named channels map to execution ids.
func (o *StreamingObserver) Publish(channel string, message any) error {
	evt, ok := message.(*events.Event)
	if !ok {
		log.Debugf("observer: dropping non-event message on channel %s", channel)
		return nil
	}
	return o.BroadcastToExecution(execution.ID(channel), evt)
}

// Subscribe returns a channel of events for the execution plus a cancel
// function. The channel is closed after a terminal execution event has been
// delivered or when cancel is called. Multiple subscribers each receive the
// full stream from the point of subscription.
func (o *StreamingObserver) Subscribe(executionID execution.ID) (<-chan *events.Event, func()) {
	return o.queue(executionID).subscribe()
}

// Drain removes the execution's queue and closes all subscriber channels.
func (o *StreamingObserver) Drain(executionID execution.ID) {
	o.mu.Lock()
	q, ok := o.queues[executionID]
	delete(o.queues, executionID)
	o.mu.Unlock()
	if ok {
		q.close()
	}
}

func (o *StreamingObserver) queue(executionID execution.ID) *eventQueue {
	o.mu.Lock()
	defer o.mu.Unlock()
	q, ok := o.queues[executionID]
	if !ok {
		q = newEventQueue(executionID, o.capacity)
		o.queues[executionID] = q
	}
	return q
}

// eventQueue is a bounded backlog with fan-out to subscriber channels.
// Events that arrive before any subscriber exists are retained up to
// capacity so late subscribers still see the head of the stream.
type eventQueue struct {
	mu          sync.Mutex
	executionID execution.ID
	capacity    int
	backlog     []*events.Event
	dropped     int
	subscribers map[int]chan *events.Event
	nextSub     int
	closed      bool
}

func newEventQueue(executionID execution.ID, capacity int) *eventQueue {
	return &eventQueue{
		executionID: executionID,
		capacity:    capacity,
		subscribers: make(map[int]chan *events.Event),
	}
}

func (q *eventQueue) push(evt *events.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for _, ch := range q.subscribers {
		select {
		case ch <- evt:
		default:
			// Slow consumer: make room by dropping its oldest event, then
			// requeue an overflow marker ahead of the new event.
			q.dropped++
			select {
			case <-ch:
			default:
			}
			marker := events.NewQueueOverflow(q.executionID, q.dropped)
			select {
			case ch <- marker:
			default:
			}
			select {
			case ch <- evt:
			default:
				q.dropped++
			}
		}
	}
	if len(q.subscribers) == 0 {
		if len(q.backlog) >= q.capacity {
			n := len(q.backlog) - q.capacity + 1
			q.backlog = q.backlog[n:]
			q.dropped += n
			if len(q.backlog) == 0 || q.backlog[0].Type != events.TypeQueueOverflow {
				q.backlog = append([]*events.Event{events.NewQueueOverflow(q.executionID, q.dropped)}, q.backlog...)
			} else {
				q.backlog[0].Dropped = q.dropped
			}
		}
		q.backlog = append(q.backlog, evt)
	}
	if evt.Type == events.TypeExecutionComplete || evt.Type == events.TypeExecutionError {
		q.closeSubscribersLocked()
	}
}

func (q *eventQueue) subscribe() (<-chan *events.Event, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// The backlog can exceed capacity by the overflow marker, so size the
	// channel to whichever is larger; replay below must never block.
	size := q.capacity
	if len(q.backlog) > size {
		size = len(q.backlog)
	}
	ch := make(chan *events.Event, size)
	if q.closed {
		close(ch)
		return ch, func() {}
	}
	// Replay the retained backlog. The first subscriber takes ownership of
	// it; later subscribers join live.
	terminal := false
	for _, evt := range q.backlog {
		ch <- evt
		if evt.Type == events.TypeExecutionComplete || evt.Type == events.TypeExecutionError {
			terminal = true
		}
	}
	q.backlog = nil
	if terminal {
		close(ch)
		return ch, func() {}
	}
	id := q.nextSub
	q.nextSub++
	q.subscribers[id] = ch
	cancel := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if c, ok := q.subscribers[id]; ok {
			delete(q.subscribers, id)
			close(c)
		}
	}
	return ch, cancel
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.backlog = nil
	q.closeSubscribersLocked()
}

func (q *eventQueue) closeSubscribersLocked() {
	for id, ch := range q.subscribers {
		delete(q.subscribers, id)
		close(ch)
	}
}

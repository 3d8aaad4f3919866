//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package observer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-go/events"
	"github.com/dipeo/dipeo-go/execution"
)

func collect(ch <-chan *events.Event) []*events.Event {
	var out []*events.Event
	for evt := range ch {
		out = append(out, evt)
	}
	return out
}

func TestSubscribeReceivesCommitOrder(t *testing.T) {
	o := NewStreamingObserver()
	ctx := context.Background()

	ch, cancel := o.Subscribe("e1")
	defer cancel()

	require.NoError(t, o.OnEvent(ctx, events.NewExecutionStart("e1", "diag")))
	require.NoError(t, o.OnEvent(ctx, events.NewNodeUpdate("e1", "a", nil)))
	require.NoError(t, o.OnEvent(ctx, events.NewExecutionComplete("e1", execution.StatusCompleted)))

	got := collect(ch)
	require.Len(t, got, 3)
	assert.Equal(t, events.TypeExecutionStart, got[0].Type)
	assert.Equal(t, events.TypeNodeUpdate, got[1].Type)
	assert.Equal(t, events.TypeExecutionComplete, got[2].Type)
}

func TestLateSubscriberSeesBacklog(t *testing.T) {
	o := NewStreamingObserver()
	ctx := context.Background()

	require.NoError(t, o.OnEvent(ctx, events.NewExecutionStart("e1", "diag")))
	require.NoError(t, o.OnEvent(ctx, events.NewExecutionComplete("e1", execution.StatusCompleted)))

	ch, cancel := o.Subscribe("e1")
	defer cancel()

	got := collect(ch)
	require.Len(t, got, 2)
	assert.Equal(t, events.TypeExecutionStart, got[0].Type)
}

func TestBacklogOverflowInsertsMarker(t *testing.T) {
	o := NewStreamingObserver(WithQueueCapacity(4))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, o.OnEvent(ctx, events.NewNodeUpdate("e1", "a", nil)))
	}
	require.NoError(t, o.OnEvent(ctx, events.NewExecutionComplete("e1", execution.StatusCompleted)))

	ch, cancel := o.Subscribe("e1")
	defer cancel()
	got := collect(ch)

	require.NotEmpty(t, got)
	assert.Equal(t, events.TypeQueueOverflow, got[0].Type)
	assert.Greater(t, got[0].Dropped, 0)
	assert.Equal(t, events.TypeExecutionComplete, got[len(got)-1].Type)
}

func TestTerminalEventClosesSubscribers(t *testing.T) {
	o := NewStreamingObserver()
	ctx := context.Background()

	ch, cancel := o.Subscribe("e1")
	defer cancel()

	require.NoError(t, o.OnEvent(ctx, events.NewExecutionError("e1", errors.New("boom"))))

	got := collect(ch) // returns only once the channel is closed
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeExecutionError, got[0].Type)
}

func TestMultipleSubscribersEachGetTheStream(t *testing.T) {
	o := NewStreamingObserver()
	ctx := context.Background()

	ch1, cancel1 := o.Subscribe("e1")
	defer cancel1()
	ch2, cancel2 := o.Subscribe("e1")
	defer cancel2()

	require.NoError(t, o.OnEvent(ctx, events.NewExecutionStart("e1", "diag")))
	require.NoError(t, o.OnEvent(ctx, events.NewExecutionComplete("e1", execution.StatusCompleted)))

	assert.Len(t, collect(ch1), 2)
	assert.Len(t, collect(ch2), 2)
}

func TestExecutionIsolation(t *testing.T) {
	o := NewStreamingObserver()
	ctx := context.Background()

	ch, cancel := o.Subscribe("e1")
	defer cancel()

	require.NoError(t, o.OnEvent(ctx, events.NewExecutionStart("e2", "other")))
	require.NoError(t, o.OnEvent(ctx, events.NewExecutionComplete("e1", execution.StatusCompleted)))

	got := collect(ch)
	require.Len(t, got, 1)
	assert.Equal(t, execution.ID("e1"), got[0].ExecutionID)
}

func TestDrainClosesChannels(t *testing.T) {
	o := NewStreamingObserver()
	ch, cancel := o.Subscribe("e1")
	defer cancel()

	o.Drain("e1")
	_, open := <-ch
	assert.False(t, open)
}

func TestPublishRoutesEventsByChannel(t *testing.T) {
	o := NewStreamingObserver()

	ch, cancel := o.Subscribe("e1")
	defer cancel()

	evt := events.NewInteractivePrompt("e1", "ask", "continue?", nil)
	require.NoError(t, o.Publish("e1", evt))
	require.NoError(t, o.Publish("e1", "not an event")) // silently dropped
	require.NoError(t, o.BroadcastToExecution("e1", events.NewExecutionComplete("e1", execution.StatusCompleted)))

	got := collect(ch)
	require.Len(t, got, 2)
	assert.Equal(t, events.TypeInteractivePrompt, got[0].Type)
	assert.Equal(t, "continue?", got[0].Prompt)
}

type recordingSubscriber struct {
	seen []events.Type
	err  error
}

func (r *recordingSubscriber) OnEvent(_ context.Context, evt *events.Event) error {
	r.seen = append(r.seen, evt.Type)
	return r.err
}

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	first := &recordingSubscriber{}
	second := &recordingSubscriber{err: fmt.Errorf("persist failed")}
	third := &recordingSubscriber{}
	bus := NewBus(first, second, third)

	err := bus.Publish(context.Background(), events.NewExecutionStart("e1", "diag"))
	require.Error(t, err, "first subscriber error is surfaced")

	// All subscribers are still notified despite the failure.
	assert.Len(t, first.seen, 1)
	assert.Len(t, second.seen, 1)
	assert.Len(t, third.seen, 1)
}

func TestBusSubscribeAfterCreation(t *testing.T) {
	bus := NewBus()
	sub := &recordingSubscriber{}
	bus.Subscribe(sub)

	require.NoError(t, bus.Publish(context.Background(), events.NewNodeUpdate("e1", "a", nil)))
	require.Len(t, sub.seen, 1)
	assert.Equal(t, events.TypeNodeUpdate, sub.seen[0])
}

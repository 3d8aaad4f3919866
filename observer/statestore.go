//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package observer

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-go/events"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/state"
)

// StateStoreObserver writes every lifecycle event through the StateStore
// port. Creation is idempotent; terminal events require a durable write
// before they are acknowledged.
type StateStoreObserver struct {
	store state.Store
	// snapshots supplies full state snapshots for terminal persistence.
	// Optional; when nil only incremental updates are written.
	snapshots SnapshotSource
}

// SnapshotSource provides the authoritative snapshot for an execution.
// The execution manager implements it.
type SnapshotSource interface {
	Get(executionID execution.ID) (*execution.State, bool)
}

// NewStateStoreObserver creates an observer over the given store.
func NewStateStoreObserver(store state.Store, snapshots SnapshotSource) *StateStoreObserver {
	return &StateStoreObserver{store: store, snapshots: snapshots}
}

// OnEvent implements Subscriber.
func (o *StateStoreObserver) OnEvent(ctx context.Context, evt *events.Event) error {
	switch evt.Type {
	case events.TypeExecutionStart:
		if err := o.store.CreateExecution(ctx, evt.ExecutionID, evt.DiagramID); err != nil {
			return fmt.Errorf("create execution: %w", err)
		}
		return o.store.UpdateStatus(ctx, evt.ExecutionID, execution.StatusRunning, "")

	case events.TypeNodeUpdate:
		if err := o.store.UpdateNodeStatus(ctx, evt.ExecutionID, evt.NodeID, evt.State, evt.Error); err != nil {
			return fmt.Errorf("update node status: %w", err)
		}
		if evt.Output != nil {
			return o.store.UpdateNodeOutput(ctx, evt.ExecutionID, evt.NodeID, evt.Output)
		}
		return nil

	case events.TypeNodeError:
		return o.store.UpdateNodeStatus(ctx, evt.ExecutionID, evt.NodeID, execution.NodeFailed, evt.Error)

	case events.TypeExecutionComplete:
		if err := o.persistFinal(ctx, evt.ExecutionID); err != nil {
			return err
		}
		return o.store.UpdateStatus(ctx, evt.ExecutionID, evt.Status, "")

	case events.TypeExecutionError:
		if err := o.persistFinal(ctx, evt.ExecutionID); err != nil {
			return err
		}
		return o.store.UpdateStatus(ctx, evt.ExecutionID, execution.StatusFailed, evt.Error)

	default:
		// Interactive and overflow events carry no persistent state.
		return nil
	}
}

func (o *StateStoreObserver) persistFinal(ctx context.Context, executionID execution.ID) error {
	if o.snapshots == nil {
		return nil
	}
	st, ok := o.snapshots.Get(executionID)
	if !ok {
		return nil
	}
	if err := o.store.SaveSnapshot(ctx, st.Snapshot()); err != nil {
		return fmt.Errorf("persist final snapshot: %w", err)
	}
	return nil
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package engine executes compiled diagrams: a cooperative scheduler walks
// the ready set, dispatches node handlers on a worker pool, and publishes
// lifecycle events through the observer bus in commit order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/dipeo/dipeo-go/conversation"
	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/events"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/log"
	"github.com/dipeo/dipeo-go/observer"
	"github.com/dipeo/dipeo-go/service"
	"github.com/dipeo/dipeo-go/telemetry"
)

// ErrorPolicy selects how node failures propagate.
type ErrorPolicy string

// Error policies.
const (
	// FailFast aborts remaining work on the first node failure.
	FailFast ErrorPolicy = "fail_fast"
	// ContinueOnError marks the failed node's exclusive descendants skipped
	// and keeps independent branches running.
	ContinueOnError ErrorPolicy = "continue_on_error"
)

const (
	defaultMaxRetries  = 3
	defaultBackoffBase = 200 * time.Millisecond
	defaultBackoffMax  = 10 * time.Second
	defaultNodeTimeout = 2 * time.Minute
	defaultPoolSize    = 16
)

// Engine executes compiled diagrams. One engine serves many concurrent
// executions; per-execution state is created inside Run.
type Engine struct {
	handlers     *HandlerRegistry
	services     *service.Registry
	manager      *execution.Manager
	bus          *observer.Bus
	conversation *conversation.Manager
	interactive  InteractiveHandler

	policy      ErrorPolicy
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	nodeTimeout time.Duration
	poolSize    int
	breakerCfg  BreakerConfig
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithServices sets the typed service registry handlers resolve from.
func WithServices(r *service.Registry) Option {
	return func(e *Engine) { e.services = r }
}

// WithBus sets the observer bus. Defaults to a bus with no subscribers.
func WithBus(b *observer.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithManager sets the execution state manager.
func WithManager(m *execution.Manager) Option {
	return func(e *Engine) { e.manager = m }
}

// WithConversation sets the conversation memory shared by LLM handlers.
func WithConversation(c *conversation.Manager) Option {
	return func(e *Engine) { e.conversation = c }
}

// WithInteractive sets the handler answering user_response prompts.
func WithInteractive(h InteractiveHandler) Option {
	return func(e *Engine) { e.interactive = h }
}

// WithErrorPolicy sets the failure propagation policy.
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithMaxRetries bounds transient-error retries per node.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithBackoff sets the retry backoff base and cap.
func WithBackoff(base, max time.Duration) Option {
	return func(e *Engine) { e.backoffBase, e.backoffMax = base, max }
}

// WithNodeTimeout bounds each handler invocation.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.nodeTimeout = d }
}

// WithPoolSize bounds concurrent handler tasks per engine.
func WithPoolSize(n int) Option {
	return func(e *Engine) { e.poolSize = n }
}

// WithBreaker enables the per-node-type circuit breaker.
func WithBreaker(cfg BreakerConfig) Option {
	return func(e *Engine) { e.breakerCfg = cfg }
}

// New creates an engine over the given handlers.
func New(handlers *HandlerRegistry, opts ...Option) *Engine {
	e := &Engine{
		handlers:    handlers,
		policy:      FailFast,
		maxRetries:  defaultMaxRetries,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		nodeTimeout: defaultNodeTimeout,
		poolSize:    defaultPoolSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.services == nil {
		e.services = service.NewRegistry()
	}
	if e.manager == nil {
		e.manager = execution.NewManager()
	}
	if e.bus == nil {
		e.bus = observer.NewBus()
	}
	if e.conversation == nil {
		e.conversation = conversation.NewManager()
	}
	if e.sleep == nil {
		e.sleep = sleepCtx
	}
	return e
}

// Manager exposes the execution state manager, for observers and servers.
func (e *Engine) Manager() *execution.Manager { return e.manager }

// taskResult is what a handler task reports back to the scheduler loop.
type taskResult struct {
	nodeID diagram.NodeID
	node   diagram.ExecutableNode
	output *execution.NodeOutput
	err    error
	// retry marks an intermediate retry notification rather than a final
	// outcome.
	retry   bool
	attempt int
}

// Run executes the diagram to completion and returns the final snapshot.
// The returned error is non-nil when the execution failed or was cancelled.
func (e *Engine) Run(ctx context.Context, dg *diagram.ExecutableDiagram, executionID execution.ID) (*execution.Snapshot, error) {
	if errs := dg.Validate(); len(errs) > 0 {
		return nil, Internal(fmt.Errorf("diagram failed pre-flight validation: %w", errors.Join(errs...)))
	}
	diagramID := ""
	if dg.Metadata != nil {
		diagramID = dg.Metadata.Name
	}

	st := e.manager.Create(executionID, diagramID)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runCtx, span := telemetry.StartExecutionSpan(runCtx, executionID, diagramID)

	pool, err := ants.NewPool(e.poolSize)
	if err != nil {
		telemetry.EndSpan(span, err)
		return nil, Internal(fmt.Errorf("create worker pool: %w", err))
	}
	defer pool.Release()

	e.publish(ctx, events.NewExecutionStart(executionID, diagramID))
	st.UpdateStatus(execution.StatusRunning, "")

	r := newRun(dg, st)
	results := make(chan taskResult, len(dg.NodeIDs())*4)
	brk := newBreaker(e.breakerCfg)

	var execErr error
	failed := false

	for {
		if runCtx.Err() != nil && len(r.inflight) == 0 {
			break
		}

		for _, id := range r.sweepSkips() {
			e.publishNodeUpdate(ctx, st, id)
		}

		var ready []diagram.ExecutableNode
		var capSkipped []diagram.NodeID
		if runCtx.Err() == nil && !(failed && e.policy == FailFast) {
			ready, capSkipped = r.readyNodes()
		}
		for _, id := range capSkipped {
			e.publishNodeUpdate(ctx, st, id)
		}
		if len(capSkipped) > 0 {
			// Cap skips may unblock downstream joins.
			continue
		}

		if len(ready) == 0 && len(r.inflight) == 0 {
			break
		}

		for _, node := range ready {
			e.dispatch(runCtx, ctx, r, st, brk, pool, node, results)
		}

		if len(r.inflight) == 0 {
			continue
		}
		res := <-results
		if res.retry {
			st.IncrementRetry(res.nodeID)
			e.publishNodeUpdate(ctx, st, res.nodeID)
			continue
		}
		delete(r.inflight, res.nodeID)
		if res.err != nil {
			brk.recordFailure(res.node.Type())
			st.MarkNodeFailed(res.nodeID, res.err)
			e.publish(ctx, events.NewNodeError(executionID, res.nodeID, res.err))
			e.publishNodeUpdate(ctx, st, res.nodeID)
			failed = true
			if execErr == nil {
				execErr = fmt.Errorf("node %s: %w", res.nodeID, res.err)
			}
			if e.policy == FailFast {
				cancel()
			}
			continue
		}
		brk.recordSuccess(res.node.Type())
		e.commit(ctx, r, st, res)
	}

	snapshot := e.finish(ctx, st, failed, execErr, runCtx.Err() != nil && ctx.Err() != nil)
	telemetry.RecordTokens(span, snapshot.TokenTotals.Input, snapshot.TokenTotals.Output, snapshot.TokenTotals.Cached)
	telemetry.EndSpan(span, execErr)
	if snapshot.Status == execution.StatusFailed {
		return snapshot, execErr
	}
	if snapshot.Status == execution.StatusCancelled {
		return snapshot, context.Canceled
	}
	return snapshot, nil
}

// dispatch prepares a ready node and hands it to the worker pool.
func (e *Engine) dispatch(runCtx, pubCtx context.Context, r *run, st *execution.State, brk *breaker, pool *ants.Pool, node diagram.ExecutableNode, results chan<- taskResult) {
	id := node.ID()
	if !brk.allow(node.Type()) {
		st.MarkNodeSkipped(id, execution.SkipCircuitOpen)
		e.publishNodeUpdate(pubCtx, st, id)
		return
	}
	handler, err := e.handlers.Resolve(node.Type())
	if err != nil {
		r.inflight[id] = true
		results <- taskResult{nodeID: id, node: node, err: err}
		return
	}

	nc := &NodeContext{
		ExecutionID:  st.ExecutionID(),
		NodeID:       id,
		Iteration:    st.IterationCount(id),
		Inputs:       r.resolveInputs(node),
		Services:     e.services,
		Conversation: e.conversation,
		Interactive:  e.interactive,
		Diagram:      r.dg,
		State:        st,
	}

	st.SetCurrentNode(id)
	st.MarkNodeRunning(id)
	e.publishNodeUpdate(pubCtx, st, id)
	r.inflight[id] = true

	task := func() {
		results <- e.invoke(runCtx, handler, node, nc, results)
	}
	if err := pool.Submit(task); err != nil {
		// Pool saturated or released; run inline rather than losing the node.
		go task()
	}
}

// invoke runs the handler with the per-node timeout and the transient retry
// policy. Each retry emits an intermediate notification on the results
// channel so observers see retry_count grow before the final outcome.
func (e *Engine) invoke(runCtx context.Context, handler Handler, node diagram.ExecutableNode, nc *NodeContext, results chan<- taskResult) taskResult {
	id := node.ID()
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(runCtx, e.nodeTimeout)
		callCtx, span := telemetry.StartNodeSpan(callCtx, nc.ExecutionID, id, node.Type())
		output, err := handler.Execute(callCtx, node, nc)
		telemetry.EndSpan(span, err)
		cancel()

		if err == nil {
			return taskResult{nodeID: id, node: node, output: output}
		}
		if !Retryable(err) || attempt >= e.maxRetries || runCtx.Err() != nil {
			return taskResult{nodeID: id, node: node, err: err}
		}
		log.Warnf("node %s attempt %d failed, retrying: %v", id, attempt+1, err)
		results <- taskResult{nodeID: id, node: node, retry: true, attempt: attempt + 1}
		delay := backoffDelay(string(nc.ExecutionID)+"/"+string(id), attempt+1, e.backoffBase, e.backoffMax)
		if e.sleep(runCtx, delay) != nil {
			return taskResult{nodeID: id, node: node, err: err}
		}
	}
}

// commit applies a successful result: state transition, event publication,
// condition gating, and loop re-arming.
func (e *Engine) commit(ctx context.Context, r *run, st *execution.State, res taskResult) {
	id := res.nodeID
	if res.output != nil && res.output.SkipRequested() {
		st.MarkNodeSkipped(id, execution.SkipByHandler)
		e.publishNodeUpdate(ctx, st, id)
		return
	}

	st.MarkNodeComplete(id, res.output)
	if res.output != nil && res.output.TokenUsage != nil {
		st.UpdateTokenUsage(*res.output.TokenUsage)
	}
	e.publishNodeUpdate(ctx, st, id)

	if result, ok := res.output.ConditionResult(); ok {
		r.applyConditionResult(id, result)
	}
	for _, edge := range r.dg.GetOutgoingEdges(id) {
		if edge.LoopBack && !r.gated[edge.ID] && !r.loopExhausted(edge) {
			for _, rearmed := range r.rearmLoop(edge) {
				log.Debugf("execution %s: re-armed %s for next iteration", st.ExecutionID(), rearmed)
			}
		}
	}
}

// finish settles the terminal status and publishes the closing event.
func (e *Engine) finish(ctx context.Context, st *execution.State, failed bool, execErr error, cancelled bool) *execution.Snapshot {
	executionID := st.ExecutionID()
	switch {
	case cancelled:
		st.UpdateStatus(execution.StatusCancelled, "execution cancelled")
		e.publish(ctx, events.NewExecutionComplete(executionID, execution.StatusCancelled))
	case failed:
		msg := "execution failed"
		if execErr != nil {
			msg = execErr.Error()
		}
		st.UpdateStatus(execution.StatusFailed, msg)
		e.publish(ctx, events.NewExecutionError(executionID, execErr))
	default:
		st.UpdateStatus(execution.StatusCompleted, "")
		e.publish(ctx, events.NewExecutionComplete(executionID, execution.StatusCompleted))
	}
	return st.Snapshot()
}

func (e *Engine) publish(ctx context.Context, evt *events.Event) {
	if err := e.bus.Publish(ctx, evt); err != nil {
		log.Errorf("publish %s event for %s: %v", evt.Type, evt.ExecutionID, err)
	}
}

func (e *Engine) publishNodeUpdate(ctx context.Context, st *execution.State, id diagram.NodeID) {
	snap := st.Snapshot()
	ns, ok := snap.NodeStates[id]
	if !ok {
		return
	}
	e.publish(ctx, events.NewNodeUpdate(st.ExecutionID(), id, ns))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package telemetry wraps OpenTelemetry tracing for the execution engine.
// Spans are recorded against the global tracer provider; deployments that
// do not install one get no-op spans.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/execution"
)

const instrumentationName = "github.com/dipeo/dipeo-go"

// Tracer returns the module's tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartExecutionSpan opens the root span for a diagram run.
func StartExecutionSpan(ctx context.Context, executionID execution.ID, diagramID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "dipeo.execution",
		trace.WithAttributes(
			attribute.String("dipeo.execution.id", string(executionID)),
			attribute.String("dipeo.diagram.id", diagramID),
		))
}

// StartNodeSpan opens a span for one node invocation.
func StartNodeSpan(ctx context.Context, executionID execution.ID, nodeID diagram.NodeID, nodeType diagram.NodeType) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "dipeo.node."+string(nodeType),
		trace.WithAttributes(
			attribute.String("dipeo.execution.id", string(executionID)),
			attribute.String("dipeo.node.id", string(nodeID)),
			attribute.String("dipeo.node.type", string(nodeType)),
		))
}

// EndSpan records err on the span, sets its status, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RecordTokens annotates a span with token usage.
func RecordTokens(span trace.Span, input, output, cached int) {
	span.SetAttributes(
		attribute.Int("dipeo.tokens.input", input),
		attribute.Int("dipeo.tokens.output", output),
		attribute.Int("dipeo.tokens.cached", cached),
	)
}

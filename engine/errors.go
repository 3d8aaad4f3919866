//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies node failures for retry and propagation decisions.
type ErrorKind string

// Error kinds.
const (
	// KindValidation marks malformed input surfaced at dispatch. Never
	// retried.
	KindValidation ErrorKind = "validation"
	// KindConfiguration marks a missing service, key, or person reference.
	// Never retried.
	KindConfiguration ErrorKind = "configuration"
	// KindTransient marks timeouts, rate limits, and 5xx responses. Retried
	// with backoff.
	KindTransient ErrorKind = "transient"
	// KindHandler marks an error raised by the node handler itself. Not
	// retried unless the handler wraps it as transient.
	KindHandler ErrorKind = "handler"
	// KindInternal marks a scheduler or compiler invariant violation. Fatal
	// for the execution.
	KindInternal ErrorKind = "internal"
)

// NodeError is a classified node failure.
type NodeError struct {
	Kind ErrorKind
	Err  error
}

// Error implements error.
func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the wrapped cause.
func (e *NodeError) Unwrap() error { return e.Err }

// Validation wraps err as a validation error.
func Validation(err error) error { return &NodeError{Kind: KindValidation, Err: err} }

// Configuration wraps err as a configuration error.
func Configuration(err error) error { return &NodeError{Kind: KindConfiguration, Err: err} }

// Transient wraps err as retryable.
func Transient(err error) error { return &NodeError{Kind: KindTransient, Err: err} }

// Internal wraps err as an engine invariant violation.
func Internal(err error) error { return &NodeError{Kind: KindInternal, Err: err} }

// KindOf classifies an arbitrary handler error. Unclassified errors are
// handler errors; network timeouts and deadline expiries count as transient.
func KindOf(err error) ErrorKind {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindHandler
}

// Retryable reports whether the error should go through the retry policy.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package service provides a typed registry for the runtime dependencies
// node handlers resolve at execution time. Keys carry the service type, so
// lookups are compile-time checked; a legacy string view remains for
// callers that only have a name.
package service

import (
	"fmt"
	"sort"
	"sync"
)

// Key identifies a service binding. The type parameter fixes what Register
// accepts and what Require returns for this key.
type Key[T any] struct {
	name string
}

// NewKey creates a typed key with the given registry name.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the key's registry name.
func (k Key[T]) Name() string { return k.name }

// Registry holds service bindings by name. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]any)}
}

// Register binds a service under the key. Rebinding an existing key replaces
// the previous service. Registration is a key method so the service type is
// fixed by the key; any implementation assignable to T is accepted.
func (k Key[T]) Register(r *Registry, svc T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[k.name] = svc
}

// Resolve returns the service bound to the key, or false when absent.
func Resolve[T any](r *Registry, key Key[T]) (T, bool) {
	r.mu.RLock()
	raw, ok := r.services[key.name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	svc, ok := raw.(T)
	if !ok {
		var zero T
		return zero, false
	}
	return svc, true
}

// Require returns the service bound to the key or an error naming the
// missing dependency.
func Require[T any](r *Registry, key Key[T]) (T, error) {
	svc, ok := Resolve(r, key)
	if !ok {
		var zero T
		return zero, fmt.Errorf("service %q not registered", key.name)
	}
	return svc, nil
}

// Has reports whether a service is bound under the name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[name]
	return ok
}

// Get returns the untyped service bound under the name. Prefer Resolve.
func (r *Registry) Get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Names returns the bound service names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package rules

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/log"
)

// Environment controls registry mutation policy. Production forbids
// overriding existing rules and temporary overrides entirely.
type Environment string

// Environments.
const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
)

// EnvironmentFromOS reads DIPEO_ENV, defaulting to development.
func EnvironmentFromOS() Environment {
	switch os.Getenv("DIPEO_ENV") {
	case string(EnvProduction):
		return EnvProduction
	case string(EnvTest):
		return EnvTest
	default:
		return EnvDevelopment
	}
}

// Registry errors.
var (
	ErrRuleExists        = errors.New("rules: rule already registered")
	ErrRuleImmutable     = errors.New("rules: rule is immutable")
	ErrRegistryFrozen    = errors.New("rules: registry is frozen")
	ErrOverrideForbidden = errors.New("rules: override not permitted in this environment")
	ErrRuleNotFound      = errors.New("rules: rule not found")
	ErrWrongCategory     = errors.New("rules: rule value does not match key category")
)

type entry struct {
	key        Key
	connection ConnectionRule
	transform  TransformRule
}

// Registry stores connection and transform rules with priority ordering,
// immutability, freeze semantics, and a bounded audit trail. It is
// read-mostly; every operation takes the registry lock.
type Registry struct {
	mu          sync.Mutex
	connections map[string]*entry
	transforms  map[string]*entry
	frozen      bool
	env         Environment
	// allowOverride permits Register with override=true to replace existing
	// rules. Defaults to false in production.
	allowOverride bool
	audit         *auditTrail
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEnvironment pins the registry environment.
func WithEnvironment(env Environment) RegistryOption {
	return func(r *Registry) {
		r.env = env
		r.allowOverride = env != EnvProduction
	}
}

// WithAuditCapacity bounds the audit trail to max records.
func WithAuditCapacity(max int) RegistryOption {
	return func(r *Registry) {
		r.audit = newAuditTrail(max)
	}
}

// NewRegistry creates an empty registry. The environment defaults to the
// DIPEO_ENV value.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		connections: make(map[string]*entry),
		transforms:  make(map[string]*entry),
		audit:       newAuditTrail(defaultAuditCapacity),
	}
	env := EnvironmentFromOS()
	r.env = env
	r.allowOverride = env != EnvProduction
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRegistryWithBuiltins creates a registry pre-populated with the built-in
// rule set.
func NewRegistryWithBuiltins(opts ...RegistryOption) (*Registry, error) {
	r := NewRegistry(opts...)
	if err := RegisterBuiltins(r); err != nil {
		return nil, err
	}
	return r, nil
}

// RegisterOption configures a single registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	override bool
	reason   string
	force    bool
}

// WithOverride marks the registration as an intentional replacement of an
// existing rule, with a reason recorded in the audit trail.
func WithOverride(reason string) RegisterOption {
	return func(o *registerOptions) {
		o.override = true
		o.reason = reason
	}
}

// WithForce bypasses immutability checks. Reserved for recovery tooling.
func WithForce() RegisterOption {
	return func(o *registerOptions) {
		o.force = true
	}
}

// Register binds a rule under the given key. The rule value must implement
// ConnectionRule or TransformRule matching the key's category.
func (r *Registry) Register(key Key, rule any, opts ...RegisterOption) error {
	var options registerOptions
	for _, opt := range opts {
		opt(&options)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := buildEntry(key, rule)
	if err != nil {
		r.audit.record(key, ActionRegisterFailed, r.env, false, err.Error(), options.reason)
		return err
	}

	bucket := r.bucket(key.Category)
	existing, exists := bucket[key.Name]

	action := ActionRegister
	if exists {
		action = ActionOverride
	}

	// Every rejected registration is audited as register_failed, whether or
	// not the name collided with an existing rule.
	fail := func(err error) error {
		r.audit.record(key, ActionRegisterFailed, r.env, false, err.Error(), options.reason)
		return err
	}

	if exists {
		// Freeze blocks every rebind of an existing name, regardless of the
		// override policy. New names stay registrable while frozen.
		if r.frozen {
			return fail(fmt.Errorf("%w: cannot replace rule %q while frozen", ErrRegistryFrozen, key.Name))
		}
		if existing.key.Immutable && !options.force {
			return fail(fmt.Errorf("%w: %q", ErrRuleImmutable, key.Name))
		}
		if !options.override {
			return fail(fmt.Errorf("%w: %q (pass an override option to replace)", ErrRuleExists, key.Name))
		}
		if !r.allowOverride {
			return fail(fmt.Errorf("%w: %q", ErrOverrideForbidden, key.Name))
		}
	}

	bucket[key.Name] = e
	r.audit.record(key, action, r.env, true, "", options.reason)
	return nil
}

// Unregister removes a rule. Immutable rules require force.
func (r *Registry) Unregister(key Key, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.bucket(key.Category)
	existing, exists := bucket[key.Name]
	if !exists {
		err := fmt.Errorf("%w: %q", ErrRuleNotFound, key.Name)
		r.audit.record(key, ActionUnregisterFailed, r.env, false, err.Error(), "")
		return err
	}
	if r.frozen {
		err := fmt.Errorf("%w: cannot unregister %q while frozen", ErrRegistryFrozen, key.Name)
		r.audit.record(key, ActionUnregisterFailed, r.env, false, err.Error(), "")
		return err
	}
	if existing.key.Immutable && !force {
		err := fmt.Errorf("%w: %q", ErrRuleImmutable, key.Name)
		r.audit.record(key, ActionUnregisterFailed, r.env, false, err.Error(), "")
		return err
	}

	delete(bucket, key.Name)
	r.audit.record(key, ActionUnregister, r.env, true, "", "")
	return nil
}

// Freeze stops rebinding of existing rule names. Freezing an already-frozen
// registry is a no-op.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.frozen = true
	r.audit.record(Key{Name: "*"}, ActionFreeze, r.env, true, "", "")
}

// Unfreeze re-enables rebinding. In production it requires force.
func (r *Registry) Unfreeze(force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.frozen {
		return nil
	}
	if r.env == EnvProduction && !force {
		err := fmt.Errorf("%w: unfreeze requires force in production", ErrRegistryFrozen)
		r.audit.record(Key{Name: "*"}, ActionUnfreezeFailed, r.env, false, err.Error(), "")
		return err
	}
	r.frozen = false
	r.audit.record(Key{Name: "*"}, ActionUnfreeze, r.env, true, "", "")
	return nil
}

// Frozen reports whether the registry is frozen.
func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// Environment returns the registry's environment.
func (r *Registry) Environment() Environment {
	return r.env
}

// Override pairs a rule key with the value that temporarily replaces it.
type Override struct {
	Key  Key
	Rule any
}

// TemporaryOverride replaces the given rules for the duration of a test,
// returning a restore function that reinstates the previous bindings,
// including re-deleting rules that did not exist before. It is rejected in
// production.
func (r *Registry) TemporaryOverride(overrides []Override) (restore func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.env == EnvProduction {
		err := fmt.Errorf("%w: temporary overrides are test-only", ErrOverrideForbidden)
		r.audit.record(Key{Name: "*"}, ActionTempOverrideFailed, r.env, false, err.Error(), "")
		return nil, err
	}

	type saved struct {
		key     Key
		entry   *entry
		existed bool
	}
	var savedEntries []saved

	for _, o := range overrides {
		e, err := buildEntry(o.Key, o.Rule)
		if err != nil {
			r.audit.record(o.Key, ActionTempOverrideFailed, r.env, false, err.Error(), "")
			return nil, err
		}
		bucket := r.bucket(o.Key.Category)
		prev, existed := bucket[o.Key.Name]
		savedEntries = append(savedEntries, saved{key: o.Key, entry: prev, existed: existed})
		bucket[o.Key.Name] = e
		r.audit.record(o.Key, ActionTempOverride, r.env, true, "", "")
	}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, s := range savedEntries {
			bucket := r.bucket(s.key.Category)
			if s.existed {
				bucket[s.key.Name] = s.entry
			} else {
				delete(bucket, s.key.Name)
			}
			r.audit.record(s.key, ActionTempRestore, r.env, true, "", "")
		}
	}, nil
}

// CanConnect evaluates connection rules in descending priority; the first
// denial stops evaluation (fail-closed).
func (r *Registry) CanConnect(source, target diagram.NodeType) bool {
	ok, _ := r.CheckConnection(source, target)
	return ok
}

// CheckConnection evaluates connection legality and returns the denial
// reason when the pair is rejected.
func (r *Registry) CheckConnection(source, target diagram.NodeType) (bool, string) {
	r.mu.Lock()
	entries := sortedEntries(r.connections, true)
	r.mu.Unlock()

	for _, e := range entries {
		if !e.connection.CanConnect(source, target) {
			reason := e.connection.Reason(source, target)
			if reason == "" {
				reason = fmt.Sprintf("connection %s -> %s denied by rule %q", source, target, e.key.Name)
			}
			return false, reason
		}
	}
	return true, ""
}

// TransformsFor merges every applicable transform rule's contribution in
// ascending priority, so higher-priority fields override lower ones.
func (r *Registry) TransformsFor(source, target diagram.ExecutableNode) map[string]any {
	r.mu.Lock()
	entries := sortedEntries(r.transforms, false)
	r.mu.Unlock()

	merged := make(map[string]any)
	for _, e := range entries {
		if !e.transform.AppliesTo(source, target) {
			continue
		}
		for k, v := range e.transform.Transform(source, target) {
			merged[k] = v
		}
	}
	return merged
}

// Keys returns the registered keys for a category, sorted by name.
func (r *Registry) Keys(category Category) []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket := r.bucket(category)
	keys := make([]Key, 0, len(bucket))
	for _, e := range bucket {
		keys = append(keys, e.key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys
}

// AuditRecords returns a copy of the audit trail, oldest first.
func (r *Registry) AuditRecords() []AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audit.records()
}

func (r *Registry) bucket(category Category) map[string]*entry {
	if category == CategoryTransform {
		return r.transforms
	}
	return r.connections
}

func buildEntry(key Key, rule any) (*entry, error) {
	e := &entry{key: key}
	switch key.Category {
	case CategoryConnection:
		cr, ok := rule.(ConnectionRule)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a ConnectionRule", ErrWrongCategory, key.Name)
		}
		e.connection = cr
	case CategoryTransform:
		tr, ok := rule.(TransformRule)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a TransformRule", ErrWrongCategory, key.Name)
		}
		e.transform = tr
	default:
		return nil, fmt.Errorf("%w: unknown category %q", ErrWrongCategory, key.Category)
	}
	return e, nil
}

func sortedEntries(bucket map[string]*entry, descending bool) []*entry {
	entries := make([]*entry, 0, len(bucket))
	for _, e := range bucket {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].key.Priority != entries[j].key.Priority {
			if descending {
				return entries[i].key.Priority > entries[j].key.Priority
			}
			return entries[i].key.Priority < entries[j].key.Priority
		}
		return entries[i].key.Name < entries[j].key.Name
	})
	return entries
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
	defaultRegistryMu   sync.Mutex
)

// Default returns the process-wide registry, creating it with the built-in
// rule set on first use.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		r, err := NewRegistryWithBuiltins()
		if err != nil {
			log.Errorf("rules: failed to install builtins: %v", err)
			r = NewRegistry()
		}
		defaultRegistryMu.Lock()
		defaultRegistry = r
		defaultRegistryMu.Unlock()
	})
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	return defaultRegistry
}

// ResetForTesting replaces the process-wide registry with a fresh one.
// Test-only.
func ResetForTesting() {
	r, err := NewRegistryWithBuiltins(WithEnvironment(EnvTest))
	if err != nil {
		panic(err)
	}
	defaultRegistryMu.Lock()
	defaultRegistry = r
	defaultRegistryMu.Unlock()
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package rules

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Action enumerates auditable registry operations.
type Action string

// Audit actions.
const (
	ActionRegister           Action = "register"
	ActionOverride           Action = "override"
	ActionUnregister         Action = "unregister"
	ActionFreeze             Action = "freeze"
	ActionUnfreeze           Action = "unfreeze"
	ActionTempOverride       Action = "temp_override"
	ActionTempRestore        Action = "temp_restore"
	ActionRegisterFailed     Action = "register_failed"
	ActionUnregisterFailed   Action = "unregister_failed"
	ActionUnfreezeFailed     Action = "unfreeze_failed"
	ActionTempOverrideFailed Action = "temp_override_failed"
)

// AuditRecord is one entry in the registry's audit trail.
type AuditRecord struct {
	Timestamp      time.Time
	RuleKey        Key
	Action         Action
	CallerInfo     string
	Environment    Environment
	Success        bool
	Error          string
	OverrideReason string
}

const defaultAuditCapacity = 1000

// auditTrail is a bounded record list. When it exceeds its capacity the most
// recent 80% of records are retained.
type auditTrail struct {
	max     int
	entries []AuditRecord
}

func newAuditTrail(max int) *auditTrail {
	if max <= 0 {
		max = defaultAuditCapacity
	}
	return &auditTrail{max: max}
}

// record appends an audit entry. Caller holds the registry lock.
func (t *auditTrail) record(key Key, action Action, env Environment, success bool, errMsg, overrideReason string) {
	t.entries = append(t.entries, AuditRecord{
		Timestamp:      time.Now(),
		RuleKey:        key,
		Action:         action,
		CallerInfo:     callerInfo(4),
		Environment:    env,
		Success:        success,
		Error:          errMsg,
		OverrideReason: overrideReason,
	})
	if len(t.entries) > t.max {
		keep := t.max * 8 / 10
		if keep < 1 {
			keep = 1
		}
		trimmed := make([]AuditRecord, keep)
		copy(trimmed, t.entries[len(t.entries)-keep:])
		t.entries = trimmed
	}
}

func (t *auditTrail) records() []AuditRecord {
	out := make([]AuditRecord, len(t.entries))
	copy(out, t.entries)
	return out
}

// callerInfo captures "file:line in function()" for the first frame outside
// this package. Best-effort; returns "unknown" when the stack is unavailable.
func callerInfo(skip int) string {
	pcs := make([]uintptr, 8)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return "unknown"
	}
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function == "" {
			break
		}
		if !strings.Contains(frame.Function, "dipeo-go/rules") {
			return fmt.Sprintf("%s:%d in %s()", trimPath(frame.File), frame.Line, shortFunc(frame.Function))
		}
		if !more {
			break
		}
	}
	return "unknown"
}

func trimPath(file string) string {
	if idx := strings.LastIndex(file, "/"); idx >= 0 {
		return file[idx+1:]
	}
	return file
}

func shortFunc(fn string) string {
	if idx := strings.LastIndex(fn, "/"); idx >= 0 {
		fn = fn[idx+1:]
	}
	return fn
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package handlers implements the built-in node handlers: one per node
// type, each resolving its runtime dependencies from the typed service
// registry at execution time.
package handlers

import (
	"fmt"
	"regexp"

	"github.com/dipeo/dipeo-go/engine"
)

// All returns a handler registry with every built-in handler registered.
func All() *engine.HandlerRegistry {
	return engine.NewHandlerRegistry(
		&StartHandler{},
		&EndpointHandler{},
		&ConditionHandler{},
		&PersonJobHandler{},
		&PersonBatchJobHandler{},
		&CodeJobHandler{},
		&APIJobHandler{},
		&DBHandler{},
		&NotionHandler{},
		&UserResponseHandler{},
		&HookHandler{},
	)
}

var templateVar = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// renderTemplate substitutes {{name}} placeholders with values from vars.
// Unknown placeholders are left untouched so they stay visible in output.
func renderTemplate(s string, vars map[string]any) string {
	return templateVar.ReplaceAllStringFunc(s, func(match string) string {
		name := templateVar.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return fmt.Sprint(v)
		}
		return match
	})
}

// asString renders an arbitrary handler value for text contexts.
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// nativeSchema constrains the Native JSON document shape. Node data bags
// stay open; the compiler's node factories do the per-type validation.
const nativeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string"},
          "position": {
            "type": "object",
            "properties": {"x": {"type": "number"}, "y": {"type": "number"}}
          },
          "data": {"type": "object"}
        }
      }
    },
    "arrows": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["source", "target"],
        "properties": {
          "source": {"type": "string"},
          "target": {"type": "string"},
          "content_type": {"enum": ["raw_text", "object", "conversation_state"]},
          "label": {"type": "string"},
          "data": {"type": "object"}
        }
      }
    },
    "handles": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["node_id", "label", "direction"],
        "properties": {
          "node_id": {"type": "string"},
          "label": {"type": "string"},
          "direction": {"enum": ["input", "output"]}
        }
      }
    },
    "persons": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["llm_config"],
        "properties": {
          "label": {"type": "string"},
          "llm_config": {
            "type": "object",
            "required": ["service", "model"],
            "properties": {
              "service": {"type": "string"},
              "model": {"type": "string"},
              "api_key_id": {"type": "string"}
            }
          }
        }
      }
    },
    "metadata": {"type": "object"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// validateNative checks a native JSON document against the schema before it
// is decoded into domain types.
func validateNative(data []byte) error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("dipeo://native.schema.json", bytes.NewReader([]byte(nativeSchema))); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("dipeo://native.schema.json")
	})
	if schemaErr != nil {
		return fmt.Errorf("compile native schema: %w", schemaErr)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse native diagram: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("native diagram failed schema validation: %w", err)
	}
	return nil
}

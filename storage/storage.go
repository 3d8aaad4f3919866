//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package storage serializes diagrams in the three supported formats and
// provides the diagram storage port backed by a directory tree.
//
// Native JSON is the id-based interchange form. Light YAML is a compact
// label-referenced form. Readable YAML is the human-first workflow form.
// All three round-trip through the compiler, lossy only on synthesized ids.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dipeo/dipeo-go/diagram"
)

// Format names a diagram serialization format.
type Format string

// Supported formats.
const (
	FormatNative   Format = "native"
	FormatLight    Format = "light"
	FormatReadable Format = "readable"
)

// Codec serializes diagrams in one format.
type Codec interface {
	Format() Format
	Marshal(d *diagram.DomainDiagram) ([]byte, error)
	Unmarshal(data []byte) (*diagram.DomainDiagram, error)
}

// Info describes a stored diagram.
type Info struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Format   Format    `json:"format"`
	Path     string    `json:"path"`
	Modified time.Time `json:"modified"`
}

// Store is the diagram storage port.
type Store interface {
	Load(ctx context.Context, id string) (*diagram.DomainDiagram, error)
	Save(ctx context.Context, id string, d *diagram.DomainDiagram, format Format) error
	List(ctx context.Context) ([]Info, error)
	Delete(ctx context.Context, id string) error
}

// CodecFor returns the codec for a format.
func CodecFor(format Format) (Codec, error) {
	switch format {
	case FormatNative:
		return &NativeCodec{}, nil
	case FormatLight:
		return &LightCodec{}, nil
	case FormatReadable:
		return &ReadableCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown diagram format %q", format)
	}
}

// DetectFormat infers the format from a file extension and its content.
// JSON files are native; YAML files are readable when they carry a
// workflow section, light otherwise.
func DetectFormat(path string, data []byte) Format {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".json") {
		return FormatNative
	}
	var probe struct {
		Workflow []any `yaml:"workflow"`
	}
	if err := yaml.Unmarshal(data, &probe); err == nil && len(probe.Workflow) > 0 {
		return FormatReadable
	}
	return FormatLight
}

// Decode parses diagram content in the detected format.
func Decode(path string, data []byte) (*diagram.DomainDiagram, Format, error) {
	format := DetectFormat(path, data)
	codec, err := CodecFor(format)
	if err != nil {
		return nil, format, err
	}
	d, err := codec.Unmarshal(bytes.TrimSpace(data))
	if err != nil {
		return nil, format, fmt.Errorf("decode %s as %s: %w", path, format, err)
	}
	return d, format, nil
}

// sortPersons orders persons by id so YAML map iteration does not leak
// nondeterminism into decoded diagrams.
func sortPersons(persons []diagram.DomainPerson) {
	sort.Slice(persons, func(i, j int) bool { return persons[i].ID < persons[j].ID })
}

//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package storage

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dipeo/dipeo-go/diagram"
)

// nativeDoc is the Native JSON document shape: entities keyed by id.
type nativeDoc struct {
	Nodes    map[string]nativeNode    `json:"nodes"`
	Arrows   map[string]nativeArrow   `json:"arrows,omitempty"`
	Handles  map[string]nativeHandle  `json:"handles,omitempty"`
	Persons  map[string]nativePerson  `json:"persons,omitempty"`
	Metadata *diagram.DiagramMetadata `json:"metadata,omitempty"`
}

type nativeNode struct {
	Type     diagram.NodeType `json:"type"`
	Position diagram.Vec2     `json:"position"`
	Data     map[string]any   `json:"data,omitempty"`
}

type nativeArrow struct {
	Source      diagram.HandleID    `json:"source"`
	Target      diagram.HandleID    `json:"target"`
	ContentType diagram.ContentType `json:"content_type,omitempty"`
	Label       string              `json:"label,omitempty"`
	Data        map[string]any      `json:"data,omitempty"`
}

type nativeHandle struct {
	NodeID    diagram.NodeID          `json:"node_id"`
	Label     diagram.HandleLabel     `json:"label"`
	Direction diagram.HandleDirection `json:"direction"`
	DataType  string                  `json:"data_type,omitempty"`
	Position  string                  `json:"position,omitempty"`
}

type nativePerson struct {
	Label     string            `json:"label,omitempty"`
	LLMConfig diagram.LLMConfig `json:"llm_config"`
}

// NativeCodec reads and writes the Native JSON format.
type NativeCodec struct{}

// Format implements Codec.
func (c *NativeCodec) Format() Format { return FormatNative }

// Marshal implements Codec. Output is deterministic: maps marshal with
// sorted keys, so byte equality holds for equal diagrams.
func (c *NativeCodec) Marshal(d *diagram.DomainDiagram) ([]byte, error) {
	doc := nativeDoc{
		Nodes:    make(map[string]nativeNode, len(d.Nodes)),
		Metadata: d.Metadata,
	}
	for _, n := range d.Nodes {
		doc.Nodes[string(n.ID)] = nativeNode{Type: n.Type, Position: n.Position, Data: n.Data}
	}
	if len(d.Arrows) > 0 {
		doc.Arrows = make(map[string]nativeArrow, len(d.Arrows))
		for _, a := range d.Arrows {
			doc.Arrows[string(a.ID)] = nativeArrow{
				Source:      a.Source,
				Target:      a.Target,
				ContentType: a.ContentType,
				Label:       a.Label,
				Data:        a.Data,
			}
		}
	}
	if len(d.Handles) > 0 {
		doc.Handles = make(map[string]nativeHandle, len(d.Handles))
		for _, h := range d.Handles {
			doc.Handles[string(h.ID)] = nativeHandle{
				NodeID:    h.NodeID,
				Label:     h.Label,
				Direction: h.Direction,
				DataType:  h.DataType,
				Position:  h.Position,
			}
		}
	}
	if len(d.Persons) > 0 {
		doc.Persons = make(map[string]nativePerson, len(d.Persons))
		for _, p := range d.Persons {
			doc.Persons[string(p.ID)] = nativePerson{Label: p.Label, LLMConfig: p.LLMConfig}
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Unmarshal implements Codec. The document is validated against the native
// schema before decoding; entities come out sorted by id for deterministic
// downstream behavior.
func (c *NativeCodec) Unmarshal(data []byte) (*diagram.DomainDiagram, error) {
	if err := validateNative(data); err != nil {
		return nil, err
	}
	var doc nativeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse native diagram: %w", err)
	}

	d := &diagram.DomainDiagram{Metadata: doc.Metadata}
	for _, id := range sortedKeys(doc.Nodes) {
		n := doc.Nodes[id]
		d.Nodes = append(d.Nodes, diagram.DomainNode{
			ID:       diagram.NodeID(id),
			Type:     n.Type,
			Position: n.Position,
			Data:     n.Data,
		})
	}
	for _, id := range sortedKeys(doc.Arrows) {
		a := doc.Arrows[id]
		d.Arrows = append(d.Arrows, diagram.DomainArrow{
			ID:          diagram.ArrowID(id),
			Source:      a.Source,
			Target:      a.Target,
			ContentType: a.ContentType,
			Label:       a.Label,
			Data:        a.Data,
		})
	}
	for _, id := range sortedKeys(doc.Handles) {
		h := doc.Handles[id]
		d.Handles = append(d.Handles, diagram.DomainHandle{
			ID:        diagram.HandleID(id),
			NodeID:    h.NodeID,
			Label:     h.Label,
			Direction: h.Direction,
			DataType:  h.DataType,
			Position:  h.Position,
		})
	}
	for _, id := range sortedKeys(doc.Persons) {
		p := doc.Persons[id]
		d.Persons = append(d.Persons, diagram.DomainPerson{
			ID:        diagram.PersonID(id),
			Label:     p.Label,
			LLMConfig: p.LLMConfig,
		})
	}
	return d, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

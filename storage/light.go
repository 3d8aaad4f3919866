//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package storage

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/handle"
)

// lightDoc is the Light YAML shape: a node list with label-based
// references and arrows flattened into connections.
type lightDoc struct {
	Version     string                 `yaml:"version,omitempty"`
	Name        string                 `yaml:"name,omitempty"`
	Description string                 `yaml:"description,omitempty"`
	Nodes       []lightNode            `yaml:"nodes"`
	Connections []lightConnection      `yaml:"connections,omitempty"`
	Persons     map[string]lightPerson `yaml:"persons,omitempty"`
}

type lightNode struct {
	Label    string           `yaml:"label"`
	Type     diagram.NodeType `yaml:"type"`
	Position *diagram.Vec2    `yaml:"position,omitempty"`
	Props    map[string]any   `yaml:"props,omitempty"`
}

// lightConnection references endpoints as "Label" or "Label:handle".
type lightConnection struct {
	From        string              `yaml:"from"`
	To          string              `yaml:"to"`
	ContentType diagram.ContentType `yaml:"content_type,omitempty"`
	Label       string              `yaml:"label,omitempty"`
}

type lightPerson struct {
	Service      string   `yaml:"service"`
	Model        string   `yaml:"model"`
	APIKeyID     string   `yaml:"api_key_id,omitempty"`
	SystemPrompt string   `yaml:"system_prompt,omitempty"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
	MaxTokens    *int     `yaml:"max_tokens,omitempty"`
}

// LightCodec reads and writes the Light YAML format.
type LightCodec struct{}

// Format implements Codec.
func (c *LightCodec) Format() Format { return FormatLight }

// Marshal implements Codec.
func (c *LightCodec) Marshal(d *diagram.DomainDiagram) ([]byte, error) {
	doc := lightDoc{Version: "light"}
	if d.Metadata != nil {
		doc.Name = d.Metadata.Name
		doc.Description = d.Metadata.Description
	}

	labels := make(map[diagram.NodeID]string, len(d.Nodes))
	for _, n := range d.Nodes {
		label := uniqueLabel(n.Label(), labels)
		labels[n.ID] = label
		props := make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			if k == "label" {
				continue
			}
			props[k] = v
		}
		if len(props) == 0 {
			props = nil
		}
		pos := n.Position
		doc.Nodes = append(doc.Nodes, lightNode{
			Label:    label,
			Type:     n.Type,
			Position: &pos,
			Props:    props,
		})
	}

	for _, a := range d.Arrows {
		src, err := handle.Parse(a.Source)
		if err != nil {
			return nil, fmt.Errorf("arrow %s: %w", a.ID, err)
		}
		tgt, err := handle.Parse(a.Target)
		if err != nil {
			return nil, fmt.Errorf("arrow %s: %w", a.ID, err)
		}
		doc.Connections = append(doc.Connections, lightConnection{
			From:        lightRef(labels[src.NodeID], src.Label),
			To:          lightRef(labels[tgt.NodeID], tgt.Label),
			ContentType: a.ContentType,
			Label:       a.Label,
		})
	}

	if len(d.Persons) > 0 {
		doc.Persons = make(map[string]lightPerson, len(d.Persons))
		for _, p := range d.Persons {
			key := p.Label
			if key == "" {
				key = string(p.ID)
			}
			doc.Persons[key] = lightPerson{
				Service:      p.LLMConfig.Service,
				Model:        p.LLMConfig.Model,
				APIKeyID:     p.LLMConfig.APIKeyID,
				SystemPrompt: p.LLMConfig.SystemPrompt,
				Temperature:  p.LLMConfig.Temperature,
				MaxTokens:    p.LLMConfig.MaxTokens,
			}
		}
	}
	return yaml.Marshal(doc)
}

// Unmarshal implements Codec. Node and arrow ids are synthesized from
// labels, so round-trips are lossy on ids only.
func (c *LightCodec) Unmarshal(data []byte) (*diagram.DomainDiagram, error) {
	var doc lightDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse light diagram: %w", err)
	}
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("light diagram has no nodes")
	}

	d := &diagram.DomainDiagram{}
	if doc.Name != "" || doc.Description != "" {
		d.Metadata = &diagram.DiagramMetadata{Name: doc.Name, Description: doc.Description}
	}

	ids := make(map[string]diagram.NodeID, len(doc.Nodes))
	for i, n := range doc.Nodes {
		if n.Label == "" {
			return nil, fmt.Errorf("light node %d has no label", i)
		}
		if _, dup := ids[n.Label]; dup {
			return nil, fmt.Errorf("duplicate node label %q", n.Label)
		}
		id := diagram.NodeID(fmt.Sprintf("node_%d", i+1))
		ids[n.Label] = id
		data := map[string]any{"label": n.Label}
		for k, v := range n.Props {
			data[k] = v
		}
		var pos diagram.Vec2
		if n.Position != nil {
			pos = *n.Position
		}
		d.Nodes = append(d.Nodes, diagram.DomainNode{ID: id, Type: n.Type, Position: pos, Data: data})
	}

	for i, conn := range doc.Connections {
		srcID, srcLabel, err := resolveLightRef(conn.From, ids, diagram.HandleLabelDefault)
		if err != nil {
			return nil, fmt.Errorf("connection %d: %w", i, err)
		}
		tgtID, tgtLabel, err := resolveLightRef(conn.To, ids, diagram.HandleLabelDefault)
		if err != nil {
			return nil, fmt.Errorf("connection %d: %w", i, err)
		}
		d.Arrows = append(d.Arrows, diagram.DomainArrow{
			ID:          diagram.ArrowID(fmt.Sprintf("arrow_%d", i+1)),
			Source:      handle.Build(srcID, srcLabel),
			Target:      handle.Build(tgtID, tgtLabel),
			ContentType: conn.ContentType,
			Label:       conn.Label,
		})
	}

	for label, p := range doc.Persons {
		d.Persons = append(d.Persons, diagram.DomainPerson{
			ID:    diagram.PersonID(label),
			Label: label,
			LLMConfig: diagram.LLMConfig{
				Service:      p.Service,
				Model:        p.Model,
				APIKeyID:     p.APIKeyID,
				SystemPrompt: p.SystemPrompt,
				Temperature:  p.Temperature,
				MaxTokens:    p.MaxTokens,
			},
		})
	}
	sortPersons(d.Persons)
	return d, nil
}

// lightRef renders a "Label" or "Label:handle" endpoint reference.
func lightRef(label string, h diagram.HandleLabel) string {
	if h == diagram.HandleLabelDefault {
		return label
	}
	return label + ":" + string(h)
}

// resolveLightRef parses a "Label" or "Label:handle" reference. Labels may
// themselves contain colons; the suffix is treated as a handle only when it
// does not resolve as part of a known label.
func resolveLightRef(ref string, ids map[string]diagram.NodeID, fallback diagram.HandleLabel) (diagram.NodeID, diagram.HandleLabel, error) {
	if id, ok := ids[ref]; ok {
		return id, fallback, nil
	}
	if idx := strings.LastIndex(ref, ":"); idx > 0 {
		label, h := ref[:idx], ref[idx+1:]
		if id, ok := ids[label]; ok {
			return id, diagram.HandleLabel(h), nil
		}
	}
	return "", "", fmt.Errorf("reference %q matches no node label", ref)
}

func uniqueLabel(label string, taken map[diagram.NodeID]string) string {
	used := make(map[string]bool, len(taken))
	for _, l := range taken {
		used[l] = true
	}
	if !used[label] {
		return label
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s %d", label, i)
		if !used[candidate] {
			return candidate
		}
	}
}

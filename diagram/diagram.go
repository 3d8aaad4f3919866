//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package diagram defines the DiPeO data model: the declarative DomainDiagram
// that users author, and the immutable ExecutableDiagram the compiler emits.
package diagram

// NodeID uniquely identifies a node within a diagram.
type NodeID string

// ArrowID uniquely identifies an arrow within a diagram.
type ArrowID string

// HandleID is a canonical handle identifier of the form "<node_id>:<label>".
// Parsing and construction live in the handle package.
type HandleID string

// PersonID identifies an LLM identity record.
type PersonID string

// NodeType enumerates the closed set of node kinds.
type NodeType string

// Node type constants.
const (
	NodeTypeStart         NodeType = "start"
	NodeTypeEndpoint      NodeType = "endpoint"
	NodeTypeCondition     NodeType = "condition"
	NodeTypePersonJob     NodeType = "person_job"
	NodeTypePersonBatch   NodeType = "person_batch_job"
	NodeTypeCodeJob       NodeType = "code_job"
	NodeTypeAPIJob        NodeType = "api_job"
	NodeTypeDB            NodeType = "db"
	NodeTypeNotion        NodeType = "notion"
	NodeTypeUserResponse  NodeType = "user_response"
	NodeTypeHook          NodeType = "hook"
)

// KnownNodeTypes lists every recognized node type.
var KnownNodeTypes = []NodeType{
	NodeTypeStart,
	NodeTypeEndpoint,
	NodeTypeCondition,
	NodeTypePersonJob,
	NodeTypePersonBatch,
	NodeTypeCodeJob,
	NodeTypeAPIJob,
	NodeTypeDB,
	NodeTypeNotion,
	NodeTypeUserResponse,
	NodeTypeHook,
}

// IsKnownNodeType reports whether t is a recognized node type.
func IsKnownNodeType(t NodeType) bool {
	for _, known := range KnownNodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// HandleDirection indicates whether a handle accepts or produces data.
type HandleDirection string

// Handle directions.
const (
	HandleDirectionInput  HandleDirection = "input"
	HandleDirectionOutput HandleDirection = "output"
)

// HandleLabel names a connection point on a node.
type HandleLabel string

// Standard handle labels.
const (
	HandleLabelDefault   HandleLabel = "default"
	HandleLabelInput     HandleLabel = "input"
	HandleLabelOutput    HandleLabel = "output"
	HandleLabelCondTrue  HandleLabel = "condtrue"
	HandleLabelCondFalse HandleLabel = "condfalse"
	HandleLabelFirst     HandleLabel = "first"
)

// ContentType describes the payload an arrow carries.
type ContentType string

// Arrow content types.
const (
	ContentTypeRawText           ContentType = "raw_text"
	ContentTypeObject            ContentType = "object"
	ContentTypeConversationState ContentType = "conversation_state"
)

// Vec2 is a 2D canvas position. It is UI metadata and has no execution
// semantics.
type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// DomainNode is a node as authored in a declarative diagram. Data is a
// free-form property bag validated per node type by the compiler's node
// factories.
type DomainNode struct {
	ID       NodeID         `json:"id" yaml:"id"`
	Type     NodeType       `json:"type" yaml:"type"`
	Position Vec2           `json:"position" yaml:"position"`
	Data     map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Label returns the node's display label from its property bag, falling back
// to the node id.
func (n DomainNode) Label() string {
	if n.Data != nil {
		if label, ok := n.Data["label"].(string); ok && label != "" {
			return label
		}
	}
	return string(n.ID)
}

// DomainHandle is a declared connection point. When a diagram omits handles
// the compiler synthesizes defaults through the handle package.
type DomainHandle struct {
	ID        HandleID        `json:"id" yaml:"id"`
	NodeID    NodeID          `json:"node_id" yaml:"node_id"`
	Label     HandleLabel     `json:"label" yaml:"label"`
	Direction HandleDirection `json:"direction" yaml:"direction"`
	DataType  string          `json:"data_type,omitempty" yaml:"data_type,omitempty"`
	Position  string          `json:"position,omitempty" yaml:"position,omitempty"`
}

// DomainArrow connects one node's output handle to another node's input
// handle. Source and Target are handle identifiers.
type DomainArrow struct {
	ID          ArrowID        `json:"id" yaml:"id"`
	Source      HandleID       `json:"source" yaml:"source"`
	Target      HandleID       `json:"target" yaml:"target"`
	ContentType ContentType    `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Label       string         `json:"label,omitempty" yaml:"label,omitempty"`
	Data        map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// LLMConfig configures the model behind a person.
type LLMConfig struct {
	Service      string   `json:"service" yaml:"service"`
	Model        string   `json:"model" yaml:"model"`
	APIKeyID     string   `json:"api_key_id" yaml:"api_key_id"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// DomainPerson is an LLM identity referenced by person_job nodes.
type DomainPerson struct {
	ID        PersonID  `json:"id" yaml:"id"`
	Label     string    `json:"label" yaml:"label"`
	LLMConfig LLMConfig `json:"llm_config" yaml:"llm_config"`
}

// DiagramMetadata carries descriptive information about a diagram.
type DiagramMetadata struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
}

// DomainDiagram is the declarative input to the compiler.
type DomainDiagram struct {
	Nodes    []DomainNode     `json:"nodes" yaml:"nodes"`
	Handles  []DomainHandle   `json:"handles,omitempty" yaml:"handles,omitempty"`
	Arrows   []DomainArrow    `json:"arrows,omitempty" yaml:"arrows,omitempty"`
	Persons  []DomainPerson   `json:"persons,omitempty" yaml:"persons,omitempty"`
	Metadata *DiagramMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// GetNode returns the domain node with the given id.
func (d *DomainDiagram) GetNode(id NodeID) (DomainNode, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return DomainNode{}, false
}

// GetPerson returns the person with the given id.
func (d *DomainDiagram) GetPerson(id PersonID) (DomainPerson, bool) {
	for _, p := range d.Persons {
		if p.ID == id {
			return p, true
		}
	}
	return DomainPerson{}, false
}

// NodeByLabel returns the first node whose display label matches label.
// Label-based references are used by the light and readable storage formats.
func (d *DomainDiagram) NodeByLabel(label string) (DomainNode, bool) {
	for _, n := range d.Nodes {
		if n.Label() == label {
			return n, true
		}
	}
	return DomainNode{}, false
}

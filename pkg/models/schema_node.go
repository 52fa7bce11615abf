package models

import (
	"encoding/json"
	"fmt"
)

// JSON Schema type labels used throughout the engine.
const (
	SchemaTypeString  = "string"
	SchemaTypeNumber  = "number"
	SchemaTypeInteger = "integer"
	SchemaTypeBoolean = "boolean"
	SchemaTypeObject  = "object"
	SchemaTypeArray   = "array"
	SchemaTypeNull    = "null"
)

// TypeSet holds a schema's declared type(s). JSON Schema allows "type" to be
// either a single string or an array of strings; a TypeSet round-trips both.
type TypeSet []string

// MarshalJSON emits a bare string for a single type and an array otherwise.
func (t TypeSet) MarshalJSON() ([]byte, error) {
	switch len(t) {
	case 0:
		return []byte("null"), nil
	case 1:
		return json.Marshal(t[0])
	default:
		return json.Marshal([]string(t))
	}
}

// UnmarshalJSON accepts both the string and array forms.
func (t *TypeSet) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = TypeSet{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("schema type must be a string or array of strings: %w", err)
	}
	*t = TypeSet(many)
	return nil
}

// Contains reports whether the set declares the given type label.
func (t TypeSet) Contains(label string) bool {
	for _, v := range t {
		if v == label {
			return true
		}
	}
	return false
}

// SchemaNode is the schema tree ADT the inference engine edits. Keywords the
// engine does not interpret are preserved verbatim in Extra so that edited
// schemas round-trip without losing vendor extensions.
type SchemaNode struct {
	Type        TypeSet
	Description string
	Properties  map[string]*SchemaNode
	Required    []string
	Items       *SchemaNode
	Enum        []any
	Extra       map[string]json.RawMessage
}

// NewObjectNode returns an empty object schema. Used when path navigation has
// to synthesize missing intermediate nodes.
func NewObjectNode() *SchemaNode {
	return &SchemaNode{Type: TypeSet{SchemaTypeObject}}
}

// UnmarshalJSON decodes the keywords the engine understands and stashes the
// rest in Extra.
func (n *SchemaNode) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("schema node must be a JSON object: %w", err)
	}

	for key, value := range raw {
		switch key {
		case "type":
			if err := json.Unmarshal(value, &n.Type); err != nil {
				return err
			}
		case "description":
			if err := json.Unmarshal(value, &n.Description); err != nil {
				return fmt.Errorf("invalid description: %w", err)
			}
		case "properties":
			if err := json.Unmarshal(value, &n.Properties); err != nil {
				return fmt.Errorf("invalid properties: %w", err)
			}
		case "required":
			if err := json.Unmarshal(value, &n.Required); err != nil {
				return fmt.Errorf("invalid required list: %w", err)
			}
		case "items":
			if err := json.Unmarshal(value, &n.Items); err != nil {
				return fmt.Errorf("invalid items: %w", err)
			}
		case "enum":
			if err := json.Unmarshal(value, &n.Enum); err != nil {
				return fmt.Errorf("invalid enum: %w", err)
			}
		default:
			if n.Extra == nil {
				n.Extra = make(map[string]json.RawMessage)
			}
			n.Extra[key] = value
		}
	}

	return nil
}

// MarshalJSON re-assembles the node, including preserved Extra keywords.
func (n *SchemaNode) MarshalJSON() ([]byte, error) {
	out := make(map[string]any)
	if len(n.Type) > 0 {
		out["type"] = n.Type
	}
	if n.Description != "" {
		out["description"] = n.Description
	}
	if len(n.Properties) > 0 {
		out["properties"] = n.Properties
	}
	if len(n.Required) > 0 {
		out["required"] = n.Required
	}
	if n.Items != nil {
		out["items"] = n.Items
	}
	if n.Enum != nil {
		out["enum"] = n.Enum
	}
	for key, value := range n.Extra {
		out[key] = value
	}
	return json.Marshal(out)
}

// Clone returns a deep copy. The inference engine always edits a clone so the
// caller's current schema is never mutated.
func (n *SchemaNode) Clone() *SchemaNode {
	if n == nil {
		return nil
	}
	clone := &SchemaNode{
		Description: n.Description,
		Items:       n.Items.Clone(),
	}
	if n.Type != nil {
		clone.Type = append(TypeSet{}, n.Type...)
	}
	if n.Properties != nil {
		clone.Properties = make(map[string]*SchemaNode, len(n.Properties))
		for name, child := range n.Properties {
			clone.Properties[name] = child.Clone()
		}
	}
	if n.Required != nil {
		clone.Required = append([]string{}, n.Required...)
	}
	if n.Enum != nil {
		clone.Enum = append([]any{}, n.Enum...)
	}
	if n.Extra != nil {
		clone.Extra = make(map[string]json.RawMessage, len(n.Extra))
		for key, value := range n.Extra {
			clone.Extra[key] = append(json.RawMessage{}, value...)
		}
	}
	return clone
}

// AddType unions a type label into the set, preserving order and skipping
// duplicates.
func (n *SchemaNode) AddType(label string) {
	if n.Type.Contains(label) {
		return
	}
	n.Type = append(n.Type, label)
}

// SetType replaces the declared type(s) with a single label.
func (n *SchemaNode) SetType(label string) {
	n.Type = TypeSet{label}
}

// RequireField inserts a field name into the required list if absent.
func (n *SchemaNode) RequireField(name string) {
	for _, existing := range n.Required {
		if existing == name {
			return
		}
	}
	n.Required = append(n.Required, name)
}

// UnrequireField removes a field name from the required list. The field stays
// in properties.
func (n *SchemaNode) UnrequireField(name string) {
	filtered := n.Required[:0]
	for _, existing := range n.Required {
		if existing != name {
			filtered = append(filtered, existing)
		}
	}
	n.Required = filtered
}

// ParseSchema decodes a raw JSON schema into the tree ADT. A nil or empty
// document yields an empty object node so patches always have a root to land on.
func ParseSchema(raw json.RawMessage) (*SchemaNode, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return NewObjectNode(), nil
	}
	var node SchemaNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return &node, nil
}

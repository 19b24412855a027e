package graph

import (
	"encoding/json"
	"strings"
	"time"
)

// Lifecycle marks whether a node is live or soft-deleted.
type Lifecycle int

const (
	LifecycleActive Lifecycle = iota
	LifecycleDeleted
)

// Node is the generic graph entity. Items, tags, calendar events, commands
// and schema tags are all nodes; what a node "is" comes from the supertags
// attached to it.
type Node struct {
	ID           string     `json:"id"`
	Content      string     `json:"content"`
	ContentPlain string     `json:"content_plain"`
	SystemID     string     `json:"system_id,omitempty"`
	OwnerID      string     `json:"owner_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Lifecycle reports the node's soft-delete state.
func (n *Node) Lifecycle() Lifecycle {
	if n.DeletedAt != nil {
		return LifecycleDeleted
	}
	return LifecycleActive
}

// Field is a typed property slot, itself stored as a node with a stable
// systemId such as "field:path".
type Field struct {
	ID       string `json:"id"`
	SystemID string `json:"system_id"`
	Name     string `json:"name"`
}

// PropertyValue is one node→field edge. Value is the decoded value;
// RawValue is the canonical JSON serialization, so upper layers never
// branch on which backend produced it.
type PropertyValue struct {
	FieldID       string `json:"field_id"`
	FieldSystemID string `json:"field_system_id"`
	FieldName     string `json:"field_name"`
	Value         any    `json:"value"`
	RawValue      string `json:"raw_value"`
	Order         int    `json:"order"`
}

// Supertag is a type tag a node carries. A node may carry several; supertags
// form a hierarchy through extends edges.
type Supertag struct {
	ID       string `json:"id"`
	SystemID string `json:"system_id"`
	Name     string `json:"name"`
}

// AssembledNode is the materialized read view: the node, its property values
// grouped by field name, and its supertags in attachment order.
type AssembledNode struct {
	Node
	Properties map[string][]PropertyValue `json:"properties"`
	Supertags  []Supertag                 `json:"supertags"`
}

// Property returns the values for a field name, or nil.
func (a *AssembledNode) Property(fieldName string) []PropertyValue {
	return a.Properties[fieldName]
}

// HasSupertag reports whether the node carries the given supertag id.
func (a *AssembledNode) HasSupertag(supertagID string) bool {
	for _, st := range a.Supertags {
		if st.ID == supertagID {
			return true
		}
	}
	return false
}

// Stats holds backend record counts for health reporting.
type Stats struct {
	Nodes         int64 `json:"nodes"`
	ActiveNodes   int64 `json:"active_nodes"`
	PropertyEdges int64 `json:"property_edges"`
	SupertagEdges int64 `json:"supertag_edges"`
}

// plainContent lowercases display text for search matching.
func plainContent(content string) string {
	return strings.ToLower(content)
}

// encodeRawValue produces the canonical serialized form of a property value.
func encodeRawValue(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodeRawValue parses a canonical raw value back into its decoded form.
// Legacy bare strings that were never JSON-encoded decode to themselves.
func decodeRawValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

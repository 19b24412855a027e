package graph

import (
	"time"
)

// DefaultQueryLimit caps result sets when a definition does not set one.
const DefaultQueryLimit = 500

// FilterKind discriminates the filter variants.
type FilterKind string

const (
	FilterSupertag FilterKind = "supertag"
	FilterProperty FilterKind = "property"
	FilterContent  FilterKind = "content"
	FilterHasField FilterKind = "has_field"
	FilterTemporal FilterKind = "temporal"
	FilterRelation FilterKind = "relation"
	FilterAnd      FilterKind = "and"
	FilterOr       FilterKind = "or"
	FilterNot      FilterKind = "not"
)

// PropertyOp is a property predicate operator.
type PropertyOp string

const (
	OpEq         PropertyOp = "eq"
	OpNeq        PropertyOp = "neq"
	OpGt         PropertyOp = "gt"
	OpGte        PropertyOp = "gte"
	OpLt         PropertyOp = "lt"
	OpLte        PropertyOp = "lte"
	OpContains   PropertyOp = "contains"
	OpStartsWith PropertyOp = "startsWith"
	OpEndsWith   PropertyOp = "endsWith"
	OpIsEmpty    PropertyOp = "isEmpty"
	OpIsNotEmpty PropertyOp = "isNotEmpty"
)

// TemporalOp selects the temporal comparison mode.
type TemporalOp string

const (
	TemporalWithin TemporalOp = "within"
	TemporalBefore TemporalOp = "before"
	TemporalAfter  TemporalOp = "after"
)

// RelationType selects the relation filter mode.
type RelationType string

const (
	RelationChildOf    RelationType = "childOf"
	RelationOwnedBy    RelationType = "ownedBy"
	RelationLinksTo    RelationType = "linksTo"
	RelationLinkedFrom RelationType = "linkedFrom"
)

// Builtin temporal field names; anything else is treated as a field ref.
const (
	TemporalFieldCreated = "created_at"
	TemporalFieldUpdated = "updated_at"
)

// Filter is one clause of a query. Kind selects which of the remaining
// fields are meaningful; combinator kinds (and/or/not) nest via Filters.
type Filter struct {
	Kind FilterKind `json:"kind"`

	// supertag
	SupertagID       string `json:"supertag_id,omitempty"`
	IncludeInherited *bool  `json:"include_inherited,omitempty"`

	// property / has_field
	FieldID string     `json:"field_id,omitempty"`
	Op      PropertyOp `json:"op,omitempty"`
	Value   any        `json:"value,omitempty"`
	Negate  bool       `json:"negate,omitempty"`

	// content
	Query         string `json:"query,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`

	// temporal
	TemporalField string     `json:"temporal_field,omitempty"`
	TemporalOp    TemporalOp `json:"temporal_op,omitempty"`
	Days          int        `json:"days,omitempty"`
	Date          time.Time  `json:"date,omitempty"`

	// relation
	RelationType RelationType `json:"relation_type,omitempty"`
	TargetNodeID string       `json:"target_node_id,omitempty"`

	// combinators
	Filters []Filter `json:"filters,omitempty"`
}

// includeInherited defaults to true for supertag filters.
func (f Filter) includeInherited() bool {
	if f.IncludeInherited == nil {
		return true
	}
	return *f.IncludeInherited
}

// SortSpec orders results by a builtin column ("content", "created_at",
// "updated_at") or a field ref. Nulls sort last in either direction.
type SortSpec struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending,omitempty"`
}

// QueryDefinition is the caller-built query: filters folded left to right
// over the active node set, then sort and limit.
type QueryDefinition struct {
	Filters []Filter  `json:"filters"`
	Sort    *SortSpec `json:"sort,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}

// QueryResult carries assembled survivors. TotalCount is the match count
// before limit truncation.
type QueryResult struct {
	Nodes       []*AssembledNode `json:"nodes"`
	TotalCount  int              `json:"total_count"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
}

package graph

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// idSet is the evaluator's working representation of a candidate set.
type idSet map[string]struct{}

func newIDSet(ids []string) idSet {
	s := make(idSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s idSet) clone() idSet {
	out := make(idSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func (s idSet) intersect(other idSet) idSet {
	out := make(idSet)
	for id := range s {
		if _, ok := other[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func (s idSet) subtract(other idSet) idSet {
	out := make(idSet)
	for id := range s {
		if _, ok := other[id]; !ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func (s idSet) union(other idSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// evaluateQuery runs staged set-refinement: seed with all active node ids,
// fold filters left to right, assemble survivors, sort, truncate. Both
// backends delegate here; only the primitive lookups differ.
func evaluateQuery(ctx context.Context, p backendPrimitives, def QueryDefinition) (*QueryResult, error) {
	limit := def.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	seed, err := p.activeNodeIDs(ctx)
	if err != nil {
		return nil, err
	}
	candidates := newIDSet(seed)

	for _, filter := range def.Filters {
		candidates, err = applyFilter(ctx, p, filter, candidates)
		if err != nil {
			return nil, err
		}
		// A refinement that empties the set decides the query.
		if len(candidates) == 0 {
			return &QueryResult{Nodes: []*AssembledNode{}, TotalCount: 0, EvaluatedAt: time.Now()}, nil
		}
	}

	nodes := make([]*AssembledNode, 0, len(candidates))
	for id := range candidates {
		node, err := p.assemble(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Deleted between refinement and assembly; skip.
				continue
			}
			return nil, err
		}
		nodes = append(nodes, node)
	}

	sortAssembled(nodes, def.Sort)

	total := len(nodes)
	if total > limit {
		nodes = nodes[:limit]
	}

	return &QueryResult{Nodes: nodes, TotalCount: total, EvaluatedAt: time.Now()}, nil
}

// applyFilter refines candidates through one filter clause. Unknown field or
// supertag references never fail the query; they degrade to the empty set
// (or, for negated hasField, pass everything).
func applyFilter(ctx context.Context, p backendPrimitives, f Filter, candidates idSet) (idSet, error) {
	switch f.Kind {
	case FilterSupertag:
		return applySupertagFilter(ctx, p, f, candidates)
	case FilterProperty:
		return applyPropertyFilter(ctx, p, f, candidates)
	case FilterContent:
		return applyContentFilter(ctx, p, f, candidates)
	case FilterHasField:
		return applyHasFieldFilter(ctx, p, f, candidates)
	case FilterTemporal:
		return applyTemporalFilter(ctx, p, f, candidates)
	case FilterRelation:
		return applyRelationFilter(ctx, p, f, candidates)
	case FilterAnd:
		return applyAndFilter(ctx, p, f, candidates)
	case FilterOr:
		return applyOrFilter(ctx, p, f, candidates)
	case FilterNot:
		return applyNotFilter(ctx, p, f, candidates)
	default:
		// Unknown filter kinds refine to nothing rather than erroring.
		return idSet{}, nil
	}
}

func applySupertagFilter(ctx context.Context, p backendPrimitives, f Filter, candidates idSet) (idSet, error) {
	tag, err := p.resolveSupertagRef(ctx, f.SupertagID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return idSet{}, nil
		}
		return nil, err
	}

	tagIDs := []string{tag.ID}
	if f.includeInherited() {
		descendants, err := descendantSupertagIDs(ctx, p, tag.ID, MaxAncestorDepth)
		if err != nil {
			return nil, err
		}
		tagIDs = append(tagIDs, descendants...)
	}

	members := idSet{}
	for _, tagID := range tagIDs {
		ids, err := p.nodeIDsBySupertag(ctx, tagID)
		if err != nil {
			return nil, err
		}
		members.union(newIDSet(ids))
	}

	return candidates.intersect(members), nil
}

func applyPropertyFilter(ctx context.Context, p backendPrimitives, f Filter, candidates idSet) (idSet, error) {
	field, err := p.resolveFieldRef(ctx, f.FieldID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// An unknown field is empty for every node.
			if f.Op == OpIsEmpty {
				return candidates.clone(), nil
			}
			return idSet{}, nil
		}
		return nil, err
	}

	byNode, err := p.propertiesByField(ctx, field.ID)
	if err != nil {
		return nil, err
	}

	out := idSet{}
	for id := range candidates {
		values := byNode[id]
		if len(values) == 0 {
			// Absent properties count as empty.
			if f.Op == OpIsEmpty {
				out[id] = struct{}{}
			}
			continue
		}
		for _, pv := range values {
			if matchProperty(pv.Value, f.Op, f.Value) {
				out[id] = struct{}{}
				break
			}
		}
	}
	return out, nil
}

func applyContentFilter(ctx context.Context, p backendPrimitives, f Filter, candidates idSet) (idSet, error) {
	query := f.Query
	if strings.TrimSpace(query) == "" {
		// Blank content queries are a pass-through no-op.
		return candidates.clone(), nil
	}

	nodes, err := p.activeNodes(ctx)
	if err != nil {
		return nil, err
	}

	out := idSet{}
	for id := range candidates {
		node, ok := nodes[id]
		if !ok {
			continue
		}
		if f.CaseSensitive {
			if strings.Contains(node.Content, query) {
				out[id] = struct{}{}
			}
		} else if strings.Contains(node.ContentPlain, strings.ToLower(query)) {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func applyHasFieldFilter(ctx context.Context, p backendPrimitives, f Filter, candidates idSet) (idSet, error) {
	field, err := p.resolveFieldRef(ctx, f.FieldID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// No node carries a field that does not exist.
			if f.Negate {
				return candidates.clone(), nil
			}
			return idSet{}, nil
		}
		return nil, err
	}

	ids, err := p.nodeIDsWithField(ctx, field.ID)
	if err != nil {
		return nil, err
	}
	withField := newIDSet(ids)

	if f.Negate {
		return candidates.subtract(withField), nil
	}
	return candidates.intersect(withField), nil
}

func applyTemporalFilter(ctx context.Context, p backendPrimitives, f Filter, candidates idSet) (idSet, error) {
	timestamps, err := temporalTimestamps(ctx, p, f.TemporalField, candidates)
	if err != nil {
		return nil, err
	}

	out := idSet{}
	for id := range candidates {
		ts, ok := timestamps[id]
		if !ok {
			continue
		}
		switch f.TemporalOp {
		case TemporalWithin:
			cutoff := time.Now().AddDate(0, 0, -f.Days)
			if !ts.Before(cutoff) {
				out[id] = struct{}{}
			}
		case TemporalBefore:
			if ts.Before(f.Date) {
				out[id] = struct{}{}
			}
		case TemporalAfter:
			if ts.After(f.Date) {
				out[id] = struct{}{}
			}
		}
	}
	return out, nil
}

// temporalTimestamps resolves the timestamp source for a temporal filter:
// the builtin created/updated columns, or any date-parsable value of a
// property field.
func temporalTimestamps(ctx context.Context, p backendPrimitives, fieldRef string, candidates idSet) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(candidates))

	switch fieldRef {
	case "", TemporalFieldCreated, TemporalFieldUpdated:
		nodes, err := p.activeNodes(ctx)
		if err != nil {
			return nil, err
		}
		for id := range candidates {
			node, ok := nodes[id]
			if !ok {
				continue
			}
			if fieldRef == TemporalFieldUpdated {
				out[id] = node.UpdatedAt
			} else {
				out[id] = node.CreatedAt
			}
		}
		return out, nil
	}

	field, err := p.resolveFieldRef(ctx, fieldRef)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return out, nil
		}
		return nil, err
	}
	byNode, err := p.propertiesByField(ctx, field.ID)
	if err != nil {
		return nil, err
	}
	for id := range candidates {
		for _, pv := range byNode[id] {
			if ts, ok := parseDate(asString(pv.Value)); ok {
				out[id] = ts
				break
			}
		}
	}
	return out, nil
}

func applyRelationFilter(ctx context.Context, p backendPrimitives, f Filter, candidates idSet) (idSet, error) {
	switch f.RelationType {
	case RelationChildOf, RelationOwnedBy:
		var ids []string
		var err error
		if f.TargetNodeID != "" {
			ids, err = p.nodeIDsByOwner(ctx, f.TargetNodeID)
		} else {
			ids, err = p.nodeIDsWithOwner(ctx)
		}
		if err != nil {
			return nil, err
		}
		return candidates.intersect(newIDSet(ids)), nil

	case RelationLinksTo:
		if f.FieldID == "" {
			return idSet{}, nil
		}
		field, err := p.resolveFieldRef(ctx, f.FieldID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return idSet{}, nil
			}
			return nil, err
		}
		byNode, err := p.propertiesByField(ctx, field.ID)
		if err != nil {
			return nil, err
		}
		out := idSet{}
		for id := range candidates {
			for _, pv := range byNode[id] {
				if valueReferences(pv.Value, f.TargetNodeID) {
					out[id] = struct{}{}
					break
				}
			}
		}
		return out, nil

	case RelationLinkedFrom:
		if f.TargetNodeID == "" || f.FieldID == "" {
			return idSet{}, nil
		}
		field, err := p.resolveFieldRef(ctx, f.FieldID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return idSet{}, nil
			}
			return nil, err
		}
		values, err := p.propertyValues(ctx, f.TargetNodeID, field.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return idSet{}, nil
			}
			return nil, err
		}
		referenced := idSet{}
		for _, pv := range values {
			for _, ref := range referencedIDs(pv.Value) {
				referenced[ref] = struct{}{}
			}
		}
		return candidates.intersect(referenced), nil

	default:
		return idSet{}, nil
	}
}

// valueReferences reports whether a stored value points at the target node.
// With no explicit target it falls back to the identifier-shape heuristic:
// any value that parses as a UUID counts as a reference. Reference-typed
// field schemas would make this explicit; until fields carry types, shape is
// the only signal.
func valueReferences(value any, targetNodeID string) bool {
	if targetNodeID != "" {
		switch v := value.(type) {
		case []any:
			for _, elem := range v {
				if asString(elem) == targetNodeID {
					return true
				}
			}
			return false
		default:
			return asString(value) == targetNodeID
		}
	}
	return len(referencedIDs(value)) > 0
}

// referencedIDs extracts identifier-shaped strings from a stored value.
func referencedIDs(value any) []string {
	var out []string
	switch v := value.(type) {
	case []any:
		for _, elem := range v {
			if s := asString(elem); isIdentifierShaped(s) {
				out = append(out, s)
			}
		}
	default:
		if s := asString(value); isIdentifierShaped(s) {
			out = append(out, s)
		}
	}
	return out
}

func isIdentifierShaped(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func applyAndFilter(ctx context.Context, p backendPrimitives, f Filter, candidates idSet) (idSet, error) {
	current := candidates.clone()
	for _, sub := range f.Filters {
		var err error
		current, err = applyFilter(ctx, p, sub, current)
		if err != nil {
			return nil, err
		}
		if len(current) == 0 {
			return current, nil
		}
	}
	return current, nil
}

// applyOrFilter unions each sub-filter's matches against the pre-filter
// candidate set.
func applyOrFilter(ctx context.Context, p backendPrimitives, f Filter, candidates idSet) (idSet, error) {
	out := idSet{}
	for _, sub := range f.Filters {
		matched, err := applyFilter(ctx, p, sub, candidates)
		if err != nil {
			return nil, err
		}
		out.union(matched)
	}
	return out, nil
}

// applyNotFilter subtracts the union of sub-filter matches from the input.
func applyNotFilter(ctx context.Context, p backendPrimitives, f Filter, candidates idSet) (idSet, error) {
	excluded := idSet{}
	for _, sub := range f.Filters {
		matched, err := applyFilter(ctx, p, sub, candidates)
		if err != nil {
			return nil, err
		}
		excluded.union(matched)
	}
	return candidates.subtract(excluded), nil
}

// sortAssembled orders results. With no spec, results sort by creation time
// then id so both backends return the same order. Nulls sort last in either
// direction; the sort is stable.
func sortAssembled(nodes []*AssembledNode, spec *SortSpec) {
	if spec == nil {
		sort.SliceStable(nodes, func(i, j int) bool {
			if !nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
				return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
			}
			return nodes[i].ID < nodes[j].ID
		})
		return
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		a, aok := sortKey(nodes[i], spec.Field)
		b, bok := sortKey(nodes[j], spec.Field)
		if !aok || !bok {
			// Missing values sort last regardless of direction.
			return aok && !bok
		}
		cmp := compareSortValues(a, b)
		if spec.Descending {
			return cmp > 0
		}
		return cmp < 0
	})
}

// sortKey extracts the sortable value for a node: builtin columns by name,
// otherwise the first property value whose field name or systemId matches.
func sortKey(node *AssembledNode, field string) (any, bool) {
	switch field {
	case "content":
		return node.Content, true
	case TemporalFieldCreated:
		return node.CreatedAt, true
	case TemporalFieldUpdated:
		return node.UpdatedAt, true
	}
	for _, values := range node.Properties {
		for _, pv := range values {
			if pv.FieldName == field || pv.FieldSystemID == field || pv.FieldID == field {
				if pv.Value == nil {
					return nil, false
				}
				return pv.Value, true
			}
		}
	}
	return nil, false
}

// compareSortValues orders two present values: numbers numerically, dates by
// epoch, strings lexicographically (after a date-parse attempt on both).
func compareSortValues(a, b any) int {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return cmpFloat(af, bf)
		}
	}
	at, aIsTime := a.(time.Time)
	bt, bIsTime := b.(time.Time)
	if !aIsTime {
		at, aIsTime = parseDate(asString(a))
	}
	if !bIsTime {
		bt, bIsTime = parseDate(asString(b))
	}
	if aIsTime && bIsTime {
		return cmpTime(at, bt)
	}
	return strings.Compare(asString(a), asString(b))
}

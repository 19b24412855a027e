package graph

import (
	"context"
	"testing"
	"time"
)

func boolPtr(v bool) *bool { return &v }

func resultIDs(result *QueryResult) map[string]bool {
	ids := make(map[string]bool, len(result.Nodes))
	for _, node := range result.Nodes {
		ids[node.ID] = true
	}
	return ids
}

func mustQuery(t *testing.T, b *SQLiteBackend, def QueryDefinition) *QueryResult {
	t.Helper()
	result, err := b.EvaluateQuery(context.Background(), def)
	if err != nil {
		t.Fatalf("evaluating query: %v", err)
	}
	return result
}

// queryFixture builds a small planning workspace: two tags, a date field and
// a status field, and four nodes in different states.
type queryFixture struct {
	backend *SQLiteBackend
	report  string // #task, start 2026-02-10, status open
	offsite string // #event, start 2026-02-20
	stale   string // #task, start 2025-12-01, status done
	note    string // untagged, no fields
}

func newQueryFixture(t *testing.T) *queryFixture {
	t.Helper()
	backend := newTestBackend(t)
	ctx := context.Background()

	mustCreate(t, backend, "Start Date", CreateOptions{SystemID: SystemFieldStartDate})
	mustCreate(t, backend, "Status", CreateOptions{SystemID: SystemFieldStatus})
	mustCreate(t, backend, "Task", CreateOptions{SystemID: SystemSupertagTask})
	mustCreate(t, backend, "Event", CreateOptions{SystemID: SystemSupertagEvent})

	fx := &queryFixture{backend: backend}
	fx.report = mustCreate(t, backend, "Write quarterly report", CreateOptions{SupertagID: SystemSupertagTask})
	fx.offsite = mustCreate(t, backend, "Team offsite", CreateOptions{SupertagID: SystemSupertagEvent})
	fx.stale = mustCreate(t, backend, "Archive old tickets", CreateOptions{SupertagID: SystemSupertagTask})
	fx.note = mustCreate(t, backend, "Random note", CreateOptions{})

	set := func(node, field string, value any) {
		if err := backend.SetProperty(ctx, node, field, value, 0); err != nil {
			t.Fatalf("setting %s on %s: %v", field, node, err)
		}
	}
	set(fx.report, SystemFieldStartDate, "2026-02-10")
	set(fx.report, SystemFieldStatus, "open")
	set(fx.offsite, SystemFieldStartDate, "2026-02-20")
	set(fx.stale, SystemFieldStartDate, "2025-12-01")
	set(fx.stale, SystemFieldStatus, "done")

	return fx
}

func TestQueryNoFiltersReturnsAllActive(t *testing.T) {
	fx := newQueryFixture(t)

	result := mustQuery(t, fx.backend, QueryDefinition{})
	// 4 content nodes + 4 schema nodes.
	if result.TotalCount != 8 {
		t.Errorf("total = %d, want 8", result.TotalCount)
	}
	if result.EvaluatedAt.IsZero() {
		t.Error("evaluated_at not stamped")
	}
}

func TestQueryExcludesSoftDeleted(t *testing.T) {
	fx := newQueryFixture(t)
	ctx := context.Background()

	before := mustQuery(t, fx.backend, QueryDefinition{
		Filters: []Filter{{Kind: FilterSupertag, SupertagID: SystemSupertagTask}},
	})
	if before.TotalCount != 2 {
		t.Fatalf("before delete: total = %d, want 2", before.TotalCount)
	}

	if err := fx.backend.DeleteNode(ctx, fx.stale); err != nil {
		t.Fatal(err)
	}

	after := mustQuery(t, fx.backend, QueryDefinition{
		Filters: []Filter{{Kind: FilterSupertag, SupertagID: SystemSupertagTask}},
	})
	if after.TotalCount != 1 || after.Nodes[0].ID != fx.report {
		t.Errorf("after delete: %v", resultIDs(after))
	}
}

func TestQuerySetAlgebra(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	mustCreate(t, backend, "A", CreateOptions{SystemID: "supertag:a"})
	mustCreate(t, backend, "B", CreateOptions{SystemID: "supertag:b"})

	onlyA := mustCreate(t, backend, "only a", CreateOptions{SupertagID: "supertag:a"})
	both := mustCreate(t, backend, "both", CreateOptions{SupertagID: "supertag:a"})
	if _, err := backend.AddNodeSupertag(ctx, both, "supertag:b"); err != nil {
		t.Fatal(err)
	}
	onlyB := mustCreate(t, backend, "only b", CreateOptions{SupertagID: "supertag:b"})
	neither := mustCreate(t, backend, "neither", CreateOptions{})

	tagFilter := func(ref string) Filter {
		return Filter{Kind: FilterSupertag, SupertagID: ref}
	}

	t.Run("and intersects", func(t *testing.T) {
		result := mustQuery(t, backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterAnd, Filters: []Filter{tagFilter("supertag:a"), tagFilter("supertag:b")}},
		}})
		if result.TotalCount != 1 || result.Nodes[0].ID != both {
			t.Errorf("and = %v, want {both}", resultIDs(result))
		}
	})

	t.Run("or unions", func(t *testing.T) {
		result := mustQuery(t, backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterOr, Filters: []Filter{tagFilter("supertag:a"), tagFilter("supertag:b")}},
		}})
		ids := resultIDs(result)
		if result.TotalCount != 3 || !ids[onlyA] || !ids[both] || !ids[onlyB] {
			t.Errorf("or = %v, want {onlyA, both, onlyB}", ids)
		}
	})

	t.Run("not subtracts", func(t *testing.T) {
		result := mustQuery(t, backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterNot, Filters: []Filter{tagFilter("supertag:a")}},
		}})
		ids := resultIDs(result)
		if ids[onlyA] || ids[both] {
			t.Errorf("not kept excluded nodes: %v", ids)
		}
		if !ids[onlyB] || !ids[neither] {
			t.Errorf("not dropped surviving nodes: %v", ids)
		}
	})

	t.Run("top-level filters chain as and", func(t *testing.T) {
		result := mustQuery(t, backend, QueryDefinition{Filters: []Filter{
			tagFilter("supertag:a"), tagFilter("supertag:b"),
		}})
		if result.TotalCount != 1 || result.Nodes[0].ID != both {
			t.Errorf("chained = %v, want {both}", resultIDs(result))
		}
	})
}

func TestSupertagFilterInheritanceWidening(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	mustCreate(t, backend, "Extends", CreateOptions{SystemID: SystemFieldExtends})
	itemID := mustCreate(t, backend, "Item", CreateOptions{SystemID: SystemSupertagItem})
	taskID := mustCreate(t, backend, "Task", CreateOptions{SystemID: SystemSupertagTask})
	if err := backend.LinkNodes(ctx, taskID, SystemFieldExtends, itemID, false); err != nil {
		t.Fatal(err)
	}

	taskNode := mustCreate(t, backend, "a task", CreateOptions{SupertagID: SystemSupertagTask})

	widened := mustQuery(t, backend, QueryDefinition{Filters: []Filter{
		{Kind: FilterSupertag, SupertagID: SystemSupertagItem},
	}})
	if widened.TotalCount != 1 || widened.Nodes[0].ID != taskNode {
		t.Errorf("default widening missed subtype instance: %v", resultIDs(widened))
	}

	strict := mustQuery(t, backend, QueryDefinition{Filters: []Filter{
		{Kind: FilterSupertag, SupertagID: SystemSupertagItem, IncludeInherited: boolPtr(false)},
	}})
	if strict.TotalCount != 0 {
		t.Errorf("strict membership should be empty, got %v", resultIDs(strict))
	}
}

func TestUnknownReferencesDegradeGracefully(t *testing.T) {
	fx := newQueryFixture(t)

	t.Run("unknown supertag empties the set", func(t *testing.T) {
		result := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterSupertag, SupertagID: "supertag:ghost"},
		}})
		if result.TotalCount != 0 {
			t.Errorf("total = %d, want 0", result.TotalCount)
		}
	})

	t.Run("negated hasField on unknown field passes all", func(t *testing.T) {
		all := mustQuery(t, fx.backend, QueryDefinition{})
		result := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterHasField, FieldID: "field:ghost", Negate: true},
		}})
		if result.TotalCount != all.TotalCount {
			t.Errorf("total = %d, want %d", result.TotalCount, all.TotalCount)
		}
	})

	t.Run("isEmpty on unknown field passes all", func(t *testing.T) {
		all := mustQuery(t, fx.backend, QueryDefinition{})
		result := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterProperty, FieldID: "field:ghost", Op: OpIsEmpty},
		}})
		if result.TotalCount != all.TotalCount {
			t.Errorf("total = %d, want %d", result.TotalCount, all.TotalCount)
		}
	})

	t.Run("unknown filter kind empties the set", func(t *testing.T) {
		result := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterKind("telepathy")},
		}})
		if result.TotalCount != 0 {
			t.Errorf("total = %d, want 0", result.TotalCount)
		}
	})
}

func TestContentFilter(t *testing.T) {
	fx := newQueryFixture(t)

	result := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{
		{Kind: FilterContent, Query: "QUARTERLY"},
	}})
	if result.TotalCount != 1 || result.Nodes[0].ID != fx.report {
		t.Errorf("case-insensitive match = %v", resultIDs(result))
	}

	sensitive := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{
		{Kind: FilterContent, Query: "QUARTERLY", CaseSensitive: true},
	}})
	if sensitive.TotalCount != 0 {
		t.Errorf("case-sensitive should not match: %v", resultIDs(sensitive))
	}

	blank := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{
		{Kind: FilterContent, Query: "   "},
	}})
	all := mustQuery(t, fx.backend, QueryDefinition{})
	if blank.TotalCount != all.TotalCount {
		t.Errorf("blank query should pass through, got %d of %d", blank.TotalCount, all.TotalCount)
	}
}

func TestPropertyFilterOperators(t *testing.T) {
	fx := newQueryFixture(t)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{
			"eq",
			Filter{Kind: FilterProperty, FieldID: SystemFieldStatus, Op: OpEq, Value: "open"},
			[]string{fx.report},
		},
		{
			"neq",
			Filter{Kind: FilterProperty, FieldID: SystemFieldStatus, Op: OpNeq, Value: "open"},
			[]string{fx.stale},
		},
		{
			"date gte",
			Filter{Kind: FilterProperty, FieldID: SystemFieldStartDate, Op: OpGte, Value: "2026-02-01"},
			[]string{fx.report, fx.offsite},
		},
		{
			"date lt",
			Filter{Kind: FilterProperty, FieldID: SystemFieldStartDate, Op: OpLt, Value: "2026-01-01"},
			[]string{fx.stale},
		},
		{
			"contains",
			Filter{Kind: FilterProperty, FieldID: SystemFieldStatus, Op: OpContains, Value: "pe"},
			[]string{fx.report},
		},
		{
			"startsWith",
			Filter{Kind: FilterProperty, FieldID: SystemFieldStartDate, Op: OpStartsWith, Value: "2026-02"},
			[]string{fx.report, fx.offsite},
		},
		{
			"isNotEmpty",
			Filter{Kind: FilterProperty, FieldID: SystemFieldStatus, Op: OpIsNotEmpty},
			[]string{fx.report, fx.stale},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{tt.filter}})
			ids := resultIDs(result)
			if result.TotalCount != len(tt.want) {
				t.Fatalf("total = %d, want %d (%v)", result.TotalCount, len(tt.want), ids)
			}
			for _, id := range tt.want {
				if !ids[id] {
					t.Errorf("missing %s", id)
				}
			}
		})
	}
}

func TestPropertyIsEmptyIncludesAbsentField(t *testing.T) {
	fx := newQueryFixture(t)

	result := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{
		{Kind: FilterSupertag, SupertagID: SystemSupertagEvent},
		{Kind: FilterProperty, FieldID: SystemFieldStatus, Op: OpIsEmpty},
	}})
	// The offsite has a start date but no status at all.
	if result.TotalCount != 1 || result.Nodes[0].ID != fx.offsite {
		t.Errorf("absent field should count as empty: %v", resultIDs(result))
	}
}

func TestPropertyFilterMatchesAnyValue(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	mustCreate(t, backend, "Target", CreateOptions{SystemID: SystemFieldTarget})
	node := mustCreate(t, backend, "Multi", CreateOptions{})
	backend.AddPropertyValue(ctx, node, SystemFieldTarget, "alpha")
	backend.AddPropertyValue(ctx, node, SystemFieldTarget, "beta")

	result := mustQuery(t, backend, QueryDefinition{Filters: []Filter{
		{Kind: FilterProperty, FieldID: SystemFieldTarget, Op: OpEq, Value: "beta"},
	}})
	if result.TotalCount != 1 || result.Nodes[0].ID != node {
		t.Errorf("any-value semantics: %v", resultIDs(result))
	}
}

func TestHasFieldFilter(t *testing.T) {
	fx := newQueryFixture(t)

	with := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{
		{Kind: FilterHasField, FieldID: SystemFieldStatus},
	}})
	ids := resultIDs(with)
	if with.TotalCount != 2 || !ids[fx.report] || !ids[fx.stale] {
		t.Errorf("hasField = %v", ids)
	}

	without := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{
		{Kind: FilterSupertag, SupertagID: SystemSupertagEvent},
		{Kind: FilterHasField, FieldID: SystemFieldStatus, Negate: true},
	}})
	if without.TotalCount != 1 || without.Nodes[0].ID != fx.offsite {
		t.Errorf("negated hasField = %v", resultIDs(without))
	}
}

func TestTemporalFilter(t *testing.T) {
	fx := newQueryFixture(t)

	t.Run("created within days", func(t *testing.T) {
		all := mustQuery(t, fx.backend, QueryDefinition{})
		result := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterTemporal, TemporalField: TemporalFieldCreated, TemporalOp: TemporalWithin, Days: 1},
		}})
		if result.TotalCount != all.TotalCount {
			t.Errorf("everything was created just now: got %d of %d", result.TotalCount, all.TotalCount)
		}
	})

	t.Run("created before a past date", func(t *testing.T) {
		result := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterTemporal, TemporalField: TemporalFieldCreated, TemporalOp: TemporalBefore,
				Date: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		}})
		if result.TotalCount != 0 {
			t.Errorf("nothing predates 2000, got %v", resultIDs(result))
		}
	})

	t.Run("property field as timestamp source", func(t *testing.T) {
		result := mustQuery(t, fx.backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterTemporal, TemporalField: SystemFieldStartDate, TemporalOp: TemporalAfter,
				Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		}})
		ids := resultIDs(result)
		if result.TotalCount != 2 || !ids[fx.report] || !ids[fx.offsite] {
			t.Errorf("start_date after 2026: %v", ids)
		}
	})
}

func TestRelationFilters(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	mustCreate(t, backend, "Target", CreateOptions{SystemID: SystemFieldTarget})
	parent := mustCreate(t, backend, "Parent", CreateOptions{})
	child := mustCreate(t, backend, "Child", CreateOptions{OwnerID: parent})
	orphan := mustCreate(t, backend, "Orphan", CreateOptions{})
	app := mustCreate(t, backend, "App", CreateOptions{})

	if err := backend.LinkNodes(ctx, child, SystemFieldTarget, app, false); err != nil {
		t.Fatal(err)
	}

	t.Run("childOf target", func(t *testing.T) {
		result := mustQuery(t, backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterRelation, RelationType: RelationChildOf, TargetNodeID: parent},
		}})
		if result.TotalCount != 1 || result.Nodes[0].ID != child {
			t.Errorf("childOf = %v", resultIDs(result))
		}
	})

	t.Run("ownedBy anyone", func(t *testing.T) {
		result := mustQuery(t, backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterRelation, RelationType: RelationOwnedBy},
		}})
		ids := resultIDs(result)
		if !ids[child] || ids[orphan] {
			t.Errorf("ownedBy = %v", ids)
		}
	})

	t.Run("linksTo explicit target", func(t *testing.T) {
		result := mustQuery(t, backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterRelation, RelationType: RelationLinksTo, FieldID: SystemFieldTarget, TargetNodeID: app},
		}})
		if result.TotalCount != 1 || result.Nodes[0].ID != child {
			t.Errorf("linksTo = %v", resultIDs(result))
		}
	})

	t.Run("linksTo anything identifier-shaped", func(t *testing.T) {
		result := mustQuery(t, backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterRelation, RelationType: RelationLinksTo, FieldID: SystemFieldTarget},
		}})
		if result.TotalCount != 1 || result.Nodes[0].ID != child {
			t.Errorf("heuristic linksTo = %v", resultIDs(result))
		}
	})

	t.Run("linkedFrom", func(t *testing.T) {
		result := mustQuery(t, backend, QueryDefinition{Filters: []Filter{
			{Kind: FilterRelation, RelationType: RelationLinkedFrom, FieldID: SystemFieldTarget, TargetNodeID: child},
		}})
		if result.TotalCount != 1 || result.Nodes[0].ID != app {
			t.Errorf("linkedFrom = %v", resultIDs(result))
		}
	})
}

func TestSortAndLimit(t *testing.T) {
	fx := newQueryFixture(t)

	t.Run("sort by date field ascending, missing last", func(t *testing.T) {
		result := mustQuery(t, fx.backend, QueryDefinition{
			Filters: []Filter{{Kind: FilterOr, Filters: []Filter{
				{Kind: FilterSupertag, SupertagID: SystemSupertagTask},
				{Kind: FilterSupertag, SupertagID: SystemSupertagEvent},
			}}},
			Sort: &SortSpec{Field: SystemFieldStartDate},
		})
		if result.TotalCount != 3 {
			t.Fatalf("total = %d, want 3", result.TotalCount)
		}
		wantOrder := []string{fx.stale, fx.report, fx.offsite}
		for i, id := range wantOrder {
			if result.Nodes[i].ID != id {
				t.Errorf("position %d: got %s, want %s", i, result.Nodes[i].ID, id)
			}
		}
	})

	t.Run("descending", func(t *testing.T) {
		result := mustQuery(t, fx.backend, QueryDefinition{
			Filters: []Filter{{Kind: FilterHasField, FieldID: SystemFieldStartDate}},
			Sort:    &SortSpec{Field: SystemFieldStartDate, Descending: true},
		})
		if result.Nodes[0].ID != fx.offsite {
			t.Errorf("descending first = %s, want offsite", result.Nodes[0].ID)
		}
	})

	t.Run("limit truncates but total counts all", func(t *testing.T) {
		result := mustQuery(t, fx.backend, QueryDefinition{
			Filters: []Filter{{Kind: FilterSupertag, SupertagID: SystemSupertagTask}},
			Limit:   1,
		})
		if len(result.Nodes) != 1 {
			t.Errorf("returned %d nodes, want 1", len(result.Nodes))
		}
		if result.TotalCount != 2 {
			t.Errorf("total = %d, want 2", result.TotalCount)
		}
	})

	t.Run("sort by content", func(t *testing.T) {
		result := mustQuery(t, fx.backend, QueryDefinition{
			Filters: []Filter{{Kind: FilterSupertag, SupertagID: SystemSupertagTask}},
			Sort:    &SortSpec{Field: "content"},
		})
		if result.Nodes[0].ID != fx.stale || result.Nodes[1].ID != fx.report {
			t.Errorf("content sort order wrong: %v", resultIDs(result))
		}
	})
}

// The planning-board query: tasks or events starting in February 2026, and
// what happens when a matching node is retagged out of scope.
func TestUpcomingWorkScenario(t *testing.T) {
	fx := newQueryFixture(t)
	ctx := context.Background()

	mustCreate(t, fx.backend, "Someday", CreateOptions{SystemID: "supertag:someday"})

	def := QueryDefinition{
		Filters: []Filter{
			{Kind: FilterOr, Filters: []Filter{
				{Kind: FilterSupertag, SupertagID: SystemSupertagTask},
				{Kind: FilterSupertag, SupertagID: SystemSupertagEvent},
			}},
			{Kind: FilterHasField, FieldID: SystemFieldStartDate},
			{Kind: FilterProperty, FieldID: SystemFieldStartDate, Op: OpGte, Value: "2026-02-01"},
			{Kind: FilterProperty, FieldID: SystemFieldStartDate, Op: OpLte, Value: "2026-02-28"},
		},
		Sort: &SortSpec{Field: SystemFieldStartDate},
	}

	result := mustQuery(t, fx.backend, def)
	if result.TotalCount != 2 {
		t.Fatalf("total = %d, want 2 (%v)", result.TotalCount, resultIDs(result))
	}
	if result.Nodes[0].ID != fx.report || result.Nodes[1].ID != fx.offsite {
		t.Errorf("order: got %s, %s", result.Nodes[0].ID, result.Nodes[1].ID)
	}

	// Retag the report out of the task/event scope; the same definition
	// re-evaluates against current state.
	if _, err := fx.backend.RemoveNodeSupertag(ctx, fx.report, SystemSupertagTask); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.backend.AddNodeSupertag(ctx, fx.report, "supertag:someday"); err != nil {
		t.Fatal(err)
	}

	result = mustQuery(t, fx.backend, def)
	if result.TotalCount != 1 || result.Nodes[0].ID != fx.offsite {
		t.Errorf("after retag: %v, want only the offsite", resultIDs(result))
	}
}

package seed

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/latticehq/lattice/internal/graph"
)

func newBackend(t *testing.T) *graph.SQLiteBackend {
	t.Helper()
	ctx := context.Background()
	backend, err := graph.NewSQLite(ctx, filepath.Join(t.TempDir(), "seed.db"))
	if err != nil {
		t.Fatalf("opening backend: %v", err)
	}
	t.Cleanup(func() { backend.Close(context.Background()) })
	return backend
}

func TestEnsureCreatesWellKnownRecords(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	if err := Ensure(ctx, backend); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	for _, e := range append(append([]entry{}, fieldEntries...), supertagEntries...) {
		node, err := backend.FindNodeBySystemID(ctx, e.systemID)
		if err != nil {
			t.Errorf("%s not seeded: %v", e.systemID, err)
			continue
		}
		if node.Content != e.name {
			t.Errorf("%s content = %q, want %q", e.systemID, node.Content, e.name)
		}
	}
}

func TestEnsureWiresHierarchy(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	if err := Ensure(ctx, backend); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	item, err := backend.FindNodeBySystemID(ctx, graph.SystemSupertagItem)
	if err != nil {
		t.Fatal(err)
	}

	for childSys := range extendsEdges {
		ancestors, err := backend.GetAncestorSupertags(ctx, childSys, graph.MaxAncestorDepth)
		if err != nil {
			t.Fatalf("ancestors of %s: %v", childSys, err)
		}
		found := false
		for _, anc := range ancestors {
			if anc.ID == item.ID {
				found = true
			}
		}
		if !found {
			t.Errorf("%s does not extend item", childSys)
		}
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	if err := Ensure(ctx, backend); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	first, err := backend.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := Ensure(ctx, backend); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	second, err := backend.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if first.Nodes != second.Nodes {
		t.Errorf("node count changed: %d -> %d", first.Nodes, second.Nodes)
	}
	if first.PropertyEdges != second.PropertyEdges {
		t.Errorf("property edge count changed: %d -> %d", first.PropertyEdges, second.PropertyEdges)
	}
}

func TestEnsurePreservesExistingRecords(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	// A record that already exists, even renamed, is left untouched.
	id, err := backend.CreateNode(ctx, "My Tasks", graph.CreateOptions{SystemID: graph.SystemSupertagTask})
	if err != nil {
		t.Fatal(err)
	}

	if err := Ensure(ctx, backend); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	node, err := backend.FindNodeBySystemID(ctx, graph.SystemSupertagTask)
	if err != nil {
		t.Fatal(err)
	}
	if node.ID != id {
		t.Errorf("existing record replaced: %s -> %s", id, node.ID)
	}
	if node.Content != "My Tasks" {
		t.Errorf("existing content overwritten: %q", node.Content)
	}
}

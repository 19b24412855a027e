// Package seed creates the well-known schema records every deployment
// carries. The set of systemIds is the one concrete cross-backend contract:
// collaborators resolve fields and supertags by these names, so the same
// records must exist behind either engine.
package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/latticehq/lattice/internal/graph"
)

// entry describes one schema record to ensure.
type entry struct {
	systemID string
	name     string
}

var fieldEntries = []entry{
	{graph.SystemFieldName, "Name"},
	{graph.SystemFieldPath, "Path"},
	{graph.SystemFieldURL, "URL"},
	{graph.SystemFieldIcon, "Icon"},
	{graph.SystemFieldCommand, "Command"},
	{graph.SystemFieldStartDate, "Start Date"},
	{graph.SystemFieldDueDate, "Due Date"},
	{graph.SystemFieldStatus, "Status"},
	{graph.SystemFieldTarget, "Target"},
	{graph.SystemFieldSupertagMarker, "Supertag"},
	{graph.SystemFieldExtends, "Extends"},
	{graph.SystemFieldFieldType, "Field Type"},
}

var supertagEntries = []entry{
	{graph.SystemSupertagItem, "Item"},
	{graph.SystemSupertagTask, "Task"},
	{graph.SystemSupertagEvent, "Event"},
	{graph.SystemSupertagCommand, "Command"},
	{graph.SystemSupertagLauncher, "Launcher"},
}

// extendsEdges is the built-in hierarchy: child systemId -> parent systemId.
var extendsEdges = map[string]string{
	graph.SystemSupertagTask:     graph.SystemSupertagItem,
	graph.SystemSupertagEvent:    graph.SystemSupertagItem,
	graph.SystemSupertagCommand:  graph.SystemSupertagItem,
	graph.SystemSupertagLauncher: graph.SystemSupertagItem,
}

// Ensure creates any missing well-known records and hierarchy edges. It is
// idempotent: records that already exist are left untouched.
func Ensure(ctx context.Context, backend graph.NodeBackend) error {
	ids := make(map[string]string)

	for _, e := range append(append([]entry{}, fieldEntries...), supertagEntries...) {
		id, err := ensureNode(ctx, backend, e)
		if err != nil {
			return err
		}
		ids[e.systemID] = id
	}

	for childSys, parentSys := range extendsEdges {
		childID, parentID := ids[childSys], ids[parentSys]
		existing, err := backend.FindNodeBySystemID(ctx, childSys)
		if err != nil {
			return fmt.Errorf("loading supertag %s: %w", childSys, err)
		}
		if hasExtendsPointer(existing, parentID) {
			continue
		}
		if err := backend.LinkNodes(ctx, childID, graph.SystemFieldExtends, parentID, false); err != nil {
			return fmt.Errorf("linking %s extends %s: %w", childSys, parentSys, err)
		}
	}

	return nil
}

// ensureNode resolves or creates one schema record.
func ensureNode(ctx context.Context, backend graph.NodeBackend, e entry) (string, error) {
	existing, err := backend.FindNodeBySystemID(ctx, e.systemID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, graph.ErrNotFound) {
		return "", fmt.Errorf("resolving %s: %w", e.systemID, err)
	}

	id, err := backend.CreateNode(ctx, e.name, graph.CreateOptions{SystemID: e.systemID})
	if err != nil {
		return "", fmt.Errorf("seeding %s: %w", e.systemID, err)
	}
	return id, nil
}

// hasExtendsPointer reports whether the assembled supertag already points at
// the parent.
func hasExtendsPointer(node *graph.AssembledNode, parentID string) bool {
	for _, values := range node.Properties {
		for _, pv := range values {
			if pv.FieldSystemID == graph.SystemFieldExtends && pv.Value == parentID {
				return true
			}
		}
	}
	return false
}

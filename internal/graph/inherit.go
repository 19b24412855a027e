package graph

import (
	"context"
	"errors"
)

// ancestorSupertags walks extends edges breadth-first from a supertag and
// returns its ancestors nearest-first. A visited set plus the depth bound
// guard against cyclic hierarchies.
func ancestorSupertags(ctx context.Context, p backendPrimitives, supertagID string, maxDepth int) ([]Supertag, error) {
	if maxDepth <= 0 {
		maxDepth = MaxAncestorDepth
	}

	visited := map[string]struct{}{supertagID: {}}
	frontier := []string{supertagID}
	var ancestors []Supertag

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			parents, err := p.extendsParents(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, parentID := range parents {
				if _, seen := visited[parentID]; seen {
					continue
				}
				visited[parentID] = struct{}{}
				parent, err := p.supertagByID(ctx, parentID)
				if err != nil {
					if errors.Is(err, ErrNotFound) {
						continue
					}
					return nil, err
				}
				ancestors = append(ancestors, *parent)
				next = append(next, parentID)
			}
		}
		frontier = next
	}

	return ancestors, nil
}

// descendantSupertagIDs walks extends edges in reverse: every supertag that
// extends the given one, transitively. Used to widen supertag filters so an
// abstract tag matches all of its subtype instances.
func descendantSupertagIDs(ctx context.Context, p backendPrimitives, supertagID string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 {
		maxDepth = MaxAncestorDepth
	}

	visited := map[string]struct{}{supertagID: {}}
	frontier := []string{supertagID}
	var descendants []string

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			children, err := p.extendsChildren(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, childID := range children {
				if _, seen := visited[childID]; seen {
					continue
				}
				visited[childID] = struct{}{}
				descendants = append(descendants, childID)
				next = append(next, childID)
			}
		}
		frontier = next
	}

	return descendants, nil
}

// supertagFieldDefinitions returns the field defaults a supertag declares on
// its shadow definition-node. Structural schema fields are filtered out; a
// supertag with no shadow node declares nothing.
func supertagFieldDefinitions(ctx context.Context, p backendPrimitives, supertagID string) ([]PropertyValue, error) {
	tag, err := p.supertagByID(ctx, supertagID)
	if err != nil {
		return nil, err
	}

	shadow, err := p.nodeBySystemID(ctx, defaultsSystemID(tag.SystemID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	assembled, err := p.assemble(ctx, shadow.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var defs []PropertyValue
	for _, values := range assembled.Properties {
		for _, pv := range values {
			if _, structural := structuralFieldSystemIDs[pv.FieldSystemID]; structural {
				continue
			}
			defs = append(defs, pv)
		}
	}
	return defs, nil
}

// resolveInheritance backfills missing fields on an assembled node from its
// supertags' declared defaults. Each supertag contributes its own defaults
// and then its ancestors', nearest-first; injection is first-writer-wins, so
// explicit values beat every default and nearer ancestors beat farther ones.
func resolveInheritance(ctx context.Context, p backendPrimitives, node *AssembledNode) error {
	seen := make(map[string]struct{})
	for _, values := range node.Properties {
		for _, pv := range values {
			seen[pv.FieldSystemID] = struct{}{}
		}
	}

	for _, tag := range node.Supertags {
		chain := []Supertag{tag}
		ancestors, err := ancestorSupertags(ctx, p, tag.ID, MaxAncestorDepth)
		if err != nil {
			return err
		}
		chain = append(chain, ancestors...)

		for _, link := range chain {
			defs, err := supertagFieldDefinitions(ctx, p, link.ID)
			if err != nil {
				return err
			}
			for _, def := range defs {
				if _, present := seen[def.FieldSystemID]; present {
					continue
				}
				seen[def.FieldSystemID] = struct{}{}
				injected := def
				injected.Order = 0
				node.Properties[def.FieldName] = append(node.Properties[def.FieldName], injected)
			}
		}
	}

	return nil
}

// nodesBySupertags returns assembled members of the given supertags: the
// union of memberships by default, the intersection when matchAll is set.
func nodesBySupertags(ctx context.Context, p backendPrimitives, supertagRefs []string, matchAll bool) ([]*AssembledNode, error) {
	var result idSet
	for _, ref := range supertagRefs {
		tag, err := p.resolveSupertagRef(ctx, ref)
		if err != nil {
			return nil, err
		}
		ids, err := p.nodeIDsBySupertag(ctx, tag.ID)
		if err != nil {
			return nil, err
		}
		members := newIDSet(ids)
		if result == nil {
			result = members
		} else if matchAll {
			result = result.intersect(members)
		} else {
			result.union(members)
		}
	}
	return assembleSet(ctx, p, result)
}

// nodesBySupertagWithInheritance returns members of a supertag or of any
// supertag extending it, so querying an abstract tag yields all subtype
// instances.
func nodesBySupertagWithInheritance(ctx context.Context, p backendPrimitives, supertagRef string) ([]*AssembledNode, error) {
	tag, err := p.resolveSupertagRef(ctx, supertagRef)
	if err != nil {
		return nil, err
	}

	tagIDs := []string{tag.ID}
	descendants, err := descendantSupertagIDs(ctx, p, tag.ID, MaxAncestorDepth)
	if err != nil {
		return nil, err
	}
	tagIDs = append(tagIDs, descendants...)

	members := idSet{}
	for _, tagID := range tagIDs {
		ids, err := p.nodeIDsBySupertag(ctx, tagID)
		if err != nil {
			return nil, err
		}
		members.union(newIDSet(ids))
	}
	return assembleSet(ctx, p, members)
}

// assembleSet materializes a candidate set in deterministic order, dropping
// anything deleted since the membership lookup.
func assembleSet(ctx context.Context, p backendPrimitives, ids idSet) ([]*AssembledNode, error) {
	nodes := make([]*AssembledNode, 0, len(ids))
	for id := range ids {
		node, err := p.assemble(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		nodes = append(nodes, node)
	}
	sortAssembled(nodes, nil)
	return nodes, nil
}

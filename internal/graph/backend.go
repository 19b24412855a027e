// Package graph implements the assembled-node storage core: one NodeBackend
// contract with two conformant engines (relational SQLite, graph-native
// Neo4j), a shared filter-evaluation algebra, and supertag inheritance
// resolution. Filter combinator logic is backend-agnostic; only primitive
// per-backend lookups differ between engines.
package graph

import (
	"context"

	"github.com/latticehq/lattice/internal/events"
)

// CreateOptions carries the optional attributes of CreateNode.
type CreateOptions struct {
	OwnerID    string
	SystemID   string
	SupertagID string
}

// NodeBackend is the shared contract both storage engines implement.
//
// Field and supertag arguments accept either an internal id or a well-known
// systemId (e.g. "field:path"); resolution results are cached per backend
// instance. Unresolvable references return ErrNotFound, except ClearProperty
// which treats "nothing to clear" as success.
type NodeBackend interface {
	// Lifecycle
	Close(ctx context.Context) error
	// Save is a persistence checkpoint; a no-op for auto-persisting engines.
	Save(ctx context.Context) error
	SetEventEmitter(emit func(events.Event))
	Stats(ctx context.Context) (*Stats, error)

	// Node operations
	CreateNode(ctx context.Context, content string, opts CreateOptions) (string, error)
	// FindNodeByID is a raw fetch: soft-deleted nodes are still returned.
	FindNodeByID(ctx context.Context, id string) (*AssembledNode, error)
	FindNodeBySystemID(ctx context.Context, systemID string) (*AssembledNode, error)
	// AssembleNode returns ErrNotFound for missing and soft-deleted nodes.
	AssembleNode(ctx context.Context, id string) (*AssembledNode, error)
	AssembleNodeWithInheritance(ctx context.Context, id string) (*AssembledNode, error)
	UpdateNodeContent(ctx context.Context, id, content string) error
	// DeleteNode soft-deletes; PurgeNode removes the node and its incident
	// edges irreversibly.
	DeleteNode(ctx context.Context, id string) error
	PurgeNode(ctx context.Context, id string) error

	// Property operations
	SetProperty(ctx context.Context, nodeID, fieldRef string, value any, order int) error
	AddPropertyValue(ctx context.Context, nodeID, fieldRef string, value any) error
	ClearProperty(ctx context.Context, nodeID, fieldRef string) error
	LinkNodes(ctx context.Context, fromID, fieldRef, toID string, appendValue bool) error

	// Supertag operations. Add/Remove are idempotent: adding a present tag
	// or removing an absent one returns false and emits nothing.
	AddNodeSupertag(ctx context.Context, nodeID, supertagRef string) (bool, error)
	RemoveNodeSupertag(ctx context.Context, nodeID, supertagRef string) (bool, error)
	GetNodesBySupertags(ctx context.Context, supertagRefs []string, matchAll bool) ([]*AssembledNode, error)
	GetNodesBySupertagWithInheritance(ctx context.Context, supertagRef string) ([]*AssembledNode, error)
	GetAncestorSupertags(ctx context.Context, supertagRef string, maxDepth int) ([]Supertag, error)
	GetSupertagFieldDefinitions(ctx context.Context, supertagRef string) ([]PropertyValue, error)

	// Query
	EvaluateQuery(ctx context.Context, def QueryDefinition) (*QueryResult, error)
}

// MaxAncestorDepth bounds extends-edge traversal; combined with a visited
// set it guards against cyclic hierarchies.
const MaxAncestorDepth = 10

// backendPrimitives are the per-engine lookups the shared evaluator and
// inheritance resolver operate on. Everything above this interface is
// backend-agnostic.
type backendPrimitives interface {
	activeNodeIDs(ctx context.Context) ([]string, error)
	activeNodes(ctx context.Context) (map[string]*Node, error)
	nodeBySystemID(ctx context.Context, systemID string) (*Node, error)
	nodeIDsBySupertag(ctx context.Context, supertagID string) ([]string, error)
	nodeIDsWithField(ctx context.Context, fieldID string) ([]string, error)
	propertiesByField(ctx context.Context, fieldID string) (map[string][]PropertyValue, error)
	propertyValues(ctx context.Context, nodeID, fieldID string) ([]PropertyValue, error)
	nodeIDsByOwner(ctx context.Context, ownerID string) ([]string, error)
	nodeIDsWithOwner(ctx context.Context) ([]string, error)
	extendsParents(ctx context.Context, supertagID string) ([]string, error)
	extendsChildren(ctx context.Context, supertagID string) ([]string, error)
	supertagByID(ctx context.Context, id string) (*Supertag, error)
	resolveFieldRef(ctx context.Context, ref string) (*Field, error)
	resolveSupertagRef(ctx context.Context, ref string) (*Supertag, error)
	assemble(ctx context.Context, id string) (*AssembledNode, error)
}

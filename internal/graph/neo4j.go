package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/latticehq/lattice/internal/events"
)

// Neo4jConfig holds Neo4j connection configuration.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jBackend implements NodeBackend over a graph-native store. Nodes,
// fields and supertags are first-class records connected by typed edges:
// HAS_FIELD (carrying raw_value and position), HAS_SUPERTAG (carrying
// position), and EXTENDS between supertags.
type Neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
	emit     func(events.Event)
	cache    *refCache
}

var _ NodeBackend = (*Neo4jBackend)(nil)

// NewNeo4j connects to Neo4j, verifies connectivity and ensures indexes.
func NewNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jBackend, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}

	r := &Neo4jBackend{driver: driver, database: database, cache: newRefCache()}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// ensureIndexes creates the id constraint and system_id index.
func (r *Neo4jBackend) ensureIndexes(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT lattice_node_id IF NOT EXISTS FOR (n:Node) REQUIRE n.id IS UNIQUE`,
		`CREATE INDEX lattice_node_system_id IF NOT EXISTS FOR (n:Node) ON (n.system_id)`,
		`CREATE INDEX lattice_node_owner IF NOT EXISTS FOR (n:Node) ON (n.owner_id)`,
	}
	for _, stmt := range statements {
		if _, err := r.write(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensuring indexes: %w", err)
		}
	}
	return nil
}

// Close closes the Neo4j connection.
func (r *Neo4jBackend) Close(ctx context.Context) error {
	if r.driver == nil {
		return nil
	}
	err := r.driver.Close(ctx)
	r.driver = nil
	return err
}

// Save is a no-op: Neo4j persists each committed transaction.
func (r *Neo4jBackend) Save(ctx context.Context) error {
	return r.checkReady()
}

// SetEventEmitter sets the callback invoked after each committed write.
func (r *Neo4jBackend) SetEventEmitter(emit func(events.Event)) {
	r.emit = emit
}

func (r *Neo4jBackend) publish(e events.Event) {
	if r.emit != nil {
		r.emit(e)
	}
}

func (r *Neo4jBackend) checkReady() error {
	if r.driver == nil {
		return ErrNotInitialized
	}
	return nil
}

// write runs one Cypher statement in a managed write transaction and
// returns the collected records.
func (r *Neo4jBackend) write(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*neo4j.Record), nil
}

// read runs one Cypher statement in a managed read transaction and returns
// the collected records.
func (r *Neo4jBackend) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*neo4j.Record), nil
}

// Stats returns record counts for health reporting.
func (r *Neo4jBackend) Stats(ctx context.Context) (*Stats, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	records, err := r.read(ctx, `
		MATCH (n:Node)
		WITH count(n) AS nodes, count(CASE WHEN n.deleted_at IS NULL THEN 1 END) AS active
		OPTIONAL MATCH ()-[p:HAS_FIELD]->()
		WITH nodes, active, count(p) AS props
		OPTIONAL MATCH ()-[t:HAS_SUPERTAG]->()
		RETURN nodes, active, props, count(t) AS tags
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	if len(records) == 0 {
		return &Stats{}, nil
	}
	rec := records[0]
	return &Stats{
		Nodes:         recordInt(rec, "nodes"),
		ActiveNodes:   recordInt(rec, "active"),
		PropertyEdges: recordInt(rec, "props"),
		SupertagEdges: recordInt(rec, "tags"),
	}, nil
}

// CreateNode creates a node record and, when a supertag is supplied,
// attaches it in the same transaction. Events fire after the commit.
func (r *Neo4jBackend) CreateNode(ctx context.Context, content string, opts CreateOptions) (string, error) {
	if err := r.checkReady(); err != nil {
		return "", err
	}

	var tag *Supertag
	if opts.SupertagID != "" {
		var err error
		tag, err = r.resolveSupertagRef(ctx, opts.SupertagID)
		if err != nil {
			return "", err
		}
	}

	id := uuid.New().String()
	now := formatTime(time.Now().UTC())

	cypher := `
		CREATE (n:Node {
			id: $id,
			content: $content,
			content_plain: $content_plain,
			system_id: $system_id,
			owner_id: $owner_id,
			created_at: $now,
			updated_at: $now
		})
	`
	params := map[string]any{
		"id":            id,
		"content":       content,
		"content_plain": plainContent(content),
		"system_id":     nullable(opts.SystemID),
		"owner_id":      nullable(opts.OwnerID),
		"now":           now,
	}
	if tag != nil {
		cypher += `
		WITH n
		MATCH (t:Node {id: $tag_id})
		CREATE (n)-[:HAS_SUPERTAG {position: 0}]->(t)
		`
		params["tag_id"] = tag.ID
	}

	if _, err := r.write(ctx, cypher, params); err != nil {
		return "", fmt.Errorf("creating node: %w", err)
	}

	created := events.New(events.NodeCreated, id)
	created.AfterValue = content
	r.publish(created)
	if tag != nil {
		added := events.New(events.SupertagAdded, id)
		added.SupertagID = tag.ID
		r.publish(added)
	}

	return id, nil
}

// FindNodeByID fetches a node raw: soft-deleted records are still returned.
func (r *Neo4jBackend) FindNodeByID(ctx context.Context, id string) (*AssembledNode, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	node, err := r.fetchNode(ctx, `MATCH (n:Node {id: $id}) RETURN n`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	return r.assembleFrom(ctx, node)
}

// FindNodeBySystemID fetches a node by its stable well-known name, raw.
func (r *Neo4jBackend) FindNodeBySystemID(ctx context.Context, systemID string) (*AssembledNode, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	node, err := r.fetchNode(ctx, `MATCH (n:Node {system_id: $system_id}) RETURN n`,
		map[string]any{"system_id": systemID})
	if err != nil {
		return nil, err
	}
	return r.assembleFrom(ctx, node)
}

// AssembleNode materializes a node, filtered to non-deleted.
func (r *Neo4jBackend) AssembleNode(ctx context.Context, id string) (*AssembledNode, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	return r.assemble(ctx, id)
}

// AssembleNodeWithInheritance assembles a node and backfills missing fields
// from its supertags' declared defaults.
func (r *Neo4jBackend) AssembleNodeWithInheritance(ctx context.Context, id string) (*AssembledNode, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	node, err := r.assemble(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := resolveInheritance(ctx, r, node); err != nil {
		return nil, err
	}
	return node, nil
}

// UpdateNodeContent replaces a node's display text.
func (r *Neo4jBackend) UpdateNodeContent(ctx context.Context, id, content string) error {
	if err := r.checkReady(); err != nil {
		return err
	}

	records, err := r.write(ctx, `
		MATCH (n:Node {id: $id})
		WITH n, n.content AS before
		SET n.content = $content, n.content_plain = $content_plain, n.updated_at = $now
		RETURN before
	`, map[string]any{
		"id":            id,
		"content":       content,
		"content_plain": plainContent(content),
		"now":           formatTime(time.Now().UTC()),
	})
	if err != nil {
		return fmt.Errorf("updating node: %w", err)
	}
	if len(records) == 0 {
		return notFoundf("node %s", id)
	}

	updated := events.New(events.NodeUpdated, id)
	updated.BeforeValue = recordString(records[0], "before")
	updated.AfterValue = content
	r.publish(updated)
	return nil
}

// DeleteNode soft-deletes a node. Deleting an already-deleted node is a
// no-op and emits nothing.
func (r *Neo4jBackend) DeleteNode(ctx context.Context, id string) error {
	if err := r.checkReady(); err != nil {
		return err
	}

	records, err := r.write(ctx, `
		MATCH (n:Node {id: $id})
		WHERE n.deleted_at IS NULL
		SET n.deleted_at = $now, n.updated_at = $now
		RETURN n.id AS id
	`, map[string]any{"id": id, "now": formatTime(time.Now().UTC())})
	if err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	if len(records) == 0 {
		exists, err := r.read(ctx, `MATCH (n:Node {id: $id}) RETURN n.id AS id`, map[string]any{"id": id})
		if err != nil {
			return err
		}
		if len(exists) == 0 {
			return notFoundf("node %s", id)
		}
		return nil
	}

	r.publish(events.New(events.NodeDeleted, id))
	return nil
}

// PurgeNode removes a node and every incident edge irreversibly.
func (r *Neo4jBackend) PurgeNode(ctx context.Context, id string) error {
	if err := r.checkReady(); err != nil {
		return err
	}

	records, err := r.write(ctx, `
		MATCH (n:Node {id: $id})
		WITH n, n.id AS nid
		DETACH DELETE n
		RETURN nid
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("purging node: %w", err)
	}
	if len(records) == 0 {
		return notFoundf("node %s", id)
	}

	r.cache.invalidate(id)
	r.publish(events.New(events.NodePurged, id))
	return nil
}

// SetProperty replaces all values of (node, field) with one value, written
// as a HAS_FIELD edge. Extends pointers additionally maintain the typed
// EXTENDS edge within the same transaction.
func (r *Neo4jBackend) SetProperty(ctx context.Context, nodeID, fieldRef string, value any, order int) error {
	if err := r.checkReady(); err != nil {
		return err
	}
	field, err := r.resolveFieldRef(ctx, fieldRef)
	if err != nil {
		return err
	}
	if err := r.requireNode(ctx, nodeID); err != nil {
		return err
	}

	raw, err := encodeRawValue(value)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}

	cypher := `
		MATCH (n:Node {id: $node_id}), (f:Node {id: $field_id})
		OPTIONAL MATCH (n)-[old:HAS_FIELD]->(f)
		WITH n, f, collect(old.raw_value) AS before, collect(old) AS olds
		FOREACH (o IN olds | DELETE o)
		CREATE (n)-[:HAS_FIELD {raw_value: $raw, position: $position}]->(f)
		RETURN before
	`
	params := map[string]any{
		"node_id":  nodeID,
		"field_id": field.ID,
		"raw":      raw,
		"position": order,
	}

	records, err := r.write(ctx, cypher, params)
	if err != nil {
		return fmt.Errorf("setting property: %w", err)
	}

	if field.SystemID == SystemFieldExtends {
		if err := r.syncExtendsEdges(ctx, nodeID); err != nil {
			return err
		}
	}

	set := events.New(events.PropertySet, nodeID)
	set.FieldID = field.ID
	if len(records) > 0 {
		if before, ok := records[0].Get("before"); ok {
			if list, ok := before.([]any); ok && len(list) > 0 {
				set.BeforeValue = decodeRawValue(asString(list[0]))
			}
		}
	}
	set.AfterValue = value
	r.publish(set)
	return nil
}

// AddPropertyValue appends a value at the next order index, computed inside
// the same write transaction. Concurrent appends to the same (node, field)
// resolve last-writer-wins.
func (r *Neo4jBackend) AddPropertyValue(ctx context.Context, nodeID, fieldRef string, value any) error {
	if err := r.checkReady(); err != nil {
		return err
	}
	field, err := r.resolveFieldRef(ctx, fieldRef)
	if err != nil {
		return err
	}
	if err := r.requireNode(ctx, nodeID); err != nil {
		return err
	}

	raw, err := encodeRawValue(value)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}

	_, err = r.write(ctx, `
		MATCH (n:Node {id: $node_id}), (f:Node {id: $field_id})
		OPTIONAL MATCH (n)-[e:HAS_FIELD]->(f)
		WITH n, f, coalesce(max(e.position) + 1, 0) AS next
		CREATE (n)-[:HAS_FIELD {raw_value: $raw, position: next}]->(f)
	`, map[string]any{
		"node_id":  nodeID,
		"field_id": field.ID,
		"raw":      raw,
	})
	if err != nil {
		return fmt.Errorf("appending value: %w", err)
	}

	if field.SystemID == SystemFieldExtends {
		if err := r.syncExtendsEdges(ctx, nodeID); err != nil {
			return err
		}
	}

	added := events.New(events.PropertyAdded, nodeID)
	added.FieldID = field.ID
	added.AfterValue = value
	r.publish(added)
	return nil
}

// ClearProperty removes all values for the field. An unresolvable field is a
// tolerant no-op: there is nothing to clear.
func (r *Neo4jBackend) ClearProperty(ctx context.Context, nodeID, fieldRef string) error {
	if err := r.checkReady(); err != nil {
		return err
	}
	field, err := r.resolveFieldRef(ctx, fieldRef)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	records, err := r.write(ctx, `
		MATCH (n:Node {id: $node_id})-[e:HAS_FIELD]->(f:Node {id: $field_id})
		WITH e, e.raw_value AS raw, e.position AS position
		ORDER BY position
		DELETE e
		RETURN raw
	`, map[string]any{"node_id": nodeID, "field_id": field.ID})
	if err != nil {
		return fmt.Errorf("clearing property: %w", err)
	}

	if field.SystemID == SystemFieldExtends {
		if err := r.syncExtendsEdges(ctx, nodeID); err != nil {
			return err
		}
	}

	for _, rec := range records {
		e := events.New(events.PropertyRemoved, nodeID)
		e.FieldID = field.ID
		e.BeforeValue = decodeRawValue(recordString(rec, "raw"))
		r.publish(e)
	}
	return nil
}

// syncExtendsEdges rebuilds a node's typed EXTENDS edges from its
// field:extends property values, keeping the graph-native hierarchy
// traversable without decoding raw values.
func (r *Neo4jBackend) syncExtendsEdges(ctx context.Context, nodeID string) error {
	values, err := r.extendsPropertyValues(ctx, nodeID)
	if err != nil {
		return err
	}
	_, err = r.write(ctx, `
		MATCH (n:Node {id: $node_id})
		OPTIONAL MATCH (n)-[e:EXTENDS]->()
		DELETE e
		WITH DISTINCT n
		UNWIND $parents AS parent_id
		MATCH (p:Node {id: parent_id})
		MERGE (n)-[:EXTENDS]->(p)
	`, map[string]any{"node_id": nodeID, "parents": values})
	if err != nil {
		return fmt.Errorf("syncing extends edges: %w", err)
	}
	return nil
}

// extendsPropertyValues decodes the parent ids stored on field:extends.
func (r *Neo4jBackend) extendsPropertyValues(ctx context.Context, nodeID string) ([]string, error) {
	records, err := r.read(ctx, `
		MATCH (n:Node {id: $node_id})-[e:HAS_FIELD]->(f:Node {system_id: $extends})
		RETURN e.raw_value AS raw
		ORDER BY e.position
	`, map[string]any{"node_id": nodeID, "extends": SystemFieldExtends})
	if err != nil {
		return nil, err
	}
	parents := make([]string, 0, len(records))
	for _, rec := range records {
		if id := asString(decodeRawValue(recordString(rec, "raw"))); id != "" {
			parents = append(parents, id)
		}
	}
	return parents, nil
}

// LinkNodes writes a reference-typed property pointing at another node.
func (r *Neo4jBackend) LinkNodes(ctx context.Context, fromID, fieldRef, toID string, appendValue bool) error {
	if err := r.checkReady(); err != nil {
		return err
	}
	if err := r.requireNode(ctx, toID); err != nil {
		return err
	}
	if appendValue {
		return r.AddPropertyValue(ctx, fromID, fieldRef, toID)
	}
	return r.SetProperty(ctx, fromID, fieldRef, toID, 0)
}

// AddNodeSupertag attaches a supertag at the next order index. Attaching an
// already-present tag returns false and emits nothing.
func (r *Neo4jBackend) AddNodeSupertag(ctx context.Context, nodeID, supertagRef string) (bool, error) {
	if err := r.checkReady(); err != nil {
		return false, err
	}
	tag, err := r.resolveSupertagRef(ctx, supertagRef)
	if err != nil {
		return false, err
	}
	if err := r.requireNode(ctx, nodeID); err != nil {
		return false, err
	}

	records, err := r.write(ctx, `
		MATCH (n:Node {id: $node_id}), (t:Node {id: $tag_id})
		WHERE NOT (n)-[:HAS_SUPERTAG]->(t)
		OPTIONAL MATCH (n)-[attached:HAS_SUPERTAG]->()
		WITH n, t, coalesce(max(attached.position) + 1, 0) AS next
		CREATE (n)-[:HAS_SUPERTAG {position: next}]->(t)
		RETURN next
	`, map[string]any{"node_id": nodeID, "tag_id": tag.ID})
	if err != nil {
		return false, fmt.Errorf("attaching supertag: %w", err)
	}
	if len(records) == 0 {
		return false, nil
	}

	added := events.New(events.SupertagAdded, nodeID)
	added.SupertagID = tag.ID
	r.publish(added)
	return true, nil
}

// RemoveNodeSupertag detaches a supertag. Removing an absent tag returns
// false and emits nothing.
func (r *Neo4jBackend) RemoveNodeSupertag(ctx context.Context, nodeID, supertagRef string) (bool, error) {
	if err := r.checkReady(); err != nil {
		return false, err
	}
	tag, err := r.resolveSupertagRef(ctx, supertagRef)
	if err != nil {
		return false, err
	}

	records, err := r.write(ctx, `
		MATCH (n:Node {id: $node_id})-[e:HAS_SUPERTAG]->(t:Node {id: $tag_id})
		DELETE e
		RETURN count(*) AS removed
	`, map[string]any{"node_id": nodeID, "tag_id": tag.ID})
	if err != nil {
		return false, fmt.Errorf("detaching supertag: %w", err)
	}
	if len(records) == 0 || recordInt(records[0], "removed") == 0 {
		return false, nil
	}

	removed := events.New(events.SupertagRemoved, nodeID)
	removed.SupertagID = tag.ID
	r.publish(removed)
	return true, nil
}

// GetNodesBySupertags returns assembled members of the given supertags:
// union by default, intersection when matchAll is set.
func (r *Neo4jBackend) GetNodesBySupertags(ctx context.Context, supertagRefs []string, matchAll bool) ([]*AssembledNode, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	return nodesBySupertags(ctx, r, supertagRefs, matchAll)
}

// GetNodesBySupertagWithInheritance widens membership through the extends
// hierarchy: querying an abstract tag returns all subtype instances.
func (r *Neo4jBackend) GetNodesBySupertagWithInheritance(ctx context.Context, supertagRef string) ([]*AssembledNode, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	return nodesBySupertagWithInheritance(ctx, r, supertagRef)
}

// GetAncestorSupertags walks EXTENDS edges up the hierarchy, nearest-first.
func (r *Neo4jBackend) GetAncestorSupertags(ctx context.Context, supertagRef string, maxDepth int) ([]Supertag, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	tag, err := r.resolveSupertagRef(ctx, supertagRef)
	if err != nil {
		return nil, err
	}
	return ancestorSupertags(ctx, r, tag.ID, maxDepth)
}

// GetSupertagFieldDefinitions returns the defaults declared on a supertag's
// shadow definition-node.
func (r *Neo4jBackend) GetSupertagFieldDefinitions(ctx context.Context, supertagRef string) ([]PropertyValue, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	tag, err := r.resolveSupertagRef(ctx, supertagRef)
	if err != nil {
		return nil, err
	}
	return supertagFieldDefinitions(ctx, r, tag.ID)
}

// EvaluateQuery runs the shared set-refinement evaluator over this engine's
// primitive lookups.
func (r *Neo4jBackend) EvaluateQuery(ctx context.Context, def QueryDefinition) (*QueryResult, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	return evaluateQuery(ctx, r, def)
}

// --- primitives ---

func (r *Neo4jBackend) activeNodeIDs(ctx context.Context) ([]string, error) {
	records, err := r.read(ctx, `MATCH (n:Node) WHERE n.deleted_at IS NULL RETURN n.id AS id`, nil)
	if err != nil {
		return nil, err
	}
	return recordStrings(records, "id"), nil
}

func (r *Neo4jBackend) activeNodes(ctx context.Context) (map[string]*Node, error) {
	records, err := r.read(ctx, `MATCH (n:Node) WHERE n.deleted_at IS NULL RETURN n`, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Node, len(records))
	for _, rec := range records {
		node, err := nodeFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out[node.ID] = node
	}
	return out, nil
}

func (r *Neo4jBackend) nodeBySystemID(ctx context.Context, systemID string) (*Node, error) {
	return r.fetchNode(ctx, `
		MATCH (n:Node {system_id: $system_id})
		WHERE n.deleted_at IS NULL
		RETURN n
	`, map[string]any{"system_id": systemID})
}

func (r *Neo4jBackend) nodeIDsBySupertag(ctx context.Context, supertagID string) ([]string, error) {
	records, err := r.read(ctx, `
		MATCH (n:Node)-[:HAS_SUPERTAG]->(t:Node {id: $tag_id})
		WHERE n.deleted_at IS NULL
		RETURN n.id AS id
	`, map[string]any{"tag_id": supertagID})
	if err != nil {
		return nil, err
	}
	return recordStrings(records, "id"), nil
}

func (r *Neo4jBackend) nodeIDsWithField(ctx context.Context, fieldID string) ([]string, error) {
	records, err := r.read(ctx, `
		MATCH (n:Node)-[:HAS_FIELD]->(f:Node {id: $field_id})
		WHERE n.deleted_at IS NULL
		RETURN DISTINCT n.id AS id
	`, map[string]any{"field_id": fieldID})
	if err != nil {
		return nil, err
	}
	return recordStrings(records, "id"), nil
}

func (r *Neo4jBackend) propertiesByField(ctx context.Context, fieldID string) (map[string][]PropertyValue, error) {
	field, err := r.fieldByID(ctx, fieldID)
	if err != nil {
		return nil, err
	}

	records, err := r.read(ctx, `
		MATCH (n:Node)-[e:HAS_FIELD]->(f:Node {id: $field_id})
		WHERE n.deleted_at IS NULL
		RETURN n.id AS node_id, e.raw_value AS raw, e.position AS position
		ORDER BY n.id, e.position
	`, map[string]any{"field_id": fieldID})
	if err != nil {
		return nil, err
	}

	out := make(map[string][]PropertyValue)
	for _, rec := range records {
		nodeID := recordString(rec, "node_id")
		raw := recordString(rec, "raw")
		out[nodeID] = append(out[nodeID], PropertyValue{
			FieldID:       field.ID,
			FieldSystemID: field.SystemID,
			FieldName:     field.Name,
			Value:         decodeRawValue(raw),
			RawValue:      raw,
			Order:         int(recordInt(rec, "position")),
		})
	}
	return out, nil
}

func (r *Neo4jBackend) propertyValues(ctx context.Context, nodeID, fieldID string) ([]PropertyValue, error) {
	field, err := r.fieldByID(ctx, fieldID)
	if err != nil {
		return nil, err
	}

	records, err := r.read(ctx, `
		MATCH (n:Node {id: $node_id})-[e:HAS_FIELD]->(f:Node {id: $field_id})
		RETURN e.raw_value AS raw, e.position AS position
		ORDER BY e.position
	`, map[string]any{"node_id": nodeID, "field_id": fieldID})
	if err != nil {
		return nil, err
	}

	var out []PropertyValue
	for _, rec := range records {
		raw := recordString(rec, "raw")
		out = append(out, PropertyValue{
			FieldID:       field.ID,
			FieldSystemID: field.SystemID,
			FieldName:     field.Name,
			Value:         decodeRawValue(raw),
			RawValue:      raw,
			Order:         int(recordInt(rec, "position")),
		})
	}
	return out, nil
}

func (r *Neo4jBackend) nodeIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	records, err := r.read(ctx, `
		MATCH (n:Node {owner_id: $owner_id})
		WHERE n.deleted_at IS NULL
		RETURN n.id AS id
	`, map[string]any{"owner_id": ownerID})
	if err != nil {
		return nil, err
	}
	return recordStrings(records, "id"), nil
}

func (r *Neo4jBackend) nodeIDsWithOwner(ctx context.Context) ([]string, error) {
	records, err := r.read(ctx, `
		MATCH (n:Node)
		WHERE n.deleted_at IS NULL AND n.owner_id IS NOT NULL AND n.owner_id <> ''
		RETURN n.id AS id
	`, nil)
	if err != nil {
		return nil, err
	}
	return recordStrings(records, "id"), nil
}

// extendsParents traverses the typed EXTENDS edges natively.
func (r *Neo4jBackend) extendsParents(ctx context.Context, supertagID string) ([]string, error) {
	records, err := r.read(ctx, `
		MATCH (t:Node {id: $tag_id})-[:EXTENDS]->(p:Node)
		RETURN p.id AS id
	`, map[string]any{"tag_id": supertagID})
	if err != nil {
		return nil, err
	}
	return recordStrings(records, "id"), nil
}

func (r *Neo4jBackend) extendsChildren(ctx context.Context, supertagID string) ([]string, error) {
	records, err := r.read(ctx, `
		MATCH (c:Node)-[:EXTENDS]->(t:Node {id: $tag_id})
		WHERE c.deleted_at IS NULL
		RETURN c.id AS id
	`, map[string]any{"tag_id": supertagID})
	if err != nil {
		return nil, err
	}
	return recordStrings(records, "id"), nil
}

func (r *Neo4jBackend) supertagByID(ctx context.Context, id string) (*Supertag, error) {
	records, err := r.read(ctx, `
		MATCH (n:Node {id: $id})
		WHERE n.deleted_at IS NULL
		RETURN n.content AS content, n.system_id AS system_id
	`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFoundf("supertag %s", id)
	}
	content := recordString(records[0], "content")
	systemID := recordString(records[0], "system_id")
	return &Supertag{ID: id, SystemID: systemID, Name: displayName(content, systemID)}, nil
}

func (r *Neo4jBackend) fieldByID(ctx context.Context, id string) (*Field, error) {
	records, err := r.read(ctx, `
		MATCH (n:Node {id: $id})
		WHERE n.deleted_at IS NULL
		RETURN n.content AS content, n.system_id AS system_id
	`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFoundf("field %s", id)
	}
	content := recordString(records[0], "content")
	systemID := recordString(records[0], "system_id")
	return &Field{ID: id, SystemID: systemID, Name: displayName(content, systemID)}, nil
}

// resolveFieldRef resolves a systemId or internal id to a field, caching on
// success only.
func (r *Neo4jBackend) resolveFieldRef(ctx context.Context, ref string) (*Field, error) {
	if ref == "" {
		return nil, notFoundf("field reference empty")
	}
	if f, ok := r.cache.field(ref); ok {
		return f, nil
	}

	records, err := r.read(ctx, `
		MATCH (n:Node)
		WHERE (n.system_id = $ref OR n.id = $ref) AND n.deleted_at IS NULL
		RETURN n.id AS id, n.content AS content, n.system_id AS system_id
		LIMIT 1
	`, map[string]any{"ref": ref})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFoundf("field %s", ref)
	}

	rec := records[0]
	field := &Field{
		ID:       recordString(rec, "id"),
		SystemID: recordString(rec, "system_id"),
		Name:     displayName(recordString(rec, "content"), recordString(rec, "system_id")),
	}
	r.cache.storeField(ref, field)
	return field, nil
}

// resolveSupertagRef resolves a systemId or internal id to a supertag,
// caching on success only.
func (r *Neo4jBackend) resolveSupertagRef(ctx context.Context, ref string) (*Supertag, error) {
	if ref == "" {
		return nil, notFoundf("supertag reference empty")
	}
	if t, ok := r.cache.supertag(ref); ok {
		return t, nil
	}

	records, err := r.read(ctx, `
		MATCH (n:Node)
		WHERE (n.system_id = $ref OR n.id = $ref) AND n.deleted_at IS NULL
		RETURN n.id AS id, n.content AS content, n.system_id AS system_id
		LIMIT 1
	`, map[string]any{"ref": ref})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFoundf("supertag %s", ref)
	}

	rec := records[0]
	tag := &Supertag{
		ID:       recordString(rec, "id"),
		SystemID: recordString(rec, "system_id"),
		Name:     displayName(recordString(rec, "content"), recordString(rec, "system_id")),
	}
	r.cache.storeSupertag(ref, tag)
	return tag, nil
}

// assemble materializes one active node with its properties and supertags.
func (r *Neo4jBackend) assemble(ctx context.Context, id string) (*AssembledNode, error) {
	node, err := r.fetchNode(ctx, `
		MATCH (n:Node {id: $id})
		WHERE n.deleted_at IS NULL
		RETURN n
	`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	return r.assembleFrom(ctx, node)
}

// assembleFrom attaches properties and supertags to an already-fetched node
// record.
func (r *Neo4jBackend) assembleFrom(ctx context.Context, node *Node) (*AssembledNode, error) {
	assembled := &AssembledNode{Node: *node, Properties: make(map[string][]PropertyValue)}

	propRecords, err := r.read(ctx, `
		MATCH (n:Node {id: $id})-[e:HAS_FIELD]->(f:Node)
		RETURN f.id AS field_id, f.content AS content, f.system_id AS system_id,
		       e.raw_value AS raw, e.position AS position
		ORDER BY f.id, e.position
	`, map[string]any{"id": node.ID})
	if err != nil {
		return nil, err
	}
	for _, rec := range propRecords {
		systemID := recordString(rec, "system_id")
		name := displayName(recordString(rec, "content"), systemID)
		raw := recordString(rec, "raw")
		assembled.Properties[name] = append(assembled.Properties[name], PropertyValue{
			FieldID:       recordString(rec, "field_id"),
			FieldSystemID: systemID,
			FieldName:     name,
			Value:         decodeRawValue(raw),
			RawValue:      raw,
			Order:         int(recordInt(rec, "position")),
		})
	}

	tagRecords, err := r.read(ctx, `
		MATCH (n:Node {id: $id})-[e:HAS_SUPERTAG]->(t:Node)
		RETURN t.id AS tag_id, t.content AS content, t.system_id AS system_id
		ORDER BY e.position
	`, map[string]any{"id": node.ID})
	if err != nil {
		return nil, err
	}
	for _, rec := range tagRecords {
		systemID := recordString(rec, "system_id")
		assembled.Supertags = append(assembled.Supertags, Supertag{
			ID:       recordString(rec, "tag_id"),
			SystemID: systemID,
			Name:     displayName(recordString(rec, "content"), systemID),
		})
	}

	return assembled, nil
}

// requireNode verifies a node record exists (deleted or not).
func (r *Neo4jBackend) requireNode(ctx context.Context, id string) error {
	records, err := r.read(ctx, `MATCH (n:Node {id: $id}) RETURN n.id AS id`, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return notFoundf("node %s", id)
	}
	return nil
}

// fetchNode runs a single-node query and decodes the record.
func (r *Neo4jBackend) fetchNode(ctx context.Context, cypher string, params map[string]any) (*Node, error) {
	records, err := r.read(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFoundf("node")
	}
	return nodeFromRecord(records[0])
}

// nodeFromRecord decodes a returned Node entity.
func nodeFromRecord(rec *neo4j.Record) (*Node, error) {
	value, ok := rec.Get("n")
	if !ok {
		return nil, fmt.Errorf("record missing node column")
	}
	entity, ok := value.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected node record type %T", value)
	}

	props := entity.Props
	node := &Node{
		ID:           propString(props, "id"),
		Content:      propString(props, "content"),
		ContentPlain: propString(props, "content_plain"),
		SystemID:     propString(props, "system_id"),
		OwnerID:      propString(props, "owner_id"),
		CreatedAt:    parseStoredTime(propString(props, "created_at")),
		UpdatedAt:    parseStoredTime(propString(props, "updated_at")),
	}
	if deleted := propString(props, "deleted_at"); deleted != "" {
		t := parseStoredTime(deleted)
		node.DeletedAt = &t
	}
	return node, nil
}

func propString(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func recordString(rec *neo4j.Record, key string) string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func recordInt(rec *neo4j.Record, key string) int64 {
	if v, ok := rec.Get(key); ok {
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		case float64:
			return int64(n)
		}
	}
	return 0
}

func recordStrings(records []*neo4j.Record, key string) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		if s := recordString(rec, key); s != "" {
			out = append(out, s)
		}
	}
	return out
}

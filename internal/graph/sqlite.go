package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/latticehq/lattice/internal/events"
)

// SQLiteBackend implements NodeBackend over flat relational tables.
type SQLiteBackend struct {
	db    *sql.DB
	emit  func(events.Event)
	cache *refCache
}

var _ NodeBackend = (*SQLiteBackend)(nil)

// NewSQLite opens (or creates) a SQLite-backed store. Use ":memory:" for an
// in-memory database.
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// A single connection keeps in-memory databases coherent and serializes
	// writers, matching the single-user design.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &SQLiteBackend{db: db, cache: newRefCache()}, nil
}

// Close closes the SQLite connection.
func (r *SQLiteBackend) Close(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Save checkpoints the WAL. SQLite persists every committed statement, so
// this only compacts the log.
func (r *SQLiteBackend) Save(ctx context.Context) error {
	if err := r.checkReady(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

// SetEventEmitter sets the callback invoked after each committed write.
func (r *SQLiteBackend) SetEventEmitter(emit func(events.Event)) {
	r.emit = emit
}

func (r *SQLiteBackend) publish(e events.Event) {
	if r.emit != nil {
		r.emit(e)
	}
}

func (r *SQLiteBackend) checkReady() error {
	if r.db == nil {
		return ErrNotInitialized
	}
	return nil
}

// Stats returns record counts for health reporting.
func (r *SQLiteBackend) Stats(ctx context.Context) (*Stats, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	var s Stats
	row := r.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM nodes),
		       (SELECT COUNT(*) FROM nodes WHERE deleted_at IS NULL),
		       (SELECT COUNT(*) FROM node_properties),
		       (SELECT COUNT(*) FROM node_supertags)
	`)
	if err := row.Scan(&s.Nodes, &s.ActiveNodes, &s.PropertyEdges, &s.SupertagEdges); err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	return &s, nil
}

// CreateNode inserts a new node and, when a supertag is supplied, attaches
// it in the same transaction. Events fire after the commit, in call order.
func (r *SQLiteBackend) CreateNode(ctx context.Context, content string, opts CreateOptions) (string, error) {
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
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (id, content, content_plain, system_id, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, content, plainContent(content), nullable(opts.SystemID), nullable(opts.OwnerID),
		formatTime(now), formatTime(now))
	if err != nil {
		return "", fmt.Errorf("inserting node: %w", err)
	}

	if tag != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO node_supertags (node_id, supertag_id, position) VALUES (?, ?, 0)
		`, id, tag.ID)
		if err != nil {
			return "", fmt.Errorf("attaching supertag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
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
func (r *SQLiteBackend) FindNodeByID(ctx context.Context, id string) (*AssembledNode, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	node, err := r.scanOneNode(ctx, `
		SELECT id, content, content_plain, system_id, owner_id, created_at, updated_at, deleted_at
		FROM nodes WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	return r.assembleFrom(ctx, node)
}

// FindNodeBySystemID fetches a node by its stable well-known name, raw.
func (r *SQLiteBackend) FindNodeBySystemID(ctx context.Context, systemID string) (*AssembledNode, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	node, err := r.scanOneNode(ctx, `
		SELECT id, content, content_plain, system_id, owner_id, created_at, updated_at, deleted_at
		FROM nodes WHERE system_id = ?
	`, systemID)
	if err != nil {
		return nil, err
	}
	return r.assembleFrom(ctx, node)
}

// AssembleNode materializes a node, filtered to non-deleted.
func (r *SQLiteBackend) AssembleNode(ctx context.Context, id string) (*AssembledNode, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	return r.assemble(ctx, id)
}

// AssembleNodeWithInheritance assembles a node and backfills missing fields
// from its supertags' declared defaults.
func (r *SQLiteBackend) AssembleNodeWithInheritance(ctx context.Context, id string) (*AssembledNode, error) {
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
func (r *SQLiteBackend) UpdateNodeContent(ctx context.Context, id, content string) error {
	if err := r.checkReady(); err != nil {
		return err
	}

	var before string
	err := r.db.QueryRowContext(ctx, `SELECT content FROM nodes WHERE id = ?`, id).Scan(&before)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundf("node %s", id)
		}
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE nodes SET content = ?, content_plain = ?, updated_at = ? WHERE id = ?
	`, content, plainContent(content), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("updating node: %w", err)
	}

	updated := events.New(events.NodeUpdated, id)
	updated.BeforeValue = before
	updated.AfterValue = content
	r.publish(updated)
	return nil
}

// DeleteNode soft-deletes a node. Deleting an already-deleted node is a
// no-op and emits nothing.
func (r *SQLiteBackend) DeleteNode(ctx context.Context, id string) error {
	if err := r.checkReady(); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE nodes SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL
	`, formatTime(time.Now().UTC()), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFoundf("node %s", id)
			}
			return err
		}
		return nil
	}

	r.publish(events.New(events.NodeDeleted, id))
	return nil
}

// PurgeNode removes a node and every incident edge irreversibly.
func (r *SQLiteBackend) PurgeNode(ctx context.Context, id string) error {
	if err := r.checkReady(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM node_properties WHERE node_id = ? OR field_id = ?`, id, id); err != nil {
		return fmt.Errorf("sweeping property edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM node_supertags WHERE node_id = ? OR supertag_id = ?`, id, id); err != nil {
		return fmt.Errorf("sweeping supertag edges: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("purging node: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFoundf("node %s", id)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.cache.invalidate(id)
	r.publish(events.New(events.NodePurged, id))
	return nil
}

// SetProperty replaces all values of (node, field) with one value.
func (r *SQLiteBackend) SetProperty(ctx context.Context, nodeID, fieldRef string, value any, order int) error {
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

	prior, err := r.propertyValues(ctx, nodeID, field.ID)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM node_properties WHERE node_id = ? AND field_id = ?`, nodeID, field.ID); err != nil {
		return fmt.Errorf("clearing prior values: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO node_properties (node_id, field_id, raw_value, position) VALUES (?, ?, ?, ?)
	`, nodeID, field.ID, raw, order); err != nil {
		return fmt.Errorf("inserting value: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	set := events.New(events.PropertySet, nodeID)
	set.FieldID = field.ID
	if len(prior) > 0 {
		set.BeforeValue = prior[0].Value
	}
	set.AfterValue = value
	r.publish(set)
	return nil
}

// AddPropertyValue appends a value at the next order index. The index is
// computed and inserted in one statement; concurrent appends to the same
// (node, field) resolve last-writer-wins.
func (r *SQLiteBackend) AddPropertyValue(ctx context.Context, nodeID, fieldRef string, value any) error {
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

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO node_properties (node_id, field_id, raw_value, position)
		VALUES (?, ?, ?, (
			SELECT COALESCE(MAX(position) + 1, 0) FROM node_properties WHERE node_id = ? AND field_id = ?
		))
	`, nodeID, field.ID, raw, nodeID, field.ID)
	if err != nil {
		return fmt.Errorf("appending value: %w", err)
	}

	added := events.New(events.PropertyAdded, nodeID)
	added.FieldID = field.ID
	added.AfterValue = value
	r.publish(added)
	return nil
}

// ClearProperty removes all values for the field. An unresolvable field is a
// tolerant no-op: there is nothing to clear.
func (r *SQLiteBackend) ClearProperty(ctx context.Context, nodeID, fieldRef string) error {
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

	removed, err := r.propertyValues(ctx, nodeID, field.ID)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return nil
	}

	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM node_properties WHERE node_id = ? AND field_id = ?
	`, nodeID, field.ID); err != nil {
		return fmt.Errorf("clearing property: %w", err)
	}

	for _, pv := range removed {
		e := events.New(events.PropertyRemoved, nodeID)
		e.FieldID = field.ID
		e.BeforeValue = pv.Value
		r.publish(e)
	}
	return nil
}

// LinkNodes writes a reference-typed property pointing at another node.
func (r *SQLiteBackend) LinkNodes(ctx context.Context, fromID, fieldRef, toID string, appendValue bool) error {
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
func (r *SQLiteBackend) AddNodeSupertag(ctx context.Context, nodeID, supertagRef string) (bool, error) {
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

	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO node_supertags (node_id, supertag_id, position)
		VALUES (?, ?, (
			SELECT COALESCE(MAX(position) + 1, 0) FROM node_supertags WHERE node_id = ?
		))
	`, nodeID, tag.ID, nodeID)
	if err != nil {
		return false, fmt.Errorf("attaching supertag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	added := events.New(events.SupertagAdded, nodeID)
	added.SupertagID = tag.ID
	r.publish(added)
	return true, nil
}

// RemoveNodeSupertag detaches a supertag. Removing an absent tag returns
// false and emits nothing.
func (r *SQLiteBackend) RemoveNodeSupertag(ctx context.Context, nodeID, supertagRef string) (bool, error) {
	if err := r.checkReady(); err != nil {
		return false, err
	}
	tag, err := r.resolveSupertagRef(ctx, supertagRef)
	if err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM node_supertags WHERE node_id = ? AND supertag_id = ?
	`, nodeID, tag.ID)
	if err != nil {
		return false, fmt.Errorf("detaching supertag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	removed := events.New(events.SupertagRemoved, nodeID)
	removed.SupertagID = tag.ID
	r.publish(removed)
	return true, nil
}

// GetNodesBySupertags returns assembled members of the given supertags:
// union by default, intersection when matchAll is set.
func (r *SQLiteBackend) GetNodesBySupertags(ctx context.Context, supertagRefs []string, matchAll bool) ([]*AssembledNode, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	return nodesBySupertags(ctx, r, supertagRefs, matchAll)
}

// GetNodesBySupertagWithInheritance widens membership through the extends
// hierarchy: querying an abstract tag returns all subtype instances.
func (r *SQLiteBackend) GetNodesBySupertagWithInheritance(ctx context.Context, supertagRef string) ([]*AssembledNode, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	return nodesBySupertagWithInheritance(ctx, r, supertagRef)
}

// GetAncestorSupertags walks extends edges up the hierarchy, nearest-first.
func (r *SQLiteBackend) GetAncestorSupertags(ctx context.Context, supertagRef string, maxDepth int) ([]Supertag, error) {
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
func (r *SQLiteBackend) GetSupertagFieldDefinitions(ctx context.Context, supertagRef string) ([]PropertyValue, error) {
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
func (r *SQLiteBackend) EvaluateQuery(ctx context.Context, def QueryDefinition) (*QueryResult, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	return evaluateQuery(ctx, r, def)
}

// --- primitives ---

func (r *SQLiteBackend) activeNodeIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM nodes WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *SQLiteBackend) activeNodes(ctx context.Context) (map[string]*Node, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, content, content_plain, system_id, owner_id, created_at, updated_at, deleted_at
		FROM nodes WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*Node)
	for rows.Next() {
		node, err := scanNodeRow(rows)
		if err != nil {
			return nil, err
		}
		out[node.ID] = node
	}
	return out, rows.Err()
}

func (r *SQLiteBackend) nodeBySystemID(ctx context.Context, systemID string) (*Node, error) {
	return r.scanOneNode(ctx, `
		SELECT id, content, content_plain, system_id, owner_id, created_at, updated_at, deleted_at
		FROM nodes WHERE system_id = ? AND deleted_at IS NULL
	`, systemID)
}

func (r *SQLiteBackend) nodeIDsBySupertag(ctx context.Context, supertagID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.node_id FROM node_supertags s
		JOIN nodes n ON n.id = s.node_id
		WHERE s.supertag_id = ? AND n.deleted_at IS NULL
	`, supertagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *SQLiteBackend) nodeIDsWithField(ctx context.Context, fieldID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT p.node_id FROM node_properties p
		JOIN nodes n ON n.id = p.node_id
		WHERE p.field_id = ? AND n.deleted_at IS NULL
	`, fieldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *SQLiteBackend) propertiesByField(ctx context.Context, fieldID string) (map[string][]PropertyValue, error) {
	field, err := r.fieldByID(ctx, fieldID)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.node_id, p.raw_value, p.position FROM node_properties p
		JOIN nodes n ON n.id = p.node_id
		WHERE p.field_id = ? AND n.deleted_at IS NULL
		ORDER BY p.node_id, p.position
	`, fieldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]PropertyValue)
	for rows.Next() {
		var nodeID, raw string
		var position int
		if err := rows.Scan(&nodeID, &raw, &position); err != nil {
			return nil, err
		}
		out[nodeID] = append(out[nodeID], PropertyValue{
			FieldID:       field.ID,
			FieldSystemID: field.SystemID,
			FieldName:     field.Name,
			Value:         decodeRawValue(raw),
			RawValue:      raw,
			Order:         position,
		})
	}
	return out, rows.Err()
}

func (r *SQLiteBackend) propertyValues(ctx context.Context, nodeID, fieldID string) ([]PropertyValue, error) {
	field, err := r.fieldByID(ctx, fieldID)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT raw_value, position FROM node_properties
		WHERE node_id = ? AND field_id = ?
		ORDER BY position
	`, nodeID, fieldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PropertyValue
	for rows.Next() {
		var raw string
		var position int
		if err := rows.Scan(&raw, &position); err != nil {
			return nil, err
		}
		out = append(out, PropertyValue{
			FieldID:       field.ID,
			FieldSystemID: field.SystemID,
			FieldName:     field.Name,
			Value:         decodeRawValue(raw),
			RawValue:      raw,
			Order:         position,
		})
	}
	return out, rows.Err()
}

func (r *SQLiteBackend) nodeIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM nodes WHERE owner_id = ? AND deleted_at IS NULL
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *SQLiteBackend) nodeIDsWithOwner(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM nodes WHERE owner_id IS NOT NULL AND owner_id != '' AND deleted_at IS NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// extendsParents reads the extends pointers stored as property edges on the
// "field:extends" field.
func (r *SQLiteBackend) extendsParents(ctx context.Context, supertagID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.raw_value FROM node_properties p
		JOIN nodes f ON f.id = p.field_id
		WHERE p.node_id = ? AND f.system_id = ?
		ORDER BY p.position
	`, supertagID, SystemFieldExtends)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parents []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if id := asString(decodeRawValue(raw)); id != "" {
			parents = append(parents, id)
		}
	}
	return parents, rows.Err()
}

func (r *SQLiteBackend) extendsChildren(ctx context.Context, supertagID string) ([]string, error) {
	raw, err := encodeRawValue(supertagID)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.node_id FROM node_properties p
		JOIN nodes f ON f.id = p.field_id
		JOIN nodes c ON c.id = p.node_id
		WHERE f.system_id = ? AND p.raw_value = ? AND c.deleted_at IS NULL
	`, SystemFieldExtends, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *SQLiteBackend) supertagByID(ctx context.Context, id string) (*Supertag, error) {
	var content, systemID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT content, system_id FROM nodes WHERE id = ? AND deleted_at IS NULL
	`, id).Scan(&content, &systemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundf("supertag %s", id)
		}
		return nil, err
	}
	return &Supertag{ID: id, SystemID: systemID.String, Name: displayName(content.String, systemID.String)}, nil
}

func (r *SQLiteBackend) fieldByID(ctx context.Context, id string) (*Field, error) {
	var content, systemID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT content, system_id FROM nodes WHERE id = ? AND deleted_at IS NULL
	`, id).Scan(&content, &systemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundf("field %s", id)
		}
		return nil, err
	}
	return &Field{ID: id, SystemID: systemID.String, Name: displayName(content.String, systemID.String)}, nil
}

// resolveFieldRef resolves a systemId or internal id to a field, caching on
// success only.
func (r *SQLiteBackend) resolveFieldRef(ctx context.Context, ref string) (*Field, error) {
	if ref == "" {
		return nil, notFoundf("field reference empty")
	}
	if f, ok := r.cache.field(ref); ok {
		return f, nil
	}

	var id string
	var content, systemID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, content, system_id FROM nodes
		WHERE (system_id = ? OR id = ?) AND deleted_at IS NULL
	`, ref, ref).Scan(&id, &content, &systemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundf("field %s", ref)
		}
		return nil, err
	}

	field := &Field{ID: id, SystemID: systemID.String, Name: displayName(content.String, systemID.String)}
	r.cache.storeField(ref, field)
	return field, nil
}

// resolveSupertagRef resolves a systemId or internal id to a supertag,
// caching on success only.
func (r *SQLiteBackend) resolveSupertagRef(ctx context.Context, ref string) (*Supertag, error) {
	if ref == "" {
		return nil, notFoundf("supertag reference empty")
	}
	if t, ok := r.cache.supertag(ref); ok {
		return t, nil
	}

	var id string
	var content, systemID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, content, system_id FROM nodes
		WHERE (system_id = ? OR id = ?) AND deleted_at IS NULL
	`, ref, ref).Scan(&id, &content, &systemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundf("supertag %s", ref)
		}
		return nil, err
	}

	tag := &Supertag{ID: id, SystemID: systemID.String, Name: displayName(content.String, systemID.String)}
	r.cache.storeSupertag(ref, tag)
	return tag, nil
}

// assemble materializes one active node with its properties and supertags.
func (r *SQLiteBackend) assemble(ctx context.Context, id string) (*AssembledNode, error) {
	node, err := r.scanOneNode(ctx, `
		SELECT id, content, content_plain, system_id, owner_id, created_at, updated_at, deleted_at
		FROM nodes WHERE id = ? AND deleted_at IS NULL
	`, id)
	if err != nil {
		return nil, err
	}
	return r.assembleFrom(ctx, node)
}

// assembleFrom attaches properties and supertags to an already-fetched node
// record.
func (r *SQLiteBackend) assembleFrom(ctx context.Context, node *Node) (*AssembledNode, error) {
	assembled := &AssembledNode{Node: *node, Properties: make(map[string][]PropertyValue)}

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.field_id, f.content, f.system_id, p.raw_value, p.position
		FROM node_properties p
		JOIN nodes f ON f.id = p.field_id
		WHERE p.node_id = ?
		ORDER BY p.field_id, p.position
	`, node.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var fieldID, raw string
		var content, systemID sql.NullString
		var position int
		if err := rows.Scan(&fieldID, &content, &systemID, &raw, &position); err != nil {
			return nil, err
		}
		name := displayName(content.String, systemID.String)
		assembled.Properties[name] = append(assembled.Properties[name], PropertyValue{
			FieldID:       fieldID,
			FieldSystemID: systemID.String,
			FieldName:     name,
			Value:         decodeRawValue(raw),
			RawValue:      raw,
			Order:         position,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagRows, err := r.db.QueryContext(ctx, `
		SELECT s.supertag_id, t.content, t.system_id
		FROM node_supertags s
		JOIN nodes t ON t.id = s.supertag_id
		WHERE s.node_id = ?
		ORDER BY s.position
	`, node.ID)
	if err != nil {
		return nil, err
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tagID string
		var content, systemID sql.NullString
		if err := tagRows.Scan(&tagID, &content, &systemID); err != nil {
			return nil, err
		}
		assembled.Supertags = append(assembled.Supertags, Supertag{
			ID:       tagID,
			SystemID: systemID.String,
			Name:     displayName(content.String, systemID.String),
		})
	}
	return assembled, tagRows.Err()
}

// requireNode verifies a node row exists (deleted or not).
func (r *SQLiteBackend) requireNode(ctx context.Context, id string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundf("node %s", id)
	}
	return err
}

// scanOneNode runs a single-row node query.
func (r *SQLiteBackend) scanOneNode(ctx context.Context, query string, args ...any) (*Node, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	node, err := scanNodeColumns(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundf("node")
		}
		return nil, err
	}
	return node, nil
}

func scanNodeRow(rows *sql.Rows) (*Node, error) {
	return scanNodeColumns(rows.Scan)
}

// scanNodeColumns decodes the canonical node column list.
func scanNodeColumns(scan func(...any) error) (*Node, error) {
	var node Node
	var systemID, ownerID, deletedAt sql.NullString
	var createdAt, updatedAt string

	if err := scan(&node.ID, &node.Content, &node.ContentPlain, &systemID, &ownerID,
		&createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}

	node.SystemID = systemID.String
	node.OwnerID = ownerID.String
	node.CreatedAt = parseStoredTime(createdAt)
	node.UpdatedAt = parseStoredTime(updatedAt)
	if deletedAt.Valid {
		t := parseStoredTime(deletedAt.String)
		node.DeletedAt = &t
	}
	return &node, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

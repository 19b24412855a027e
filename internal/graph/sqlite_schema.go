package graph

// SQLite schema DDL constants. The relational engine emulates the graph
// model over flat tables: nodes holds every entity (items, fields, supertags
// alike), node_properties holds node→field edges, node_supertags holds
// node→supertag edges. Extends edges between supertags are ordinary
// property edges on the "field:extends" field.

const schemaNodes = `
CREATE TABLE IF NOT EXISTS nodes (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL DEFAULT '',
    content_plain TEXT NOT NULL DEFAULT '',
    system_id TEXT UNIQUE,
    owner_id TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    deleted_at DATETIME
)`

const schemaProperties = `
CREATE TABLE IF NOT EXISTS node_properties (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id TEXT NOT NULL,
    field_id TEXT NOT NULL,
    raw_value TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0
)`

const schemaSupertags = `
CREATE TABLE IF NOT EXISTS node_supertags (
    node_id TEXT NOT NULL,
    supertag_id TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    UNIQUE(node_id, supertag_id)
)`

const indexNodesSystemID = `CREATE INDEX IF NOT EXISTS idx_nodes_system_id ON nodes(system_id)`
const indexNodesOwner = `CREATE INDEX IF NOT EXISTS idx_nodes_owner ON nodes(owner_id)`
const indexNodesDeleted = `CREATE INDEX IF NOT EXISTS idx_nodes_deleted ON nodes(deleted_at)`
const indexPropsNode = `CREATE INDEX IF NOT EXISTS idx_props_node ON node_properties(node_id)`
const indexPropsField = `CREATE INDEX IF NOT EXISTS idx_props_field ON node_properties(field_id)`
const indexPropsValue = `CREATE INDEX IF NOT EXISTS idx_props_field_value ON node_properties(field_id, raw_value)`
const indexTagsNode = `CREATE INDEX IF NOT EXISTS idx_tags_node ON node_supertags(node_id)`
const indexTagsSupertag = `CREATE INDEX IF NOT EXISTS idx_tags_supertag ON node_supertags(supertag_id)`

// SQLite pragmas for optimal performance
const pragmaWAL = `PRAGMA journal_mode=WAL`
const pragmaFK = `PRAGMA foreign_keys=ON`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`

// allSchemaStatements returns all schema DDL in order
func allSchemaStatements() []string {
	return []string{
		schemaNodes,
		schemaProperties,
		schemaSupertags,
		indexNodesSystemID,
		indexNodesOwner,
		indexNodesDeleted,
		indexPropsNode,
		indexPropsField,
		indexPropsValue,
		indexTagsNode,
		indexTagsSupertag,
	}
}

// allPragmas returns all pragma statements
func allPragmas() []string {
	return []string{
		pragmaWAL,
		pragmaFK,
		pragmaBusyTimeout,
		pragmaSynchronous,
	}
}

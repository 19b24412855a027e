package graph

// Well-known systemIds. These are the one concrete cross-backend contract:
// every deployment seeds the same set, so collaborators can resolve schema
// entities by name regardless of which engine is behind the interface.
const (
	SystemFieldName      = "field:name"
	SystemFieldPath      = "field:path"
	SystemFieldURL       = "field:url"
	SystemFieldIcon      = "field:icon"
	SystemFieldCommand   = "field:command"
	SystemFieldStartDate = "field:start_date"
	SystemFieldDueDate   = "field:due_date"
	SystemFieldStatus    = "field:status"
	SystemFieldTarget    = "field:target"

	SystemSupertagItem     = "supertag:item"
	SystemSupertagTask     = "supertag:task"
	SystemSupertagEvent    = "supertag:event"
	SystemSupertagCommand  = "supertag:command"
	SystemSupertagLauncher = "supertag:launcher"
)

// Structural schema fields. These describe a supertag itself (its tag marker,
// its extends pointer, its field-type marker) and are never injected as
// instance defaults during inheritance resolution.
const (
	SystemFieldSupertagMarker = "field:supertag"
	SystemFieldExtends        = "field:extends"
	SystemFieldFieldType      = "field:field_type"
)

// defaultsSystemID names the shadow definition-node that carries a supertag's
// declared field defaults.
func defaultsSystemID(supertagSystemID string) string {
	return "defaults:" + supertagSystemID
}

// structuralFieldSystemIDs lists fields skipped by inheritance backfill.
var structuralFieldSystemIDs = map[string]struct{}{
	SystemFieldSupertagMarker: {},
	SystemFieldExtends:        {},
	SystemFieldFieldType:      {},
}

// Package schema implements the field-table registry shared by every
// model stored in the hybrid database.
//
//	┌────────────────────┐   Register    ┌──────────────┐
//	│ []FieldDescriptor  │ ────────────► │  ModelSchema  │
//	└────────────────────┘                └──────┬───────┘
//	                                               │ Validate / Serialize
//	                                               ▼
//	                                     normalized map[string]any
//
// A model's field table is frozen the first time it is registered; a
// second registration with the same shape is a no-op, a second
// registration with a different shape is a SchemaConflictError. Nothing
// in this package touches storage, indices, or the wire — it only knows
// about field names, types, and relation multiplicities.
package schema

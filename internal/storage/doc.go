package storage

// The engine keeps four independently-lockable sub-indices (see
// internal/index) in lockstep with a JSON-file mirror:
//
//	Create(model, data)
//	    │
//	    ├─ schema.Validate ──────────► SchemaError
//	    ├─ id collision? ────────────► ConflictError
//	    ├─ unique field collision? ──► ConflictError
//	    ├─ insert primary/model/field/relational
//	    └─ write hsdb/index/<plural>/<id>.json
//	             │ (failure)
//	             └─ roll back indices ──► PersistenceError
//	                        │ (rollback failure)
//	                        └─ quarantine engine ──► EngineQuarantined
//
// Reads never take the engine's coarse write lock; they only touch the
// sub-index's own lock, so queries proceed uninterrupted by writers
// except for the brief window each index mutates under mu.

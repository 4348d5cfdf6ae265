package schema

import "fmt"

// SchemaConflictError is returned when a model is re-registered with a
// different field table than its original registration.
type SchemaConflictError struct {
	Model string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("schema: model %q already registered with a different shape", e.Model)
}

// UnknownModelError is returned when describing or validating against a
// model name that was never registered.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("schema: unknown model %q", e.Model)
}

// ValidationError reports why a record failed schema validation. It
// satisfies the spec's SchemaError taxonomy entry (§7).
type ValidationError struct {
	Model  string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema: %s.%s: %s", e.Model, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema: %s: %s", e.Model, e.Reason)
}

package domain

import (
	"fmt"
	"strings"
)

// SchemaLoadError reports a malformed schema or constraint rule source. It is
// fatal: the process must not start with a partially loaded table.
type SchemaLoadError struct {
	Source string
	Reason string
}

func (e SchemaLoadError) Error() string {
	return fmt.Sprintf("schema load %s: %s", e.Source, e.Reason)
}

// ViolationKind classifies a single payload violation.
type ViolationKind string

// Violation kinds reported inside a ValidationError.
const (
	// ViolationUnsupported marks a payload key not declared for the entity type.
	ViolationUnsupported ViolationKind = "unsupported"
	// ViolationComputed marks a client-supplied value for a trigger-computed property.
	ViolationComputed ViolationKind = "computed"
	// ViolationImmutable marks an update to an immutable property.
	ViolationImmutable ViolationKind = "immutable"
	// ViolationMissingRequired marks an absent or empty user_input_required property.
	ViolationMissingRequired ViolationKind = "missing_required"
	// ViolationInvalid marks a value failing its field validator.
	ViolationInvalid ViolationKind = "invalid"
)

// FieldViolation describes one offending property in a payload.
type FieldViolation struct {
	Property string        `json:"property"`
	Kind     ViolationKind `json:"kind"`
	Message  string        `json:"message"`
}

// ValidationError aggregates every violation found in a payload. Validation is
// not fail-fast: callers receive the full list in one pass.
type ValidationError struct {
	EntityType EntityType
	Violations []FieldViolation
}

func (e ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s (%s): %s", v.Property, v.Kind, v.Message)
	}
	return fmt.Sprintf("invalid %s payload: %s", e.EntityType, strings.Join(parts, "; "))
}

// TriggerError reports a failed trigger computation. Write phases treat it as
// fatal for the operation; the read phase omits the property instead.
type TriggerError struct {
	Property string
	Phase    Phase
	Cause    error
}

func (e TriggerError) Error() string {
	return fmt.Sprintf("trigger for %s failed in %s: %v", e.Property, e.Phase, e.Cause)
}

func (e TriggerError) Unwrap() error { return e.Cause }

// ErrNotFound reports an unknown id or entity type.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ErrConflict reports a write collision, such as creating an entity with an
// id that already exists.
type ErrConflict struct {
	Kind string
	ID   string
}

func (e ErrConflict) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.ID)
}

// ErrBadRequest reports a structurally invalid request, such as a constraint
// query row carrying neither ancestors nor descendants.
type ErrBadRequest struct {
	Message string
}

func (e ErrBadRequest) Error() string { return e.Message }

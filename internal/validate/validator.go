// Package validate applies schema rules to incoming entity payloads and
// projects persisted state into response form.
package validate

import (
	"sort"

	"entitycore/internal/schema"
	"entitycore/pkg/domain"
)

// Validator checks payloads against the loaded schema registry. Violations
// are collected across the whole payload, never fail-fast.
type Validator struct {
	registry *schema.Registry
}

// New constructs a validator over the registry.
func New(registry *schema.Registry) *Validator {
	return &Validator{registry: registry}
}

// ForCreate validates a creation payload. Every user_input_required property
// must be present and non-empty; trigger-bearing, transient and undeclared
// properties are rejected regardless of value.
func (v *Validator) ForCreate(entityType domain.EntityType, payload map[string]any) (map[string]any, error) {
	props, ok := v.registry.PropertyDefs(entityType)
	if !ok {
		return nil, domain.ErrNotFound{Kind: "entity_type", ID: string(entityType)}
	}

	violations := v.checkSupplied(props, payload, false)
	for _, name := range sortedKeys(props) {
		def := props[name]
		if !def.UserInputRequired {
			continue
		}
		value, present := payload[name]
		if !present || isEmpty(value) {
			violations = append(violations, domain.FieldViolation{
				Property: name,
				Kind:     domain.ViolationMissingRequired,
				Message:  "required property is missing or empty",
			})
		}
	}
	if len(violations) > 0 {
		return nil, domain.ValidationError{EntityType: entityType, Violations: violations}
	}
	return clonePayload(payload), nil
}

// ForUpdate validates a partial update payload. Required properties need not
// be resent; immutable properties are rejected on top of the create checks.
func (v *Validator) ForUpdate(entityType domain.EntityType, existing domain.Entity, payload map[string]any) (map[string]any, error) {
	props, ok := v.registry.PropertyDefs(entityType)
	if !ok {
		return nil, domain.ErrNotFound{Kind: "entity_type", ID: string(entityType)}
	}
	violations := v.checkSupplied(props, payload, true)
	if len(violations) > 0 {
		return nil, domain.ValidationError{EntityType: entityType, Violations: violations}
	}
	return clonePayload(payload), nil
}

// checkSupplied runs the per-key checks shared by create and update.
func (v *Validator) checkSupplied(props map[string]schema.PropertyDefinition, payload map[string]any, update bool) []domain.FieldViolation {
	var violations []domain.FieldViolation
	for _, key := range sortedKeys(payload) {
		def, declared := props[key]
		if !declared {
			violations = append(violations, domain.FieldViolation{
				Property: key,
				Kind:     domain.ViolationUnsupported,
				Message:  "property is not declared for this entity type",
			})
			continue
		}
		if def.HasTrigger() || def.Transient {
			violations = append(violations, domain.FieldViolation{
				Property: key,
				Kind:     domain.ViolationComputed,
				Message:  "computed property cannot be supplied by the client",
			})
			continue
		}
		if update && def.Immutable {
			violations = append(violations, domain.FieldViolation{
				Property: key,
				Kind:     domain.ViolationImmutable,
				Message:  "immutable property cannot be updated",
			})
			continue
		}
		violations = append(violations, checkField(key, def, payload[key])...)
	}
	return violations
}

// ProjectResponse merges persisted properties with freshly computed transient
// values and strips properties declared exposed=false. Unknown persisted keys
// are dropped so responses only ever carry schema-declared properties.
func (v *Validator) ProjectResponse(entityType domain.EntityType, persisted, transient map[string]any) (map[string]any, error) {
	props, ok := v.registry.PropertyDefs(entityType)
	if !ok {
		return nil, domain.ErrNotFound{Kind: "entity_type", ID: string(entityType)}
	}
	out := make(map[string]any, len(persisted)+len(transient))
	for key, value := range persisted {
		def, declared := props[key]
		if !declared || !def.Exposed || def.Transient {
			continue
		}
		out[key] = value
	}
	for key, value := range transient {
		def, declared := props[key]
		if !declared || !def.Exposed {
			continue
		}
		out[key] = value
	}
	return out, nil
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

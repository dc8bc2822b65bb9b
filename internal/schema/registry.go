// Package schema loads the declarative provenance schema and compiles its
// trigger references into per-phase execution plans.
package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"strings"

	"entitycore/pkg/domain"

	"gopkg.in/yaml.v3"
)

//go:embed provenance_schema.yaml
var defaultSchemaYAML []byte

// FieldRules declares the optional per-property format checks applied by the
// validator. Format is one of url, timestamp or empty.
type FieldRules struct {
	MinLength *int     `yaml:"min_length"`
	MaxLength *int     `yaml:"max_length"`
	Enum      []string `yaml:"enum"`
	Format    string   `yaml:"format"`
}

// PropertyDefinition is the compiled per-property schema entry.
type PropertyDefinition struct {
	Type              string
	UserInputRequired bool
	Immutable         bool
	Transient         bool
	Exposed           bool
	BeforeCreate      string
	BeforeUpdate      string
	OnRead            string
	Rules             *FieldRules
}

// HasTrigger reports whether any phase declares a trigger for the property.
func (p PropertyDefinition) HasTrigger() bool {
	return p.BeforeCreate != "" || p.BeforeUpdate != "" || p.OnRead != ""
}

// Trigger returns the trigger name declared for the given phase, if any.
func (p PropertyDefinition) Trigger(phase domain.Phase) string {
	switch phase {
	case domain.PhaseBeforeCreate:
		return p.BeforeCreate
	case domain.PhaseBeforeUpdate:
		return p.BeforeUpdate
	case domain.PhaseOnRead:
		return p.OnRead
	}
	return ""
}

// PlanStep is one resolved trigger execution in a phase plan.
type PlanStep struct {
	Property string
	Spec     TriggerSpec
}

type entityDef struct {
	subTypeProperty string
	properties      map[string]PropertyDefinition
	plans           map[domain.Phase][]PlanStep
}

// Registry holds the loaded schema. It is built once at process start and is
// read-only afterwards, so concurrent lookups need no locking.
type Registry struct {
	entities map[domain.EntityType]*entityDef
}

type propertyDoc struct {
	Type              string      `yaml:"type"`
	UserInputRequired bool        `yaml:"user_input_required"`
	Immutable         bool        `yaml:"immutable"`
	Transient         bool        `yaml:"transient"`
	Exposed           *bool       `yaml:"exposed"`
	BeforeCreate      string      `yaml:"before_create_trigger"`
	BeforeUpdate      string      `yaml:"before_update_trigger"`
	OnRead            string      `yaml:"on_read_trigger"`
	Validation        *FieldRules `yaml:"validation"`
}

type entityDoc struct {
	SubTypeProperty string                 `yaml:"sub_type_property"`
	Properties      map[string]propertyDoc `yaml:"properties"`
}

type schemaDoc struct {
	Entities map[string]entityDoc `yaml:"entities"`
}

// Load parses and compiles a schema document, resolving trigger names against
// the supplied dispatch table. Any invariant violation is a SchemaLoadError.
func Load(r io.Reader, triggers *TriggerTable) (*Registry, error) {
	var doc schemaDoc
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, domain.SchemaLoadError{Source: "schema", Reason: fmt.Sprintf("parse yaml: %v", err)}
	}
	if len(doc.Entities) == 0 {
		return nil, domain.SchemaLoadError{Source: "schema", Reason: "no entities defined"}
	}

	reg := &Registry{entities: make(map[domain.EntityType]*entityDef, len(doc.Entities))}
	for name, ent := range doc.Entities {
		typeName := domain.EntityType(strings.ToLower(name))
		def := &entityDef{
			subTypeProperty: ent.SubTypeProperty,
			properties:      make(map[string]PropertyDefinition, len(ent.Properties)),
			plans:           make(map[domain.Phase][]PlanStep),
		}
		for prop, pd := range ent.Properties {
			compiled, err := compileProperty(name, prop, pd, triggers)
			if err != nil {
				return nil, err
			}
			def.properties[prop] = compiled
		}
		if ent.SubTypeProperty != "" {
			if _, ok := def.properties[ent.SubTypeProperty]; !ok {
				return nil, loadErr(name, ent.SubTypeProperty, "sub_type_property refers to an undeclared property")
			}
		}
		for _, phase := range []domain.Phase{domain.PhaseBeforeCreate, domain.PhaseBeforeUpdate, domain.PhaseOnRead} {
			plan, err := buildPlan(name, phase, def.properties, triggers)
			if err != nil {
				return nil, err
			}
			def.plans[phase] = plan
		}
		reg.entities[typeName] = def
	}
	return reg, nil
}

// Default loads the embedded provenance schema with the given trigger table
// (DefaultTriggers when nil).
func Default(triggers *TriggerTable) (*Registry, error) {
	if triggers == nil {
		triggers = DefaultTriggers()
	}
	return Load(bytes.NewReader(defaultSchemaYAML), triggers)
}

func compileProperty(entity, prop string, pd propertyDoc, triggers *TriggerTable) (PropertyDefinition, error) {
	compiled := PropertyDefinition{
		Type:              pd.Type,
		UserInputRequired: pd.UserInputRequired,
		Immutable:         pd.Immutable,
		Transient:         pd.Transient,
		Exposed:           pd.Exposed == nil || *pd.Exposed,
		BeforeCreate:      pd.BeforeCreate,
		BeforeUpdate:      pd.BeforeUpdate,
		OnRead:            pd.OnRead,
		Rules:             pd.Validation,
	}
	if compiled.Type == "" {
		return compiled, loadErr(entity, prop, "missing type")
	}
	switch compiled.Type {
	case "string", "int", "bool", "list":
	default:
		return compiled, loadErr(entity, prop, fmt.Sprintf("unknown type %q", compiled.Type))
	}
	if compiled.UserInputRequired && compiled.HasTrigger() {
		return compiled, loadErr(entity, prop, "user_input_required property cannot declare a trigger")
	}
	if compiled.OnRead != "" && !compiled.Transient {
		return compiled, loadErr(entity, prop, "on_read_trigger property must be transient")
	}
	for _, name := range []string{compiled.BeforeCreate, compiled.BeforeUpdate, compiled.OnRead} {
		if name == "" {
			continue
		}
		if _, ok := triggers.lookup(name); !ok {
			return compiled, loadErr(entity, prop, fmt.Sprintf("unknown trigger %q", name))
		}
	}
	if compiled.Rules != nil && compiled.Rules.Format != "" {
		switch compiled.Rules.Format {
		case "url", "timestamp":
		default:
			return compiled, loadErr(entity, prop, fmt.Sprintf("unknown validation format %q", compiled.Rules.Format))
		}
	}
	return compiled, nil
}

// buildPlan topologically orders the phase's triggers so that a trigger
// reading a property produced by another same-phase trigger runs after its
// producer. A dependency cycle fails the load, not the request.
func buildPlan(entity string, phase domain.Phase, props map[string]PropertyDefinition, triggers *TriggerTable) ([]PlanStep, error) {
	producers := make(map[string]TriggerSpec)
	var names []string
	for prop, def := range props {
		trigger := def.Trigger(phase)
		if trigger == "" {
			continue
		}
		spec, _ := triggers.lookup(trigger)
		producers[prop] = spec
		names = append(names, prop)
	}
	sort.Strings(names)

	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, prop := range names {
		indegree[prop] = 0
	}
	for _, prop := range names {
		for _, read := range producers[prop].Reads {
			if _, ok := producers[read]; ok && read != prop {
				dependents[read] = append(dependents[read], prop)
				indegree[prop]++
			}
		}
	}

	var queue []string
	for _, prop := range names {
		if indegree[prop] == 0 {
			queue = append(queue, prop)
		}
	}
	plan := make([]PlanStep, 0, len(names))
	for len(queue) > 0 {
		prop := queue[0]
		queue = queue[1:]
		plan = append(plan, PlanStep{Property: prop, Spec: producers[prop]})
		next := dependents[prop]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(plan) != len(names) {
		return nil, domain.SchemaLoadError{
			Source: "schema",
			Reason: fmt.Sprintf("%s: trigger dependency cycle in phase %s", entity, phase),
		}
	}
	return plan, nil
}

func loadErr(entity, prop, reason string) domain.SchemaLoadError {
	return domain.SchemaLoadError{Source: "schema", Reason: fmt.Sprintf("%s.%s: %s", entity, prop, reason)}
}

// PropertyDefs returns the property table for an entity type.
func (r *Registry) PropertyDefs(entityType domain.EntityType) (map[string]PropertyDefinition, bool) {
	def, ok := r.entities[entityType]
	if !ok {
		return nil, false
	}
	return def.properties, true
}

// IsKnownEntityType reports whether the (case-insensitive) name is declared.
func (r *Registry) IsKnownEntityType(name string) bool {
	_, ok := r.entities[domain.EntityType(strings.ToLower(name))]
	return ok
}

// Normalize lowercases an entity type name into its canonical schema key.
func (r *Registry) Normalize(name string) (domain.EntityType, bool) {
	t := domain.EntityType(strings.ToLower(name))
	_, ok := r.entities[t]
	return t, ok
}

// SubTypeProperty returns the property whose value carries the entity's
// sub-type, empty when the type has none.
func (r *Registry) SubTypeProperty(entityType domain.EntityType) string {
	def, ok := r.entities[entityType]
	if !ok {
		return ""
	}
	return def.subTypeProperty
}

// Plan returns the compiled trigger plan for the phase.
func (r *Registry) Plan(entityType domain.EntityType, phase domain.Phase) []PlanStep {
	def, ok := r.entities[entityType]
	if !ok {
		return nil
	}
	return def.plans[phase]
}

// Types lists the declared entity types in sorted order.
func (r *Registry) Types() []domain.EntityType {
	out := make([]domain.EntityType, 0, len(r.entities))
	for t := range r.entities {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

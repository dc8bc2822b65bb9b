// Package core wires the schema registry, validator, trigger executor,
// constraint engine and graph walker into the entity service consumed by the
// HTTP adapter.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entitycore/internal/constraints"
	"entitycore/internal/graph"
	"entitycore/internal/schema"
	"entitycore/internal/validate"
	"entitycore/pkg/domain"

	"github.com/google/uuid"
)

// Service coordinates entity reads and writes. Writes are fail-closed: any
// validation, trigger, or constraint failure before commit leaves the graph
// untouched. Reads are fail-open at the trigger level.
type Service struct {
	store       domain.GraphStore
	registry    *schema.Registry
	validator   *validate.Validator
	executor    *schema.Executor
	constraints *constraints.Engine
	walker      *graph.Walker
	metrics     MetricsRecorder
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDFunc overrides uuid generation, mainly for tests.
func WithIDFunc(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService constructs the entity service.
func NewService(store domain.GraphStore, registry *schema.Registry, engine *constraints.Engine, opts ...Option) *Service {
	s := &Service{
		store:       store,
		registry:    registry,
		constraints: engine,
		walker:      graph.NewWalker(store),
		metrics:     NopMetrics{},
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.validator = validate.New(registry)
	s.executor = schema.NewExecutor(registry, s.logger)
	return s
}

func (s *Service) observe(op string, start time.Time, err error) {
	s.metrics.Observe(op, err, time.Since(start))
}

// CreateEntity validates the payload, runs the before-create trigger phase,
// checks every ancestry link against the constraint rules and persists the
// entity plus its provenance edges in one transaction.
func (s *Service) CreateEntity(ctx context.Context, typeName string, payload map[string]any, user domain.UserInfo) (result map[string]any, err error) {
	start := s.now()
	defer func() { s.observe("create_entity", start, err) }()

	entityType, ok := s.registry.Normalize(typeName)
	if !ok {
		return nil, domain.ErrNotFound{Kind: "entity_type", ID: typeName}
	}
	clean, err := s.validator.ForCreate(entityType, payload)
	if err != nil {
		return nil, err
	}

	tc := &schema.TriggerContext{
		EntityType: entityType,
		User:       user,
		Payload:    clean,
		Graph:      s.walker,
		Now:        s.now,
		NewID:      s.newID,
	}
	computed, err := s.executor.RunPhase(ctx, domain.PhaseBeforeCreate, entityType, tc)
	if err != nil {
		return nil, err
	}

	properties := make(map[string]any, len(clean)+len(computed))
	for k, v := range clean {
		properties[k] = v
	}
	for k, v := range computed {
		properties[k] = v
	}
	id, _ := properties["uuid"].(string)
	if id == "" {
		return nil, fmt.Errorf("create %s: uuid trigger produced no id", entityType)
	}

	entity := domain.Entity{
		ID:         id,
		Type:       entityType,
		SubType:    s.subTypeOf(entityType, properties),
		Properties: properties,
	}
	ancestorIDs := ancestorIDsFrom(properties)

	err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, txErr := tx.CreateEntity(entity); txErr != nil {
			return txErr
		}
		for _, ancestorID := range ancestorIDs {
			ancestor, found := tx.GetEntity(ancestorID)
			if !found {
				return domain.ErrNotFound{Kind: "entity", ID: ancestorID}
			}
			permitted, canonical, linkErr := s.constraints.PermitsLink(ancestor.Descriptor(), entity.Descriptor())
			if linkErr != nil {
				return domain.ErrBadRequest{Message: fmt.Sprintf("no provenance rule covers ancestor %s: %v", ancestorID, linkErr)}
			}
			if !permitted {
				return domain.ErrBadRequest{Message: fmt.Sprintf(
					"%s cannot descend from %s %s; allowed descendants: %v",
					entityType, ancestor.Type, ancestorID, canonical)}
			}
			edge := domain.Edge{
				AncestorID:     ancestorID,
				DescendantID:   id,
				Kind:           edgeKind(entityType),
				CreationAction: fmt.Sprintf("Create %s Activity", title(string(entityType))),
			}
			if txErr := tx.WriteEdge(edge); txErr != nil {
				return txErr
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("entity created", "entity_type", entityType, "uuid", id, "ancestors", len(ancestorIDs))
	return s.validator.ProjectResponse(entityType, properties, nil)
}

// UpdateEntity validates a partial payload against the existing entity, runs
// the before-update trigger phase and persists the merged result.
func (s *Service) UpdateEntity(ctx context.Context, id string, payload map[string]any, user domain.UserInfo) (result map[string]any, err error) {
	start := s.now()
	defer func() { s.observe("update_entity", start, err) }()

	existing, ok := s.store.GetEntity(id)
	if !ok {
		return nil, domain.ErrNotFound{Kind: "entity", ID: id}
	}
	clean, err := s.validator.ForUpdate(existing.Type, existing, payload)
	if err != nil {
		return nil, err
	}

	tc := &schema.TriggerContext{
		EntityID:   id,
		EntityType: existing.Type,
		User:       user,
		Payload:    clean,
		Existing:   existing.Properties,
		Graph:      s.walker,
		Now:        s.now,
		NewID:      s.newID,
	}
	computed, err := s.executor.RunPhase(ctx, domain.PhaseBeforeUpdate, existing.Type, tc)
	if err != nil {
		return nil, err
	}

	var updated domain.Entity
	err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		entity, txErr := tx.UpdateEntity(id, func(e *domain.Entity) error {
			if e.Properties == nil {
				e.Properties = map[string]any{}
			}
			for k, v := range clean {
				e.Properties[k] = v
			}
			for k, v := range computed {
				e.Properties[k] = v
			}
			e.SubType = s.subTypeOf(e.Type, e.Properties)
			return nil
		})
		if txErr != nil {
			return txErr
		}
		updated = entity
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("entity updated", "entity_type", existing.Type, "uuid", id)
	return s.validator.ProjectResponse(existing.Type, updated.Properties, nil)
}

// ReadEntity returns the projected entity, with on-read trigger output merged
// in. A failed read trigger omits its property instead of failing the read.
func (s *Service) ReadEntity(ctx context.Context, id string, user domain.UserInfo) (result map[string]any, err error) {
	start := s.now()
	defer func() { s.observe("read_entity", start, err) }()

	entity, ok := s.store.GetEntity(id)
	if !ok {
		return nil, domain.ErrNotFound{Kind: "entity", ID: id}
	}
	tc := &schema.TriggerContext{
		EntityID:   id,
		EntityType: entity.Type,
		User:       user,
		Existing:   entity.Properties,
		Graph:      s.walker,
		Now:        s.now,
	}
	transient, err := s.executor.RunPhase(ctx, domain.PhaseOnRead, entity.Type, tc)
	if err != nil {
		return nil, err
	}
	return s.validator.ProjectResponse(entity.Type, entity.Properties, transient)
}

// Related returns the projected relatives of an entity: direct neighbors when
// transitive is false, the full reachable set otherwise.
func (s *Service) Related(ctx context.Context, id string, dir domain.Direction, transitive bool) (result []map[string]any, err error) {
	start := s.now()
	defer func() { s.observe(relatedOp(dir, transitive), start, err) }()

	entities, err := s.relatives(ctx, id, dir, transitive)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		projected, perr := s.validator.ProjectResponse(e.Type, e.Properties, nil)
		if perr != nil {
			return nil, perr
		}
		out = append(out, projected)
	}
	return out, nil
}

// RelatedProperty returns a single-property projection of an entity's
// relatives, applied after traversal.
func (s *Service) RelatedProperty(ctx context.Context, id string, dir domain.Direction, transitive bool, property string) (result []any, err error) {
	start := s.now()
	defer func() { s.observe(relatedOp(dir, transitive), start, err) }()

	entities, err := s.relatives(ctx, id, dir, transitive)
	if err != nil {
		return nil, err
	}
	return graph.Project(entities, property), nil
}

func (s *Service) relatives(ctx context.Context, id string, dir domain.Direction, transitive bool) ([]domain.Entity, error) {
	switch {
	case dir == domain.DirectionUp && transitive:
		return s.walker.Ancestors(ctx, id)
	case dir == domain.DirectionUp:
		return s.walker.Parents(ctx, id)
	case transitive:
		return s.walker.Descendants(ctx, id)
	default:
		return s.walker.Children(ctx, id)
	}
}

func relatedOp(dir domain.Direction, transitive bool) string {
	switch {
	case dir == domain.DirectionUp && transitive:
		return "ancestors"
	case dir == domain.DirectionUp:
		return "parents"
	case transitive:
		return "descendants"
	default:
		return "children"
	}
}

// ConstraintReport evaluates constraint rows independently and returns one
// report per row in input order.
func (s *Service) ConstraintReport(order constraints.Order, rows []constraints.Row, match bool, useCase string) (result []constraints.Report, err error) {
	start := s.now()
	defer func() { s.observe("constraints", start, err) }()
	return s.constraints.ReportBatch(order, rows, match, useCase)
}

// Registry exposes the loaded schema registry for adapters.
func (s *Service) Registry() *schema.Registry { return s.registry }

func (s *Service) subTypeOf(entityType domain.EntityType, properties map[string]any) []string {
	prop := s.registry.SubTypeProperty(entityType)
	if prop == "" {
		return nil
	}
	value, _ := properties[prop].(string)
	if value == "" {
		return nil
	}
	return []string{value}
}

// ancestorIDsFrom collects the declared ancestor ids from a validated
// payload, deduplicated in input order. Samples link through a single
// direct_ancestor_uuid, datasets through direct_ancestor_uuids, and
// collections and publications through their member dataset_uuids.
func ancestorIDsFrom(properties map[string]any) []string {
	var raw []string
	if v, ok := properties["direct_ancestor_uuid"].(string); ok && v != "" {
		raw = append(raw, v)
	}
	for _, key := range []string{"direct_ancestor_uuids", "dataset_uuids"} {
		switch list := properties[key].(type) {
		case []string:
			raw = append(raw, list...)
		case []any:
			for _, item := range list {
				if v, ok := item.(string); ok && v != "" {
					raw = append(raw, v)
				}
			}
		}
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, id := range raw {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// edgeKind labels the provenance link: grouping types join by membership,
// everything else derives from its ancestor.
func edgeKind(descendant domain.EntityType) domain.RelationshipKind {
	switch descendant {
	case domain.EntityCollection, domain.EntityPublication:
		return domain.KindMembership
	default:
		return domain.KindDerivation
	}
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

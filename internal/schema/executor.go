package schema

import (
	"context"
	"log/slog"

	"entitycore/pkg/domain"
)

// Executor runs compiled trigger plans. Write phases fail closed: the first
// trigger error aborts the phase so no partial writes proceed. The read phase
// fails open: a failed trigger only omits its property from the response.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
}

// NewExecutor constructs an executor over a loaded registry.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, logger: logger}
}

// RunPhase executes every trigger the schema declares for the phase and
// entity type, in dependency order, and returns the computed property values.
func (e *Executor) RunPhase(ctx context.Context, phase domain.Phase, entityType domain.EntityType, tc *TriggerContext) (map[string]any, error) {
	plan := e.registry.Plan(entityType, phase)
	computed := make(map[string]any, len(plan))
	tc.Computed = computed
	for _, step := range plan {
		value, err := step.Spec.Fn(ctx, tc)
		if err != nil {
			if phase == domain.PhaseOnRead {
				e.logger.Warn("read trigger failed, omitting property",
					"entity_type", entityType,
					"property", step.Property,
					"trigger", step.Spec.Name,
					"error", err)
				continue
			}
			return nil, domain.TriggerError{Property: step.Property, Phase: phase, Cause: err}
		}
		computed[step.Property] = value
	}
	return computed, nil
}

package schema

import (
	"context"
	"fmt"
	"strings"
	"time"

	"entitycore/pkg/domain"

	"github.com/google/uuid"
)

// GraphReader is the read-side traversal surface available to triggers that
// derive values from provenance (e.g. data access level, ancestor id lists).
type GraphReader interface {
	Ancestors(ctx context.Context, id string) ([]domain.Entity, error)
	Descendants(ctx context.Context, id string) ([]domain.Entity, error)
}

// TriggerContext carries everything a trigger may read: the entity identity,
// the validated user payload, the persisted state (update/read), values
// computed by earlier triggers in the same phase, and collaborator ports.
type TriggerContext struct {
	EntityID   string
	EntityType domain.EntityType
	User       domain.UserInfo
	Payload    map[string]any
	Existing   map[string]any
	Computed   map[string]any
	Graph      GraphReader
	Now        func() time.Time
	NewID      func() string
}

// Value resolves a property by name with same-phase computed values taking
// precedence over the incoming payload, then persisted state.
func (tc *TriggerContext) Value(name string) (any, bool) {
	if v, ok := tc.Computed[name]; ok {
		return v, true
	}
	if v, ok := tc.Payload[name]; ok {
		return v, true
	}
	if v, ok := tc.Existing[name]; ok {
		return v, true
	}
	return nil, false
}

func (tc *TriggerContext) now() time.Time {
	if tc.Now != nil {
		return tc.Now()
	}
	return time.Now().UTC()
}

// TriggerFunc computes one derived property value.
type TriggerFunc func(ctx context.Context, tc *TriggerContext) (any, error)

// TriggerSpec binds a stable trigger name to its implementation. Reads lists
// the property names the implementation consults; the registry uses it to
// order same-phase triggers so producers run before consumers.
type TriggerSpec struct {
	Name  string
	Fn    TriggerFunc
	Reads []string
}

// TriggerTable is the dispatch table mapping schema trigger names to
// implementations. Names are resolved once at schema load, never per request.
type TriggerTable struct {
	specs map[string]TriggerSpec
}

// NewTriggerTable constructs an empty dispatch table.
func NewTriggerTable() *TriggerTable {
	return &TriggerTable{specs: make(map[string]TriggerSpec)}
}

// Register adds a trigger spec. Registering a duplicate or unnamed spec fails.
func (t *TriggerTable) Register(spec TriggerSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("trigger name required")
	}
	if spec.Fn == nil {
		return fmt.Errorf("trigger %s has no implementation", spec.Name)
	}
	if _, ok := t.specs[spec.Name]; ok {
		return fmt.Errorf("trigger %s already registered", spec.Name)
	}
	t.specs[spec.Name] = spec
	return nil
}

func (t *TriggerTable) lookup(name string) (TriggerSpec, bool) {
	spec, ok := t.specs[name]
	return spec, ok
}

// DefaultTriggers returns the built-in trigger set referenced by the default
// provenance schema.
func DefaultTriggers() *TriggerTable {
	table := NewTriggerTable()
	for _, spec := range []TriggerSpec{
		{Name: "set_uuid", Fn: setUUID},
		{Name: "set_entity_type", Fn: setEntityType},
		{Name: "set_created_timestamp", Fn: setCreatedTimestamp},
		{Name: "set_last_modified_timestamp", Fn: setLastModifiedTimestamp},
		{Name: "set_created_by_user_sub", Fn: setCreatedByUserSub},
		{Name: "set_created_by_user_email", Fn: setCreatedByUserEmail},
		{Name: "set_created_by_user_displayname", Fn: setCreatedByUserDisplayname},
		{Name: "set_data_access_level", Fn: setDataAccessLevel, Reads: []string{"status", "contains_human_genetic_sequences"}},
		{Name: "read_ancestor_uuids", Fn: readAncestorUUIDs},
		{Name: "read_descendant_uuids", Fn: readDescendantUUIDs},
	} {
		if err := table.Register(spec); err != nil {
			panic(err)
		}
	}
	return table
}

func setUUID(_ context.Context, tc *TriggerContext) (any, error) {
	if tc.EntityID != "" {
		return tc.EntityID, nil
	}
	if tc.NewID != nil {
		return tc.NewID(), nil
	}
	return uuid.NewString(), nil
}

func setEntityType(_ context.Context, tc *TriggerContext) (any, error) {
	return string(tc.EntityType), nil
}

func setCreatedTimestamp(_ context.Context, tc *TriggerContext) (any, error) {
	return tc.now().Unix(), nil
}

func setLastModifiedTimestamp(_ context.Context, tc *TriggerContext) (any, error) {
	return tc.now().Unix(), nil
}

func setCreatedByUserSub(_ context.Context, tc *TriggerContext) (any, error) {
	if tc.User.Sub == "" {
		return nil, fmt.Errorf("user sub missing from request context")
	}
	return tc.User.Sub, nil
}

func setCreatedByUserEmail(_ context.Context, tc *TriggerContext) (any, error) {
	if tc.User.Email == "" {
		return nil, fmt.Errorf("user email missing from request context")
	}
	return tc.User.Email, nil
}

func setCreatedByUserDisplayname(_ context.Context, tc *TriggerContext) (any, error) {
	if tc.User.DisplayName == "" {
		return nil, fmt.Errorf("user displayname missing from request context")
	}
	return tc.User.DisplayName, nil
}

// setDataAccessLevel derives the access level from genetic content and publish
// status for datasets, and from published descendants for everything else.
func setDataAccessLevel(ctx context.Context, tc *TriggerContext) (any, error) {
	if tc.EntityType == domain.EntityDataset {
		if genetic, _ := tc.Value("contains_human_genetic_sequences"); genetic == true {
			return "protected", nil
		}
		if status, ok := tc.Value("status"); ok {
			if s, ok := status.(string); ok && strings.EqualFold(s, "published") {
				return "public", nil
			}
		}
		return "consortium", nil
	}
	if tc.Graph == nil || tc.EntityID == "" {
		return "consortium", nil
	}
	descendants, err := tc.Graph.Descendants(ctx, tc.EntityID)
	if err != nil {
		return nil, err
	}
	for _, d := range descendants {
		if d.Type != domain.EntityDataset {
			continue
		}
		if s, ok := d.Properties["status"].(string); ok && strings.EqualFold(s, "published") {
			return "public", nil
		}
	}
	return "consortium", nil
}

func readAncestorUUIDs(ctx context.Context, tc *TriggerContext) (any, error) {
	if tc.Graph == nil {
		return nil, fmt.Errorf("graph reader unavailable")
	}
	ancestors, err := tc.Graph.Ancestors(ctx, tc.EntityID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(ancestors))
	for i, a := range ancestors {
		ids[i] = a.ID
	}
	return ids, nil
}

func readDescendantUUIDs(ctx context.Context, tc *TriggerContext) (any, error) {
	if tc.Graph == nil {
		return nil, fmt.Errorf("graph reader unavailable")
	}
	descendants, err := tc.Graph.Descendants(ctx, tc.EntityID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(descendants))
	for i, d := range descendants {
		ids[i] = d.ID
	}
	return ids, nil
}

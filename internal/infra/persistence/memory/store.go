// Package memory provides an in-memory implementation of the graph store
// used for tests and ephemeral environments. Transactions operate on a
// copy-on-write clone of the state; nothing is visible to readers until the
// transaction function returns nil.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"entitycore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence port.
var _ domain.GraphStore = (*Store)(nil)

type graphState struct {
	entities map[string]domain.Entity
	edges    []domain.Edge
	parents  map[string][]string
	children map[string][]string
}

// Snapshot captures a point-in-time clone of the store state. The durable
// backends persist and restore it verbatim.
type Snapshot struct {
	Entities map[string]domain.Entity `json:"entities"`
	Edges    []domain.Edge            `json:"edges"`
}

func newGraphState() graphState {
	return graphState{
		entities: make(map[string]domain.Entity),
		parents:  make(map[string][]string),
		children: make(map[string][]string),
	}
}

func cloneEntity(e domain.Entity) domain.Entity {
	cp := e
	if e.SubType != nil {
		cp.SubType = append([]string(nil), e.SubType...)
	}
	if e.Properties != nil {
		cp.Properties = make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			cp.Properties[k] = v
		}
	}
	return cp
}

func (s graphState) clone() graphState {
	cloned := newGraphState()
	for k, v := range s.entities {
		cloned.entities[k] = cloneEntity(v)
	}
	cloned.edges = append([]domain.Edge(nil), s.edges...)
	for k, v := range s.parents {
		cloned.parents[k] = append([]string(nil), v...)
	}
	for k, v := range s.children {
		cloned.children[k] = append([]string(nil), v...)
	}
	return cloned
}

func snapshotFromState(state graphState) Snapshot {
	snap := Snapshot{
		Entities: make(map[string]domain.Entity, len(state.entities)),
		Edges:    append([]domain.Edge(nil), state.edges...),
	}
	for k, v := range state.entities {
		snap.Entities[k] = cloneEntity(v)
	}
	return snap
}

func stateFromSnapshot(snap Snapshot) graphState {
	state := newGraphState()
	for k, v := range snap.Entities {
		state.entities[k] = cloneEntity(v)
	}
	for _, edge := range snap.Edges {
		// Edges referencing entities dropped from a snapshot are skipped
		// rather than failing the import.
		if _, ok := state.entities[edge.AncestorID]; !ok {
			continue
		}
		if _, ok := state.entities[edge.DescendantID]; !ok {
			continue
		}
		state.addEdge(edge)
	}
	return state
}

func (s *graphState) addEdge(edge domain.Edge) {
	s.edges = append(s.edges, edge)
	s.children[edge.AncestorID] = append(s.children[edge.AncestorID], edge.DescendantID)
	s.parents[edge.DescendantID] = append(s.parents[edge.DescendantID], edge.AncestorID)
}

func (s *graphState) hasEdge(edge domain.Edge) bool {
	for _, existing := range s.edges {
		if existing.AncestorID == edge.AncestorID && existing.DescendantID == edge.DescendantID && existing.Kind == edge.Kind {
			return true
		}
	}
	return false
}

// Store provides an in-memory transactional graph store.
type Store struct {
	mu    sync.RWMutex
	state graphState
	nowFn func() time.Time
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state: newGraphState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateFromSnapshot(snap)
}

// SetNowFunc overrides the store's time source, mainly for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// GetEntity retrieves a committed entity by id.
func (s *Store) GetEntity(id string) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.entities[id]
	if !ok {
		return domain.Entity{}, false
	}
	return cloneEntity(e), true
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The clone replaces the live state only when fn returns nil.
func (s *Store) RunInTransaction(_ context.Context, fn func(domain.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// View executes fn against a read-only snapshot of the committed state.
func (s *Store) View(_ context.Context, fn func(domain.GraphView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(graphView{state: &snapshot})
}

type transaction struct {
	state graphState
	now   time.Time
}

// CreateEntity stores a new entity within the transaction.
func (tx *transaction) CreateEntity(e domain.Entity) (domain.Entity, error) {
	if e.ID == "" {
		return domain.Entity{}, domain.ErrBadRequest{Message: "entity id required"}
	}
	if _, exists := tx.state.entities[e.ID]; exists {
		return domain.Entity{}, domain.ErrConflict{Kind: string(e.Type), ID: e.ID}
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.entities[e.ID] = cloneEntity(e)
	return cloneEntity(e), nil
}

// UpdateEntity mutates an entity using the provided mutator function.
func (tx *transaction) UpdateEntity(id string, mutator func(*domain.Entity) error) (domain.Entity, error) {
	current, ok := tx.state.entities[id]
	if !ok {
		return domain.Entity{}, domain.ErrNotFound{Kind: "entity", ID: id}
	}
	current = cloneEntity(current)
	if err := mutator(&current); err != nil {
		return domain.Entity{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.entities[id] = cloneEntity(current)
	return cloneEntity(current), nil
}

// WriteEdge records a provenance link. Both endpoints must exist in the
// transaction state; a duplicate link is a no-op.
func (tx *transaction) WriteEdge(edge domain.Edge) error {
	if _, ok := tx.state.entities[edge.AncestorID]; !ok {
		return domain.ErrNotFound{Kind: "entity", ID: edge.AncestorID}
	}
	if _, ok := tx.state.entities[edge.DescendantID]; !ok {
		return domain.ErrNotFound{Kind: "entity", ID: edge.DescendantID}
	}
	if edge.AncestorID == edge.DescendantID {
		return domain.ErrBadRequest{Message: "edge endpoints must differ"}
	}
	if tx.state.hasEdge(edge) {
		return nil
	}
	tx.state.addEdge(edge)
	return nil
}

// GetEntity exposes entity lookup within the transaction scope.
func (tx *transaction) GetEntity(id string) (domain.Entity, bool) {
	e, ok := tx.state.entities[id]
	if !ok {
		return domain.Entity{}, false
	}
	return cloneEntity(e), true
}

type graphView struct {
	state *graphState
}

func (v graphView) GetEntity(id string) (domain.Entity, bool) {
	e, ok := v.state.entities[id]
	if !ok {
		return domain.Entity{}, false
	}
	return cloneEntity(e), true
}

func (v graphView) Parents(id string) []domain.Entity {
	return v.resolve(v.state.parents[id])
}

func (v graphView) Children(id string) []domain.Entity {
	return v.resolve(v.state.children[id])
}

func (v graphView) resolve(ids []string) []domain.Entity {
	out := make([]domain.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := v.state.entities[id]; ok {
			out = append(out, cloneEntity(e))
		}
	}
	return out
}

// ListEntities returns committed entities of the given type sorted by id.
func (v graphView) ListEntities(entityType domain.EntityType) []domain.Entity {
	var out []domain.Entity
	for _, e := range v.state.entities {
		if e.Type == entityType {
			out = append(out, cloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

package domain

import "context"

// Transaction exposes the graph mutations a persistence implementation must
// support within an atomic scope. Entity writes and edge writes issued inside
// one transaction commit or roll back together.
type Transaction interface {
	CreateEntity(Entity) (Entity, error)
	UpdateEntity(id string, mutator func(*Entity) error) (Entity, error)
	WriteEdge(Edge) error
	GetEntity(id string) (Entity, bool)
}

// GraphView provides read-only access to committed graph state.
type GraphView interface {
	GetEntity(id string) (Entity, bool)
	Parents(id string) []Entity
	Children(id string) []Entity
	ListEntities(entityType EntityType) []Entity
}

// GraphStore is the persistence port consumed by the core. Implementations
// must guarantee that RunInTransaction applies all writes atomically.
type GraphStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	View(ctx context.Context, fn func(GraphView) error) error
	GetEntity(id string) (Entity, bool)
}

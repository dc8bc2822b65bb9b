// Package graph walks the provenance graph over the abstract store port.
// Traversal is iterative BFS with explicit visited-id tracking, so cyclic or
// multi-path graphs emit each reachable entity once and closer relatives
// appear before farther ones.
package graph

import (
	"context"

	"entitycore/pkg/domain"
)

// Source yields read-only graph views. The persistent stores satisfy it.
type Source interface {
	View(ctx context.Context, fn func(domain.GraphView) error) error
}

// Walker answers parent/child/ancestor/descendant queries.
type Walker struct {
	src Source
}

// NewWalker constructs a walker over the graph source.
func NewWalker(src Source) *Walker {
	return &Walker{src: src}
}

// Parents returns the direct ancestors of the entity.
func (w *Walker) Parents(ctx context.Context, id string) ([]domain.Entity, error) {
	return w.neighbors(ctx, id, domain.DirectionUp, false)
}

// Children returns the direct descendants of the entity.
func (w *Walker) Children(ctx context.Context, id string) ([]domain.Entity, error) {
	return w.neighbors(ctx, id, domain.DirectionDown, false)
}

// Ancestors returns every entity reachable walking up, deduplicated by id in
// BFS order.
func (w *Walker) Ancestors(ctx context.Context, id string) ([]domain.Entity, error) {
	return w.neighbors(ctx, id, domain.DirectionUp, true)
}

// Descendants returns every entity reachable walking down, deduplicated by id
// in BFS order.
func (w *Walker) Descendants(ctx context.Context, id string) ([]domain.Entity, error) {
	return w.neighbors(ctx, id, domain.DirectionDown, true)
}

func (w *Walker) neighbors(ctx context.Context, id string, dir domain.Direction, unbounded bool) ([]domain.Entity, error) {
	var out []domain.Entity
	err := w.src.View(ctx, func(view domain.GraphView) error {
		if _, ok := view.GetEntity(id); !ok {
			return domain.ErrNotFound{Kind: "entity", ID: id}
		}
		adjacent := view.Parents
		if dir == domain.DirectionDown {
			adjacent = view.Children
		}
		if !unbounded {
			out = adjacent(id)
			return nil
		}
		visited := map[string]bool{id: true}
		queue := adjacent(id)
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			if visited[next.ID] {
				continue
			}
			visited[next.ID] = true
			out = append(out, next)
			queue = append(queue, adjacent(next.ID)...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Project applies a single-property projection after traversal, keeping
// result semantics independent of the storage backend. The uuid and
// entity_type identity fields are addressable alongside schema properties;
// entities lacking the property are skipped.
func Project(entities []domain.Entity, property string) []any {
	out := make([]any, 0, len(entities))
	for _, e := range entities {
		switch property {
		case "uuid":
			out = append(out, e.ID)
		case "entity_type":
			out = append(out, string(e.Type))
		default:
			if v, ok := e.Properties[property]; ok {
				out = append(out, v)
			}
		}
	}
	return out
}

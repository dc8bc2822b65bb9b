package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"entitycore/pkg/domain"
)

func TestCreateAndGetEntity(t *testing.T) {
	store := NewStore()
	fixed := time.Unix(1700000000, 0).UTC()
	store.SetNowFunc(func() time.Time { return fixed })
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateEntity(domain.Entity{
			ID:         "d1",
			Type:       domain.EntityDonor,
			Properties: map[string]any{"label": "Donor"},
		})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, ok := store.GetEntity("d1")
	if !ok {
		t.Fatal("entity not committed")
	}
	if !got.CreatedAt.Equal(fixed) || !got.UpdatedAt.Equal(fixed) {
		t.Fatalf("timestamps = %v / %v, want %v", got.CreatedAt, got.UpdatedAt, fixed)
	}
}

func TestCreateDuplicateConflicts(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seed := func() error {
		return store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.CreateEntity(domain.Entity{ID: "d1", Type: domain.EntityDonor})
			return err
		})
	}
	if err := seed(); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := seed()
	var conflict domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestFailedTransactionLeavesNoTrace(t *testing.T) {
	store := NewStore()
	boom := fmt.Errorf("boom")
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateEntity(domain.Entity{ID: "d1", Type: domain.EntityDonor}); err != nil {
			return err
		}
		if _, err := tx.CreateEntity(domain.Entity{ID: "s1", Type: domain.EntitySample}); err != nil {
			return err
		}
		if err := tx.WriteEdge(domain.Edge{AncestorID: "d1", DescendantID: "s1", Kind: domain.KindDerivation}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := store.GetEntity("d1"); ok {
		t.Fatal("rolled back entity is visible")
	}
	verr := store.View(context.Background(), func(v domain.GraphView) error {
		if got := v.Children("d1"); len(got) != 0 {
			t.Fatalf("rolled back edge is visible: %v", got)
		}
		return nil
	})
	if verr != nil {
		t.Fatalf("view: %v", verr)
	}
}

func TestWriteEdgeValidatesEndpoints(t *testing.T) {
	store := NewStore()
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateEntity(domain.Entity{ID: "d1", Type: domain.EntityDonor}); err != nil {
			return err
		}
		return tx.WriteEdge(domain.Edge{AncestorID: "d1", DescendantID: "ghost", Kind: domain.KindDerivation})
	})
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateEntity(domain.Entity{ID: "d2", Type: domain.EntityDonor}); err != nil {
			return err
		}
		return tx.WriteEdge(domain.Edge{AncestorID: "d2", DescendantID: "d2", Kind: domain.KindDerivation})
	})
	var bad domain.ErrBadRequest
	if !errors.As(err, &bad) {
		t.Fatalf("expected ErrBadRequest for self-edge, got %v", err)
	}
}

func TestUpdateEntityMutatesCopy(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateEntity(domain.Entity{
			ID:         "d1",
			Type:       domain.EntityDonor,
			Properties: map[string]any{"label": "before"},
		})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mutatorErr := fmt.Errorf("mutator refused")
	err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateEntity("d1", func(e *domain.Entity) error {
			e.Properties["label"] = "poisoned"
			return mutatorErr
		})
		return err
	})
	if !errors.Is(err, mutatorErr) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	got, _ := store.GetEntity("d1")
	if got.Properties["label"] != "before" {
		t.Fatalf("failed mutation leaked: %v", got.Properties)
	}

	err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateEntity("d1", func(e *domain.Entity) error {
			e.Properties["label"] = "after"
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.GetEntity("d1")
	if got.Properties["label"] != "after" {
		t.Fatalf("update not applied: %v", got.Properties)
	}
}

func TestReturnedEntitiesAreClones(t *testing.T) {
	store := NewStore()
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateEntity(domain.Entity{
			ID:         "d1",
			Type:       domain.EntityDonor,
			Properties: map[string]any{"label": "original"},
		})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := store.GetEntity("d1")
	got.Properties["label"] = "tampered"
	fresh, _ := store.GetEntity("d1")
	if fresh.Properties["label"] != "original" {
		t.Fatal("caller mutation reached committed state")
	}
}

func TestSnapshotRoundtrip(t *testing.T) {
	store := NewStore()
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for _, e := range []domain.Entity{
			{ID: "d1", Type: domain.EntityDonor, Properties: map[string]any{"label": "Donor"}},
			{ID: "s1", Type: domain.EntitySample, SubType: []string{"organ"}, Properties: map[string]any{}},
		} {
			if _, err := tx.CreateEntity(e); err != nil {
				return err
			}
		}
		return tx.WriteEdge(domain.Edge{AncestorID: "d1", DescendantID: "s1", Kind: domain.KindDerivation, CreationAction: "Create Sample Activity"})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	restored := NewStore()
	restored.ImportState(store.ExportState())

	if _, ok := restored.GetEntity("s1"); !ok {
		t.Fatal("entity lost in roundtrip")
	}
	verr := restored.View(context.Background(), func(v domain.GraphView) error {
		children := v.Children("d1")
		if len(children) != 1 || children[0].ID != "s1" {
			t.Fatalf("adjacency lost: %v", children)
		}
		parents := v.Parents("s1")
		if len(parents) != 1 || parents[0].ID != "d1" {
			t.Fatalf("reverse adjacency lost: %v", parents)
		}
		return nil
	})
	if verr != nil {
		t.Fatalf("view: %v", verr)
	}
}

func TestImportSkipsDanglingEdges(t *testing.T) {
	store := NewStore()
	store.ImportState(Snapshot{
		Entities: map[string]domain.Entity{
			"d1": {ID: "d1", Type: domain.EntityDonor},
		},
		Edges: []domain.Edge{{AncestorID: "d1", DescendantID: "missing", Kind: domain.KindDerivation}},
	})
	err := store.View(context.Background(), func(v domain.GraphView) error {
		if got := v.Children("d1"); len(got) != 0 {
			t.Fatalf("dangling edge survived import: %v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestListEntitiesSortedByID(t *testing.T) {
	store := NewStore()
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for _, id := range []string{"c", "a", "b"} {
			if _, err := tx.CreateEntity(domain.Entity{ID: id, Type: domain.EntityDonor}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	verr := store.View(context.Background(), func(v domain.GraphView) error {
		list := v.ListEntities(domain.EntityDonor)
		if len(list) != 3 || list[0].ID != "a" || list[2].ID != "c" {
			t.Fatalf("list = %v", list)
		}
		return nil
	})
	if verr != nil {
		t.Fatalf("view: %v", verr)
	}
}

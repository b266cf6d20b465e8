package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jmerrifield20/auditnotary/internal/audit/model"
	"github.com/jmerrifield20/auditnotary/internal/audit/repository"
)

var ctx = context.Background()

func TestMemory_createAndGet(t *testing.T) {
	r := repository.NewMemoryRepository()
	a := &model.Audit{
		Title:   "Cocina",
		TypeKey: "sanitary-audit-v1",
		State:   model.State{"checklist": []any{map[string]any{"id": "item-1", "score": 1.5}}},
	}
	if err := r.Create(ctx, a); err != nil {
		t.Fatal(err)
	}
	if a.ID == uuid.Nil || a.Status != model.StatusDraft {
		t.Fatalf("Create did not assign id/status: %+v", a)
	}

	got, err := r.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	item := got.State["checklist"].([]any)[0].(map[string]any)
	if n, ok := item["score"].(json.Number); !ok || n.String() != "1.5" {
		t.Errorf("stored state should decode numbers as json.Number, got %#v", item["score"])
	}

	// Mutating the returned value must not leak into storage.
	got.State["checklist"] = nil
	again, _ := r.GetByID(ctx, a.ID)
	if again.State["checklist"] == nil {
		t.Error("GetByID returned shared state")
	}
}

func TestMemory_getMissing(t *testing.T) {
	r := repository.NewMemoryRepository()
	if _, err := r.GetByID(ctx, uuid.New()); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := r.Delete(ctx, uuid.New()); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_completeIsConditional(t *testing.T) {
	r := repository.NewMemoryRepository()
	a := &model.Audit{Title: "A", TypeKey: "k"}
	_ = r.Create(ctx, a)

	h := "abc"
	first, _ := r.GetByID(ctx, a.ID)
	first.IntegrityHash = &h
	if err := r.Complete(ctx, first); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	if first.Status != model.StatusCompleted || first.Tier != model.TierHashOnly {
		t.Errorf("unexpected status/tier: %s %s", first.Status, first.Tier)
	}

	second, _ := r.GetByID(ctx, a.ID)
	second.Status = model.StatusDraft
	if err := r.Complete(ctx, second); !errors.Is(err, repository.ErrAlreadyCompleted) {
		t.Errorf("second Complete: expected ErrAlreadyCompleted, got %v", err)
	}
	if err := r.UpdateDraft(ctx, second); !errors.Is(err, repository.ErrAlreadyCompleted) {
		t.Errorf("UpdateDraft on completed: expected ErrAlreadyCompleted, got %v", err)
	}
	if err := r.Complete(ctx, &model.Audit{ID: uuid.New()}); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Complete missing: expected ErrNotFound, got %v", err)
	}
}

func TestMemory_updateDraft(t *testing.T) {
	r := repository.NewMemoryRepository()
	a := &model.Audit{Title: "A", TypeKey: "k"}
	_ = r.Create(ctx, a)

	a.Title = "B"
	a.TypeKey = "bakery"
	a.Stats.Total = 12
	if err := r.UpdateDraft(ctx, a); err != nil {
		t.Fatal(err)
	}
	got, _ := r.GetByID(ctx, a.ID)
	if got.Title != "B" || got.TypeKey != "bakery" || got.Stats.Total != 12 {
		t.Errorf("update not stored: %+v", got)
	}
}

func TestMemory_listNewestFirst(t *testing.T) {
	r := repository.NewMemoryRepository()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		a := &model.Audit{Title: "A", TypeKey: "k"}
		_ = r.Create(ctx, a)
		ids = append(ids, a.ID)
		time.Sleep(time.Millisecond)
	}

	list, err := r.List(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != ids[2] || list[2].ID != ids[0] {
		t.Errorf("unexpected order")
	}

	page, _ := r.List(ctx, 1, 1)
	if len(page) != 1 || page[0].ID != ids[1] {
		t.Errorf("pagination broken")
	}
}

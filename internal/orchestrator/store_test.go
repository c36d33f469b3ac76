package orchestrator

import (
	"testing"
	"time"
)

func TestInMemoryStore_SaveLoad(t *testing.T) {
	store := NewInMemoryStore()

	if store.Load().IsPresent() {
		t.Error("expected no checkpoint in an empty store")
	}

	cp := Checkpoint{Position: 42 * time.Second, TakenAt: time.Unix(100, 0)}
	store.Save(cp)

	got, ok := store.Load().Get()
	if !ok || got != cp {
		t.Errorf("Load: ok=%v, got %+v want %+v", ok, got, cp)
	}
}

func TestInMemoryStore_Save_replaces(t *testing.T) {
	store := NewInMemoryStore()
	store.Save(Checkpoint{Position: time.Second})
	store.Save(Checkpoint{Position: 2 * time.Second})

	got, _ := store.Load().Get()
	if got.Position != 2*time.Second {
		t.Errorf("Save should replace: got %v", got.Position)
	}
}

func TestInMemoryStore_Clear(t *testing.T) {
	store := NewInMemoryStore()
	store.Save(Checkpoint{Position: time.Second})
	store.Clear()
	store.Clear()

	if store.Load().IsPresent() {
		t.Error("expected checkpoint to be cleared")
	}
}

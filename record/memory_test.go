package record

import (
	"context"
	"errors"
	"testing"
	"time"

	syncErrors "github.com/teleregnet/syncbridge/errors"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec := &SyncRecord{
		ID:          "r1",
		AgencyID:    "agency-fr",
		ExternalKey: "project-42",
		Fields:      map[string]any{"title": "Guide v1"},
		Version:     1,
		UpdatedAt:   time.Now(),
	}
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Fields["title"] != "Guide v1" {
		t.Errorf("title = %v, want Guide v1", got.Fields["title"])
	}

	// Returned copy must not alias store state.
	got.Fields["title"] = "mutated"
	again, _ := store.Get(ctx, "r1")
	if again.Fields["title"] != "Guide v1" {
		t.Error("Get returned an aliased record")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, syncErrors.ErrRecordNotFound) {
		t.Errorf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestMemoryStoreListByAgency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, rec := range []*SyncRecord{
		{ID: "a", AgencyID: "fr", ExternalKey: "k1"},
		{ID: "b", AgencyID: "de", ExternalKey: "k2"},
		{ID: "c", AgencyID: "fr", ExternalKey: "k3"},
	} {
		if err := store.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	got, err := store.ListByAgency(ctx, "fr")
	if err != nil {
		t.Fatalf("ListByAgency: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Upsert(ctx, &SyncRecord{ID: "r1", AgencyID: "fr", ExternalKey: "k1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	deleted, err := store.Delete(ctx, "r1")
	if err != nil || !deleted {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", deleted, err)
	}
	if _, err := store.Get(ctx, "r1"); !errors.Is(err, syncErrors.ErrRecordNotFound) {
		t.Errorf("err = %v, want ErrRecordNotFound", err)
	}

	deleted, err = store.Delete(ctx, "r1")
	if err != nil || deleted {
		t.Errorf("second Delete = (%v, %v), want (false, nil)", deleted, err)
	}
}

func TestMarkSynced(t *testing.T) {
	rec := &SyncRecord{
		ID:     "r1",
		Fields: map[string]any{"title": "Guide v2"},
	}
	now := time.Now()
	rec.MarkSynced(now)

	if rec.Baseline["title"] != "Guide v2" {
		t.Error("baseline not advanced")
	}
	rec.Fields["title"] = "Guide v3"
	if rec.Baseline["title"] != "Guide v2" {
		t.Error("baseline aliases fields")
	}
	if !rec.LastSyncedAt.Equal(now) {
		t.Error("LastSyncedAt not stamped")
	}
}

package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/markmhendrickson/neotoma/internal/neoerr"
	"github.com/markmhendrickson/neotoma/internal/types"
)

// newTestStore opens a fresh file-backed SQLiteStorage in an isolated
// temp dir and registers cleanup.
func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	ctx := context.Background()
	store, err := New(ctx, t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})
	return store
}

func TestSourceDedupOnContentHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := &types.Source{
		ID:          "src_1",
		UserID:      "user_1",
		ContentHash: "abc123",
		StorageURL:  "file:///abc123",
		MimeType:    "text/plain",
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.InsertSource(ctx, src); err != nil {
		t.Fatalf("InsertSource() error = %v", err)
	}

	_, ok, err := store.LookupSourceByHash(ctx, "user_1", "abc123")
	if err != nil {
		t.Fatalf("LookupSourceByHash() error = %v", err)
	}
	if !ok {
		t.Fatal("LookupSourceByHash() found = false, want true")
	}

	// same content_hash under a different tenant must not collide.
	_, ok, err = store.LookupSourceByHash(ctx, "user_2", "abc123")
	if err != nil {
		t.Fatalf("LookupSourceByHash() error = %v", err)
	}
	if ok {
		t.Fatal("LookupSourceByHash() leaked across tenants")
	}

	// inserting the same (user, content_hash) pair again must conflict.
	dup := &types.Source{
		ID:          "src_2",
		UserID:      "user_1",
		ContentHash: "abc123",
		StorageURL:  "file:///abc123-again",
		MimeType:    "text/plain",
		CreatedAt:   time.Now().UTC(),
	}
	err = store.InsertSource(ctx, dup)
	if err == nil {
		t.Fatal("InsertSource() duplicate content_hash succeeded, want conflict")
	}
	if !errors.Is(err, neoerr.ErrConflict) {
		t.Fatalf("InsertSource() error = %v, want neoerr.ErrConflict", err)
	}
}

func TestEntityResolutionKeyUniquePerTenant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ent := &types.Entity{ID: "ent_1", UserID: "user_1", EntityType: "person", CreatedAt: time.Now().UTC()}
	if err := store.InsertEntity(ctx, ent, "key_a"); err != nil {
		t.Fatalf("InsertEntity() error = %v", err)
	}

	_, found, err := store.LookupEntityByResolutionKey(ctx, "user_1", "person", "key_a")
	if err != nil {
		t.Fatalf("LookupEntityByResolutionKey() error = %v", err)
	}
	if !found {
		t.Fatal("LookupEntityByResolutionKey() found = false, want true")
	}

	other := &types.Entity{ID: "ent_2", UserID: "user_1", EntityType: "person", CreatedAt: time.Now().UTC()}
	err = store.InsertEntity(ctx, other, "key_a")
	if err == nil || !errors.Is(err, neoerr.ErrConflict) {
		t.Fatalf("InsertEntity() duplicate resolution_key error = %v, want neoerr.ErrConflict", err)
	}
}

func TestListObservationsOrdersByTheFourKeyTotalOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ent := &types.Entity{ID: "ent_1", UserID: "user_1", EntityType: "person", CreatedAt: time.Now().UTC()}
	if err := store.InsertEntity(ctx, ent, "key_a"); err != nil {
		t.Fatalf("InsertEntity() error = %v", err)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := []*types.Observation{
		{ID: "o3", UserID: "user_1", EntityID: "ent_1", EntityType: "person", SourceID: "src_b", SourcePriority: types.PriorityAIExtraction, ObservedAt: base, Fields: map[string]any{"name": "c"}},
		{ID: "o1", UserID: "user_1", EntityID: "ent_1", EntityType: "person", SourceID: "src_a", SourcePriority: types.PriorityUserCorrection, ObservedAt: base, Fields: map[string]any{"name": "a"}},
		{ID: "o2", UserID: "user_1", EntityID: "ent_1", EntityType: "person", SourceID: "src_a", SourcePriority: types.PriorityAIExtraction, ObservedAt: base.Add(time.Hour), Fields: map[string]any{"name": "b"}},
	}
	if err := store.InsertObservations(ctx, obs); err != nil {
		t.Fatalf("InsertObservations() error = %v", err)
	}

	got, err := store.ListObservations(ctx, "user_1", types.ObservationFilter{EntityID: "ent_1"})
	if err != nil {
		t.Fatalf("ListObservations() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListObservations() len = %d, want 3", len(got))
	}
	// o1 wins on priority, then o2 (later observed_at) before o3.
	wantOrder := []string{"o1", "o2", "o3"}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Fatalf("ListObservations()[%d].ID = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestMergeEntitiesRewritesObservationsAndMarksRedirect(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	from := &types.Entity{ID: "ent_from", UserID: "user_1", EntityType: "person", CreatedAt: time.Now().UTC()}
	to := &types.Entity{ID: "ent_to", UserID: "user_1", EntityType: "person", CreatedAt: time.Now().UTC()}
	if err := store.InsertEntity(ctx, from, "key_from"); err != nil {
		t.Fatalf("InsertEntity(from) error = %v", err)
	}
	if err := store.InsertEntity(ctx, to, "key_to"); err != nil {
		t.Fatalf("InsertEntity(to) error = %v", err)
	}

	obs := []*types.Observation{
		{ID: "o1", UserID: "user_1", EntityID: "ent_from", EntityType: "person", SourcePriority: types.PriorityAIExtraction, ObservedAt: time.Now().UTC(), Fields: map[string]any{"name": "a"}},
	}
	if err := store.InsertObservations(ctx, obs); err != nil {
		t.Fatalf("InsertObservations() error = %v", err)
	}

	merge, err := store.MergeEntities(ctx, "user_1", "ent_from", "ent_to", time.Now().UTC())
	if err != nil {
		t.Fatalf("MergeEntities() error = %v", err)
	}
	if merge.ObservationsMoved != 1 {
		t.Fatalf("MergeEntities() ObservationsMoved = %d, want 1", merge.ObservationsMoved)
	}

	got, err := store.GetEntity(ctx, "user_1", "ent_from")
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if !got.Redirected() || got.MergedToEntityID != "ent_to" {
		t.Fatalf("GetEntity(from) not redirected to ent_to: %+v", got)
	}

	moved, err := store.ListObservations(ctx, "user_1", types.ObservationFilter{EntityID: "ent_to"})
	if err != nil {
		t.Fatalf("ListObservations(to) error = %v", err)
	}
	if len(moved) != 1 || moved[0].ID != "o1" {
		t.Fatalf("ListObservations(to) = %+v, want [o1]", moved)
	}
}

func TestIdempotencyKeyRecordAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, found, err := store.LookupIdempotencyKey(ctx, "user_1", "key_1")
	if err != nil {
		t.Fatalf("LookupIdempotencyKey() error = %v", err)
	}
	if found {
		t.Fatal("LookupIdempotencyKey() found = true before any record, want false")
	}

	if err := store.RecordIdempotencyKey(ctx, "user_1", "key_1", "src_1"); err != nil {
		t.Fatalf("RecordIdempotencyKey() error = %v", err)
	}

	sourceID, found, err := store.LookupIdempotencyKey(ctx, "user_1", "key_1")
	if err != nil {
		t.Fatalf("LookupIdempotencyKey() error = %v", err)
	}
	if !found || sourceID != "src_1" {
		t.Fatalf("LookupIdempotencyKey() = (%s, %v), want (src_1, true)", sourceID, found)
	}

	// recording the same key again must not error (idempotent upsert).
	if err := store.RecordIdempotencyKey(ctx, "user_1", "key_1", "src_2"); err != nil {
		t.Fatalf("RecordIdempotencyKey() second call error = %v", err)
	}
}

func TestGetEntityNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetEntity(ctx, "user_1", "ent_missing")
	if !errors.Is(err, neoerr.ErrNotFound) {
		t.Fatalf("GetEntity() error = %v, want neoerr.ErrNotFound", err)
	}
}

func TestSchemaRegistryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := &types.SchemaDefinition{
		EntityType:    "person",
		SchemaVersion: "v1",
		Fields: []types.FieldDefinition{
			{Name: "name", Type: types.FieldTypeString, MergePolicy: types.MergeLastWriterWins},
		},
	}
	if err := store.PutSchema(ctx, def); err != nil {
		t.Fatalf("PutSchema() error = %v", err)
	}

	got, err := store.GetLatestSchema(ctx, "person")
	if err != nil {
		t.Fatalf("GetLatestSchema() error = %v", err)
	}
	if got.SchemaVersion != "v1" || len(got.Fields) != 1 {
		t.Fatalf("GetLatestSchema() = %+v, want v1 with 1 field", got)
	}

	types_, err := store.ListEntityTypes(ctx)
	if err != nil {
		t.Fatalf("ListEntityTypes() error = %v", err)
	}
	if len(types_) != 1 || types_[0] != "person" {
		t.Fatalf("ListEntityTypes() = %v, want [person]", types_)
	}
}

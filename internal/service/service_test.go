package service_test

import (
	"context"
	"testing"

	"github.com/markmhendrickson/neotoma/internal/blobstore"
	"github.com/markmhendrickson/neotoma/internal/schema"
	"github.com/markmhendrickson/neotoma/internal/service"
	"github.com/markmhendrickson/neotoma/internal/storage/sqlite"
	"github.com/markmhendrickson/neotoma/internal/types"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *service.Service {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, t.TempDir()+"/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	blobs, err := blobstore.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	svc, err := service.New(store, blobs, service.Options{MaxInterpretationsPerTenant: 100})
	require.NoError(t, err)

	require.NoError(t, svc.Registry().RegisterSchema(ctx, &types.SchemaDefinition{
		EntityType:    "person",
		SchemaVersion: "v1",
		Fields: []types.FieldDefinition{
			{Name: "name", Type: types.FieldTypeString, MergePolicy: types.MergeLastWriterWins},
			{Name: "email", Type: types.FieldTypeString, MergePolicy: types.MergeLastWriterWins},
		},
		CanonicalizationRules: types.CanonicalizationRules{
			SourceField: "name",
			Steps:       []types.CanonicalizationStep{types.CanonLowercase, types.CanonTrim},
		},
		EntityResolutionKey: types.EntityResolutionKey{Kind: types.ResolutionNaturalKey, Fields: []string{"email"}},
	}))
	return svc
}

func TestIngestUnstructuredDeduplicatesIdenticalBytes(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	first, err := svc.IngestUnstructured(ctx, service.IngestUnstructuredInput{
		UserID:   "user_1",
		Bytes:    []byte("hello world"),
		MimeType: "text/plain",
	})
	require.NoError(t, err)
	require.False(t, first.Deduplicated)

	second, err := svc.IngestUnstructured(ctx, service.IngestUnstructuredInput{
		UserID:   "user_1",
		Bytes:    []byte("hello world"),
		MimeType: "text/plain",
	})
	require.NoError(t, err)
	require.True(t, second.Deduplicated)
	require.Equal(t, first.SourceID, second.SourceID)
}

func TestCorrectOutranksPriorAIExtraction(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	candidates := []types.ExtractorEntityCandidate{
		{EntityType: "person", ExternalID: "p1", Fields: map[string]any{"name": "Alice", "email": "alice@example.com"}},
	}
	ingestResult, err := svc.IngestUnstructured(ctx, service.IngestUnstructuredInput{
		UserID:          "user_1",
		Bytes:           []byte("Alice works here"),
		MimeType:        "text/plain",
		Interpret:       true,
		ExtractorOutput: candidates,
	})
	require.NoError(t, err)
	require.Equal(t, 1, ingestResult.ObservationCount)

	ents, err := svc.Query().RetrieveEntities(ctx, "user_1", types.EntityFilter{EntityType: "person"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	entityID := ents[0].ID

	snapBefore, err := svc.Query().RetrieveEntitySnapshot(ctx, "user_1", entityID, nil)
	require.NoError(t, err)
	require.Equal(t, "Alice", snapBefore.Snapshot.Fields["name"])

	require.NoError(t, svc.Correct(ctx, "user_1", entityID, "name", "Alice Correct"))

	snapAfter, err := svc.Query().RetrieveEntitySnapshot(ctx, "user_1", entityID, nil)
	require.NoError(t, err)
	require.Equal(t, "Alice Correct", snapAfter.Snapshot.Fields["name"])
}

func TestMergeEntitiesRedirectsSnapshotRead(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.IngestStructured(ctx, service.IngestStructuredInput{
		UserID: "user_1",
		Entities: []types.ExtractorEntityCandidate{
			{EntityType: "person", Fields: map[string]any{"name": "Bob", "email": "bob@example.com"}},
		},
	})
	require.NoError(t, err)
	_, err = svc.IngestStructured(ctx, service.IngestStructuredInput{
		UserID: "user_1",
		Entities: []types.ExtractorEntityCandidate{
			{EntityType: "person", Fields: map[string]any{"name": "Bobby", "email": "bobby@example.com"}},
		},
	})
	require.NoError(t, err)

	ents, err := svc.Query().RetrieveEntities(ctx, "user_1", types.EntityFilter{EntityType: "person"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, ents, 2)

	from, to := ents[0].ID, ents[1].ID
	_, err = svc.MergeEntities(ctx, "user_1", from, to)
	require.NoError(t, err)

	result, err := svc.Query().RetrieveEntitySnapshot(ctx, "user_1", from, nil)
	require.NoError(t, err)
	require.Equal(t, from, result.RedirectedFrom)
	require.Equal(t, to, result.Snapshot.EntityID)
}

// TestReinterpretIsAdditive covers a reinterpretation that runs a
// second time over the same source under a different config: the prior
// observation stays untouched alongside the new one, and the entity
// snapshot reflects the winner under the total order (the later
// observation, at equal priority).
func TestReinterpretIsAdditive(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	ingestResult, err := svc.IngestUnstructured(ctx, service.IngestUnstructuredInput{
		UserID:    "user_1",
		Bytes:     []byte("Dana, dana@example.com"),
		MimeType:  "text/plain",
		Interpret: true,
		ExtractorOutput: []types.ExtractorEntityCandidate{
			{EntityType: "person", Fields: map[string]any{"name": "Dana", "email": "dana@example.com"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, ingestResult.ObservationCount)

	ents, err := svc.Query().RetrieveEntities(ctx, "user_1", types.EntityFilter{EntityType: "person"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	entityID := ents[0].ID

	firstObs, err := svc.Query().ListObservations(ctx, "user_1", types.ObservationFilter{EntityType: "person"})
	require.NoError(t, err)
	require.Len(t, firstObs, 1)

	_, err = svc.Reinterpret(ctx, "user_1", ingestResult.SourceID, []types.ExtractorEntityCandidate{
		{EntityType: "person", Fields: map[string]any{"name": "Dana Updated", "email": "dana@example.com"}},
	}, types.InterpretationConfig{Provider: "test", ModelID: "m2"})
	require.NoError(t, err)

	secondObs, err := svc.Query().ListObservations(ctx, "user_1", types.ObservationFilter{EntityType: "person"})
	require.NoError(t, err)
	require.Len(t, secondObs, 2, "reinterpretation must add a new observation, not replace the original")
	require.Equal(t, firstObs[0].ID, secondObs[len(secondObs)-1].ID, "the original observation from the first interpretation must still exist unchanged")

	snap, err := svc.Query().RetrieveEntitySnapshot(ctx, "user_1", entityID, nil)
	require.NoError(t, err)
	require.Equal(t, "Dana Updated", snap.Snapshot.Fields["name"])
}

// TestSchemaPromotionRecomputesExistingSnapshots covers the schema
// evolution flow (§4.7): a recurring unknown field crosses the
// promotion thresholds across several interpretations, gets promoted,
// and a subsequent snapshot read surfaces it for entities ingested
// before the promotion, without any re-ingestion.
func TestSchemaPromotionRecomputesExistingSnapshots(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	candidates := []types.ExtractorEntityCandidate{
		{EntityType: "person", Fields: map[string]any{"name": "Eve", "email": "eve@example.com", "phone": "555-0100"}},
	}
	for i, src := range []string{"src_1", "src_2", "src_3"} {
		_, err := svc.IngestUnstructured(ctx, service.IngestUnstructuredInput{
			UserID:          "user_1",
			Bytes:           []byte(src),
			MimeType:        "text/plain",
			Interpret:       true,
			ExtractorOutput: candidates,
		})
		require.NoError(t, err, "ingest %d", i)
	}

	ents, err := svc.Query().RetrieveEntities(ctx, "user_1", types.EntityFilter{EntityType: "person"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	entityID := ents[0].ID

	snapBefore, err := svc.Query().RetrieveEntitySnapshot(ctx, "user_1", entityID, nil)
	require.NoError(t, err)
	_, known := snapBefore.Snapshot.Fields["phone"]
	require.False(t, known, "phone has not been promoted yet")

	candidatesToPromote, err := svc.Evolver().AnalyzeCandidates(ctx, "user_1", "person", schema.CandidateThresholds{MinOccurrences: 3, MinSources: 2})
	require.NoError(t, err)
	require.Len(t, candidatesToPromote, 1)
	require.Equal(t, "phone", candidatesToPromote[0].FieldName)

	_, err = svc.Evolver().Promote(ctx, "user_1", "person", candidatesToPromote)
	require.NoError(t, err)

	snapAfter, err := svc.Query().RetrieveEntitySnapshot(ctx, "user_1", entityID, nil)
	require.NoError(t, err)
	require.Equal(t, "555-0100", snapAfter.Snapshot.Fields["phone"])
}

// TestIdentityKeyPerformsNoResolution covers the "no resolution" edge
// case of identity_key (§4.2): two structured-ingest candidates
// carrying the same identity field value must each become their own
// entity, unlike natural_key and content_hash_key which would dedup
// them onto one.
func TestIdentityKeyPerformsNoResolution(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	require.NoError(t, svc.Registry().RegisterSchema(ctx, &types.SchemaDefinition{
		EntityType:    "device_reading",
		SchemaVersion: "v1",
		Fields: []types.FieldDefinition{
			{Name: "sensor_id", Type: types.FieldTypeString, MergePolicy: types.MergeLastWriterWins},
		},
		EntityResolutionKey: types.EntityResolutionKey{Kind: types.ResolutionIdentityKey, Fields: []string{"sensor_id"}},
	}))

	candidate := []types.ExtractorEntityCandidate{
		{EntityType: "device_reading", Fields: map[string]any{"sensor_id": "sensor-42"}},
	}
	_, err := svc.IngestStructured(ctx, service.IngestStructuredInput{UserID: "user_1", Entities: candidate})
	require.NoError(t, err)
	_, err = svc.IngestStructured(ctx, service.IngestStructuredInput{UserID: "user_1", Entities: candidate})
	require.NoError(t, err)

	ents, err := svc.Query().RetrieveEntities(ctx, "user_1", types.EntityFilter{EntityType: "device_reading"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, ents, 2, "identity_key candidates must never resolve onto the same entity")
}

package reducer_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/markmhendrickson/neotoma/internal/reducer"
	"github.com/markmhendrickson/neotoma/internal/types"
	"github.com/stretchr/testify/assert"
)

func personSchema() *types.SchemaDefinition {
	return &types.SchemaDefinition{
		EntityType:   "person",
		SchemaVersion: "v1",
		Fields: []types.FieldDefinition{
			{Name: "name", Type: types.FieldTypeString, MergePolicy: types.MergeLastWriterWins},
			{Name: "age", Type: types.FieldTypeNumber, Precision: 0, MergePolicy: types.MergeMax},
			{Name: "tags", Type: types.FieldTypeSet, MergePolicy: types.MergeUnion},
		},
		CanonicalizationRules: types.CanonicalizationRules{
			SourceField: "name",
			Steps:       []types.CanonicalizationStep{types.CanonLowercase, types.CanonCollapseWhitespace, types.CanonTrim},
		},
	}
}

func obs(id string, priority int, observedAt time.Time, sourceID string, fields map[string]any) *types.Observation {
	return &types.Observation{
		ID:             id,
		EntityID:       "ent_1",
		EntityType:     "person",
		SourceID:       sourceID,
		ObservedAt:     observedAt,
		SourcePriority: priority,
		Fields:         fields,
	}
}

func TestReduceLastWriterWinsPicksHighestPriorityThenLatest(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	observations := []*types.Observation{
		obs("o1", types.PriorityAIExtraction, base, "src_1", map[string]any{"name": "Alice"}),
		obs("o2", types.PriorityUserCorrection, base.Add(-time.Hour), "src_2", map[string]any{"name": "Alicia"}),
		obs("o3", types.PriorityAIExtraction, base.Add(time.Hour), "src_3", map[string]any{"name": "Al"}),
	}

	snap := reducer.Reduce("ent_1", "person", "user_1", observations, personSchema(), base)

	assert.Equal(t, "Alicia", snap.Fields["name"])
	assert.Equal(t, "o2", snap.FieldProvenance["name"].ObservationID)
}

func TestReduceIsShuffleInvariant(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	observations := []*types.Observation{
		obs("o1", types.PriorityAIExtraction, base, "src_1", map[string]any{"name": "Alice", "age": 30.0, "tags": []any{"vip"}}),
		obs("o2", types.PriorityUserCorrection, base.Add(-time.Hour), "src_2", map[string]any{"name": "Alicia"}),
		obs("o3", types.PriorityStructured, base.Add(2*time.Hour), "src_3", map[string]any{"age": 42.0, "tags": []any{"beta", "vip"}}),
		obs("o4", types.PriorityLegacy, base.Add(-48*time.Hour), "src_0", map[string]any{"name": "A."}),
	}
	schema := personSchema()

	want := reducer.Reduce("ent_1", "person", "user_1", observations, schema, base)

	for i := 0; i < 20; i++ {
		shuffled := append([]*types.Observation(nil), observations...)
		rand.New(rand.NewSource(int64(i))).Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got := reducer.Reduce("ent_1", "person", "user_1", shuffled, schema, base)
		assert.Equal(t, want.Fields, got.Fields, "shuffle %d", i)
		assert.Equal(t, want.CanonicalName, got.CanonicalName)
	}
}

func TestReduceMaxPolicyPicksHighestValueRegardlessOfPriority(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	observations := []*types.Observation{
		obs("o1", types.PriorityUserCorrection, base, "src_1", map[string]any{"age": 10.0}),
		obs("o2", types.PriorityAIExtraction, base, "src_2", map[string]any{"age": 99.0}),
	}

	snap := reducer.Reduce("ent_1", "person", "user_1", observations, personSchema(), base)

	assert.Equal(t, "99", snap.Fields["age"])
	assert.Equal(t, "o2", snap.FieldProvenance["age"].ObservationID)
}

func TestReduceUnionDedupsAndSorts(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	observations := []*types.Observation{
		obs("o1", types.PriorityAIExtraction, base, "src_1", map[string]any{"tags": []any{"vip", "beta"}}),
		obs("o2", types.PriorityAIExtraction, base.Add(time.Hour), "src_2", map[string]any{"tags": []any{"beta", "alpha"}}),
	}

	snap := reducer.Reduce("ent_1", "person", "user_1", observations, personSchema(), base)

	assert.Equal(t, "alpha,beta,vip", snap.Fields["tags"])
}

func TestReduceFallsBackToUnknownFieldsForPromotedSchema(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o := obs("o1", types.PriorityAIExtraction, base, "src_1", map[string]any{"name": "Alice"})
	o.ExtractionMetadata.UnknownFields = map[string]any{"age": 51.0}

	snap := reducer.Reduce("ent_1", "person", "user_1", []*types.Observation{o}, personSchema(), base)

	assert.Equal(t, "51", snap.Fields["age"])
}

func TestReduceTombstoneFromHighestPriorityObservation(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	observations := []*types.Observation{
		obs("o1", types.PriorityAIExtraction, base, "src_1", map[string]any{"name": "Alice"}),
		obs("o2", types.PriorityUserCorrection, base.Add(time.Hour), "src_2", map[string]any{"_deleted": true}),
	}

	snap := reducer.Reduce("ent_1", "person", "user_1", observations, personSchema(), base)

	assert.True(t, snap.Tombstoned)
}

func TestReduceRestorationOutranksDeletion(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	observations := []*types.Observation{
		obs("o1", types.PriorityUserCorrection, base, "src_1", map[string]any{"_deleted": true}),
		obs("o2", types.PriorityRestoration, base.Add(time.Hour), "src_2", map[string]any{"_deleted": false}),
	}

	snap := reducer.Reduce("ent_1", "person", "user_1", observations, personSchema(), base)

	assert.False(t, snap.Tombstoned)
}

func TestReduceEmptyObservationsYieldsEmptySnapshot(t *testing.T) {
	snap := reducer.Reduce("ent_1", "person", "user_1", nil, personSchema(), time.Now())
	assert.Equal(t, 0, snap.ObservationCount)
	assert.Empty(t, snap.Fields)
	assert.False(t, snap.Tombstoned)
}

func TestFormatValueNumericFixedPrecision(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	schema := &types.SchemaDefinition{
		EntityType: "invoice",
		Fields: []types.FieldDefinition{
			{Name: "amount", Type: types.FieldTypeNumber, Precision: 2, MergePolicy: types.MergeLastWriterWins},
		},
	}
	o := obs("o1", types.PriorityAIExtraction, base, "src_1", map[string]any{"amount": 19.5})

	snap := reducer.Reduce("ent_1", "invoice", "user_1", []*types.Observation{o}, schema, base)

	assert.Equal(t, "19.50", snap.Fields["amount"])
}

func TestCanonicalizeAppliesStepsInOrder(t *testing.T) {
	steps := []types.CanonicalizationStep{types.CanonLowercase, types.CanonCollapseWhitespace, types.CanonTrim}
	got := reducer.Canonicalize("  José   García  ", steps)
	assert.Equal(t, "josé garcía", got)
}

func TestCanonicalizeStripDiacriticsOnDecomposedInput(t *testing.T) {
	decomposedE := "é" // "e" + combining acute accent
	got := reducer.Canonicalize(decomposedE, []types.CanonicalizationStep{types.CanonStripDiacritics})
	assert.Equal(t, "e", got)
}

func TestCanonicalizeStripDiacriticsLeavesPrecomposedUnchanged(t *testing.T) {
	precomposedE := "é" // single NFC codepoint, no combining mark to strip
	got := reducer.Canonicalize(precomposedE, []types.CanonicalizationStep{types.CanonStripDiacritics})
	assert.Equal(t, precomposedE, got)
}

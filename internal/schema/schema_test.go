package schema_test

import (
	"testing"

	"github.com/markmhendrickson/neotoma/internal/schema"
	"github.com/markmhendrickson/neotoma/internal/types"
	"github.com/stretchr/testify/assert"
)

func unknownFieldObs(sourceID string, unknown map[string]any) *types.Observation {
	return &types.Observation{
		SourceID:           sourceID,
		ExtractionMetadata: types.ExtractionMetadata{UnknownFields: unknown},
	}
}

func TestAnalyzeSchemaCandidatesRequiresBothThresholds(t *testing.T) {
	thresholds := schema.CandidateThresholds{MinOccurrences: 3, MinSources: 2}

	obs := []*types.Observation{
		unknownFieldObs("src_1", map[string]any{"nickname": "Al"}),
		unknownFieldObs("src_1", map[string]any{"nickname": "Al2"}),
		unknownFieldObs("src_1", map[string]any{"nickname": "Al3"}),
	}

	got := schema.AnalyzeSchemaCandidates(obs, thresholds)
	assert.Empty(t, got, "three occurrences but only one distinct source must not qualify")
}

func TestAnalyzeSchemaCandidatesPromotesFieldCrossingBothThresholds(t *testing.T) {
	thresholds := schema.CandidateThresholds{MinOccurrences: 3, MinSources: 2}

	obs := []*types.Observation{
		unknownFieldObs("src_1", map[string]any{"nickname": "Al"}),
		unknownFieldObs("src_2", map[string]any{"nickname": "Ally"}),
		unknownFieldObs("src_2", map[string]any{"nickname": "Allie"}),
	}

	got := schema.AnalyzeSchemaCandidates(obs, thresholds)
	assert.Len(t, got, 1)
	assert.Equal(t, "nickname", got[0].FieldName)
	assert.Equal(t, 3, got[0].Occurrences)
	assert.Equal(t, 2, got[0].DistinctSources)
	assert.Equal(t, types.FieldTypeString, got[0].InferredType)
}

func TestAnalyzeSchemaCandidatesSortedByFieldName(t *testing.T) {
	thresholds := schema.CandidateThresholds{MinOccurrences: 1, MinSources: 1}
	obs := []*types.Observation{
		unknownFieldObs("src_1", map[string]any{"zeta": "z", "alpha": "a"}),
	}

	got := schema.AnalyzeSchemaCandidates(obs, thresholds)
	assert.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].FieldName)
	assert.Equal(t, "zeta", got[1].FieldName)
}

func TestAnalyzeSchemaCandidatesInfersTypeFromSamples(t *testing.T) {
	thresholds := schema.CandidateThresholds{MinOccurrences: 1, MinSources: 1}

	tests := []struct {
		name     string
		samples  []any
		wantType types.FieldType
	}{
		{"all numbers", []any{1.0, 2.0, 3.0}, types.FieldTypeNumber},
		{"all bools", []any{true, false}, types.FieldTypeBool},
		{"all uuids", []any{"550e8400-e29b-41d4-a716-446655440000"}, types.FieldTypeUUID},
		{"all emails", []any{"a@example.com", "b@example.org"}, types.FieldTypeEmail},
		{"all dates", []any{"2026-01-01", "2026-02-15"}, types.FieldTypeDate},
		{"mixed falls back to string", []any{"2026-01-01", "not a date"}, types.FieldTypeString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := []*types.Observation{}
			for _, s := range tt.samples {
				obs = append(obs, unknownFieldObs("src_1", map[string]any{"field": s}))
			}
			got := schema.AnalyzeSchemaCandidates(obs, thresholds)
			if assert.Len(t, got, 1) {
				assert.Equal(t, tt.wantType, got[0].InferredType)
			}
		})
	}
}

func TestGetSchemaRecommendationsIsAnAliasForAnalyze(t *testing.T) {
	thresholds := schema.CandidateThresholds{MinOccurrences: 1, MinSources: 1}
	obs := []*types.Observation{unknownFieldObs("src_1", map[string]any{"field": "value"})}

	a := schema.AnalyzeSchemaCandidates(obs, thresholds)
	b := schema.GetSchemaRecommendations(obs, thresholds)
	assert.Equal(t, a, b)
}

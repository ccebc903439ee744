// Package evolution orchestrates schema promotion (§4.7): scanning
// observations for recurring unknown fields, recommending additive
// schema changes, and, on acceptance, minting the new schema_version
// and scheduling recomputation so historical observations'
// extraction_metadata.unknown_fields become queryable under the new
// fields without re-ingestion.
package evolution

import (
	"context"

	"github.com/markmhendrickson/neotoma/internal/neoerr"
	"github.com/markmhendrickson/neotoma/internal/otelx"
	"github.com/markmhendrickson/neotoma/internal/schema"
	"github.com/markmhendrickson/neotoma/internal/storage"
	"github.com/markmhendrickson/neotoma/internal/types"
)

// Evolver drives the analyze -> recommend -> promote flow.
type Evolver struct {
	store    storage.Storage
	registry *schema.Registry
	counters *otelx.Counters
}

func New(store storage.Storage, registry *schema.Registry, counters *otelx.Counters) *Evolver {
	return &Evolver{store: store, registry: registry, counters: counters}
}

// AnalyzeCandidates scans every observation of entityType for unknown
// fields crossing the promotion thresholds (§4.2: ≥3 occurrences AND
// ≥2 distinct sources).
func (e *Evolver) AnalyzeCandidates(ctx context.Context, userID, entityType string, thresholds schema.CandidateThresholds) ([]schema.SchemaCandidate, error) {
	obs, err := e.store.ListObservations(ctx, userID, types.ObservationFilter{EntityType: entityType})
	if err != nil {
		return nil, neoerr.Wrap("evolution.AnalyzeCandidates", err)
	}
	return schema.AnalyzeSchemaCandidates(obs, thresholds), nil
}

// Promote mints the next additive schema_version for entityType
// carrying candidates as new optional fields, then evicts every cached
// snapshot of that type so the next read recomputes with the new
// fields populated from historical extraction_metadata.unknown_fields.
func (e *Evolver) Promote(ctx context.Context, userID, entityType string, candidates []schema.SchemaCandidate) (*types.SchemaDefinition, error) {
	ctx, span := otelx.Tracer().Start(ctx, "evolution.Promote")
	defer span.End()

	if len(candidates) == 0 {
		return e.registry.GetSchema(ctx, entityType, "")
	}

	before, err := e.registry.GetSchema(ctx, entityType, "")
	if err != nil {
		err = neoerr.Wrap("evolution.Promote", err)
		otelx.RecordInvariantBroken(span, "evolution.Promote", err)
		return nil, err
	}

	newFields := make([]types.FieldDefinition, 0, len(candidates))
	for _, c := range candidates {
		newFields = append(newFields, types.FieldDefinition{
			Name:        c.FieldName,
			Type:        c.InferredType,
			Required:    false,
			MergePolicy: types.MergeLastWriterWins,
		})
	}
	def, err := e.registry.UpdateSchemaIncremental(ctx, entityType, newFields)
	if err != nil {
		return nil, neoerr.Wrap("evolution.Promote", err)
	}

	ents, err := e.store.ListEntities(ctx, userID, types.EntityFilter{EntityType: entityType, IncludeMerged: true}, 1<<30, 0)
	if err != nil {
		return nil, neoerr.Wrap("evolution.Promote", err)
	}
	for _, ent := range ents {
		_ = e.store.DeleteEntitySnapshot(ctx, userID, ent.ID)
	}

	if e.counters != nil && def.SchemaVersion != before.SchemaVersion {
		e.counters.SchemaPromotions.Add(ctx, 1)
	}
	return def, nil
}

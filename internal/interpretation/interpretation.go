// Package interpretation implements the Interpretation Engine (§4.3):
// one versioned extraction pass over a source, consuming extractor
// output the engine never produces itself. The engine resolves entity
// identity, partitions candidate fields into schema-known and unknown,
// writes one observation per candidate, and flips the interpretation
// to succeeded or failed.
package interpretation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/markmhendrickson/neotoma/internal/idgen"
	"github.com/markmhendrickson/neotoma/internal/neoerr"
	"github.com/markmhendrickson/neotoma/internal/resolver"
	"github.com/markmhendrickson/neotoma/internal/schema"
	"github.com/markmhendrickson/neotoma/internal/storage"
	"github.com/markmhendrickson/neotoma/internal/types"
)

// Engine runs interpretations over extractor output.
type Engine struct {
	store    storage.Storage
	resolver resolver.Resolver
	registry *schema.Registry
}

func New(store storage.Storage, res resolver.Resolver, registry *schema.Registry) *Engine {
	return &Engine{store: store, resolver: res, registry: registry}
}

// Result summarizes one completed (successful or failed) interpretation run.
type Result struct {
	InterpretationID string
	Status           types.InterpretationStatus
	ObservationCount int
	EntityIDs        []string
}

// Run executes one interpretation: (1) create the interpretation row
// in running, (2) resolve-or-mint an entity id per candidate, (3)
// partition fields into schema-known vs unknown, (4) validate required
// fields as warnings only, (5) write one observation per candidate,
// (6) write relationship observations, (7) flip to succeeded. A write
// failure flips the interpretation to failed and leaves prior writes
// in place — they remain independently valid (§4.3).
func (e *Engine) Run(ctx context.Context, userID, sourceID string, candidates []types.ExtractorEntityCandidate, cfg types.InterpretationConfig, defaultPriority int) (*Result, error) {
	interpID, err := idgen.RandomID("interp")
	if err != nil {
		return nil, neoerr.New(neoerr.Internal, "interpretation.Run", err)
	}
	startedAt := time.Now().UTC()
	interp := &types.Interpretation{
		ID:        interpID,
		UserID:    userID,
		SourceID:  sourceID,
		Config:    cfg,
		StartedAt: startedAt,
		Status:    types.InterpretationRunning,
	}
	if err := e.store.InsertInterpretation(ctx, interp); err != nil {
		return nil, neoerr.Wrap("interpretation.Run", err)
	}

	entityIDs, obsCount, runErr := e.process(ctx, userID, sourceID, interpID, candidates, defaultPriority, startedAt)

	status := types.InterpretationSucceeded
	if runErr != nil {
		status = types.InterpretationFailed
	}
	finishedAt := time.Now().UTC()
	if updateErr := e.store.UpdateInterpretationStatus(ctx, userID, interpID, status, finishedAt); updateErr != nil {
		return nil, neoerr.Wrap("interpretation.Run", updateErr)
	}

	return &Result{
		InterpretationID: interpID,
		Status:           status,
		ObservationCount: obsCount,
		EntityIDs:        entityIDs,
	}, runErr
}

func (e *Engine) process(ctx context.Context, userID, sourceID, interpID string, candidates []types.ExtractorEntityCandidate, defaultPriority int, observedAt time.Time) ([]string, int, error) {
	var entityIDs []string
	var defs []*types.SchemaDefinition
	var observations []*types.Observation
	var relObservations []*types.RelationshipObservation
	externalToEntity := map[string]string{}

	for _, cand := range candidates {
		def, err := e.registry.GetSchema(ctx, cand.EntityType, "")
		if err != nil {
			return nil, 0, neoerr.New(neoerr.InvalidInput, "interpretation.process", fmt.Errorf("entity_type %q has no registered schema: %w", cand.EntityType, err))
		}

		entityID, _, err := e.resolver.Resolve(ctx, userID, cand.EntityType, cand.Fields, def)
		if err != nil {
			return nil, 0, err
		}
		if cand.ExternalID != "" {
			externalToEntity[cand.ExternalID] = entityID
		}
		entityIDs = append(entityIDs, entityID)
		defs = append(defs, def)

		known, unknown := partitionFields(cand.Fields, def)
		warnings := validateRequired(def, known)

		obsID, err := idgen.RandomID("obs")
		if err != nil {
			return nil, 0, neoerr.New(neoerr.Internal, "interpretation.process", err)
		}
		observations = append(observations, &types.Observation{
			ID:               obsID,
			UserID:           userID,
			EntityID:         entityID,
			EntityType:       cand.EntityType,
			SourceID:         sourceID,
			InterpretationID: interpID,
			SchemaVersion:    def.SchemaVersion,
			ObservedAt:       observedAt,
			SourcePriority:   defaultPriority,
			Fields:           known,
			ExtractionMetadata: types.ExtractionMetadata{
				UnknownFields: unknown,
				Warnings:      warnings,
			},
		})
	}

	// relationships are resolved only after every candidate has an entity
	// id, so a target external id may refer to a later candidate.
	for i, cand := range candidates {
		entityID, def := entityIDs[i], defs[i]
		for _, rel := range cand.Relationships {
			target := rel.TargetEntityID
			if target == "" && rel.TargetExternalID != "" {
				target = externalToEntity[rel.TargetExternalID]
			}
			if target == "" {
				continue // target external id not in this batch; dropped, not failed (§4.3 never reject the record)
			}
			relKey := idgen.CanonicalRelationshipKey(entityID, rel.RelationshipType, target)
			relID, err := idgen.RandomID("relobs")
			if err != nil {
				return nil, 0, neoerr.New(neoerr.Internal, "interpretation.process", err)
			}
			relObservations = append(relObservations, &types.RelationshipObservation{
				ID:               relID,
				UserID:           userID,
				SourceEntityID:   entityID,
				RelationshipType: rel.RelationshipType,
				TargetEntityID:   target,
				RelationshipKey:  relKey,
				CanonicalHash:    idgen.CanonicalHash(relKey),
				SourceID:         sourceID,
				InterpretationID: interpID,
				SchemaVersion:    def.SchemaVersion,
				ObservedAt:       observedAt,
				SourcePriority:   defaultPriority,
				Fields:           rel.Fields,
			})
		}
	}

	if err := e.store.InsertObservations(ctx, observations); err != nil {
		return nil, 0, neoerr.Wrap("interpretation.process", err)
	}
	for _, entityID := range entityIDs {
		_ = e.store.InsertSourceEntityEdge(ctx, types.SourceEntityEdge{
			SourceID:         sourceID,
			EntityID:         entityID,
			EdgeType:         types.EdgeObserved,
			InterpretationID: interpID,
		}, userID)
		_ = e.store.DeleteEntitySnapshot(ctx, userID, entityID)
		_ = e.store.InsertTimelineEvent(ctx, &types.TimelineEvent{
			ID:               uuid.NewString(),
			UserID:           userID,
			EventType:        "observation_recorded",
			EntityIDs:        []string{entityID},
			SourceID:         sourceID,
			InterpretationID: interpID,
			OccurredAt:       observedAt,
		})
	}
	if err := e.store.InsertRelationshipObservations(ctx, relObservations); err != nil {
		return nil, 0, neoerr.Wrap("interpretation.process", err)
	}

	return entityIDs, len(observations), nil
}

// partitionFields splits candidate fields into schema-known and
// unknown sets, per entity_type@schema_version's field catalog (§4.2).
func partitionFields(fields map[string]any, def *types.SchemaDefinition) (known, unknown map[string]any) {
	known = map[string]any{}
	unknown = map[string]any{}
	for name, v := range fields {
		if def.FieldByName(name) != nil {
			known[name] = v
		} else {
			unknown[name] = v
		}
	}
	return known, unknown
}

// validateRequired reports missing required fields as warnings —
// interpretation never rejects a candidate for a missing field (§4.3).
func validateRequired(def *types.SchemaDefinition, known map[string]any) []string {
	var warnings []string
	for _, f := range def.Fields {
		if !f.Required {
			continue
		}
		if _, ok := known[f.Name]; !ok {
			warnings = append(warnings, fmt.Sprintf("required field %q missing", f.Name))
		}
	}
	return warnings
}

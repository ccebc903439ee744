// Package service is the core façade: it wires storage, blobstore,
// schema registry, interpretation engine, reducer-backed query layer,
// and resolver together behind the ingest and read contracts named in
// §6, instrumenting every operation with an OpenTelemetry span and
// recording failures as span events rather than ad-hoc logging.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/markmhendrickson/neotoma/internal/blobstore"
	"github.com/markmhendrickson/neotoma/internal/evolution"
	"github.com/markmhendrickson/neotoma/internal/idgen"
	"github.com/markmhendrickson/neotoma/internal/interpretation"
	"github.com/markmhendrickson/neotoma/internal/neoerr"
	"github.com/markmhendrickson/neotoma/internal/otelx"
	"github.com/markmhendrickson/neotoma/internal/query"
	"github.com/markmhendrickson/neotoma/internal/resolver"
	"github.com/markmhendrickson/neotoma/internal/schema"
	"github.com/markmhendrickson/neotoma/internal/storage"
	"github.com/markmhendrickson/neotoma/internal/types"
)

// Service is the memory substrate's public façade.
type Service struct {
	store     storage.Storage
	blobs     blobstore.Blobstore
	registry  *schema.Registry
	resolver  *resolver.StandardResolver
	engine    *interpretation.Engine
	query     *query.Layer
	evolver   *evolution.Evolver
	providers *otelx.Providers
	counters  *otelx.Counters

	maxInterpretationsPerTenant int
}

// Options configures a new Service.
type Options struct {
	MaxInterpretationsPerTenant int
	Providers                   *otelx.Providers
}

func New(store storage.Storage, blobs blobstore.Blobstore, opts Options) (*Service, error) {
	registry := schema.New(store)
	res := resolver.New(store)
	engine := interpretation.New(store, res, registry)

	counters, err := otelx.NewCounters()
	if err != nil {
		return nil, fmt.Errorf("service.New: %w", err)
	}

	q := query.New(store, registry, counters)
	evo := evolution.New(store, registry, counters)

	max := opts.MaxInterpretationsPerTenant
	if max <= 0 {
		max = 10000
	}

	return &Service{
		store:                       store,
		blobs:                       blobs,
		registry:                    registry,
		resolver:                    res,
		engine:                      engine,
		query:                       q,
		evolver:                     evo,
		providers:                   opts.Providers,
		counters:                    counters,
		maxInterpretationsPerTenant: max,
	}, nil
}

func (s *Service) tracer() trace.Tracer {
	return otelx.Tracer()
}

// IngestUnstructuredInput is the ingest_unstructured request (§6).
type IngestUnstructuredInput struct {
	UserID              string
	Bytes               []byte
	MimeType            string
	Filename            string
	Interpret           bool
	InterpretationConfig types.InterpretationConfig
	ExtractorOutput     []types.ExtractorEntityCandidate
}

// IngestUnstructuredResult is the ingest_unstructured response (§6).
type IngestUnstructuredResult struct {
	SourceID         string
	Deduplicated     bool
	InterpretationID string
	ObservationCount int
}

// IngestUnstructured persists raw bytes via the content store (§4.1)
// and, if requested, runs the interpretation engine over
// caller-supplied extractor output.
func (s *Service) IngestUnstructured(ctx context.Context, in IngestUnstructuredInput) (*IngestUnstructuredResult, error) {
	ctx, span := s.tracer().Start(ctx, "service.IngestUnstructured")
	defer span.End()

	contentHash := idgen.ContentHash(in.Bytes)
	if existing, ok, err := s.store.LookupSourceByHash(ctx, in.UserID, contentHash); err != nil {
		return nil, s.fail(span, neoerr.Wrap("service.IngestUnstructured", err))
	} else if ok {
		s.counters.DedupHits.Add(ctx, 1)
		span.SetAttributes(attribute.Bool("neotoma.deduplicated", true))
		return &IngestUnstructuredResult{SourceID: existing.ID, Deduplicated: true}, nil
	}

	url := blobstore.URLForHash(in.UserID, contentHash)
	if err := s.blobs.Put(ctx, url, in.Bytes); err != nil {
		return nil, s.fail(span, neoerr.Wrap("service.IngestUnstructured", err))
	}

	sourceID, err := idgen.RandomID("src")
	if err != nil {
		if delErr := s.blobs.Delete(ctx, url); delErr != nil {
			span.RecordError(delErr)
		}
		return nil, s.fail(span, neoerr.New(neoerr.Internal, "service.IngestUnstructured", err))
	}
	src := &types.Source{
		ID:               sourceID,
		UserID:           in.UserID,
		ContentHash:      contentHash,
		StorageURL:       url,
		MimeType:         in.MimeType,
		FileSize:         int64(len(in.Bytes)),
		OriginalFilename: in.Filename,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.InsertSource(ctx, src); err != nil {
		if delErr := s.blobs.Delete(ctx, url); delErr != nil {
			span.RecordError(delErr)
		}
		if neoerr.Is(neoerr.Wrap("", err), neoerr.Conflict) {
			existing, ok, lookupErr := s.store.LookupSourceByHash(ctx, in.UserID, contentHash)
			if lookupErr == nil && ok {
				return &IngestUnstructuredResult{SourceID: existing.ID, Deduplicated: true}, nil
			}
		}
		return nil, s.fail(span, neoerr.Wrap("service.IngestUnstructured", err))
	}
	s.counters.Ingests.Add(ctx, 1)

	result := &IngestUnstructuredResult{SourceID: sourceID, Deduplicated: false}
	if !in.Interpret {
		return result, nil
	}

	interpResult, err := s.runInterpretation(ctx, in.UserID, sourceID, in.ExtractorOutput, in.InterpretationConfig, types.PriorityAIExtraction)
	if err != nil {
		return nil, s.fail(span, err)
	}
	result.InterpretationID = interpResult.InterpretationID
	result.ObservationCount = interpResult.ObservationCount
	return result, nil
}

// IngestStructuredInput is the ingest_structured request (§6).
type IngestStructuredInput struct {
	UserID         string
	Entities       []types.ExtractorEntityCandidate
	SourcePriority int
	IdempotencyKey string
}

// IngestStructuredResult is the ingest_structured response (§6).
type IngestStructuredResult struct {
	SourceID         string
	InterpretationID string
	EntityIDs        []string
}

// IngestStructured synthesizes a source whose content_hash is over the
// canonicalized JSON payload, so idempotent resubmission deduplicates
// (§6), then runs the interpretation engine at the caller-asserted
// priority (default 500, structured ingest).
func (s *Service) IngestStructured(ctx context.Context, in IngestStructuredInput) (*IngestStructuredResult, error) {
	ctx, span := s.tracer().Start(ctx, "service.IngestStructured")
	defer span.End()

	if in.IdempotencyKey != "" {
		if sourceID, ok, err := s.store.LookupIdempotencyKey(ctx, in.UserID, in.IdempotencyKey); err != nil {
			return nil, s.fail(span, neoerr.Wrap("service.IngestStructured", err))
		} else if ok {
			return &IngestStructuredResult{SourceID: sourceID}, nil
		}
	}

	payload, err := canonicalizeJSON(in.Entities)
	if err != nil {
		return nil, s.fail(span, neoerr.New(neoerr.InvalidInput, "service.IngestStructured", err))
	}
	contentHash := idgen.ContentHash(payload)

	sourceID := ""
	if existing, ok, err := s.store.LookupSourceByHash(ctx, in.UserID, contentHash); err != nil {
		return nil, s.fail(span, neoerr.Wrap("service.IngestStructured", err))
	} else if ok {
		sourceID = existing.ID
	} else {
		id, err := idgen.RandomID("src")
		if err != nil {
			return nil, s.fail(span, neoerr.New(neoerr.Internal, "service.IngestStructured", err))
		}
		url := blobstore.URLForHash(in.UserID, contentHash)
		if err := s.blobs.Put(ctx, url, payload); err != nil {
			return nil, s.fail(span, neoerr.Wrap("service.IngestStructured", err))
		}
		src := &types.Source{
			ID:          id,
			UserID:      in.UserID,
			ContentHash: contentHash,
			StorageURL:  url,
			MimeType:    "application/json",
			FileSize:    int64(len(payload)),
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.store.InsertSource(ctx, src); err != nil {
			return nil, s.fail(span, neoerr.Wrap("service.IngestStructured", err))
		}
		sourceID = id
	}

	priority := in.SourcePriority
	if priority == 0 {
		priority = types.PriorityStructured
	}
	cfg := types.InterpretationConfig{Provider: "structured-ingest", CodeVersion: "v1"}
	interpResult, err := s.runInterpretation(ctx, in.UserID, sourceID, in.Entities, cfg, priority)
	if err != nil {
		return nil, s.fail(span, err)
	}

	if in.IdempotencyKey != "" {
		if err := s.store.RecordIdempotencyKey(ctx, in.UserID, in.IdempotencyKey, sourceID); err != nil {
			span.RecordError(err)
		}
	}

	return &IngestStructuredResult{SourceID: sourceID, InterpretationID: interpResult.InterpretationID, EntityIDs: interpResult.EntityIDs}, nil
}

// runInterpretation enforces the per-tenant interpretation quota
// (§4.3) before delegating to the interpretation engine.
func (s *Service) runInterpretation(ctx context.Context, userID, sourceID string, candidates []types.ExtractorEntityCandidate, cfg types.InterpretationConfig, priority int) (*interpretation.Result, error) {
	count, err := s.store.CountInterpretations(ctx, userID)
	if err != nil {
		return nil, neoerr.Wrap("service.runInterpretation", err)
	}
	if count >= s.maxInterpretationsPerTenant {
		return nil, neoerr.New(neoerr.QuotaExceeded, "service.runInterpretation", fmt.Errorf("tenant %s has reached its interpretation quota of %d", userID, s.maxInterpretationsPerTenant))
	}

	result, err := s.engine.Run(ctx, userID, sourceID, candidates, cfg, priority)
	if err != nil {
		return result, neoerr.Wrap("service.runInterpretation", err)
	}
	s.counters.Interpretations.Add(ctx, 1)
	return result, nil
}

// Correct emits a correction observation at priority 1000 on field
// (§6 correct).
func (s *Service) Correct(ctx context.Context, userID, entityID, field string, value any) error {
	ctx, span := s.tracer().Start(ctx, "service.Correct")
	defer span.End()

	ent, err := s.store.GetEntity(ctx, userID, entityID)
	if err != nil {
		return s.fail(span, neoerr.Wrap("service.Correct", err))
	}
	def, err := s.registry.GetSchema(ctx, ent.EntityType, "")
	if err != nil {
		return s.fail(span, neoerr.Wrap("service.Correct", err))
	}
	if def.FieldByName(field) == nil {
		return s.fail(span, neoerr.New(neoerr.InvalidInput, "service.Correct", fmt.Errorf("field %q not in schema %s@%s", field, ent.EntityType, def.SchemaVersion)))
	}

	obsID, err := idgen.RandomID("obs")
	if err != nil {
		return s.fail(span, neoerr.New(neoerr.Internal, "service.Correct", err))
	}
	obs := &types.Observation{
		ID:             obsID,
		UserID:         userID,
		EntityID:       entityID,
		EntityType:     ent.EntityType,
		SchemaVersion:  def.SchemaVersion,
		ObservedAt:     time.Now().UTC(),
		SourcePriority: types.PriorityUserCorrection,
		Fields:         map[string]any{field: value},
	}
	if err := s.store.InsertObservations(ctx, []*types.Observation{obs}); err != nil {
		return s.fail(span, neoerr.Wrap("service.Correct", err))
	}
	_ = s.store.InsertTimelineEvent(ctx, &types.TimelineEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		EventType:  "correction_applied",
		EntityIDs:  []string{entityID},
		OccurredAt: obs.ObservedAt,
		Fields:     map[string]any{"field": field},
	})
	return s.store.DeleteEntitySnapshot(ctx, userID, entityID)
}

// Reinterpret runs a fresh interpretation over sourceID under a
// different configuration; prior interpretations and their
// observations are untouched (§6 reinterpret).
func (s *Service) Reinterpret(ctx context.Context, userID, sourceID string, candidates []types.ExtractorEntityCandidate, cfg types.InterpretationConfig) (*interpretation.Result, error) {
	ctx, span := s.tracer().Start(ctx, "service.Reinterpret")
	defer span.End()

	result, err := s.runInterpretation(ctx, userID, sourceID, candidates, cfg, types.PriorityAIExtraction)
	if err != nil {
		return nil, s.fail(span, err)
	}
	return result, nil
}

// MergeEntities declares fromEntityID a duplicate of toEntityID (§6
// merge_entities).
func (s *Service) MergeEntities(ctx context.Context, userID, fromEntityID, toEntityID string) (*types.EntityMerge, error) {
	ctx, span := s.tracer().Start(ctx, "service.MergeEntities")
	defer span.End()

	merge, err := s.resolver.Merge(ctx, userID, fromEntityID, toEntityID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.counters.Merges.Add(ctx, 1)
	_ = s.store.InsertTimelineEvent(ctx, &types.TimelineEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		EventType:  "entities_merged",
		EntityIDs:  []string{fromEntityID, toEntityID},
		OccurredAt: merge.MergedAt,
	})
	return merge, nil
}

// Query exposes the read-only §4.8 query layer.
func (s *Service) Query() *query.Layer { return s.query }

// Registry exposes the schema registry for administrative use (schema
// registration, manual promotion).
func (s *Service) Registry() *schema.Registry { return s.registry }

// Evolver exposes the schema evolution flow.
func (s *Service) Evolver() *evolution.Evolver { return s.evolver }

// fail records err on span and returns it unchanged. Broken invariants
// (neoerr.Internal) are recorded with enough context to reproduce via
// otelx.RecordInvariantBroken rather than a bare RecordError, since
// those should be impossible and warrant closer attention than an
// ordinary not_found/conflict/invalid_input response.
func (s *Service) fail(span trace.Span, err error) error {
	if neoerr.KindOf(err) == neoerr.Internal {
		otelx.RecordInvariantBroken(span, neoerr.OpOf(err), err)
	} else {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, err.Error())
	return err
}

// canonicalizeJSON re-marshals v through a stable key order so two
// structurally-equal payloads hash identically regardless of map
// iteration order.
func canonicalizeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

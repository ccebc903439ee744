// Package storage defines the Storage interface every backend (only
// SQLite today, see internal/storage/sqlite) must satisfy. It is the
// seam between the core components (content store, interpretation
// engine, reducer, resolver, schema registry, query layer) and
// whatever durable row store backs them.
package storage

import (
	"context"
	"time"

	"github.com/markmhendrickson/neotoma/internal/types"
)

// Storage is the full persistence surface for the memory substrate.
// Every method is tenant-scoped by an explicit userID parameter; no
// method may return a row belonging to a different tenant (§4.8, §8).
type Storage interface {
	Close() error

	// --- Content store (§4.1) ---

	// LookupSourceByHash returns the existing source for
	// (userID, contentHash), or ok=false if none exists.
	LookupSourceByHash(ctx context.Context, userID, contentHash string) (src *types.Source, ok bool, err error)
	// InsertSource inserts a new source row. Callers must have already
	// resolved the (userID, contentHash) race via LookupSourceByHash;
	// InsertSource itself relies on a unique constraint and returns a
	// neoerr.Conflict-wrapped error (with the winning source id
	// retrievable via LookupSourceByHash) if another writer won.
	InsertSource(ctx context.Context, src *types.Source) error
	GetSource(ctx context.Context, userID, sourceID string) (*types.Source, error)

	// --- Idempotency (ingest_structured idempotency_key, §6) ---

	LookupIdempotencyKey(ctx context.Context, userID, key string) (sourceID string, ok bool, err error)
	RecordIdempotencyKey(ctx context.Context, userID, key, sourceID string) error

	// --- Interpretations (§4.3) ---

	InsertInterpretation(ctx context.Context, interp *types.Interpretation) error
	UpdateInterpretationStatus(ctx context.Context, userID, interpretationID string, status types.InterpretationStatus, finishedAt time.Time) error
	GetInterpretation(ctx context.Context, userID, interpretationID string) (*types.Interpretation, error)
	CountInterpretations(ctx context.Context, userID string) (int, error)

	// --- Observations (§3, §4.5) ---

	InsertObservations(ctx context.Context, obs []*types.Observation) error
	ListObservations(ctx context.Context, userID string, filter types.ObservationFilter) ([]*types.Observation, error)
	// ListObservationsForEntity returns every observation for entityID,
	// optionally restricted to observed_at <= at for time-travel reads
	// (§4.8 retrieve_entity_snapshot at).
	ListObservationsForEntity(ctx context.Context, userID, entityID string, at *time.Time) ([]*types.Observation, error)

	// --- Relationship observations (§3) ---

	InsertRelationshipObservations(ctx context.Context, obs []*types.RelationshipObservation) error
	ListRelationshipObservationsByKey(ctx context.Context, userID, relationshipKey string, at *time.Time) ([]*types.RelationshipObservation, error)
	ListRelationshipKeysForEntity(ctx context.Context, userID, entityID string, direction types.RelationshipDirection, relType string) ([]string, error)

	// --- Entities & resolution (§4.6) ---

	LookupEntityByResolutionKey(ctx context.Context, userID, entityType, resolutionKey string) (*types.Entity, bool, error)
	InsertEntity(ctx context.Context, ent *types.Entity, resolutionKey string) error
	GetEntity(ctx context.Context, userID, entityID string) (*types.Entity, error)
	ListEntities(ctx context.Context, userID string, filter types.EntityFilter, limit, offset int) ([]*types.Entity, error)
	// MergeEntities atomically rewrites every observation and
	// relationship observation's entity pointer from `from` to `to`,
	// marks `from` redirected, and inserts the audit row (§4.6 a-c).
	// All four effects commit together or none do (§7).
	MergeEntities(ctx context.Context, userID, from, to string, mergedAt time.Time) (*types.EntityMerge, error)

	// --- Snapshots (cache; §4.5, §9 "may be discarded and rebuilt") ---

	PutEntitySnapshot(ctx context.Context, snap *types.EntitySnapshot) error
	GetEntitySnapshot(ctx context.Context, userID, entityID string) (*types.EntitySnapshot, bool, error)
	DeleteEntitySnapshot(ctx context.Context, userID, entityID string) error
	PutRelationshipSnapshot(ctx context.Context, snap *types.RelationshipSnapshot) error
	GetRelationshipSnapshot(ctx context.Context, userID, relationshipKey string) (*types.RelationshipSnapshot, bool, error)

	// --- Schema registry (§4.2, §4.7) ---

	ListEntityTypes(ctx context.Context) ([]string, error)
	GetSchema(ctx context.Context, entityType, schemaVersion string) (*types.SchemaDefinition, error)
	// GetLatestSchema returns the highest schema_version registered
	// for entityType.
	GetLatestSchema(ctx context.Context, entityType string) (*types.SchemaDefinition, error)
	ListSchemaVersions(ctx context.Context, entityType string) ([]*types.SchemaDefinition, error)
	PutSchema(ctx context.Context, def *types.SchemaDefinition) error

	// --- Timeline & audit edges (§3) ---

	InsertTimelineEvent(ctx context.Context, ev *types.TimelineEvent) error
	ListTimelineEvents(ctx context.Context, userID string, filter types.TimelineFilter) ([]*types.TimelineEvent, error)
	InsertSourceEntityEdge(ctx context.Context, edge types.SourceEntityEdge, userID string) error
	ListSourceEntityEdges(ctx context.Context, userID, entityID string) ([]types.SourceEntityEdge, error)

	// --- Tenant-scoped key/value config ---

	GetTenantConfig(ctx context.Context, userID, key string) (string, error)
	SetTenantConfig(ctx context.Context, userID, key, value string) error
}

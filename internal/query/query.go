// Package query implements the Query Layer (§4.8): read-only access
// to entities, observations, relationships, timeline events, and the
// graph neighborhood, all transparently filtered by tenant and
// following merge redirects. Every exported function takes userID
// explicitly and never reads a row belonging to another tenant.
package query

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markmhendrickson/neotoma/internal/idgen"
	"github.com/markmhendrickson/neotoma/internal/neoerr"
	"github.com/markmhendrickson/neotoma/internal/otelx"
	"github.com/markmhendrickson/neotoma/internal/reducer"
	"github.com/markmhendrickson/neotoma/internal/schema"
	"github.com/markmhendrickson/neotoma/internal/storage"
	"github.com/markmhendrickson/neotoma/internal/types"
)

// Layer is the Query Layer, backed by storage.Storage and the schema
// registry it needs to reduce observations on demand.
type Layer struct {
	store    storage.Storage
	registry *schema.Registry
	counters *otelx.Counters
}

func New(store storage.Storage, registry *schema.Registry, counters *otelx.Counters) *Layer {
	return &Layer{store: store, registry: registry, counters: counters}
}

// RetrieveEntities lists entities matching filter, excluding redirected
// entities unless filter.IncludeMerged is set (§4.8).
func (l *Layer) RetrieveEntities(ctx context.Context, userID string, filter types.EntityFilter, limit, offset int) ([]*types.Entity, error) {
	ents, err := l.store.ListEntities(ctx, userID, filter, limit, offset)
	if err != nil {
		return nil, neoerr.Wrap("query.RetrieveEntities", err)
	}
	return ents, nil
}

// SnapshotResult wraps an entity snapshot with a redirect indicator
// when the requested entity had been merged away.
type SnapshotResult struct {
	Snapshot   *types.EntitySnapshot
	RedirectedFrom string
}

// RetrieveEntitySnapshot follows merge redirects and returns the
// target's snapshot, computing it fresh from observations (optionally
// bounded by at for a time-travel read) rather than trusting any
// cached copy (§4.8).
func (l *Layer) RetrieveEntitySnapshot(ctx context.Context, userID, entityID string, at *time.Time) (*SnapshotResult, error) {
	ctx, span := otelx.Tracer().Start(ctx, "query.RetrieveEntitySnapshot")
	defer span.End()

	ent, err := l.store.GetEntity(ctx, userID, entityID)
	if err != nil {
		return nil, neoerr.Wrap("query.RetrieveEntitySnapshot", err)
	}

	redirectedFrom := ""
	target := ent
	seen := map[string]bool{ent.ID: true}
	for target.Redirected() {
		redirectedFrom = entityID
		next, err := l.store.GetEntity(ctx, userID, target.MergedToEntityID)
		if err != nil {
			return nil, neoerr.Wrap("query.RetrieveEntitySnapshot", err)
		}
		if seen[next.ID] {
			err := neoerr.New(neoerr.Internal, "query.RetrieveEntitySnapshot", fmt.Errorf("redirect cycle at entity %s", next.ID))
			otelx.RecordInvariantBroken(span, "query.RetrieveEntitySnapshot", err)
			return nil, err
		}
		seen[next.ID] = true
		target = next
	}

	snap, err := l.computeSnapshot(ctx, userID, target, at)
	if err != nil {
		return nil, err
	}
	snap.RedirectedFrom = redirectedFrom
	return &SnapshotResult{Snapshot: snap, RedirectedFrom: redirectedFrom}, nil
}

func (l *Layer) computeSnapshot(ctx context.Context, userID string, ent *types.Entity, at *time.Time) (*types.EntitySnapshot, error) {
	obs, err := l.store.ListObservationsForEntity(ctx, userID, ent.ID, at)
	if err != nil {
		return nil, neoerr.Wrap("query.computeSnapshot", err)
	}
	def, err := l.registry.GetSchema(ctx, ent.EntityType, "")
	if err != nil {
		return nil, neoerr.Wrap("query.computeSnapshot", err)
	}
	snap := reducer.Reduce(ent.ID, ent.EntityType, userID, obs, def, time.Now())
	if l.counters != nil {
		l.counters.Reductions.Add(ctx, 1)
	}
	return snap, nil
}

// ListObservations returns observations matching filter in reducer
// total order (§4.5, §4.8).
func (l *Layer) ListObservations(ctx context.Context, userID string, filter types.ObservationFilter) ([]*types.Observation, error) {
	obs, err := l.store.ListObservations(ctx, userID, filter)
	if err != nil {
		return nil, neoerr.Wrap("query.ListObservations", err)
	}
	reducer.Sort(obs)
	return obs, nil
}

// FieldProvenance is the winning observation for a field plus the
// runners-up in total order, all of which carried the same field.
type FieldProvenance struct {
	Winner   types.FieldProvenanceEntry
	RunnersUp []types.FieldProvenanceEntry
}

// RetrieveFieldProvenance returns field's winning observation chain
// plus runners-up (§4.8).
func (l *Layer) RetrieveFieldProvenance(ctx context.Context, userID, entityID, field string) (*FieldProvenance, error) {
	obs, err := l.store.ListObservationsForEntity(ctx, userID, entityID, nil)
	if err != nil {
		return nil, neoerr.Wrap("query.RetrieveFieldProvenance", err)
	}
	reducer.Sort(obs)

	var entries []types.FieldProvenanceEntry
	for _, o := range obs {
		if _, ok := o.Fields[field]; !ok {
			continue
		}
		entries = append(entries, types.FieldProvenanceEntry{
			ObservationID:    o.ID,
			SourceID:         o.SourceID,
			InterpretationID: o.InterpretationID,
			SourcePriority:   o.SourcePriority,
			ObservedAt:       o.ObservedAt,
		})
	}
	if len(entries) == 0 {
		return nil, neoerr.New(neoerr.NotFound, "query.RetrieveFieldProvenance", nil)
	}
	return &FieldProvenance{Winner: entries[0], RunnersUp: entries[1:]}, nil
}

// ListRelationships lists the relationship keys touching entityID in
// direction, optionally filtered by relType, each reduced to its
// current snapshot (§4.8).
func (l *Layer) ListRelationships(ctx context.Context, userID, entityID string, direction types.RelationshipDirection, relType string) ([]*types.RelationshipSnapshot, error) {
	keys, err := l.store.ListRelationshipKeysForEntity(ctx, userID, entityID, direction, relType)
	if err != nil {
		return nil, neoerr.Wrap("query.ListRelationships", err)
	}

	var out []*types.RelationshipSnapshot
	for _, key := range keys {
		snap, err := l.reduceRelationship(ctx, userID, key)
		if err != nil {
			return nil, err
		}
		if snap != nil && !snap.Tombstoned {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (l *Layer) reduceRelationship(ctx context.Context, userID, relationshipKey string) (*types.RelationshipSnapshot, error) {
	obs, err := l.store.ListRelationshipObservationsByKey(ctx, userID, relationshipKey, nil)
	if err != nil {
		return nil, neoerr.Wrap("query.reduceRelationship", err)
	}
	if len(obs) == 0 {
		return nil, nil
	}
	def, err := l.registry.GetSchema(ctx, obs[0].RelationshipType, "")
	if err != nil {
		// a relationship type with no registered schema reduces with
		// last_writer_wins on every observed field rather than failing
		// the whole neighborhood query.
		def = &types.SchemaDefinition{EntityType: obs[0].RelationshipType, Fields: inferPassthroughFields(obs)}
	}
	snap := reducer.ReduceRelationship(relationshipKey, idgen.CanonicalHash(relationshipKey), userID, obs, def, time.Now())
	if l.counters != nil {
		l.counters.Reductions.Add(ctx, 1)
	}
	return snap, nil
}

func inferPassthroughFields(obs []*types.RelationshipObservation) []types.FieldDefinition {
	seen := map[string]bool{}
	var fields []types.FieldDefinition
	for _, o := range obs {
		for name := range o.Fields {
			if seen[name] {
				continue
			}
			seen[name] = true
			fields = append(fields, types.FieldDefinition{Name: name, Type: types.FieldTypeString, MergePolicy: types.MergeLastWriterWins})
		}
	}
	return fields
}

// RelatedEntity is one hop-result of RetrieveRelatedEntities.
type RelatedEntity struct {
	EntityID string
	Depth    int
	Via      string // relationship_type that connected it
}

// RetrieveRelatedEntities performs a bounded, cycle-safe breadth-first
// search over relationship snapshots out to depth hops, fanning each
// depth's expansions out concurrently with errgroup (§4.8, §9 "cap
// depth and detect cycles with a visited set").
func (l *Layer) RetrieveRelatedEntities(ctx context.Context, userID, entityID string, relTypes []string, depth int) ([]RelatedEntity, error) {
	if depth < 1 {
		depth = 1
	}
	visited := map[string]bool{entityID: true}
	frontier := []string{entityID}
	var out []RelatedEntity

	for d := 1; d <= depth; d++ {
		type hop struct {
			from string
			rels []*types.RelationshipSnapshot
		}
		results := make([]hop, len(frontier))
		g, gctx := errgroup.WithContext(ctx)
		for i, id := range frontier {
			i, id := i, id
			g.Go(func() error {
				rels, err := l.ListRelationships(gctx, userID, id, types.DirectionOutbound, "")
				if err != nil {
					return err
				}
				results[i] = hop{from: id, rels: rels}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var next []string
		for _, h := range results {
			for _, rel := range h.rels {
				if !matchesType(rel.RelationshipType, relTypes) {
					continue
				}
				if visited[rel.TargetEntityID] {
					continue
				}
				visited[rel.TargetEntityID] = true
				out = append(out, RelatedEntity{EntityID: rel.TargetEntityID, Depth: d, Via: rel.RelationshipType})
				next = append(next, rel.TargetEntityID)
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return out, nil
}

func matchesType(t string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}

// GraphEdge is one edge incident to a node in a graph-neighborhood query.
type GraphEdge struct {
	RelationshipType string
	OtherEntityID    string
	Direction        types.RelationshipDirection
}

// RetrieveGraphNeighborhood returns the edges directly incident to
// nodeID (depth 1; there is no depth parameter) (§4.8).
func (l *Layer) RetrieveGraphNeighborhood(ctx context.Context, userID, nodeID string) ([]GraphEdge, error) {
	out, err := l.store.ListRelationshipKeysForEntity(ctx, userID, nodeID, types.DirectionBoth, "")
	if err != nil {
		return nil, neoerr.Wrap("query.RetrieveGraphNeighborhood", err)
	}
	var edges []GraphEdge
	for _, key := range out {
		snap, err := l.reduceRelationship(ctx, userID, key)
		if err != nil {
			return nil, err
		}
		if snap == nil || snap.Tombstoned {
			continue
		}
		if snap.SourceEntityID == nodeID {
			edges = append(edges, GraphEdge{RelationshipType: snap.RelationshipType, OtherEntityID: snap.TargetEntityID, Direction: types.DirectionOutbound})
		} else {
			edges = append(edges, GraphEdge{RelationshipType: snap.RelationshipType, OtherEntityID: snap.SourceEntityID, Direction: types.DirectionInbound})
		}
	}
	return edges, nil
}

// ListTimelineEvents lists timeline events matching filter (§4.8).
func (l *Layer) ListTimelineEvents(ctx context.Context, userID string, filter types.TimelineFilter) ([]*types.TimelineEvent, error) {
	events, err := l.store.ListTimelineEvents(ctx, userID, filter)
	if err != nil {
		return nil, neoerr.Wrap("query.ListTimelineEvents", err)
	}
	return events, nil
}

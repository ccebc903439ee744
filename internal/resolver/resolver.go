// Package resolver implements entity resolution and merge (§4.6): the
// mapping from (entity_type, candidate_fields) to a stable entity id,
// and the atomic merge operation that declares two entities duplicates
// of each other.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/markmhendrickson/neotoma/internal/idgen"
	"github.com/markmhendrickson/neotoma/internal/neoerr"
	"github.com/markmhendrickson/neotoma/internal/reducer"
	"github.com/markmhendrickson/neotoma/internal/storage"
	"github.com/markmhendrickson/neotoma/internal/types"
)

// Resolver resolves candidate fields to an entity id and performs
// entity merges.
type Resolver interface {
	Resolve(ctx context.Context, userID, entityType string, fields map[string]any, schema *types.SchemaDefinition) (entityID string, created bool, err error)
	Merge(ctx context.Context, userID, fromEntityID, toEntityID string) (*types.EntityMerge, error)
}

// StandardResolver is the default Resolver, backed by storage.Storage.
type StandardResolver struct {
	store storage.Storage
}

func New(store storage.Storage) *StandardResolver {
	return &StandardResolver{store: store}
}

// Resolve computes the resolution key for fields under schema's
// entity_resolution_key strategy, looks up an existing entity by that
// key, follows a redirect if the match has been merged away, or mints
// a new entity id if no match exists (§4.6). Resolution never locks;
// races are resolved by the storage layer's unique constraint on
// (user_id, entity_type, resolution_key) and retried once.
//
// identity_key is the one exception: per §4.2 it performs no lookup at
// all ("no resolution; each observation is its own entity"), so it
// always mints a fresh entity rather than sharing this lookup-then-mint
// path.
func (r *StandardResolver) Resolve(ctx context.Context, userID, entityType string, fields map[string]any, schema *types.SchemaDefinition) (string, bool, error) {
	if schema.EntityResolutionKey.Kind == types.ResolutionIdentityKey {
		return r.mintIdentityEntity(ctx, userID, entityType, fields, schema.EntityResolutionKey)
	}

	key, err := ResolutionKey(fields, schema.EntityResolutionKey)
	if err != nil {
		return "", false, neoerr.New(neoerr.InvalidInput, "resolver.Resolve", err)
	}

	existing, ok, err := r.store.LookupEntityByResolutionKey(ctx, userID, entityType, key)
	if err != nil {
		return "", false, neoerr.Wrap("resolver.Resolve", err)
	}
	if ok {
		return r.followRedirect(ctx, userID, existing)
	}

	id, err := idgen.EntityID()
	if err != nil {
		return "", false, neoerr.New(neoerr.Internal, "resolver.Resolve", err)
	}
	ent := &types.Entity{
		ID:         id,
		UserID:     userID,
		EntityType: entityType,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.InsertEntity(ctx, ent, key); err != nil {
		if neoerr.Is(neoerr.Wrap("", err), neoerr.Conflict) {
			// another writer won the race; look the row up again.
			existing, ok, lookupErr := r.store.LookupEntityByResolutionKey(ctx, userID, entityType, key)
			if lookupErr == nil && ok {
				return r.followRedirect(ctx, userID, existing)
			}
		}
		return "", false, neoerr.Wrap("resolver.Resolve", err)
	}
	return id, true, nil
}

// mintIdentityEntity always creates a brand-new entity for an
// identity_key candidate. It still validates that the nominated field
// is present (via ResolutionKey) so a malformed candidate fails the
// same way it would under the other strategies, but the computed value
// is never used to look up or dedup against an existing entity. The
// resolution_key it stores is derived from the freshly minted entity
// id rather than the field value, so two candidates carrying the same
// identity field never collide on the storage layer's
// (user_id, entity_type, resolution_key) unique constraint.
func (r *StandardResolver) mintIdentityEntity(ctx context.Context, userID, entityType string, fields map[string]any, key types.EntityResolutionKey) (string, bool, error) {
	if _, err := ResolutionKey(fields, key); err != nil {
		return "", false, neoerr.New(neoerr.InvalidInput, "resolver.Resolve", err)
	}

	id, err := idgen.EntityID()
	if err != nil {
		return "", false, neoerr.New(neoerr.Internal, "resolver.Resolve", err)
	}
	ent := &types.Entity{
		ID:         id,
		UserID:     userID,
		EntityType: entityType,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.InsertEntity(ctx, ent, "identity:"+id); err != nil {
		return "", false, neoerr.Wrap("resolver.Resolve", err)
	}
	return id, true, nil
}

// followRedirect returns ent's id, or its merge target's id if ent has
// been merged away, following a chain of redirects to its end.
func (r *StandardResolver) followRedirect(ctx context.Context, userID string, ent *types.Entity) (string, bool, error) {
	seen := map[string]bool{ent.ID: true}
	for ent.Redirected() {
		if seen[ent.MergedToEntityID] {
			return "", false, neoerr.New(neoerr.Internal, "resolver.followRedirect", fmt.Errorf("redirect cycle at %s", ent.ID))
		}
		next, err := r.store.GetEntity(ctx, userID, ent.MergedToEntityID)
		if err != nil {
			return "", false, neoerr.Wrap("resolver.followRedirect", err)
		}
		seen[next.ID] = true
		ent = next
	}
	return ent.ID, false, nil
}

// Merge declares fromEntityID a duplicate of toEntityID, delegating
// the atomic rewrite to storage.Storage.MergeEntities (§4.6 a-c) and
// evicting both entities' cached snapshots so the next read recomputes
// them (§4.6 d).
func (r *StandardResolver) Merge(ctx context.Context, userID, fromEntityID, toEntityID string) (*types.EntityMerge, error) {
	if fromEntityID == toEntityID {
		return nil, neoerr.New(neoerr.InvalidInput, "resolver.Merge", fmt.Errorf("cannot merge entity %s into itself", fromEntityID))
	}
	merge, err := r.store.MergeEntities(ctx, userID, fromEntityID, toEntityID, time.Now().UTC())
	if err != nil {
		return nil, neoerr.Wrap("resolver.Merge", err)
	}
	return merge, nil
}

// ResolutionKey computes the resolution key value for fields under
// key's strategy (§4.2): natural_key concatenates the nominated
// fields; content_hash_key hashes their canonical string form;
// identity_key requires exactly one nominated field and returns its raw
// value (Resolve only checks that it is present and never looks it up).
func ResolutionKey(fields map[string]any, key types.EntityResolutionKey) (string, error) {
	switch key.Kind {
	case types.ResolutionNaturalKey:
		return naturalKey(fields, key.Fields), nil
	case types.ResolutionContentHashKey:
		return idgen.ContentHash([]byte(naturalKey(fields, key.Fields))), nil
	case types.ResolutionIdentityKey:
		if len(key.Fields) != 1 {
			return "", fmt.Errorf("identity_key requires exactly one field, got %d", len(key.Fields))
		}
		v, ok := fields[key.Fields[0]]
		if !ok {
			return "", fmt.Errorf("identity_key field %q missing from candidate", key.Fields[0])
		}
		return fmt.Sprintf("%v", v), nil
	default:
		return "", fmt.Errorf("unknown entity_resolution_key kind %q", key.Kind)
	}
}

func naturalKey(fields map[string]any, names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	parts := make([]string, 0, len(sorted))
	for _, name := range sorted {
		v, ok := fields[name]
		if !ok {
			continue
		}
		parts = append(parts, reducer.Canonicalize(fmt.Sprintf("%v", v), []types.CanonicalizationStep{
			types.CanonTrim, types.CanonCollapseWhitespace, types.CanonLowercase,
		}))
	}
	return strings.Join(parts, "|")
}

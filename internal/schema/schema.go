// Package schema is the schema registry (§4.2, §4.7): the catalog of
// known entity types and their field definitions, plus the promotion
// flow that turns repeatedly-observed unknown fields into new schema
// versions. Evolution is additive-only — a later schema_version is
// always a superset of the fields in the version before it.
package schema

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/markmhendrickson/neotoma/internal/neoerr"
	"github.com/markmhendrickson/neotoma/internal/storage"
	"github.com/markmhendrickson/neotoma/internal/types"
)

// Registry is the schema registry, backed by storage.Storage.
type Registry struct {
	store storage.Storage
}

func New(store storage.Storage) *Registry {
	return &Registry{store: store}
}

// ListEntityTypes returns every entity type with at least one
// registered schema version.
func (r *Registry) ListEntityTypes(ctx context.Context) ([]string, error) {
	types, err := r.store.ListEntityTypes(ctx)
	if err != nil {
		return nil, neoerr.New(neoerr.Internal, "schema.ListEntityTypes", err)
	}
	return types, nil
}

// GetSchema returns entityType's definition at schemaVersion, or its
// latest version if schemaVersion is empty.
func (r *Registry) GetSchema(ctx context.Context, entityType, schemaVersion string) (*types.SchemaDefinition, error) {
	if schemaVersion == "" {
		def, err := r.store.GetLatestSchema(ctx, entityType)
		if err != nil {
			return nil, neoerr.Wrap("schema.GetSchema", err)
		}
		return def, nil
	}
	def, err := r.store.GetSchema(ctx, entityType, schemaVersion)
	if err != nil {
		return nil, neoerr.Wrap("schema.GetSchema", err)
	}
	return def, nil
}

// RegisterSchema writes a brand-new entity type's first schema
// version. entityType must not already have a registered schema.
func (r *Registry) RegisterSchema(ctx context.Context, def *types.SchemaDefinition) error {
	if existing, err := r.store.GetLatestSchema(ctx, def.EntityType); err == nil {
		return neoerr.New(neoerr.Conflict, "schema.RegisterSchema", fmt.Errorf("entity type %s already registered (at %s)", def.EntityType, existing.SchemaVersion))
	}
	if err := r.store.PutSchema(ctx, def); err != nil {
		return neoerr.Wrap("schema.RegisterSchema", err)
	}
	return nil
}

// UpdateSchemaIncremental appends newFields to entityType's latest
// schema and writes the result under the next schema_version. Required
// fields never change across versions (§4.2), so newFields are always
// added as optional.
func (r *Registry) UpdateSchemaIncremental(ctx context.Context, entityType string, newFields []types.FieldDefinition) (*types.SchemaDefinition, error) {
	latest, err := r.store.GetLatestSchema(ctx, entityType)
	if err != nil {
		return nil, neoerr.Wrap("schema.UpdateSchemaIncremental", err)
	}

	merged := append([]types.FieldDefinition{}, latest.Fields...)
	existing := map[string]bool{}
	for _, f := range merged {
		existing[f.Name] = true
	}
	added := false
	for _, f := range newFields {
		if existing[f.Name] {
			continue
		}
		f.Required = false
		merged = append(merged, f)
		added = true
	}
	if !added {
		return latest, nil
	}

	next := &types.SchemaDefinition{
		EntityType:            entityType,
		SchemaVersion:          nextVersion(latest.SchemaVersion),
		Fields:                 merged,
		CanonicalizationRules:  latest.CanonicalizationRules,
		EntityResolutionKey:    latest.EntityResolutionKey,
	}
	if err := r.store.PutSchema(ctx, next); err != nil {
		return nil, neoerr.Wrap("schema.UpdateSchemaIncremental", err)
	}
	return next, nil
}

func nextVersion(current string) string {
	n, err := strconv.Atoi(strings.TrimPrefix(current, "v"))
	if err != nil {
		return "v2"
	}
	return "v" + strconv.Itoa(n+1)
}

// CandidateThresholds gates when an unknown field is promoted to a
// schema field (§4.7): it must recur across enough observations and
// enough distinct sources to be more than one extractor's idiosyncrasy.
type CandidateThresholds struct {
	MinOccurrences int
	MinSources     int
}

// SchemaCandidate is an unknown field that has crossed the promotion
// thresholds, with its inferred type.
type SchemaCandidate struct {
	FieldName      string
	InferredType   types.FieldType
	Occurrences    int
	DistinctSources int
}

// AnalyzeSchemaCandidates scans observations' extraction_metadata for
// unknown fields recurring often enough, across enough distinct
// sources, to propose as new schema fields.
func AnalyzeSchemaCandidates(obs []*types.Observation, thresholds CandidateThresholds) []SchemaCandidate {
	type tally struct {
		occurrences int
		sources     map[string]bool
		samples     []any
	}
	counts := map[string]*tally{}
	for _, o := range obs {
		for name, val := range o.ExtractionMetadata.UnknownFields {
			t, ok := counts[name]
			if !ok {
				t = &tally{sources: map[string]bool{}}
				counts[name] = t
			}
			t.occurrences++
			if o.SourceID != "" {
				t.sources[o.SourceID] = true
			}
			t.samples = append(t.samples, val)
		}
	}

	var out []SchemaCandidate
	for name, t := range counts {
		if t.occurrences < thresholds.MinOccurrences || len(t.sources) < thresholds.MinSources {
			continue
		}
		out = append(out, SchemaCandidate{
			FieldName:       name,
			InferredType:    inferType(t.samples),
			Occurrences:     t.occurrences,
			DistinctSources: len(t.sources),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	return out
}

var (
	uuidRe  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	dateRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// inferType guesses a FieldType from a field's observed sample values
// using regex-based recommendation heuristics (§4.7): date-like,
// uuid-like, email-like, numeric, boolean, or string.
func inferType(samples []any) types.FieldType {
	if len(samples) == 0 {
		return types.FieldTypeString
	}
	allBool, allNumber, allDate, allUUID, allEmail := true, true, true, true, true
	for _, s := range samples {
		switch v := s.(type) {
		case bool:
			allNumber, allDate, allUUID, allEmail = false, false, false, false
		case float64:
			allBool, allDate, allUUID, allEmail = false, false, false, false
		case string:
			allBool, allNumber = false, false
			if !dateRe.MatchString(v) {
				allDate = false
			}
			if !uuidRe.MatchString(v) {
				allUUID = false
			}
			if !emailRe.MatchString(v) {
				allEmail = false
			}
		default:
			allBool, allNumber, allDate, allUUID, allEmail = false, false, false, false, false
		}
	}
	switch {
	case allBool:
		return types.FieldTypeBool
	case allUUID:
		return types.FieldTypeUUID
	case allEmail:
		return types.FieldTypeEmail
	case allDate:
		return types.FieldTypeDate
	case allNumber:
		return types.FieldTypeNumber
	default:
		return types.FieldTypeString
	}
}

// GetSchemaRecommendations is the read-only variant of
// AnalyzeSchemaCandidates consumed by operators deciding whether to
// promote a field manually, without mutating the registry.
func GetSchemaRecommendations(obs []*types.Observation, thresholds CandidateThresholds) []SchemaCandidate {
	return AnalyzeSchemaCandidates(obs, thresholds)
}

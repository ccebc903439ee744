// Package reducer implements the pure reduce function that collapses
// an entity's (or relationship's) observation multiset into a single
// current-truth snapshot (§4.5): identical observations under an
// identical schema always yield a byte-identical snapshot, regardless
// of the order they are supplied in.
package reducer

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/markmhendrickson/neotoma/internal/types"
)

// Sort establishes the four-key total order over observations:
// (source_priority DESC, observed_at DESC, source_id ASC, observation_id ASC).
// All four keys are required — see spec §4.5's rationale; dropping any
// one reopens an ambiguous tie.
func Sort(obs []*types.Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		a, b := obs[i], obs[j]
		if a.SourcePriority != b.SourcePriority {
			return a.SourcePriority > b.SourcePriority
		}
		if !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.After(b.ObservedAt)
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.ID < b.ID
	})
}

// Reduce collapses obs into an EntitySnapshot under schema. obs need
// not be pre-sorted; Reduce sorts its own copy, so the result is
// identical regardless of input order (§8 shuffle-invariance).
func Reduce(entityID, entityType, userID string, obs []*types.Observation, schema *types.SchemaDefinition, now time.Time) *types.EntitySnapshot {
	ordered := append([]*types.Observation(nil), obs...)
	Sort(ordered)

	snap := &types.EntitySnapshot{
		EntityID:        entityID,
		EntityType:      entityType,
		UserID:          userID,
		Fields:          map[string]string{},
		FieldProvenance: map[string]types.FieldProvenanceEntry{},
		ComputedAt:      now.UTC(),
	}
	if len(ordered) == 0 {
		return snap
	}
	snap.ObservationCount = len(ordered)

	if ordered[0].Deleted() {
		snap.Tombstoned = true
	}

	for _, field := range schema.Fields {
		val, winner := reduceField(ordered, field)
		if winner == nil {
			continue
		}
		snap.Fields[field.Name] = val
		snap.FieldProvenance[field.Name] = types.FieldProvenanceEntry{
			ObservationID:    winner.ID,
			SourceID:         winner.SourceID,
			InterpretationID: winner.InterpretationID,
			SourcePriority:   winner.SourcePriority,
			ObservedAt:       winner.ObservedAt,
		}
	}

	snap.CanonicalName = Canonicalize(snap.Fields[schema.CanonicalizationRules.SourceField], schema.CanonicalizationRules.Steps)
	return snap
}

// ReduceRelationship is the relationship mirror of Reduce, identical
// algorithm keyed by relationship_key rather than entity_id (§4.5).
func ReduceRelationship(relationshipKey, canonicalHash, userID string, obs []*types.RelationshipObservation, schema *types.SchemaDefinition, now time.Time) *types.RelationshipSnapshot {
	ordered := append([]*types.RelationshipObservation(nil), obs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.SourcePriority != b.SourcePriority {
			return a.SourcePriority > b.SourcePriority
		}
		if !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.After(b.ObservedAt)
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.ID < b.ID
	})

	snap := &types.RelationshipSnapshot{
		RelationshipKey:  relationshipKey,
		CanonicalHash:    canonicalHash,
		UserID:           userID,
		Fields:           map[string]string{},
		FieldProvenance:  map[string]types.FieldProvenanceEntry{},
		ComputedAt:       now.UTC(),
	}
	if len(ordered) == 0 {
		return snap
	}
	snap.ObservationCount = len(ordered)
	snap.SourceEntityID = ordered[0].SourceEntityID
	snap.RelationshipType = ordered[0].RelationshipType
	snap.TargetEntityID = ordered[0].TargetEntityID
	if ordered[0].Deleted() {
		snap.Tombstoned = true
	}

	for _, field := range schema.Fields {
		val, winner := reduceRelationshipField(ordered, field)
		if winner == nil {
			continue
		}
		snap.Fields[field.Name] = val
		snap.FieldProvenance[field.Name] = types.FieldProvenanceEntry{
			ObservationID:    winner.ID,
			SourceID:         winner.SourceID,
			InterpretationID: winner.InterpretationID,
			SourcePriority:   winner.SourcePriority,
			ObservedAt:       winner.ObservedAt,
		}
	}
	return snap
}

func reduceField(ordered []*types.Observation, field types.FieldDefinition) (string, *types.Observation) {
	switch field.MergePolicy {
	case types.MergeUnion, types.MergeConcatDistinct:
		return reduceMultiValued(ordered, field)
	case types.MergeMax, types.MergeMin:
		return reduceExtremum(ordered, field)
	default: // last_writer_wins
		for _, o := range ordered {
			if v, ok := observedValue(o, field.Name); ok {
				return formatValue(v, field), o
			}
		}
	}
	return "", nil
}

// observedValue reads field name from an observation's schema-known
// fields, falling back to extraction_metadata.unknown_fields so a
// newly promoted schema field can be reduced from observations written
// before the field existed (§4.7 recomputation without re-ingestion).
func observedValue(o *types.Observation, name string) (any, bool) {
	if v, ok := o.Fields[name]; ok {
		return v, true
	}
	v, ok := o.ExtractionMetadata.UnknownFields[name]
	return v, ok
}

func reduceExtremum(ordered []*types.Observation, field types.FieldDefinition) (string, *types.Observation) {
	var best *big.Float
	var bestStr string
	var winner *types.Observation
	for _, o := range ordered {
		v, ok := observedValue(o, field.Name)
		if !ok {
			continue
		}
		f, ok := toBigFloat(v)
		if !ok {
			continue
		}
		if best == nil ||
			(field.MergePolicy == types.MergeMax && f.Cmp(best) > 0) ||
			(field.MergePolicy == types.MergeMin && f.Cmp(best) < 0) {
			best = f
			bestStr = formatValue(v, field)
			winner = o
		}
	}
	return bestStr, winner
}

func reduceMultiValued(ordered []*types.Observation, field types.FieldDefinition) (string, *types.Observation) {
	seen := map[string]bool{}
	var items []string
	var winner *types.Observation
	for _, o := range ordered {
		v, ok := observedValue(o, field.Name)
		if !ok {
			continue
		}
		if winner == nil {
			winner = o
		}
		for _, s := range toStringSlice(v) {
			if !seen[s] {
				seen[s] = true
				items = append(items, s)
			}
		}
	}
	if winner == nil {
		return "", nil
	}
	if field.MergePolicy == types.MergeUnion {
		sort.Strings(items)
	}
	return strings.Join(items, ","), winner
}

func reduceRelationshipField(ordered []*types.RelationshipObservation, field types.FieldDefinition) (string, *types.RelationshipObservation) {
	switch field.MergePolicy {
	case types.MergeUnion, types.MergeConcatDistinct:
		seen := map[string]bool{}
		var items []string
		var winner *types.RelationshipObservation
		for _, o := range ordered {
			v, ok := o.Fields[field.Name]
			if !ok {
				continue
			}
			if winner == nil {
				winner = o
			}
			for _, s := range toStringSlice(v) {
				if !seen[s] {
					seen[s] = true
					items = append(items, s)
				}
			}
		}
		if winner == nil {
			return "", nil
		}
		if field.MergePolicy == types.MergeUnion {
			sort.Strings(items)
		}
		return strings.Join(items, ","), winner
	case types.MergeMax, types.MergeMin:
		var best *big.Float
		var bestStr string
		var winner *types.RelationshipObservation
		for _, o := range ordered {
			v, ok := o.Fields[field.Name]
			if !ok {
				continue
			}
			f, ok := toBigFloat(v)
			if !ok {
				continue
			}
			if best == nil ||
				(field.MergePolicy == types.MergeMax && f.Cmp(best) > 0) ||
				(field.MergePolicy == types.MergeMin && f.Cmp(best) < 0) {
				best = f
				bestStr = formatValue(v, field)
				winner = o
			}
		}
		return bestStr, winner
	default:
		for _, o := range ordered {
			if v, ok := o.Fields[field.Name]; ok {
				return formatValue(v, field), o
			}
		}
	}
	return "", nil
}

// formatValue renders a raw field value to its canonical snapshot
// string: fixed-decimal for numbers at the schema's declared
// precision, RFC3339 UTC for timestamps, and the plain string
// otherwise (§4.5 floating point & timestamps normalization).
func formatValue(v any, field types.FieldDefinition) string {
	switch field.Type {
	case types.FieldTypeNumber:
		if f, ok := toBigFloat(v); ok {
			return f.Text('f', field.Precision)
		}
	case types.FieldTypeDate:
		if s, ok := v.(string); ok {
			if t, err := parseFlexibleTime(s); err == nil {
				return t.UTC().Format(time.RFC3339)
			}
		}
	}
	return fmt.Sprintf("%v", v)
}

func toBigFloat(v any) (*big.Float, bool) {
	switch n := v.(type) {
	case float64:
		return big.NewFloat(n), true
	case int:
		return big.NewFloat(float64(n)), true
	case int64:
		return big.NewFloat(float64(n)), true
	case string:
		f, ok := new(big.Float).SetString(n)
		return f, ok
	default:
		return nil, false
	}
}

func toStringSlice(v any) []string {
	switch s := v.(type) {
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case []string:
		return s
	case string:
		return []string{s}
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
}

func parseFlexibleTime(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// Canonicalize applies schema-declared canonicalization steps, in
// order, to produce an entity's canonical_name (§4.5).
func Canonicalize(s string, steps []types.CanonicalizationStep) string {
	for _, step := range steps {
		switch step {
		case types.CanonLowercase:
			s = strings.ToLower(s)
		case types.CanonStripDiacritics:
			s = stripDiacritics(s)
		case types.CanonCollapseWhitespace:
			s = strings.Join(strings.Fields(s), " ")
		case types.CanonTrim:
			s = strings.TrimSpace(s)
		}
	}
	return s
}

// stripDiacritics drops Unicode combining marks. Input is assumed
// already NFD-decomposed (or ASCII); it will not decompose a
// precomposed character like é on its own.
func stripDiacritics(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Package types is the shared vocabulary for the memory substrate: the
// source, interpretation, observation, entity, snapshot, and schema
// records every other internal package imports. Types here carry only
// data and the handful of methods that make them safe to compare and
// serialize; behavior lives in the owning packages (reducer, resolver,
// schema, interpretation).
package types

import (
	"time"
)

// NullTenant is the distinguished tenant id denoting shared/global rows.
const NullTenant = ""

// Source is content-addressed raw material ingested by a tenant.
type Source struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"user_id"`
	ContentHash         string           `json:"content_hash"`
	StorageURL          string           `json:"storage_url"`
	MimeType            string           `json:"mime_type"`
	FileSize            int64            `json:"file_size"`
	OriginalFilename    string           `json:"original_filename,omitempty"`
	Provenance          map[string]any   `json:"provenance,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// InterpretationStatus is the lifecycle state of one extraction attempt.
type InterpretationStatus string

const (
	InterpretationRunning   InterpretationStatus = "running"
	InterpretationSucceeded InterpretationStatus = "succeeded"
	InterpretationFailed    InterpretationStatus = "failed"
)

// InterpretationConfig identifies the extraction configuration under
// which one interpretation ran.
type InterpretationConfig struct {
	Provider    string `json:"provider"`
	ModelID     string `json:"model_id"`
	Temperature float64 `json:"temperature"`
	PromptHash  string `json:"prompt_hash"`
	CodeVersion string `json:"code_version"`
}

// Interpretation is one attempt to extract observations from one
// source under one configuration.
type Interpretation struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	SourceID   string                 `json:"source_id"`
	Config     InterpretationConfig   `json:"config"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
	Status     InterpretationStatus   `json:"status"`
}

// Source-priority ladder (§4.4). Closed, integer-ordered, higher wins.
const (
	PriorityLegacy         = 0
	PriorityAIExtraction   = 100
	PriorityStructured     = 500
	PriorityUserCorrection = 1000
	PriorityRestoration    = 1001
)

// ExtractionMetadata carries extraction warnings and fields that were
// observed but are not part of the entity type's schema at the
// observation's schema_version.
type ExtractionMetadata struct {
	UnknownFields map[string]any `json:"unknown_fields,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	Quality       map[string]any `json:"quality,omitempty"`
}

// Observation is an immutable fact about a single entity. Never
// updated or deleted after insert.
type Observation struct {
	ID                  string              `json:"id"`
	UserID              string              `json:"user_id"`
	EntityID            string              `json:"entity_id"`
	EntityType          string              `json:"entity_type"`
	SourceID            string              `json:"source_id,omitempty"`
	InterpretationID    string              `json:"interpretation_id,omitempty"`
	SchemaVersion        string             `json:"schema_version"`
	ObservedAt           time.Time          `json:"observed_at"`
	SourcePriority       int                `json:"source_priority"`
	Fields               map[string]any     `json:"fields"`
	ExtractionMetadata   ExtractionMetadata `json:"extraction_metadata,omitempty"`
}

// Deleted reports whether this observation carries the tombstone
// marker at the field level (fields._deleted == true).
func (o *Observation) Deleted() bool {
	v, ok := o.Fields["_deleted"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// RelationshipDirection filters relationship queries by edge direction
// relative to the queried entity.
type RelationshipDirection string

const (
	DirectionOutbound RelationshipDirection = "outbound"
	DirectionInbound  RelationshipDirection = "inbound"
	DirectionBoth     RelationshipDirection = "both"
)

// RelationshipObservation is the relationship-typed mirror of
// Observation, keyed by the (source, type, target) triple.
type RelationshipObservation struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	SourceEntityID     string             `json:"source_entity_id"`
	RelationshipType   string             `json:"relationship_type"`
	TargetEntityID     string             `json:"target_entity_id"`
	RelationshipKey    string             `json:"relationship_key"`
	CanonicalHash      string             `json:"canonical_hash"`
	SourceID           string             `json:"source_id,omitempty"`
	InterpretationID   string             `json:"interpretation_id,omitempty"`
	SchemaVersion      string             `json:"schema_version"`
	ObservedAt         time.Time          `json:"observed_at"`
	SourcePriority     int                `json:"source_priority"`
	Fields             map[string]any     `json:"fields"`
	ExtractionMetadata ExtractionMetadata `json:"extraction_metadata,omitempty"`
}

// Deleted reports the tombstone marker for a relationship observation.
func (r *RelationshipObservation) Deleted() bool {
	v, ok := r.Fields["_deleted"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Entity is an identity-only record: a stable reference target that
// owns no fields of its own.
type Entity struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	EntityType        string     `json:"entity_type"`
	CanonicalName     string     `json:"canonical_name,omitempty"`
	MergedToEntityID  string     `json:"merged_to_entity_id,omitempty"`
	MergedAt          *time.Time `json:"merged_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Redirected reports whether this entity has been merged into another
// and must never be returned by default queries.
func (e *Entity) Redirected() bool { return e.MergedToEntityID != "" }

// FieldProvenanceEntry records which observation won a field and the
// priority/time it won under.
type FieldProvenanceEntry struct {
	ObservationID    string    `json:"observation_id"`
	SourceID         string    `json:"source_id,omitempty"`
	InterpretationID string    `json:"interpretation_id,omitempty"`
	SourcePriority   int       `json:"source_priority"`
	ObservedAt       time.Time `json:"observed_at"`
}

// EntitySnapshot is the derived, recomputable current-truth view of an
// entity. Same observation set in, byte-identical snapshot out.
type EntitySnapshot struct {
	EntityID        string                          `json:"entity_id"`
	EntityType      string                          `json:"entity_type"`
	UserID          string                          `json:"user_id"`
	CanonicalName   string                          `json:"canonical_name"`
	Fields          map[string]string                `json:"fields"`
	FieldProvenance map[string]FieldProvenanceEntry   `json:"field_provenance"`
	ObservationCount int                             `json:"observation_count"`
	Tombstoned      bool                              `json:"tombstoned"`
	ComputedAt      time.Time                         `json:"computed_at"`
	RedirectedFrom  string                            `json:"redirected_from,omitempty"`
}

// RelationshipSnapshot mirrors EntitySnapshot for a relationship triple.
type RelationshipSnapshot struct {
	RelationshipKey  string                         `json:"relationship_key"`
	CanonicalHash    string                         `json:"canonical_hash"`
	UserID           string                         `json:"user_id"`
	SourceEntityID   string                         `json:"source_entity_id"`
	RelationshipType string                         `json:"relationship_type"`
	TargetEntityID   string                         `json:"target_entity_id"`
	Fields           map[string]string               `json:"fields"`
	FieldProvenance  map[string]FieldProvenanceEntry `json:"field_provenance"`
	ObservationCount int                            `json:"observation_count"`
	Tombstoned       bool                            `json:"tombstoned"`
	ComputedAt       time.Time                       `json:"computed_at"`
}

// MergePolicy names one of the closed set of per-field reducer merge
// strategies (§4.5).
type MergePolicy string

const (
	MergeLastWriterWins MergePolicy = "last_writer_wins"
	MergeMax            MergePolicy = "max"
	MergeMin            MergePolicy = "min"
	MergeUnion          MergePolicy = "union"
	MergeConcatDistinct MergePolicy = "concat_distinct"
)

// FieldType is the declared type of a schema field, used for
// validation and for schema-recommendation type inference.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeNumber FieldType = "number"
	FieldTypeDate   FieldType = "date"
	FieldTypeUUID   FieldType = "uuid"
	FieldTypeEmail  FieldType = "email"
	FieldTypeBool   FieldType = "bool"
	FieldTypeSet    FieldType = "set"
)

// FieldDefinition describes one schema field.
type FieldDefinition struct {
	Name       string      `json:"name" toml:"name"`
	Type       FieldType   `json:"type" toml:"type"`
	Required   bool        `json:"required" toml:"required"`
	Precision  int         `json:"precision,omitempty" toml:"precision,omitempty"` // numeric fields only
	MergePolicy MergePolicy `json:"merge_policy" toml:"merge_policy"`
}

// ResolutionKeyKind names the entity-resolution key strategy a schema
// declares (§4.2).
type ResolutionKeyKind string

const (
	ResolutionNaturalKey     ResolutionKeyKind = "natural_key"
	ResolutionContentHashKey ResolutionKeyKind = "content_hash_key"
	ResolutionIdentityKey    ResolutionKeyKind = "identity_key"
)

// EntityResolutionKey describes how observations of a type are
// resolved to a stable entity id.
type EntityResolutionKey struct {
	Kind   ResolutionKeyKind `json:"kind" toml:"kind"`
	Fields []string          `json:"fields,omitempty" toml:"fields,omitempty"` // natural_key / content_hash_key; exactly one for identity_key
}

// CanonicalizationStep is one named, composable transform applied, in
// order, to the nominated canonical-name field.
type CanonicalizationStep string

const (
	CanonLowercase         CanonicalizationStep = "lowercase"
	CanonStripDiacritics   CanonicalizationStep = "strip_diacritics"
	CanonCollapseWhitespace CanonicalizationStep = "collapse_whitespace"
	CanonTrim              CanonicalizationStep = "trim"
)

// CanonicalizationRules names the field canonical_name is derived from
// and the ordered transforms applied to it.
type CanonicalizationRules struct {
	SourceField string                 `json:"source_field" toml:"source_field"`
	Steps       []CanonicalizationStep `json:"steps" toml:"steps"`
}

// SchemaDefinition is one entity type's field catalog at one version.
// Evolution is additive-only: fields(v) is always a subset of
// fields(v+1), and required fields never change across versions.
type SchemaDefinition struct {
	EntityType            string                `json:"entity_type" toml:"entity_type"`
	SchemaVersion          string               `json:"schema_version" toml:"schema_version"`
	Fields                 []FieldDefinition    `json:"fields" toml:"fields"`
	CanonicalizationRules  CanonicalizationRules `json:"canonicalization_rules" toml:"canonicalization_rules"`
	EntityResolutionKey    EntityResolutionKey  `json:"entity_resolution_key" toml:"entity_resolution_key"`
}

// FieldByName returns the field definition named name, or nil.
func (s *SchemaDefinition) FieldByName(name string) *FieldDefinition {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// TimelineEvent is a derived, immutable record of something that
// happened, referencing the entities and source involved.
type TimelineEvent struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	EventType        string         `json:"event_type"`
	EntityIDs        []string       `json:"entity_ids"`
	SourceID         string         `json:"source_id,omitempty"`
	InterpretationID string         `json:"interpretation_id,omitempty"`
	OccurredAt       time.Time      `json:"occurred_at"`
	Fields           map[string]any `json:"fields,omitempty"`
}

// EdgeType names the kind of audit edge linking a source to an entity
// or timeline event.
type EdgeType string

const (
	EdgeObserved EdgeType = "observed"
	EdgeCorrected EdgeType = "corrected"
)

// SourceEntityEdge is an audit edge from a source to an entity it
// contributed an observation to.
type SourceEntityEdge struct {
	SourceID         string   `json:"source_id"`
	EntityID         string   `json:"entity_id"`
	EdgeType         EdgeType `json:"edge_type"`
	InterpretationID string   `json:"interpretation_id,omitempty"`
}

// SourceEventEdge is an audit edge from a source to a timeline event
// it contributed to.
type SourceEventEdge struct {
	SourceID         string   `json:"source_id"`
	EventID          string   `json:"event_id"`
	EdgeType         EdgeType `json:"edge_type"`
	InterpretationID string   `json:"interpretation_id,omitempty"`
}

// EntityMerge is the audit row written when one entity is declared a
// duplicate of another.
type EntityMerge struct {
	UserID           string    `json:"user_id"`
	FromEntityID     string    `json:"from_entity_id"`
	ToEntityID       string    `json:"to_entity_id"`
	ObservationsMoved int      `json:"observations_moved"`
	MergedAt         time.Time `json:"merged_at"`
}

// EntityFilter narrows retrieve_entities results.
type EntityFilter struct {
	EntityType     string
	IncludeMerged  bool
	CanonicalNameLike string
}

// ObservationFilter narrows list_observations results.
type ObservationFilter struct {
	EntityID         string
	EntityType       string
	SourceID         string
	InterpretationID string
	Field            string
}

// TimelineFilter narrows list_timeline_events results.
type TimelineFilter struct {
	EventType string
	From      *time.Time
	To        *time.Time
}

// ExtractorEntityCandidate is one item of extractor_output[] consumed
// by the interpretation engine (§4.3). The engine never extracts; it
// only resolves identity and writes observations for candidates
// already produced by an external extractor.
type ExtractorEntityCandidate struct {
	EntityType   string                        `json:"entity_type"`
	ExternalID   string                        `json:"external_id,omitempty"`
	Fields       map[string]any                `json:"fields"`
	Relationships []ExtractorRelationshipCandidate `json:"relationships,omitempty"`
}

// ExtractorRelationshipCandidate is one relationship attached to an
// ExtractorEntityCandidate.
type ExtractorRelationshipCandidate struct {
	RelationshipType string         `json:"relationship_type"`
	TargetExternalID string         `json:"target_external_id,omitempty"`
	TargetEntityID   string         `json:"target_entity_id,omitempty"`
	Fields           map[string]any `json:"fields,omitempty"`
}

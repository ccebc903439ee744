package schema_test

import (
	"testing"

	"github.com/markmhendrickson/neotoma/internal/schema"
	"github.com/markmhendrickson/neotoma/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFixture = `
[[schema]]
entity_type = "person"
schema_version = "v1"

  [[schema.fields]]
  name = "name"
  type = "string"
  required = true
  merge_policy = "last_writer_wins"

  [[schema.fields]]
  name = "email"
  type = "email"
  required = false
  merge_policy = "last_writer_wins"

  [schema.canonicalization_rules]
  source_field = "name"
  steps = ["lowercase", "trim"]

  [schema.entity_resolution_key]
  kind = "natural_key"
  fields = ["email"]

[[schema]]
entity_type = "organization"
schema_version = "v1"

  [[schema.fields]]
  name = "name"
  type = "string"
  required = true
  merge_policy = "last_writer_wins"
`

func TestParseFixtureDecodesMultipleSchemas(t *testing.T) {
	defs, err := schema.ParseFixture([]byte(testFixture))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	person := defs[0]
	assert.Equal(t, "person", person.EntityType)
	assert.Equal(t, "v1", person.SchemaVersion)
	require.Len(t, person.Fields, 2)
	assert.Equal(t, "name", person.Fields[0].Name)
	assert.Equal(t, types.FieldTypeString, person.Fields[0].Type)
	assert.True(t, person.Fields[0].Required)
	assert.Equal(t, "email", person.Fields[1].Name)
	assert.Equal(t, types.FieldTypeEmail, person.Fields[1].Type)
	assert.Equal(t, "name", person.CanonicalizationRules.SourceField)
	assert.Equal(t, []types.CanonicalizationStep{types.CanonLowercase, types.CanonTrim}, person.CanonicalizationRules.Steps)
	assert.Equal(t, types.ResolutionNaturalKey, person.EntityResolutionKey.Kind)
	assert.Equal(t, []string{"email"}, person.EntityResolutionKey.Fields)

	org := defs[1]
	assert.Equal(t, "organization", org.EntityType)
	require.Len(t, org.Fields, 1)
}

func TestParseFixtureRejectsMalformedTOML(t *testing.T) {
	_, err := schema.ParseFixture([]byte("not = [valid"))
	assert.Error(t, err)
}

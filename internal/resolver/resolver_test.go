package resolver_test

import (
	"testing"

	"github.com/markmhendrickson/neotoma/internal/idgen"
	"github.com/markmhendrickson/neotoma/internal/resolver"
	"github.com/markmhendrickson/neotoma/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolutionKeyNaturalKeyIsOrderAndCaseInsensitive(t *testing.T) {
	key := types.EntityResolutionKey{Kind: types.ResolutionNaturalKey, Fields: []string{"first_name", "last_name"}}

	a, err := resolver.ResolutionKey(map[string]any{"first_name": "Ada", "last_name": "Lovelace"}, key)
	require.NoError(t, err)

	b, err := resolver.ResolutionKey(map[string]any{"last_name": "LOVELACE", "first_name": "  ada  "}, key)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestResolutionKeyNaturalKeySkipsMissingFields(t *testing.T) {
	key := types.EntityResolutionKey{Kind: types.ResolutionNaturalKey, Fields: []string{"first_name", "last_name"}}

	got, err := resolver.ResolutionKey(map[string]any{"first_name": "Ada"}, key)
	require.NoError(t, err)
	assert.Equal(t, "ada", got)
}

func TestResolutionKeyContentHashKeyIsDeterministicHashOfNaturalKey(t *testing.T) {
	key := types.EntityResolutionKey{Kind: types.ResolutionContentHashKey, Fields: []string{"email"}}

	got, err := resolver.ResolutionKey(map[string]any{"email": "Ada@Example.com"}, key)
	require.NoError(t, err)

	want := idgen.ContentHash([]byte("ada@example.com"))
	assert.Equal(t, want, got)
}

func TestResolutionKeyIdentityKeyUsesRawFieldValue(t *testing.T) {
	key := types.EntityResolutionKey{Kind: types.ResolutionIdentityKey, Fields: []string{"external_id"}}

	got, err := resolver.ResolutionKey(map[string]any{"external_id": "crm-1234"}, key)
	require.NoError(t, err)
	assert.Equal(t, "crm-1234", got)
}

func TestResolutionKeyIdentityKeyMissingFieldErrors(t *testing.T) {
	key := types.EntityResolutionKey{Kind: types.ResolutionIdentityKey, Fields: []string{"external_id"}}

	_, err := resolver.ResolutionKey(map[string]any{}, key)
	assert.Error(t, err)
}

func TestResolutionKeyIdentityKeyRejectsMultipleFields(t *testing.T) {
	key := types.EntityResolutionKey{Kind: types.ResolutionIdentityKey, Fields: []string{"a", "b"}}

	_, err := resolver.ResolutionKey(map[string]any{"a": "1", "b": "2"}, key)
	assert.Error(t, err)
}

func TestResolutionKeyUnknownKindErrors(t *testing.T) {
	key := types.EntityResolutionKey{Kind: "bogus"}
	_, err := resolver.ResolutionKey(map[string]any{}, key)
	assert.Error(t, err)
}

func TestResolutionKeyDifferentFieldsProduceDifferentKeys(t *testing.T) {
	key := types.EntityResolutionKey{Kind: types.ResolutionNaturalKey, Fields: []string{"name"}}

	a, err := resolver.ResolutionKey(map[string]any{"name": "Alice"}, key)
	require.NoError(t, err)
	b, err := resolver.ResolutionKey(map[string]any{"name": "Bob"}, key)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

package idgen_test

import (
	"strings"
	"testing"

	"github.com/markmhendrickson/neotoma/internal/idgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBase36PadsAndTruncates(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		length int
	}{
		{"zero bytes pad to length", []byte{0}, 8},
		{"single byte", []byte{42}, 4},
		{"long input truncates to least-significant digits", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idgen.EncodeBase36(tt.data, tt.length)
			assert.Len(t, got, tt.length)
			for _, r := range got {
				assert.Contains(t, "0123456789abcdefghijklmnopqrstuvwxyz", string(r))
			}
		})
	}
}

func TestEncodeBase36Deterministic(t *testing.T) {
	data := []byte("some fixed input")
	assert.Equal(t, idgen.EncodeBase36(data, 12), idgen.EncodeBase36(data, 12))
}

func TestContentHashStableAndSensitiveToInput(t *testing.T) {
	a := idgen.ContentHash([]byte("hello world"))
	b := idgen.ContentHash([]byte("hello world"))
	c := idgen.ContentHash([]byte("hello World"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestEntityIDFormatAndUniqueness(t *testing.T) {
	id1, err := idgen.EntityID()
	require.NoError(t, err)
	id2, err := idgen.EntityID()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id1, "ent_"))
	assert.Len(t, id1, len("ent_")+16)
	assert.NotEqual(t, id1, id2)
}

func TestRandomIDPrefix(t *testing.T) {
	id, err := idgen.RandomID("src")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "src_"))

	bare, err := idgen.RandomID("")
	require.NoError(t, err)
	assert.False(t, strings.Contains(bare, "_"))
}

func TestCanonicalRelationshipKey(t *testing.T) {
	got := idgen.CanonicalRelationshipKey("ent_a", "works_at", "ent_b")
	assert.Equal(t, "ent_a->works_at->ent_b", got)
}

func TestCanonicalHashLengthAndStability(t *testing.T) {
	key := idgen.CanonicalRelationshipKey("ent_a", "works_at", "ent_b")
	h1 := idgen.CanonicalHash(key)
	h2 := idgen.CanonicalHash(key)

	assert.Len(t, h1, 24)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, idgen.CanonicalHash("ent_b->works_at->ent_a"))
}

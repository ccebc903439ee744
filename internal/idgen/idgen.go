// Package idgen generates the content hashes and identifiers used
// throughout the memory substrate: source content hashes, minted
// entity ids, and relationship canonical hashes. The base36 encoder
// is repurposed here for entity-id minting rather than issue IDs.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts data to a base36 string of exactly length
// characters, zero-padded on the left and truncated to the least
// significant digits if the encoding overflows length.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}
	for i, j := 0, len(chars)-1; i < j; i, j = i+1, j-1 {
		chars[i], chars[j] = chars[j], chars[i]
	}

	str := string(chars)
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// ContentHash computes the SHA-256 hash over raw bytes, hex-encoded.
// This is the Source.content_hash used for per-tenant dedup (§4.1).
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// EntityID mints a new random entity identifier of the form
// "ent_<16 base36 chars>". Minting never locks (§5); collisions are
// resolved by the storage layer's unique constraint on
// (user_id, entity_type, resolution_key), not by this function.
func EntityID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("idgen: entity id: %w", err)
	}
	return "ent_" + EncodeBase36(buf, 16), nil
}

// RandomID mints a random identifier with the given prefix, used for
// source, interpretation, observation, and relationship-observation
// ids. Timeline event ids are minted with google/uuid instead.
func RandomID(prefix string) (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("idgen: random id: %w", err)
	}
	if prefix == "" {
		return EncodeBase36(buf, 20), nil
	}
	return prefix + "_" + EncodeBase36(buf, 20), nil
}

// CanonicalRelationshipKey builds the canonical string form of a
// relationship triple (§3 Relationship Observation).
func CanonicalRelationshipKey(sourceEntityID, relationshipType, targetEntityID string) string {
	return sourceEntityID + "->" + relationshipType + "->" + targetEntityID
}

// CanonicalHash truncates SHA-256(key) to 24 hex characters, the
// stable shard/compare token for a relationship_key.
func CanonicalHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:24]
}

package schema

import (
	"context"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/markmhendrickson/neotoma/internal/neoerr"
	"github.com/markmhendrickson/neotoma/internal/types"
)

// Fixture is the on-disk shape of a schema.toml bulk-load file: one or
// more [[schema]] tables, each a full SchemaDefinition. It exists so an
// operator can seed or restore a catalog of entity types in one file
// instead of one `schema register` call per type.
type Fixture struct {
	Schema []types.SchemaDefinition `toml:"schema"`
}

// ParseFixture decodes a schema.toml bulk-load file into its schema
// definitions.
func ParseFixture(data []byte) ([]types.SchemaDefinition, error) {
	var f Fixture
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("schema.ParseFixture: %w", err)
	}
	return f.Schema, nil
}

// ImportFixture registers every definition in defs, skipping (rather
// than failing on) any whose entity_type already has a registered
// schema, so the same fixture can be re-applied without error. Returns
// the count actually registered.
func (r *Registry) ImportFixture(ctx context.Context, defs []types.SchemaDefinition) (int, error) {
	imported := 0
	for i := range defs {
		def := defs[i]
		if err := r.RegisterSchema(ctx, &def); err != nil {
			if neoerr.KindOf(err) == neoerr.Conflict {
				continue
			}
			return imported, err
		}
		imported++
	}
	return imported, nil
}

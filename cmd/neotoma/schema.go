package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/markmhendrickson/neotoma/internal/schema"
	"github.com/markmhendrickson/neotoma/internal/types"
)

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and evolve the schema registry",
	}
	cmd.AddCommand(schemaListCmd(), schemaShowCmd(), schemaRegisterCmd(), schemaImportCmd(), schemaAnalyzeCmd(), schemaPromoteCmd())
	return cmd
}

func schemaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered entity types",
		RunE: func(cmd *cobra.Command, args []string) error {
			entityTypes, err := svc.Registry().ListEntityTypes(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(entityTypes)
		},
	}
}

func schemaShowCmd() *cobra.Command {
	var entityType, schemaVersion string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show an entity type's schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := svc.Registry().GetSchema(cmd.Context(), entityType, schemaVersion)
			if err != nil {
				return err
			}
			return printJSON(def)
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "entity_type")
	cmd.Flags().StringVar(&schemaVersion, "version", "", "schema_version (default: latest)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func schemaRegisterCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new entity type's first schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var def types.SchemaDefinition
			if err := json.Unmarshal(raw, &def); err != nil {
				return err
			}
			return svc.Registry().RegisterSchema(cmd.Context(), &def)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a JSON schema definition")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func schemaImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk-load entity type schemas from a TOML fixture file",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			defs, err := schema.ParseFixture(raw)
			if err != nil {
				return err
			}
			imported, err := svc.Registry().ImportFixture(cmd.Context(), defs)
			if err != nil {
				return err
			}
			return printJSON(map[string]int{"imported": imported})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a schema.toml bulk-load fixture")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func schemaAnalyzeCmd() *cobra.Command {
	var entityType string
	var minOccurrences, minSources int
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze recurring unknown fields for promotion eligibility",
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := svc.Evolver().AnalyzeCandidates(cmd.Context(), flagUserID, entityType, schema.CandidateThresholds{
				MinOccurrences: minOccurrences,
				MinSources:     minSources,
			})
			if err != nil {
				return err
			}
			return printJSON(candidates)
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "entity_type")
	cmd.Flags().IntVar(&minOccurrences, "min-occurrences", 3, "minimum occurrence count")
	cmd.Flags().IntVar(&minSources, "min-sources", 2, "minimum distinct sources")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func schemaPromoteCmd() *cobra.Command {
	var entityType string
	var minOccurrences, minSources int
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote eligible candidates into a new additive schema_version",
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := svc.Evolver().AnalyzeCandidates(cmd.Context(), flagUserID, entityType, schema.CandidateThresholds{
				MinOccurrences: minOccurrences,
				MinSources:     minSources,
			})
			if err != nil {
				return err
			}
			def, err := svc.Evolver().Promote(cmd.Context(), flagUserID, entityType, candidates)
			if err != nil {
				return err
			}
			return printJSON(def)
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "entity_type")
	cmd.Flags().IntVar(&minOccurrences, "min-occurrences", 3, "minimum occurrence count")
	cmd.Flags().IntVar(&minSources, "min-sources", 2, "minimum distinct sources")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/markmhendrickson/neotoma/internal/types"
)

func correctCmd() *cobra.Command {
	var entityID, field, value string

	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Record a user correction at the top of the priority ladder",
		RunE: func(cmd *cobra.Command, args []string) error {
			var v any = value
			var decoded any
			if err := json.Unmarshal([]byte(value), &decoded); err == nil {
				v = decoded
			}
			return svc.Correct(cmd.Context(), flagUserID, entityID, field, v)
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "entity id")
	cmd.Flags().StringVar(&field, "field", "", "field name")
	cmd.Flags().StringVar(&value, "value", "", "new value (JSON, or treated as a raw string if not valid JSON)")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("field")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func reinterpretCmd() *cobra.Command {
	var sourceID, extractorFile, promptHash, modelID, provider string

	cmd := &cobra.Command{
		Use:   "reinterpret",
		Short: "Run a new interpretation over an already-ingested source",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(extractorFile)
			if err != nil {
				return err
			}
			var candidates []types.ExtractorEntityCandidate
			if err := json.Unmarshal(raw, &candidates); err != nil {
				return err
			}
			result, err := svc.Reinterpret(cmd.Context(), flagUserID, sourceID, candidates, types.InterpretationConfig{
				Provider:   provider,
				ModelID:    modelID,
				PromptHash: promptHash,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "", "source id to reinterpret")
	cmd.Flags().StringVar(&extractorFile, "extractor-output", "", "path to a JSON file of extractor_output[] candidates")
	cmd.Flags().StringVar(&provider, "provider", "", "extraction provider name")
	cmd.Flags().StringVar(&modelID, "model", "", "extraction model id")
	cmd.Flags().StringVar(&promptHash, "prompt-hash", "", "hash of the prompt/config used")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("extractor-output")
	return cmd
}

func mergeCmd() *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Declare one entity a duplicate of another",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := svc.MergeEntities(cmd.Context(), flagUserID, from, to)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "entity id to merge away")
	cmd.Flags().StringVar(&to, "to", "", "entity id to merge into")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

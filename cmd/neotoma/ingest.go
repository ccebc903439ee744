package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/markmhendrickson/neotoma/internal/service"
	"github.com/markmhendrickson/neotoma/internal/types"
)

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest raw bytes or structured entity candidates",
	}
	cmd.AddCommand(ingestUnstructuredCmd(), ingestStructuredCmd())
	return cmd
}

func ingestUnstructuredCmd() *cobra.Command {
	var file, mimeType string
	var interpret bool
	var extractorFile string

	cmd := &cobra.Command{
		Use:   "unstructured",
		Short: "Ingest a file as a content-addressed source",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var candidates []types.ExtractorEntityCandidate
			if extractorFile != "" {
				raw, err := os.ReadFile(extractorFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(raw, &candidates); err != nil {
					return fmt.Errorf("extractor output: %w", err)
				}
			}
			result, err := svc.IngestUnstructured(cmd.Context(), service.IngestUnstructuredInput{
				UserID:          flagUserID,
				Bytes:           b,
				MimeType:        mimeType,
				Filename:        file,
				Interpret:       interpret,
				ExtractorOutput: candidates,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the file to ingest")
	cmd.Flags().StringVar(&mimeType, "mime-type", "text/plain", "mime type of the file")
	cmd.Flags().BoolVar(&interpret, "interpret", false, "run the interpretation engine over --extractor-output")
	cmd.Flags().StringVar(&extractorFile, "extractor-output", "", "path to a JSON file of extractor_output[] candidates")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func ingestStructuredCmd() *cobra.Command {
	var entitiesFile, idempotencyKey string
	var priority int

	cmd := &cobra.Command{
		Use:   "structured",
		Short: "Ingest caller-asserted entity candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(entitiesFile)
			if err != nil {
				return err
			}
			var candidates []types.ExtractorEntityCandidate
			if err := json.Unmarshal(raw, &candidates); err != nil {
				return fmt.Errorf("entities: %w", err)
			}
			result, err := svc.IngestStructured(cmd.Context(), service.IngestStructuredInput{
				UserID:         flagUserID,
				Entities:       candidates,
				SourcePriority: priority,
				IdempotencyKey: idempotencyKey,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&entitiesFile, "entities", "", "path to a JSON file of entity candidates")
	cmd.Flags().IntVar(&priority, "priority", types.PriorityStructured, "source priority (default: structured ingest)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotency key for resubmission")
	_ = cmd.MarkFlagRequired("entities")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

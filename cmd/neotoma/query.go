package main

import (
	"github.com/spf13/cobra"

	"github.com/markmhendrickson/neotoma/internal/types"
)

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read-only access to entities, observations, relationships, and timeline",
	}
	cmd.AddCommand(queryEntitiesCmd(), querySnapshotCmd(), queryObservationsCmd(), queryRelationshipsCmd(), queryRelatedCmd(), queryTimelineCmd())
	return cmd
}

func queryEntitiesCmd() *cobra.Command {
	var entityType string
	var includeMerged bool
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			ents, err := svc.Query().RetrieveEntities(cmd.Context(), flagUserID, types.EntityFilter{
				EntityType:    entityType,
				IncludeMerged: includeMerged,
			}, limit, offset)
			if err != nil {
				return err
			}
			return printJSON(ents)
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "filter by entity_type")
	cmd.Flags().BoolVar(&includeMerged, "include-merged", false, "include redirected (merged-away) entities")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "result offset")
	return cmd
}

func querySnapshotCmd() *cobra.Command {
	var entityID string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Retrieve an entity's current-truth snapshot, following redirects",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := svc.Query().RetrieveEntitySnapshot(cmd.Context(), flagUserID, entityID, nil)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "entity id")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func queryObservationsCmd() *cobra.Command {
	var entityID, entityType string

	cmd := &cobra.Command{
		Use:   "observations",
		Short: "List observations in reducer total order",
		RunE: func(cmd *cobra.Command, args []string) error {
			obs, err := svc.Query().ListObservations(cmd.Context(), flagUserID, types.ObservationFilter{
				EntityID:   entityID,
				EntityType: entityType,
			})
			if err != nil {
				return err
			}
			return printJSON(obs)
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "filter by entity id")
	cmd.Flags().StringVar(&entityType, "type", "", "filter by entity_type")
	return cmd
}

func queryRelationshipsCmd() *cobra.Command {
	var entityID, direction, relType string

	cmd := &cobra.Command{
		Use:   "relationships",
		Short: "List relationship snapshots touching an entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := svc.Query().ListRelationships(cmd.Context(), flagUserID, entityID, types.RelationshipDirection(direction), relType)
			if err != nil {
				return err
			}
			return printJSON(snaps)
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "entity id")
	cmd.Flags().StringVar(&direction, "direction", string(types.DirectionBoth), "outbound|inbound|both")
	cmd.Flags().StringVar(&relType, "relationship-type", "", "filter by relationship_type")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func queryRelatedCmd() *cobra.Command {
	var entityID string
	var depth int

	cmd := &cobra.Command{
		Use:   "related",
		Short: "Bounded BFS over relationship snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			related, err := svc.Query().RetrieveRelatedEntities(cmd.Context(), flagUserID, entityID, nil, depth)
			if err != nil {
				return err
			}
			return printJSON(related)
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "entity id")
	cmd.Flags().IntVar(&depth, "depth", 1, "max BFS depth")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func queryTimelineCmd() *cobra.Command {
	var eventType string

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "List timeline events",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := svc.Query().ListTimelineEvents(cmd.Context(), flagUserID, types.TimelineFilter{EventType: eventType})
			if err != nil {
				return err
			}
			return printJSON(events)
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event_type")
	return cmd
}

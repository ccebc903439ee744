// Command neotoma is a thin CLI standing in for the Transport
// collaborator described in the core's external interfaces: it
// authenticates nothing itself (the --user flag stands in for an
// already-authenticated principal) and exists only to exercise the
// service façade end to end.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markmhendrickson/neotoma/internal/blobstore"
	"github.com/markmhendrickson/neotoma/internal/config"
	"github.com/markmhendrickson/neotoma/internal/otelx"
	"github.com/markmhendrickson/neotoma/internal/service"
	"github.com/markmhendrickson/neotoma/internal/storage/sqlite"
)

var (
	flagUserID string
	svc        *service.Service
	providers  *otelx.Providers
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "neotoma:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "neotoma",
		Short: "Truth layer for persistent agent memory",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bootstrap(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return shutdown(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&flagUserID, "user", "", "authenticated tenant id (stands in for the transport layer's principal)")
	_ = root.MarkPersistentFlagRequired("user")

	root.AddCommand(ingestCmd(), correctCmd(), reinterpretCmd(), mergeCmd(), queryCmd(), schemaCmd())
	return root
}

func bootstrap(ctx context.Context) error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	store, err := sqlite.New(ctx, config.GetString("storage.dsn"))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	blobs, err := blobstore.NewFilesystem(config.GetString("blobstore.root"))
	if err != nil {
		return fmt.Errorf("blobstore: %w", err)
	}

	p, err := otelx.NewStdout(os.Stderr)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers = p

	svc, err = service.New(store, blobs, service.Options{
		MaxInterpretationsPerTenant: config.GetInt("quota.default_interpretations_per_tenant"),
		Providers:                   providers,
	})
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}
	return nil
}

func shutdown(ctx context.Context) error {
	return providers.Shutdown(ctx)
}

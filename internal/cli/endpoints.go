package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/failover/internal/core/config"
	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/storage/postgres"
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List the endpoint descriptors in effect",
	RunE:  runEndpoints,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert the endpoints from the config file into PostgreSQL",
	RunE:  runSeed,
}

func init() {
	endpointsCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(endpointsCmd)
}

func loadEndpoints(ctx context.Context, cfg *config.AppConfig) ([]domain.Endpoint, error) {
	if cfg.EndpointsSource != config.SourcePostgres {
		return cfg.DomainEndpoints(), nil
	}
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = db.Close()
	}()
	return postgres.NewEndpointRepo(db).List(ctx)
}

func runEndpoints(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()

	endpoints, err := loadEndpoints(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	registry, err := domain.NewRegistry(endpoints)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tPRIORITY\tCAPABILITIES\tTRANSPORT\tUNRELIABLE\tADDRESS")
	for _, ep := range registry.All() {
		caps := make([]string, len(ep.Capabilities))
		for i, c := range ep.Capabilities {
			caps[i] = string(c)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%t\t%s\n",
			ep.ID, ep.Priority, strings.Join(caps, ","), ep.Transport, ep.KnownUnreliable, ep.Address)
	}
	return w.Flush()
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is not configured")
	}

	ctx := cmd.Context()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	repo := postgres.NewEndpointRepo(db)
	for _, ep := range cfg.DomainEndpoints() {
		if err := repo.Upsert(ctx, ep); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d endpoints\n", len(cfg.Endpoints))
	return nil
}

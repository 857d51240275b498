package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vietddude/failover/internal/infra/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
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
	version, err := postgres.SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
	return nil
}

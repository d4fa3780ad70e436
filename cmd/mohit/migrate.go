package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mohit-ai/mohit/pkg/gateway/config"
	"github.com/mohit-ai/mohit/pkg/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  migrateRunner(postgres.MigrateUp),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE:  migrateRunner(postgres.MigrateDown),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	RunE:  migrateRunner(postgres.MigrateStatus),
}

func migrateRunner(op postgres.MigrationCommand) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd.Context(), op, cmd.OutOrStdout(), config.LoadFromEnv)
	}
}

var errMigrateNeedsPostgres = errors.New("migrate requires MOHIT_STORE=postgres")

func runMigrate(ctx context.Context, op postgres.MigrationCommand, out io.Writer, loadConfig func() (config.Config, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.StoreDriver != config.StorePostgres {
		return errMigrateNeedsPostgres
	}

	pg, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.Options{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pg.Close()

	lines, err := pg.Migrate(ctx, op)
	if err != nil {
		return err
	}
	return printMigrations(out, op, lines)
}

func printMigrations(out io.Writer, op postgres.MigrationCommand, lines []postgres.MigrationLine) error {
	if len(lines) == 0 {
		_, err := fmt.Fprintf(out, "migrate %s: nothing to do\n", op)
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tFILE")
	for _, l := range lines {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", l.Version, l.State, l.Path)
	}
	return tw.Flush()
}

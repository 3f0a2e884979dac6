package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/resale-repricer/internal/db"
	"github.com/example/resale-repricer/internal/migrate"
)

func newMigrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			d, err := db.Open(cmd.Context(), cfg.DatabaseURL, 2)
			if err != nil {
				return err
			}
			defer d.Close()

			applied, err := migrate.Up(cmd.Context(), d)
			if err != nil {
				return err
			}
			log.WithField("applied", len(applied)).Info("migrations complete")
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ewilliams-labs/encore/internal/adapters/sqlstore"
)

func newDBCommand(ctx *commandContext) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database utilities",
	}

	dbCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the feature, result and run tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	})

	dbCmd.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Load playlists, history and candidate tracks from a JSON snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open snapshot: %w", err)
			}
			defer f.Close()

			snap, err := sqlstore.ReadSnapshot(f)
			if err != nil {
				return err
			}

			store, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			stats, err := store.Import(cmd.Context(), snap)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d playlist(s), %d history track(s), %d candidate track(s)\n",
				stats.Playlists, stats.History, stats.Candidates)
			return nil
		},
	})

	return dbCmd
}

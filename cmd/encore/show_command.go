package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ewilliams-labs/encore/internal/adapters/artifact"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var fromDB bool
	var userID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show published recommendations grouped by label",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromDB {
				return showStored(cmd, ctx, userID)
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			groups, err := artifact.Read(cfg.Output.ArtifactPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(groups) == 0 {
				fmt.Fprintf(out, "No recommendations in %s\n", cfg.Output.ArtifactPath)
				return nil
			}
			for _, g := range groups {
				rows := make([][]string, len(g.Lines))
				for i, l := range g.Lines {
					rows[i] = []string{l.TrackName, l.TrackID, l.ImageURL}
				}
				fmt.Fprintln(out, renderTable(g.Label, []string{"Track", "ID", "Artwork"}, rows, nil))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromDB, "from-db", false, "Read the result table instead of the artifact file")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User whose results to show with --from-db (defaults to run.user_id)")
	return cmd
}

// showStored prints the result set the last committed run stored for a user.
func showStored(cmd *cobra.Command, ctx *commandContext, userID string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if userID == "" {
		userID = cfg.Run.UserID
	}
	if userID == "" {
		return errors.New("show --from-db needs --user or run.user_id")
	}

	store, err := ctx.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Recommendations(cmd.Context(), userID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintf(out, "No stored recommendations for %s\n", userID)
		return nil
	}
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{r.TrackName, r.TrackID, r.ImageURL}
	}
	fmt.Fprintln(out, renderTable("Stored for "+userID, []string{"Track", "ID", "Artwork"}, rows, nil))
	return nil
}

func newDismissCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss TRACK_ID...",
		Short: "Remove tracks from the published recommendations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			removed, err := artifact.Remove(cfg.Output.ArtifactPath, args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dismissed %d of %d track(s)\n", removed, len(args))
			return nil
		},
	}
}

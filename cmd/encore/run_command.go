package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ewilliams-labs/encore/internal/adapters/artifact"
	"github.com/ewilliams-labs/encore/internal/adapters/spotify"
	"github.com/ewilliams-labs/encore/internal/core/ports"
	"github.com/ewilliams-labs/encore/internal/core/services"
	"github.com/ewilliams-labs/encore/internal/metrics"
	"github.com/ewilliams-labs/encore/internal/runlock"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var clusters int
	var userID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the recommender once and publish the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			store, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			httpClient, err := spotify.NewHTTPClient(cmd.Context(), spotify.Credentials{
				ClientID:     cfg.Catalog.ClientID,
				ClientSecret: cfg.Catalog.ClientSecret,
				RefreshToken: cfg.Catalog.RefreshToken,
				AccessToken:  cfg.Catalog.AccessToken,
				TokenURL:     cfg.Catalog.TokenURL,
			}, cfg.CatalogTimeout())
			if err != nil {
				return fmt.Errorf("catalog auth: %w", err)
			}
			catalog := spotify.NewClient(spotify.Options{
				BaseURL:           cfg.Catalog.BaseURL,
				HTTPClient:        httpClient,
				MaxRetries:        cfg.Catalog.MaxRetries,
				BaseBackoff:       cfg.CatalogBackoff(),
				RequestsPerSecond: cfg.Catalog.RequestsPerSecond,
				BreakerFailures:   cfg.Catalog.BreakerFailures,
				BreakerTimeout:    cfg.BreakerTimeout(),
			})

			pipeline, err := services.NewPipeline(cfg, services.Deps{
				Store:   store,
				Catalog: catalog,
				Sinks: []ports.RecommendationSink{
					store,
					artifact.NewWriter(cfg.Output.ArtifactPath, cfg.Output.ArtifactLabel, artifact.Mode(cfg.Output.ArtifactMode)),
				},
				Locker:  runlock.New(cfg.Output.LockDir),
				Metrics: metrics.New(),
			})
			if err != nil {
				return err
			}

			res, err := pipeline.Run(cmd.Context(), services.Request{UserID: userID, Clusters: clusters})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, len(res.Records))
			for i, r := range res.Records {
				rows[i] = []string{strconv.Itoa(i + 1), r.TrackName, r.TrackID, r.ImageURL}
			}
			title := fmt.Sprintf("Run %s for %s", res.Run.ID, res.Run.UserID)
			fmt.Fprintln(out, renderTable(title, []string{"#", "Track", "ID", "Artwork"}, rows, []columnAlignment{alignRight}))

			summary := []string{
				fmt.Sprintf("clusters=%d selected=%v", res.Run.Clusters, res.Selected),
				fmt.Sprintf("accuracy=%.3f attempts=%d", res.Classifier.Accuracy, res.Classifier.Attempts),
			}
			if res.Reclusters > 0 {
				summary = append(summary, fmt.Sprintf("reclusters=%d", res.Reclusters))
			}
			if !res.Classifier.ReachedTarget {
				summary = append(summary, "target accuracy not reached (best effort)")
			}
			if len(res.Skipped) > 0 {
				summary = append(summary, fmt.Sprintf("skipped=%d", len(res.Skipped)))
			}
			fmt.Fprintln(out, strings.Join(summary, "  "))
			return nil
		},
	}

	cmd.Flags().IntVarP(&clusters, "clusters", "k", 0, "Cluster count (default clustering.n_clusters)")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id owning the results (default run.user_id, then /me)")
	return cmd
}

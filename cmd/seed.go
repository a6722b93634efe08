package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/registry"
)

var (
	seedFile  string
	seedEmbed bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load service types, providers and seed prices from a YAML fixture",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		fixture, err := registry.LoadFixture(seedFile)
		if err != nil {
			return err
		}

		st, err := openMigratedStore(ctx, "seed")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		report, err := registry.Apply(ctx, st, fixture, time.Now())
		if err != nil {
			return err
		}
		zap.L().Info("fixture applied",
			zap.String("file", seedFile),
			zap.Int("service_types", report.ServiceTypes),
			zap.Int("providers", report.Providers),
			zap.Int64("observations", report.Observations),
		)

		if !seedEmbed {
			return nil
		}
		if cfg.OpenAI.Key == "" {
			zap.L().Warn("PRICE_OPENAI_KEY not set, skipping embeddings")
			return nil
		}
		_, err = embedCatalog(ctx, st)
		return err
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "testdata/seed.yaml", "fixture path")
	seedCmd.Flags().BoolVar(&seedEmbed, "embed", true, "embed service types after loading")
	rootCmd.AddCommand(seedCmd)
}

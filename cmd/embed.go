package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/embed"
	"github.com/sells-group/price-discovery/internal/store"
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Re-embed every service type in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openMigratedStore(ctx, "embed")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := embedCatalog(ctx, st)
		if err != nil {
			return err
		}
		zap.L().Info("catalog embedded", zap.Int("service_types", n))
		return nil
	},
}

// embedCatalog replaces the stored vector of every service type.
func embedCatalog(ctx context.Context, st store.Store) (int, error) {
	types, err := st.ListServiceTypes(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "list service types")
	}
	embedder := embed.NewOpenAIEmbedder(embed.Config{
		APIKey:     cfg.OpenAI.Key,
		BaseURL:    cfg.OpenAI.BaseURL,
		Model:      cfg.OpenAI.Model,
		Dimensions: cfg.OpenAI.Dimensions,
		BatchSize:  cfg.OpenAI.BatchSize,
	})
	return embed.EmbedServiceTypes(ctx, embedder, st, types)
}

func init() {
	rootCmd.AddCommand(embedCmd)
}

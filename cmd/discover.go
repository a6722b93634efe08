package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/discovery"
)

var (
	discoverProvider string
	discoverService  string
	discoverQuery    string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run the price discovery cascade once for a provider and service type",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		provider, err := env.Store.GetProvider(ctx, discoverProvider)
		if err != nil {
			return eris.Wrapf(err, "load provider %s", discoverProvider)
		}
		st, err := env.Store.GetServiceType(ctx, discoverService)
		if err != nil {
			return eris.Wrapf(err, "load service type %s", discoverService)
		}

		report, err := env.Cascade.Run(ctx, discovery.Request{
			Provider:    *provider,
			ServiceType: *st,
			Query:       discoverQuery,
		})
		if err != nil {
			return eris.Wrap(err, "run cascade")
		}

		zap.L().Info("discovery finished",
			zap.String("state", string(report.State)),
			zap.String("outcome", report.Outcome),
			zap.String("tier", report.Tier),
			zap.Duration("duration", report.Duration),
		)
		return printJSON(cmd.OutOrStdout(), report)
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverProvider, "provider", "", "provider id")
	discoverCmd.Flags().StringVar(&discoverService, "service", "", "service type slug")
	discoverCmd.Flags().StringVar(&discoverQuery, "query", "", "user query text (default: service type name)")
	_ = discoverCmd.MarkFlagRequired("provider")
	_ = discoverCmd.MarkFlagRequired("service")
	rootCmd.AddCommand(discoverCmd)
}

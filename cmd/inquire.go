package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/price-discovery/internal/model"
)

var (
	inquireProvider string
	inquireService  string
)

var inquireCmd = &cobra.Command{
	Use:   "inquire",
	Short: "Email a provider asking for the price of a service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "inquire")
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Correlator.Sender == nil {
			return eris.New("smtp sender is not configured")
		}

		provider, err := env.Store.GetProvider(ctx, inquireProvider)
		if err != nil {
			return eris.Wrapf(err, "load provider %s", inquireProvider)
		}
		st, err := env.Store.GetServiceType(ctx, inquireService)
		if err != nil {
			return eris.Wrapf(err, "load service type %s", inquireService)
		}

		inq, err := env.Correlator.Send(ctx, *provider, *st)
		if err != nil {
			if eris.Is(err, model.ErrContactNotFound) {
				return eris.Wrapf(err, "no contact address for %s", provider.Name)
			}
			return err
		}
		return printJSON(cmd.OutOrStdout(), inq)
	},
}

func init() {
	inquireCmd.Flags().StringVar(&inquireProvider, "provider", "", "provider id")
	inquireCmd.Flags().StringVar(&inquireService, "service", "", "service type slug")
	_ = inquireCmd.MarkFlagRequired("provider")
	_ = inquireCmd.MarkFlagRequired("service")
	rootCmd.AddCommand(inquireCmd)
}

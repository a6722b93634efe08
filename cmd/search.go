package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/price-discovery/internal/search"
)

var (
	searchLat    float64
	searchLng    float64
	searchRadius float64
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run one hybrid price search and print the JSON response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "search")
		if err != nil {
			return err
		}
		defer env.Close()

		resp, err := env.Engine.Search(ctx, search.Query{
			Text:         args[0],
			Lat:          searchLat,
			Lng:          searchLng,
			RadiusMeters: searchRadius,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

func init() {
	searchCmd.Flags().Float64Var(&searchLat, "lat", 0, "latitude of the search center")
	searchCmd.Flags().Float64Var(&searchLng, "lng", 0, "longitude of the search center")
	searchCmd.Flags().Float64Var(&searchRadius, "radius", 0, "search radius in meters (default from config)")
	_ = searchCmd.MarkFlagRequired("lat")
	_ = searchCmd.MarkFlagRequired("lng")
	rootCmd.AddCommand(searchCmd)
}

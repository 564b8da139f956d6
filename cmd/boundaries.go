package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrastat/soil-pipeline/internal/overpass"
)

var boundariesCountryCodes []string

var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Fetch territory boundaries and store them",
	Long:  "Fetches boundary polygons for the configured territory allowlist from the Overpass API and upserts them into the store, without running the rest of the pipeline.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		codes := cfg.Overpass.CountryCodes
		if len(boundariesCountryCodes) > 0 {
			codes = boundariesCountryCodes
		}

		client := overpass.NewClient(cfg.Overpass)
		territories, err := client.FetchBoundaries(ctx, codes)
		if err != nil {
			return err
		}

		if err := st.InsertTerritories(ctx, territories); err != nil {
			return err
		}

		fmt.Printf("Stored %d territory boundaries\n", len(territories))
		for _, t := range territories {
			fmt.Printf("  %s  %s (relation %d)\n", t.Code, t.Name, t.RelationID)
		}
		return nil
	},
}

func init() {
	boundariesCmd.Flags().StringSliceVar(&boundariesCountryCodes, "country-codes", nil, "territory allowlist (ISO 3166-1 alpha-2)")
	rootCmd.AddCommand(boundariesCmd)
}

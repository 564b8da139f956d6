package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/terrastat/soil-pipeline/internal/loader"
)

var importCmd = &cobra.Command{
	Use:   "import <data-file>",
	Short: "Load a soil sample dataset into the store",
	Long:  "Parses a shapefile or GeoJSON dataset, validates field quality, and inserts the samples, without running the rest of the pipeline.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		samples, err := loader.Load(args[0])
		if err != nil {
			return eris.Wrap(err, "load dataset")
		}

		quality := loader.Validate(samples)
		inserted, err := st.InsertSamples(ctx, samples)
		if err != nil {
			return eris.Wrap(err, "insert samples")
		}

		fmt.Printf("Imported %d samples from %s\n", inserted, args[0])
		if !quality.Clean() {
			fmt.Printf("Quality warnings: %d invalid coordinates, %d SOC out of range, %d depth out of range, %d missing SOC method\n",
				quality.InvalidCoordinates, quality.SOCOutOfRange,
				quality.DepthOutOfRange, quality.MissingSOCMethod)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

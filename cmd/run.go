package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrastat/soil-pipeline/internal/overpass"
	"github.com/terrastat/soil-pipeline/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the full analysis pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		client := overpass.NewClient(cfg.Overpass)
		runner := pipeline.New(cfg, st, client)

		result, err := runner.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Run %s finished in %s\n\n", result.RunID, result.Duration.Round(10*time.Millisecond))
		fmt.Printf("Samples:     %d total, %d associated, %d unassigned (%d invalid coordinates)\n",
			result.Coverage.TotalSamples, result.Coverage.Associated,
			result.Coverage.Unassigned, result.Coverage.InvalidCoordinate)
		fmt.Printf("Coverage:    %.1f%%\n", result.Coverage.CoveragePercent())
		fmt.Printf("Clusters:    %d\n\n", result.Clusters)
		fmt.Print(result.Summary.Render())
		return nil
	},
}

func init() {
	flags := runCmd.Flags()
	flags.StringVar(&flagDataFile, "data-file", "", "path to the soil sample dataset (.shp or .geojson)")
	flags.StringVar(&flagDBPath, "db-path", "", "SQLite database path")
	flags.StringVar(&flagSamplingMethod, "sampling-method", "", "sampling method: random, clustering, or single_cluster")
	flags.IntVar(&flagSampleSize, "sample-size", 0, "requested sample size per territory")
	flags.IntVar(&flagMinSamples, "min-samples", 0, "minimum samples per territory before low-confidence flagging")
	flags.IntVar(&flagMinClusters, "min-clusters", 0, "minimum cluster count per territory")
	flags.IntVar(&flagMaxClusters, "max-clusters", 0, "maximum cluster count per territory")
	flags.IntVar(&flagMinPerCluster, "min-samples-per-cluster", 0, "minimum samples per cluster")
	flags.StringSliceVar(&flagCountryCodes, "country-codes", nil, "territory allowlist (ISO 3166-1 alpha-2)")

	runCmd.PreRunE = applyRunFlags
	rootCmd.AddCommand(runCmd)
}

var (
	flagDataFile       string
	flagDBPath         string
	flagSamplingMethod string
	flagSampleSize     int
	flagMinSamples     int
	flagMinClusters    int
	flagMaxClusters    int
	flagMinPerCluster  int
	flagCountryCodes   []string
)

// applyRunFlags overlays command-line flags on the loaded config.
func applyRunFlags(cmd *cobra.Command, args []string) error {
	if flagDataFile != "" {
		cfg.Pipeline.DataFile = flagDataFile
	}
	if flagDBPath != "" {
		cfg.Store.Path = flagDBPath
	}
	if flagSamplingMethod != "" {
		cfg.Analysis.SamplingMethod = flagSamplingMethod
	}
	if flagSampleSize > 0 {
		cfg.Analysis.SampleSize = flagSampleSize
	}
	if flagMinSamples > 0 {
		cfg.Analysis.MinSamplesPerTerritory = flagMinSamples
	}
	if flagMinClusters > 0 {
		cfg.Cluster.MinClusters = flagMinClusters
	}
	if flagMaxClusters > 0 {
		cfg.Cluster.MaxClusters = flagMaxClusters
	}
	if flagMinPerCluster > 0 {
		cfg.Cluster.MinSamplesPerCluster = flagMinPerCluster
	}
	if len(flagCountryCodes) > 0 {
		cfg.Overpass.CountryCodes = flagCountryCodes
	}
	if cfg.Pipeline.DataFile == "" {
		return fmt.Errorf("a data file is required (--data-file or SOIL_PIPELINE_DATA_FILE)")
	}
	return nil
}

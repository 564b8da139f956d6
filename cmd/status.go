package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var statusRunID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-territory statistics and pipeline events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		summaries, err := st.TerritoryStatistics(ctx)
		if err != nil {
			return err
		}
		total, err := st.CountSamples(ctx)
		if err != nil {
			return err
		}

		p := message.NewPrinter(language.English)
		p.Printf("Stored samples: %d\n\n", total)
		p.Printf("%-6s %-24s %10s %10s %10s %10s\n", "CODE", "NAME", "SAMPLES", "CLUSTERS", "RESULTS", "SOC MEAN")
		for _, s := range summaries {
			p.Printf("%-6s %-24s %10d %10d %10d %10.2f\n",
				s.Code, s.Name, s.SampleCount, s.ClusterCount, s.ResultCount, s.SOCMean)
		}
		if len(summaries) == 0 {
			fmt.Println("No territories stored yet. Run `soil-pipeline run` first.")
		}

		if statusRunID != "" {
			events, err := st.ListPipelineEvents(ctx, statusRunID)
			if err != nil {
				return err
			}
			fmt.Printf("\nEvents for run %s:\n", statusRunID)
			for _, e := range events {
				fmt.Printf("  %s  %-10s %-5s %s (%d records, %s)\n",
					e.CreatedAt.Format("15:04:05"), e.Stage, e.Level, e.Message, e.Records, e.Duration)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusRunID, "run-id", "", "also print events for this pipeline run")
	rootCmd.AddCommand(statusCmd)
}

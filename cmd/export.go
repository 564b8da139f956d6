package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/terrastat/soil-pipeline/internal/model"
	"github.com/terrastat/soil-pipeline/internal/store"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export analysis results to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		results, err := st.ListAnalysisResults(ctx)
		if err != nil {
			return err
		}
		summaries, err := st.TerritoryStatistics(ctx)
		if err != nil {
			return err
		}

		if err := writeWorkbook(exportOutput, results, summaries); err != nil {
			return err
		}
		fmt.Printf("Exported %d results and %d territories to %s\n", len(results), len(summaries), exportOutput)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "soil_analysis.xlsx", "output workbook path")
	rootCmd.AddCommand(exportCmd)
}

func writeWorkbook(path string, results []model.AnalysisResult, summaries []store.TerritorySummary) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("Analysis Results")
	if err != nil {
		return eris.Wrap(err, "export: add results sheet")
	}
	header := sheet.AddRow()
	for _, h := range []string{
		"Territory", "Name", "Method", "Requested", "Sampled", "Total Samples",
		"SOC Mean (%)", "SOC Variance", "Clay Fraction Mean", "Clay Estimated",
		"Low Confidence", "Analyzed At",
	} {
		header.AddCell().SetString(h)
	}
	for _, r := range results {
		row := sheet.AddRow()
		row.AddCell().SetString(r.TerritoryCode)
		row.AddCell().SetString(r.TerritoryName)
		row.AddCell().SetString(string(r.Method))
		row.AddCell().SetInt(r.RequestedSize)
		row.AddCell().SetInt(r.SampleSize)
		row.AddCell().SetInt(r.TotalSamples)
		row.AddCell().SetFloat(r.SOCMean)
		row.AddCell().SetFloat(r.SOCVariance)
		row.AddCell().SetFloat(r.ClayFractionMean)
		row.AddCell().SetBool(r.SecondaryEstimated)
		row.AddCell().SetBool(r.LowConfidence)
		row.AddCell().SetString(r.AnalyzedAt.Format(time.RFC3339))
	}

	terrSheet, err := f.AddSheet("Territories")
	if err != nil {
		return eris.Wrap(err, "export: add territories sheet")
	}
	header = terrSheet.AddRow()
	for _, h := range []string{"Code", "Name", "Samples", "Clusters", "Results", "Latest SOC Mean (%)"} {
		header.AddCell().SetString(h)
	}
	for _, s := range summaries {
		row := terrSheet.AddRow()
		row.AddCell().SetString(s.Code)
		row.AddCell().SetString(s.Name)
		row.AddCell().SetInt(s.SampleCount)
		row.AddCell().SetInt(s.ClusterCount)
		row.AddCell().SetInt(s.ResultCount)
		row.AddCell().SetFloat(s.SOCMean)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save workbook")
	}
	return nil
}

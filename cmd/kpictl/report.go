package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"kpiledger/internal/exporter"
)

func (c *cli) progressCmd() *cobra.Command {
	var asCSV bool
	cmd := &cobra.Command{
		Use:   "progress JOB",
		Short: "Show completed stages per well and for the whole pad.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.jobs(cmd.Context())
			if err != nil {
				return err
			}
			progress, err := svc.Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asCSV {
				return exporter.WriteProgress(out, progress, false)
			}

			rows := make([][]string, 0, len(progress.Wells)+1)
			for _, w := range progress.OrderedWells() {
				rows = append(rows, []string{w.Well, strconv.Itoa(w.Completed), strconv.Itoa(w.Total), percent(w.Ratio)})
			}
			rows = append(rows, []string{"Pad", strconv.Itoa(progress.Pad.Completed), strconv.Itoa(progress.Pad.Total), percent(progress.Pad.Ratio)})
			printTable(out, []string{"WELL", "COMPLETED", "TOTAL", "PERCENT"}, rows)

			if progress.JobStart != nil {
				fmt.Fprintf(out, "job start: %s\n", progress.JobStart.Format(exporter.TimeLayout))
			}
			for _, w := range progress.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asCSV, "csv", false, "Print CSV instead of a table.")
	return cmd
}

func (c *cli) timelineCmd() *cobra.Command {
	var order, out string
	cmd := &cobra.Command{
		Use:   "timeline JOB",
		Short: "Print or export the stage timeline as CSV.",
		Example: `  kpictl timeline job-42 --order chronological
  kpictl timeline job-42 --out reports/job-42-timeline.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.jobs(cmd.Context())
			if err != nil {
				return err
			}
			timeline, err := svc.Timeline(cmd.Context(), args[0], order)
			if err != nil {
				return err
			}
			if timeline.Empty {
				fmt.Fprintf(cmd.ErrOrStderr(), "no stages recorded for job %s\n", args[0])
			}

			if out == "" {
				return exporter.WriteTimeline(cmd.OutOrStdout(), timeline, false)
			}

			if err := exporter.WriteCSVFile(out, exporter.WriteOptions{
				Headers:   exporter.TimelineHeader,
				Records:   exporter.TimelineRecords(timeline),
				BOMPrefix: true,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d stages to %s\n", len(timeline.Entries), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&order, "order", "well", "Row order: well or chronological.")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write CSV to this file instead of stdout.")
	return cmd
}

func percent(ratio float64) string {
	return strconv.FormatFloat(ratio*100, 'f', 1, 64) + "%"
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"kpiledger/internal/services"
)

func (c *cli) uploadCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "upload JOB WELL WORKBOOK",
		Short: "Merge a well's KPI workbook into the job's stage log.",
		Long: `upload parses the KPI sheet of WORKBOOK and merges its stages into JOB
for WELL. Newer records overwrite older ones for the same stage; malformed
rows are skipped and reported.`,
		Example: "  kpictl upload job-42 A1 A1-kpi.xlsx",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, well, path := args[0], args[1], args[2]

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open workbook: %w", err)
			}
			defer f.Close()

			svc, err := c.jobs(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := svc.Upload(cmd.Context(), services.UploadRequest{
				JobID:    jobID,
				Well:     well,
				Filename: filepath.Base(path),
				Body:     f,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, resp)
			}
			fmt.Fprintln(out, resp.Message)
			for _, w := range resp.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w.Message)
			}
			fmt.Fprintf(out, "pad progress: %d/%d stages (%.1f%%)\n",
				resp.Pad.Completed, resp.Pad.Total, resp.Pad.Ratio*100)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full merge report as JSON.")
	return cmd
}

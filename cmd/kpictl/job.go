package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"kpiledger/internal/services"
)

func (c *cli) jobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Create, list and inspect jobs.",
	}
	cmd.AddCommand(c.jobCreateCmd(), c.jobListCmd(), c.jobShowCmd())
	return cmd
}

func (c *cli) jobCreateCmd() *cobra.Command {
	var (
		req  services.CreateJobRequest
		from string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job with its wells and planned stage counts.",
		Example: `  kpictl job create --id job-42 --operator "Acme Energy" --pad North --well A1=30 --well A2=28
  kpictl job create --from job.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if from != "" {
				fromFile, err := loadJobRequest(from)
				if err != nil {
					return err
				}
				req = mergeJobRequest(fromFile, req)
			}

			svc, err := c.jobs(cmd.Context())
			if err != nil {
				return err
			}
			job, err := svc.CreateJob(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created job %s (%d wells, %d stages)\n",
				job.ID, len(job.Wells), job.TotalStages())
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.ID, "id", "", "Job ID.")
	flags.StringVar(&req.Operator, "operator", "", "Operating company.")
	flags.StringVar(&req.Pad, "pad", "", "Pad name.")
	flags.StringToIntVar(&req.Wells, "well", nil, "Well and planned stage count as NAME=STAGES; repeatable.")
	flags.StringVar(&from, "from", "", "YAML file with id, operator, pad and wells; flags override it.")
	return cmd
}

func loadJobRequest(path string) (services.CreateJobRequest, error) {
	var req services.CreateJobRequest
	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("read job file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &req); err != nil {
		return req, fmt.Errorf("parse job file %s: %w", path, err)
	}
	return req, nil
}

// mergeJobRequest overlays the non-empty fields of flags onto base
func mergeJobRequest(base, flags services.CreateJobRequest) services.CreateJobRequest {
	if flags.ID != "" {
		base.ID = flags.ID
	}
	if flags.Operator != "" {
		base.Operator = flags.Operator
	}
	if flags.Pad != "" {
		base.Pad = flags.Pad
	}
	if len(flags.Wells) > 0 {
		if base.Wells == nil {
			base.Wells = make(map[string]int, len(flags.Wells))
		}
		for well, stages := range flags.Wells {
			base.Wells[well] = stages
		}
	}
	return base
}

func (c *cli) jobListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs with their recorded stage counts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.jobs(cmd.Context())
			if err != nil {
				return err
			}
			jobs, err := svc.ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					j.ID,
					j.Operator,
					j.Pad,
					strconv.Itoa(j.WellCount),
					strconv.Itoa(j.TotalStages),
					strconv.Itoa(j.Recorded),
					j.UpdatedAt.Local().Format(time.DateTime),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "OPERATOR", "PAD", "WELLS", "STAGES", "RECORDED", "UPDATED"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table.")
	return cmd
}

func (c *cli) jobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show JOB",
		Short: "Print a job's wells and pad progress as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.jobs(cmd.Context())
			if err != nil {
				return err
			}
			details, err := svc.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), details)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func printTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

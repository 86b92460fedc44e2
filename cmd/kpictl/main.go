// Command kpictl manages frac jobs and reconciles KPI stage-log workbooks
// against the configured job store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"kpiledger/internal/app"
	"kpiledger/internal/config"
	apierrors "kpiledger/internal/errors"
	"kpiledger/internal/infrastructure"
	"kpiledger/internal/middleware"
	"kpiledger/internal/services"
	"kpiledger/internal/storage"
)

// Exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitRejected    = 2
	exitNotFound    = 3
	exitUnavailable = 4
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cli holds the flags and the lazily opened store shared by all commands
type cli struct {
	configPath  string
	driver      string
	dataDir     string
	databaseURL string
	logLevel    string

	stdout io.Writer
	stderr io.Writer

	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Store
	service *services.JobService
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if closeErr := c.close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", describe(err))
		return exitCode(err)
	}
	return exitOK
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kpictl",
		Short: "Reconcile frac KPI stage logs into per-job ledgers.",
		Long: `kpictl creates jobs, uploads per-well KPI workbooks, and reports pad
progress and stage timelines from the configured job store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "Path to the YAML configuration file.")
	flags.StringVar(&c.driver, "store", "", "Job store driver: memory, file or postgres (overrides config).")
	flags.StringVar(&c.dataDir, "data-dir", "", "Directory of the file store (overrides config).")
	flags.StringVar(&c.databaseURL, "database-url", "", "Postgres connection URL (overrides config).")
	flags.StringVar(&c.logLevel, "log-level", "warn", "Log level: debug, info, warn or error.")

	root.AddCommand(
		c.jobCmd(),
		c.uploadCmd(),
		c.progressCmd(),
		c.timelineCmd(),
		c.templateCmd(),
		c.migrateCmd(),
		versionCmd(),
	)
	return root
}

// config loads the configuration once and applies flag overrides
func (c *cli) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.driver != "" {
		cfg.Storage.Driver = c.driver
	}
	if c.dataDir != "" {
		cfg.Storage.DataDir = c.dataDir
	}
	if c.databaseURL != "" {
		cfg.Storage.DatabaseURL = c.databaseURL
	}

	c.cfg = cfg
	c.logger = infrastructure.NewLogger(c.stderr, c.logLevel, false)
	return cfg, nil
}

// jobs opens the store and returns the job service on top of it
func (c *cli) jobs(ctx context.Context) (*services.JobService, error) {
	if c.service != nil {
		return c.service, nil
	}
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Driver == "" || cfg.Storage.Driver == storage.DriverMemory {
		c.logger.WarnContext(ctx, "memory store does not persist between kpictl runs; use --store file or postgres")
	}

	store, err := storage.Open(ctx, app.StoreOptions(cfg.Storage, c.logger))
	if err != nil {
		return nil, err
	}
	c.store = store
	c.service = services.NewJobService(store, services.JobServiceOptions{
		Ingest:       cfg.Ingest,
		StoreTimeout: cfg.Storage.Timeout,
		Validator:    middleware.NewValidator(),
		Logger:       c.logger,
	})
	return c.service, nil
}

func (c *cli) close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}

// exitCode maps an error onto the process exit status
func exitCode(err error) int {
	status := apierrors.ToProblem(err).Status
	switch {
	case status == http.StatusNotFound:
		return exitNotFound
	case status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return exitUnavailable
	case status >= 400 && status < 500:
		return exitRejected
	default:
		return exitFailure
	}
}

// describe spells out field-level validation failures
func describe(err error) string {
	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	details, ok := apiErr.Details.(apierrors.ValidationErrors)
	if !ok || len(details.Errors) == 0 {
		return err.Error()
	}
	msgs := make([]string, 0, len(details.Errors))
	for _, fe := range details.Errors {
		msgs = append(msgs, fe.Field+": "+fe.Message)
	}
	return apiErr.Message + ": " + strings.Join(msgs, "; ")
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kpictl version.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kpictl %s\n", app.Version)
		},
	}
}

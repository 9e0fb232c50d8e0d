// Package main provides the CLI entry point for the glacier albedo viewer.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tofunori/glacier-albedo-west-canada/internal/cli"
	"github.com/tofunori/glacier-albedo-west-canada/internal/config"
	"github.com/tofunori/glacier-albedo-west-canada/internal/factory"
	"github.com/tofunori/glacier-albedo-west-canada/internal/featureservice"
	"github.com/tofunori/glacier-albedo-west-canada/internal/filter"
	"github.com/tofunori/glacier-albedo-west-canada/internal/layer"
	"github.com/tofunori/glacier-albedo-west-canada/internal/logger"
	"github.com/tofunori/glacier-albedo-west-canada/internal/pathutil"
	"github.com/tofunori/glacier-albedo-west-canada/internal/registry"
	"github.com/tofunori/glacier-albedo-west-canada/internal/reportstore"
	"github.com/tofunori/glacier-albedo-west-canada/internal/scheduler"
	"github.com/tofunori/glacier-albedo-west-canada/internal/server"
	"github.com/tofunori/glacier-albedo-west-canada/internal/validation"
	"github.com/tofunori/glacier-albedo-west-canada/internal/view"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
)

// defaultBindTimeout bounds layer binding for one-shot commands.
const defaultBindTimeout = 30 * time.Second

var (
	// Build information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

type options struct {
	verbose   bool
	quiet     bool
	logFormat string
	logFile   string

	listen string

	threshold string
	year      string

	history string
	limit   int
}

func (o *options) output() cli.OutputOptions {
	return cli.OutputOptions{Verbose: o.verbose, Quiet: o.quiet}
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	logger.CloseLogFile()
	if err == nil {
		return ExitSuccess
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	// Cobra usage errors (unknown command, wrong arg count).
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitValidationError
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "albedomap",
		Short: "albedomap - Glacier albedo viewer for western Canada",
		Long: `albedomap serves glacier outlines and MODIS albedo points from ArcGIS
feature services, and filters the albedo points by threshold and year.

Examples:
  # Validate a viewer configuration
  albedomap validate viewer.yaml

  # Serve the viewer API
  albedomap serve viewer.yaml

  # Apply a filter once and count the matching points
  albedomap filter viewer.yaml --threshold 0.35 --year 2020

  # Check the remote services and keep a history
  albedomap check viewer.yaml --history history.db`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return configureLogging(opts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress non-error output")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "Log format: json or human")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Also write JSON logs to this file")

	root.AddCommand(
		newValidateCmd(opts),
		newServeCmd(opts),
		newFilterCmd(opts),
		newCheckCmd(opts),
		newHistoryCmd(opts),
		newVersionCmd(),
	)
	return root
}

func configureLogging(opts *options) error {
	level := slog.LevelInfo
	switch {
	case opts.verbose:
		level = slog.LevelDebug
	case opts.quiet:
		level = slog.LevelError
	}

	format, err := logger.ParseFormat(opts.logFormat)
	if err != nil {
		return exitWith(ExitValidationError, err)
	}

	if opts.logFile != "" {
		if err := logger.SetLogFile(opts.logFile, level, format); err != nil {
			return exitWith(ExitRuntimeError, err)
		}
		return nil
	}
	logger.SetLevelAndFormat(level, format)
	return nil
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a viewer configuration file",
		Long: `Validate a viewer configuration file against the schema.

Supports both JSON and YAML formats. The format is auto-detected
based on file extension (.json, .yaml, .yml) or content.

Exit codes:
  0 - Configuration is valid
  1 - Validation errors (schema violations)
  2 - Parse errors (invalid JSON/YAML syntax)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !opts.quiet {
				fmt.Fprintf(out, "Validating configuration: %s\n", args[0])
			}
			viewer, format, err := loadViewer(cmd, opts, args[0])
			if err != nil {
				return err
			}
			if !opts.quiet {
				fmt.Fprintf(out, "✓ Configuration is valid (format: %s)\n", format)
				if opts.verbose {
					cli.PrintViewerSummary(out, viewer)
				}
			}
			return nil
		},
	}
}

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <config-file>",
		Short: "Serve the viewer HTTP API",
		Long: `Load the configured layers, bind them to their feature sources and
serve the filter, layer and view API until interrupted.

Layers that fail to bind stay unavailable; /healthz reports them.

Exit codes:
  0 - Server stopped cleanly
  1 - Validation errors
  2 - Parse errors
  3 - Runtime errors`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer, _, err := loadViewer(cmd, opts, args[0])
			if err != nil {
				return err
			}
			if opts.listen != "" {
				viewer.Server.ListenAddress = opts.listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session, controller, bindErr := openSession(ctx, viewer, args[0])
			srv := server.New(viewer, session, controller, view.New(viewer.Map, viewer.Layers))

			jobs, err := newServeScheduler(opts, viewer, args[0], session, bindErr)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ Scheduling background jobs failed: %v\n", err)
				return exitWith(ExitRuntimeError, err)
			}
			if len(jobs.Jobs()) > 0 {
				if err := jobs.Start(ctx); err != nil {
					return exitWith(ExitRuntimeError, err)
				}
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), jobsStopTimeout)
					defer cancel()
					if err := jobs.Stop(stopCtx); err != nil {
						logger.Warn("background jobs did not stop in time", "error", err.Error())
					}
				}()
			}
			if !opts.quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s\n", viewer.Name, viewer.Server.ListenAddress)
			}
			if err := srv.Start(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ Server failed: %v\n", err)
				return exitWith(ExitRuntimeError, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", "", "Override the configured listen address")
	cmd.Flags().StringVar(&opts.history, "history", "", "SQLite file scheduled check reports are appended to")
	return cmd
}

func newFilterCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter <config-file>",
		Short: "Apply an albedo filter once and count matching features",
		Long: `Build the predicate for a threshold and year, apply it to the albedo
layer and print the expression with the number of matching features.

Exit codes:
  0 - Filter applied
  1 - Invalid threshold or unsupported year
  2 - Parse errors
  3 - Layer unavailable or filter rejected`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer, _, err := loadViewer(cmd, opts, args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultBindTimeout)
			defer cancel()
			session, controller, _ := openSession(ctx, viewer, args[0])

			threshold := controller.Defaults().Threshold
			if opts.threshold != "" {
				threshold = filter.ParseThreshold(opts.threshold)
			}
			active, err := controller.Apply(albedo.FilterSelection{Threshold: threshold, YearToken: opts.year})
			if err != nil {
				cli.PrintFilterError(cmd.ErrOrStderr(), err)
				switch filter.Kind(err) {
				case "InvalidThreshold", "UnsupportedYear":
					return exitWith(ExitValidationError, err)
				default:
					return exitWith(ExitRuntimeError, err)
				}
			}

			target, _ := session.Get(controller.Config().Target)
			fs, err := target.Query(ctx, layer.QueryOptions{CountOnly: true})
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ Counting features failed: %v\n", err)
				return exitWith(ExitRuntimeError, err)
			}
			cli.PrintFilterResult(cmd.OutOrStdout(), active, fs.Count, opts.output())
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.threshold, "threshold", "", "Albedo threshold (default: configured default threshold)")
	cmd.Flags().StringVar(&opts.year, "year", albedo.YearAll, `Year token: "all" or a supported year`)
	return cmd
}

func newCheckCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <config-file>",
		Short: "Check the glacier and albedo feature services",
		Long: `Run the service checks (metadata, sample queries, data quality and
performance) against the configured feature services and print a report.
With --history, or validation.historyPath in the configuration, the report
is appended to a SQLite history file.

Exit codes:
  0 - All checks passed
  1 - One or more checks failed
  2 - Parse errors
  3 - Runtime errors`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer, _, err := loadViewer(cmd, opts, args[0])
			if err != nil {
				return err
			}

			client := featureservice.NewClient(featureservice.FromErrorHandling(viewer.ErrorHandling)...)
			v := validation.New(viewer.Validation, client, validation.TargetsFromViewer(viewer))
			report, err := v.Run(cmd.Context())
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ Validation interrupted: %v\n", err)
				return exitWith(ExitRuntimeError, err)
			}
			cli.PrintReport(cmd.OutOrStdout(), report, opts.output())

			if path, err := historyPath(opts, viewer, args[0]); err != nil {
				return exitWith(ExitRuntimeError, err)
			} else if path != "" {
				if err := saveReport(cmd.Context(), path, report); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "✗ Saving report failed: %v\n", err)
					return exitWith(ExitRuntimeError, err)
				}
				if !opts.quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "  Report saved to %s\n", path)
				}
			}

			if !report.Passed() {
				return exitWith(ExitValidationError, nil)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.history, "history", "", "SQLite file to append the report to")
	return cmd
}

func newHistoryCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <config-file>",
		Short: "List stored service check reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer, _, err := loadViewer(cmd, opts, args[0])
			if err != nil {
				return err
			}
			path, err := historyPath(opts, viewer, args[0])
			if err != nil {
				return exitWith(ExitRuntimeError, err)
			}
			if path == "" {
				err := errors.New("no history file: pass --history or set validation.historyPath")
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ %v\n", err)
				return exitWith(ExitValidationError, err)
			}

			store, err := reportstore.Open(cmd.Context(), path)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ %v\n", err)
				return exitWith(ExitRuntimeError, err)
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), opts.limit)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ %v\n", err)
				return exitWith(ExitRuntimeError, err)
			}
			cli.PrintHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.history, "history", "", "SQLite history file")
	cmd.Flags().IntVar(&opts.limit, "limit", reportstore.DefaultListLimit, "Maximum number of runs to list")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version, commit hash, and build date information.",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// loadViewer parses, validates and converts a configuration file, printing
// errors and mapping them to exit codes.
func loadViewer(cmd *cobra.Command, opts *options, path string) (*albedo.Viewer, string, error) {
	result := config.ParseConfig(path)
	if len(result.ParseErrors) > 0 {
		cli.PrintParseErrors(cmd.ErrOrStderr(), result.ParseErrors, opts.verbose)
		return nil, "", exitWith(ExitParseError, result.ParseErrors[0])
	}
	if len(result.ValidationErrors) > 0 {
		cli.PrintValidationErrors(cmd.ErrOrStderr(), result.ValidationErrors, opts.verbose, opts.quiet)
		return nil, "", exitWith(ExitValidationError, result.ValidationErrors[0])
	}

	viewer, err := config.ConvertToViewer(result.Data)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "✗ Failed to convert configuration: %v\n", err)
		return nil, "", exitWith(ExitValidationError, err)
	}
	return viewer, result.Format, nil
}

// openSession builds and binds every layer. Layers that fail stay in the
// session as unavailable; the failures are already logged and the bind
// error is returned for the caller to decide on a retry.
func openSession(ctx context.Context, viewer *albedo.Viewer, configPath string) (*layer.Session, *filter.Controller, error) {
	env := registry.Env{BaseDir: filepath.Dir(configPath), ErrorHandling: viewer.ErrorHandling}
	session, err := factory.BuildSession(viewer, env)
	if err != nil {
		logger.Warn("some layers could not be built", "error", err.Error())
	}
	bindErr := session.BindAll(ctx)
	if bindErr != nil {
		logger.Warn("some layers could not be bound", "pending", session.Pending())
	}
	return session, filter.NewController(viewer.Filter, session), bindErr
}

// historyPath resolves the history file from the flag or the configuration,
// relative to the configuration file.
func historyPath(opts *options, viewer *albedo.Viewer, configPath string) (string, error) {
	path := opts.history
	if path == "" {
		path = viewer.Validation.HistoryPath
	}
	if path == "" {
		return "", nil
	}
	return pathutil.Resolve(filepath.Dir(configPath), path)
}

const (
	// layerRebindInterval spaces retries of layers whose first bind failed
	// with a transient error.
	layerRebindInterval = time.Minute

	jobsStopTimeout = 10 * time.Second
)

// newServeScheduler registers the background jobs of serve: the service
// checks when validation has a schedule, and layer re-binding when the
// first bind failed in a way a retry can fix.
func newServeScheduler(opts *options, viewer *albedo.Viewer, configPath string, session *layer.Session, bindErr error) (*scheduler.Scheduler, error) {
	jobs := scheduler.New()
	if schedule := viewer.Validation.CheckSchedule(); schedule != "" {
		if err := registerServiceCheck(jobs, opts, viewer, configPath, schedule); err != nil {
			return nil, err
		}
	}
	if layer.ShouldRebind(bindErr) {
		err := jobs.Register("layer-bind", scheduler.Every(layerRebindInterval), func(ctx context.Context) error {
			if len(session.Pending()) == 0 {
				return nil
			}
			if err := session.BindAll(ctx); err != nil {
				return err
			}
			logger.Info("pending layers bound", "layers", session.Names())
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// registerServiceCheck runs the service checks on schedule and appends each
// report to the history file when one is configured.
func registerServiceCheck(jobs *scheduler.Scheduler, opts *options, viewer *albedo.Viewer, configPath, schedule string) error {
	path, err := historyPath(opts, viewer, configPath)
	if err != nil {
		return err
	}
	client := featureservice.NewClient(featureservice.FromErrorHandling(viewer.ErrorHandling)...)
	v := validation.New(viewer.Validation, client, validation.TargetsFromViewer(viewer))

	return jobs.Register("service-check", schedule, func(ctx context.Context) error {
		report, err := v.Run(ctx)
		if err != nil {
			return err
		}
		s := report.Summary()
		logger.Info("service check completed", "checks", s.Checks, "failed", s.Failed, "duration", report.Duration)
		if path != "" {
			if err := saveReport(ctx, path, report); err != nil {
				return err
			}
		}
		if !report.Passed() {
			return fmt.Errorf("%d of %d service checks failed", s.Failed, s.Checks)
		}
		return nil
	}, scheduler.RunImmediately())
}

func saveReport(ctx context.Context, path string, report *validation.Report) error {
	store, err := reportstore.Open(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()
	id, err := store.Save(ctx, report)
	if err != nil {
		return err
	}
	logger.Info("validation report saved", "path", path, "run_id", id)
	return nil
}

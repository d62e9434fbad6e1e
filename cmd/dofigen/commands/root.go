package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dofigen/dofigen/pkg/dofigen"
	"github.com/dofigen/dofigen/pkg/telemetry"
)

// app holds the global flags and the telemetry of one invocation.
type app struct {
	version   string
	commit    string
	buildDate string

	logLevel      string
	logFormat     string
	traceExporter string
	otlpEndpoint  string
	metricsFile   string
	offline       bool

	tel *telemetry.Telemetry
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	a := &app{version: version, commit: commit, buildDate: buildDate}
	rootCmd := newRootCommand(a)
	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, a.shutdown())
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dofigen",
		Short: "Dofigen - Dockerfile generator",
		Long: `Dofigen generates multi-stage Dockerfiles from a simplified description.

Features:
  - YAML, JSON, CUE and Starlark descriptions
  - Composition of descriptions with extend, from files or URLs
  - Builder dependency linting and Rego policies
  - Reproducible builds with a lock file pinning image digests
  - Dockerfile to description conversion`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", a.version, a.commit, a.buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	defaultLevel := os.Getenv("LOG_LEVEL")
	if defaultLevel == "" {
		defaultLevel = "info"
	}
	defaultOffline, _ := strconv.ParseBool(os.Getenv("DOFIGEN_OFFLINE"))

	// Persistent flags available to all commands
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", defaultLevel, "log level (trace, debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "console", "log format (console, json)")
	flags.StringVar(&a.traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	flags.StringVar(&a.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector endpoint")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	flags.BoolVar(&a.offline, "offline", defaultOffline, "never access the network ($DOFIGEN_OFFLINE)")

	rootCmd.AddCommand(newGenerateCommand(a))
	rootCmd.AddCommand(newUpdateCommand(a))
	rootCmd.AddCommand(newEffectiveCommand(a))
	rootCmd.AddCommand(newLintCommand(a))
	rootCmd.AddCommand(newParseCommand(a))
	rootCmd.AddCommand(newVersionCommand(a))

	return rootCmd
}

// setup creates the telemetry of the invocation from the global flags.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = a.version
	cfg.Logging.Level = a.logLevel
	cfg.Logging.Format = a.logFormat
	cfg.Tracing.Exporter = a.traceExporter
	cfg.Tracing.Enabled = a.traceExporter != "none"
	cfg.Tracing.Endpoint = a.otlpEndpoint
	cfg.Metrics.TextFile = a.metricsFile

	logger := telemetry.NewLoggerWithWriter(cfg.Logging, cmd.ErrOrStderr())
	tel, err := telemetry.NewTelemetryWithLogger(cfg, logger)
	if err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	a.tel = tel
	cmd.SetContext(tel.WithContext(cmd.Context()))
	return nil
}

func (a *app) shutdown() error {
	if a.tel == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.tel.Config.Tracing.ExportTimeout)
	defer cancel()
	return a.tel.Shutdown(ctx)
}

// newContext creates the facade of one run.
func (a *app) newContext(cmd *cobra.Command, opts dofigen.Options, lf *lockState) (*dofigen.Context, error) {
	opts.Offline = opts.Offline || a.offline
	cfg := dofigen.Config{Options: opts, Telemetry: a.tel}
	if lf != nil {
		cfg.Lock = lf.file
	}
	return dofigen.New(cmd.Context(), cfg)
}

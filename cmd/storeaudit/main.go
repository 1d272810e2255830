// storeaudit reports how the control plane's objects occupy its key-value store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/storeaudit/storeaudit/internal/audit"
	"github.com/storeaudit/storeaudit/internal/config"
	"github.com/storeaudit/storeaudit/internal/kube"
	"github.com/storeaudit/storeaudit/internal/metrics"
	"github.com/storeaudit/storeaudit/internal/report"
	"golang.org/x/term"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string

	sizeFlag     bool
	allFlag      bool
	exactFlag    string
	forensicFlag bool
	yesFlag      bool
	topFlag      int
	outputFlag   string
	metricsFile  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "storeaudit",
		Short: "Audit how cluster objects occupy the etcd key-value store",
		Long: `storeaudit compares the object counts reported by the control plane with the
bytes those objects occupy in etcd, and flags fragmented storage endpoints.
Every read is sequential and read-only.

MODES (the most specific one wins):

  # Object counts per resource kind and endpoint fragmentation
  storeaudit

  # Add an API-based size estimate for the listed kinds
  storeaudit --size [--all]

  # Exact stored size of one resource kind
  storeaudit --exact secrets

  # Exact size of every kind, throttled, with a typed acknowledgment
  storeaudit --forensic

Export the results for the node exporter's textfile collector with
--metrics-file /var/lib/node_exporter/textfile/storeaudit.prom`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			return defaultApp().run(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.storeaudit/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	rootCmd.Flags().BoolVar(&sizeFlag, "size", false, "estimate the size of the listed resource kinds through the API")
	rootCmd.Flags().BoolVar(&allFlag, "all", false, "list every resource kind instead of the top N")
	rootCmd.Flags().StringVar(&exactFlag, "exact", "", "measure the exact stored size of one resource kind")
	rootCmd.Flags().BoolVar(&forensicFlag, "forensic", false, "measure the exact stored size of every resource kind")
	rootCmd.Flags().BoolVarP(&yesFlag, "yes", "y", false, "skip confirmations (never skips the forensic acknowledgment)")
	rootCmd.Flags().IntVar(&topFlag, "top", 0, "number of resource kinds to list (default from config)")
	rootCmd.Flags().StringVarP(&outputFlag, "output", "o", config.OutputTable, "output format: table or json")
	rootCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write results as Prometheus metrics to this file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("storeaudit %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newInitCmd())

	return rootCmd
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	// Console only; the action trail logs at its own level.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}

// buildOptions turns the parsed flags into the immutable run options.
func buildOptions() config.Options {
	return config.Options{
		Mode: config.ResolveMode(config.ModeFlags{
			Size:     sizeFlag,
			Exact:    exactFlag,
			Forensic: forensicFlag,
		}),
		Resource:    exactFlag,
		Top:         topFlag,
		ShowAll:     allFlag,
		SkipConfirm: yesFlag,
		Output:      outputFlag,
		MetricsFile: metricsFile,
	}
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// app holds the process boundaries of one run so tests can replace them.
type app struct {
	runner      kube.Runner
	sleeper     audit.Sleeper
	in          io.Reader
	out         io.Writer
	errOut      io.Writer
	interactive func() bool
}

func defaultApp() *app {
	return &app{
		runner:  kube.ExecRunner{},
		sleeper: audit.TimerSleeper{},
		in:      os.Stdin,
		out:     os.Stdout,
		errOut:  os.Stderr,
		interactive: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
}

func (a *app) run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := buildOptions()
	if err := opts.Validate(); err != nil {
		return err
	}

	runID := uuid.NewString()
	log.Logger = log.With().Str("run_id", runID).Logger()

	actions, closeTrail, err := openTrail(cfg.Trail, runID)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeTrail(); err != nil {
			log.Warn().Err(err).Msg("action trail incomplete")
		}
	}()

	client := kube.New(cfg, a.runner)
	user, err := client.WhoAmI(ctx)
	if err != nil {
		err = fmt.Errorf("%s unreachable or session expired: %w", audit.SystemAPI, err)
		actions.LogResult(err)
		return err
	}
	log.Info().Str("user", user).Str("cli", cfg.Kubectl).Msg("session verified")
	actions.LogSession(user, cfg.Kubectl, string(opts.Mode), opts.SkipConfirm)

	recorders := audit.Recorders{actions}
	if opts.MetricsFile != "" {
		recorders = append(recorders, metrics.InitMetrics(runID, string(opts.Mode), Version))
	}

	auditor := &audit.Auditor{
		Config:   cfg,
		Metrics:  client,
		API:      client,
		Storage:  client,
		Prompter: actions.Prompter(&audit.LinePrompter{
			In:          a.in,
			Out:         a.errOut,
			Interactive: a.interactive,
		}),
		Sleeper:  a.sleeper,
		Recorder: recorders,
		RunID:    runID,
	}

	// Forensic tables are printed row by row while the scan runs.
	streaming := opts.Mode == config.ModeForensic && opts.Output != config.OutputJSON
	if streaming {
		stream := report.NewForensicStream(a.out)
		headed := false
		auditor.OnForensicRow = func(row audit.ForensicRow) {
			if !headed {
				stream.Header()
				headed = true
			}
			stream.Row(row)
		}
	}

	rep, runErr := auditor.Run(ctx, opts)
	actions.LogResult(runErr)
	if errors.Is(runErr, audit.ErrNotConfirmed) {
		_, _ = fmt.Fprintf(a.errOut, "Aborted: %v. No bulk read was issued.\n", runErr)
		return nil
	}

	if rep != nil {
		switch {
		case !streaming:
			if err := report.Render(a.out, rep, opts.Output); err != nil {
				return err
			}
		case rep.Scan != nil:
			report.ScanSummary(a.out, rep.Scan)
		}
		if opts.MetricsFile != "" {
			if err := metrics.WriteTextfile(opts.MetricsFile); err != nil {
				return err
			}
			log.Info().Str("path", opts.MetricsFile).Msg("metrics written")
		}
	}

	return runErr
}

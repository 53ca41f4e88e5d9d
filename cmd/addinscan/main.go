package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/addinscan/addinscan/internal/config"
	"github.com/addinscan/addinscan/internal/launcher"
	"github.com/addinscan/addinscan/internal/output"
	"github.com/addinscan/addinscan/internal/progress"
	"github.com/addinscan/addinscan/internal/registry"
	"github.com/addinscan/addinscan/internal/registry/manifest"
	"github.com/addinscan/addinscan/internal/scanner"
	"github.com/addinscan/addinscan/internal/worker"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	cfgFile   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// The worker role never reaches cobra: its arguments and stdout belong
	// to the line protocol.
	if launcher.IsWorker(os.Args) {
		code := worker.Main(ctx, launcher.WorkerArgs(os.Args), os.Stdin, os.Stdout, manifest.Open)
		stop()
		os.Exit(code)
	}

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		output.PrintFailure(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "addinscan",
		Short: "Out-of-process add-in registry scanner",
		Long: `addinscan maintains an add-in registry by scanning add-in manifests.

Every registry operation runs in a separate worker process so that a
misbehaving add-in cannot take the host down. Worker progress is streamed
back and reported as it happens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.config/addinscan/config.yaml)")
	flags.String("registry", "", "Registry path")
	flags.String("startup-dir", "", "Application startup directory (default: working directory)")
	flags.String("addins-dir", "", "Add-ins directory (default: <registry>/addins)")
	flags.String("database-dir", "", "Add-in database directory (default: <registry>/db)")
	flags.Duration("timeout", 0, "Worker timeout (default: 10m)")
	flags.IntP("verbosity", "v", 1, "Verbosity: 0 silent, 1 normal, 2 verbose, 3 debug")
	flags.Bool("temp-image", false, "Run workers from a temporary copy of the executable")
	flags.String("metrics-file", "", "Write worker metrics in Prometheus text format to this file")
	flags.Bool("json", false, "Output as JSON (for automation)")
	flags.BoolP("quiet", "q", false, "Suppress progress output")

	viper.BindPFlag("registry.path", flags.Lookup("registry"))
	viper.BindPFlag("registry.startup_dir", flags.Lookup("startup-dir"))
	viper.BindPFlag("registry.addins_dir", flags.Lookup("addins-dir"))
	viper.BindPFlag("registry.database_dir", flags.Lookup("database-dir"))
	viper.BindPFlag("worker.timeout", flags.Lookup("timeout"))
	viper.BindPFlag("worker.temp_image", flags.Lookup("temp-image"))
	viper.BindPFlag("log.verbosity", flags.Lookup("verbosity"))

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(cfgFile); err != nil {
			return err
		}
		return config.Get().Validate()
	}

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newPreScanCmd())
	rootCmd.AddCommand(newDescribeCmd())
	rootCmd.AddCommand(newWorkersCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [folder] [flags]",
		Short: "Scan a folder for add-ins and update the registry",
		Long:  `Scan a folder, or the registry's add-ins directory when none is given, and register every add-in found.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  runScan,
	}
	cmd.Flags().Bool("clean", false, "Remove generated scan data before scanning")
	cmd.Flags().StringArray("ignore", nil, "File or glob to ignore (repeatable)")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	sess, err := newSession(cmd)
	if err != nil {
		return err
	}

	var folder string
	if len(args) > 0 {
		folder = args[0]
	}
	clean, _ := cmd.Flags().GetBool("clean")
	ignore, _ := cmd.Flags().GetStringArray("ignore")

	outcome, err := sess.orchestrator.Scan(cmd.Context(), sess.status, sess.loc, folder, registry.ScanOptions{
		CleanGeneratedScanData: clean,
		FilesToIgnore:          ignore,
	})
	return sess.report(cmd, outcome, err)
}

func newPreScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pre-scan <folder> [flags]",
		Short: "Generate scan data files for the add-ins in a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runPreScan,
	}
	cmd.Flags().BoolP("recursive", "r", false, "Include subfolders")
	return cmd
}

func runPreScan(cmd *cobra.Command, args []string) error {
	sess, err := newSession(cmd)
	if err != nil {
		return err
	}

	recursive, _ := cmd.Flags().GetBool("recursive")
	outcome, err := sess.orchestrator.GenerateScanDataFiles(cmd.Context(), sess.status, sess.loc, args[0], recursive)
	return sess.report(cmd, outcome, err)
}

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <file> <out>",
		Short: "Parse an add-in manifest and write its description",
		Args:  cobra.ExactArgs(2),
		RunE:  runDescribe,
	}
}

func runDescribe(cmd *cobra.Command, args []string) error {
	sess, err := newSession(cmd)
	if err != nil {
		return err
	}

	outcome, err := sess.orchestrator.GetAddinDescription(cmd.Context(), sess.status, sess.loc, args[0], args[1])
	if err == nil && !sess.json && !sess.quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Description written to %s\n", args[1])
	}
	return sess.report(cmd, outcome, err)
}

func newWorkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers [flags]",
		Short: "List running scan workers",
		Long:  `List scan worker processes on this machine. Workers whose host has exited are shown as orphaned.`,
		Args:  cobra.NoArgs,
		RunE:  runWorkers,
	}
	cmd.Flags().Bool("kill-orphans", false, "Kill orphaned workers")
	return cmd
}

func runWorkers(cmd *cobra.Command, args []string) error {
	workers, err := launcher.FindWorkers(cmd.Context())
	if err != nil {
		return err
	}

	killOrphans, _ := cmd.Flags().GetBool("kill-orphans")
	if killOrphans {
		for _, w := range workers {
			if !w.Orphaned {
				continue
			}
			if err := launcher.KillWorker(cmd.Context(), w.PID); err != nil {
				slog.Warn("failed to kill orphaned worker", "pid", w.PID, "error", err)
				continue
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Killed orphaned worker %d (%s)\n", w.PID, w.Command)
		}
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		if workers == nil {
			workers = []launcher.WorkerProcess{}
		}
		data, err := json.MarshalIndent(workers, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	output.PrintWorkers(cmd.OutOrStdout(), workers)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "addinscan version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Build time: %s\n", BuildTime)
		},
	}
}

// session is what every registry command needs: resolved locations, a host
// logger and status, and an orchestrator configured from flags and config.
type session struct {
	loc          registry.Locations
	level        progress.Level
	status       progress.Status
	orchestrator *scanner.Orchestrator
	metrics      *prometheus.Registry
	metricsFile  string
	json         bool
	quiet        bool
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg := config.Get()

	s := &session{metrics: prometheus.NewRegistry()}
	s.json, _ = cmd.Flags().GetBool("json")
	s.quiet, _ = cmd.Flags().GetBool("quiet")
	s.metricsFile, _ = cmd.Flags().GetString("metrics-file")

	s.level = progress.Clamp(cfg.Log.Verbosity)
	if s.quiet {
		s.level = progress.Silent
	}

	logger := newLogger(cfg.Log.Format, s.level)
	slog.SetDefault(logger)

	if cfg.Log.Format == "json" {
		s.status = progress.NewLogger(logger, s.level)
	} else {
		s.status = progress.NewConsole(cmd.ErrOrStderr(), s.level)
	}

	loc, err := cfg.Locations()
	if err != nil {
		return nil, err
	}
	s.loc = loc

	// Directory setup is host-only; workers refuse to create the registry.
	reg, err := manifest.Open(loc, registry.OpenOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	if err := reg.Close(); err != nil {
		return nil, err
	}

	var src launcher.ImageSource = launcher.SelfImage{}
	if cfg.Worker.TempImage {
		src = launcher.TempCopy{Dir: cfg.Worker.ImageDir}
	}
	s.orchestrator = scanner.New(
		scanner.WithLauncher(launcher.New(launcher.WithImageSource(src), launcher.WithLogger(logger))),
		scanner.WithLogger(logger),
		scanner.WithMetrics(scanner.NewMetrics(s.metrics)),
		scanner.WithTimeout(cfg.Worker.Timeout),
		scanner.WithKillGrace(cfg.Worker.KillGrace),
	)
	return s, nil
}

func newLogger(format string, level progress.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level.SlogLevel()}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func (s *session) report(cmd *cobra.Command, outcome *scanner.Outcome, err error) error {
	if s.metricsFile != "" {
		if werr := prometheus.WriteToTextfile(s.metricsFile, s.metrics); werr != nil {
			slog.Warn("failed to write metrics", "path", s.metricsFile, "error", werr)
		}
	}

	if s.json {
		if outcome != nil {
			if jerr := output.PrintJSON(cmd.OutOrStdout(), []*scanner.Outcome{outcome}); jerr != nil && err == nil {
				err = jerr
			}
		}
		return err
	}
	if err != nil {
		return err
	}

	if !s.quiet {
		output.PrintTable(cmd.OutOrStdout(), outcome)
		if s.level >= progress.Verbose {
			output.PrintLog(cmd.OutOrStdout(), outcome.Log)
		}
	}
	return nil
}

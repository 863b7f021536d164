package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/aware-sync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that must run without a valid
// config file.
const skipConfigAnnotation = "skip-config"

// logFileMaxSizeMB is the size at which lumberjack rotates the log file.
const logFileMaxSizeMB = 50

// CLIFlags holds the persistent flags.
type CLIFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
	JSON       bool
}

// CLIContext carries everything a subcommand needs: parsed flags, the
// resolved config and the logger built from both.
type CLIContext struct {
	Flags  CLIFlags
	Env    config.EnvOverrides
	CLI    config.CLIOverrides
	Cfg    *config.Config
	Logger *slog.Logger

	logCloser io.Closer
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

func cliContextFrom(ctx context.Context) *CLIContext {
	if ctx == nil {
		return nil
	}

	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// mustCLIContext returns the CLIContext installed by the root pre-run.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in command context")
	}

	return cc
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:   "aware-sync",
		Short: "Upload AWARE sensor data to a study server",
		Long: `aware-sync uploads records from the local AWARE database to an AWARE
study server in batches, resuming where the last run stopped.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, flags, os.Stderr)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cc := cliContextFrom(cmd.Context()); cc != nil && cc.logCloser != nil {
				return cc.logCloser.Close()
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves the config through the four-layer override chain
// and builds the logger. Commands annotated with skipConfigAnnotation fall
// back to defaults when the config file is broken.
func newCLIContext(cmd *cobra.Command, flags CLIFlags, stderr io.Writer) (*CLIContext, error) {
	cc := &CLIContext{
		Flags: flags,
		Env:   config.ReadEnvOverrides(),
		CLI:   cliOverrides(cmd, flags),
	}

	cfg, err := config.Resolve(cc.Env, cc.CLI)
	if err != nil {
		if cmd.Annotations[skipConfigAnnotation] != "true" {
			return nil, fmt.Errorf("loading config: %w", err)
		}

		cfg = config.ResolvedDefaults()
	}

	cc.Cfg = cfg

	logger, closer := buildLogger(&cfg.Logging, flags, stderr)
	cc.Logger = logger
	cc.logCloser = closer

	return cc, nil
}

// cliOverrides collects the flags that feed the config's CLI layer. Only
// flags the user actually set take part.
func cliOverrides(cmd *cobra.Command, flags CLIFlags) config.CLIOverrides {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}
	fs := cmd.Flags()

	if f := fs.Lookup("host"); f != nil && f.Changed {
		host := f.Value.String()
		cli.Host = &host
	}

	if f := fs.Lookup("dry-run"); f != nil && f.Changed {
		dryRun, _ := fs.GetBool("dry-run")
		cli.DryRun = &dryRun
	}

	if f := fs.Lookup("collection"); f != nil && f.Changed {
		cli.Collections, _ = fs.GetStringSlice("collection")
	}

	return cli
}

// buildLogger creates the process logger. The config file's level is the
// baseline; --verbose and --quiet override it because CLI flags always win.
// With a log_file, output goes to a lumberjack-rotated file instead of
// stderr.
func buildLogger(cfg *config.LoggingConfig, flags CLIFlags, stderr io.Writer) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	var (
		out    = stderr
		closer io.Closer
	)

	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename: cfg.LogFile,
			MaxSize:  logFileMaxSizeMB,
			MaxAge:   cfg.LogRetentionDays,
			Compress: true,
		}

		out, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler

	switch cfg.LogFormat {
	case "json":
		h = slog.NewJSONHandler(out, opts)
	case "text":
		h = slog.NewTextHandler(out, opts)
	default:
		// auto: text for a human at a terminal, JSON for files and pipes.
		if isTerminal(out) {
			h = slog.NewTextHandler(out, opts)
		} else {
			h = slog.NewJSONHandler(out, opts)
		}
	}

	return slog.New(h), closer
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitCoder is implemented by errors that choose the process exit code.
type exitCoder interface {
	ExitCode() int
}

// exitCode maps err to the process exit code.
func exitCode(err error) int {
	var ec exitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}

	return 1
}

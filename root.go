package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/photoframe-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// logFilePerms keeps log files private: they can contain session IDs.
const logFilePerms = 0o600

// CLIFlags is the snapshot of persistent flags a command runs with.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries the resolved configuration and logger into every
// subcommand through the command context.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger

	closeLog func()
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext installed by the root pre-run. It
// panics when called outside a command, which is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "photoframe-go",
		Short:   "Google Photos picker slideshow backend",
		Long:    "Serves photos picked through the Google Photos Picker API to a slideshow display.",
		Version: version,
		// Silence Cobra's default error/usage printing; main prints errors.
		SilenceErrors:      true,
		SilenceUsage:       true,
		PersistentPreRunE:  setupCLIContext,
		PersistentPostRunE: teardownCLIContext,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newCacheCmd())

	return cmd
}

// setupCLIContext resolves the effective configuration from the four-layer
// override chain and installs the CLIContext for subcommands.
func setupCLIContext(cmd *cobra.Command, _ []string) error {
	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		v := f.Value.String()
		cli.ListenAddr = &v
	}

	cli.LogLevel = levelOverride(flags)

	env, err := config.ReadEnvOverrides()
	if err != nil {
		return err
	}

	cfg, cfgPath, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog, err := buildLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	logger.Debug("config resolved", slog.String("config_path", cfgPath))

	cc := &CLIContext{
		Flags:    flags,
		Cfg:      cfg,
		CfgPath:  cfgPath,
		Logger:   logger,
		closeLog: closeLog,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

func teardownCLIContext(cmd *cobra.Command, _ []string) error {
	if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok && cc.closeLog != nil {
		cc.closeLog()
	}

	return nil
}

// levelOverride maps --verbose and --quiet to a log level override. CLI
// flags always win over the config file.
func levelOverride(flags CLIFlags) *string {
	var level string

	switch {
	case flags.Verbose:
		level = "debug"
	case flags.Quiet:
		level = "error"
	default:
		return nil
	}

	return &level
}

// buildLogger creates the process logger from the logging config. Output
// goes to logging.log_file when set, otherwise to stderr. The "auto" format
// is text on a terminal and JSON everywhere else.
func buildLogger(cfg *config.Config, stderr *os.File) (*slog.Logger, func(), error) {
	level, err := config.ParseLogLevel(cfg.Logging.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	var (
		out      io.Writer = stderr
		terminal           = isTerminal(stderr)
		closeFn            = func() {}
	)

	if cfg.Logging.LogFile != "" {
		f, err := os.OpenFile(cfg.Logging.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerms)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}

		out = f
		terminal = false
		closeFn = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler

	switch cfg.Logging.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		if terminal {
			handler = slog.NewTextHandler(out, opts)
		} else {
			handler = slog.NewJSONHandler(out, opts)
		}
	}

	return slog.New(handler), closeFn, nil
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// Package main is the entry point for the garden CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mindgarden-dev/garden/internal/buildinfo"
	clierrors "github.com/mindgarden-dev/garden/internal/errors"
	"github.com/mindgarden-dev/garden/internal/observability"
	"github.com/mindgarden-dev/garden/internal/output"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	// A panic mid-spinner or mid-TUI must not leave the cursor hidden.
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprint(os.Stderr, "\033[?25h")
			panic(r)
		}
	}()

	buildinfo.Version = version
	buildinfo.Commit = commit
	buildinfo.Date = date

	out := output.Default()

	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		return handleError(out, err)
	}

	return 0
}

// usageErrorPrefixes are cobra errors that mean the command line was wrong.
var usageErrorPrefixes = []string{"unknown command", "unknown flag", "unknown shorthand flag"}

// handleError prints err and returns the exit code for it.
func handleError(out *output.Writer, err error) int {
	var cliErr *clierrors.CLIError
	if clierrors.As(err, &cliErr) {
		out.Failure("%s", cliErr.Message)

		if cliErr.Hint != "" {
			out.Info("%s", cliErr.Hint)
		}

		return cliErr.Code
	}

	msg := err.Error()
	out.Failure("%s", msg)

	usage := strings.Contains(msg, "required flag")
	for _, prefix := range usageErrorPrefixes {
		usage = usage || strings.HasPrefix(msg, prefix)
	}

	if !usage {
		return clierrors.ExitGeneral
	}

	// Cobra already appends a help pointer to unknown-command errors.
	if !strings.Contains(msg, "--help") {
		out.Info("Run 'garden --help' for usage")
	}

	return clierrors.ExitUsage
}

// rootFlags are the persistent flags every command inherits.
type rootFlags struct {
	json      bool
	quiet     bool
	noColor   bool
	noInput   bool
	apiURL    string
	logLevel  string
	logFormat string
	logFile   string
	logStderr string
}

func (f *rootFlags) register(fs *pflag.FlagSet) {
	fs.BoolVar(&f.json, "json", false, "Output in JSON format")
	fs.BoolVar(&f.quiet, "quiet", false, "Minimal output (for CI)")
	fs.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&f.noInput, "no-input", false, "Disable interactive prompts")
	fs.StringVar(&f.apiURL, "api-url", "", "Override the MindGarden API URL for this run")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: error, warn, info, debug")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: json, text")
	fs.StringVar(&f.logFile, "log-file", "", "Optional structured log file path")
	fs.StringVar(&f.logStderr, "log-stderr", "", "Structured logging to stderr: auto, on, off")
}

// applyOutput copies the output flags (or their GARDEN_* variables) onto out.
func (f *rootFlags) applyOutput(out *output.Writer) {
	out.JSON = pickBoolFlagOrEnv(f.json, "GARDEN_JSON")
	out.Quiet = pickBoolFlagOrEnv(f.quiet, "GARDEN_QUIET")
	out.NoInput = pickBoolFlagOrEnv(f.noInput, "GARDEN_NO_INPUT") || pickBoolFlagOrEnv(false, "CI")

	if f.noColor {
		out.SetNoColor(true)
		color.NoColor = true
	}
}

// startLogging installs the command's logger in its context and arranges for
// the log file to be closed after the command runs.
func (f *rootFlags) startLogging(cmd *cobra.Command, out *output.Writer) (*slog.Logger, error) {
	logger, cleanup, err := observability.NewLogger(&observability.Config{
		Level:          pickFlagOrEnv(f.logLevel, "GARDEN_LOG_LEVEL", "info"),
		Format:         pickFlagOrEnv(f.logFormat, "GARDEN_LOG_FORMAT", "json"),
		LogFile:        pickFlagOrEnv(f.logFile, "GARDEN_LOG_FILE", ""),
		StderrMode:     pickFlagOrEnv(f.logStderr, "GARDEN_LOG_STDERR", "auto"),
		InteractiveTTY: out.Terminal().IsTTY && isInteractiveCommand(cmd.CommandPath()),
		SessionID:      uuid.NewString(),
		CommandPath:    cmd.CommandPath(),
		Version:        version,
		Commit:         commit,
	})
	if err != nil {
		return nil, clierrors.New(clierrors.ExitUsage, fmt.Sprintf("Invalid logging configuration: %v", err)).
			WithHint("Use --log-level (error|warn|info|debug), --log-format (json|text), --log-stderr (auto|on|off) or --log-file")
	}

	slog.SetDefault(logger)
	cmd.SetContext(observability.WithLogger(out.WithContext(cmd.Context()), logger))

	if cleanup != nil {
		cmd.PostRunE = wrapPostRunCleanup(cmd.PostRunE, cleanup)
	}

	return logger, nil
}

// startTracing enables OTel export when OTEL_ENABLED is set. Failures only
// warn: a command never fails because tracing could not start.
func startTracing(cmd *cobra.Command, logger *slog.Logger) {
	shutdown, err := observability.SetupTelemetry(cmd.Context(), &observability.TelemetryConfig{
		Enabled:     observability.IsTelemetryEnabled(),
		Version:     version,
		Commit:      commit,
		SampleRatio: observability.SampleRatioFromEnv(),
	})
	if err != nil {
		logger.Warn("telemetry initialization failed", slog.String("error", err.Error()))
	}

	if shutdown == nil {
		return
	}

	cmd.PostRunE = wrapNamedPostRunCleanup(cmd.PostRunE, "telemetry resources", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return shutdown(ctx)
	})
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	out := output.Default()

	rootCmd := &cobra.Command{
		Use:   "garden",
		Short: "MindGarden in your terminal",
		Long: `garden is the terminal client for MindGarden, a mental-health support
platform. It signs you in, streams the live status of the support agents,
surfaces crisis resources, and browses the resource and peer directories.

Get started:
  garden auth login       Sign in with email and password
  garden auth guest       Continue without an account
  garden monitor          Watch the support agents live
  garden emergency        Crisis hotlines and risk check
  garden doctor           Diagnose common issues`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.apiURL != "" {
				validated, err := validateAPIURL(flags.apiURL)
				if err != nil {
					return err
				}

				if err := os.Setenv("GARDEN_API_URL", validated); err != nil {
					return clierrors.ConfigFailed("apply --api-url", err)
				}
			}

			flags.applyOutput(out)

			logger, err := flags.startLogging(cmd, out)
			if err != nil {
				return err
			}

			startTracing(cmd, logger)

			if wantsUpdateCheck(cmd, version, out) {
				updateWg.Go(func() {
					backgroundUpdateCheck(version)
				})
			}

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			updateWg.Wait()

			if wantsUpdateCheck(cmd, version, out) {
				showUpdateNotice(out, version)
			}

			return nil
		},
	}

	flags.register(rootCmd.PersistentFlags())

	rootCmd.SuggestionsMinimumDistance = 2

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return clierrors.New(clierrors.ExitUsage, err.Error()).
			WithHint(fmt.Sprintf("Run '%s --help' for available flags", cmd.CommandPath()))
	})

	rootCmd.AddCommand(
		newAuthCmd(),
		newMonitorCmd(),
		newEmergencyCmd(),
		newHistoryCmd(),
	)

	// Directory commands (noun-first)
	rootCmd.AddCommand(
		newResourcesCmd(),
		newPeersCmd(),
		newAgentsCmd(),
	)

	rootCmd.AddCommand(
		newConfigCmd(),
		newDoctorCmd(),
		newPathsCmd(),
		newVersionCmd(),
		newUpdateCmd(),
		newCompletionCmd(),
	)

	return rootCmd
}

// validateAPIURL checks an --api-url value and returns it trimmed.
func validateAPIURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)

	invalid := func(reason string) error {
		return &clierrors.CLIError{
			Message: fmt.Sprintf("Invalid API URL %q: %s", trimmed, reason),
			Hint:    "Pass an absolute http(s) URL, for example --api-url http://localhost:8080",
			Code:    clierrors.ExitUsage,
		}
	}

	if trimmed == "" {
		return "", invalid("empty")
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", invalid(err.Error())
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", invalid("scheme must be http or https")
	}

	if u.Host == "" {
		return "", invalid("missing host")
	}

	return strings.TrimRight(trimmed, "/"), nil
}

func wrapPostRunCleanup(postRun func(*cobra.Command, []string) error, cleanup func() error) func(*cobra.Command, []string) error {
	return wrapNamedPostRunCleanup(postRun, "logger resources", cleanup)
}

func wrapNamedPostRunCleanup(postRun func(*cobra.Command, []string) error, name string, cleanup func() error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if postRun != nil {
			if err := postRun(cmd, args); err != nil {
				_ = cleanup()
				return err
			}
		}

		if err := cleanup(); err != nil {
			return fmt.Errorf("cleanup %s: %w", name, err)
		}

		return nil
	}
}

func pickBoolFlagOrEnv(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}

	v := strings.ToLower(strings.TrimSpace(os.Getenv(envKey)))

	return v == "1" || v == "true" || v == "yes"
}

func pickFlagOrEnv(flagValue, envKey, fallback string) string {
	trimmed := strings.TrimSpace(flagValue)
	if trimmed != "" {
		return trimmed
	}

	if envValue := strings.TrimSpace(os.Getenv(envKey)); envValue != "" {
		return envValue
	}

	return fallback
}

// isInteractiveCommand reports whether path takes over the terminal.
func isInteractiveCommand(path string) bool {
	return path == "garden monitor" || strings.HasPrefix(path, "garden monitor ")
}

// VersionInfo represents version information for JSON output.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// noArgs rejects positional arguments with a friendlier message than
// cobra.NoArgs, which reports them as unknown commands.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return &clierrors.CLIError{
			Message: fmt.Sprintf("'%s' accepts no arguments", cmd.CommandPath()),
			Hint:    fmt.Sprintf("Run '%s --help' for usage", cmd.CommandPath()),
			Code:    clierrors.ExitUsage,
		}
	}

	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show version information",
		Long:    `Display the garden binary version, git commit, and build date.`,
		Example: `  garden version`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			if out.JSON {
				return out.PrintJSON(VersionInfo{
					Version: version,
					Commit:  commit,
					Date:    date,
				})
			}

			out.Print("garden %s\n", version)
			out.Print("  commit: %s\n", commit)
			out.Print("  built:  %s\n", date)

			return nil
		},
	}
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion <bash|zsh|fish|powershell>",
		Short: "Generate shell completion scripts",
		Long: `Generate a completion script for your shell and write it to stdout.
Source it from your shell profile to complete commands, flags and
resource types.`,
		Example: `  garden completion bash > /etc/bash_completion.d/garden
  garden completion zsh > "${fpath[1]}/_garden"`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			w := cmd.OutOrStdout()

			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			default:
				return root.GenPowerShellCompletionWithDesc(w)
			}
		},
	}
}

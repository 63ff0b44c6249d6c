package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/farbot/farbot/internal/cdrom"
	"github.com/farbot/farbot/internal/command"
	"github.com/farbot/farbot/internal/config"
	"github.com/farbot/farbot/internal/logging"
	"github.com/farbot/farbot/internal/metrics"
	"github.com/farbot/farbot/internal/runner"
	"github.com/farbot/farbot/internal/setup"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	app := &cli{levelVar: &levelVar, logger: logging.NewCLI(os.Stderr, &levelVar)}
	slog.SetDefault(app.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := app.rootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			app.logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		var runnerErr *runner.Error
		if errors.As(err, &runnerErr) {
			// The message already points at the build log.
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		app.logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

type cli struct {
	levelVar *slog.LevelVar
	logger   *slog.Logger

	configPath  string
	logLevel    string
	logFormat   string
	metricsFile string
	noRootCheck bool
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "farbot",
		Short:         "Build FreeBSD releases, packages and network installation trees",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", setup.DefaultConfigPath, "Path to the build configuration")
	flags.StringVar(&c.logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	flags.StringVar(&c.logFormat, "log-format", "text", "Log output format (text, json)")
	flags.StringVar(&c.metricsFile, "metrics-file", "", "Write build metrics to this file in Prometheus text format")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(c.logLevel)
		if err != nil {
			return err
		}
		mode, err := logging.ParseMode(c.logFormat)
		if err != nil {
			return err
		}
		c.levelVar.Set(level)
		c.logger = logging.New(mode, os.Stderr, c.levelVar)
		slog.SetDefault(c.logger)
		setup.SetLogger(c.logger.With("component", "setup"))
		return nil
	}

	root.AddCommand(
		c.buildCommand("release", "Build every release used by an installation", func(ctx context.Context, env runner.Env) error {
			return (&runner.ReleaseBuildRunner{Env: env}).Run(ctx)
		}),
		c.buildCommand("packages", "Build the packages of every release in a chroot", func(ctx context.Context, env runner.Env) error {
			return (&runner.PackageBuildRunner{Env: env}).Run(ctx)
		}),
		c.buildCommand("install", "Assemble the network installation tree", func(ctx context.Context, env runner.Env) error {
			return (&runner.NetInstallAssemblerRunner{Env: env}).Run(ctx)
		}),
		c.buildCommand("all", "Build releases, then packages, then the network installation tree", runner.RunAll),
		c.validateCommand(),
		c.inspectISOCommand(),
	)
	return root
}

func (c *cli) buildCommand(name, short string, run func(context.Context, runner.Env) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Args:  cobra.NoArgs,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := c.logger.With("command", name)

			cfg, err := c.loadConfig(logger)
			if err != nil {
				return err
			}
			if !c.noRootCheck {
				if err := setup.RequireRoot(); err != nil {
					return err
				}
			}

			env := runner.NewEnv(cfg, command.NewRunner(cfg.Tools, logger), logger, nil)
			env.Metrics = metrics.New(env.RunID)

			logger.Info("starting build", "run_id", env.RunID)
			runErr := run(cmd.Context(), env)
			if c.metricsFile != "" {
				if err := env.Metrics.WriteTextfile(c.metricsFile); err != nil {
					logger.Warn("failed to write metrics", "path", c.metricsFile, "error", err)
				}
			}
			if runErr != nil {
				return runErr
			}
			logger.Info("build completed", "run_id", env.RunID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&c.noRootCheck, "no-root-check", false, "Skip the check for root privileges")
	return cmd
}

// loadConfig parses the configuration and checks that the tools it names are
// usable.
func (c *cli) loadConfig(logger *slog.Logger) (*config.Config, error) {
	logger.Debug("loading configuration", "path", c.configPath)
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if err := setup.Verify(cfg.Tools); err != nil {
		logger.Error("tool verification failed", "error", err)
		return nil, err
	}
	return cfg, nil
}

func (c *cli) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Args:  cobra.NoArgs,
		Short: "Check the configuration and the external tools it names",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := c.logger.With("command", "validate")
			cfg, err := c.loadConfig(logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, release := range cfg.Releases.Release {
				state := "unused"
				if cfg.Referenced(release.Name) {
					state = fmt.Sprintf("%d packages", len(release.Packages))
				}
				fmt.Fprintf(out, "release %-12s %s\n", release.Name, state)
			}
			for _, install := range cfg.Installations {
				fmt.Fprintf(out, "install %-12s release %s\n", install.Name, install.Release)
			}
			logger.Info("configuration is valid", "path", c.configPath)
			return nil
		},
	}
}

func (c *cli) inspectISOCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect-iso <image>",
		Args:  cobra.ExactArgs(1),
		Short: "Show the release version and top-level contents of an install ISO",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := cdrom.ReadImage(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Image:   %s\n", info.Path)
			fmt.Fprintf(out, "Version: %s\n", info.Version)
			for _, entry := range info.Entries {
				fmt.Fprintf(out, "  %s\n", entry)
			}
			return nil
		},
	}
}

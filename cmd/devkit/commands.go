package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.trai.ch/zerr"

	"github.com/rathix/cashier-devkit/internal/buildenv"
	"github.com/rathix/cashier-devkit/internal/compiler"
	"github.com/rathix/cashier-devkit/internal/config"
	"github.com/rathix/cashier-devkit/internal/devserver"
	"github.com/rathix/cashier-devkit/internal/emit"
	"github.com/rathix/cashier-devkit/internal/pipeline"
)

const dotEnvFile = ".env"

// errCompileFailed is returned by build when the compile reports errors.
var errCompileFailed = zerr.New("compile failed")

// cli wires the devkit commands. Fields are filled from persistent flags
// before any subcommand runs.
type cli struct {
	rootCmd   *cobra.Command
	out       io.Writer
	root      string
	logFormat string
	logger    *slog.Logger
	resolver  buildenv.Resolver
}

func newCLI(out io.Writer) *cli {
	c := &cli{out: out}

	rootCmd := &cobra.Command{
		Use:           "devkit",
		Short:         "Build and serve the cashier web application",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&c.root, "root", getEnv("DEVKIT_ROOT", ""), "project root (defaults to the working directory)")
	rootCmd.PersistentFlags().StringVar(&c.logFormat, "log-format", getEnv("LOG_FORMAT", "text"), "log format (json or text)")

	rootCmd.AddCommand(c.newServeCmd())
	rootCmd.AddCommand(c.newBuildCmd())
	rootCmd.AddCommand(c.newConfigCmd())

	c.rootCmd = rootCmd
	return c
}

// Execute runs the root command with the given context.
func (c *cli) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *cli) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

func (c *cli) setup() error {
	if c.logFormat != "json" && c.logFormat != "text" {
		return fmt.Errorf("unsupported log format %q: must be \"json\" or \"text\"", c.logFormat)
	}
	if c.root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return zerr.Wrap(err, "failed to determine working directory")
		}
		c.root = wd
	}
	root, err := filepath.Abs(c.root)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "invalid project root"), "root", c.root)
	}
	c.root = root

	c.logger = setupLogger(c.logFormat)
	slog.SetDefault(c.logger)

	if err := buildenv.LoadDotEnv(filepath.Join(c.root, dotEnvFile)); err != nil {
		return err
	}
	return nil
}

// loadConfig reads the project file. Validation errors are logged and the
// offending fields fall back to defaults; a malformed file is fatal.
func (c *cli) loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		path = config.DefaultFile
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.root, path)
	}
	cfg, errs := config.Load(path)
	for _, err := range errs {
		c.logger.Warn("config error", "path", path, "error", err)
	}
	if cfg == nil {
		return nil, path, zerr.With(errors.Join(errs...), "path", path)
	}
	return cfg, path, nil
}

func (c *cli) newServeCmd() *cobra.Command {
	var (
		host       string
		configPath string
		open       bool
		browser    string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development server with live updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := c.loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("open") {
				cfg.Server.Open = &open
			}
			if browser != "" {
				cfg.Server.Browser = browser
			}

			env, err := c.resolver.Resolve(false, host)
			if err != nil {
				return err
			}

			srv, err := devserver.New(devserver.Options{
				Env:        env,
				Root:       c.root,
				Config:     cfg,
				ConfigPath: path,
				Compiler:   compiler.NewEsbuild(c.logger),
				Logger:     c.logger,
				Watch:      true,
			})
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&host, "host", getEnv("HOST", ""), `listen host, or "local-net" for this machine's network address`)
	cmd.Flags().StringVar(&configPath, "config", getEnv("DEVKIT_CONFIG", config.DefaultFile), "path to the project config file")
	cmd.Flags().BoolVar(&open, "open", getEnvBool("DEVKIT_OPEN", true), "open a browser once the server is listening")
	cmd.Flags().StringVar(&browser, "browser", getEnv("BROWSER", ""), "browser to open (defaults to the system browser)")
	return cmd
}

func (c *cli) newBuildCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile a production build to disk",
		Long: `Compile a production build to disk.

The output directory (build/ under the project root) is removed and recreated
on every build. Do not keep hand-placed files there.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := c.loadConfig(configPath)
			if err != nil {
				return err
			}
			env, err := c.resolver.Resolve(true, "")
			if err != nil {
				return err
			}
			desc := pipeline.Derive(env, cfg.Project(c.root))
			return c.build(cmd.Context(), compiler.NewEsbuild(c.logger), afero.NewOsFs(), desc)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", getEnv("DEVKIT_CONFIG", config.DefaultFile), "path to the project config file")
	return cmd
}

func (c *cli) build(ctx context.Context, comp compiler.Compiler, fs afero.Fs, desc pipeline.Description) error {
	c.logger.Info("building", "mode", desc.Mode, "output", desc.Output.Path)
	set, err := comp.Compile(ctx, desc)
	if err != nil {
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) {
			for _, m := range compileErr.Errors {
				c.logger.Error("compile error", "message", m.String())
			}
			return zerr.With(errCompileFailed, "errors", len(compileErr.Errors))
		}
		return err
	}
	for _, m := range set.Warnings {
		c.logger.Warn("compile warning", "message", m.String())
	}
	if err := emit.Write(fs, desc.Output.Path, set); err != nil {
		return err
	}
	c.logger.Info("build complete", "files", set.Len(), "hash", set.Hash, "output", desc.Output.Path)
	return nil
}

func (c *cli) newConfigCmd() *cobra.Command {
	var (
		configPath string
		prod       bool
		format     string
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the derived pipeline description",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := c.loadConfig(configPath)
			if err != nil {
				return err
			}
			env, err := c.resolver.Resolve(prod, "")
			if err != nil {
				return err
			}
			desc := pipeline.Derive(env, cfg.Project(c.root))
			return pipeline.Encode(cmd.OutOrStdout(), desc, pipeline.Format(format))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", getEnv("DEVKIT_CONFIG", config.DefaultFile), "path to the project config file")
	cmd.Flags().BoolVar(&prod, "prod", getEnvBool("PRODUCTION", false), "derive the production pipeline")
	cmd.Flags().StringVar(&format, "format", "json", "output format (json or yaml)")
	return cmd
}

// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/issue-harvester/internal/app"
	"github.com/JakeFAU/issue-harvester/internal/config"
	"github.com/JakeFAU/issue-harvester/internal/crawler"
	"github.com/JakeFAU/issue-harvester/internal/export"
	"github.com/JakeFAU/issue-harvester/internal/transform"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. It lets tests
// inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Scrape(ctx context.Context, projects []string) ([]crawler.Summary, error)
	Transform(ctx context.Context, projects []string) ([]transform.Stats, error)
	ExportEnabled() bool
	Export(ctx context.Context) ([]export.Artifact, error)
	Status(projects []string) []app.CheckpointStatus
	StartServer(ctx context.Context, addr string) error
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.New(ctx, cfg, app.Options{})
}

type rootOptions struct {
	configFile string
	outputDir  string
	projects   []string
	listen     string
	noColor    bool
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Resumable issue and comment harvester for Jira-style trackers.",
		Long: `harvester pages through the issues of one or more tracker projects,
fetches every comment thread, and appends raw JSONL records that survive
restarts without loss or duplication. The transform stage turns the raw
records into a flat, text-extracted schema for downstream NLP work.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.noColor {
				color.NoColor = true //nolint:reassign // library global
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml)")
	flags.StringVar(&opts.outputDir, "output-dir", "", "root of the raw, clean and checkpoint files (overrides output.dir)")
	flags.StringArrayVar(&opts.projects, "project", nil, "project key to process; repeat for several (default: source.projects)")
	flags.StringVar(&opts.listen, "listen", "", "serve the status API on this address while scraping (overrides server.listen)")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(
		newScrapeCmd(opts),
		newTransformCmd(opts),
		newAllCmd(opts),
		newStatusCmd(opts),
		newExportCmd(),
	)
	return cmd
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if opts.outputDir != "" {
		cfg.Output.Dir = opts.outputDir
	}
	if opts.listen != "" {
		cfg.Server.Listen = opts.listen
	}
	return cfg, nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// startStatusServer serves the status API when server.listen is set.
func startStatusServer(ctx context.Context, appInstance App) error {
	addr := appInstance.Config().Server.Listen
	if addr == "" {
		return nil
	}
	return appInstance.StartServer(ctx, addr)
}

// run executes root and closes the App afterwards. Cobra skips post-run
// hooks when RunE fails, so the close happens here instead.
func run(ctx context.Context, root *cobra.Command) error {
	executed, err := root.ExecuteContextC(ctx)
	if executed != nil && executed.Context() != nil {
		if appInstance, ok := executed.Context().Value(appKey).(App); ok && appInstance != nil {
			appInstance.Close()
		}
	}
	return err
}

// Execute is the main entry point.
func Execute(ctx context.Context) {
	if err := run(ctx, newRootCmd()); err != nil {
		logger, lerr := zap.NewProduction()
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}

// Package cmd defines the jobfeed command line: one-shot crawls and scheduled runs.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/app"
	"github.com/JakeFAU/jobfeed-publisher/internal/config"
	"github.com/JakeFAU/jobfeed-publisher/internal/control"
	"github.com/JakeFAU/jobfeed-publisher/internal/crawl"
	"github.com/JakeFAU/jobfeed-publisher/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the application. Tests inject fakes.
type App interface {
	RunOnce(ctx context.Context) (crawl.Summary, error)
	ControlServer() *control.Server
	ControlAddr() string
	Close() error
}

// env bundles what PersistentPreRunE produced.
type env struct {
	app    App
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

type rootFlags struct {
	cfgFile string
	envFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "jobfeed",
		Short: "Crawls job listings and publishes them to a content API.",
		Long: `jobfeed walks the paginated search results of a job site, resolves every
listing into a structured record and publishes new companies and jobs to a
WordPress-style REST API. Progress is checkpointed per page and published
listings are remembered, so an interrupted run resumes where it stopped.`,
		SilenceUsage: true,

		// Load .env, config and logger, then build the application for the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(flags.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(flags.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyOverrides(cmd, &cfg); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, &env{app: appInstance, cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the config; missing files are ignored")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newScheduleCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "jobfeed:", err)
		os.Exit(1)
	}
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// applyOverrides copies explicitly set subcommand flags over the loaded config.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	changed := false
	if fs.Changed("keywords") {
		cfg.Source.Keywords, _ = fs.GetString("keywords")
		changed = true
	}
	if fs.Changed("location") {
		cfg.Source.Location, _ = fs.GetString("location")
		changed = true
	}
	if fs.Changed("max-pages") {
		cfg.Source.MaxPages, _ = fs.GetInt("max-pages")
		changed = true
	}
	if fs.Changed("cron") {
		cfg.Schedule.Cron, _ = fs.GetString("cron")
		changed = true
	}
	if fs.Changed("control") {
		cfg.Control.Enabled, _ = fs.GetBool("control")
		changed = true
	}
	if !changed {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("flag overrides: %w", err)
	}
	return nil
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(appKey).(*env)
	if !ok || e == nil || e.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return e, nil
}

func closeEnv(e *env) {
	if err := e.app.Close(); err != nil {
		e.logger.Warn("error closing application services", zap.Error(err))
	}
	// Syncing stderr/stdout fails on some platforms; nothing useful can be done about it.
	_ = e.logger.Sync()
}

// startControl serves the control server in the background when enabled.
func startControl(ctx context.Context, e *env) {
	if !e.cfg.Control.Enabled {
		return
	}
	srv := e.app.ControlServer()
	go func() {
		if err := srv.ListenAndServe(ctx, e.app.ControlAddr()); err != nil {
			e.logger.Error("control server failed", zap.Error(err))
		}
	}()
}

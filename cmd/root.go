// Package cmd defines and implements the CLI commands for the forkcrawl
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/forkcrawl/internal/app"
	"github.com/JakeFAU/forkcrawl/internal/config"
	"github.com/JakeFAU/forkcrawl/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// needsApp marks commands that run against a built App.
const needsApp = "forkcrawl/needs-app"

// App is what the commands need from the application container. Tests
// substitute a fake.
type App interface {
	Crawl(ctx context.Context) (app.Report, error)
	ServeMetrics()
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(cfg config.Config, logger *zap.Logger) (App, error) {
	return app.Build(cfg, logger)
}

type rootOptions struct {
	cfgFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "forkcrawl",
		Short: "A fork/join web crawler with a global visit budget.",
		Long: `forkcrawl crawls outward from a set of target URLs. The frontier is
split into chunks that are handed to a fixed worker pool, every worker
merges what it found back into a single result, and a global budget
bounds how many pages are visited across all of them.`,
		SilenceUsage: true,

		// Config depends on the subcommand's flags and args, so the app is
		// built here and injected through the context.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := cmd.Annotations[needsApp]; !ok {
				return nil
			}
			cfg, err := loadConfig(cmd, opts.cfgFile, args)
			if err != nil {
				return err
			}
			if cfg.Logging.Development {
				if _, err := logging.InitLogger(true); err != nil {
					return fmt.Errorf("init development logger: %w", err)
				}
			}
			appInstance, err := newApp(cfg, logging.Logger())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// loadConfig merges defaults, CRAWLER_ env vars, the config file and the
// command's flags. Positional args replace crawler.targets.
func loadConfig(cmd *cobra.Command, path string, args []string) (config.Config, error) {
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	if len(args) > 0 {
		v.Set("crawler.targets", args)
	}
	cfg, err := config.LoadFrom(v, path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
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

// Execute is the main entry point.
func Execute() {
	if _, err := logging.InitLogger(false); err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		logging.Logger().Fatal("Command execution failed", zap.Error(err))
	}
	_ = logging.Logger().Sync()
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/topical-search/internal/app"
	"github.com/JakeFAU/topical-search/internal/config"
	"github.com/JakeFAU/topical-search/internal/logging"
	"github.com/JakeFAU/topical-search/internal/search"
	"github.com/JakeFAU/topical-search/internal/server"
	"github.com/JakeFAU/topical-search/internal/worker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the part of the application the commands drive. Tests inject a fake.
type App interface {
	Crawl(ctx context.Context, force bool) (worker.Result, error)
	Search(ctx context.Context, query string) search.Response
	Status(ctx context.Context) (app.CrawlStatus, error)
	SearchService() *search.Service
	Logger() *zap.Logger
	Close() error
}

// newApp loads configuration and builds the application. It's a variable so
// tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.Build(ctx, cfg, logger)
}

// runServer serves the HTTP API until ctx ends.
var runServer = func(ctx context.Context, a App) error {
	full, ok := a.(*app.App)
	if !ok {
		return errors.New("serve requires the full application")
	}
	return server.New(full, a.Logger().Named("server")).Run(ctx)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "topicsearch",
		Short: "Topical web crawler and TF-IDF search engine.",
		Long: `topicsearch crawls a configured set of seed sites breadth-first, keeps
pages that match a keyword topic, and answers ranked free-text queries over
the saved documents. Crawl progress survives restarts.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(); err != nil {
					appInstance.Logger().Warn("close application", zap.Error(err))
				}
				_ = appInstance.Logger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newCrawlCmd(),
		newSearchCmd(),
		newServeCmd(),
		newIndexStatsCmd(),
	)
	return cmd
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
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/melody-hunter/internal/app"
	"github.com/JakeFAU/melody-hunter/internal/config"
	"github.com/JakeFAU/melody-hunter/internal/logging"
)

type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd builds the command tree. The returned func releases the
// application services once the command has finished, successful or not.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile  string
		instance *app.App
	)
	cmd := &cobra.Command{
		Use:   "melodyhunter",
		Short: "Crawls music platforms into a canonical artist, album and song catalog.",
		Long: `melodyhunter runs crawl tasks against music platforms (NetEase Cloud Music,
QQ Music, Kugou) and reconciles the scraped artists, albums and songs into one
catalog keyed by platform and platform id.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			instance, err = newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, instance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); MELODY_* environment variables override it")
	cmd.AddCommand(newServeCmd(), newCrawlCmd(), newPlatformsCmd())

	cleanup := func() {
		if instance == nil {
			return
		}
		_ = instance.Close()
		_ = instance.Logger.Sync()
		instance = nil
	}
	return cmd, cleanup
}

func resolveApp(ctx context.Context) (*app.App, error) {
	instance, ok := ctx.Value(appKey).(*app.App)
	if !ok || instance == nil {
		return nil, errors.New("application services not initialized")
	}
	return instance, nil
}

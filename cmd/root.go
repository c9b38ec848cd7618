// Package cmd defines and implements the CLI commands for the noticepoller executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajou-notice/noticepoller/internal/config"
	"github.com/ajou-notice/noticepoller/internal/notice"
	"github.com/ajou-notice/noticepoller/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the application graph.
type App interface {
	Run(ctx context.Context) error
	Migrate(ctx context.Context) error
	Query(ctx context.Context, filter *notice.Filter) ([]notice.Notice, error)
	Prune(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "noticepoller",
		Short: "Polls the Ajou University notice board and stores new notices.",
		Long: `noticepoller scrapes the Ajou University notice board during weekday
business hours (Asia/Seoul), keeps every newly seen notice in a store,
and serves stored and live notices over HTTP.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(cmd.Context())
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); NOTICE_* environment variables override it")

	cmd.AddCommand(newRunCmd(), newMigrateCmd(), newFetchCmd(), newPruneCmd())
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
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

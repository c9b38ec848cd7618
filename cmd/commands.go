package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajou-notice/noticepoller/internal/notice"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the poller, the HTTP API and the retention job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Run(cmd.Context()); err != nil {
				return fmt.Errorf("poller stopped: %w", err)
			}
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates the notice store schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Migrate(cmd.Context())
		},
	}
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Deletes notices older than the retention window once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d notices\n", n)
			return nil
		},
	}
}

func newFetchCmd() *cobra.Command {
	var (
		count    int
		category string
		keyword  string
		boardURL string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Queries the board once and prints the notices as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			filter := notice.NewFilter(boardURL)
			filter.SetCount(count)
			if category != "" {
				if err := filter.SetCategory(category); err != nil {
					appInstance.Logger().Warn("ignoring category", zap.Error(err))
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v, searching all categories\n", err)
				}
			}
			filter.SetKeyword(keyword)

			notices, err := appInstance.Query(cmd.Context(), filter)
			switch {
			case errors.Is(err, notice.ErrNoNotices):
				notices = []notice.Notice{}
			case notice.IsServiceUnavailable(err):
				return fmt.Errorf("the board is slow or unreachable, try again later: %w", err)
			case err != nil:
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(notices); err != nil {
				return fmt.Errorf("encode notices: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", notice.DefaultCount, "number of notices to request")
	cmd.Flags().StringVarP(&category, "category", "c", "", "category name, e.g. 학사 or 장학")
	cmd.Flags().StringVarP(&keyword, "keyword", "k", "", "search keyword")
	cmd.Flags().StringVar(&boardURL, "board-url", notice.BoardURL, "board listing URL")
	return cmd
}

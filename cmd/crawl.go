package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/crawl"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl from the
// checkpoint to the page limit and prints the summary as JSON.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl and exits",
		Long: `Crawls listing pages from the saved checkpoint up to the page limit,
publishes every listing not seen before and prints the run summary. The
command exits non-zero when the source shows a login or challenge wall.`,
		RunE: runCrawlCommand,
	}
	cmd.Flags().String("keywords", "", "search keywords (overrides source.keywords)")
	cmd.Flags().String("location", "", "search location (overrides source.location)")
	cmd.Flags().Int("max-pages", 0, "page limit (overrides source.max_pages)")
	cmd.Flags().Bool("control", false, "serve the control API while crawling (overrides control.enabled)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEnv(e)
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startControl(ctx, e)

	sum, runErr := e.app.RunOnce(ctx)
	if err := writeSummary(cmd, sum); err != nil {
		e.logger.Warn("write summary failed", zap.Error(err))
	}
	if runErr != nil {
		if errors.Is(runErr, crawl.ErrFatalCrawl) {
			return fmt.Errorf("crawl aborted: %w", runErr)
		}
		return fmt.Errorf("run crawl: %w", runErr)
	}
	e.logger.Info("crawl command finished")
	return nil
}

func writeSummary(cmd *cobra.Command, sum crawl.Summary) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

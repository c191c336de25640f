package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/jobfeed-publisher/internal/schedule"
)

// newScheduleCmd creates the 'schedule' subcommand, which keeps crawling on a
// cron spec until interrupted.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Runs crawls periodically",
		Long: `Runs a crawl on every tick of a cron spec (standard five fields or a
descriptor such as "@every 6h"). A tick that fires while a crawl is still
running is skipped.`,
		RunE: runScheduleCommand,
	}
	cmd.Flags().String("cron", "", "cron spec (overrides schedule.cron)")
	cmd.Flags().Bool("run-now", false, "also crawl once immediately")
	cmd.Flags().Bool("control", false, "serve the control API (overrides control.enabled)")
	return cmd
}

func runScheduleCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEnv(e)
	runNow, _ := cmd.Flags().GetBool("run-now")

	s, err := schedule.New(e.cfg.Schedule.Cron, e.app,
		schedule.WithRunNow(runNow),
		schedule.WithLogger(e.logger),
	)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startControl(ctx, e)

	if err := s.Run(ctx); err != nil {
		return fmt.Errorf("run scheduler: %w", err)
	}
	e.logger.Info("scheduler stopped")
	return nil
}

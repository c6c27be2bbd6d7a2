package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docprep/internal/metrics"
	"docprep/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Intake raw units and process them to completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			collector := metrics.NewCollector()
			runner, err := workflow.New(cfg, store, collector, logger)
			if err != nil {
				_ = store.Close()
				return err
			}
			defer runner.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if watch {
				if err := runner.Start(runCtx); err != nil {
					return err
				}
				<-runCtx.Done()
				runner.Stop()
				return nil
			}

			summary, err := runner.RunOnce(runCtx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Intaken:    %d\n", summary.Intaken)
			fmt.Fprintf(out, "Processed:  %d\n", summary.Processed)
			fmt.Fprintf(out, "Ready:      %d\n", summary.Ready)
			fmt.Fprintf(out, "Exceptions: %d\n", summary.Exceptions)
			if summary.Failures > 0 {
				fmt.Fprintf(out, "Failures:   %d\n", summary.Failures)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Keep sweeping the intake directory until interrupted")
	return cmd
}

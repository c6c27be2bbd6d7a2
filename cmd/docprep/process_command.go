package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docprep/internal/metrics"
	"docprep/internal/triage"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process <unit-id>",
		Short: "Run one unit through all remaining cycles",
		Args:  cobra.ExactArgs(1),
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
			defer store.Close()

			orchestrator, err := triage.New(cfg, store, metrics.NewCollector(), logger)
			if err != nil {
				return err
			}
			result, err := orchestrator.ProcessAllCycles(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Unit:        %s\n", result.UnitID)
			fmt.Fprintf(out, "Final state: %s\n", result.FinalState)
			for i, state := range result.Cycles {
				fmt.Fprintf(out, "Cycle %d:     %s\n", i+1, state)
			}
			return nil
		},
	}
}

package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"docprep/internal/logging"
	"docprep/internal/router"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show catalog and processing tree statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			health, err := store.Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Total", "Active", "Ready", "Exceptions"},
				[][]string{{
					strconv.Itoa(health.Total),
					strconv.Itoa(health.Active),
					strconv.Itoa(health.Ready),
					strconv.Itoa(health.Exceptions),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
			))

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if len(stats) > 0 {
				fmt.Fprintln(out, renderTable(
					[]string{"State", "Units"},
					countRows(stats),
					[]columnAlignment{alignLeft, alignRight},
				))
			}

			rt := router.New(cfg, logging.NewNop())
			printClusterTable(cmd, "Merge", rt.MergeStatistics())
			printClusterTable(cmd, "Exceptions", rt.ExceptionsStatistics())
			return nil
		},
	}
}

func printClusterTable(cmd *cobra.Command, label string, byCycle map[int]router.ClusterCounts) {
	var rows [][]string
	cycles := make([]int, 0, len(byCycle))
	for n := range byCycle {
		cycles = append(cycles, n)
	}
	sort.Ints(cycles)
	for _, n := range cycles {
		clusters := byCycle[n]
		names := make([]string, 0, len(clusters))
		for name := range clusters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			rows = append(rows, []string{
				fmt.Sprintf("%s_%d", label, n),
				name,
				strconv.Itoa(clusters[name]),
			})
		}
	}
	if len(rows) == 0 {
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Tier", "Cluster", "Units"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	))
}

func countRows(counts map[string]int) [][]string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, strconv.Itoa(counts[key])})
	}
	return rows
}

package main

import (
	"encoding/json"
	"os"

	"github.com/memheap/memheap/heap"
	"github.com/spf13/cobra"
)

var statsTopN int

func init() {
	cmd := newStatsCmd()
	cmd.Flags().IntVar(&statsTopN, "worst-regions", 3, "Number of worst-utilized regions to report")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print current heap counters",
		Long: `The stats command prints the process heap's current counters:
bytes allocated and free, allocation/free call counts, split and coalesce
counts, fragmentation, and region count.

Example:
  heapctl stats
  heapctl stats --worst-regions 5 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	}
}

func runStats() error {
	s := heap.Stats()
	report := heap.EfficiencyReport(statsTopN)

	if jsonOut {
		out := struct {
			Stats   heap.Stats               `json:"stats"`
			Regions []heap.RegionUtilization `json:"worst_regions"`
		}{s, report}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}

	printInfo("%s\n", s)
	if len(report) > 0 {
		printInfo("worst-utilized regions:\n")
		for _, r := range report {
			printInfo("  base=0x%x length=%d allocated=%d efficiency=%.2f%%\n",
				r.Base, r.Length, r.Allocated, r.Efficiency*100)
		}
	}
	return nil
}

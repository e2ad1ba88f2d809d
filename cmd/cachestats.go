package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buildsmarter/siteintel-resolve/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache store operations",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print live entry and hit counts for the cache store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.store.Stats(ctx)
		if err != nil {
			return err
		}
		printStats(stats)
		return nil
	},
}

func printStats(stats *cache.Stats) {
	fmt.Printf("entries: %d\ntotal hits: %d\n", stats.Entries, stats.TotalHits)
	if stats.Entries > 0 {
		fmt.Printf("hits per entry: %.2f\n", float64(stats.TotalHits)/float64(stats.Entries))
	}
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}

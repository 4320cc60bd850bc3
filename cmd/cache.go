package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the search result cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear <query>",
	Short: "Remove the cached result for a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.cache.Clear(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Cleared cache entry for %q\n", args[0])
		return nil
	},
}

var cacheClearExpiredCmd = &cobra.Command{
	Use:   "clear-expired",
	Short: "Remove every cached result past its TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		n, err := app.cache.ClearExpired(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d expired entries\n", n)
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache entry and hit counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		stats, err := app.cache.Stats(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Entries: %d (%d expired)\nTotal hits: %d\n",
			stats.Total, stats.Expired, stats.TotalHits)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheClearExpiredCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
}

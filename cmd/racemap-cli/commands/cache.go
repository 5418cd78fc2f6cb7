package commands

import (
	"fmt"
	"racemap-backend/internal/cache"
	"racemap-backend/internal/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspects and maintains the persistent caches.",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints the entry count and serialized size of every cache category.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := openApp(ctx)
		defer closeApp(ctx, app)

		stats := app.Cache.Stats()
		t := newTable()
		t.AppendHeader(table.Row{"Category", "Entries", "Size (bytes)", "Expiry"})
		for _, category := range app.Cache.Categories() {
			t.AppendRow(table.Row{
				category,
				stats[category].Entries,
				stats[category].Size,
				app.Cache.Expiry(category),
			})
		}
		t.Render()
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [geocoding|pdf]",
	Short: "Clears one cache category, or all of them when none is given.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := openApp(ctx)
		defer closeApp(ctx, app)

		if len(args) == 0 {
			app.Cache.ClearAll(ctx)
			fmt.Println("All caches cleared")
			return
		}

		category := cache.Category(args[0])
		switch category {
		case cache.CategoryGeocoding, cache.CategoryDocuments:
			app.Cache.Clear(ctx, category)
			fmt.Printf("%s cache cleared\n", category)
		default:
			serviceutil.Fatal("clear cache", fmt.Errorf("unknown cache category %q", args[0]))
		}
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Removes every expired cache entry.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := openApp(ctx)
		defer closeApp(ctx, app)

		removed := app.Cache.Sweep(ctx)
		fmt.Printf("removed %d expired entries\n", removed)
	},
}

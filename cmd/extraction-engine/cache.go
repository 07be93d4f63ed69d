// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pdiddy/extraction-engine/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the stage cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number of cached entries per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCache()
		if err != nil {
			return err
		}
		defer store.Close()

		counts, err := store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		stages := make([]string, 0, len(counts))
		for s := range counts {
			stages = append(stages, s)
		}
		sort.Strings(stages)
		total := 0
		for _, s := range stages {
			fmt.Fprintf(os.Stdout, "%-10s %d\n", s, counts[s])
			total += counts[s]
		}
		fmt.Fprintf(os.Stdout, "%-10s %d\n", "total", total)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached entries",
	Long: `Clear deletes cached entries for one stage (resolve, acquire, extract),
or every entry when no stage is given. Clearing extract forces the next run
to call the LLM providers again while keeping downloaded papers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, _ := cmd.Flags().GetString("stage")
		switch stage {
		case "", cache.StageResolve, cache.StageAcquire, cache.StageExtract:
		default:
			return fmt.Errorf("unknown stage %q (want resolve, acquire, or extract)", stage)
		}

		store, err := openCache()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Clear(cmd.Context(), stage)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Removed %d entries\n", n)
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().String("stage", "", "only clear this stage: resolve, acquire, or extract")

	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCache() (*cache.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cache.OpenSQLite(cfg.Extraction.CacheDir)
}

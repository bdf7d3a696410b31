// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mkoval/passage-engine/internal/pipeline"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect the local document store",
}

var storeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print document store counts and resilience state",
	RunE:  runStoreStats,
}

func runStoreStats(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	p, err := pipeline.New(pipelineConfig(), logger)
	if err != nil {
		return err
	}
	defer p.Close()

	stats, err := p.Store().Stats(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		out := map[string]any{
			"store":    stats,
			"metrics":  p.Metrics(),
			"breakers": p.Breakers(),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Documents: %d\n", stats.Documents)
	fmt.Printf("Chunks:    %d\n", stats.Chunks)
	for typ, n := range stats.ByType {
		fmt.Printf("  %-10s %d\n", typ, n)
	}

	m := p.Metrics()
	fmt.Println("\nResilience:")
	fmt.Printf("  calls=%d failures=%d retries=%d timeouts=%d\n", m.Calls, m.Failures, m.Retries, m.Timeouts)
	fmt.Printf("  cache hits=%d misses=%d  breaker rejections=%d\n", m.CacheHits, m.CacheMisses, m.Rejections)

	fmt.Println("\nBreakers:")
	for _, b := range p.Breakers() {
		fmt.Printf("  %-14s %-10s failures=%d threshold=%d\n", b.Name, b.State, b.Failures, b.Threshold)
	}
	return nil
}

func init() {
	storeStatsCmd.Flags().Bool("json", false, "output stats as JSON")

	storeCmd.AddCommand(storeStatsCmd)
	rootCmd.AddCommand(storeCmd)
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/tempest/internal/metrics"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server runtime statistics",
	Long: `Show the server's in-memory runtime statistics: turns, gate decisions,
inference, embeddings, store queries and speech synthesis.

Examples:
  tempest stats
  tempest stats --json`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the raw snapshot as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	stats, err := tempestClient.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	printServerStats(stats)
	return nil
}

// printServerStats displays server runtime statistics.
func printServerStats(stats *metrics.Snapshot) {
	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", stats.UptimeSeconds)

	sections := []struct {
		title  string
		op     *metrics.OperationSnapshot
		tokens bool
	}{
		{"Turns", stats.Turn, false},
		{"Gate", stats.Gate, false},
		{"LLM Generate", stats.LLMGenerate, true},
		{"LLM Stream", stats.LLMStream, true},
		{"Embeddings", stats.Embedding, false},
		{"Store Query", stats.StoreQuery, false},
		{"Store Search", stats.StoreSearch, false},
		{"Synthesis", stats.Synthesis, false},
	}
	for _, s := range sections {
		if s.op == nil {
			continue
		}
		fmt.Printf("\n%s:\n", s.title)
		printOpStats(s.op)
		if s.tokens {
			printTokenStats(s.op)
		}
	}

	if stats.EmbeddingCacheHits > 0 {
		fmt.Printf("\nEmbedding cache hits: %d\n", stats.EmbeddingCacheHits)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Printf("  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgInputTokens)
	}
	if op.MinInputTokens != nil && op.MaxInputTokens != nil {
		fmt.Printf(", min %d, max %d", *op.MinInputTokens, *op.MaxInputTokens)
	}
	fmt.Println()

	fmt.Printf("  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgOutputTokens)
	}
	if op.MinOutputTokens != nil && op.MaxOutputTokens != nil {
		fmt.Printf(", min %d, max %d", *op.MinOutputTokens, *op.MaxOutputTokens)
	}
	fmt.Println()
}

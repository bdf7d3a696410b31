// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkoval/passage-engine/internal/pipeline"
	"github.com/mkoval/passage-engine/pkg/types"
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Retrieve ranked passages for a question",
	Long: `Query runs the retrieval pipeline: hybrid search, authority weighting,
and LLM reranking. Results are printed as a ranked table, or as JSON
with --json.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	matchCount, _ := cmd.Flags().GetInt("match-count")
	topK, _ := cmd.Flags().GetInt("top-k")
	skipRerank, _ := cmd.Flags().GetBool("skip-rerank")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	p, err := pipeline.New(pipelineConfig(), logger)
	if err != nil {
		return err
	}
	defer p.Close()

	answer, err := p.Query(context.Background(), strings.Join(args, " "), types.QueryOptions{
		MatchCount: matchCount,
		TopK:       topK,
		SkipRerank: skipRerank,
	})
	if err != nil {
		return err
	}

	return formatAnswer(answer, jsonOutput)
}

func formatAnswer(answer *types.Answer, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}

	if len(answer.Results) == 0 {
		fmt.Println("No passages found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-4s  %-12s  %-7s  %-30s  %-25s  %s\n",
		"Rank", "Authority", "Score", "Citation", "Title", "Excerpt")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 120))

	for i, r := range answer.Results {
		citation := r.Citation
		if len(citation) > 30 {
			citation = citation[:27] + "..."
		}
		title := r.Title
		if len(title) > 25 {
			title = title[:22] + "..."
		}
		excerpt := strings.ReplaceAll(r.Excerpt, "\n", " ")
		if len(excerpt) > 40 {
			excerpt = excerpt[:37] + "..."
		}
		fmt.Fprintf(os.Stdout, "%-4d  %-12s  %-7.3f  %-30s  %-25s  %s\n",
			i+1, r.AuthorityCategory, r.CombinedScore, citation, title, excerpt)
	}

	fmt.Fprintf(os.Stdout, "\n%d results, confidence %.3f", len(answer.Results), answer.Confidence)
	if answer.FallbackUsed {
		fmt.Fprint(os.Stdout, " (reranking degraded; pre-rerank order shown)")
	}
	fmt.Fprintln(os.Stdout)
	return nil
}

func init() {
	queryCmd.Flags().Int("match-count", 0, "candidate count from hybrid search (0 = use default)")
	queryCmd.Flags().Int("top-k", 0, "limit final results (0 = all)")
	queryCmd.Flags().Bool("skip-rerank", false, "skip the LLM reranking stage")
	queryCmd.Flags().Bool("json", false, "output the answer as JSON")

	rootCmd.AddCommand(queryCmd)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/mkoval/passage-engine/internal/corpus"
	"github.com/mkoval/passage-engine/internal/pipeline"
	"github.com/mkoval/passage-engine/pkg/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Chunk, embed, and index documents from a file or directory",
	Long: `Ingest loads documents from the given path (YAML scripture files,
.txt or .md prose), splits them into chunks, embeds the chunks, upserts
the vectors, and registers chunk metadata in the local document store.

A per-document report is printed. The command exits non-zero if any
document failed entirely.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	docs, err := corpus.Load(args[0])
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents found under %s", args[0])
	}

	p, err := pipeline.New(pipelineConfig(), logger)
	if err != nil {
		return err
	}
	defer p.Close()

	failed := 0
	var reports []*types.IngestReport
	for _, doc := range docs {
		report, err := p.Ingest(context.Background(), doc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ingest %s: %v\n", doc.ID, err)
			failed++
			continue
		}
		printReport(report)
		reports = append(reports, report)
		if report.Status == types.IngestFailed {
			failed++
		}
	}

	if reportPath, _ := cmd.Flags().GetString("report"); reportPath != "" {
		if err := exportReports(reportPath, reports); err != nil {
			return err
		}
		fmt.Printf("Report written to %s\n", reportPath)
	}

	fmt.Printf("\n%d document(s) processed, %d failed\n", len(docs), failed)
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed ingestion", failed)
	}
	return nil
}

// exportReports writes the per-document reports to a YAML file.
func exportReports(path string, reports []*types.IngestReport) error {
	data, err := yaml.Marshal(reports)
	if err != nil {
		return fmt.Errorf("encoding ingest report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing ingest report: %w", err)
	}
	return nil
}

func printReport(r *types.IngestReport) {
	mode := ""
	if r.TestMode {
		mode = "  (dry run: no vector store endpoint)"
	}
	fmt.Printf("%-30s  %-8s  %d/%d chunks stored%s\n",
		r.DocumentID, r.Status, r.StoredChunkCount, r.ChunkCount, mode)

	for _, f := range r.FailedChunks {
		fmt.Printf("    chunk %d (%s) failed at %s: %s\n", f.Index, f.ChunkID, f.Stage, f.Error)
	}
}

func init() {
	ingestCmd.Flags().String("report", "", "write per-document reports to a YAML file")

	rootCmd.AddCommand(ingestCmd)
}

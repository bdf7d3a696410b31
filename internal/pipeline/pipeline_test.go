// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkoval/passage-engine/internal/resilience"
	"github.com/mkoval/passage-engine/internal/retrieval"
	"github.com/mkoval/passage-engine/pkg/types"
)

const testDim = 4

// mockEmbedder embeds everything except texts containing a poison marker.
// A batch holding a poisoned text fails wholesale, mirroring a real
// batch-call failure, so the batcher's per-chunk decomposition kicks in.
type mockEmbedder struct {
	poison string
}

func (m *mockEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	if m.poison != "" {
		for _, in := range inputs {
			if strings.Contains(in, m.poison) {
				return nil, &types.TransientError{Op: "embedding", Status: 500}
			}
		}
	}
	vectors := make([][]float32, len(inputs))
	for i := range vectors {
		vectors[i] = []float32{float32(i), 1, 2, 3}
	}
	return vectors, nil
}

func (m *mockEmbedder) Model() string { return "mock-embedder" }

// mockJudge scores every passage the same and never fails.
type mockJudge struct {
	relevance float64
}

func (m *mockJudge) Score(_ context.Context, _, _ string) (retrieval.Judgment, error) {
	return retrieval.Judgment{Relevance: m.relevance, Reasoning: "judged"}, nil
}

func testConfig(t *testing.T) types.PipelineConfig {
	t.Helper()
	cfg := types.PipelineConfig{
		DocstorePath: filepath.Join(t.TempDir(), "passages.db"),
	}
	cfg.Embedding.MaxRetries = 1
	cfg.ApplyDefaults()
	return cfg
}

func fastFlowRetry() Option {
	return WithFlowRetry(resilience.RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
	})
}

func newTestPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithEmbedder(&mockEmbedder{}), fastFlowRetry()}, opts...)
	p, err := New(testConfig(t), zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func scriptureDoc(verses int) *types.Document {
	doc := &types.Document{
		ID:    "john",
		Title: "Gospel of John",
		Type:  types.DocScripture,
	}
	for i := 1; i <= verses; i++ {
		doc.Verses = append(doc.Verses, types.Verse{
			Book: "John", Chapter: 1, Number: i,
			Text: fmt.Sprintf("verse %d concerning the word and faith", i),
		})
	}
	return doc
}

func proseDoc(id string, sentences int) *types.Document {
	var sb strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&sb, "Faith is the assurance of things hoped for, sentence %d. ", i)
		if i%10 == 9 {
			sb.WriteString("\n\n")
		}
	}
	return &types.Document{
		ID:      id,
		Title:   "Commentary on Hebrews",
		Type:    types.DocProse,
		Content: sb.String(),
	}
}

func TestIngestScriptureDryRun(t *testing.T) {
	p := newTestPipeline(t)

	report, err := p.Ingest(context.Background(), scriptureDoc(12))
	require.NoError(t, err)

	assert.Equal(t, types.IngestOK, report.Status)
	assert.Equal(t, "john", report.DocumentID)
	assert.Equal(t, 3, report.ChunkCount) // windows of 5, stride 4
	assert.Equal(t, 3, report.StoredChunkCount)
	assert.Empty(t, report.FailedChunks)
	assert.True(t, report.TestMode, "no vector store endpoint means dry-run")

	// The register branch persisted metadata alongside the upsert.
	rec, err := p.Store().Document(context.Background(), "john")
	require.NoError(t, err)
	assert.Equal(t, "Gospel of John", rec.Title)
	assert.Equal(t, 3, rec.ChunkCount)
}

func TestIngestRequiresEmbedder(t *testing.T) {
	p, err := New(testConfig(t), zap.NewNop(), fastFlowRetry())
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Ingest(context.Background(), scriptureDoc(3))
	var ce *types.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "embedding.endpoint", ce.Key)
}

func TestIngestEmptyDocument(t *testing.T) {
	p := newTestPipeline(t)

	doc := &types.Document{ID: "blank", Title: "Blank", Type: types.DocProse, Content: "   \n\n  "}
	report, err := p.Ingest(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, types.IngestEmpty, report.Status)
	assert.Zero(t, report.ChunkCount)
	assert.Empty(t, report.FailedChunks)
}

func TestIngestInvalidDocument(t *testing.T) {
	p := newTestPipeline(t)

	doc := &types.Document{ID: "weird", Type: types.DocumentType("scroll"), Content: "x"}
	_, err := p.Ingest(context.Background(), doc)

	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestIngestPartialFailure(t *testing.T) {
	p := newTestPipeline(t, WithEmbedder(&mockEmbedder{poison: "verse 7"}))

	report, err := p.Ingest(context.Background(), scriptureDoc(12))
	require.NoError(t, err)

	// Verse 7 falls in the second window (verses 5-9); that chunk fails
	// embedding, the rest are stored.
	assert.Equal(t, types.IngestPartial, report.Status)
	assert.Equal(t, 3, report.ChunkCount)
	assert.Equal(t, 2, report.StoredChunkCount)
	require.Len(t, report.FailedChunks, 1)
	assert.Equal(t, 1, report.FailedChunks[0].Index)
	assert.Equal(t, report.ChunkCount, report.StoredChunkCount+len(report.FailedChunks),
		"every chunk is either stored or reported failed")

	// Metadata registration is independent of embedding failures.
	rec, err := p.Store().Document(context.Background(), "john")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.ChunkCount)
}

func TestQueryAgainstLocalIndex(t *testing.T) {
	p := newTestPipeline(t, WithJudge(&mockJudge{relevance: 0.9}))
	ctx := context.Background()

	_, err := p.Ingest(ctx, proseDoc("hebrews", 80))
	require.NoError(t, err)

	answer, err := p.Query(ctx, "assurance", types.QueryOptions{})
	require.NoError(t, err)

	require.NotEmpty(t, answer.Results)
	assert.Equal(t, "local", answer.Metadata["retrieval_mode"])
	assert.False(t, answer.FallbackUsed)
	assert.Greater(t, answer.Confidence, 0.0)

	first := answer.Results[0]
	assert.Equal(t, "hebrews", first.DocumentID)
	assert.Equal(t, "Commentary on Hebrews", first.Title)
	assert.Equal(t, types.AuthorityCommentary, first.AuthorityCategory)
	assert.NotEmpty(t, first.Excerpt)

	if len(answer.Results) > 3 {
		assert.Equal(t, 0.9, first.LLMRelevance)
		assert.Equal(t, "judged", first.Reasoning)
	}
}

func TestQuerySkipRerank(t *testing.T) {
	p := newTestPipeline(t, WithJudge(&mockJudge{relevance: 0.9}))
	ctx := context.Background()

	_, err := p.Ingest(ctx, proseDoc("hebrews", 80))
	require.NoError(t, err)

	answer, err := p.Query(ctx, "assurance", types.QueryOptions{SkipRerank: true})
	require.NoError(t, err)

	assert.Equal(t, "skipped", answer.Metadata["rerank"])
	for _, r := range answer.Results {
		assert.Equal(t, -1.0, r.LLMRelevance)
	}
}

func TestQueryTopK(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.Ingest(ctx, proseDoc("hebrews", 80))
	require.NoError(t, err)

	answer, err := p.Query(ctx, "faith", types.QueryOptions{TopK: 2, SkipRerank: true})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(answer.Results), 2)
}

func TestQueryRejectsEmptyQuery(t *testing.T) {
	p := newTestPipeline(t)

	_, err := p.Query(context.Background(), "  ", types.QueryOptions{})
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestQueryCacheHitSecondTime(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.Ingest(ctx, proseDoc("hebrews", 80))
	require.NoError(t, err)

	_, err = p.Query(ctx, "faith", types.QueryOptions{SkipRerank: true})
	require.NoError(t, err)

	answer, err := p.Query(ctx, "faith", types.QueryOptions{SkipRerank: true})
	require.NoError(t, err)
	assert.Equal(t, "hit", answer.Metadata["cache"])
}

func TestMetricsAndBreakersExposed(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.Ingest(ctx, proseDoc("hebrews", 40))
	require.NoError(t, err)
	_, err = p.Query(ctx, "faith", types.QueryOptions{SkipRerank: true})
	require.NoError(t, err)

	snap := p.Metrics()
	assert.Equal(t, int64(1), snap.CacheMisses)

	for _, b := range p.Breakers() {
		assert.Equal(t, resilience.StateClosed, b.State)
	}
}

func TestIngestReportNoReportError(t *testing.T) {
	// A cancelled context aborts the flow before a report exists.
	p := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Ingest(ctx, scriptureDoc(12))
	require.ErrorIs(t, err, context.Canceled)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embedding

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkoval/passage-engine/pkg/types"
)

// Batcher embeds a document's chunks in batches with partial-failure
// isolation: a failed batch is decomposed into individual calls so one bad
// chunk cannot fail its siblings, and any chunk that still fails is
// recorded rather than dropped. For any input,
// len(embedded) + len(failed) == len(input).
type Batcher struct {
	embedder  Embedder
	batchSize int
	maxChars  int
	logger    *zap.Logger

	// now is the clock; tests substitute it.
	now func() time.Time
}

// NewBatcher creates a batcher over the given embedder.
func NewBatcher(embedder Embedder, cfg types.EmbeddingConfig, logger *zap.Logger) *Batcher {
	cfg.ApplyDefaults()
	return &Batcher{
		embedder:  embedder,
		batchSize: cfg.BatchSize,
		maxChars:  cfg.MaxChars,
		logger:    logger,
		now:       time.Now,
	}
}

// EmbedChunks embeds the ordered chunks of one document. Chunk text is
// preprocessed (whitespace collapsed, truncated to the character ceiling)
// before embedding. The returned slices partition the input.
func (b *Batcher) EmbedChunks(ctx context.Context, chunks []types.Chunk) ([]types.EmbeddedChunk, []types.ChunkFailure) {
	var (
		embedded []types.EmbeddedChunk
		failed   []types.ChunkFailure
	)

	for start := 0; start < len(chunks); start += b.batchSize {
		end := start + b.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		inputs := make([]string, len(batch))
		for i, chunk := range batch {
			inputs[i] = Preprocess(chunk.Content, b.maxChars)
		}

		vectors, err := b.embedder.Embed(ctx, inputs)
		if err == nil {
			embedded = append(embedded, b.attach(batch, vectors)...)
			continue
		}

		b.logger.Warn("batch embedding failed, decomposing into per-chunk calls",
			zap.Int("batch_start", start),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		e, f := b.embedIndividually(ctx, batch, inputs)
		embedded = append(embedded, e...)
		failed = append(failed, f...)
	}

	return embedded, failed
}

// embedIndividually retries a failed batch one chunk at a time, isolating
// bad chunks from their siblings.
func (b *Batcher) embedIndividually(ctx context.Context, batch []types.Chunk, inputs []string) ([]types.EmbeddedChunk, []types.ChunkFailure) {
	var (
		embedded []types.EmbeddedChunk
		failed   []types.ChunkFailure
	)
	for i, chunk := range batch {
		vectors, err := b.embedder.Embed(ctx, inputs[i:i+1])
		if err != nil {
			failed = append(failed, types.ChunkFailure{
				ChunkID: chunk.ID,
				Index:   chunk.Index,
				Stage:   "embed",
				Error:   err.Error(),
			})
			continue
		}
		embedded = append(embedded, b.attach(batch[i:i+1], vectors)...)
	}
	return embedded, failed
}

// attach pairs chunks with their vectors.
func (b *Batcher) attach(batch []types.Chunk, vectors [][]float32) []types.EmbeddedChunk {
	generatedAt := b.now().UTC()
	out := make([]types.EmbeddedChunk, len(batch))
	for i, chunk := range batch {
		out[i] = types.EmbeddedChunk{
			Chunk:       chunk,
			Vector:      vectors[i],
			ModelID:     b.embedder.Model(),
			GeneratedAt: generatedAt,
		}
	}
	return out
}

// Preprocess collapses runs of whitespace to single spaces and truncates
// to maxChars, a conservative ceiling that keeps inputs under the
// embedding model's token limit.
func Preprocess(text string, maxChars int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if maxChars > 0 && len(collapsed) > maxChars {
		collapsed = collapsed[:maxChars]
	}
	return collapsed
}

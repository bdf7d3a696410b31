// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package vectorstore upserts embedded chunks into a remote vector index
// in independent batches. An unconfigured store degrades to a dry-run mode
// that reports success with a test-mode flag, so the pipeline can be
// exercised without live infrastructure.
//
// See docs/ARCHITECTURE.md § Vector Store.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mkoval/passage-engine/internal/httputil"
	"github.com/mkoval/passage-engine/internal/resilience"
	"github.com/mkoval/passage-engine/pkg/types"
)

// Client writes embedded chunks to the vector index.
type Client struct {
	endpoint   string
	apiKey     string
	collection string
	batchSize  int
	userAgent  string

	http    *http.Client
	breaker *resilience.Breaker
	budgets resilience.Budgets
	metrics *resilience.Metrics
	logger  *zap.Logger
}

// NewClient creates a vector store client. An empty endpoint is not an
// error: the client runs in dry-run mode and reports successes with
// TestMode set.
func NewClient(cfg types.VectorStoreConfig, breaker *resilience.Breaker, budgets resilience.Budgets, metrics *resilience.Metrics, logger *zap.Logger) *Client {
	cfg.ApplyDefaults()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		batchSize:  cfg.BatchSize,
		userAgent:  cfg.UserAgent,
		http:       &http.Client{Timeout: timeout},
		breaker:    breaker,
		budgets:    budgets,
		metrics:    metrics,
		logger:     logger,
	}
}

// TestMode reports whether the client is running without a configured
// endpoint.
func (c *Client) TestMode() bool { return c.endpoint == "" }

// UpsertResult reports the outcome of storing one document's chunks.
type UpsertResult struct {
	// Stored is the number of chunks upserted successfully.
	Stored int

	// FailedIndexes lists the chunk indices of every failed batch.
	FailedIndexes []int

	// TestMode reports that the store ran as a dry-run no-op.
	TestMode bool
}

// Upsert writes chunks in batches. Each batch is an independent call: a
// batch failure is logged and its chunk indices recorded, and subsequent
// batches still execute. A configured-but-unreachable store therefore
// fails per batch, never wholesale. Only context cancellation aborts the
// remaining batches.
func (c *Client) Upsert(ctx context.Context, chunks []types.EmbeddedChunk) (UpsertResult, error) {
	if c.TestMode() {
		c.logger.Info("vector store unconfigured, running in test mode",
			zap.Int("chunks", len(chunks)))
		return UpsertResult{Stored: len(chunks), TestMode: true}, nil
	}

	var result UpsertResult
	for start := 0; start < len(chunks); start += c.batchSize {
		end := start + c.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		if err := ctx.Err(); err != nil {
			for _, chunk := range chunks[start:] {
				result.FailedIndexes = append(result.FailedIndexes, chunk.Index)
			}
			return result, err
		}

		err := c.budgets.Run(ctx, resilience.OpUpsert, func(ctx context.Context) error {
			return c.breaker.Do(ctx, func(ctx context.Context) error {
				return c.upsertBatch(ctx, batch)
			})
		})
		if err != nil {
			c.metrics.IncFailures()
			c.logger.Warn("vector store batch failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			for _, chunk := range batch {
				result.FailedIndexes = append(result.FailedIndexes, chunk.Index)
			}
			continue
		}
		result.Stored += len(batch)
	}
	return result, nil
}

// point is one record in the batch-insert request.
type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// upsertBatch performs one batch-insert call.
func (c *Client) upsertBatch(ctx context.Context, batch []types.EmbeddedChunk) error {
	c.metrics.IncCalls()

	points := make([]point, len(batch))
	for i, chunk := range batch {
		points[i] = point{
			ID:     chunk.ID,
			Vector: chunk.Vector,
			Payload: map[string]any{
				"document_id": chunk.DocumentID,
				"chunk_index": chunk.Index,
				"content":     chunk.Content,
				"citation":    chunk.Citation,
				"type":        string(chunk.Type),
				"model_id":    chunk.ModelID,
			},
		}
	}

	body, err := json.Marshal(map[string]any{"points": points})
	if err != nil {
		return fmt.Errorf("encoding upsert batch: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points", c.endpoint, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, c.http, req, 0)
	if err != nil {
		return &types.TransientError{Op: "upsert", Err: err}
	}
	defer resp.Body.Close()

	if httputil.Transient(resp.StatusCode) {
		return &types.TransientError{Op: "upsert", Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("vector store returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embedding turns chunks into fixed-dimension vectors through a
// batched external embedding service, with retry, circuit breaking, and
// per-chunk failure isolation.
//
// See docs/ARCHITECTURE.md § Embedding.
package embedding

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

// Embedder abstracts the embedding service so the batcher can be tested
// with a mock.
type Embedder interface {
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	// Model identifies the embedding model.
	Model() string
}

// Client calls an OpenAI-compatible embeddings endpoint:
// POST {model, input: [...]} -> {data: [{embedding: [...]}]}.
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	dimension   int
	maxAttempts int
	userAgent   string

	http    *http.Client
	breaker *resilience.Breaker
	budgets resilience.Budgets
	metrics *resilience.Metrics
	logger  *zap.Logger
}

// NewClient creates an embedding client. A missing endpoint is a
// configuration error: the embedding service has no dry-run degradation.
func NewClient(cfg types.EmbeddingConfig, breaker *resilience.Breaker, budgets resilience.Budgets, metrics *resilience.Metrics, logger *zap.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if cfg.Endpoint == "" {
		return nil, &types.ConfigError{Key: "embedding.endpoint", Msg: "embedding service endpoint is required"}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		dimension:   cfg.Dimension,
		maxAttempts: cfg.MaxRetries,
		userAgent:   cfg.UserAgent,
		http:        &http.Client{Timeout: timeout},
		breaker:     breaker,
		budgets:     budgets,
		metrics:     metrics,
		logger:      logger,
	}, nil
}

// Model identifies the embedding model.
func (c *Client) Model() string { return c.model }

// Dimension is the expected vector length.
func (c *Client) Dimension() int { return c.dimension }

// Embed embeds up to one batch of inputs. The call runs under the
// embedding timeout budget and the embedding circuit breaker; transient
// HTTP failures are retried with exponential backoff before surfacing.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	err := c.budgets.Run(ctx, resilience.OpEmbed, func(ctx context.Context) error {
		return c.breaker.Do(ctx, func(ctx context.Context) error {
			v, err := c.call(ctx, inputs)
			if err != nil {
				return err
			}
			vectors = v
			return nil
		})
	})
	if err != nil {
		c.metrics.IncFailures()
		return nil, err
	}
	return vectors, nil
}

// embedRequest is the embeddings API request body.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the embeddings API response body.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) call(ctx context.Context, inputs []string) ([][]float32, error) {
	c.metrics.IncCalls()

	body, err := json.Marshal(embedRequest{Model: c.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("encoding embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, c.http, req, c.maxAttempts)
	if err != nil {
		return nil, &types.TransientError{Op: "embedding", Err: err}
	}
	defer resp.Body.Close()

	if httputil.Transient(resp.StatusCode) {
		return nil, &types.TransientError{Op: "embedding", Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned HTTP %d", resp.StatusCode)
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("parsing embedding response: %w", err)
	}
	if len(er.Data) != len(inputs) {
		return nil, types.NewValidationError("data",
			fmt.Sprintf("embedding service returned %d vectors for %d inputs", len(er.Data), len(inputs)))
	}

	vectors := make([][]float32, len(er.Data))
	for i, d := range er.Data {
		if len(d.Embedding) != c.dimension {
			return nil, types.NewValidationError("vector",
				fmt.Sprintf("dimension mismatch: got %d, want %d", len(d.Embedding), c.dimension))
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network
// requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "passage-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// ChunkingConfig holds the deterministic chunking parameters.
type ChunkingConfig struct {
	// VerseWindow is the verse-group window size (default 5).
	VerseWindow int `json:"verse_window" yaml:"verse_window"`

	// VerseOverlap is the verse overlap between consecutive groups (default 1).
	VerseOverlap int `json:"verse_overlap" yaml:"verse_overlap"`

	// CharWindow is the prose window in characters (default 1000).
	CharWindow int `json:"char_window" yaml:"char_window"`

	// CharOverlap is the prose overlap in characters (default 200).
	CharOverlap int `json:"char_overlap" yaml:"char_overlap"`

	// SentenceLookback is how far a prose boundary searches backward for a
	// sentence terminator (default 100).
	SentenceLookback int `json:"sentence_lookback" yaml:"sentence_lookback"`
}

// ApplyDefaults fills zero fields with the documented defaults.
func (c *ChunkingConfig) ApplyDefaults() {
	if c.VerseWindow <= 0 {
		c.VerseWindow = 5
	}
	if c.VerseOverlap <= 0 {
		c.VerseOverlap = 1
	}
	if c.CharWindow <= 0 {
		c.CharWindow = 1000
	}
	if c.CharOverlap <= 0 {
		c.CharOverlap = 200
	}
	if c.SentenceLookback <= 0 {
		c.SentenceLookback = 100
	}
}

// EmbeddingConfig holds settings for the embedding service client.
type EmbeddingConfig struct {
	HTTPConfig `yaml:",inline"`

	// Endpoint is the embeddings API base URL. Required.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// APIKey authenticates requests. Loaded from secrets when empty.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Model is the embedding model identifier (default "text-embedding-3-small").
	Model string `json:"model" yaml:"model"`

	// Dimension is the expected vector dimensionality (default 1536).
	Dimension int `json:"dimension" yaml:"dimension"`

	// BatchSize is the maximum inputs per call (default 100, ceiling 100).
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// MaxChars is the per-input character ceiling applied before embedding
	// (default 8000).
	MaxChars int `json:"max_chars" yaml:"max_chars"`

	// MaxRetries is the attempt count for transient failures (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// ApplyDefaults fills zero fields with the documented defaults.
func (c *EmbeddingConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension <= 0 {
		c.Dimension = 1536
	}
	if c.BatchSize <= 0 || c.BatchSize > 100 {
		c.BatchSize = 100
	}
	if c.MaxChars <= 0 {
		c.MaxChars = 8000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// VectorStoreConfig holds settings for the remote vector index. An empty
// Endpoint selects dry-run mode: upserts become no-ops reported with a
// test-mode flag.
type VectorStoreConfig struct {
	HTTPConfig `yaml:",inline"`

	// Endpoint is the vector store base URL. Empty selects dry-run mode.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// APIKey authenticates requests. Loaded from secrets when empty.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Collection is the target collection name (default "passages").
	Collection string `json:"collection" yaml:"collection"`

	// BatchSize is the upsert batch size (default 50).
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// ApplyDefaults fills zero fields with the documented defaults.
func (c *VectorStoreConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "passages"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
}

// RetrievalConfig holds settings for the hybrid search stage.
type RetrievalConfig struct {
	HTTPConfig `yaml:",inline"`

	// Endpoint is the hybrid search URL. Empty falls back to the local
	// FTS index in the document store.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// APIKey authenticates requests. Loaded from secrets when empty.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MatchCount is the default candidate count (default 10).
	MatchCount int `json:"match_count" yaml:"match_count"`

	// ExcerptLength is the excerpt size in characters (default 200).
	ExcerptLength int `json:"excerpt_length" yaml:"excerpt_length"`

	// CacheTTL is how long identical queries are served from cache
	// (default 5m; zero after defaulting disables the cache).
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// ApplyDefaults fills zero fields with the documented defaults.
func (c *RetrievalConfig) ApplyDefaults() {
	if c.MatchCount <= 0 {
		c.MatchCount = 10
	}
	if c.ExcerptLength <= 0 {
		c.ExcerptLength = 200
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
}

// RerankConfig holds settings for the LLM reranking stage.
type RerankConfig struct {
	// Model is the LLM identifier (default "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model"`

	// APIKey authenticates requests. Loaded from secrets when empty.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries is the attempt count for failed scoring calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// SkipThreshold disables reranking when the candidate count is at or
	// below it (default 3).
	SkipThreshold int `json:"skip_threshold" yaml:"skip_threshold"`

	// ExcerptChars caps the passage excerpt sent to the LLM (default 1500).
	ExcerptChars int `json:"excerpt_chars" yaml:"excerpt_chars"`
}

// ApplyDefaults fills zero fields with the documented defaults.
func (c *RerankConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "claude-sonnet-4-5-20250929"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.SkipThreshold <= 0 {
		c.SkipThreshold = 3
	}
	if c.ExcerptChars <= 0 {
		c.ExcerptChars = 1500
	}
}

// ResilienceConfig holds circuit breaker and timeout budget settings shared
// by every component that calls an external service.
type ResilienceConfig struct {
	// BreakerThreshold is the consecutive-failure count that opens a
	// circuit (default 5).
	BreakerThreshold int `json:"breaker_threshold" yaml:"breaker_threshold"`

	// BreakerTimeout is how long an open circuit stays open before
	// allowing a trial call (default 30s).
	BreakerTimeout time.Duration `json:"breaker_timeout" yaml:"breaker_timeout"`

	// EmbedBudget bounds one embedding call (default 30s).
	EmbedBudget time.Duration `json:"embed_budget" yaml:"embed_budget"`

	// SearchBudget bounds one hybrid search call (default 15s).
	SearchBudget time.Duration `json:"search_budget" yaml:"search_budget"`

	// RerankBudget bounds one LLM scoring call (default 20s).
	RerankBudget time.Duration `json:"rerank_budget" yaml:"rerank_budget"`

	// UpsertBudget bounds one vector-store batch upsert (default 30s).
	UpsertBudget time.Duration `json:"upsert_budget" yaml:"upsert_budget"`

	// PipelineBudget bounds a full flow run (default 5m).
	PipelineBudget time.Duration `json:"pipeline_budget" yaml:"pipeline_budget"`
}

// ApplyDefaults fills zero fields with the documented defaults.
func (c *ResilienceConfig) ApplyDefaults() {
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.EmbedBudget <= 0 {
		c.EmbedBudget = 30 * time.Second
	}
	if c.SearchBudget <= 0 {
		c.SearchBudget = 15 * time.Second
	}
	if c.RerankBudget <= 0 {
		c.RerankBudget = 20 * time.Second
	}
	if c.UpsertBudget <= 0 {
		c.UpsertBudget = 30 * time.Second
	}
	if c.PipelineBudget <= 0 {
		c.PipelineBudget = 5 * time.Minute
	}
}

// PipelineConfig aggregates configuration for the whole pipeline.
type PipelineConfig struct {
	// DocstorePath is the SQLite database path for document metadata
	// (default "corpus/index/passages.db").
	DocstorePath string `json:"docstore_path" yaml:"docstore_path"`

	Chunking    ChunkingConfig    `json:"chunking" yaml:"chunking"`
	Embedding   EmbeddingConfig   `json:"embedding" yaml:"embedding"`
	VectorStore VectorStoreConfig `json:"vector_store" yaml:"vector_store"`
	Retrieval   RetrievalConfig   `json:"retrieval" yaml:"retrieval"`
	Rerank      RerankConfig      `json:"rerank" yaml:"rerank"`
	Resilience  ResilienceConfig  `json:"resilience" yaml:"resilience"`
}

// ApplyDefaults fills zero fields with the documented defaults across all
// sections.
func (c *PipelineConfig) ApplyDefaults() {
	if c.DocstorePath == "" {
		c.DocstorePath = "corpus/index/passages.db"
	}
	c.Chunking.ApplyDefaults()
	c.Embedding.ApplyDefaults()
	c.VectorStore.ApplyDefaults()
	c.Retrieval.ApplyDefaults()
	c.Rerank.ApplyDefaults()
	c.Resilience.ApplyDefaults()
}

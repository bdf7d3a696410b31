// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/viper"

	"github.com/mkoval/passage-engine/pkg/types"
)

// pipelineConfig assembles the pipeline configuration from the config file
// and environment (via viper), filling API keys from loaded secrets when the
// config leaves them empty. Defaults are applied last.
func pipelineConfig() types.PipelineConfig {
	cfg := types.PipelineConfig{
		DocstorePath: viper.GetString("docstore_path"),
		Chunking: types.ChunkingConfig{
			VerseWindow:      viper.GetInt("chunking.verse_window"),
			VerseOverlap:     viper.GetInt("chunking.verse_overlap"),
			CharWindow:       viper.GetInt("chunking.char_window"),
			CharOverlap:      viper.GetInt("chunking.char_overlap"),
			SentenceLookback: viper.GetInt("chunking.sentence_lookback"),
		},
		Embedding: types.EmbeddingConfig{
			Endpoint:   viper.GetString("embedding.endpoint"),
			APIKey:     viper.GetString("embedding.api_key"),
			Model:      viper.GetString("embedding.model"),
			Dimension:  viper.GetInt("embedding.dimension"),
			BatchSize:  viper.GetInt("embedding.batch_size"),
			MaxChars:   viper.GetInt("embedding.max_chars"),
			MaxRetries: viper.GetInt("embedding.max_retries"),
		},
		VectorStore: types.VectorStoreConfig{
			Endpoint:   viper.GetString("vector_store.endpoint"),
			APIKey:     viper.GetString("vector_store.api_key"),
			Collection: viper.GetString("vector_store.collection"),
			BatchSize:  viper.GetInt("vector_store.batch_size"),
		},
		Retrieval: types.RetrievalConfig{
			Endpoint:      viper.GetString("retrieval.endpoint"),
			APIKey:        viper.GetString("retrieval.api_key"),
			MatchCount:    viper.GetInt("retrieval.match_count"),
			ExcerptLength: viper.GetInt("retrieval.excerpt_length"),
			CacheTTL:      viper.GetDuration("retrieval.cache_ttl"),
		},
		Rerank: types.RerankConfig{
			Model:         viper.GetString("rerank.model"),
			APIKey:        viper.GetString("rerank.api_key"),
			MaxRetries:    viper.GetInt("rerank.max_retries"),
			SkipThreshold: viper.GetInt("rerank.skip_threshold"),
			ExcerptChars:  viper.GetInt("rerank.excerpt_chars"),
		},
		Resilience: types.ResilienceConfig{
			BreakerThreshold: viper.GetInt("resilience.breaker_threshold"),
			BreakerTimeout:   viper.GetDuration("resilience.breaker_timeout"),
			EmbedBudget:      viper.GetDuration("resilience.embed_budget"),
			SearchBudget:     viper.GetDuration("resilience.search_budget"),
			RerankBudget:     viper.GetDuration("resilience.rerank_budget"),
			UpsertBudget:     viper.GetDuration("resilience.upsert_budget"),
			PipelineBudget:   viper.GetDuration("resilience.pipeline_budget"),
		},
	}

	cfg.Embedding.APIKey = secretDefault("embedding-api-key", cfg.Embedding.APIKey)
	cfg.VectorStore.APIKey = secretDefault("vector-store-api-key", cfg.VectorStore.APIKey)
	cfg.Retrieval.APIKey = secretDefault("search-api-key", cfg.Retrieval.APIKey)
	cfg.Rerank.APIKey = secretDefault("anthropic-api-key", cfg.Rerank.APIKey)

	cfg.ApplyDefaults()
	return cfg
}

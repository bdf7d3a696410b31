// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retrieval turns a user question into a ranked list of passages.
// It combines a remote hybrid search endpoint (semantic plus keyword) with
// the local document store: the store enriches remote hits with provenance
// and serves as a full-text fallback when the endpoint is missing or down.
// Candidates are then weighted by source authority and optionally reranked
// by an LLM judge.
//
// See docs/ARCHITECTURE.md § Retrieval.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/mkoval/passage-engine/internal/docstore"
	"github.com/mkoval/passage-engine/internal/httputil"
	"github.com/mkoval/passage-engine/internal/resilience"
	"github.com/mkoval/passage-engine/pkg/types"
)

// Mode records how a retrieval was served.
type Mode string

const (
	// ModeRemote means the hybrid search endpoint answered.
	ModeRemote Mode = "remote"

	// ModeLocal means the local FTS index answered, either because no
	// endpoint is configured or because the endpoint failed.
	ModeLocal Mode = "local"
)

// Outcome is a retrieval result set plus how it was produced.
type Outcome struct {
	Results []types.SearchResult

	// Mode is where the candidates came from.
	Mode Mode

	// CacheHit reports the results were served from the TTL cache.
	CacheHit bool

	// Degraded reports the remote endpoint failed and the local index
	// answered instead.
	Degraded bool
}

// Retriever fetches passage candidates for a query.
type Retriever struct {
	endpoint      string
	apiKey        string
	matchCount    int
	excerptLength int
	userAgent     string

	http    *http.Client
	breaker *resilience.Breaker
	budgets resilience.Budgets
	cache   *resilience.Cache
	metrics *resilience.Metrics
	store   *docstore.Store
	logger  *zap.Logger
}

// NewRetriever creates a retriever. An empty endpoint is valid: retrieval
// then runs against the local document store only. store may be nil, which
// disables enrichment and the local fallback.
func NewRetriever(cfg types.RetrievalConfig, store *docstore.Store, breaker *resilience.Breaker, budgets resilience.Budgets, metrics *resilience.Metrics, logger *zap.Logger) *Retriever {
	cfg.ApplyDefaults()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Retriever{
		endpoint:      cfg.Endpoint,
		apiKey:        cfg.APIKey,
		matchCount:    cfg.MatchCount,
		excerptLength: cfg.ExcerptLength,
		userAgent:     cfg.UserAgent,
		http:          &http.Client{Timeout: timeout},
		breaker:       breaker,
		budgets:       budgets,
		cache:         resilience.NewCache(cfg.CacheTTL),
		metrics:       metrics,
		store:         store,
		logger:        logger,
	}
}

// Retrieve returns up to matchCount candidates for query. Identical
// (query, matchCount) pairs within the cache TTL are served from cache.
// Remote failures degrade to the local index rather than failing the
// query; an error is returned only when no retrieval path is available.
func (r *Retriever) Retrieve(ctx context.Context, query string, matchCount int) (Outcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Outcome{}, &types.ValidationError{Field: "query", Msg: "must not be empty"}
	}
	if matchCount <= 0 {
		matchCount = r.matchCount
	}

	key := resilience.Key("search", map[string]any{"query": query, "match_count": matchCount})
	if cached, ok := r.cache.Get(key); ok {
		r.metrics.IncCacheHits()
		out := cached.(Outcome)
		out.CacheHit = true
		out.Results = cloneResults(out.Results)
		return out, nil
	}
	r.metrics.IncCacheMisses()

	out, err := r.fetch(ctx, query, matchCount)
	if err != nil {
		return Outcome{}, err
	}

	stored := out
	stored.Results = cloneResults(out.Results)
	r.cache.Set(key, stored)
	return out, nil
}

// fetch picks the retrieval path: remote when configured, local otherwise,
// local again when remote fails.
func (r *Retriever) fetch(ctx context.Context, query string, matchCount int) (Outcome, error) {
	if r.endpoint == "" {
		results, err := r.searchLocal(ctx, query, matchCount)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Results: results, Mode: ModeLocal}, nil
	}

	results, err := r.searchRemote(ctx, query, matchCount)
	if err == nil {
		return Outcome{Results: results, Mode: ModeRemote}, nil
	}

	r.logger.Warn("hybrid search failed, falling back to local index",
		zap.String("query", query), zap.Error(err))
	if r.store == nil {
		return Outcome{}, err
	}
	results, localErr := r.searchLocal(ctx, query, matchCount)
	if localErr != nil {
		return Outcome{}, fmt.Errorf("remote search failed (%v); local fallback: %w", err, localErr)
	}
	return Outcome{Results: results, Mode: ModeLocal, Degraded: true}, nil
}

// searchRequest is the hybrid search call payload.
type searchRequest struct {
	Query      string `json:"query"`
	MatchCount int    `json:"match_count"`
}

// searchResponse mirrors the hybrid search endpoint's reply.
type searchResponse struct {
	Results []struct {
		DocumentID string         `json:"document_id"`
		ChunkIndex *int           `json:"chunk_index"`
		Content    string         `json:"content"`
		Citation   string         `json:"citation"`
		Similarity float64        `json:"similarity"`
		Metadata   map[string]any `json:"metadata"`
	} `json:"results"`
}

func (r *Retriever) searchRemote(ctx context.Context, query string, matchCount int) ([]types.SearchResult, error) {
	var results []types.SearchResult
	err := r.budgets.Run(ctx, resilience.OpSearch, func(ctx context.Context) error {
		return r.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			results, err = r.callSearch(ctx, query, matchCount)
			return err
		})
	})
	if err != nil {
		r.metrics.IncFailures()
		return nil, err
	}
	return results, nil
}

func (r *Retriever) callSearch(ctx context.Context, query string, matchCount int) ([]types.SearchResult, error) {
	r.metrics.IncCalls()

	body, err := json.Marshal(searchRequest{Query: query, MatchCount: matchCount})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, r.http, req, 0)
	if err != nil {
		return nil, &types.TransientError{Op: "search", Err: err}
	}
	defer resp.Body.Close()

	if httputil.Transient(resp.StatusCode) {
		return nil, &types.TransientError{Op: "search", Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hybrid search returned HTTP %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]types.SearchResult, 0, len(sr.Results))
	for _, raw := range sr.Results {
		res := types.SearchResult{
			DocumentID:   raw.DocumentID,
			ChunkIndex:   -1,
			Content:      raw.Content,
			Citation:     raw.Citation,
			RawRelevance: clamp01(raw.Similarity),
			LLMRelevance: -1,
			Metadata:     raw.Metadata,
		}
		if raw.ChunkIndex != nil {
			res.ChunkIndex = *raw.ChunkIndex
		}
		res.Excerpt = excerpt(res.Content, r.excerptLength)
		r.enrich(ctx, &res)
		results = append(results, res)
	}
	return results, nil
}

// enrich fills title, citation, page, and paragraph from the document
// store. Enrichment is best-effort: a miss leaves the result as the
// endpoint returned it.
func (r *Retriever) enrich(ctx context.Context, res *types.SearchResult) {
	if r.store == nil || res.DocumentID == "" || res.ChunkIndex < 0 {
		return
	}
	loc, err := r.store.Locate(ctx, res.DocumentID, res.ChunkIndex)
	if err != nil {
		r.logger.Debug("result enrichment miss",
			zap.String("document_id", res.DocumentID),
			zap.Int("chunk_index", res.ChunkIndex))
		return
	}
	res.Title = loc.Title
	res.Page = loc.Page
	res.Paragraph = loc.Paragraph
	if res.Citation == "" {
		res.Citation = loc.Citation
	}
}

func (r *Retriever) searchLocal(ctx context.Context, query string, matchCount int) ([]types.SearchResult, error) {
	if r.store == nil {
		return nil, &types.ConfigError{Key: "retrieval.endpoint", Msg: "no search endpoint and no local index configured"}
	}
	results, err := r.store.Search(ctx, query, matchCount)
	if err != nil {
		return nil, fmt.Errorf("local search: %w", err)
	}
	for i := range results {
		results[i].Excerpt = excerpt(results[i].Content, r.excerptLength)
	}
	return results, nil
}

// excerpt returns the first maxLen characters of content, cut back to the
// preceding word boundary, with an ellipsis when truncated.
func excerpt(content string, maxLen int) string {
	content = strings.TrimSpace(content)
	if len(content) <= maxLen {
		return content
	}
	cut := maxLen
	for cut > 0 && !unicode.IsSpace(rune(content[cut-1])) {
		cut--
	}
	if cut == 0 {
		cut = maxLen
	}
	return strings.TrimSpace(content[:cut]) + "…"
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cloneResults(results []types.SearchResult) []types.SearchResult {
	out := make([]types.SearchResult, len(results))
	copy(out, results)
	return out
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/mkoval/passage-engine/internal/resilience"
	"github.com/mkoval/passage-engine/pkg/types"
)

// Judge abstracts the LLM scoring call so tests can supply a mock.
type Judge interface {
	// Score judges the relevance of one passage to the query.
	Score(ctx context.Context, query, passage string) (Judgment, error)
}

// Judgment is the LLM's verdict on one passage.
type Judgment struct {
	// Relevance is in [0,1] after clamping.
	Relevance float64 `json:"relevance"`

	// Reasoning is a short explanation of the score.
	Reasoning string `json:"reasoning"`
}

// fallbackReasoning annotates a result whose scoring call failed.
const fallbackReasoning = "re-ranking failed"

// Reranker reorders retrieval candidates by LLM-judged relevance.
type Reranker struct {
	judge         Judge
	skipThreshold int
	excerptChars  int
	retry         resilience.RetryPolicy

	breaker *resilience.Breaker
	budgets resilience.Budgets
	metrics *resilience.Metrics
	logger  *zap.Logger
}

// NewReranker creates a reranker around judge.
func NewReranker(judge Judge, cfg types.RerankConfig, breaker *resilience.Breaker, budgets resilience.Budgets, metrics *resilience.Metrics, logger *zap.Logger) *Reranker {
	cfg.ApplyDefaults()
	retry := resilience.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.MaxRetries
	retry.Metrics = metrics
	return &Reranker{
		judge:         judge,
		skipThreshold: cfg.SkipThreshold,
		excerptChars:  cfg.ExcerptChars,
		retry:         retry,
		breaker:       breaker,
		budgets:       budgets,
		metrics:       metrics,
		logger:        logger,
	}
}

// Rerank scores each result and reorders by LLM relevance descending.
// Results are modified in place. Small candidate sets (at or below the skip
// threshold) are returned untouched: the authority-weighted order already
// decides them, and the LLM calls would cost more than they refine.
//
// Failures degrade per item: a result whose scoring call fails after
// retries substitutes its prior combined score for the LLM judgment and is
// annotated rather than dropped, so it keeps competing at its pre-rerank
// strength. If every call fails the pre-rerank ordering is returned with
// fallbackUsed set.
func (r *Reranker) Rerank(ctx context.Context, query string, results []types.SearchResult) (fallbackUsed bool) {
	if len(results) <= r.skipThreshold {
		return false
	}

	scored := 0
	for i := range results {
		res := &results[i]
		judgment, err := r.scoreOne(ctx, query, res.Content)
		if err != nil {
			r.metrics.IncFailures()
			r.logger.Warn("rerank scoring failed",
				zap.String("citation", res.Citation), zap.Error(err))
			res.LLMRelevance = clamp01(res.CombinedScore)
			res.Reasoning = fallbackReasoning
			continue
		}
		res.LLMRelevance = clamp01(judgment.Relevance)
		res.Reasoning = judgment.Reasoning
		scored++
	}

	if scored == 0 {
		return true
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].LLMRelevance > results[j].LLMRelevance
	})
	return false
}

// scoreOne runs one scoring call under the rerank budget, breaker, and
// retry policy.
func (r *Reranker) scoreOne(ctx context.Context, query, content string) (Judgment, error) {
	if len(content) > r.excerptChars {
		content = content[:r.excerptChars]
	}

	var judgment Judgment
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.budgets.Run(ctx, resilience.OpRerank, func(ctx context.Context) error {
			return r.breaker.Do(ctx, func(ctx context.Context) error {
				r.metrics.IncCalls()
				var err error
				judgment, err = r.judge.Score(ctx, query, content)
				return err
			})
		})
	})
	return judgment, err
}

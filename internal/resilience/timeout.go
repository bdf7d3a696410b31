// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/mkoval/passage-engine/pkg/types"
)

// Op names an operation type with its own timeout budget.
type Op string

const (
	OpEmbed    Op = "embedding"
	OpSearch   Op = "search"
	OpRerank   Op = "rerank"
	OpUpsert   Op = "upsert"
	OpPipeline Op = "pipeline"
)

// Budgets holds the per-operation-type timeout budgets.
type Budgets struct {
	Embed    time.Duration
	Search   time.Duration
	Rerank   time.Duration
	Upsert   time.Duration
	Pipeline time.Duration

	// Metrics, when set, counts budget overruns.
	Metrics *Metrics
}

// BudgetsFromConfig builds Budgets from the resilience configuration.
func BudgetsFromConfig(cfg types.ResilienceConfig) Budgets {
	cfg.ApplyDefaults()
	return Budgets{
		Embed:    cfg.EmbedBudget,
		Search:   cfg.SearchBudget,
		Rerank:   cfg.RerankBudget,
		Upsert:   cfg.UpsertBudget,
		Pipeline: cfg.PipelineBudget,
	}
}

// For returns the budget for op, or the pipeline budget for unknown ops.
func (b Budgets) For(op Op) time.Duration {
	switch op {
	case OpEmbed:
		return b.Embed
	case OpSearch:
		return b.Search
	case OpRerank:
		return b.Rerank
	case OpUpsert:
		return b.Upsert
	default:
		return b.Pipeline
	}
}

// Run executes fn under op's timeout budget. A deadline overrun is
// converted into a typed *types.TimeoutError instead of propagating as a
// bare context error.
func (b Budgets) Run(ctx context.Context, op Op, fn func(context.Context) error) error {
	budget := b.For(op)
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if b.Metrics != nil {
			b.Metrics.IncTimeouts()
		}
		return &types.TimeoutError{Op: string(op), Budget: budget}
	}
	return err
}

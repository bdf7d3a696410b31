// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline wires the chunker, embedder, vector store, document
// store, retriever, and reranker into the two caller-facing operations:
// Ingest and Query. Each operation runs as a flow of namespaced stages.
//
// See docs/ARCHITECTURE.md § Pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mkoval/passage-engine/internal/chunker"
	"github.com/mkoval/passage-engine/internal/docstore"
	"github.com/mkoval/passage-engine/internal/embedding"
	"github.com/mkoval/passage-engine/internal/flow"
	"github.com/mkoval/passage-engine/internal/resilience"
	"github.com/mkoval/passage-engine/internal/retrieval"
	"github.com/mkoval/passage-engine/internal/vectorstore"
	"github.com/mkoval/passage-engine/pkg/types"
)

// Pipeline owns the pipeline components and the two flows built over them.
type Pipeline struct {
	cfg    types.PipelineConfig
	logger *zap.Logger

	chunker   *chunker.Chunker
	batcher   *embedding.Batcher
	vectors   *vectorstore.Client
	store     *docstore.Store
	retriever *retrieval.Retriever
	reranker  *retrieval.Reranker

	breakers *resilience.Registry
	budgets  resilience.Budgets
	metrics  *resilience.Metrics

	ingestFlow *flow.Flow
	queryFlow  *flow.Flow
}

// Option customizes pipeline construction.
type Option func(*options)

type options struct {
	embedder  embedding.Embedder
	judge     retrieval.Judge
	flowRetry *resilience.RetryPolicy
}

// WithEmbedder substitutes the embedding backend. Used by tests and by
// callers with a non-HTTP embedder.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithJudge substitutes the rerank judge.
func WithJudge(j retrieval.Judge) Option {
	return func(o *options) { o.judge = j }
}

// WithFlowRetry overrides the retry policy the flow engine applies around
// stage execs.
func WithFlowRetry(p resilience.RetryPolicy) Option {
	return func(o *options) { o.flowRetry = &p }
}

// New builds a pipeline from configuration. The embedding stage is optional
// at construction time: without an embedding endpoint (or injected
// embedder) Ingest returns a ConfigError but Query still works. The rerank
// stage degrades to a pass-through without an API key.
func New(cfg types.PipelineConfig, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store, err := docstore.Open(cfg.DocstorePath)
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}

	metrics := resilience.NewMetrics()
	breakers := resilience.NewRegistry(cfg.Resilience.BreakerThreshold, cfg.Resilience.BreakerTimeout).
		Instrument(metrics)
	budgets := resilience.BudgetsFromConfig(cfg.Resilience)
	budgets.Metrics = metrics

	p := &Pipeline{
		cfg:      cfg,
		logger:   logger,
		chunker:  chunker.New(cfg.Chunking),
		store:    store,
		breakers: breakers,
		budgets:  budgets,
		metrics:  metrics,
	}

	p.vectors = vectorstore.NewClient(cfg.VectorStore, breakers.Get("vector-store"), budgets, metrics, logger)
	p.retriever = retrieval.NewRetriever(cfg.Retrieval, store, breakers.Get("search"), budgets, metrics, logger)

	embedder := o.embedder
	if embedder == nil && cfg.Embedding.Endpoint != "" {
		client, err := embedding.NewClient(cfg.Embedding, breakers.Get("embedding"), budgets, metrics, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		embedder = client
	}
	if embedder != nil {
		p.batcher = embedding.NewBatcher(embedder, cfg.Embedding, logger)
	}

	judge := o.judge
	if judge == nil && cfg.Rerank.APIKey != "" {
		judge = &retrieval.ClaudeJudge{APIKey: cfg.Rerank.APIKey, Model: cfg.Rerank.Model}
	}
	if judge != nil {
		p.reranker = retrieval.NewReranker(judge, cfg.Rerank, breakers.Get("rerank"), budgets, metrics, logger)
	}

	if err := p.buildFlows(o.flowRetry); err != nil {
		store.Close()
		return nil, err
	}
	return p, nil
}

// buildFlows assembles the reusable ingestion and query flows. Per-run
// state travels in the flow context, never in the stages.
func (p *Pipeline) buildFlows(retry *resilience.RetryPolicy) error {
	ingest := flow.NewBuilder("ingest", p.logger)
	query := flow.NewBuilder("query", p.logger)
	policy := resilience.DefaultRetryPolicy()
	if retry != nil {
		policy = *retry
	}
	policy.Metrics = p.metrics
	ingest.Retry(policy)
	query.Retry(policy)

	var err error
	p.ingestFlow, err = ingest.
		Add(stageChunk, &chunkStage{chunker: p.chunker}).
		Parallel(stageIndex, map[string]flow.Stage{
			branchEmbed:   &embedStage{batcher: p.batcher, vectors: p.vectors},
			branchRegistr: &registerStage{store: p.store},
		}).
		Add(stageReport, &reportStage{}).
		Then(stageChunk, stageIndex).
		On(stageChunk, signalEmpty, stageReport).
		Then(stageIndex, stageReport).
		On(stageIndex, flow.SignalFailure, stageReport).
		Build()
	if err != nil {
		return fmt.Errorf("building ingestion flow: %w", err)
	}

	p.queryFlow, err = query.
		Add(stageRetrieve, &retrieveStage{retriever: p.retriever}).
		Add(stageWeight, &weightStage{}).
		Add(stageRerank, &rerankStage{reranker: p.reranker}).
		Add(stageAnswer, &answerStage{}).
		Then(stageRetrieve, stageWeight).
		Then(stageWeight, stageRerank).
		Then(stageRerank, stageAnswer).
		Build()
	if err != nil {
		return fmt.Errorf("building query flow: %w", err)
	}
	return nil
}

// Close releases the pipeline's resources.
func (p *Pipeline) Close() error {
	return p.store.Close()
}

// Ingest runs the ingestion flow for one document: chunk, then embed and
// upsert in parallel with metadata registration, then report. Partial
// failure is data in the report, not an error; errors are reserved for
// invalid input and an unusable pipeline.
func (p *Pipeline) Ingest(ctx context.Context, doc *types.Document) (*types.IngestReport, error) {
	if p.batcher == nil {
		return nil, &types.ConfigError{Key: "embedding.endpoint", Msg: "required for ingestion"}
	}

	fc := flow.NewContext()
	fc.Scope(nsInput).Set(keyDocument, doc)

	var outcome flow.Outcome
	err := p.budgets.Run(ctx, resilience.OpPipeline, func(ctx context.Context) error {
		outcome = p.ingestFlow.Run(ctx, fc)
		return outcome.Err
	})
	if err != nil && !outcome.Success {
		return nil, unwrapStageError(err)
	}

	v, ok := fc.Get(stageReport, "report")
	if !ok {
		return nil, errors.New("ingestion flow produced no report")
	}
	report := v.(*types.IngestReport)
	p.logger.Info("document ingested",
		zap.String("document_id", report.DocumentID),
		zap.String("status", string(report.Status)),
		zap.Int("chunks", report.ChunkCount),
		zap.Int("stored", report.StoredChunkCount),
		zap.Bool("test_mode", report.TestMode))
	return report, nil
}

// Query runs the query flow: retrieve, weight by authority, rerank, and
// assemble the answer. Retrieval failure is the only hard failure;
// reranking and enrichment degrade into the answer's metadata.
func (p *Pipeline) Query(ctx context.Context, query string, opts types.QueryOptions) (*types.Answer, error) {
	fc := flow.NewContext()
	fc.Scope(nsInput).Set(keyQuery, query)
	fc.Scope(nsInput).Set(keyOptions, opts)

	var outcome flow.Outcome
	err := p.budgets.Run(ctx, resilience.OpPipeline, func(ctx context.Context) error {
		outcome = p.queryFlow.Run(ctx, fc)
		return outcome.Err
	})
	if err != nil && !outcome.Success {
		return nil, unwrapStageError(err)
	}

	v, ok := fc.Get(stageAnswer, "answer")
	if !ok {
		return nil, errors.New("query flow produced no answer")
	}
	return v.(*types.Answer), nil
}

// unwrapStageError strips the flow's StageError wrapper so callers see the
// typed error (ValidationError, ConfigError, TimeoutError) directly.
func unwrapStageError(err error) error {
	var se *flow.StageError
	if errors.As(err, &se) && se.Err != nil {
		return se.Err
	}
	return err
}

// Store exposes the document store for the CLI's stats command.
func (p *Pipeline) Store() *docstore.Store { return p.store }

// Metrics returns the resilience counters.
func (p *Pipeline) Metrics() resilience.MetricsSnapshot { return p.metrics.Snapshot() }

// Breakers returns the state of every circuit breaker created so far.
func (p *Pipeline) Breakers() []resilience.Snapshot { return p.breakers.Snapshots() }

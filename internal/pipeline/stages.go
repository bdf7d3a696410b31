// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"

	"github.com/mkoval/passage-engine/internal/chunker"
	"github.com/mkoval/passage-engine/internal/docstore"
	"github.com/mkoval/passage-engine/internal/embedding"
	"github.com/mkoval/passage-engine/internal/flow"
	"github.com/mkoval/passage-engine/internal/retrieval"
	"github.com/mkoval/passage-engine/internal/vectorstore"
	"github.com/mkoval/passage-engine/pkg/types"
)

// Context namespaces and keys shared between stages. The input namespace is
// written by Ingest/Query before the flow runs; every other namespace is
// owned by the stage of the same name.
const (
	nsInput     = "input"
	keyDocument = "document"
	keyQuery    = "query"
	keyOptions  = "options"

	stageChunk    = "chunk"
	stageIndex    = "index"
	branchEmbed   = "embed"
	branchRegistr = "register"
	stageReport   = "report"

	stageRetrieve = "retrieve"
	stageWeight   = "weight"
	stageRerank   = "rerank"
	stageAnswer   = "answer"

	// signalEmpty routes a document with zero chunks straight to the report.
	signalEmpty = flow.Signal("empty")
)

// --- ingestion stages ---

// chunkStage splits the input document.
type chunkStage struct {
	chunker *chunker.Chunker
}

func (s *chunkStage) Prep(fc *flow.Context) (any, error) {
	v, ok := fc.Get(nsInput, keyDocument)
	if !ok {
		return nil, &types.ValidationError{Field: "document", Msg: "missing from flow input"}
	}
	doc, ok := v.(*types.Document)
	if !ok || doc == nil {
		return nil, &types.ValidationError{Field: "document", Msg: "missing from flow input"}
	}
	return doc, nil
}

func (s *chunkStage) Exec(_ context.Context, prepared any) (any, error) {
	return s.chunker.Split(prepared.(*types.Document))
}

func (s *chunkStage) Post(_ *flow.Context, _, result any) (flow.Signal, error) {
	if chunks := result.([]types.Chunk); len(chunks) == 0 {
		return signalEmpty, nil
	}
	return flow.SignalDefault, nil
}

// chunksFrom reads the chunk stage's output from the context.
func chunksFrom(fc *flow.Context) ([]types.Chunk, error) {
	r, ok := flow.StageResult(fc, stageChunk)
	if !ok || r.Err != nil {
		return nil, &types.ValidationError{Field: "chunks", Msg: "chunk stage produced no result"}
	}
	chunks, ok := r.Value.([]types.Chunk)
	if !ok {
		return nil, &types.ValidationError{Field: "chunks", Msg: "chunk stage produced no result"}
	}
	return chunks, nil
}

// embedOutcome is the embed branch's output: what got embedded, what failed
// embedding, and how the vector store upsert went.
type embedOutcome struct {
	embedded []types.EmbeddedChunk
	failures []types.ChunkFailure
	upsert   vectorstore.UpsertResult
}

// embedStage embeds the chunks and upserts them into the vector store. It
// runs as one branch of the index fan-out.
type embedStage struct {
	batcher *embedding.Batcher
	vectors *vectorstore.Client
}

func (s *embedStage) Prep(fc *flow.Context) (any, error) {
	return chunksFrom(fc)
}

func (s *embedStage) Exec(ctx context.Context, prepared any) (any, error) {
	chunks := prepared.([]types.Chunk)

	embedded, failures := s.batcher.EmbedChunks(ctx, chunks)
	upsert, err := s.vectors.Upsert(ctx, embedded)
	if err != nil {
		return nil, fmt.Errorf("upserting %d chunks: %w", len(embedded), err)
	}
	return embedOutcome{embedded: embedded, failures: failures, upsert: upsert}, nil
}

func (s *embedStage) Post(*flow.Context, any, any) (flow.Signal, error) {
	return flow.SignalDefault, nil
}

// registerStage records document and chunk metadata in the document store.
// It runs as the other branch of the index fan-out.
type registerStage struct {
	store *docstore.Store
}

type registerInput struct {
	doc    *types.Document
	chunks []types.Chunk
}

func (s *registerStage) Prep(fc *flow.Context) (any, error) {
	v, _ := fc.Get(nsInput, keyDocument)
	doc, ok := v.(*types.Document)
	if !ok {
		return nil, &types.ValidationError{Field: "document", Msg: "missing from flow input"}
	}
	chunks, err := chunksFrom(fc)
	if err != nil {
		return nil, err
	}
	return registerInput{doc: doc, chunks: chunks}, nil
}

func (s *registerStage) Exec(ctx context.Context, prepared any) (any, error) {
	in := prepared.(registerInput)
	if err := s.store.Register(ctx, in.doc, in.chunks); err != nil {
		return nil, fmt.Errorf("registering document %s: %w", in.doc.ID, err)
	}
	return len(in.chunks), nil
}

func (s *registerStage) Post(*flow.Context, any, any) (flow.Signal, error) {
	return flow.SignalDefault, nil
}

// reportStage joins the fan-out and assembles the IngestReport. It runs on
// both the success path and the failure edge, so it reads every upstream
// result defensively.
type reportStage struct{}

func (s *reportStage) Prep(fc *flow.Context) (any, error) {
	v, _ := fc.Get(nsInput, keyDocument)
	doc, ok := v.(*types.Document)
	if !ok {
		return nil, &types.ValidationError{Field: "document", Msg: "missing from flow input"}
	}
	return doc, nil
}

func (s *reportStage) Exec(_ context.Context, prepared any) (any, error) {
	return prepared, nil
}

func (s *reportStage) Post(fc *flow.Context, _, result any) (flow.Signal, error) {
	doc := result.(*types.Document)
	report := &types.IngestReport{DocumentID: doc.ID}

	var chunks []types.Chunk
	if r, ok := flow.StageResult(fc, stageChunk); ok && r.Err == nil {
		chunks, _ = r.Value.([]types.Chunk)
	}
	report.ChunkCount = len(chunks)
	if report.ChunkCount == 0 {
		report.Status = types.IngestEmpty
		fc.Scope(stageReport).Set("report", report)
		return flow.SignalDefault, nil
	}

	chunkByIndex := make(map[int]types.Chunk, len(chunks))
	for _, chunk := range chunks {
		chunkByIndex[chunk.Index] = chunk
	}

	registerFailed := false
	if r, ok := flow.StageResult(fc, branchRegistr); ok && r.Err != nil {
		registerFailed = true
	}

	if r, ok := flow.StageResult(fc, branchEmbed); ok {
		switch {
		case r.Err != nil:
			// The whole embed branch died (context cancellation or an
			// upsert hard failure): every chunk is unaccounted for.
			for _, chunk := range chunks {
				report.FailedChunks = append(report.FailedChunks, types.ChunkFailure{
					ChunkID: chunk.ID, Index: chunk.Index,
					Stage: branchEmbed, Error: r.Err.Error(),
				})
			}
		default:
			out := r.Value.(embedOutcome)
			report.FailedChunks = append(report.FailedChunks, out.failures...)
			for _, idx := range out.upsert.FailedIndexes {
				failure := types.ChunkFailure{Index: idx, Stage: "store", Error: "vector store batch failed"}
				if chunk, ok := chunkByIndex[idx]; ok {
					failure.ChunkID = chunk.ID
				}
				report.FailedChunks = append(report.FailedChunks, failure)
			}
			report.StoredChunkCount = out.upsert.Stored
			report.TestMode = out.upsert.TestMode
		}
	}

	switch {
	case report.StoredChunkCount == 0:
		report.Status = types.IngestFailed
	case len(report.FailedChunks) > 0 || registerFailed:
		report.Status = types.IngestPartial
	default:
		report.Status = types.IngestOK
	}

	fc.Scope(stageReport).Set("report", report)
	return flow.SignalDefault, nil
}

// --- query stages ---

// queryInput is what the query stages read from the input namespace.
type queryInput struct {
	query string
	opts  types.QueryOptions
}

func queryFrom(fc *flow.Context) (queryInput, error) {
	v, ok := fc.Get(nsInput, keyQuery)
	if !ok {
		return queryInput{}, &types.ValidationError{Field: "query", Msg: "missing from flow input"}
	}
	in := queryInput{query: v.(string)}
	if o, ok := fc.Get(nsInput, keyOptions); ok {
		in.opts, _ = o.(types.QueryOptions)
	}
	return in, nil
}

// retrieveStage fetches candidates. Its failure is the query flow's only
// hard failure: there is no failure edge out of it.
type retrieveStage struct {
	retriever *retrieval.Retriever
}

func (s *retrieveStage) Prep(fc *flow.Context) (any, error) {
	return queryFrom(fc)
}

func (s *retrieveStage) Exec(ctx context.Context, prepared any) (any, error) {
	in := prepared.(queryInput)
	out, err := s.retriever.Retrieve(ctx, in.query, in.opts.MatchCount)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *retrieveStage) Post(*flow.Context, any, any) (flow.Signal, error) {
	return flow.SignalDefault, nil
}

// weightStage annotates candidates with authority categories and combined
// scores and reorders them.
type weightStage struct{}

func (s *weightStage) Prep(fc *flow.Context) (any, error) {
	r, ok := flow.StageResult(fc, stageRetrieve)
	if !ok || r.Err != nil {
		return nil, &types.ValidationError{Field: "results", Msg: "retrieve stage produced no result"}
	}
	return r.Value.(retrieval.Outcome), nil
}

func (s *weightStage) Exec(_ context.Context, prepared any) (any, error) {
	out := prepared.(retrieval.Outcome)
	retrieval.Weight(out.Results)
	return out, nil
}

func (s *weightStage) Post(*flow.Context, any, any) (flow.Signal, error) {
	return flow.SignalDefault, nil
}

// rerankOutcome carries the weighted outcome plus rerank disposition.
type rerankOutcome struct {
	retrieval.Outcome
	fallbackUsed bool
	skipped      bool
}

// rerankStage reorders candidates by LLM-judged relevance. It degrades
// rather than fails: with no judge configured or SkipRerank set the
// weighted order passes through.
type rerankStage struct {
	reranker *retrieval.Reranker
}

type rerankInput struct {
	queryInput
	weighted retrieval.Outcome
}

func (s *rerankStage) Prep(fc *flow.Context) (any, error) {
	in, err := queryFrom(fc)
	if err != nil {
		return nil, err
	}
	r, ok := flow.StageResult(fc, stageWeight)
	if !ok || r.Err != nil {
		return nil, &types.ValidationError{Field: "results", Msg: "weight stage produced no result"}
	}
	return rerankInput{queryInput: in, weighted: r.Value.(retrieval.Outcome)}, nil
}

func (s *rerankStage) Exec(ctx context.Context, prepared any) (any, error) {
	in := prepared.(rerankInput)
	out := rerankOutcome{Outcome: in.weighted}

	if s.reranker == nil || in.opts.SkipRerank {
		out.skipped = true
		return out, nil
	}
	out.fallbackUsed = s.reranker.Rerank(ctx, in.query, in.weighted.Results)
	return out, nil
}

func (s *rerankStage) Post(*flow.Context, any, any) (flow.Signal, error) {
	return flow.SignalDefault, nil
}

// answerStage assembles the final Answer.
type answerStage struct{}

func (s *answerStage) Prep(fc *flow.Context) (any, error) {
	in, err := queryFrom(fc)
	if err != nil {
		return nil, err
	}
	r, ok := flow.StageResult(fc, stageRerank)
	if !ok || r.Err != nil {
		return nil, &types.ValidationError{Field: "results", Msg: "rerank stage produced no result"}
	}
	return rerankInput{queryInput: in, weighted: r.Value.(rerankOutcome).Outcome}, nil
}

func (s *answerStage) Exec(_ context.Context, prepared any) (any, error) {
	return prepared, nil
}

func (s *answerStage) Post(fc *flow.Context, _, result any) (flow.Signal, error) {
	in := result.(rerankInput)
	r, _ := flow.StageResult(fc, stageRerank)
	rr := r.Value.(rerankOutcome)

	results := rr.Results
	if in.opts.TopK > 0 && in.opts.TopK < len(results) {
		results = results[:in.opts.TopK]
	}

	answer := &types.Answer{
		Results:      results,
		FallbackUsed: rr.fallbackUsed,
		Metadata: map[string]string{
			"retrieval_mode": string(rr.Mode),
		},
	}
	if rr.CacheHit {
		answer.Metadata["cache"] = "hit"
	}
	if rr.Degraded {
		answer.Metadata["degraded"] = "remote search failed, served from local index"
	}
	if rr.skipped {
		answer.Metadata["rerank"] = "skipped"
	}

	var total float64
	for _, res := range results {
		total += res.CombinedScore
	}
	if len(results) > 0 {
		answer.Confidence = total / float64(len(results))
	}

	fc.Scope(stageAnswer).Set("answer", answer)
	return flow.SignalDefault, nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// IngestStatus summarizes the outcome of ingesting one document.
type IngestStatus string

const (
	// IngestOK means every chunk was embedded and stored.
	IngestOK IngestStatus = "ok"

	// IngestPartial means some chunks failed embedding or storage.
	IngestPartial IngestStatus = "partial"

	// IngestFailed means no chunk was stored.
	IngestFailed IngestStatus = "failed"

	// IngestEmpty means the document produced zero chunks.
	IngestEmpty IngestStatus = "empty"
)

// ChunkFailure records one chunk that could not be embedded or stored.
// Failures are reported, never silently dropped.
type ChunkFailure struct {
	// ChunkID identifies the failed chunk.
	ChunkID string `json:"chunk_id" yaml:"chunk_id"`

	// Index is the chunk's position within its document.
	Index int `json:"index" yaml:"index"`

	// Stage names the pipeline stage that failed ("embed" or "store").
	Stage string `json:"stage" yaml:"stage"`

	// Error is the failure message.
	Error string `json:"error" yaml:"error"`
}

// IngestReport is the caller-facing result of Ingest.
type IngestReport struct {
	// DocumentID identifies the ingested document.
	DocumentID string `json:"document_id" yaml:"document_id"`

	// Status summarizes the outcome.
	Status IngestStatus `json:"status" yaml:"status"`

	// ChunkCount is the number of chunks the document split into.
	ChunkCount int `json:"chunk_count" yaml:"chunk_count"`

	// StoredChunkCount is the number of chunks upserted successfully.
	StoredChunkCount int `json:"stored_chunk_count" yaml:"stored_chunk_count"`

	// FailedChunks lists chunks that failed, with per-chunk detail.
	FailedChunks []ChunkFailure `json:"failed_chunks,omitempty" yaml:"failed_chunks,omitempty"`

	// TestMode reports that the vector store ran in dry-run mode because
	// no endpoint was configured.
	TestMode bool `json:"test_mode,omitempty" yaml:"test_mode,omitempty"`
}

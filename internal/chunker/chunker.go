// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package chunker splits documents into retrieval-sized chunks using
// type-specific strategies: verse grouping for scripture, character
// segmentation for prose. Both algorithms are deterministic and pure.
//
// See docs/ARCHITECTURE.md § Chunking.
package chunker

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mkoval/passage-engine/pkg/types"
)

// Chunker splits documents according to the configured window parameters.
type Chunker struct {
	cfg types.ChunkingConfig
}

// New creates a chunker. Zero config fields take the documented defaults.
func New(cfg types.ChunkingConfig) *Chunker {
	cfg.ApplyDefaults()
	return &Chunker{cfg: cfg}
}

// Split chunks a document by its type. Empty content yields zero chunks,
// which is not an error. An unknown type or a missing document ID is a
// validation error.
func (c *Chunker) Split(doc *types.Document) ([]types.Chunk, error) {
	if doc.ID == "" {
		return nil, types.NewValidationError("id", "document id is required")
	}
	switch doc.Type {
	case types.DocScripture:
		return c.splitVerses(doc), nil
	case types.DocProse:
		return c.splitProse(doc), nil
	default:
		return nil, types.NewValidationError("type", fmt.Sprintf("unknown document type %q", doc.Type))
	}
}

// newChunkID derives a chunk identifier from the document ID.
func newChunkID(docID string) string {
	return fmt.Sprintf("%s_%s", docID, uuid.New().String()[:8])
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the passage-engine
// pipeline: documents, chunks, embedded chunks, search results, reports,
// configuration, and the error taxonomy.
//
// See docs/ARCHITECTURE.md § Data Structures.
package types

import "time"

// DocumentType selects the chunking strategy for a document.
type DocumentType string

const (
	// DocScripture is structured scripture text with verse boundaries.
	DocScripture DocumentType = "scripture"

	// DocProse is free-form theological prose without internal structure.
	DocProse DocumentType = "prose"
)

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	return t == DocScripture || t == DocProse
}

// Verse is a single verse of a scripture document.
type Verse struct {
	// Book is the book name (e.g. "Romans").
	Book string `json:"book" yaml:"book"`

	// Chapter is the 1-based chapter number.
	Chapter int `json:"chapter" yaml:"chapter"`

	// Number is the 1-based verse number within the chapter.
	Number int `json:"number" yaml:"number"`

	// Text is the verse text.
	Text string `json:"text" yaml:"text"`
}

// SourceMeta carries provenance for a document.
type SourceMeta struct {
	// Filename is the originating file name, if the document came from disk.
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`

	// Author is the work's author, when known.
	Author string `json:"author,omitempty" yaml:"author,omitempty"`

	// Tradition labels the theological tradition (e.g. "reformed").
	Tradition string `json:"tradition,omitempty" yaml:"tradition,omitempty"`
}

// Document is the unit of ingestion. It is immutable once handed to the
// pipeline; the chunker only reads it.
type Document struct {
	// ID uniquely identifies the document.
	ID string `json:"id" yaml:"id"`

	// Title is a human-readable title used for result enrichment.
	Title string `json:"title" yaml:"title"`

	// Type selects the chunking strategy.
	Type DocumentType `json:"type" yaml:"type"`

	// Content is the raw text. Used for prose documents.
	Content string `json:"content,omitempty" yaml:"content,omitempty"`

	// Verses holds the structured text of scripture documents.
	Verses []Verse `json:"verses,omitempty" yaml:"verses,omitempty"`

	// Source carries provenance metadata.
	Source SourceMeta `json:"source,omitempty" yaml:"source,omitempty"`
}

// VerseRange locates a scripture chunk within its book.
type VerseRange struct {
	Book    string `json:"book" yaml:"book"`
	Chapter int    `json:"chapter" yaml:"chapter"`
	Start   int    `json:"start" yaml:"start"`
	End     int    `json:"end" yaml:"end"`
}

// CharSpan locates a prose chunk by character offsets into the document.
type CharSpan struct {
	// Start is the inclusive start offset.
	Start int `json:"start" yaml:"start"`

	// End is the exclusive end offset.
	End int `json:"end" yaml:"end"`

	// Paragraph is the zero-based index of the paragraph (blank-line
	// separated) containing Start.
	Paragraph int `json:"paragraph" yaml:"paragraph"`
}

// Chunk is a retrieval-sized slice of a document produced by the chunker.
// Index is contiguous starting at 0 per document. Exactly one of VerseRange
// and Span is set, matching Type.
type Chunk struct {
	// ID uniquely identifies the chunk.
	ID string `json:"id" yaml:"id"`

	// DocumentID is the originating document.
	DocumentID string `json:"document_id" yaml:"document_id"`

	// Index is the zero-based position of this chunk within the document.
	Index int `json:"index" yaml:"index"`

	// Content is the chunk text.
	Content string `json:"content" yaml:"content"`

	// Type mirrors the document type that produced this chunk.
	Type DocumentType `json:"type" yaml:"type"`

	// Citation is a human-readable locator, e.g. "Romans 8:1-5" or
	// "Institutes §3 ¶12".
	Citation string `json:"citation" yaml:"citation"`

	// VerseRange is set for scripture chunks.
	VerseRange *VerseRange `json:"verse_range,omitempty" yaml:"verse_range,omitempty"`

	// Span is set for prose chunks.
	Span *CharSpan `json:"span,omitempty" yaml:"span,omitempty"`

	// OverlapPrev reports that this chunk shares text with its predecessor.
	OverlapPrev bool `json:"overlap_prev" yaml:"overlap_prev"`

	// OverlapNext reports that this chunk shares text with its successor.
	OverlapNext bool `json:"overlap_next" yaml:"overlap_next"`
}

// EmbeddedChunk is a chunk with its computed embedding vector. Vector
// length is constant for a given model; a mismatch is a validation error,
// never silently coerced.
type EmbeddedChunk struct {
	Chunk

	// Vector is the embedding, with fixed dimensionality per model.
	Vector []float32 `json:"vector" yaml:"vector"`

	// ModelID identifies the embedding model that produced Vector.
	ModelID string `json:"model_id" yaml:"model_id"`

	// GeneratedAt is when the embedding was computed.
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
}

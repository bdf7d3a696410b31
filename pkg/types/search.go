// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// AuthorityCategory classifies a retrieved passage by the doctrinal weight
// of its source. Categories are ordered; Level reports the ordering.
type AuthorityCategory string

const (
	// AuthorityConfession covers confessional standards and catechisms.
	AuthorityConfession AuthorityCategory = "confession"

	// AuthorityCouncil covers conciliar documents and creeds.
	AuthorityCouncil AuthorityCategory = "council"

	// AuthorityCommentary covers scholarly commentary and systematic works.
	AuthorityCommentary AuthorityCategory = "commentary"

	// AuthorityDevotional covers devotional and pastoral writing.
	AuthorityDevotional AuthorityCategory = "devotional"

	// AuthorityScripture is the primary text itself.
	AuthorityScripture AuthorityCategory = "scripture-text"

	// AuthorityUnknown is the default when no pattern matches.
	AuthorityUnknown AuthorityCategory = "unknown"
)

// Level returns the numeric authority level for the category. Higher is
// more authoritative; AuthorityUnknown is 0.
func (c AuthorityCategory) Level() int {
	switch c {
	case AuthorityConfession:
		return 5
	case AuthorityCouncil:
		return 4
	case AuthorityCommentary:
		return 3
	case AuthorityDevotional:
		return 2
	case AuthorityScripture:
		return 1
	default:
		return 0
	}
}

// SearchResult is a retrieved passage candidate. The hybrid retriever
// produces it; the authority weighter and reranker annotate it in place.
type SearchResult struct {
	// DocumentID identifies the source document, when known.
	DocumentID string `json:"document_id" yaml:"document_id"`

	// ChunkIndex is the chunk's position within its document, or -1.
	ChunkIndex int `json:"chunk_index" yaml:"chunk_index"`

	// Content is the full retrieved passage text.
	Content string `json:"content" yaml:"content"`

	// Excerpt is a short human-readable preview of Content.
	Excerpt string `json:"excerpt" yaml:"excerpt"`

	// Citation is a human-readable locator for the passage.
	Citation string `json:"citation" yaml:"citation"`

	// RawRelevance is the score reported by the hybrid search call.
	RawRelevance float64 `json:"raw_relevance" yaml:"raw_relevance"`

	// AuthorityCategory is assigned by the authority weighter.
	AuthorityCategory AuthorityCategory `json:"authority_category" yaml:"authority_category"`

	// AuthorityLevel is the numeric level of AuthorityCategory.
	AuthorityLevel int `json:"authority_level" yaml:"authority_level"`

	// CombinedScore blends RawRelevance with normalized authority.
	CombinedScore float64 `json:"combined_score" yaml:"combined_score"`

	// LLMRelevance is the reranker's judged relevance in [0,1]. Negative
	// until the reranker has run.
	LLMRelevance float64 `json:"llm_relevance" yaml:"llm_relevance"`

	// Reasoning is the reranker's explanation, or a degradation note.
	Reasoning string `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`

	// Title is the source document title, filled by enrichment.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Page is an approximate page estimate, filled by enrichment.
	Page int `json:"page,omitempty" yaml:"page,omitempty"`

	// Paragraph is the source paragraph indicator, filled by enrichment.
	Paragraph int `json:"paragraph,omitempty" yaml:"paragraph,omitempty"`

	// Metadata carries source metadata from the search endpoint verbatim.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// QueryOptions controls a query pipeline run.
type QueryOptions struct {
	// MatchCount is the number of candidates requested from hybrid search.
	// Zero uses the configured default.
	MatchCount int `json:"match_count" yaml:"match_count"`

	// TopK limits the final result count. Zero returns all candidates.
	TopK int `json:"top_k" yaml:"top_k"`

	// SkipRerank disables the LLM reranking stage.
	SkipRerank bool `json:"skip_rerank" yaml:"skip_rerank"`
}

// Answer is the query pipeline output handed to the (out of scope)
// generation stage.
type Answer struct {
	// Results are the final ranked passages.
	Results []SearchResult `json:"results" yaml:"results"`

	// Confidence is the mean combined score of the returned results.
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// FallbackUsed reports that reranking failed and the pre-rerank
	// ordering was returned instead.
	FallbackUsed bool `json:"fallback_used" yaml:"fallback_used"`

	// Metadata describes how the answer was produced (retrieval mode,
	// cache hits, degradations).
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package chunker

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoval/passage-engine/pkg/types"
)

func proseDoc(content string) *types.Document {
	return &types.Document{ID: "institutes", Title: "Institutes", Type: types.DocProse, Content: content}
}

func TestSplitProseEmptyContent(t *testing.T) {
	c := New(types.ChunkingConfig{})

	chunks, err := c.Split(proseDoc(""))
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Split(proseDoc("   \n\n  "))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitProseShortContent(t *testing.T) {
	c := New(types.ChunkingConfig{})
	chunks, err := c.Split(proseDoc("Grace is unmerited favor."))
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.Equal(t, "Grace is unmerited favor.", chunk.Content)
	assert.False(t, chunk.OverlapPrev)
	assert.False(t, chunk.OverlapNext)
	require.NotNil(t, chunk.Span)
	assert.Equal(t, 0, chunk.Span.Start)
	assert.Equal(t, len(chunk.Content), chunk.Span.End)
	assert.Equal(t, 0, chunk.Span.Paragraph)
	assert.Equal(t, "Institutes ¶1", chunk.Citation)
}

func TestSplitProsePrefersSentenceBoundary(t *testing.T) {
	// A sentence ends 30 characters before the 1000-char window edge, well
	// inside the default 100-char lookback.
	sentence := strings.Repeat("a", 968) + ". "
	content := sentence + strings.Repeat("b", 600)

	c := New(types.ChunkingConfig{})
	chunks, err := c.Split(proseDoc(content))
	require.NoError(t, err)
	require.True(t, len(chunks) >= 2)

	first := chunks[0]
	assert.Equal(t, 969, first.Span.End, "boundary should land just after the terminator")
	assert.True(t, strings.HasSuffix(first.Content, "a."), "chunk should end at the sentence boundary")

	// Overlap: next chunk starts 200 characters before the boundary.
	assert.Equal(t, first.Span.End-200, chunks[1].Span.Start)
	assert.True(t, first.OverlapNext)
	assert.True(t, chunks[1].OverlapPrev)
}

func TestSplitProseWhitespaceFallback(t *testing.T) {
	// No sentence terminators at all; one space at offset 900 inside the
	// window. The boundary should retreat to it.
	content := strings.Repeat("x", 900) + " " + strings.Repeat("y", 400)

	c := New(types.ChunkingConfig{})
	chunks, err := c.Split(proseDoc(content))
	require.NoError(t, err)
	require.True(t, len(chunks) >= 2)
	assert.Equal(t, 900, chunks[0].Span.End)
}

func TestSplitProseRawCutWhenNoBoundaryUsable(t *testing.T) {
	// One unbroken token longer than the window: no terminator, no
	// whitespace, so the cut happens at the raw window edge.
	content := strings.Repeat("z", 1500)

	c := New(types.ChunkingConfig{})
	chunks, err := c.Split(proseDoc(content))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1000, chunks[0].Span.End)
	assert.Equal(t, 800, chunks[1].Span.Start)
	assert.Equal(t, 1500, chunks[1].Span.End)
}

func TestSplitProseBoundariesNeverExceedInput(t *testing.T) {
	contents := []string{
		strings.Repeat("The law is a tutor. ", 300),
		strings.Repeat("word ", 1000),
		strings.Repeat("q", 2500),
		"short",
	}
	c := New(types.ChunkingConfig{})
	for _, content := range contents {
		chunks, err := c.Split(proseDoc(content))
		require.NoError(t, err)
		for i, chunk := range chunks {
			assert.Equal(t, i, chunk.Index)
			assert.LessOrEqual(t, chunk.Span.End, len(content))
			assert.GreaterOrEqual(t, chunk.Span.Start, 0)
			assert.Less(t, chunk.Span.Start, chunk.Span.End)
		}
		// Final chunk always reaches the end of the input.
		if len(chunks) > 0 {
			assert.Equal(t, len(content), chunks[len(chunks)-1].Span.End)
		}
	}
}

func TestSplitProseNeverSplitsInsideSentenceEnd(t *testing.T) {
	content := strings.Repeat("The law is a tutor. ", 300)
	c := New(types.ChunkingConfig{})
	chunks, err := c.Split(proseDoc(content))
	require.NoError(t, err)

	for _, chunk := range chunks[:len(chunks)-1] {
		end := chunk.Span.End
		// A boundary lands right after a terminator, before whitespace.
		assert.True(t, isTerminator(content[end-1]) || unicode.IsSpace(rune(content[end])),
			"boundary at %d splits inside a sentence", end)
	}
}

func TestSplitProseParagraphTracking(t *testing.T) {
	para1 := strings.Repeat("First paragraph sentence. ", 20) // 520 chars
	para2 := strings.Repeat("Second paragraph sentence. ", 30)
	content := para1 + "\n\n" + para2

	c := New(types.ChunkingConfig{})
	chunks, err := c.Split(proseDoc(content))
	require.NoError(t, err)
	require.True(t, len(chunks) >= 2)

	assert.Equal(t, 0, chunks[0].Span.Paragraph)
	last := chunks[len(chunks)-1]
	assert.Equal(t, 1, last.Span.Paragraph, "a chunk starting inside the second paragraph should carry its index")
	assert.Equal(t, "Institutes ¶2", last.Citation)
}

func TestParagraphStarts(t *testing.T) {
	content := "alpha line\n\nbeta line\nstill beta\n\n\ngamma"
	starts := paragraphStarts(content)
	require.Len(t, starts, 3)
	assert.Equal(t, 0, starts[0])
	assert.Equal(t, strings.Index(content, "beta"), starts[1])
	assert.Equal(t, strings.Index(content, "gamma"), starts[2])

	assert.Equal(t, 0, paragraphAt(starts, 3))
	assert.Equal(t, 1, paragraphAt(starts, starts[1]+2))
	assert.Equal(t, 2, paragraphAt(starts, len(content)-1))
}

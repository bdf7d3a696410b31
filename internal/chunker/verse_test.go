// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package chunker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoval/passage-engine/pkg/types"
)

// johnDoc builds a scripture document with n verses of John chapter 1.
func johnDoc(n int) *types.Document {
	verses := make([]types.Verse, n)
	for i := range verses {
		verses[i] = types.Verse{
			Book:    "John",
			Chapter: 1,
			Number:  i + 1,
			Text:    fmt.Sprintf("verse %d text", i+1),
		}
	}
	return &types.Document{ID: "john-1", Title: "John", Type: types.DocScripture, Verses: verses}
}

func TestSplitVersesTwelveVerseDocument(t *testing.T) {
	c := New(types.ChunkingConfig{})
	chunks, err := c.Split(johnDoc(12))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	wantCitations := []string{"John 1:1-5", "John 1:5-9", "John 1:9-12"}
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, "john-1", chunk.DocumentID)
		assert.Equal(t, types.DocScripture, chunk.Type)
		assert.Equal(t, wantCitations[i], chunk.Citation)
		require.NotNil(t, chunk.VerseRange)
	}

	// Window 5 with stride 4: groups 1-5, 5-9, 9-12.
	assert.Equal(t, 1, chunks[0].VerseRange.Start)
	assert.Equal(t, 5, chunks[0].VerseRange.End)
	assert.Equal(t, 5, chunks[1].VerseRange.Start)
	assert.Equal(t, 9, chunks[1].VerseRange.End)
	assert.Equal(t, 9, chunks[2].VerseRange.Start)
	assert.Equal(t, 12, chunks[2].VerseRange.End)

	assert.False(t, chunks[0].OverlapPrev)
	assert.True(t, chunks[0].OverlapNext)
	assert.True(t, chunks[1].OverlapPrev)
	assert.True(t, chunks[1].OverlapNext)
	assert.True(t, chunks[2].OverlapPrev)
	assert.False(t, chunks[2].OverlapNext)
}

func TestSplitVersesOverlapExactlyOne(t *testing.T) {
	c := New(types.ChunkingConfig{})
	for _, n := range []int{5, 6, 9, 13, 25, 40} {
		t.Run(fmt.Sprintf("%d verses", n), func(t *testing.T) {
			chunks, err := c.Split(johnDoc(n))
			require.NoError(t, err)

			for i := 1; i < len(chunks); i++ {
				prev, cur := chunks[i-1], chunks[i]
				// Consecutive groups share exactly the boundary verse.
				assert.Equal(t, prev.VerseRange.End, cur.VerseRange.Start,
					"chunk %d should start at the last verse of chunk %d", i, i-1)
			}

			// Count follows from stride 4: ceil((n-1)/4), adjusted for the tail.
			want := (n - 1 + 3) / 4
			if n <= 5 {
				want = 1
			}
			assert.Len(t, chunks, want)
		})
	}
}

func TestSplitVersesShortDocument(t *testing.T) {
	c := New(types.ChunkingConfig{})
	chunks, err := c.Split(johnDoc(3))
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "John 1:1-3", chunks[0].Citation)
	assert.False(t, chunks[0].OverlapPrev)
	assert.False(t, chunks[0].OverlapNext)
}

func TestSplitVersesSingleVerseCitationOmitsRange(t *testing.T) {
	c := New(types.ChunkingConfig{})
	chunks, err := c.Split(johnDoc(1))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "John 1:1", chunks[0].Citation)
}

func TestSplitVersesEmptyDocument(t *testing.T) {
	c := New(types.ChunkingConfig{})
	chunks, err := c.Split(&types.Document{ID: "empty", Type: types.DocScripture})
	require.NoError(t, err)
	assert.Empty(t, chunks, "empty input yields zero chunks, not an error")
}

func TestSplitVersesChapterBoundaryCitation(t *testing.T) {
	doc := &types.Document{
		ID:   "john-1-2",
		Type: types.DocScripture,
		Verses: []types.Verse{
			{Book: "John", Chapter: 1, Number: 50, Text: "a"},
			{Book: "John", Chapter: 1, Number: 51, Text: "b"},
			{Book: "John", Chapter: 2, Number: 1, Text: "c"},
			{Book: "John", Chapter: 2, Number: 2, Text: "d"},
		},
	}
	c := New(types.ChunkingConfig{})
	chunks, err := c.Split(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "John 1:50-2:2", chunks[0].Citation)
}

func TestSplitRejectsUnknownType(t *testing.T) {
	c := New(types.ChunkingConfig{})
	_, err := c.Split(&types.Document{ID: "x", Type: "sermon"})

	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestSplitRejectsMissingID(t *testing.T) {
	c := New(types.ChunkingConfig{})
	_, err := c.Split(&types.Document{Type: types.DocProse, Content: "text"})

	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
}

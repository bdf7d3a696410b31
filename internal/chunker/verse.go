// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package chunker

import (
	"fmt"
	"strings"

	"github.com/mkoval/passage-engine/pkg/types"
)

// splitVerses groups a scripture document's verses into overlapping
// windows. With the default window of 5 and overlap of 1 the stride is 4,
// so consecutive groups share exactly one verse; the final group may be
// shorter than the window.
func (c *Chunker) splitVerses(doc *types.Document) []types.Chunk {
	verses := doc.Verses
	if len(verses) == 0 {
		return nil
	}

	window := c.cfg.VerseWindow
	stride := window - c.cfg.VerseOverlap
	if stride <= 0 {
		stride = 1
	}

	var chunks []types.Chunk
	index := 0
	for i := 0; i < len(verses); i += stride {
		end := i + window
		if end > len(verses) {
			end = len(verses)
		}
		group := verses[i:end]
		first, last := group[0], group[len(group)-1]

		texts := make([]string, len(group))
		for j, v := range group {
			texts[j] = v.Text
		}

		chunks = append(chunks, types.Chunk{
			ID:         newChunkID(doc.ID),
			DocumentID: doc.ID,
			Index:      index,
			Content:    strings.Join(texts, " "),
			Type:       types.DocScripture,
			Citation:   verseCitation(first, last),
			VerseRange: &types.VerseRange{
				Book:    first.Book,
				Chapter: first.Chapter,
				Start:   first.Number,
				End:     last.Number,
			},
			OverlapPrev: index > 0,
			OverlapNext: end < len(verses),
		})
		index++

		if end >= len(verses) {
			break
		}
	}
	return chunks
}

// verseCitation derives a human-readable citation for a verse group:
// "Book Chapter:Start-End", omitting the range suffix when the group is a
// single verse. Groups that cross a chapter boundary cite both ends.
func verseCitation(first, last types.Verse) string {
	if first.Chapter != last.Chapter {
		return fmt.Sprintf("%s %d:%d-%d:%d", first.Book, first.Chapter, first.Number, last.Chapter, last.Number)
	}
	if first.Number == last.Number {
		return fmt.Sprintf("%s %d:%d", first.Book, first.Chapter, first.Number)
	}
	return fmt.Sprintf("%s %d:%d-%d", first.Book, first.Chapter, first.Number, last.Number)
}

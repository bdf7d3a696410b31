// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/mkoval/passage-engine/pkg/types"
)

// splitProse segments free-form prose into fixed character windows with
// overlap. Boundaries prefer sentence ends: at each window edge (except the
// final one) the splitter searches backward up to SentenceLookback
// characters for a sentence terminator followed by whitespace; failing
// that it falls back to the nearest preceding whitespace, provided the
// boundary stays at least the overlap length past the window start; failing
// both it cuts at the raw window edge.
func (c *Chunker) splitProse(doc *types.Document) []types.Chunk {
	content := doc.Content
	if strings.TrimSpace(content) == "" {
		return nil
	}

	window := c.cfg.CharWindow
	overlap := c.cfg.CharOverlap
	paragraphs := paragraphStarts(content)

	var chunks []types.Chunk
	index := 0
	start := 0
	for start < len(content) {
		end := start + window
		final := end >= len(content)
		if final {
			end = len(content)
		} else {
			end = adjustBoundary(content, start, end, c.cfg.SentenceLookback, overlap)
			final = end >= len(content)
		}

		para := paragraphAt(paragraphs, start)
		chunks = append(chunks, types.Chunk{
			ID:         newChunkID(doc.ID),
			DocumentID: doc.ID,
			Index:      index,
			Content:    content[start:end],
			Type:       types.DocProse,
			Citation:   proseCitation(doc.Title, para),
			Span: &types.CharSpan{
				Start:     start,
				End:       end,
				Paragraph: para,
			},
			OverlapPrev: index > 0,
			OverlapNext: !final,
		})
		index++

		if final {
			break
		}
		next := end - overlap
		if next <= start {
			// Guard against a degenerate boundary making no progress.
			next = start + 1
		}
		start = next
	}
	return chunks
}

// adjustBoundary moves a candidate window edge back to a sentence end when
// one exists within the lookback, otherwise to the nearest preceding
// whitespace when that still leaves a usefully sized chunk, otherwise
// leaves the raw edge.
func adjustBoundary(content string, start, end, lookback, minSize int) int {
	low := end - lookback
	if low < start {
		low = start
	}
	for j := end - 1; j >= low; j-- {
		if isTerminator(content[j]) && j+1 < len(content) && unicode.IsSpace(rune(content[j+1])) {
			return j + 1
		}
	}

	// No sentence end in the lookback window: take the nearest preceding
	// whitespace unless that would leave less than minSize of content.
	for j := end - 1; j > start; j-- {
		if unicode.IsSpace(rune(content[j])) {
			if j-start >= minSize {
				return j
			}
			break
		}
	}
	return end
}

// isTerminator reports whether b ends a sentence.
func isTerminator(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// paragraphStarts returns the start offset of every paragraph, where
// paragraphs are separated by blank lines.
func paragraphStarts(content string) []int {
	starts := []int{0}
	inBreak := false
	lineStart := 0
	for i := 0; i < len(content); i++ {
		if content[i] != '\n' {
			continue
		}
		line := content[lineStart:i]
		if strings.TrimSpace(line) == "" {
			inBreak = true
		} else if inBreak {
			starts = append(starts, lineStart)
			inBreak = false
		}
		lineStart = i + 1
	}
	if inBreak && lineStart < len(content) && strings.TrimSpace(content[lineStart:]) != "" {
		starts = append(starts, lineStart)
	}
	return starts
}

// paragraphAt returns the zero-based index of the paragraph containing
// offset.
func paragraphAt(starts []int, offset int) int {
	para := 0
	for i, s := range starts {
		if offset >= s {
			para = i
		}
	}
	return para
}

// proseCitation derives a human-readable citation for a prose chunk.
func proseCitation(title string, paragraph int) string {
	if title == "" {
		return fmt.Sprintf("¶%d", paragraph+1)
	}
	return fmt.Sprintf("%s ¶%d", title, paragraph+1)
}

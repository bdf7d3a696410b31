// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"sort"
	"strings"

	"github.com/mkoval/passage-engine/pkg/types"
)

// Scoring weights for the combined score. Authority never overrides a large
// relevance gap; it breaks ties between comparably relevant passages.
const (
	relevanceWeight = 0.7
	authorityWeight = 0.3

	// topCategoryBoost multiplies the authority term of passages from the
	// highest authority category before blending.
	topCategoryBoost = 1.5

	// maxAuthorityLevel normalizes levels into [0,1].
	maxAuthorityLevel = 5
)

// categoryPattern maps a title substring to an authority category. Patterns
// are checked in order; the first hit wins, so more authoritative
// categories are listed first.
type categoryPattern struct {
	substring string
	category  types.AuthorityCategory
}

var categoryPatterns = []categoryPattern{
	{"confession", types.AuthorityConfession},
	{"catechism", types.AuthorityConfession},
	{"westminster", types.AuthorityConfession},
	{"heidelberg", types.AuthorityConfession},
	{"belgic", types.AuthorityConfession},
	{"augsburg", types.AuthorityConfession},
	{"council", types.AuthorityCouncil},
	{"creed", types.AuthorityCouncil},
	{"nicene", types.AuthorityCouncil},
	{"chalcedon", types.AuthorityCouncil},
	{"canons", types.AuthorityCouncil},
	{"commentary", types.AuthorityCommentary},
	{"institutes", types.AuthorityCommentary},
	{"systematic", types.AuthorityCommentary},
	{"summa", types.AuthorityCommentary},
	{"dogmatics", types.AuthorityCommentary},
	{"devotional", types.AuthorityDevotional},
	{"meditation", types.AuthorityDevotional},
	{"prayers", types.AuthorityDevotional},
	{"sermon", types.AuthorityDevotional},
	{"bible", types.AuthorityScripture},
	{"gospel", types.AuthorityScripture},
	{"epistle", types.AuthorityScripture},
	{"psalm", types.AuthorityScripture},
	{"testament", types.AuthorityScripture},
}

// Classify assigns an authority category to a search result. An explicit
// "authority" key in the result metadata wins; otherwise the title is
// matched against the pattern table; unmatched results are AuthorityUnknown.
func Classify(r *types.SearchResult) types.AuthorityCategory {
	if v, ok := r.Metadata["authority"].(string); ok {
		cat := types.AuthorityCategory(v)
		if cat.Level() > 0 || cat == types.AuthorityUnknown {
			return cat
		}
	}

	title := strings.ToLower(r.Title)
	if title == "" {
		if v, ok := r.Metadata["title"].(string); ok {
			title = strings.ToLower(v)
		}
	}
	for _, p := range categoryPatterns {
		if strings.Contains(title, p.substring) {
			return p.category
		}
	}
	return types.AuthorityUnknown
}

// Weight annotates each result with its authority category and combined
// score, then sorts by combined score descending. The sort is stable, so
// equal scores preserve the retriever's relevance ordering. Results are
// modified in place.
func Weight(results []types.SearchResult) {
	for i := range results {
		r := &results[i]
		r.AuthorityCategory = Classify(r)
		r.AuthorityLevel = r.AuthorityCategory.Level()

		normAuthority := float64(r.AuthorityLevel) / maxAuthorityLevel
		if r.AuthorityLevel == maxAuthorityLevel {
			normAuthority *= topCategoryBoost
		}
		r.CombinedScore = relevanceWeight*r.RawRelevance + authorityWeight*normAuthority
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CombinedScore > results[j].CombinedScore
	})
}

// Package citation extracts source references from generated answers.
// Answers may cite retrieved passages with bracketed markers like [2];
// when markers are present only the cited candidates are returned,
// otherwise every retrieved candidate counts as a source.
package citation

import (
	"regexp"
	"strconv"

	"github.com/mittelweg/ares/document"
)

var markerRe = regexp.MustCompile(`\[(\d+)\]`)

// Extract returns the citations backing an answer. Markers are 1-based
// indexes into the candidate list; out-of-range markers are ignored.
// Duplicates collapse on (source, page) and the order follows first
// appearance: marker order when markers exist, candidate order otherwise.
func Extract(answer string, candidates []document.SearchCandidate) []document.Citation {
	// A nil index list means the answer carried no markers at all; an
	// empty one means markers existed but none resolved.
	indexes := markerIndexes(answer, len(candidates))
	if indexes == nil {
		indexes = make([]int, len(candidates))
		for i := range candidates {
			indexes[i] = i
		}
	}

	type key struct {
		source string
		page   int
	}
	seen := make(map[key]struct{}, len(indexes))
	out := make([]document.Citation, 0, len(indexes))
	for _, idx := range indexes {
		cand := candidates[idx]
		k := key{source: cand.SourceName, page: cand.Chunk.Page}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, document.Citation{
			SourceName: cand.SourceName,
			Page:       cand.Chunk.Page,
			ChunkID:    cand.ChunkID,
		})
	}
	return out
}

// markerIndexes parses [n] markers into zero-based candidate indexes,
// keeping appearance order and dropping anything out of range.
func markerIndexes(answer string, count int) []int {
	matches := markerRe.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > count {
			continue
		}
		out = append(out, n-1)
	}
	return out
}

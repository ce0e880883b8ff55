package mergeexpert

import "unicode"

// tokenizeWords splits s into alternating runs of whitespace and
// non-whitespace, preserving every character so that concatenating the
// tokens reconstructs s exactly - the same "unicode words" granularity
// the original diffs over, which lets mergeTwoValues detect whitespace
// adjacency at fragment boundaries.
func tokenizeWords(s string) []string {
	if s == "" {
		return nil
	}

	var tokens []string
	runes := []rune(s)
	start := 0
	inSpace := unicode.IsSpace(runes[0])

	for i := 1; i <= len(runes); i++ {
		if i == len(runes) || unicode.IsSpace(runes[i]) != inSpace {
			tokens = append(tokens, string(runes[start:i]))
			if i < len(runes) {
				start = i
				inSpace = unicode.IsSpace(runes[i])
			}
		}
	}
	return tokens
}

// MergeStringsThreeWay merges two divergent edits of base using the
// word-level three-way diff rule (spec §4.6 merge-rule table, String /
// MarkupString / People / Countries fields).
func MergeStringsThreeWay(base, left, right string) string {
	leftDiff := diffTokens(tokenizeWords(base), tokenizeWords(left))
	rightDiff := diffTokens(tokenizeWords(base), tokenizeWords(right))

	m := &textMerger{}
	mergeDiffs(m, leftDiff, rightDiff)
	return m.result.String()
}

// MergeSlicesThreeWay merges two divergent edits of an ordered reference
// list using the token-level three-way diff rule (spec §4.6, RefList /
// Collections fields).
func MergeSlicesThreeWay(base, left, right []string) []string {
	leftDiff := diffTokens(base, left)
	rightDiff := diffTokens(base, right)

	m := &sliceMerger{}
	mergeDiffs(m, leftDiff, rightDiff)
	return m.result
}

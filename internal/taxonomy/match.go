package taxonomy

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const (
	// Fuzzy matching only considers words and keywords of at least this
	// many runes; shorter ones produce too many accidental hits.
	minFuzzyLen = 4

	// maxKeywordDistance tolerates speech-to-text spelling noise.
	maxKeywordDistance = 2

	goodCoverageThreshold = 3
)

// MatchKeywordTags returns the deduplicated tags whose keywords appear in
// content. Two passes feed the result: an exact whole-word match for
// every known keyword, and a fuzzy pass that tolerates up to two edits on
// words of four or more runes.
func (t *Taxonomy) MatchKeywordTags(content string) []string {
	if content == "" {
		return nil
	}

	var tags []string
	seen := make(map[string]bool)
	add := func(tag string) {
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	for _, p := range t.patterns {
		if p.re.MatchString(content) {
			add(p.tag)
		}
	}

	seenTok := make(map[string]bool)
	for _, tok := range tokenize(content) {
		if seenTok[tok] {
			continue
		}
		seenTok[tok] = true
		tokLen := utf8.RuneCountInString(tok)
		if tokLen < minFuzzyLen {
			continue
		}
		for _, p := range t.patterns {
			if p.runeLen < minFuzzyLen {
				continue
			}
			if diff := tokLen - p.runeLen; diff > maxKeywordDistance || diff < -maxKeywordDistance {
				continue
			}
			if levenshtein.ComputeDistance(tok, p.keyword) <= maxKeywordDistance {
				add(p.tag)
			}
		}
	}

	return tags
}

// HasGoodKeywordCoverage reports whether keyword matching alone produced
// enough semantic tags that downstream model-based tagging can be
// skipped. Status and source tags are attached mechanically to every
// note, so they do not count.
func HasGoodKeywordCoverage(tags []string) bool {
	semantic := 0
	for _, tag := range tags {
		if strings.HasPrefix(tag, "status/") || strings.HasPrefix(tag, "source/") {
			continue
		}
		semantic++
	}
	return semantic >= goodCoverageThreshold
}

func tokenize(content string) []string {
	return strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

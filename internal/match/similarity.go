package match

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const (
	// phoneticAgreement is the skeleton similarity above which two names
	// are considered to sound alike.
	phoneticAgreement = 0.8
	// phoneticBoost is added to the raw score when the skeletons agree,
	// capped at 1.0.
	phoneticBoost = 0.10
)

// separatorStripper removes the punctuation note tools use inside tag and
// person names, so "Project-Pie", "project/pie" and "project pie" all
// compare as "projectpie".
var separatorStripper = strings.NewReplacer("_", "", "-", "", "/", "", ".", "", " ", "")

func stripSeparators(s string) string {
	return separatorStripper.Replace(strings.ToLower(s))
}

// similarity is the normalized Levenshtein score 1 - dist/maxLen, in [0, 1].
// Two empty strings score zero: emptiness is not evidence of a match.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// phoneticClusters maps consonant clusters to the sound they make, so
// "Smith" and "Smyth" reduce toward the same skeleton.
var phoneticClusters = strings.NewReplacer("ph", "f", "ck", "k", "gh", "g", "th", "t", "wh", "w")

// phoneticSkeleton reduces a name to its consonant skeleton: separators
// dropped, sound-alike clusters substituted, vowels removed, and runs of
// the same letter collapsed.
func phoneticSkeleton(s string) string {
	s = phoneticClusters.Replace(stripSeparators(s))
	var b strings.Builder
	b.Grow(len(s))
	var last rune
	for _, r := range s {
		switch r {
		case 'a', 'e', 'i', 'o', 'u':
			continue
		}
		if r == last {
			continue
		}
		b.WriteRune(r)
		last = r
	}
	return b.String()
}

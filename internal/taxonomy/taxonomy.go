// Package taxonomy loads the externally authored keyword vocabulary used
// for deterministic auto-tagging. The definition file is re-parsed only
// when its modification time changes; a bundled fallback keeps tagging
// alive when the file is missing or malformed.
package taxonomy

import (
	_ "embed"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// maxTagNames bounds the flattened tag-name list handed to downstream
// prompt builders.
const maxTagNames = 50

//go:embed fallback.json
var fallbackJSON []byte

//go:embed schema.json
var schemaJSON []byte

// Tag is one entry of the definition file.
type Tag struct {
	Tag         string   `json:"tag"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"auto_detect_keywords,omitempty"`
}

// Document is the on-disk shape of the definition file.
type Document struct {
	Tags            []Tag               `json:"tags"`
	ProjectKeywords map[string][]string `json:"project_keywords,omitempty"`
}

// Taxonomy is the compiled vocabulary. It is immutable once built; the
// Loader swaps in a fresh instance when the source file changes.
type Taxonomy struct {
	Tags        []Tag
	KeywordTags map[string]string // lowercase keyword -> tag
	ProjectTags map[string]string // lowercase keyword -> project tag
	TagNames    []string          // flattened, at most maxTagNames
	ModTime     time.Time

	patterns []keywordPattern
}

type keywordPattern struct {
	re      *regexp.Regexp
	keyword string
	runeLen int
	tag     string
}

// build compiles a parsed document into lookup maps and whole-word
// patterns. Duplicate keywords resolve last-writer-wins: later tags in
// the file win, and project keywords are applied in sorted project order
// so rebuilds are deterministic.
func build(doc *Document, modTime time.Time) *Taxonomy {
	t := &Taxonomy{
		Tags:        doc.Tags,
		KeywordTags: make(map[string]string),
		ProjectTags: make(map[string]string),
		ModTime:     modTime,
	}

	for _, tag := range doc.Tags {
		if tag.Tag == "" {
			continue
		}
		for _, kw := range tag.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			t.KeywordTags[kw] = tag.Tag
		}
	}

	projects := make([]string, 0, len(doc.ProjectKeywords))
	for p := range doc.ProjectKeywords {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	for _, p := range projects {
		for _, kw := range doc.ProjectKeywords[p] {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			t.ProjectTags[kw] = p
		}
	}

	seen := make(map[string]bool)
	addName := func(name string) {
		if name == "" || seen[name] || len(t.TagNames) >= maxTagNames {
			return
		}
		seen[name] = true
		t.TagNames = append(t.TagNames, name)
	}
	for _, tag := range doc.Tags {
		addName(tag.Tag)
	}
	for _, p := range projects {
		addName(p)
	}

	t.compilePatterns()
	return t
}

func (t *Taxonomy) compilePatterns() {
	add := func(m map[string]string) {
		kws := make([]string, 0, len(m))
		for kw := range m {
			kws = append(kws, kw)
		}
		sort.Strings(kws)
		for _, kw := range kws {
			t.patterns = append(t.patterns, keywordPattern{
				re:      compileWordPattern(kw),
				keyword: kw,
				runeLen: utf8.RuneCountInString(kw),
				tag:     m[kw],
			})
		}
	}
	add(t.KeywordTags)
	add(t.ProjectTags)
}

// compileWordPattern always compiles: the keyword is QuoteMeta-escaped.
func compileWordPattern(keyword string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(keyword) + `\b`)
}

func mustParseFallback() *Document {
	var doc Document
	if err := json.Unmarshal(fallbackJSON, &doc); err != nil {
		panic("taxonomy: bundled fallback definition invalid: " + err.Error())
	}
	return &doc
}

package match

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// frontmatterTags pulls the tags list out of a note's YAML frontmatter.
// A note without a frontmatter block yields nothing; only a block that
// fails to parse is an error, so the scanner can warn about it.
func frontmatterTags(raw []byte) ([]string, error) {
	block, ok := frontmatterBlock(raw)
	if !ok {
		return nil, nil
	}
	var fm struct {
		Tags tagList `yaml:"tags"`
	}
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, err
	}
	return fm.Tags, nil
}

// frontmatterBlock returns the bytes between the opening and the closing
// --- lines. The opening delimiter must be the first line of the file.
func frontmatterBlock(raw []byte) ([]byte, bool) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	first, rest, found := bytes.Cut(raw, []byte("\n"))
	if !found || !isDelimiterLine(first) {
		return nil, false
	}
	for off := 0; off < len(rest); {
		line := rest[off:]
		if n := bytes.IndexByte(line, '\n'); n >= 0 {
			line = line[:n]
		}
		if isDelimiterLine(line) {
			return rest[:off], true
		}
		off += len(line) + 1
	}
	return nil, false
}

func isDelimiterLine(line []byte) bool {
	return string(bytes.TrimRight(line, " \t\r")) == "---"
}

// tagList accepts the shapes tags take in real vaults: a YAML sequence,
// a single scalar, or a comma-separated scalar. Non-string sequence
// entries (bare years, for one) are kept as their literal text.
type tagList []string

func (t *tagList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		for _, n := range value.Content {
			if n.Kind == yaml.ScalarNode && n.Value != "" {
				*t = append(*t, n.Value)
			}
		}
	case yaml.ScalarNode:
		for _, v := range strings.Split(value.Value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				*t = append(*t, v)
			}
		}
	}
	return nil
}

// normalizeTag canonicalizes a tag or mention: hash prefix and surrounding
// space dropped, lowercased. Vault tags are case-insensitive.
func normalizeTag(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	return strings.ToLower(s)
}

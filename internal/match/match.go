// Package match reconciles noisy transcribed tag and person mentions
// against the canonical vocabulary already present in the note corpus.
// Voice transcription mangles names ("ProjectPie" for "project/pai",
// "John Smyth" for "john_smith"); the matcher maps each mention to its
// closest canonical form, or flags it for review when nothing is close
// enough. Originals are never dropped or silently rewritten.
package match

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"
)

// DefaultThreshold is the minimum final similarity an automatic match must
// reach; below it the original is kept untouched and flagged for review.
const DefaultThreshold = 0.70

// Type classifies how a mention matched the corpus vocabulary.
type Type string

const (
	TypeExact    Type = "exact"
	TypeFuzzy    Type = "fuzzy"
	TypePhonetic Type = "phonetic"
	TypeNone     Type = "none"
)

// Result is the verdict for one mention. Matched is set only on success;
// on a miss Similarity still carries the best rejected score so a review
// surface can show near misses.
type Result struct {
	Original    string  `json:"original"`
	Matched     string  `json:"matched,omitempty"`
	Similarity  float64 `json:"similarity"`
	Type        Type    `json:"type"`
	NeedsReview bool    `json:"needs_review,omitempty"`
}

// BatchResult is the outcome of reconciling one message's mentions.
type BatchResult struct {
	Tags        []Result `json:"tags,omitempty"`
	People      []Result `json:"people,omitempty"`
	Matched     int      `json:"matched"`
	Unmatched   int      `json:"unmatched"`
	NeedsReview bool     `json:"needs_review"`
}

func (b *BatchResult) count(r Result) {
	if r.Matched != "" {
		b.Matched++
	} else {
		b.Unmatched++
	}
	if r.NeedsReview {
		b.NeedsReview = true
	}
}

// Matcher reconciles mentions against the corpus index.
type Matcher struct {
	index     *Index
	threshold float64
	logger    *zap.Logger
}

// NewMatcher builds a Matcher. A threshold outside (0, 1] falls back to
// DefaultThreshold.
func NewMatcher(index *Index, threshold float64, logger *zap.Logger) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Matcher{index: index, threshold: threshold, logger: logger}
}

// MatchTag reconciles one tag mention against every tag in the corpus.
func (m *Matcher) MatchTag(ctx context.Context, tag string) (Result, error) {
	snap, err := m.index.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	return m.matchAgainst(tag, snap.Tags), nil
}

// MatchPerson reconciles one person mention against the people bucket.
func (m *Matcher) MatchPerson(ctx context.Context, person string) (Result, error) {
	snap, err := m.index.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	return m.matchAgainst(person, snap.People), nil
}

// MatchBatch reconciles a message's flagged mentions in one pass over a
// single snapshot. Blank mentions are skipped.
func (m *Matcher) MatchBatch(ctx context.Context, tags, people []string) (*BatchResult, error) {
	snap, err := m.index.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	batch := &BatchResult{}
	for _, t := range tags {
		if strings.TrimSpace(t) == "" {
			continue
		}
		r := m.matchAgainst(t, snap.Tags)
		batch.Tags = append(batch.Tags, r)
		batch.count(r)
	}
	for _, p := range people {
		if strings.TrimSpace(p) == "" {
			continue
		}
		r := m.matchAgainst(p, snap.People)
		batch.People = append(batch.People, r)
		batch.count(r)
	}
	return batch, nil
}

// matchAgainst scores one mention against every candidate in the bucket.
// An exact case-insensitive hit wins outright; otherwise the best
// normalized Levenshtein score, boosted when the phonetic skeletons agree,
// must reach the threshold.
func (m *Matcher) matchAgainst(original string, candidates Bucket) Result {
	norm := normalizeTag(original)
	if norm == "" {
		return Result{Original: original, Type: TypeNone, NeedsReview: true}
	}
	if candidates.Contains(norm) {
		return Result{Original: original, Matched: norm, Similarity: 1, Type: TypeExact}
	}

	stripped := stripSeparators(norm)
	skeleton := phoneticSkeleton(norm)

	var (
		bestScore float64
		bestName  string
		bestType  = TypeNone
	)
	for _, c := range candidates.entries {
		score := similarity(stripped, c.stripped)
		typ := TypeFuzzy
		if similarity(skeleton, c.skeleton) > phoneticAgreement {
			score = math.Min(score+phoneticBoost, 1)
			typ = TypePhonetic
		}
		if score > bestScore {
			bestScore, bestName, bestType = score, c.name, typ
		}
	}

	if bestScore >= m.threshold {
		return Result{Original: original, Matched: bestName, Similarity: bestScore, Type: bestType}
	}
	m.logger.Debug("mention below match threshold",
		zap.String("mention", original),
		zap.Float64("best", bestScore),
	)
	return Result{Original: original, Similarity: bestScore, Type: TypeNone, NeedsReview: true}
}

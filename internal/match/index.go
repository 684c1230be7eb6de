package match

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultIndexTTL is how long a snapshot serves reads before the next
	// read triggers a rescan.
	DefaultIndexTTL = 5 * time.Minute
	// DefaultMaxFiles bounds one scan against pathological directories.
	DefaultMaxFiles = 10000
)

// defaultExcludedDirs are skipped in every scan, on top of hidden
// directories and anything the config adds.
var defaultExcludedDirs = []string{"attachments", "assets", "templates", "meta"}

// personName matches the firstname_lastname convention people notes use:
// exactly two alphabetic parts joined by a single underscore.
var personName = regexp.MustCompile(`^[a-z]+_[a-z]+$`)

// IndexConfig configures the corpus index. Zero values take the package
// defaults; ExcludeDirs extends the default exclusion list.
type IndexConfig struct {
	Root        string
	TTL         time.Duration
	MaxFiles    int
	ExcludeDirs []string
}

// Index is a lazily rebuilt view of the canonical vocabulary found in the
// corpus frontmatter. Reads share a snapshot for the TTL; the first read
// past it rebuilds, and concurrent expirations share a single rebuild.
type Index struct {
	root     string
	ttl      time.Duration
	maxFiles int
	exclude  map[string]struct{}
	clock    clockwork.Clock
	logger   *zap.Logger

	group singleflight.Group

	mu   sync.RWMutex
	snap *Snapshot
}

// Snapshot is one immutable build of the index.
type Snapshot struct {
	Tags      Bucket
	People    Bucket
	Projects  Bucket
	BuiltAt   time.Time
	FileCount int
}

// Bucket is a read-only candidate set with the derived comparison forms
// precomputed at build time. The zero value is an empty bucket.
type Bucket struct {
	set     map[string]struct{}
	entries []candidate
}

type candidate struct {
	name     string
	stripped string
	skeleton string
}

func newBucket(names map[string]struct{}) Bucket {
	b := Bucket{set: names, entries: make([]candidate, 0, len(names))}
	for name := range names {
		b.entries = append(b.entries, candidate{
			name:     name,
			stripped: stripSeparators(name),
			skeleton: phoneticSkeleton(name),
		})
	}
	sort.Slice(b.entries, func(i, j int) bool { return b.entries[i].name < b.entries[j].name })
	return b
}

// Contains reports exact membership of an already-normalized name.
func (b Bucket) Contains(name string) bool {
	_, ok := b.set[name]
	return ok
}

// Names returns the candidate names, sorted.
func (b Bucket) Names() []string {
	out := make([]string, len(b.entries))
	for i, c := range b.entries {
		out[i] = c.name
	}
	return out
}

func (b Bucket) Len() int { return len(b.entries) }

// NewIndex builds an index over the markdown corpus under cfg.Root.
// Nothing is scanned until the first Snapshot call.
func NewIndex(cfg IndexConfig, clock clockwork.Clock, logger *zap.Logger) *Index {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultIndexTTL
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	exclude := make(map[string]struct{}, len(defaultExcludedDirs)+len(cfg.ExcludeDirs))
	for _, d := range defaultExcludedDirs {
		exclude[d] = struct{}{}
	}
	for _, d := range cfg.ExcludeDirs {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			exclude[d] = struct{}{}
		}
	}
	return &Index{
		root:     cfg.Root,
		ttl:      cfg.TTL,
		maxFiles: cfg.MaxFiles,
		exclude:  exclude,
		clock:    clock,
		logger:   logger,
	}
}

// Snapshot returns the current index, rebuilding it when the TTL has
// passed. The only error is context cancellation: scan problems degrade
// to a smaller (possibly empty) snapshot with a warning.
func (ix *Index) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := ix.current(); snap != nil {
		return snap, nil
	}
	v, err, _ := ix.group.Do("rebuild", func() (any, error) {
		if snap := ix.current(); snap != nil {
			return snap, nil
		}
		snap, err := ix.scan(ctx)
		if err != nil {
			return nil, err
		}
		ix.mu.Lock()
		ix.snap = snap
		ix.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (ix *Index) current() *Snapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.snap != nil && ix.clock.Since(ix.snap.BuiltAt) < ix.ttl {
		return ix.snap
	}
	return nil
}

func (ix *Index) scan(ctx context.Context) (*Snapshot, error) {
	started := ix.clock.Now()
	tags := map[string]struct{}{}
	people := map[string]struct{}{}
	projects := map[string]struct{}{}
	files := 0
	capped := false

	err := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			ix.logger.Warn("corpus path unreadable", zap.String("path", path), zap.Error(walkErr))
			if path == ix.root {
				return fs.SkipAll
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == ix.root {
				return nil
			}
			if strings.HasPrefix(name, ".") || ix.excluded(name) {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".md") {
			return nil
		}
		if files >= ix.maxFiles {
			capped = true
			return fs.SkipAll
		}
		files++

		raw, err := os.ReadFile(path)
		if err != nil {
			ix.logger.Warn("corpus note unreadable", zap.String("path", path), zap.Error(err))
			return nil
		}
		found, err := frontmatterTags(raw)
		if err != nil {
			ix.logger.Warn("corpus frontmatter unparsable", zap.String("path", path), zap.Error(err))
			return nil
		}
		for _, t := range found {
			tag := normalizeTag(t)
			if tag == "" {
				continue
			}
			tags[tag] = struct{}{}
			switch {
			case isProjectTag(tag):
				projects[tag] = struct{}{}
			case personName.MatchString(tag):
				people[tag] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index scan: %w", err)
	}
	if capped {
		ix.logger.Warn("corpus scan capped",
			zap.String("root", ix.root),
			zap.Int("max_files", ix.maxFiles),
		)
	}

	snap := &Snapshot{
		Tags:      newBucket(tags),
		People:    newBucket(people),
		Projects:  newBucket(projects),
		BuiltAt:   started,
		FileCount: files,
	}
	ix.logger.Debug("corpus index rebuilt",
		zap.Int("files", files),
		zap.Int("tags", snap.Tags.Len()),
		zap.Int("people", snap.People.Len()),
		zap.Int("projects", snap.Projects.Len()),
	)
	return snap, nil
}

func (ix *Index) excluded(dir string) bool {
	_, ok := ix.exclude[strings.ToLower(dir)]
	return ok
}

func isProjectTag(tag string) bool {
	return strings.HasPrefix(tag, "project/") || strings.HasPrefix(tag, "project-")
}

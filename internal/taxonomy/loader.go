package taxonomy

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

// Loader caches the compiled taxonomy keyed on the definition file's
// modification time. Every failure mode degrades to the bundled fallback
// instead of erroring: auto-tagging is best-effort and must never stall
// message processing.
type Loader struct {
	path   string
	logger *zap.Logger

	mu       sync.Mutex
	cached   *Taxonomy
	modTime  time.Time
	fallback bool
	warned   bool
}

// NewLoader creates a Loader for the definition file at path.
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{path: path, logger: logger}
}

// Load returns the current taxonomy. The definition file is re-parsed
// only when its mtime differs from the cached one; an unchanged file is a
// zero-cost cache hit. A missing or malformed file yields the bundled
// fallback.
func (l *Loader) Load() *Taxonomy {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		return l.useFallback(err)
	}

	if l.cached != nil && info.ModTime().Equal(l.modTime) {
		return l.cached
	}

	raw, err := os.ReadFile(l.path)
	if err != nil {
		return l.useFallback(err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		l.logger.Warn("taxonomy file malformed, using bundled fallback",
			zap.String("path", l.path),
			zap.Error(err),
		)
		l.cached = build(mustParseFallback(), time.Time{})
		l.fallback = true
		// Remember the bad file's mtime so it is not re-parsed until it
		// actually changes.
		l.modTime = info.ModTime()
		return l.cached
	}

	if err := validateDocument(raw); err != nil {
		l.logger.Warn("taxonomy file failed schema validation, loading best-effort",
			zap.String("path", l.path),
			zap.Error(err),
		)
	}

	l.cached = build(&doc, info.ModTime())
	l.modTime = info.ModTime()
	l.fallback = false
	l.warned = false
	l.logger.Info("taxonomy loaded",
		zap.String("path", l.path),
		zap.Int("tags", len(l.cached.Tags)),
		zap.Int("keywords", len(l.cached.KeywordTags)),
		zap.Int("project_keywords", len(l.cached.ProjectTags)),
	)
	return l.cached
}

func (l *Loader) useFallback(cause error) *Taxonomy {
	if !l.warned {
		l.logger.Warn("taxonomy file unavailable, using bundled fallback",
			zap.String("path", l.path),
			zap.Error(cause),
		)
		l.warned = true
	}
	if l.cached == nil || !l.fallback {
		l.cached = build(mustParseFallback(), time.Time{})
		l.fallback = true
		l.modTime = time.Time{}
	}
	return l.cached
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// validateDocument checks the raw definition against the bundled JSON
// schema. Violations are reported to the caller for logging; the document
// is still used.
func validateDocument(raw []byte) error {
	schemaOnce.Do(func() {
		var schemaObj any
		if err := json.Unmarshal(schemaJSON, &schemaObj); err != nil {
			schemaErr = fmt.Errorf("schema unmarshal error: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("taxonomy.schema.json", schemaObj); err != nil {
			schemaErr = fmt.Errorf("schema compile error: %w", err)
			return
		}
		schema, schemaErr = c.Compile("taxonomy.schema.json")
	})
	if schemaErr != nil {
		return schemaErr
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("document unmarshal error: %w", err)
	}
	return schema.Validate(doc)
}

package config

import (
	"fmt"
	"regexp"
)

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535 (got %d)", c.Server.Port)
	}

	if err := c.Security.validate(); err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if err := c.Store.validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Corpus.validate(); err != nil {
		return fmt.Errorf("corpus: %w", err)
	}
	if err := c.Log.validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	return nil
}

func (s *SecurityConfig) validate() error {
	if s.MaxPerMinute < 0 {
		return fmt.Errorf("max_messages_per_minute must be >= 0 (got %d)", s.MaxPerMinute)
	}
	if s.MaxPerHour < 0 {
		return fmt.Errorf("max_messages_per_hour must be >= 0 (got %d)", s.MaxPerHour)
	}
	if s.BlockThreshold < 1 {
		return fmt.Errorf("block_threshold must be >= 1 (got %d)", s.BlockThreshold)
	}
	if s.SimilarityThreshold <= 0 || s.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1] (got %v)", s.SimilarityThreshold)
	}
	for i, bp := range s.BlockPatterns {
		if bp.Name == "" {
			return fmt.Errorf("block_patterns[%d]: name is required", i)
		}
		if _, err := regexp.Compile(bp.Pattern); err != nil {
			return fmt.Errorf("block_patterns[%d] (%s): %w", i, bp.Name, err)
		}
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case "sqlite":
		if s.Path == "" {
			return fmt.Errorf("path is required for the sqlite driver")
		}
	case "postgres":
		if s.DSN == "" {
			return fmt.Errorf("dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("driver must be sqlite or postgres (got %q)", s.Driver)
	}
	return nil
}

func (c *CorpusConfig) validate() error {
	if c.IndexTTL <= 0 {
		return fmt.Errorf("index_ttl must be > 0 (got %v)", c.IndexTTL)
	}
	if c.MaxFiles < 1 {
		return fmt.Errorf("max_files must be >= 1 (got %d)", c.MaxFiles)
	}
	return nil
}

func (l *LogConfig) validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of debug, info, warn, error (got %q)", l.Level)
	}
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("format must be json or console (got %q)", l.Format)
	}
	return nil
}

package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the root service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Store    StoreConfig    `yaml:"store"`
	Audit    AuditConfig    `yaml:"audit"`
	Taxonomy TaxonomyConfig `yaml:"taxonomy"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings. APIKeyHash is a bcrypt hash of
// the static API key; when empty the API runs unauthenticated, which is
// the expected mode for a localhost single-user deployment.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	APIKeyHash      string        `yaml:"api_key_hash"     env:"SERVER_API_KEY_HASH"`
}

// SecurityConfig holds the admission gate settings. An empty sender
// allowlist admits every sender; an empty command list takes the built-in
// whitelist. BlockPatterns extend the default signature table and are
// YAML-only (named regexes do not flatten into an env variable).
type SecurityConfig struct {
	AllowedSenders      []string       `yaml:"allowed_senders"         env:"SECURITY_ALLOWED_SENDERS"`
	AllowedCommands     []string       `yaml:"allowed_commands"        env:"SECURITY_ALLOWED_COMMANDS"`
	MaxPerMinute        int            `yaml:"max_messages_per_minute" env:"SECURITY_MAX_PER_MINUTE"        env-default:"30"`
	MaxPerHour          int            `yaml:"max_messages_per_hour"   env:"SECURITY_MAX_PER_HOUR"          env-default:"200"`
	SanitizeContent     bool           `yaml:"sanitize_content"        env:"SECURITY_SANITIZE_CONTENT"      env-default:"true"`
	BlockThreshold      int            `yaml:"block_threshold"         env:"SECURITY_BLOCK_THRESHOLD"       env-default:"3"`
	SimilarityThreshold float64        `yaml:"similarity_threshold"    env:"SECURITY_SIMILARITY_THRESHOLD"  env-default:"0.70"`
	BlockPatterns       []BlockPattern `yaml:"block_patterns"`
}

// BlockPattern is one config-supplied signature appended to the default
// sanitization table.
type BlockPattern struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// StoreConfig selects and configures the idempotency ledger backend.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"STORE_DRIVER" env-default:"sqlite"`
	Path   string `yaml:"path"   env:"STORE_PATH"   env-default:"data/gatehouse.db"`
	DSN    string `yaml:"dsn"    env:"STORE_DSN"`
}

// AuditConfig selects the audit sink. With a ClickHouse DSN entries go
// there (and the read API comes alive); otherwise they append to the
// rotating JSONL file.
type AuditConfig struct {
	FilePath       string `yaml:"file_path"        env:"AUDIT_FILE_PATH"        env-default:"data/audit.jsonl"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb" env:"AUDIT_FILE_MAX_SIZE_MB" env-default:"50"`
	FileMaxBackups int    `yaml:"file_max_backups" env:"AUDIT_FILE_MAX_BACKUPS" env-default:"5"`
	FileMaxAgeDays int    `yaml:"file_max_age_days" env:"AUDIT_FILE_MAX_AGE_DAYS" env-default:"90"`
	ClickHouseDSN  string `yaml:"clickhouse_dsn"   env:"AUDIT_CLICKHOUSE_DSN"`
}

// TaxonomyConfig points at the user's tag definition file. A missing file
// is fine: the loader falls back to the embedded example definition.
type TaxonomyConfig struct {
	Path string `yaml:"path" env:"TAXONOMY_PATH" env-default:"taxonomy.json"`
}

// CorpusConfig configures the markdown corpus index.
type CorpusConfig struct {
	Root        string        `yaml:"root"         env:"CORPUS_ROOT"      env-default:"notes"`
	IndexTTL    time.Duration `yaml:"index_ttl"    env:"CORPUS_INDEX_TTL" env-default:"5m"`
	MaxFiles    int           `yaml:"max_files"    env:"CORPUS_MAX_FILES" env-default:"10000"`
	ExcludeDirs []string      `yaml:"exclude_dirs" env:"CORPUS_EXCLUDE_DIRS"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Addr is the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

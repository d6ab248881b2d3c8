// Package config loads and validates docdex configuration.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. YAML file (.docdex.yaml in the state dir, or --config path)
//  3. Environment variables (DOCDEX_*)
//
// The resulting Config is an immutable snapshot for the run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	derr "github.com/docdex/docdex/internal/errors"
)

// Config is the complete docdex configuration.
type Config struct {
	Version int `yaml:"version"`

	// StateDir holds the catalog database, indexes, lease and logs.
	StateDir string `yaml:"state_dir"`

	Roots      RootsConfig      `yaml:"roots"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Index      IndexConfig      `yaml:"index"`
	Search     SearchConfig     `yaml:"search"`
	Watch      WatchConfig      `yaml:"watch"`
	Guard      GuardConfig      `yaml:"guard"`
	Retention  RetentionConfig  `yaml:"retention"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// RootsConfig configures which files enter the catalog.
type RootsConfig struct {
	// Paths are the file-system roots to scan and watch.
	Paths []string `yaml:"paths"`
	// Include globs ("**" aware). Empty means everything.
	Include []string `yaml:"include"`
	// Exclude globs, applied after Include.
	Exclude []string `yaml:"exclude"`
	// MaxFileSize in bytes; larger files are skipped.
	MaxFileSize int64 `yaml:"max_file_size"`
	// FollowSymlinks enables descending into symlinked directories.
	FollowSymlinks bool `yaml:"follow_symlinks"`
	// IncludeHidden includes dot-files and dot-directories.
	IncludeHidden bool `yaml:"include_hidden"`
}

// ExtractionConfig configures the extraction collaborator.
type ExtractionConfig struct {
	// SidecarURL is the HTTP extraction service endpoint.
	// Empty disables the sidecar; only plain-text formats are handled.
	SidecarURL string `yaml:"sidecar_url"`
	// Timeout per extraction request.
	Timeout Duration `yaml:"timeout"`
	// PlainTextExts are read directly without the sidecar.
	PlainTextExts []string `yaml:"plain_text_exts"`
	// DefaultLanguage is used when detection yields nothing ("auto" keeps
	// the heuristic result, even if unknown).
	DefaultLanguage string `yaml:"default_language"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "static", or "" (none: keyword-only).
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	OllamaHost string `yaml:"ollama_host"`
	CacheSize  int    `yaml:"cache_size"`
}

// IndexConfig configures the build pipeline.
type IndexConfig struct {
	Workers        int      `yaml:"workers"`
	ChunkSize      int      `yaml:"chunk_size"`
	ChunkOverlap   int      `yaml:"chunk_overlap"`
	CommitInterval Duration `yaml:"commit_interval"`
}

// SearchConfig configures query-time behavior.
type SearchConfig struct {
	// RRFConstant is the reciprocal rank fusion rank offset (k).
	RRFConstant    int     `yaml:"rrf_constant"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	MaxResults     int     `yaml:"max_results"`
}

// WatchConfig configures live watch mode.
type WatchConfig struct {
	// Debounce is the quiet window before a burst of events is flushed.
	Debounce Duration `yaml:"debounce"`
}

// GuardConfig configures the exclusive writer lease.
type GuardConfig struct {
	// RenewInterval is how often the lease file timestamp is refreshed.
	RenewInterval Duration `yaml:"renew_interval"`
	// StaleAfter is the age past which an unreleased lease may be reclaimed.
	StaleAfter Duration `yaml:"stale_after"`
}

// RetentionConfig configures catalog maintenance.
type RetentionConfig struct {
	// OpsRetention is how long completed ops-log entries are kept.
	OpsRetention Duration `yaml:"ops_retention"`
	// TombstoneRetention is how long soft-deleted files are kept before purge.
	TombstoneRetention Duration `yaml:"tombstone_retention"`
	// VacuumFreePages triggers VACUUM when the freelist exceeds this count.
	VacuumFreePages int `yaml:"vacuum_free_pages"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/.docdex/**",
	"**/*.tmp",
	"**/*.swp",
}

// defaultPlainTextExts are read without the extraction sidecar.
var defaultPlainTextExts = []string{
	".txt", ".md", ".markdown", ".csv", ".tsv", ".log", ".rst",
}

// New returns a Config with defaults applied.
func New() *Config {
	return &Config{
		Version:  1,
		StateDir: defaultStateDir(),
		Roots: RootsConfig{
			Include:        []string{},
			Exclude:        append([]string{}, defaultExcludePatterns...),
			MaxFileSize:    200 * 1024 * 1024,
			FollowSymlinks: false,
			IncludeHidden:  false,
		},
		Extraction: ExtractionConfig{
			Timeout:         Duration(60 * time.Second),
			PlainTextExts:   append([]string{}, defaultPlainTextExts...),
			DefaultLanguage: "auto",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "",
			Model:      "nomic-embed-text",
			Dimensions: 0,
			BatchSize:  32,
			OllamaHost: "",
			CacheSize:  1000,
		},
		Index: IndexConfig{
			Workers:        runtime.NumCPU(),
			ChunkSize:      2000,
			ChunkOverlap:   200,
			CommitInterval: Duration(45 * time.Second),
		},
		Search: SearchConfig{
			RRFConstant:    60,
			KeywordWeight:  1.0,
			SemanticWeight: 1.0,
			MaxResults:     20,
		},
		Watch: WatchConfig{
			Debounce: Duration(300 * time.Millisecond),
		},
		Guard: GuardConfig{
			RenewInterval: Duration(30 * time.Second),
			StaleAfter:    Duration(180 * time.Second),
		},
		Retention: RetentionConfig{
			OpsRetention:       Duration(7 * 24 * time.Hour),
			TombstoneRetention: Duration(30 * 24 * time.Hour),
			VacuumFreePages:    1000,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docdex")
	}
	return filepath.Join(home, ".docdex")
}

// Load builds the configuration for a run. path may be empty, a directory
// containing .docdex.yaml, or a config file path.
func Load(path string) (*Config, error) {
	cfg := New()

	file, err := resolveConfigFile(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		if err := cfg.loadYAML(file); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveConfigFile maps a user-supplied path to a concrete config file.
// Returns empty when no config file exists (defaults apply).
func resolveConfigFile(path string) (string, error) {
	if path == "" {
		candidate := filepath.Join(defaultStateDir(), ".docdex.yaml")
		if fileExists(candidate) {
			return candidate, nil
		}
		return "", nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", derr.New(derr.ErrCodeConfigInvalid,
			fmt.Sprintf("config path %s not found", path), err)
	}
	if info.IsDir() {
		for _, name := range []string{".docdex.yaml", ".docdex.yml"} {
			candidate := filepath.Join(path, name)
			if fileExists(candidate) {
				return candidate, nil
			}
		}
		return "", nil
	}
	return path, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return derr.New(derr.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return derr.New(derr.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.StateDir != "" {
		c.StateDir = other.StateDir
	}

	if len(other.Roots.Paths) > 0 {
		c.Roots.Paths = other.Roots.Paths
	}
	if len(other.Roots.Include) > 0 {
		c.Roots.Include = other.Roots.Include
	}
	if len(other.Roots.Exclude) > 0 {
		// Merge with defaults rather than replace.
		c.Roots.Exclude = append(c.Roots.Exclude, other.Roots.Exclude...)
	}
	if other.Roots.MaxFileSize != 0 {
		c.Roots.MaxFileSize = other.Roots.MaxFileSize
	}
	if other.Roots.FollowSymlinks {
		c.Roots.FollowSymlinks = true
	}
	if other.Roots.IncludeHidden {
		c.Roots.IncludeHidden = true
	}

	if other.Extraction.SidecarURL != "" {
		c.Extraction.SidecarURL = other.Extraction.SidecarURL
	}
	if other.Extraction.Timeout != 0 {
		c.Extraction.Timeout = other.Extraction.Timeout
	}
	if len(other.Extraction.PlainTextExts) > 0 {
		c.Extraction.PlainTextExts = other.Extraction.PlainTextExts
	}
	if other.Extraction.DefaultLanguage != "" {
		c.Extraction.DefaultLanguage = other.Extraction.DefaultLanguage
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Index.Workers != 0 {
		c.Index.Workers = other.Index.Workers
	}
	if other.Index.ChunkSize != 0 {
		c.Index.ChunkSize = other.Index.ChunkSize
	}
	if other.Index.ChunkOverlap != 0 {
		c.Index.ChunkOverlap = other.Index.ChunkOverlap
	}
	if other.Index.CommitInterval != 0 {
		c.Index.CommitInterval = other.Index.CommitInterval
	}

	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.KeywordWeight != 0 {
		c.Search.KeywordWeight = other.Search.KeywordWeight
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}

	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}

	if other.Guard.RenewInterval != 0 {
		c.Guard.RenewInterval = other.Guard.RenewInterval
	}
	if other.Guard.StaleAfter != 0 {
		c.Guard.StaleAfter = other.Guard.StaleAfter
	}

	if other.Retention.OpsRetention != 0 {
		c.Retention.OpsRetention = other.Retention.OpsRetention
	}
	if other.Retention.TombstoneRetention != 0 {
		c.Retention.TombstoneRetention = other.Retention.TombstoneRetention
	}
	if other.Retention.VacuumFreePages != 0 {
		c.Retention.VacuumFreePages = other.Retention.VacuumFreePages
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies DOCDEX_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCDEX_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("DOCDEX_ROOTS"); v != "" {
		c.Roots.Paths = splitList(v)
	}
	if v := os.Getenv("DOCDEX_SIDECAR_URL"); v != "" {
		c.Extraction.SidecarURL = v
	}
	if v := os.Getenv("DOCDEX_DEFAULT_LANGUAGE"); v != "" {
		c.Extraction.DefaultLanguage = v
	}
	if v := os.Getenv("DOCDEX_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCDEX_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("DOCDEX_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("DOCDEX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOCDEX_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("DOCDEX_COMMIT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Index.CommitInterval = Duration(d)
		}
	}
	if v := os.Getenv("DOCDEX_WATCH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Watch.Debounce = Duration(d)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, string(os.PathListSeparator)) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return derr.ConfigError("state_dir must not be empty", nil)
	}
	if c.Roots.MaxFileSize <= 0 {
		return derr.ConfigError(fmt.Sprintf("max_file_size must be positive, got %d", c.Roots.MaxFileSize), nil)
	}
	if c.Index.ChunkSize <= 0 {
		return derr.ConfigError(fmt.Sprintf("chunk_size must be positive, got %d", c.Index.ChunkSize), nil)
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return derr.ConfigError(fmt.Sprintf("chunk_overlap must be in [0, chunk_size), got %d", c.Index.ChunkOverlap), nil)
	}
	if c.Index.Workers <= 0 {
		return derr.ConfigError(fmt.Sprintf("workers must be positive, got %d", c.Index.Workers), nil)
	}
	if c.Search.RRFConstant <= 0 {
		return derr.ConfigError(fmt.Sprintf("rrf_constant must be positive, got %d", c.Search.RRFConstant), nil)
	}
	if c.Search.KeywordWeight < 0 || c.Search.SemanticWeight < 0 {
		return derr.ConfigError("search weights must be non-negative", nil)
	}
	if c.Search.MaxResults <= 0 {
		return derr.ConfigError(fmt.Sprintf("max_results must be positive, got %d", c.Search.MaxResults), nil)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "", "ollama", "static":
	default:
		return derr.ConfigError(fmt.Sprintf(
			"embeddings.provider must be 'ollama', 'static', or empty, got %s", c.Embeddings.Provider), nil)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return derr.ConfigError(fmt.Sprintf(
			"logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level), nil)
	}

	if c.Guard.RenewInterval >= c.Guard.StaleAfter {
		return derr.ConfigError("guard.renew_interval must be shorter than guard.stale_after", nil)
	}

	for _, root := range c.Roots.Paths {
		if !filepath.IsAbs(root) {
			return derr.ConfigError(fmt.Sprintf("root path must be absolute, got %s", root), nil)
		}
	}

	return nil
}

// CatalogPath returns the location of the catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.StateDir, "catalog.db")
}

// IndexDir returns the directory holding the full-text indexes.
func (c *Config) IndexDir() string {
	return filepath.Join(c.StateDir, "index")
}

// VectorsPath returns the location of the vector index file.
func (c *Config) VectorsPath() string {
	return filepath.Join(c.StateDir, "vectors.hnsw")
}

// LeasePath returns the location of the writer lease file.
func (c *Config) LeasePath() string {
	return filepath.Join(c.StateDir, "writer.lease")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Package config loads pipeline configuration from a TOML file, overlaid
// on an in-code defaults layer.
package config

import (
	"errors"
	"io/fs"

	"github.com/BurntSushi/toml"

	"github.com/kgraph/extractor/pkg/model"
)

// Config is the full recognized configuration surface of the pipeline.
type Config struct {
	DataDir                string `toml:"data_dir"`
	OutputFile             string `toml:"output_file"`
	Resume                 bool   `toml:"resume"`
	Workers                int    `toml:"workers"`
	FailOnValidationErrors bool   `toml:"fail_on_validation_errors"`

	Chunking      ChunkingConfig      `toml:"chunking"`
	Deduplication DeduplicationConfig `toml:"deduplication"`
	Checkpoint    CheckpointConfig    `toml:"checkpoint"`
	Validation    ValidationConfig    `toml:"validation"`
	LLM           LLMConfig           `toml:"llm"`
	Logging       LoggingConfig       `toml:"logging"`
}

// LoggingConfig drives internal/logger: writer selection, level,
// format, and file rotation.
type LoggingConfig struct {
	Output     []string `toml:"output"` // "console", "file", or both
	Level      string   `toml:"level"`
	Format     string   `toml:"format"` // "json" or "text"
	TimeFormat string   `toml:"time_format"`
	Dir        string   `toml:"dir"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// ChunkingConfig holds the chunking.* keys. Strategy selects
// how boundaries are drawn: "hybrid" (directory affinity plus size/count
// limits), "directory" (one chunk per directory), "size" (size limit
// only), or "count" (file-count limit only).
type ChunkingConfig struct {
	Strategy                   string  `toml:"strategy"`
	TargetSizeMB               float64 `toml:"target_size_mb"`
	MaxFilesPerChunk           int     `toml:"max_files_per_chunk"`
	RespectDirectoryBoundaries bool    `toml:"respect_directory_boundaries"`
}

// DeduplicationConfig holds the deduplication.* keys. Strategy
// and UrnMergeStrategy are orthogonal: Strategy picks whether an
// agent-assisted pass runs at all ("urn" | "agent" | "hybrid"), while
// UrnMergeStrategy always governs how the URN pass resolves a duplicate
// group ("first" | "last" | "merge_properties"), including when Strategy
// is "hybrid" and the agent-assisted pass runs after it.
type DeduplicationConfig struct {
	Strategy         string `toml:"strategy"`          // "urn" | "agent" | "hybrid"
	UrnMergeStrategy string `toml:"urn_merge_strategy"` // "first" | "last" | "merge_properties"
}

// CheckpointConfig holds the checkpoint.* keys.
type CheckpointConfig struct {
	Enabled             bool   `toml:"enabled"`
	Dir                 string `toml:"dir"`
	Strategy            string `toml:"strategy"` // "per_chunk" | "every_n" | "time_based"
	EveryNChunks        int    `toml:"every_n_chunks"`
	TimeIntervalMinutes int    `toml:"time_interval_minutes"`
	RecordFailedAsDone  bool   `toml:"record_failed_as_done"`
}

// ValidationConfig holds the validation.* keys.
type ValidationConfig struct {
	RequiredFields   []string `toml:"required_fields"`
	StrictURNFormat  bool     `toml:"strict_urn_format"`
	DetectOrphans    bool     `toml:"detect_orphans"`
	DetectBrokenRefs bool     `toml:"detect_broken_refs"`
	AllowMissingName bool     `toml:"allow_missing_name"`
}

// LLMConfig holds the llm.* keys. MaxRetries and the timeout
// fields are excluded from the config hash computed for checkpoint
// resume (see Hash), since retuning either should not invalidate an
// in-progress checkpoint. MaxPromptTokens bounds the Extraction Worker's
// pre-flight size check (pkg/worker.EstimatedTokens) so an obviously
// oversized chunk is split before ever calling the agent session.
type LLMConfig struct {
	Model                string `toml:"model"`
	MaxRetries           int    `toml:"max_retries"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	ResultTimeoutSeconds int    `toml:"result_timeout_seconds"`
	MaxPromptTokens      int    `toml:"max_prompt_tokens"`
}

// Load reads a TOML config file at path and overlays it onto Defaults().
// A missing file is not an error: Defaults() alone is returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if isNotExist(err) {
			return cfg, nil
		}
		return nil, &model.ConfigurationError{Reason: "reading config: " + err.Error()}
	}
	return cfg, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Validate checks option combinations that cannot be caught by TOML
// decoding alone, surfacing a ConfigurationError before any chunking
// work begins.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return &model.ConfigurationError{Reason: "data_dir is required"}
	}
	if c.Workers <= 0 {
		return &model.ConfigurationError{Reason: "workers must be positive"}
	}
	switch c.Chunking.Strategy {
	case "hybrid", "directory", "size", "count":
	default:
		return &model.ConfigurationError{Reason: "unknown chunking.strategy: " + c.Chunking.Strategy}
	}
	if c.Chunking.TargetSizeMB <= 0 {
		return &model.ConfigurationError{Reason: "chunking.target_size_mb must be positive"}
	}
	if c.Chunking.MaxFilesPerChunk <= 0 {
		return &model.ConfigurationError{Reason: "chunking.max_files_per_chunk must be positive"}
	}
	switch c.Deduplication.Strategy {
	case "urn", "agent", "hybrid":
	default:
		return &model.ConfigurationError{Reason: "unknown deduplication.strategy: " + c.Deduplication.Strategy}
	}
	switch c.Deduplication.UrnMergeStrategy {
	case "first", "last", "merge_properties":
	default:
		return &model.ConfigurationError{Reason: "unknown deduplication.urn_merge_strategy: " + c.Deduplication.UrnMergeStrategy}
	}
	switch c.Checkpoint.Strategy {
	case "per_chunk", "every_n", "time_based":
	default:
		return &model.ConfigurationError{Reason: "unknown checkpoint.strategy: " + c.Checkpoint.Strategy}
	}
	if c.Checkpoint.Strategy == "every_n" && c.Checkpoint.EveryNChunks <= 0 {
		return &model.ConfigurationError{Reason: "checkpoint.every_n_chunks must be positive for the every_n strategy"}
	}
	if c.Checkpoint.Strategy == "time_based" && c.Checkpoint.TimeIntervalMinutes <= 0 {
		return &model.ConfigurationError{Reason: "checkpoint.time_interval_minutes must be positive for the time_based strategy"}
	}
	return nil
}

package config

// Default values for every recognized configuration key.
const (
	DefaultWorkers                    = 1
	DefaultChunkingStrategy           = "hybrid"
	DefaultTargetSizeMB               = 2.0
	DefaultMaxFilesPerChunk           = 50
	DefaultRespectDirectoryBoundaries = true
	DefaultDeduplicationStrategy      = "urn"
	DefaultUrnMergeStrategy           = "merge_properties"
	DefaultCheckpointEnabled          = true
	DefaultCheckpointDir              = ".kgextract/checkpoints"
	DefaultCheckpointStrategy         = "per_chunk"
	DefaultEveryNChunks               = 10
	DefaultTimeIntervalMinutes        = 5
	DefaultStrictURNFormat            = true
	DefaultDetectOrphans              = true
	DefaultDetectBrokenRefs           = true
	DefaultLLMModel                   = "default"
	DefaultMaxRetries                 = 3
	DefaultTimeoutSeconds             = 120
	DefaultResultTimeoutSeconds       = 300
	DefaultMaxPromptTokens            = 800000
	DefaultOutputFile                 = "graph.jsonld"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultLogDir    = ".kgextract/logs"
)

// Defaults returns a fully populated Config using the constants above,
// the base onto which Load overlays a TOML file's values.
func Defaults() *Config {
	return &Config{
		OutputFile: DefaultOutputFile,
		Workers:    DefaultWorkers,
		Chunking: ChunkingConfig{
			Strategy:                   DefaultChunkingStrategy,
			TargetSizeMB:               DefaultTargetSizeMB,
			MaxFilesPerChunk:           DefaultMaxFilesPerChunk,
			RespectDirectoryBoundaries: DefaultRespectDirectoryBoundaries,
		},
		Deduplication: DeduplicationConfig{
			Strategy:         DefaultDeduplicationStrategy,
			UrnMergeStrategy: DefaultUrnMergeStrategy,
		},
		Checkpoint: CheckpointConfig{
			Enabled:             DefaultCheckpointEnabled,
			Dir:                 DefaultCheckpointDir,
			Strategy:            DefaultCheckpointStrategy,
			EveryNChunks:        DefaultEveryNChunks,
			TimeIntervalMinutes: DefaultTimeIntervalMinutes,
		},
		Validation: ValidationConfig{
			RequiredFields:   []string{"@id", "@type", "name"},
			StrictURNFormat:  DefaultStrictURNFormat,
			DetectOrphans:    DefaultDetectOrphans,
			DetectBrokenRefs: DefaultDetectBrokenRefs,
		},
		LLM: LLMConfig{
			Model:                DefaultLLMModel,
			MaxRetries:           DefaultMaxRetries,
			TimeoutSeconds:       DefaultTimeoutSeconds,
			ResultTimeoutSeconds: DefaultResultTimeoutSeconds,
			MaxPromptTokens:      DefaultMaxPromptTokens,
		},
		Logging: LoggingConfig{
			Output: []string{"console"},
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
			Dir:    DefaultLogDir,
		},
	}
}

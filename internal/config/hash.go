package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
)

// Hash computes the config fingerprint used to match a resumed run
// against its checkpoint: SHA-256, truncated to 16 hex characters, over
// the canonical (sorted-key) JSON encoding of the subset of fields that
// change the meaning of already-extracted entities. Retries and timeouts
// are deliberately excluded -- tuning them should not invalidate an
// in-progress checkpoint.
//
// The pre-image is built from nested maps rather than structs because
// encoding/json sorts map keys lexicographically, which is what makes
// the encoding canonical.
func (c *Config) Hash() (string, error) {
	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return "", err
	}
	subset := map[string]any{
		"data_dir": abs,
		"chunking": map[string]any{
			"strategy":                     c.Chunking.Strategy,
			"target_size_mb":               c.Chunking.TargetSizeMB,
			"max_files_per_chunk":          c.Chunking.MaxFilesPerChunk,
			"respect_directory_boundaries": c.Chunking.RespectDirectoryBoundaries,
		},
		"deduplication": map[string]any{
			"strategy":           c.Deduplication.Strategy,
			"urn_merge_strategy": c.Deduplication.UrnMergeStrategy,
		},
		"validation": map[string]any{
			"required_fields":    c.Validation.RequiredFields,
			"strict_urn_format":  c.Validation.StrictURNFormat,
			"detect_orphans":     c.Validation.DetectOrphans,
			"detect_broken_refs": c.Validation.DetectBrokenRefs,
			"allow_missing_name": c.Validation.AllowMissingName,
		},
		"llm_subset": map[string]any{
			"model": c.LLM.Model,
		},
	}

	data, err := json.Marshal(subset)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16], nil
}

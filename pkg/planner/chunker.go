// Package planner groups enumerated files into chunks for the worker
// pool, following the hybrid directory-affinity-then-size/count-limit
// strategy.
package planner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kgraph/extractor/pkg/model"
)

// Strategy selects how chunk boundaries are drawn.
type Strategy string

const (
	// StrategyHybrid groups by directory (when enabled) and bounds each
	// chunk by both size and file count.
	StrategyHybrid Strategy = "hybrid"
	// StrategyDirectory emits one chunk per directory, unbounded.
	StrategyDirectory Strategy = "directory"
	// StrategySize bounds chunks by accumulated size only.
	StrategySize Strategy = "size"
	// StrategyCount bounds chunks by file count only.
	StrategyCount Strategy = "count"
)

// Options configures the Chunker. Field names mirror the chunking.*
// configuration keys.
type Options struct {
	Strategy                   Strategy
	TargetSizeBytes            int64 // chunking.target_size_mb, already converted to bytes
	MaxFilesPerChunk           int   // chunking.max_files_per_chunk
	RespectDirectoryBoundaries bool  // chunking.respect_directory_boundaries
}

// DefaultOptions returns the stock hybrid chunking configuration.
func DefaultOptions() Options {
	return Options{
		Strategy:                   StrategyHybrid,
		TargetSizeBytes:            2 * 1024 * 1024,
		MaxFilesPerChunk:           50,
		RespectDirectoryBoundaries: true,
	}
}

// Chunker assigns enumerated files to chunks. Chunk IDs are drawn from
// a single counter that is never reset between directory groups, so IDs
// stay unique and ordered across the whole plan.
type Chunker struct {
	opts    Options
	counter int
}

// New creates a Chunker with the given options.
func New(opts Options) *Chunker {
	return &Chunker{opts: opts}
}

// CreateChunks groups files (already filtered to existing regular files
// by the caller) into chunks per the configured strategy. "hybrid" first
// groups files by parent directory (when RespectDirectoryBoundaries is
// set), preserving the order in which each directory was first seen,
// then chunks each group independently with the shared counter, bounded
// by both size and count; "directory" emits one chunk per directory;
// "size" and "count" apply a single boundary over the flat file list.
func (c *Chunker) CreateChunks(files []string) ([]model.Chunk, error) {
	strategy := c.opts.Strategy
	if strategy == "" {
		strategy = StrategyHybrid
	}

	byDirectory := strategy == StrategyDirectory ||
		(strategy == StrategyHybrid && c.opts.RespectDirectoryBoundaries)
	useSize := strategy == StrategyHybrid || strategy == StrategySize
	useCount := strategy == StrategyHybrid || strategy == StrategyCount

	var chunks []model.Chunk

	if !byDirectory {
		group, err := statFiles(files)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c.chunkGroup(group, useSize, useCount)...)
		return chunks, nil
	}

	order, groups := groupByDirectory(files)
	for _, dir := range order {
		group, err := statFiles(groups[dir])
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c.chunkGroup(group, useSize, useCount)...)
	}
	return chunks, nil
}

type statted struct {
	path string
	size int64
}

// statFiles stats each file, silently skipping ones that have
// disappeared or become unstattable between enumeration and chunking.
func statFiles(paths []string) ([]statted, error) {
	out := make([]statted, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		out = append(out, statted{path: p, size: info.Size()})
	}
	return out, nil
}

// groupByDirectory buckets paths by filepath.Dir, returning the bucket
// keys in first-seen order so chunk numbering is deterministic.
func groupByDirectory(paths []string) ([]string, map[string][]string) {
	order := make([]string, 0)
	groups := make(map[string][]string)
	for _, p := range paths {
		dir := filepath.Dir(p)
		if _, ok := groups[dir]; !ok {
			order = append(order, dir)
		}
		groups[dir] = append(groups[dir], p)
	}
	return order, groups
}

// chunkGroup packs one directory group (or the whole file set, in flat
// mode) into chunks, starting a new chunk whenever the current one is
// non-empty and adding the next file would exceed an enabled limit. With
// both limits disabled (the "directory" strategy) the group becomes a
// single chunk.
func (c *Chunker) chunkGroup(files []statted, useSize, useCount bool) []model.Chunk {
	var chunks []model.Chunk
	var cur model.Chunk
	var curSize int64
	var curFiles []string

	flush := func() {
		if len(curFiles) == 0 {
			return
		}
		cur.ChunkID = c.nextChunkID()
		cur.Files = curFiles
		cur.TotalSizeBytes = curSize
		chunks = append(chunks, cur)
		cur = model.Chunk{}
		curFiles = nil
		curSize = 0
	}

	for _, f := range files {
		wouldExceedSize := useSize && curSize+f.size > c.opts.TargetSizeBytes
		wouldExceedCount := useCount && len(curFiles)+1 > c.opts.MaxFilesPerChunk
		if len(curFiles) > 0 && (wouldExceedSize || wouldExceedCount) {
			flush()
		}
		curFiles = append(curFiles, f.path)
		curSize += f.size
	}
	flush()

	return chunks
}

// nextChunkID formats the chunk ID as "chunk-NNN", zero-padded to at
// least 3 digits, growing to 4+ digits rather than wrapping once the
// counter exceeds 999.
func (c *Chunker) nextChunkID() string {
	c.counter++
	return fmt.Sprintf("chunk-%03d", c.counter)
}

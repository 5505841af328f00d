package planner

import (
	"os"

	"github.com/kgraph/extractor/pkg/model"
)

// Split halves a chunk that produced a PromptTooLong failure into two
// roughly equal sub-chunks, recursively usable until a chunk holds a
// single file, at which point it is indivisible and Split returns two
// zero-value chunks with ok=false so the caller can give up on it
// instead of looping forever.
//
// Sub-chunk IDs are the parent's ID suffixed with "-a"/"-b" rather than
// drawn from the chunker's counter, so a chunk ID always traces its
// split lineage back to the original chunk (and recursive splits stack
// suffixes, e.g. "chunk-004-a-a"). TotalSizeBytes is recomputed from
// disk rather than apportioned from the parent's total, since files vary
// in size and the parent's total may itself be stale if files changed
// since chunking.
func Split(c model.Chunk) (a, b model.Chunk, ok bool) {
	if len(c.Files) <= 1 {
		return model.Chunk{}, model.Chunk{}, false
	}
	mid := len(c.Files) / 2

	aFiles := c.Files[:mid]
	bFiles := c.Files[mid:]

	a = model.Chunk{ChunkID: c.ChunkID + "-a", Files: aFiles, TotalSizeBytes: sumSizes(aFiles)}
	b = model.Chunk{ChunkID: c.ChunkID + "-b", Files: bFiles, TotalSizeBytes: sumSizes(bFiles)}
	return a, b, true
}

// sumSizes recomputes a chunk half's total size via os.Stat, silently
// skipping files that have disappeared since the parent chunk was built,
// the same tolerance statFiles applies during planning.
func sumSizes(paths []string) int64 {
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total
}

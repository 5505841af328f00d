package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kgraph/extractor/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, make([]byte, size), 0o644))
	return p
}

func TestCreateChunks_GlobalCounterAcrossDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0o755))

	files := []string{
		writeFile(t, filepath.Join(dir, "a"), "1.yaml", 10),
		writeFile(t, filepath.Join(dir, "b"), "2.yaml", 10),
	}

	c := New(Options{TargetSizeBytes: 1, MaxFilesPerChunk: 50, RespectDirectoryBoundaries: true})
	chunks, err := c.CreateChunks(files)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "chunk-001", chunks[0].ChunkID)
	assert.Equal(t, "chunk-002", chunks[1].ChunkID)
}

func TestCreateChunks_RespectsMaxFilesPerChunk(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for i := 0; i < 5; i++ {
		files = append(files, writeFile(t, dir, "f"+string(rune('a'+i))+".yaml", 1))
	}
	c := New(Options{TargetSizeBytes: 1 << 20, MaxFilesPerChunk: 2, RespectDirectoryBoundaries: false})
	chunks, err := c.CreateChunks(files)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0].Files, 2)
	assert.Len(t, chunks[1].Files, 2)
	assert.Len(t, chunks[2].Files, 1)
}

func TestCreateChunks_DirectoryStrategyOneChunkPerDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0o755))

	files := []string{
		writeFile(t, filepath.Join(dir, "a"), "1.yaml", 100),
		writeFile(t, filepath.Join(dir, "a"), "2.yaml", 100),
		writeFile(t, filepath.Join(dir, "a"), "3.yaml", 100),
		writeFile(t, filepath.Join(dir, "b"), "4.yaml", 100),
	}

	// Limits tight enough that hybrid would split directory "a"; the
	// directory strategy ignores them and keeps each directory whole.
	c := New(Options{Strategy: StrategyDirectory, TargetSizeBytes: 1, MaxFilesPerChunk: 1})
	chunks, err := c.CreateChunks(files)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0].Files, 3)
	assert.Len(t, chunks[1].Files, 1)
}

func TestCreateChunks_SizeStrategyIgnoresCount(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for i := 0; i < 4; i++ {
		files = append(files, writeFile(t, dir, "f"+string(rune('a'+i))+".yaml", 10))
	}
	c := New(Options{Strategy: StrategySize, TargetSizeBytes: 1 << 20, MaxFilesPerChunk: 1})
	chunks, err := c.CreateChunks(files)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].Files, 4)
}

func TestCreateChunks_CountStrategyIgnoresSize(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for i := 0; i < 4; i++ {
		files = append(files, writeFile(t, dir, "f"+string(rune('a'+i))+".yaml", 1<<10))
	}
	c := New(Options{Strategy: StrategyCount, TargetSizeBytes: 1, MaxFilesPerChunk: 2})
	chunks, err := c.CreateChunks(files)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
}

func TestSplit_SingleFileIsIndivisible(t *testing.T) {
	_, _, ok := Split(model.Chunk{ChunkID: "chunk-001", Files: []string{"only.yaml"}})
	assert.False(t, ok)
}

func TestSplit_HalvesFiles(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeFile(t, dir, "a.yaml", 4),
		writeFile(t, dir, "b.yaml", 4),
		writeFile(t, dir, "c.yaml", 4),
		writeFile(t, dir, "d.yaml", 4),
	}
	c := model.Chunk{ChunkID: "chunk-001", Files: files}
	a, b, ok := Split(c)
	require.True(t, ok)
	assert.Len(t, a.Files, 2)
	assert.Len(t, b.Files, 2)
	assert.Equal(t, "chunk-001-a", a.ChunkID)
	assert.Equal(t, "chunk-001-b", b.ChunkID)
	assert.EqualValues(t, 8, a.TotalSizeBytes)
	assert.EqualValues(t, 8, b.TotalSizeBytes)
}

func TestSplit_RecursiveSuffixStacks(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeFile(t, dir, "a.yaml", 1),
		writeFile(t, dir, "b.yaml", 1),
	}
	c := model.Chunk{ChunkID: "chunk-001-a", Files: files}
	a, b, ok := Split(c)
	require.True(t, ok)
	assert.Equal(t, "chunk-001-a-a", a.ChunkID)
	assert.Equal(t, "chunk-001-a-b", b.ChunkID)
}

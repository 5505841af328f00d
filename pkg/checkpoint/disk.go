package checkpoint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kgraph/extractor/pkg/model"
)

// DiskStore persists one checkpoint per JSON file under dir, named
// "<id>.json". Writes are atomic with respect to concurrent readers:
// each save writes to a temp file in the same directory and renames it
// into place.
type DiskStore struct {
	dir string
}

// NewDiskStore creates a DiskStore rooted at dir, creating dir if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &model.CheckpointError{Op: "mkdir", Cause: err}
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes cp atomically, overwriting any existing checkpoint with
// the same CheckpointID.
func (s *DiskStore) Save(cp *model.Checkpoint) error {
	if cp.Version == 0 {
		cp.Version = model.CurrentCheckpointVersion
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return &model.CheckpointError{Op: "marshal", Cause: err}
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+cp.CheckpointID+"-*")
	if err != nil {
		return &model.CheckpointError{Op: "create temp", Cause: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &model.CheckpointError{Op: "write temp", Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &model.CheckpointError{Op: "close temp", Cause: err}
	}
	if err := os.Rename(tmpPath, s.path(cp.CheckpointID)); err != nil {
		os.Remove(tmpPath)
		return &model.CheckpointError{Op: "rename", Cause: err}
	}
	return nil
}

// Load reads the checkpoint with the given id. It returns (nil, nil)
// if the file is absent, and also (nil, nil) -- not an error -- if the
// file's Version does not match model.CurrentCheckpointVersion: an old
// checkpoint is ignored, never migrated.
func (s *DiskStore) Load(id string) (*model.Checkpoint, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &model.CheckpointError{Op: "read", Cause: err}
	}
	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &model.CheckpointError{Op: "unmarshal", Cause: err}
	}
	if cp.Version != model.CurrentCheckpointVersion {
		return nil, nil
	}
	return &cp, nil
}

// List returns every checkpoint id present, sorted.
func (s *DiskStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &model.CheckpointError{Op: "readdir", Cause: err}
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the checkpoint with the given id. It is a no-op if the
// checkpoint does not exist.
func (s *DiskStore) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &model.CheckpointError{Op: "delete", Cause: err}
	}
	return nil
}

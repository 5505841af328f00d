// Package checkpoint persists and restores run state so an interrupted
// extraction can resume without re-processing committed chunks.
package checkpoint

import "github.com/kgraph/extractor/pkg/model"

// Store is satisfied by both the on-disk implementation and the
// in-memory one used in tests.
type Store interface {
	Save(cp *model.Checkpoint) error
	Load(id string) (*model.Checkpoint, error) // nil, nil if absent
	List() ([]string, error)
	Delete(id string) error
}

// Package emit writes the final JSON-LD document: a fixed @context plus
// an @graph array of entity records in first-insertion order.
package emit

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/kgraph/extractor/internal/fileutil"
	"github.com/kgraph/extractor/pkg/model"
)

// DefaultContext is the minimum @context every emitted document
// carries. Only @vocab is needed; the urn: scheme resolves without
// prefix expansion.
var DefaultContext = map[string]string{"@vocab": "http://schema.org/"}

// Document is the top-level shape written to the output file.
type Document struct {
	Context map[string]string `json:"@context"`
	Graph   []map[string]any  `json:"@graph"`
}

// Build renders entities (already deduplicated and validated) into a
// Document, preserving their given order -- callers are expected to pass
// entities in first-insertion order already.
func Build(entities []*model.Entity, context map[string]string) Document {
	if context == nil {
		context = DefaultContext
	}
	graph := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		graph = append(graph, e.ToJSONLD())
	}
	return Document{Context: context, Graph: graph}
}

// Write renders entities and writes them to path as UTF-8 JSON without
// a BOM. The write is atomic with respect to concurrent readers: data is
// written to a temp file in the same directory and renamed into place,
// the same write-temp-then-rename idiom pkg/checkpoint/disk.go uses.
func Write(path string, entities []*model.Entity, context map[string]string) error {
	doc := Build(entities, context)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := fileutil.EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-emit-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

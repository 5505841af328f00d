// Package discovery enumerates the regular files under a data root in a
// stable order, ready to be grouped into chunks by pkg/planner.
package discovery

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/kgraph/extractor/pkg/model"
)

// Enumerator lists regular files under a root directory, including
// symlinks that resolve to regular files; symlinked directories are not
// descended into. By default it visits every regular file; SetGlob
// narrows it to matching paths.
type Enumerator struct {
	root string
	glob string
}

// New creates an Enumerator rooted at dir. dir must exist and be a
// directory; this is checked eagerly so callers get a ConfigurationError
// before any chunking work begins.
func New(dir string) (*Enumerator, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &model.ConfigurationError{Reason: "data root: " + err.Error()}
	}
	if !info.IsDir() {
		return nil, &model.ConfigurationError{Reason: "data root is not a directory: " + dir}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &model.ConfigurationError{Reason: "data root: " + err.Error()}
	}
	return &Enumerator{root: abs}, nil
}

// Root returns the absolute data root path.
func (e *Enumerator) Root() string { return e.root }

// SetGlob restricts Enumerate to files whose root-relative slash path or
// base name matches pattern (filepath.Match syntax). An empty pattern,
// the default, matches everything.
func (e *Enumerator) SetGlob(pattern string) { e.glob = pattern }

func (e *Enumerator) matches(path string) bool {
	if e.glob == "" {
		return true
	}
	rel, err := filepath.Rel(e.root, path)
	if err != nil {
		rel = path
	}
	if ok, _ := filepath.Match(e.glob, filepath.ToSlash(rel)); ok {
		return true
	}
	ok, _ := filepath.Match(e.glob, filepath.Base(path))
	return ok
}

// Enumerate returns every regular file under the root, in lexicographic
// order by absolute path. A symlink is listed under its own path when
// its resolved target is a regular file, unless an earlier symlink in
// the walk resolved to the same target. Symlinks to directories are not
// followed, and broken symlinks are skipped.
func (e *Enumerator) Enumerate() ([]string, error) {
	visited := make(map[string]bool)
	var files []string

	err := filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				// Broken symlink: skip it rather than fail the whole run.
				return nil
			}
			if visited[target] {
				return nil
			}
			visited[target] = true
			info, err := os.Stat(target)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
			if e.matches(path) {
				files = append(files, path)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if e.matches(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, &model.ConfigurationError{Reason: "walking data root: " + err.Error()}
	}

	sort.Strings(files)
	return files, nil
}

package agentsession

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Tool names for the read-only file tool, directory-search tool, and
// glob tool offered alongside ToolName: the agent is expected to read
// files through these rather than having their contents inlined into
// the prompt.
const (
	ToolReadFile    = "read_file"
	ToolSearchFiles = "search_files"
	ToolGlobFiles   = "glob_files"
)

const (
	maxReadBytes     = 256 * 1024
	maxSearchMatches = 200
	maxGlobMatches   = 1000
)

// resolveSandboxed resolves rel against root and rejects any path that
// would escape root, the same confinement pkg/discovery/enumerator.go
// gives the File Enumerator -- the agent's file tools must never see
// anything outside the chunk's data directory.
func resolveSandboxed(root, rel string) (string, error) {
	root = filepath.Clean(root)
	cleaned := filepath.Clean(filepath.Join(root, rel))
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the sandboxed root", rel)
	}
	return cleaned, nil
}

// readFile implements the read-only file tool: it returns a file's
// contents, truncated at maxReadBytes so a single oversized file cannot
// blow the result-capture timeout budget.
func readFile(root, rel string) (string, error) {
	path, err := resolveSandboxed(root, rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%q is a directory, not a file", rel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
	}
	return string(data), nil
}

// searchFiles implements the directory-search tool: a plain substring
// search over file contents under root (optionally scoped to a
// subdirectory), returning "path:line: text" matches bounded to
// maxSearchMatches.
func searchFiles(root, query, scope string) (string, error) {
	base := root
	if scope != "" {
		resolved, err := resolveSandboxed(root, scope)
		if err != nil {
			return "", err
		}
		base = resolved
	}

	var matches []string
	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if len(matches) >= maxSearchMatches {
			return fs.SkipAll
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		scanner := bufio.NewScanner(strings.NewReader(string(data)))
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if strings.Contains(scanner.Text(), query) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, lineNo, strings.TrimSpace(scanner.Text())))
				if len(matches) >= maxSearchMatches {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}
	if len(matches) == 0 {
		return "no matches", nil
	}
	return strings.Join(matches, "\n"), nil
}

// globFiles implements the glob tool: pattern is matched against each
// regular file's root-relative, slash-separated path. "**" matches zero
// or more path segments in addition to filepath.Match's ordinary
// "*"/"?"/"[...]" syntax, so patterns like "**/*.yaml" find matches at
// any depth.
func globFiles(root, pattern string) ([]string, error) {
	var out []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if len(out) >= maxGlobMatches {
			return fs.SkipAll
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matchGlob(pattern, rel) {
			out = append(out, rel)
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	sort.Strings(out)
	return out, nil
}

// matchGlob extends filepath.Match with "**" meaning "any number of path
// segments, including zero".
func matchGlob(pattern, path string) bool {
	if !strings.Contains(pattern, "**") {
		ok, _ := filepath.Match(pattern, path)
		return ok
	}
	prefix, suffix, _ := strings.Cut(pattern, "**")
	prefix = strings.TrimSuffix(prefix, "/")
	suffix = strings.TrimPrefix(suffix, "/")
	if prefix != "" && !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(path, prefix), "/")
	if suffix == "" {
		return true
	}
	if ok, _ := filepath.Match(suffix, rest); ok {
		return true
	}
	ok, _ := filepath.Match(suffix, filepath.Base(rest))
	return ok
}

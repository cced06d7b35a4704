package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// DiscoverExecutables recursively scans root for files matching the
// extension allow-list, at most maxDepth levels below root (depth 0 is a
// file directly inside root). Matching is case-insensitive. The result is
// deduplicated and sorted case-insensitively.
//
// Unreadable subtrees do not abort the scan: they are collected as
// warnings and the rest of the tree is still searched.
func DiscoverExecutables(root string, extensions []string, maxDepth int) ([]string, []string, error) {
	patterns := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		patterns = append(patterns, "*."+strings.ToLower(strings.TrimPrefix(ext, ".")))
	}

	var (
		mu       sync.Mutex
		matches  []string
		warnings []string
	)
	conf := fastwalk.Config{Follow: false}

	err := fastwalk.Walk(&conf, root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			mu.Lock()
			warnings = append(warnings, fmt.Sprintf("%s: %v", path, err))
			mu.Unlock()
			return nil
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		depth := strings.Count(rel, string(os.PathSeparator))

		if d.IsDir() {
			if depth >= maxDepth {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || depth > maxDepth {
			return nil
		}

		if matchesAny(patterns, d.Name()) {
			mu.Lock()
			matches = append(matches, path)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, warnings, fmt.Errorf("scan %s: %w", root, err)
	}

	return dedupeSorted(matches), warnings, nil
}

// matchesAny reports whether the lowercased base name matches one of the
// allow-list patterns.
func matchesAny(patterns []string, name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, lower); err == nil && ok {
			return true
		}
	}
	return false
}

// dedupeSorted removes case-insensitive duplicates and sorts the result
// case-insensitively, ties broken by the raw string.
func dedupeSorted(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		key := strings.ToLower(p)
		if !seen[key] {
			seen[key] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i]), strings.ToLower(out[j])
		if li != lj {
			return li < lj
		}
		return out[i] < out[j]
	})
	return out
}

// ShallowestPath picks the candidate with the fewest path separators,
// ties broken lexically. Used when a default executable choice is needed
// and no explicit selection exists.
func ShallowestPath(candidates []string) string {
	best := ""
	bestDepth := -1
	for _, c := range candidates {
		depth := strings.Count(c, string(os.PathSeparator))
		if best == "" || depth < bestDepth || (depth == bestDepth && c < best) {
			best = c
			bestDepth = depth
		}
	}
	return best
}

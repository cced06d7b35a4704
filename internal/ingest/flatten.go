package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// junkNames are platform metadata artifacts that never count as content
// when deciding whether an install directory has a single wrapping
// directory to lift.
var junkNames = map[string]bool{
	".ds_store":   true,
	"__macosx":    true,
	"thumbs.db":   true,
	"desktop.ini": true,
	".localized":  true,
}

// isJunk reports whether a base name is an ignorable metadata artifact.
func isJunk(name string) bool {
	return junkNames[strings.ToLower(name)]
}

// flattenSingleDir removes one redundant wrapping directory: when dir
// contains exactly one non-junk entry and that entry is a directory, its
// children are lifted up a level and the empty wrapper is removed.
//
// The flatten aborts, leaving the structure as-is, if any lifted child
// would collide with an existing name at the parent level. Nothing is
// ever overwritten.
func flattenSingleDir(dir string) (bool, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", dir, err)
	}

	var retained []os.DirEntry
	for _, d := range dirents {
		if !isJunk(d.Name()) {
			retained = append(retained, d)
		}
	}
	if len(retained) != 1 || !retained[0].IsDir() {
		return false, nil
	}

	wrapper := filepath.Join(dir, retained[0].Name())
	children, err := os.ReadDir(wrapper)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", wrapper, err)
	}

	for _, child := range children {
		if _, err := os.Lstat(filepath.Join(dir, child.Name())); err == nil {
			// A name collision at the parent level; the wrapper
			// itself counts, since a child sharing its name would
			// land on it.
			return false, nil
		}
	}

	for _, child := range children {
		src := filepath.Join(wrapper, child.Name())
		dst := filepath.Join(dir, child.Name())
		if err := os.Rename(src, dst); err != nil {
			return false, fmt.Errorf("lift %s: %w", src, err)
		}
	}

	if err := os.Remove(wrapper); err != nil {
		return false, fmt.Errorf("remove wrapper %s: %w", wrapper, err)
	}
	return true, nil
}

package paths

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Well-known names inside the archive root.
const (
	// DefaultArchiveDirName is the default archive root, relative to the
	// install root. The leading tilde keeps it sorted after app dirs.
	DefaultArchiveDirName = "~archives"

	// BackupDirName is the subdirectory of the archive root holding
	// timestamped zip backups.
	BackupDirName = "backup"

	// ListFileName is the persisted catalog file.
	ListFileName = "software_list.json"

	// LockFileName is the zero-byte advisory lock sentinel.
	LockFileName = "software_list.lock"
)

// invalidNameChars are stripped from entry names before they become
// directory or file names.
const invalidNameChars = `<>:"/\|?*`

// NormalizeEntry canonicalizes a raw archive entry path: separators become
// forward slashes, surrounding whitespace is trimmed, leading "./" segments
// and repeated separators collapse away. Empty results are rejected.
func NormalizeEntry(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "\\", "/")
	s = path.Clean(s)
	if s == "" || s == "." || s == "/" {
		return "", fmt.Errorf("empty entry path %q", raw)
	}
	return s, nil
}

// SecureJoin resolves an archive entry path against a destination root and
// guarantees the result stays inside it. Absolute entries, drive-letter
// prefixes, ".." climbing past the root and symlinked escapes are all
// rejected. Callers treat a rejection as a per-entry skip, not a failure
// of the whole extraction.
func SecureJoin(root, entry string) (string, error) {
	norm, err := NormalizeEntry(entry)
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(norm, "/") {
		return "", fmt.Errorf("absolute entry path %q", entry)
	}
	if hasDrivePrefix(norm) {
		return "", fmt.Errorf("drive-prefixed entry path %q", entry)
	}
	if norm == ".." || strings.HasPrefix(norm, "../") {
		return "", fmt.Errorf("entry path %q escapes root", entry)
	}

	canonRoot, err := canonicalize(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", root, err)
	}

	target := filepath.Clean(filepath.Join(canonRoot, filepath.FromSlash(norm)))
	if !within(canonRoot, target) {
		return "", fmt.Errorf("entry path %q escapes root", entry)
	}

	// A symlink planted under the root may still point outside it. The
	// target rarely exists yet during extraction, so only an existing,
	// resolvable path is re-checked.
	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		if !within(canonRoot, resolved) {
			return "", fmt.Errorf("entry path %q resolves outside root", entry)
		}
	}

	return target, nil
}

// SanitizeName turns an arbitrary display name into a safe single path
// component: path separators and reserved filesystem characters are
// removed, leading/trailing whitespace and dots are trimmed.
func SanitizeName(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if strings.ContainsRune(invalidNameChars, r) || r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	s := strings.Trim(b.String(), " .")
	return s
}

// ListFilePath returns the catalog file path for an archive root.
func ListFilePath(archiveRoot string) string {
	return filepath.Join(archiveRoot, ListFileName)
}

// LockFilePath returns the lock sentinel path for an archive root.
func LockFilePath(archiveRoot string) string {
	return filepath.Join(archiveRoot, LockFileName)
}

// BackupDir returns the backup subdirectory for an archive root.
func BackupDir(archiveRoot string) string {
	return filepath.Join(archiveRoot, BackupDirName)
}

// IsCatalogFile reports whether a base name belongs to the registry's own
// storage and must never be surfaced as an unknown archive.
func IsCatalogFile(name string) bool {
	return name == ListFileName || name == LockFileName
}

// SamePath reports whether two paths identify the same file or directory,
// tolerating case and separator differences via absolute cleaning and, when
// both exist, an os.SameFile check.
func SamePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}

func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

func within(root, target string) bool {
	if target == root {
		return true
	}
	return strings.HasPrefix(target, root+string(os.PathSeparator))
}

func hasDrivePrefix(s string) bool {
	if len(s) < 2 || s[1] != ':' {
		return false
	}
	c := s[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

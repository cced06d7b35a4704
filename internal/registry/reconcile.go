package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/greenstash/greenstash/internal/shared/paths"
	"github.com/greenstash/greenstash/internal/shared/types"
)

// Reconcile returns the full catalog view: managed entries with their
// transient flags refreshed, followed by entries synthesized for
// unmanaged install directories and archive files found on disk.
//
// Synthesized entries are never persisted; their ID is their path. The
// call mutates nothing, so running it twice without filesystem changes
// yields the same result.
func (s *Store) Reconcile(ctx context.Context, installRoot string) ([]types.SoftwareEntry, error) {
	entries, err := s.read()
	if err != nil {
		return nil, err
	}

	backupNames := s.backupFileNames()
	for i := range entries {
		s.refreshFlags(&entries[i], backupNames)
	}

	result := entries
	result = append(result, s.unknownInstalls(installRoot, entries)...)
	result = append(result, s.unknownArchives(entries)...)
	return result, nil
}

// refreshFlags recomputes the runtime-only fields of a managed entry.
func (s *Store) refreshFlags(e *types.SoftwareEntry, backupNames []string) {
	e.InstallExists = dirExists(e.InstallPath)
	e.ArchiveExists = fileExists(e.ArchivePath)

	// An entry is backed up when its own archive lives in the backup
	// directory, or when a timestamped backup carries its name prefix.
	backupDir := paths.BackupDir(s.archiveRoot)
	if e.ArchivePath != "" && isUnder(backupDir, e.ArchivePath) {
		e.IsBackupArchive = true
		e.BackupPath = e.ArchivePath
		return
	}

	prefix := paths.SanitizeName(e.Name) + "-"
	for _, name := range backupNames {
		if strings.HasPrefix(name, prefix) {
			e.IsBackupArchive = true
			e.BackupPath = filepath.Join(backupDir, name)
			return
		}
	}
	e.IsBackupArchive = false
	e.BackupPath = ""
}

// unknownInstalls synthesizes entries for immediate subdirectories of the
// install root with no catalog record. The archive root and its backup
// subdirectory are reserved and never surface here.
func (s *Store) unknownInstalls(installRoot string, managed []types.SoftwareEntry) []types.SoftwareEntry {
	dirents, err := os.ReadDir(installRoot)
	if err != nil {
		s.log.Warn("cannot scan install root", zap.String("path", installRoot), zap.Error(err))
		return nil
	}

	known := make(map[string]bool, len(managed))
	for _, e := range managed {
		if abs, err := filepath.Abs(e.InstallPath); err == nil {
			known[abs] = true
		}
	}

	var unknown []types.SoftwareEntry
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		full := filepath.Join(installRoot, d.Name())
		if paths.SamePath(full, s.archiveRoot) || paths.SamePath(full, paths.BackupDir(s.archiveRoot)) {
			continue
		}
		abs, err := filepath.Abs(full)
		if err != nil || known[abs] {
			continue
		}
		unknown = append(unknown, types.SoftwareEntry{
			ID:            full,
			Name:          d.Name(),
			InstallPath:   full,
			Status:        types.StatusUnknownInstall,
			InstallExists: true,
		})
	}
	return unknown
}

// unknownArchives synthesizes entries for files directly inside the
// archive root that no catalog record references. The catalog's own
// storage files are excluded.
func (s *Store) unknownArchives(managed []types.SoftwareEntry) []types.SoftwareEntry {
	dirents, err := os.ReadDir(s.archiveRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("cannot scan archive root", zap.String("path", s.archiveRoot), zap.Error(err))
		}
		return nil
	}

	known := make(map[string]bool, len(managed))
	for _, e := range managed {
		if abs, err := filepath.Abs(e.ArchivePath); err == nil {
			known[abs] = true
		}
	}

	var unknown []types.SoftwareEntry
	for _, d := range dirents {
		if d.IsDir() || paths.IsCatalogFile(d.Name()) || strings.HasSuffix(d.Name(), ".tmp") {
			continue
		}
		full := filepath.Join(s.archiveRoot, d.Name())
		abs, err := filepath.Abs(full)
		if err != nil || known[abs] {
			continue
		}
		unknown = append(unknown, types.SoftwareEntry{
			ID:            full,
			Name:          d.Name(),
			ArchivePath:   full,
			Status:        types.StatusUnknownArchive,
			ArchiveExists: true,
		})
	}
	return unknown
}

// backupFileNames lists the base names inside the backup directory.
func (s *Store) backupFileNames() []string {
	dirents, err := os.ReadDir(paths.BackupDir(s.archiveRoot))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() {
			names = append(names, d.Name())
		}
	}
	return names
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// isUnder reports whether child is inside parent after cleaning.
func isUnder(parent, child string) bool {
	absParent, err1 := filepath.Abs(parent)
	absChild, err2 := filepath.Abs(child)
	if err1 != nil || err2 != nil {
		return false
	}
	return strings.HasPrefix(absChild, absParent+string(os.PathSeparator))
}

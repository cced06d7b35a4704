// Package batch bulk-processes the install root: every immediate
// subdirectory is matched against the archive root, backed up when
// nothing matches, and registered in the catalog.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/greenstash/greenstash/internal/infrastructure/config"
	"github.com/greenstash/greenstash/internal/infrastructure/monitoring"
	"github.com/greenstash/greenstash/internal/ingest"
	"github.com/greenstash/greenstash/internal/logging"
	"github.com/greenstash/greenstash/internal/providers/archive"
	"github.com/greenstash/greenstash/internal/registry"
	"github.com/greenstash/greenstash/internal/shared/id"
	"github.com/greenstash/greenstash/internal/shared/paths"
	"github.com/greenstash/greenstash/internal/shared/types"
)

// ProgressFunc observes batch progress. It is invoked synchronously after
// each directory, with the completed count, the total, and the name just
// processed. Implementations must not block.
type ProgressFunc func(done, total int, name string)

// Suggestion pairs an install directory with archive files that look like
// they belong to it. Ambiguity is always handed to a human, never
// auto-resolved.
type Suggestion struct {
	Name        string
	InstallPath string
	Candidates  []string
}

// Result summarizes one batch run.
type Result struct {
	ID          id.BatchID
	Processed   int
	BackedUp    []string
	Suggestions []Suggestion
	Registered  []types.SoftwareEntry
	Warnings    []string
}

// Archiver scans the install root and brings every application directory
// under catalog management.
type Archiver struct {
	cfg       *config.Config
	store     *registry.Store
	inspector *archive.Inspector
	log       *logging.Logger
	metrics   *monitoring.Metrics
	now       func() time.Time
}

// New creates a batch archiver.
func New(cfg *config.Config, store *registry.Store, inspector *archive.Inspector, log *logging.Logger, metrics *monitoring.Metrics) *Archiver {
	if log == nil {
		log = logging.NewNop()
	}
	return &Archiver{
		cfg:       cfg,
		store:     store,
		inspector: inspector,
		log:       log.Named("batch"),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Run processes each immediate subdirectory of the install root, skipping
// the reserved directories. A directory with matching archive files in
// the archive root becomes a suggestion; one without gets a timestamped
// zip backup when backups are enabled. Either way the directory is
// registered as (or refreshed into) a managed entry. progress may be nil.
func (a *Archiver) Run(ctx context.Context, progress ProgressFunc) (*Result, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	installRoot := a.cfg.InstallRoot()
	archiveRoot := a.cfg.ArchiveRoot()
	backupDir := paths.BackupDir(archiveRoot)

	dirents, err := os.ReadDir(installRoot)
	if err != nil {
		return nil, fmt.Errorf("read install root: %w", err)
	}

	var candidates []os.DirEntry
	for _, d := range dirents {
		if !d.IsDir() || a.isReserved(filepath.Join(installRoot, d.Name()), d.Name(), archiveRoot, backupDir) {
			continue
		}
		candidates = append(candidates, d)
	}

	managed, err := a.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{ID: id.NewBatchID()}
	total := len(candidates)

	for i, d := range candidates {
		installPath := filepath.Join(installRoot, d.Name())
		name := paths.SanitizeName(d.Name())

		matches, err := a.archiveCandidates(archiveRoot, name, managed)
		if err != nil {
			return nil, err
		}

		archivePath := ""
		switch {
		case len(matches) > 0:
			result.Suggestions = append(result.Suggestions, Suggestion{
				Name:        name,
				InstallPath: installPath,
				Candidates:  matches,
			})
		case a.cfg.Ingest.BackupOnBatch:
			archivePath, err = a.backup(ctx, name, installPath, backupDir)
			if err != nil {
				return result, err
			}
			result.BackedUp = append(result.BackedUp, name)
		}

		entry, warnings, err := a.register(ctx, name, installPath, archivePath)
		result.Warnings = append(result.Warnings, warnings...)
		if err != nil {
			return result, err
		}
		result.Registered = append(result.Registered, *entry)

		result.Processed++
		if a.metrics != nil {
			a.metrics.BatchDirs.Inc()
		}
		if progress != nil {
			progress(i+1, total, d.Name())
		}
	}

	if a.metrics != nil {
		a.metrics.BatchRuns.Inc()
	}
	a.log.Info("batch run complete",
		zap.String("id", result.ID.String()),
		zap.Int("processed", result.Processed),
		zap.Int("backed_up", len(result.BackedUp)),
		zap.Int("suggestions", len(result.Suggestions)))
	return result, nil
}

// isReserved filters out the directories the catalog itself owns.
func (a *Archiver) isReserved(path, name, archiveRoot, backupDir string) bool {
	if paths.SamePath(path, archiveRoot) || paths.SamePath(path, backupDir) {
		return true
	}
	if name == paths.DefaultArchiveDirName {
		return true
	}
	alt := a.cfg.Roots.AltArchiveDirName
	return alt != "" && strings.EqualFold(name, alt)
}

// archiveCandidates finds files directly in the archive root whose
// stripped base name equals name or starts with "name-", excluding
// catalog storage files and archives already linked to a managed entry.
// The backup subdirectory is not searched.
func (a *Archiver) archiveCandidates(archiveRoot, name string, managed []types.SoftwareEntry) ([]string, error) {
	dirents, err := os.ReadDir(archiveRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive root: %w", err)
	}

	var matches []string
	for _, d := range dirents {
		if d.IsDir() || paths.IsCatalogFile(d.Name()) || !archive.IsArchive(d.Name()) {
			continue
		}
		stem := archive.StripSuffix(d.Name())
		if stem != name && !strings.HasPrefix(stem, name+"-") {
			continue
		}
		full := filepath.Join(archiveRoot, d.Name())
		if linkedTo(managed, full) {
			continue
		}
		matches = append(matches, full)
	}
	return matches, nil
}

func linkedTo(managed []types.SoftwareEntry, archivePath string) bool {
	for i := range managed {
		if paths.SamePath(managed[i].ArchivePath, archivePath) {
			return true
		}
	}
	return false
}

// backup zips installPath into the backup directory under a timestamped
// name and returns the backup's path.
func (a *Archiver) backup(ctx context.Context, name, installPath, backupDir string) (string, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	// Zip into a throwaway staging name first so an interrupted run never
	// leaves a truncated file under the final backup name.
	outPath := filepath.Join(backupDir, archive.BackupName(name, a.now()))
	stagingPath := filepath.Join(backupDir, id.NewStagingName()+".zip")
	files, size, err := a.inspector.CreateZip(ctx, installPath, stagingPath)
	if err != nil {
		os.Remove(stagingPath)
		return "", fmt.Errorf("backup %s: %w", name, err)
	}
	if err := os.Rename(stagingPath, outPath); err != nil {
		os.Remove(stagingPath)
		return "", fmt.Errorf("commit backup %s: %w", name, err)
	}

	if a.metrics != nil {
		a.metrics.BackupsCreated.Inc()
	}
	a.log.Info("backup created",
		zap.String("name", name),
		zap.String("path", outPath),
		zap.Int("files", files),
		zap.Int64("bytes", size))
	return outPath, nil
}

// register creates a managed entry for installPath, or refreshes the one
// already pointing at it. A missing executable path is filled with the
// shallowest discovered match; an existing choice is never overridden.
func (a *Archiver) register(ctx context.Context, name, installPath, archivePath string) (*types.SoftwareEntry, []string, error) {
	executables, warnings, err := ingest.DiscoverExecutables(installPath, a.cfg.Scan.ExecutableExtensions, a.cfg.Scan.MaxDepth)
	if err != nil {
		return nil, warnings, err
	}
	fallback := ingest.ShallowestPath(executables)

	var result types.SoftwareEntry
	_, err = a.store.Update(ctx, func(entries []types.SoftwareEntry) ([]types.SoftwareEntry, error) {
		for i := range entries {
			if !paths.SamePath(entries[i].InstallPath, installPath) {
				continue
			}
			if entries[i].ExecutablePath == "" {
				entries[i].ExecutablePath = fallback
			}
			if entries[i].ArchivePath == "" && archivePath != "" {
				entries[i].ArchivePath = archivePath
			}
			result = entries[i]
			return entries, nil
		}

		e := types.SoftwareEntry{
			ID:             id.NewSoftwareID().String(),
			Name:           name,
			InstallPath:    installPath,
			ExecutablePath: fallback,
			ArchivePath:    archivePath,
			SortOrder:      len(entries),
			Status:         types.StatusManaged,
		}
		result = e
		return append(entries, e), nil
	})
	if err != nil {
		return nil, warnings, err
	}
	return &result, warnings, nil
}

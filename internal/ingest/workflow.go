// Package ingest orchestrates adding software to the catalog: duplicate
// detection, archive materialization, safe extraction, directory
// flattening, executable discovery and finalization.
//
// An add is a state machine rather than a single call. It can finish
// immediately, or hand control back to the caller with a pending decision
// (an executable selection or a duplicate resolution) that re-enters the
// workflow once resolved.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/greenstash/greenstash/internal/infrastructure/config"
	"github.com/greenstash/greenstash/internal/infrastructure/monitoring"
	"github.com/greenstash/greenstash/internal/logging"
	"github.com/greenstash/greenstash/internal/providers/archive"
	"github.com/greenstash/greenstash/internal/registry"
	"github.com/greenstash/greenstash/internal/shared/id"
	"github.com/greenstash/greenstash/internal/shared/paths"
	"github.com/greenstash/greenstash/internal/shared/types"
)

// Workflow coordinates the add, rehost and duplicate-resolution flows.
type Workflow struct {
	cfg       *config.Config
	store     *registry.Store
	inspector *archive.Inspector
	log       *logging.Logger
	metrics   *monitoring.Metrics
	notify    types.NotifyFunc
}

// AddOptions tunes a single add call.
type AddOptions struct {
	// Name overrides the name derived from the source file.
	Name string
	// Override authorizes replacing existing install/archive state.
	Override bool
}

// addTarget is the resolved destination of one ingestion.
type addTarget struct {
	sourcePath  string
	sourceType  types.SourceType
	name        string
	installPath string
	archivePath string
}

// NewWorkflow creates a workflow. notify may be nil.
func NewWorkflow(cfg *config.Config, store *registry.Store, inspector *archive.Inspector, log *logging.Logger, metrics *monitoring.Metrics, notify types.NotifyFunc) *Workflow {
	if log == nil {
		log = logging.NewNop()
	}
	return &Workflow{
		cfg:       cfg,
		store:     store,
		inspector: inspector,
		log:       log.Named("ingest"),
		metrics:   metrics,
		notify:    notify,
	}
}

// Add ingests an archive or standalone executable into the install root.
// The result is a tagged variant: success, a duplicate to resolve, a
// pending executable selection, or a terminal error.
func (w *Workflow) Add(ctx context.Context, source string, opts AddOptions) types.AddResult {
	return w.observe(w.add(ctx, source, opts))
}

func (w *Workflow) add(ctx context.Context, source string, opts AddOptions) types.AddResult {
	if err := w.checkConfig(); err != nil {
		return types.Failure(err)
	}

	if info, err := os.Stat(source); err != nil || info.IsDir() {
		if err == nil {
			err = fmt.Errorf("source %s is a directory", source)
		}
		return types.Failure(fmt.Errorf("unusable source: %w", err))
	}

	tgt, err := w.resolveTarget(source, opts.Name)
	if err != nil {
		return types.Failure(err)
	}

	dup, err := w.detectDuplicate(ctx, tgt)
	if err != nil {
		return types.Failure(err)
	}

	var preferred *int
	if dup != nil {
		if !opts.Override {
			return types.Duplicated(dup)
		}
		if preferred, err = w.prepareOverride(ctx, tgt, dup); err != nil {
			return types.Failure(err)
		}
	}

	return w.materialize(ctx, tgt, preferred, "", false)
}

// Rehost re-extracts an existing entry whose install directory went
// missing while its archive survived. The entry is updated in place; no
// new ID is allocated. An archive pulled from the backup directory is
// recorded as the entry's backup reference.
func (w *Workflow) Rehost(ctx context.Context, entry types.SoftwareEntry) types.AddResult {
	if err := w.checkConfig(); err != nil {
		return w.observe(types.Failure(err))
	}

	if _, err := os.Stat(entry.ArchivePath); err != nil {
		return w.observe(types.Failure(fmt.Errorf("rehost archive missing: %w", err)))
	}

	tgt := addTarget{
		sourcePath:  entry.ArchivePath,
		sourceType:  types.SourceArchive,
		name:        entry.Name,
		installPath: entry.InstallPath,
		archivePath: entry.ArchivePath,
	}
	isBackup := isUnderDir(paths.BackupDir(w.cfg.ArchiveRoot()), entry.ArchivePath)
	return w.observe(w.materialize(ctx, tgt, nil, entry.ID, isBackup))
}

// ResolveDuplicate re-runs an ingestion after the caller decided what to
// do with a conflict: overwrite the existing state, ingest under a new
// name, or both. At least one of the two must be chosen.
func (w *Workflow) ResolveDuplicate(ctx context.Context, info *types.DuplicateInfo, overwrite bool, rename string) types.AddResult {
	if !overwrite && rename == "" {
		return w.observe(types.Failure(errors.New("duplicate resolution needs an overwrite or a new name")))
	}
	name := info.Name
	if rename != "" {
		name = rename
	}
	return w.Add(ctx, info.SourcePath, AddOptions{Name: name, Override: overwrite})
}

// CompleteSelection finalizes a pending addition with the chosen
// executable. The choice must be one of the discovered candidates.
func (w *Workflow) CompleteSelection(ctx context.Context, pending *types.PendingAddition, executable string) types.AddResult {
	valid := false
	for _, c := range pending.ExecutablePaths {
		if c == executable {
			valid = true
			break
		}
	}
	if !valid {
		return w.observe(types.Failure(fmt.Errorf("%s is not a discovered candidate", executable)))
	}

	entry, err := w.finalize(ctx, pending, executable)
	if err != nil {
		return w.observe(types.Failure(err))
	}
	return w.observe(types.Success(entry))
}

// CancelPending abandons a pending addition and removes everything the
// ingestion created: the install directory and the archive copy, unless
// the source file is itself that archive.
func (w *Workflow) CancelPending(ctx context.Context, pending *types.PendingAddition) types.AddResult {
	w.cleanup(pending.SourcePath, pending.InstallPath, pending.ArchivePath)
	return w.observe(types.Cancelled())
}

// resolveTarget computes the sanitized name and the install/archive
// destinations for a source file.
func (w *Workflow) resolveTarget(source, nameOverride string) (addTarget, error) {
	base := filepath.Base(source)
	sourceType := types.SourceExecutable
	suffix := filepath.Ext(base)
	stem := base[:len(base)-len(suffix)]
	if archive.IsArchive(base) {
		sourceType = types.SourceArchive
		stem = archive.StripSuffix(base)
		suffix = base[len(stem):]
	}

	name := nameOverride
	if name == "" {
		name = stem
	}
	name = paths.SanitizeName(name)
	if name == "" {
		return addTarget{}, fmt.Errorf("source name %q sanitizes to nothing", base)
	}

	return addTarget{
		sourcePath:  source,
		sourceType:  sourceType,
		name:        name,
		installPath: filepath.Join(w.cfg.InstallRoot(), name),
		archivePath: filepath.Join(w.cfg.ArchiveRoot(), name+suffix),
	}, nil
}

// detectDuplicate reports a conflict when the target install directory or
// archive file exists, or a managed entry references either path.
func (w *Workflow) detectDuplicate(ctx context.Context, tgt addTarget) (*types.DuplicateInfo, error) {
	entries, err := w.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	var conflicting *types.SoftwareEntry
	for i := range entries {
		if paths.SamePath(entries[i].InstallPath, tgt.installPath) ||
			paths.SamePath(entries[i].ArchivePath, tgt.archivePath) {
			conflicting = &entries[i]
			break
		}
	}

	installExists := pathExists(tgt.installPath)
	archiveExists := pathExists(tgt.archivePath)
	if conflicting == nil && !installExists && !archiveExists {
		return nil, nil
	}

	return &types.DuplicateInfo{
		SourceType:        tgt.sourceType,
		SourcePath:        tgt.sourcePath,
		Name:              tgt.name,
		TargetInstallPath: tgt.installPath,
		TargetArchivePath: tgt.archivePath,
		InstallExists:     installExists,
		ArchiveExists:     archiveExists,
		Conflicting:       conflicting,
	}, nil
}

// prepareOverride clears the way for an authorized replacement: the
// conflicting registry entry is removed (its sort order retained for the
// replacement), and stale install/archive state is deleted. The archive
// file survives when the new source is that very file, since deleting it
// would destroy the only copy of the input.
func (w *Workflow) prepareOverride(ctx context.Context, tgt addTarget, dup *types.DuplicateInfo) (*int, error) {
	var preferred *int
	if dup.Conflicting != nil {
		order := dup.Conflicting.SortOrder
		preferred = &order
		removeID := dup.Conflicting.ID
		if _, err := w.store.Update(ctx, func(entries []types.SoftwareEntry) ([]types.SoftwareEntry, error) {
			kept := entries[:0]
			for _, e := range entries {
				if e.ID != removeID {
					kept = append(kept, e)
				}
			}
			return kept, nil
		}); err != nil {
			return nil, err
		}
	}

	if err := os.RemoveAll(tgt.installPath); err != nil {
		return nil, fmt.Errorf("remove old install: %w", err)
	}
	if pathExists(tgt.archivePath) && !paths.SamePath(tgt.sourcePath, tgt.archivePath) {
		if err := os.Remove(tgt.archivePath); err != nil {
			return nil, fmt.Errorf("remove old archive: %w", err)
		}
	}
	return preferred, nil
}

// materialize runs steps 3..7 of the ingestion: archive copy, extraction
// or placement, optional flatten, discovery, then finalize or hand back a
// pending selection.
func (w *Workflow) materialize(ctx context.Context, tgt addTarget, preferred *int, rehostID string, isBackup bool) types.AddResult {
	if !paths.SamePath(tgt.sourcePath, tgt.archivePath) {
		if err := copyFile(tgt.sourcePath, tgt.archivePath); err != nil {
			return types.Failure(fmt.Errorf("materialize archive copy: %w", err))
		}
	}

	if err := os.MkdirAll(tgt.installPath, 0o755); err != nil {
		w.cleanup(tgt.sourcePath, tgt.installPath, tgt.archivePath)
		return types.Failure(fmt.Errorf("create install dir: %w", err))
	}

	if tgt.sourceType == types.SourceArchive {
		if err := w.inspector.Extract(ctx, tgt.archivePath, tgt.installPath); err != nil {
			w.cleanup(tgt.sourcePath, tgt.installPath, tgt.archivePath)
			return types.Failure(fmt.Errorf("extract: %w", err))
		}
		if w.cfg.Ingest.FlattenSingleDir {
			flattened, err := flattenSingleDir(tgt.installPath)
			if err != nil {
				w.cleanup(tgt.sourcePath, tgt.installPath, tgt.archivePath)
				return types.Failure(fmt.Errorf("flatten: %w", err))
			}
			if flattened {
				w.log.Debug("flattened single wrapping directory", zap.String("install", tgt.installPath))
			}
		}
	} else {
		if err := copyFile(tgt.sourcePath, filepath.Join(tgt.installPath, filepath.Base(tgt.sourcePath))); err != nil {
			w.cleanup(tgt.sourcePath, tgt.installPath, tgt.archivePath)
			return types.Failure(fmt.Errorf("place executable: %w", err))
		}
	}

	executables, warnings, err := DiscoverExecutables(tgt.installPath, w.cfg.Scan.ExecutableExtensions, w.cfg.Scan.MaxDepth)
	for _, warning := range warnings {
		w.log.Warn("discovery warning", zap.String("detail", warning))
	}
	if err != nil {
		w.cleanup(tgt.sourcePath, tgt.installPath, tgt.archivePath)
		return types.Failure(err)
	}
	if len(executables) == 0 {
		w.cleanup(tgt.sourcePath, tgt.installPath, tgt.archivePath)
		return types.Failure(fmt.Errorf("%s: %w", tgt.name, types.ErrNoExecutable))
	}

	pending := &types.PendingAddition{
		Name:               tgt.name,
		SourcePath:         tgt.sourcePath,
		InstallPath:        tgt.installPath,
		ArchivePath:        tgt.archivePath,
		ExecutablePaths:    executables,
		PreferredSortOrder: preferred,
		ExistingSoftwareID: rehostID,
		IsBackupArchive:    isBackup,
	}
	if len(executables) > 1 {
		return types.Selection(pending)
	}

	entry, err := w.finalize(ctx, pending, executables[0])
	if err != nil {
		w.cleanup(tgt.sourcePath, tgt.installPath, tgt.archivePath)
		return types.Failure(err)
	}
	return types.Success(entry)
}

// finalize commits the catalog mutation: a new managed entry, or for
// rehost an in-place update of the existing one. A preferred sort order
// reclaims the slot by shifting everything at or above it up by one.
func (w *Workflow) finalize(ctx context.Context, pending *types.PendingAddition, executable string) (*types.SoftwareEntry, error) {
	var result types.SoftwareEntry

	_, err := w.store.Update(ctx, func(entries []types.SoftwareEntry) ([]types.SoftwareEntry, error) {
		if pending.ExistingSoftwareID != "" {
			for i := range entries {
				if entries[i].ID != pending.ExistingSoftwareID {
					continue
				}
				entries[i].InstallPath = pending.InstallPath
				entries[i].ExecutablePath = executable
				if !pending.IsBackupArchive {
					entries[i].ArchivePath = pending.ArchivePath
				}
				result = entries[i]
				if pending.IsBackupArchive {
					result.BackupPath = pending.ArchivePath
					result.IsBackupArchive = true
				}
				return entries, nil
			}
			return nil, fmt.Errorf("rehost target %s not in catalog", pending.ExistingSoftwareID)
		}

		e := types.SoftwareEntry{
			ID:             id.NewSoftwareID().String(),
			Name:           pending.Name,
			InstallPath:    pending.InstallPath,
			ExecutablePath: executable,
			ArchivePath:    pending.ArchivePath,
			Status:         types.StatusManaged,
		}
		if pending.PreferredSortOrder != nil {
			slot := *pending.PreferredSortOrder
			if slot > len(entries) {
				slot = len(entries)
			}
			for i := range entries {
				if entries[i].SortOrder >= slot {
					entries[i].SortOrder++
				}
			}
			e.SortOrder = slot
		} else {
			e.SortOrder = len(entries)
		}
		result = e
		return append(entries, e), nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// cleanup removes the artifacts of a failed or cancelled ingestion. The
// archive copy is spared when it is the caller's own source file.
func (w *Workflow) cleanup(sourcePath, installPath, archivePath string) {
	if err := os.RemoveAll(installPath); err != nil {
		w.log.Warn("cleanup: remove install dir", zap.String("path", installPath), zap.Error(err))
	}
	if archivePath != "" && !paths.SamePath(sourcePath, archivePath) {
		if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
			w.log.Warn("cleanup: remove archive copy", zap.String("path", archivePath), zap.Error(err))
		}
	}
}

// checkConfig verifies both roots are configured, signalling the
// presentation layer on failure. Nothing is mutated before this check.
func (w *Workflow) checkConfig() error {
	if err := w.cfg.Validate(); err != nil {
		if w.notify != nil {
			w.notify("install root and archive root are not configured")
		}
		return err
	}
	return nil
}

// observe counts the outcome for metrics and returns it unchanged.
func (w *Workflow) observe(result types.AddResult) types.AddResult {
	if w.metrics != nil {
		w.metrics.IngestsTotal.WithLabelValues(string(result.Status)).Inc()
	}
	return result
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isUnderDir(parent, child string) bool {
	absParent, err1 := filepath.Abs(parent)
	absChild, err2 := filepath.Abs(child)
	if err1 != nil || err2 != nil {
		return false
	}
	return absChild != absParent &&
		len(absChild) > len(absParent) &&
		absChild[:len(absParent)+1] == absParent+string(os.PathSeparator)
}

// copyFile copies src to dst, creating parent directories and preserving
// the source mode. The destination is closed before returning.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

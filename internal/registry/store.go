// Package registry persists the software catalog and reconciles it
// against the live filesystem.
//
// The catalog lives in a single JSON file next to the archives it
// describes. Writers serialize through an exclusive advisory lock on a
// zero-byte sentinel and re-read the on-disk snapshot before mutating, so
// two concurrent writers can never lose each other's update. Readers go
// lockless and tolerate eventual consistency with in-flight writes.
package registry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/greenstash/greenstash/internal/infrastructure/monitoring"
	"github.com/greenstash/greenstash/internal/logging"
	"github.com/greenstash/greenstash/internal/shared/paths"
	"github.com/greenstash/greenstash/internal/shared/types"
)

// lockRetryInterval is how often a blocked writer re-attempts the lock
// while waiting out the configured bound.
const lockRetryInterval = 50 * time.Millisecond

// Store is the durable, concurrency-safe software catalog.
type Store struct {
	archiveRoot string
	lockWait    time.Duration
	log         *logging.Logger
	metrics     *monitoring.Metrics
}

// MutateFunc transforms the current persisted entries into the desired
// next state. It runs while the advisory lock is held.
type MutateFunc func(entries []types.SoftwareEntry) ([]types.SoftwareEntry, error)

// NewStore creates a catalog store rooted at the archive directory.
func NewStore(archiveRoot string, lockWait time.Duration, log *logging.Logger, metrics *monitoring.Metrics) *Store {
	if log == nil {
		log = logging.NewNop()
	}
	return &Store{
		archiveRoot: archiveRoot,
		lockWait:    lockWait,
		log:         log.Named("registry"),
		metrics:     metrics,
	}
}

// ArchiveRoot returns the directory holding the catalog and archives.
func (s *Store) ArchiveRoot() string { return s.archiveRoot }

// Load returns the managed entries in catalog order. Stored sort orders
// are not trusted: each entry's SortOrder is reassigned from its position
// in the returned slice.
func (s *Store) Load(ctx context.Context) ([]types.SoftwareEntry, error) {
	return s.read()
}

// Save replaces the persisted catalog with the given entries.
func (s *Store) Save(ctx context.Context, entries []types.SoftwareEntry) error {
	_, err := s.Update(ctx, func([]types.SoftwareEntry) ([]types.SoftwareEntry, error) {
		return entries, nil
	})
	return err
}

// Update applies a mutation to the catalog inside the critical section:
// acquire the lock with a bounded wait, re-read the on-disk snapshot,
// mutate, normalize, write atomically, release. The prior on-disk state
// survives any failure.
func (s *Store) Update(ctx context.Context, mutate MutateFunc) ([]types.SoftwareEntry, error) {
	if err := os.MkdirAll(s.archiveRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}

	lock := flock.New(paths.LockFilePath(s.archiveRoot))
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	waitStart := time.Now()
	locked, err := lock.TryLockContext(lockCtx, lockRetryInterval)
	if s.metrics != nil {
		s.metrics.LockWaitSeconds.Observe(time.Since(waitStart).Seconds())
	}
	if err != nil || !locked {
		s.countWrite("lock_unavailable")
		if err == nil {
			err = context.DeadlineExceeded
		}
		return nil, fmt.Errorf("%w: %v", types.ErrLockUnavailable, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.log.Warn("failed to release registry lock", zap.Error(err))
		}
	}()

	// Never trust a previously loaded snapshot: another writer may have
	// committed between our read and this lock acquisition.
	current, err := s.read()
	if err != nil {
		s.countWrite("read_error")
		return nil, err
	}

	mutated, err := mutate(current)
	if err != nil {
		s.countWrite("mutate_error")
		return nil, err
	}

	normalized := Normalize(mutated)
	if err := s.write(normalized); err != nil {
		s.countWrite("io_error")
		return nil, err
	}

	s.countWrite("success")
	if s.metrics != nil {
		s.metrics.EntriesManaged.Set(float64(len(normalized)))
	}
	return normalized, nil
}

// Normalize filters to managed entries, sorts by SortOrder (stable, so
// equal orders keep their relative position) and reassigns the contiguous
// sequence 0..n-1.
func Normalize(entries []types.SoftwareEntry) []types.SoftwareEntry {
	managed := make([]types.SoftwareEntry, 0, len(entries))
	for _, e := range entries {
		if e.Status == "" || e.Status == types.StatusManaged {
			e.Status = types.StatusManaged
			managed = append(managed, e)
		}
	}
	sort.SliceStable(managed, func(i, j int) bool {
		return managed[i].SortOrder < managed[j].SortOrder
	})
	for i := range managed {
		managed[i].SortOrder = i
	}
	return managed
}

// read parses the catalog file. A missing file is an empty catalog.
func (s *Store) read() ([]types.SoftwareEntry, error) {
	data, err := os.ReadFile(paths.ListFilePath(s.archiveRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var entries []types.SoftwareEntry
	if err := sonic.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i := range entries {
		entries[i].Status = types.StatusManaged
		entries[i].SortOrder = i
	}
	return entries, nil
}

// write serializes and commits the catalog atomically: a temp file in the
// same directory, then a rename over the destination.
func (s *Store) write(entries []types.SoftwareEntry) error {
	data, err := sonic.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize catalog: %w", err)
	}

	listPath := paths.ListFilePath(s.archiveRoot)
	tmpPath := listPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := os.Rename(tmpPath, listPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("commit catalog: %w", err)
	}
	return nil
}

func (s *Store) countWrite(status string) {
	if s.metrics != nil {
		s.metrics.RegistryWrites.WithLabelValues(status).Inc()
	}
}

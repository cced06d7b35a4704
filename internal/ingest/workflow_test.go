package ingest

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenstash/greenstash/internal/infrastructure/config"
	"github.com/greenstash/greenstash/internal/infrastructure/monitoring"
	"github.com/greenstash/greenstash/internal/logging"
	"github.com/greenstash/greenstash/internal/providers/archive"
	"github.com/greenstash/greenstash/internal/registry"
	"github.com/greenstash/greenstash/internal/shared/types"
)

type workflowFixture struct {
	workflow *Workflow
	cfg      *config.Config
	store    *registry.Store
	source   string // directory for crafting source files, outside both roots
	notified []string
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	cfg := config.Default()
	cfg.Roots.InstallRoot = t.TempDir()

	log := logging.NewNop()
	metrics := monitoring.NewTestMetrics()
	store := registry.NewStore(cfg.ArchiveRoot(), cfg.Registry.LockWait, log, metrics)
	inspector := archive.NewInspector(log, metrics)

	f := &workflowFixture{cfg: cfg, store: store, source: t.TempDir()}
	notify := func(message string) { f.notified = append(f.notified, message) }
	f.workflow = NewWorkflow(cfg, store, inspector, log, metrics, notify)
	return f
}

// makeZip writes a zip at name under the fixture source dir. Entries with
// a trailing slash become directories, everything else a small file.
func (f *workflowFixture) makeZip(t *testing.T, name string, entries ...string) string {
	t.Helper()
	path := filepath.Join(f.source, name)
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for _, entry := range entries {
		if entry[len(entry)-1] == '/' {
			_, err = zw.Create(entry)
			require.NoError(t, err)
			continue
		}
		w, werr := zw.Create(entry)
		require.NoError(t, werr)
		_, err = w.Write([]byte("payload of " + entry))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
	return path
}

func TestAddArchiveFlattensAndRegisters(t *testing.T) {
	f := newWorkflowFixture(t)
	src := f.makeZip(t, "MyApp.zip", "MyApp/app.exe", "MyApp/readme.txt")

	result := f.workflow.Add(context.Background(), src, AddOptions{})
	require.Equal(t, types.AddedOK, result.Status, "err: %v", result.Err)
	require.NotNil(t, result.Entry)

	installPath := filepath.Join(f.cfg.InstallRoot(), "MyApp")
	assert.Equal(t, "MyApp", result.Entry.Name)
	assert.Equal(t, installPath, result.Entry.InstallPath)
	assert.Equal(t, filepath.Join(installPath, "app.exe"), result.Entry.ExecutablePath)
	assert.Equal(t, 0, result.Entry.SortOrder)
	assert.NotEmpty(t, result.Entry.ID)

	// The wrapper directory was lifted away.
	assert.FileExists(t, filepath.Join(installPath, "app.exe"))
	assert.FileExists(t, filepath.Join(installPath, "readme.txt"))
	assert.NoDirExists(t, filepath.Join(installPath, "MyApp"))

	// Archive copy landed in the archive root; the source survives.
	assert.FileExists(t, filepath.Join(f.cfg.ArchiveRoot(), "MyApp.zip"))
	assert.FileExists(t, src)

	entries, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, result.Entry.ID, entries[0].ID)
}

func TestAddSecondTimeIsDuplicate(t *testing.T) {
	f := newWorkflowFixture(t)
	src := f.makeZip(t, "MyApp.zip", "MyApp/app.exe")

	first := f.workflow.Add(context.Background(), src, AddOptions{})
	require.Equal(t, types.AddedOK, first.Status)

	second := f.workflow.Add(context.Background(), src, AddOptions{})
	require.Equal(t, types.IsDuplicate, second.Status)
	require.NotNil(t, second.Duplicate)
	assert.True(t, second.Duplicate.InstallExists)
	assert.True(t, second.Duplicate.ArchiveExists)
	require.NotNil(t, second.Duplicate.Conflicting)
	assert.Equal(t, first.Entry.ID, second.Duplicate.Conflicting.ID)
}

func TestResolveDuplicateOverwrite(t *testing.T) {
	f := newWorkflowFixture(t)
	srcA := f.makeZip(t, "MyApp-v1.zip", "MyApp/old.exe")
	first := f.workflow.Add(context.Background(), srcA, AddOptions{Name: "MyApp"})
	require.Equal(t, types.AddedOK, first.Status)

	srcB := f.makeZip(t, "MyApp-v2.zip", "MyApp/new.exe")
	dup := f.workflow.Add(context.Background(), srcB, AddOptions{Name: "MyApp"})
	require.Equal(t, types.IsDuplicate, dup.Status)

	resolved := f.workflow.ResolveDuplicate(context.Background(), dup.Duplicate, true, "")
	require.Equal(t, types.AddedOK, resolved.Status, "err: %v", resolved.Err)

	// Replacement keeps the slot and gets a fresh identity.
	assert.Equal(t, 0, resolved.Entry.SortOrder)
	assert.NotEqual(t, first.Entry.ID, resolved.Entry.ID)

	installPath := filepath.Join(f.cfg.InstallRoot(), "MyApp")
	assert.FileExists(t, filepath.Join(installPath, "new.exe"))
	assert.NoFileExists(t, filepath.Join(installPath, "old.exe"))

	entries, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestResolveDuplicateRename(t *testing.T) {
	f := newWorkflowFixture(t)
	src := f.makeZip(t, "MyApp.zip", "MyApp/app.exe")
	require.Equal(t, types.AddedOK, f.workflow.Add(context.Background(), src, AddOptions{}).Status)

	dup := f.workflow.Add(context.Background(), src, AddOptions{})
	require.Equal(t, types.IsDuplicate, dup.Status)

	resolved := f.workflow.ResolveDuplicate(context.Background(), dup.Duplicate, false, "MyAppCopy")
	require.Equal(t, types.AddedOK, resolved.Status, "err: %v", resolved.Err)
	assert.Equal(t, "MyAppCopy", resolved.Entry.Name)

	entries, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.FileExists(t, filepath.Join(f.cfg.ArchiveRoot(), "MyAppCopy.zip"))
}

func TestResolveDuplicateRequiresChoice(t *testing.T) {
	f := newWorkflowFixture(t)
	info := &types.DuplicateInfo{Name: "MyApp", SourcePath: "whatever.zip"}
	result := f.workflow.ResolveDuplicate(context.Background(), info, false, "")
	assert.Equal(t, types.AddFailed, result.Status)
}

func TestOverwriteKeepsSlotAmongOthers(t *testing.T) {
	f := newWorkflowFixture(t)
	for _, name := range []string{"Alpha", "Beta", "Gamma"} {
		src := f.makeZip(t, name+".zip", name+"/run.exe")
		require.Equal(t, types.AddedOK, f.workflow.Add(context.Background(), src, AddOptions{}).Status)
	}

	src := f.makeZip(t, "Beta-next.zip", "Beta/run.exe")
	dup := f.workflow.Add(context.Background(), src, AddOptions{Name: "Beta"})
	require.Equal(t, types.IsDuplicate, dup.Status)
	resolved := f.workflow.ResolveDuplicate(context.Background(), dup.Duplicate, true, "")
	require.Equal(t, types.AddedOK, resolved.Status, "err: %v", resolved.Err)

	entries, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byName := map[string]int{}
	for _, e := range entries {
		byName[e.Name] = e.SortOrder
	}
	assert.Equal(t, map[string]int{"Alpha": 0, "Beta": 1, "Gamma": 2}, byName)
}

func TestAddTraversalEntryNeverEscapes(t *testing.T) {
	f := newWorkflowFixture(t)
	src := f.makeZip(t, "MyApp.zip", "app.exe", "../evil.exe", "../../outside.txt")

	result := f.workflow.Add(context.Background(), src, AddOptions{})
	require.Equal(t, types.AddedOK, result.Status, "err: %v", result.Err)

	assert.FileExists(t, filepath.Join(f.cfg.InstallRoot(), "MyApp", "app.exe"))
	assert.NoFileExists(t, filepath.Join(f.cfg.InstallRoot(), "evil.exe"))
	assert.NoFileExists(t, filepath.Join(f.cfg.InstallRoot(), "outside.txt"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(f.cfg.InstallRoot()), "outside.txt"))
}

func TestAddMultipleExecutablesNeedsSelection(t *testing.T) {
	f := newWorkflowFixture(t)
	src := f.makeZip(t, "Tools.zip", "main.exe", "helper.exe")

	result := f.workflow.Add(context.Background(), src, AddOptions{})
	require.Equal(t, types.NeedsSelection, result.Status)
	require.NotNil(t, result.Pending)
	assert.Len(t, result.Pending.ExecutablePaths, 2)

	// Nothing registered until the choice lands.
	entries, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	chosen := result.Pending.ExecutablePaths[1]
	done := f.workflow.CompleteSelection(context.Background(), result.Pending, chosen)
	require.Equal(t, types.AddedOK, done.Status, "err: %v", done.Err)
	assert.Equal(t, chosen, done.Entry.ExecutablePath)

	entries, err = f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCompleteSelectionRejectsUnknownChoice(t *testing.T) {
	f := newWorkflowFixture(t)
	src := f.makeZip(t, "Tools.zip", "main.exe", "helper.exe")
	result := f.workflow.Add(context.Background(), src, AddOptions{})
	require.Equal(t, types.NeedsSelection, result.Status)

	done := f.workflow.CompleteSelection(context.Background(), result.Pending, "/nope/rogue.exe")
	assert.Equal(t, types.AddFailed, done.Status)
}

func TestCancelPendingCleansUp(t *testing.T) {
	f := newWorkflowFixture(t)
	src := f.makeZip(t, "Tools.zip", "main.exe", "helper.exe")
	result := f.workflow.Add(context.Background(), src, AddOptions{})
	require.Equal(t, types.NeedsSelection, result.Status)

	cancelled := f.workflow.CancelPending(context.Background(), result.Pending)
	assert.Equal(t, types.AddCancelled, cancelled.Status)

	assert.NoDirExists(t, result.Pending.InstallPath)
	assert.NoFileExists(t, result.Pending.ArchivePath)
	assert.FileExists(t, src)
}

func TestAddWithoutExecutableFails(t *testing.T) {
	f := newWorkflowFixture(t)
	src := f.makeZip(t, "Docs.zip", "readme.txt", "manual.pdf")

	result := f.workflow.Add(context.Background(), src, AddOptions{})
	require.Equal(t, types.AddFailed, result.Status)
	assert.ErrorIs(t, result.Err, types.ErrNoExecutable)

	assert.NoDirExists(t, filepath.Join(f.cfg.InstallRoot(), "Docs"))
	assert.NoFileExists(t, filepath.Join(f.cfg.ArchiveRoot(), "Docs.zip"))
	assert.FileExists(t, src)
}

func TestAddStandaloneExecutable(t *testing.T) {
	f := newWorkflowFixture(t)
	src := filepath.Join(f.source, "tool.exe")
	require.NoError(t, os.WriteFile(src, []byte("MZ fake"), 0o755))

	result := f.workflow.Add(context.Background(), src, AddOptions{})
	require.Equal(t, types.AddedOK, result.Status, "err: %v", result.Err)

	installPath := filepath.Join(f.cfg.InstallRoot(), "tool")
	assert.Equal(t, "tool", result.Entry.Name)
	assert.Equal(t, filepath.Join(installPath, "tool.exe"), result.Entry.ExecutablePath)
	assert.FileExists(t, filepath.Join(installPath, "tool.exe"))
	assert.FileExists(t, filepath.Join(f.cfg.ArchiveRoot(), "tool.exe"))
}

func TestAddMissingSource(t *testing.T) {
	f := newWorkflowFixture(t)
	result := f.workflow.Add(context.Background(), filepath.Join(f.source, "ghost.zip"), AddOptions{})
	assert.Equal(t, types.AddFailed, result.Status)
}

func TestAddWithoutConfigurationNotifies(t *testing.T) {
	f := newWorkflowFixture(t)
	f.cfg.Roots.InstallRoot = ""

	src := f.makeZip(t, "MyApp.zip", "app.exe")
	result := f.workflow.Add(context.Background(), src, AddOptions{})
	require.Equal(t, types.AddFailed, result.Status)
	assert.ErrorIs(t, result.Err, types.ErrConfigurationMissing)
	assert.Len(t, f.notified, 1)
}

func TestRehostRecreatesInstall(t *testing.T) {
	f := newWorkflowFixture(t)
	src := f.makeZip(t, "MyApp.zip", "MyApp/app.exe", "MyApp/readme.txt")
	added := f.workflow.Add(context.Background(), src, AddOptions{})
	require.Equal(t, types.AddedOK, added.Status)

	require.NoError(t, os.RemoveAll(added.Entry.InstallPath))

	rehosted := f.workflow.Rehost(context.Background(), *added.Entry)
	require.Equal(t, types.AddedOK, rehosted.Status, "err: %v", rehosted.Err)

	// Same identity, same slot, install state back on disk.
	assert.Equal(t, added.Entry.ID, rehosted.Entry.ID)
	assert.FileExists(t, filepath.Join(added.Entry.InstallPath, "app.exe"))
	assert.FileExists(t, added.Entry.ArchivePath)

	entries, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, added.Entry.ID, entries[0].ID)
}

func TestRehostMissingArchiveFails(t *testing.T) {
	f := newWorkflowFixture(t)
	entry := types.SoftwareEntry{
		ID:          "sw_missing",
		Name:        "Ghost",
		InstallPath: filepath.Join(f.cfg.InstallRoot(), "Ghost"),
		ArchivePath: filepath.Join(f.cfg.ArchiveRoot(), "Ghost.zip"),
	}
	result := f.workflow.Rehost(context.Background(), entry)
	assert.Equal(t, types.AddFailed, result.Status)
}

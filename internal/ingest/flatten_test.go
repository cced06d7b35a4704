package ingest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenLiftsSingleWrapper(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "MyApp", "app.exe"))
	writeFile(t, filepath.Join(dir, "MyApp", "data", "settings.ini"))

	flattened, err := flattenSingleDir(dir)
	require.NoError(t, err)
	assert.True(t, flattened)

	assert.FileExists(t, filepath.Join(dir, "app.exe"))
	assert.FileExists(t, filepath.Join(dir, "data", "settings.ini"))
	assert.NoDirExists(t, filepath.Join(dir, "MyApp"))
}

func TestFlattenIgnoresJunkSiblings(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".DS_Store"))
	writeFile(t, filepath.Join(dir, "Thumbs.db"))
	writeFile(t, filepath.Join(dir, "MyApp", "app.exe"))

	flattened, err := flattenSingleDir(dir)
	require.NoError(t, err)
	assert.True(t, flattened)
	assert.FileExists(t, filepath.Join(dir, "app.exe"))
}

func TestFlattenSkipsMultipleEntries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "MyApp", "app.exe"))
	writeFile(t, filepath.Join(dir, "readme.txt"))

	flattened, err := flattenSingleDir(dir)
	require.NoError(t, err)
	assert.False(t, flattened)
	assert.FileExists(t, filepath.Join(dir, "MyApp", "app.exe"))
}

func TestFlattenSkipsSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.exe"))

	flattened, err := flattenSingleDir(dir)
	require.NoError(t, err)
	assert.False(t, flattened)
}

func TestFlattenAbortsOnCollision(t *testing.T) {
	dir := t.TempDir()
	// The wrapper contains a child sharing the wrapper's own name, which
	// would land on the wrapper during the lift.
	writeFile(t, filepath.Join(dir, "MyApp", "MyApp"))
	writeFile(t, filepath.Join(dir, "MyApp", "app.exe"))

	flattened, err := flattenSingleDir(dir)
	require.NoError(t, err)
	assert.False(t, flattened)

	assert.FileExists(t, filepath.Join(dir, "MyApp", "app.exe"))
	assert.FileExists(t, filepath.Join(dir, "MyApp", "MyApp"))
}

func TestFlattenAbortsOnJunkCollision(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Thumbs.db"))
	writeFile(t, filepath.Join(dir, "MyApp", "Thumbs.db"))
	writeFile(t, filepath.Join(dir, "MyApp", "app.exe"))

	flattened, err := flattenSingleDir(dir)
	require.NoError(t, err)
	assert.False(t, flattened)
	assert.FileExists(t, filepath.Join(dir, "MyApp", "app.exe"))
}

func TestFlattenEmptyDir(t *testing.T) {
	flattened, err := flattenSingleDir(t.TempDir())
	require.NoError(t, err)
	assert.False(t, flattened)
}

func TestIsJunk(t *testing.T) {
	assert.True(t, isJunk(".DS_Store"))
	assert.True(t, isJunk("__MACOSX"))
	assert.True(t, isJunk("desktop.ini"))
	assert.False(t, isJunk("MyApp"))
}

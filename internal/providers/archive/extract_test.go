package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenstash/greenstash/internal/infrastructure/monitoring"
	"github.com/greenstash/greenstash/internal/logging"
	"github.com/greenstash/greenstash/internal/shared/types"
)

func newTestInspector() *Inspector {
	return NewInspector(logging.NewNop(), monitoring.NewTestMetrics())
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func writeTarGz(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var gzBuf bytes.Buffer
	gz := gzip.NewWriter(&gzBuf)
	_, err := gz.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, gzBuf.Bytes(), 0o644))
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "MyApp.zip")
	writeZip(t, archivePath, map[string]string{
		"MyApp/app.exe":    "binary",
		"MyApp/readme.txt": "docs",
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, newTestInspector().Extract(context.Background(), archivePath, dest))

	data, err := os.ReadFile(filepath.Join(dest, "MyApp", "app.exe"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))

	data, err = os.ReadFile(filepath.Join(dest, "MyApp", "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "docs", string(data))
}

// A crafted entry climbing out of the destination is skipped with a
// warning; the remaining legitimate entries still extract.
func TestExtractZipSkipsTraversalEntries(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.zip")
	writeZip(t, archivePath, map[string]string{
		"../../evil.exe": "malware",
		"good.txt":       "fine",
	})

	dest := filepath.Join(dir, "install", "App")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, newTestInspector().Extract(context.Background(), archivePath, dest))

	_, err := os.Stat(filepath.Join(dest, "good.txt"))
	assert.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dir, "evil.exe"))
	assert.NoFileExists(t, filepath.Join(dir, "install", "evil.exe"))
	assert.NoFileExists(t, filepath.Join(dest, "evil.exe"))
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "tool.tar.gz")
	writeTarGz(t, archivePath, map[string]string{
		"tool/bin/tool.exe": "elf",
		"tool/README":       "readme",
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, newTestInspector().Extract(context.Background(), archivePath, dest))

	data, err := os.ReadFile(filepath.Join(dest, "tool", "bin", "tool.exe"))
	require.NoError(t, err)
	assert.Equal(t, "elf", string(data))
}

func TestExtractTarSkipsTraversalEntries(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.tar.gz")
	writeTarGz(t, archivePath, map[string]string{
		"../escape.txt": "nope",
		"ok.txt":        "yes",
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, newTestInspector().Extract(context.Background(), archivePath, dest))

	assert.FileExists(t, filepath.Join(dest, "ok.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}

// A bare gzip file extracts to a single file named after the archive with
// the compressed suffix stripped.
func TestExtractSingleGzip(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "notes.txt.gz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("gzipped notes"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(archivePath, buf.Bytes(), 0o644))

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, newTestInspector().Extract(context.Background(), archivePath, dest))

	data, err := os.ReadFile(filepath.Join(dest, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "gzipped notes", string(data))
}

func TestExtractUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0x03}, 0o644))

	err := newTestInspector().Extract(context.Background(), path, dir)
	assert.True(t, errors.Is(err, types.ErrUnsupportedFormat))
}

func TestExtractCorruptZip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04 not a real zip"), 0o644))

	err := newTestInspector().Extract(context.Background(), path, dir)
	assert.Error(t, err)
}

func TestCreateZipRoundTrip(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "App")
	require.NoError(t, os.MkdirAll(filepath.Join(source, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "run.exe"), []byte("exe"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "data", "cfg.ini"), []byte("cfg"), 0o644))

	ins := newTestInspector()
	outPath := filepath.Join(dir, "App.zip")
	files, size, err := ins.CreateZip(context.Background(), source, outPath)
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, int64(6), size)

	dest := filepath.Join(dir, "restored")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, ins.Extract(context.Background(), outPath, dest))

	data, err := os.ReadFile(filepath.Join(dest, "data", "cfg.ini"))
	require.NoError(t, err)
	assert.Equal(t, "cfg", string(data))
}

func TestBackupName(t *testing.T) {
	ts := timeMustParse(t, "2026-08-31T14:05:09Z")
	assert.Equal(t, "MyApp-20260831_140509.zip", BackupName("MyApp", ts))
}

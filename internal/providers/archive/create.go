package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
)

// backupTimeLayout is the timestamp suffix convention for backup names:
// <sanitizedName>-<YYYYMMDD_HHMMSS>.zip
const backupTimeLayout = "20060102_150405"

// BackupName builds a timestamped backup file name for a sanitized
// application name.
func BackupName(name string, t time.Time) string {
	return fmt.Sprintf("%s-%s.zip", name, t.Format(backupTimeLayout))
}

// CreateZip archives sourceDir into outPath, storing entry paths relative
// to sourceDir. Returns the number of files written and their total
// uncompressed size.
func (ins *Inspector) CreateZip(ctx context.Context, sourceDir, outPath string) (int, int64, error) {
	zipFile, err := os.Create(outPath)
	if err != nil {
		return 0, 0, fmt.Errorf("create %s: %w", outPath, err)
	}
	defer zipFile.Close()

	zipWriter := zip.NewWriter(zipFile)

	var (
		mu        sync.Mutex // zip.Writer is not safe for concurrent entries
		fileCount int
		totalSize int64
	)
	conf := fastwalk.Config{Follow: false}

	err = fastwalk.Walk(&conf, sourceDir, func(path string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil || path == sourceDir {
			return nil
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			mu.Lock()
			_, err := zipWriter.Create(relPath + "/")
			mu.Unlock()
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()

		mu.Lock()
		defer mu.Unlock()

		writer, err := zipWriter.Create(relPath)
		if err != nil {
			return err
		}
		size, err := io.Copy(writer, file)
		if err != nil {
			return err
		}
		totalSize += size
		fileCount++
		return nil
	})
	if err != nil {
		zipWriter.Close()
		return 0, 0, fmt.Errorf("zip %s: %w", sourceDir, err)
	}

	if err := zipWriter.Close(); err != nil {
		return 0, 0, fmt.Errorf("finalize %s: %w", outPath, err)
	}
	if err := zipFile.Close(); err != nil {
		return 0, 0, fmt.Errorf("close %s: %w", outPath, err)
	}
	return fileCount, totalSize, nil
}

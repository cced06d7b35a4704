package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
	"go.uber.org/zap"

	"github.com/greenstash/greenstash/internal/infrastructure/monitoring"
	"github.com/greenstash/greenstash/internal/logging"
	"github.com/greenstash/greenstash/internal/shared/paths"
	"github.com/greenstash/greenstash/internal/shared/types"
)

// Inspector detects archive formats and performs safe extraction.
type Inspector struct {
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewInspector creates an inspector.
func NewInspector(log *logging.Logger, metrics *monitoring.Metrics) *Inspector {
	if log == nil {
		log = logging.NewNop()
	}
	return &Inspector{log: log.Named("archive"), metrics: metrics}
}

// Extract populates dest with the contents of the archive. Entries whose
// sanitized path escapes dest are skipped with a warning; all remaining
// entries still extract. Output files are closed before Extract returns,
// so callers may read them immediately.
func (ins *Inspector) Extract(ctx context.Context, archivePath, dest string) error {
	format := DetectFile(archivePath)
	start := time.Now()

	var err error
	switch {
	case format == FormatZip:
		err = ins.extractZip(ctx, archivePath, dest)
	case format.IsTarFamily():
		err = ins.extractTar(ctx, archivePath, dest, format)
	case format.IsSingleFile():
		err = ins.extractSingle(archivePath, dest, format)
	default:
		err = fmt.Errorf("%s: %w", filepath.Base(archivePath), types.ErrUnsupportedFormat)
	}

	if ins.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		ins.metrics.ObserveExtraction(format.String(), status, time.Since(start))
	}
	return err
}

func (ins *Inspector) extractZip(ctx context.Context, archivePath, dest string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip %s: %w", archivePath, err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		name := entryName(file)
		target, ok := ins.safeTarget(dest, name)
		if !ok {
			continue
		}

		info := file.FileInfo()
		switch {
		case info.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case info.Mode().IsRegular():
			src, err := file.Open()
			if err != nil {
				return fmt.Errorf("open zip entry %s: %w", name, err)
			}
			err = ins.writeEntry(target, src)
			src.Close()
			if err != nil {
				return err
			}
		default:
			// Symlinks and other irregular entries are never
			// materialized: a planted symlink would defeat the
			// containment check for later entries.
			ins.log.Debug("skipping irregular zip entry", zap.String("entry", name))
		}
	}
	return nil
}

// extractTar decompresses the whole stream first, then iterates the tar
// structure from the decompressed bytes. Tar has no central directory, so
// there is nothing to gain from per-entry incremental decompression.
func (ins *Inspector) extractTar(ctx context.Context, archivePath, dest string, format Format) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer file.Close()

	stream, err := decompressor(file, format)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", archivePath, err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", archivePath, err)
	}

	tr := tar.NewReader(bytes.NewReader(data))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar %s: %w", archivePath, err)
		}

		target, ok := ins.safeTarget(dest, header.Name)
		if !ok {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := ins.writeEntry(target, tr); err != nil {
				return err
			}
		default:
			ins.log.Debug("skipping irregular tar entry", zap.String("entry", header.Name))
		}
	}
	return nil
}

// extractSingle handles bare compressed files: the output is the archive's
// base name with the compressed suffix stripped.
func (ins *Inspector) extractSingle(archivePath, dest string, format Format) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer file.Close()

	stream, err := decompressor(file, format)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", archivePath, err)
	}
	defer stream.Close()

	name := StripSuffix(filepath.Base(archivePath))
	target, ok := ins.safeTarget(dest, name)
	if !ok {
		return fmt.Errorf("unusable output name %q", name)
	}
	return ins.writeEntry(target, stream)
}

// safeTarget sanitizes an entry path against dest. A rejection is a
// per-entry skip: it is logged, counted, and extraction continues.
func (ins *Inspector) safeTarget(dest, name string) (string, bool) {
	target, err := paths.SecureJoin(dest, name)
	if err != nil {
		ins.log.Warn("skipping archive entry outside destination",
			zap.String("entry", name),
			zap.Error(err))
		if ins.metrics != nil {
			ins.metrics.TraversalRejections.Inc()
		}
		return "", false
	}
	return target, true
}

// writeEntry writes one file entry, creating parents first. The output is
// explicitly closed before returning; an unflushed handle here shows up
// later as a spurious access-denied on Windows-style filesystems.
func (ins *Inspector) writeEntry(target string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", target, err)
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", target, err)
	}

	if ins.metrics != nil {
		ins.metrics.EntriesExtracted.Inc()
	}
	return nil
}

// decompressor wraps a raw archive stream with the matching decoder.
// Plain formats pass through unchanged.
func decompressor(r io.Reader, format Format) (io.ReadCloser, error) {
	switch format {
	case FormatTarGz, FormatGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return gz, nil
	case FormatTarBz2, FormatBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case FormatTarXz, FormatXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	default:
		return io.NopCloser(r), nil
	}
}

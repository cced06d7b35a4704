package archive

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Format identifies a recognized archive format.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTar
	FormatTarGz
	FormatTarBz2
	FormatTarXz
	FormatGzip
	FormatBzip2
	FormatXz
)

// suffixFormats maps file suffixes to formats. Compound suffixes come
// first so ".tar.gz" never classifies as a stray ".gz".
var suffixFormats = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTarGz},
	{".tar.bz2", FormatTarBz2},
	{".tar.xz", FormatTarXz},
	{".tgz", FormatTarGz},
	{".tbz2", FormatTarBz2},
	{".tbz", FormatTarBz2},
	{".txz", FormatTarXz},
	{".tar", FormatTar},
	{".zip", FormatZip},
	{".gz", FormatGzip},
	{".bz2", FormatBzip2},
	{".xz", FormatXz},
}

// mimeFormats maps sniffed content types to formats for files whose name
// gives nothing away.
var mimeFormats = map[string]Format{
	"application/zip":     FormatZip,
	"application/x-tar":   FormatTar,
	"application/gzip":    FormatGzip,
	"application/x-bzip2": FormatBzip2,
	"application/x-xz":    FormatXz,
}

// Detect classifies a file name by suffix.
func Detect(name string) Format {
	lower := strings.ToLower(name)
	for _, sf := range suffixFormats {
		if strings.HasSuffix(lower, sf.suffix) {
			return sf.format
		}
	}
	return FormatUnknown
}

// DetectFile classifies by suffix first and sniffs the content when the
// suffix is unknown.
func DetectFile(path string) Format {
	if f := Detect(path); f != FormatUnknown {
		return f
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return FormatUnknown
	}
	for mime, f := range mimeFormats {
		if mt.Is(mime) {
			return f
		}
	}
	return FormatUnknown
}

// IsArchive reports whether the name carries a recognized archive suffix.
func IsArchive(name string) bool {
	return Detect(name) != FormatUnknown
}

// IsSingleFile reports whether the format is a bare compressed file
// rather than an entry container.
func (f Format) IsSingleFile() bool {
	return f == FormatGzip || f == FormatBzip2 || f == FormatXz
}

// IsTarFamily reports whether the format decodes through the tar reader.
func (f Format) IsTarFamily() bool {
	switch f {
	case FormatTar, FormatTarGz, FormatTarBz2, FormatTarXz:
		return true
	}
	return false
}

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	case FormatTarGz:
		return "tar.gz"
	case FormatTarBz2:
		return "tar.bz2"
	case FormatTarXz:
		return "tar.xz"
	case FormatGzip:
		return "gzip"
	case FormatBzip2:
		return "bzip2"
	case FormatXz:
		return "xz"
	}
	return "unknown"
}

// StripSuffix removes the format's suffix from a file name. Used to name
// the output of single-file decompression.
func StripSuffix(name string) string {
	lower := strings.ToLower(name)
	for _, sf := range suffixFormats {
		if strings.HasSuffix(lower, sf.suffix) {
			return name[:len(name)-len(sf.suffix)]
		}
	}
	return name
}

// SelectorExtensions lists the suffixes (without dots) offered in file
// selection dialogs.
func SelectorExtensions() []string {
	return []string{"zip", "tar", "tgz", "tbz", "tbz2", "txz", "gz", "bz2", "xz"}
}

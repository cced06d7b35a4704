// Package archive provides archive format detection and safe extraction
// for the ingestion pipeline.
//
// Supported formats: zip, tar, tar+gzip, tar+bzip2, tar+xz, and
// single-file gzip/bzip2/xz. Detection is suffix-based with compound
// suffixes checked first, falling back to content sniffing when the name
// is inconclusive.
//
// Every entry path is routed through paths.SecureJoin before anything is
// written; entries that escape the destination are skipped with a warning
// while the rest of the archive extracts normally. Zip entry names with
// the UTF-8 flag unset are recovered from the Info-ZIP Unicode Path extra
// field, or failing that, decoded from the producer's legacy code page.
package archive

package archive

import (
	"archive/zip"
	"encoding/binary"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

const (
	// utf8Flag is bit 11 of the general-purpose flags: entry name and
	// comment are UTF-8.
	utf8Flag = 0x800

	// unicodePathID is the Info-ZIP Unicode Path extra field header ID.
	unicodePathID = 0x7075

	// unicodePathMinLen covers the version byte, the 4-byte CRC of the
	// stored name, and at least one payload byte.
	unicodePathMinLen = 6

	// unicodePathHeaderLen is the offset of the UTF-8 payload within the
	// field data (1 version byte + 4 CRC bytes).
	unicodePathHeaderLen = 5
)

// entryName recovers the true name of a zip entry.
//
// When the UTF-8 flag is set the stored name is trusted as-is. Otherwise
// the Info-ZIP Unicode Path extra field is preferred: many legacy
// producers omit the flag but still write the field, and trying the field
// first is what recovers their names. Only when the field is absent or
// undecodable are the raw bytes reinterpreted as a legacy code page.
func entryName(f *zip.File) string {
	if f.Flags&utf8Flag != 0 {
		return f.Name
	}
	if name, ok := unicodePathField(f.Extra); ok {
		return name
	}
	if name, ok := decodeLegacyName([]byte(f.Name)); ok {
		return name
	}
	return f.Name
}

// unicodePathField scans the extra field blocks for an Info-ZIP Unicode
// Path (0x7075) entry and returns its UTF-8 payload.
func unicodePathField(extra []byte) (string, bool) {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra[0:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		extra = extra[4:]
		if size > len(extra) {
			return "", false
		}
		data := extra[:size]
		extra = extra[size:]

		if id != unicodePathID || size < unicodePathMinLen {
			continue
		}
		payload := data[unicodePathHeaderLen:]
		if !utf8.Valid(payload) {
			continue
		}
		return string(payload), true
	}
	return "", false
}

// charsetDecoders maps chardet charset names to decoders. GB18030 covers
// GBK/GB2312 names as a superset, which matters because chardet reports
// whichever fits the sample.
var charsetDecoders = map[string]encoding.Encoding{
	"GB-18030":     simplifiedchinese.GB18030,
	"GBK":          simplifiedchinese.GBK,
	"Big5":         traditionalchinese.Big5,
	"Shift_JIS":    japanese.ShiftJIS,
	"EUC-JP":       japanese.EUCJP,
	"EUC-KR":       korean.EUCKR,
	"ISO-8859-1":   charmap.ISO8859_1,
	"windows-1252": charmap.Windows1252,
	"windows-1251": charmap.Windows1251,
	"KOI8-R":       charmap.KOI8R,
}

// decodeLegacyName reinterprets raw name bytes using a detected legacy
// code page. Pure ASCII needs no decoding; detection failures leave the
// name untouched.
func decodeLegacyName(raw []byte) (string, bool) {
	if isASCII(raw) {
		return string(raw), true
	}

	result, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil {
		return "", false
	}
	enc, ok := charsetDecoders[result.Charset]
	if !ok {
		return "", false
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Package encoding normalizes statement uploads to UTF-8 before parsing.
// Bank exports are inconsistent here: portals mostly emit UTF-8, Excel
// round-trips add BOMs or switch to UTF-16, and older netbanking sites
// still serve Windows-1252.
package encoding

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// sniffLen bounds how much of the upload the detector inspects.
const sniffLen = 4096

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16LEBOM = []byte{0xFF, 0xFE}
	utf16BEBOM = []byte{0xFE, 0xFF}
)

// NewUTF8Reader wraps r so that reads yield UTF-8 regardless of the source
// encoding. A BOM settles it outright, valid UTF-8 passes through as-is,
// and anything else goes through charset detection with Windows-1252 as
// the fallback, since every byte sequence decodes under it.
func NewUTF8Reader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("sniffing upload: %w", err)
	}

	if decoded, ok := bomReader(br, head); ok {
		return decoded, nil
	}

	if utf8.Valid(head) {
		return br, nil
	}

	if result, detectErr := chardet.NewTextDetector().DetectBest(head); detectErr == nil {
		switch result.Charset {
		case "UTF-8":
			return br, nil
		case "UTF-16LE":
			return transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()), nil
		case "UTF-16BE":
			return transform.NewReader(br, unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()), nil
		}
	}

	return transform.NewReader(br, charmap.Windows1252.NewDecoder()), nil
}

// bomReader handles byte order marks. The UTF-8 BOM is dropped so the csv
// reader never sees it as part of the first header cell; a UTF-16 BOM
// picks the matching decoder.
func bomReader(br *bufio.Reader, head []byte) (io.Reader, bool) {
	switch {
	case bytes.HasPrefix(head, utf8BOM):
		_, _ = br.Discard(len(utf8BOM))
		return br, true
	case bytes.HasPrefix(head, utf16LEBOM):
		return transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()), true
	case bytes.HasPrefix(head, utf16BEBOM):
		return transform.NewReader(br, unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()), true
	}

	return nil, false
}

package source

import (
	"path/filepath"
	"slices"
	"sort"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// BuildLineIndex scans content once and records the byte offset of every
// line feed (0x0A). The result is strictly increasing and empty for
// single-line content. Rebuilt per validation pass because buffer content
// may have changed.
func BuildLineIndex(content []byte) []uint32 {
	var out []uint32
	for i, b := range content {
		if b == '\n' {
			out = append(out, uint32(i))
		}
	}
	return out
}

// ToLineCol resolves a byte offset against a line index. The offset's
// line is the number of breaks strictly below it; its column is the
// distance from one past the nearest preceding break (or from 0 on the
// first line). Both are returned 1-based. Offsets at or past the last
// break resolve to the final line; offsets past the end of content are
// the caller's risk and resolve without reading the index out of bounds.
func ToLineCol(lineIdx []uint32, off uint32) LineCol {
	idx := sort.Search(len(lineIdx), func(i int) bool { return lineIdx[i] >= off })
	var lineStart uint32
	if idx > 0 {
		lineStart = lineIdx[idx-1] + 1
	}
	return LineCol{Line: uint32(idx) + 1, Col: off - lineStart + 1}
}

// normalizeCRLF replaces every \r\n pair with \n, leaving lone \r bytes
// untouched. Reports whether any replacement happened.
func normalizeCRLF(content []byte) ([]byte, bool) {
	if !slices.Contains(content, '\r') {
		return content, false
	}
	out := make([]byte, 0, len(content))
	changed := false
	i := 0
	for i < len(content) {
		if content[i] == '\r' && i+1 < len(content) && content[i+1] == '\n' {
			out = append(out, '\n')
			i += 2
			changed = true
		} else {
			out = append(out, content[i])
			i++
		}
	}
	return out, changed
}

func removeBOM(content []byte) ([]byte, bool) {
	if len(content) < 3 {
		return content, false
	}
	if content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF {
		return content[3:], true
	}
	return content, false
}

// decodeUTF16 transcodes UTF-16 content (detected by its BOM) to UTF-8.
// Editors occasionally save BOM'd UTF-16 files; the analysis tool only
// reads UTF-8. Content without a UTF-16 BOM is returned unchanged.
func decodeUTF16(content []byte) ([]byte, bool) {
	if len(content) < 2 {
		return content, false
	}
	isBE := content[0] == 0xFE && content[1] == 0xFF
	isLE := content[0] == 0xFF && content[1] == 0xFE
	if !isBE && !isLE {
		return content, false
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	out, _, err := transform.Bytes(dec, content)
	if err != nil {
		return content, false
	}
	return out, true
}

func normalizePath(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

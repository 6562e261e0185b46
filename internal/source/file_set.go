package source

import (
	"crypto/sha256"
	"os"
	"sort"
)

// FileSet tracks the files touched by one diagnostics run, keyed by
// normalized path. Adding a path that is already present replaces the
// previous entry, so the set always reflects the latest content seen.
type FileSet struct {
	files map[string]*File
}

// NewFileSet creates an empty FileSet.
func NewFileSet() *FileSet {
	return &FileSet{files: make(map[string]*File)}
}

// Add stores content under path, computing the line index and hash.
func (fs *FileSet) Add(path string, content []byte, flags FileFlags) *File {
	f := &File{
		Path:    normalizePath(path),
		Content: content,
		LineIdx: BuildLineIndex(content),
		Hash:    sha256.Sum256(content),
		Flags:   flags,
	}
	fs.files[f.Path] = f
	return f
}

// AddVirtual stores in-memory content (an editor buffer, stdin, a test)
// with the FileVirtual flag.
func (fs *FileSet) AddVirtual(name string, content []byte) *File {
	return fs.Add(name, content, FileVirtual)
}

// Load reads a file from disk, normalizes UTF-16/BOM/CRLF, and adds it.
func (fs *FileSet) Load(path string) (*File, error) {
	// #nosec G304 -- path is provided by the caller
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var flags FileFlags
	if transcoded, ok := decodeUTF16(content); ok {
		content = transcoded
		flags |= FileTranscodedUTF16
	}
	content, hadBOM := removeBOM(content)
	content, hadCRLF := normalizeCRLF(content)
	if hadBOM {
		flags |= FileHadBOM
	}
	if hadCRLF {
		flags |= FileNormalizedCRLF
	}
	return fs.Add(path, content, flags), nil
}

// Get returns the file stored under path, or nil.
func (fs *FileSet) Get(path string) *File {
	return fs.files[normalizePath(path)]
}

// Len returns the number of files in the set.
func (fs *FileSet) Len() int {
	return len(fs.files)
}

// Paths returns the stored paths in sorted order.
func (fs *FileSet) Paths() []string {
	out := make([]string, 0, len(fs.files))
	for p := range fs.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Resolve converts a span in the named file into line and column
// positions. ok is false when the path is not part of the set.
func (fs *FileSet) Resolve(path string, span Span) (start, end LineCol, ok bool) {
	f := fs.Get(path)
	if f == nil {
		return LineCol{}, LineCol{}, false
	}
	return ToLineCol(f.LineIdx, span.Start), ToLineCol(f.LineIdx, span.End), true
}

// Line returns the 1-based lineNum'th line of the file, without its
// terminator. Out-of-range lines yield an empty string.
func (f *File) Line(lineNum uint32) string {
	if f == nil || lineNum == 0 {
		return ""
	}
	var start uint32
	switch {
	case lineNum == 1:
		start = 0
	case int(lineNum-2) < len(f.LineIdx):
		start = f.LineIdx[lineNum-2] + 1
	default:
		return ""
	}
	end := uint32(len(f.Content))
	if int(lineNum-1) < len(f.LineIdx) {
		end = f.LineIdx[lineNum-1]
	}
	if start >= uint32(len(f.Content)) {
		return ""
	}
	if end > uint32(len(f.Content)) {
		end = uint32(len(f.Content))
	}
	return string(f.Content[start:end])
}

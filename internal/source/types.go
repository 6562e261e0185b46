package source

// FileFlags encodes metadata about how a file's content was obtained.
type FileFlags uint8

const (
	// FileVirtual indicates the content came from memory (an editor
	// buffer or a test) rather than from disk.
	FileVirtual FileFlags = 1 << iota
	FileHadBOM
	FileNormalizedCRLF
	FileTranscodedUTF16
)

// File captures the content and derived layout of a single source file.
// LineIdx holds the byte offset of every line feed in Content, in
// strictly increasing order; it is empty for single-line files.
type File struct {
	Path    string
	Content []byte
	LineIdx []uint32
	Hash    [32]byte
	Flags   FileFlags
}

// LineCol is a human-readable position in a source file, 1-based.
type LineCol struct {
	Line uint32
	Col  uint32
}

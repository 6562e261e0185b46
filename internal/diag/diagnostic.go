package diag

import (
	"github.com/r0nsha/chili-ls/internal/source"
)

// Diagnostic is one finding reported by the checker.
type Diagnostic struct {
	Severity Severity
	// Span is a byte range into the UTF-8 content of the file named by
	// Source. Out-of-range spans are clamped by whoever converts them
	// to line/column coordinates, not here.
	Span    source.Span
	Message string
	// Source is the path of the file the finding belongs to, exactly as
	// the tool printed it. For scratch-file runs this is the scratch
	// path, not the real buffer.
	Source string
}

// Package diag defines the diagnostic model shared by the language
// server and the CLI.
//
// # Purpose
//
//   - Provide deterministic data structures for findings reported by the
//     chili checker.
//   - Decode the checker's newline-delimited stream output (DecodeStream)
//     without coupling to transport or formatting layers.
//   - Offer a light-weight aggregate (Bag) that supports capping, sorting
//     and deduplication for stable output.
//
// # Scope
//
// Package diag performs no IO and no rendering. The checker subprocess is
// run by internal/driver; rendering lives in internal/diagfmt; conversion
// to editor protocol shapes lives in internal/lsp.
//
// # Data model
//
// Diagnostic is the central record. Severity is a tri-level enum, though
// the checker wire format currently only defines errors. Span is a byte
// range into the UTF-8 content of the file named by Source; it is not
// validated against that file's length here.
package diag

package diagfmt

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/r0nsha/chili-ls/internal/diag"
	"github.com/r0nsha/chili-ls/internal/source"
)

// Pretty renders each diagnostic as a location header followed by the
// offending line with an underline. Callers should bag.Sort() first.
//
//	main.chl:2:1: ERROR: bad token
//	  2 | BAD
//	    | ^~~
//
// Diagnostics whose source file is not in the FileSet render without
// line, column or context.
func Pretty(w io.Writer, bag *diag.Bag, fs *source.FileSet, opts PrettyOpts) {
	p := newPrettyPrinter(w, fs, opts)
	for i, d := range bag.Items() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		p.printDiagnostic(d)
	}
	if n := bag.Dropped(); n > 0 {
		fmt.Fprintf(w, "\n... and %d more not shown\n", n)
	}
}

// Short renders one line per diagnostic, uncolored, for grep-friendly
// output and editor quickfix lists.
func Short(w io.Writer, bag *diag.Bag, fs *source.FileSet, opts PrettyOpts) {
	for _, d := range bag.Items() {
		path := displayPath(d.Source, opts.PathMode, opts.BaseDir)
		if start, _, ok := fs.Resolve(d.Source, d.Span); ok {
			fmt.Fprintf(w, "%s:%d:%d: %s: %s\n", path, start.Line, start.Col, d.Severity, d.Message)
		} else {
			fmt.Fprintf(w, "%s: %s: %s\n", path, d.Severity, d.Message)
		}
	}
}

type prettyPrinter struct {
	w    io.Writer
	fs   *source.FileSet
	opts PrettyOpts

	errStyle  *color.Color
	warnStyle *color.Color
	infoStyle *color.Color
	markStyle *color.Color
}

func newPrettyPrinter(w io.Writer, fs *source.FileSet, opts PrettyOpts) *prettyPrinter {
	p := &prettyPrinter{
		w:         w,
		fs:        fs,
		opts:      opts,
		errStyle:  color.New(color.FgRed, color.Bold),
		warnStyle: color.New(color.FgYellow, color.Bold),
		infoStyle: color.New(color.FgCyan, color.Bold),
		markStyle: color.New(color.FgRed, color.Bold),
	}
	if !opts.Color {
		for _, c := range []*color.Color{p.errStyle, p.warnStyle, p.infoStyle, p.markStyle} {
			c.DisableColor()
		}
	}
	return p
}

func (p *prettyPrinter) severity(s diag.Severity) string {
	switch s {
	case diag.SevError:
		return p.errStyle.Sprint(s.String())
	case diag.SevWarning:
		return p.warnStyle.Sprint(s.String())
	default:
		return p.infoStyle.Sprint(s.String())
	}
}

func (p *prettyPrinter) printDiagnostic(d diag.Diagnostic) {
	path := displayPath(d.Source, p.opts.PathMode, p.opts.BaseDir)
	file := p.fs.Get(d.Source)
	if file == nil {
		fmt.Fprintf(p.w, "%s: %s: %s\n", path, p.severity(d.Severity), d.Message)
		return
	}
	start := source.ToLineCol(file.LineIdx, d.Span.Start)
	fmt.Fprintf(p.w, "%s:%d:%d: %s: %s\n", path, start.Line, start.Col, p.severity(d.Severity), d.Message)
	p.printContext(file, d.Span, start)
}

func (p *prettyPrinter) printContext(f *source.File, span source.Span, start source.LineCol) {
	first := start.Line
	if ctx := uint32(p.opts.Context); ctx > 0 {
		if first > ctx {
			first -= ctx
		} else {
			first = 1
		}
	}
	gutter := len(fmt.Sprintf("%d", start.Line))
	for ln := first; ln <= start.Line; ln++ {
		fmt.Fprintf(p.w, "  %*d | %s\n", gutter, ln, p.clip(f.Line(ln)))
	}
	p.printUnderline(f.Line(start.Line), span, start, gutter)
}

// printUnderline marks the spanned bytes of the start line. Spans that
// continue past the line end underline to the end of the line only.
func (p *prettyPrinter) printUnderline(lineText string, span source.Span, start source.LineCol, gutter int) {
	startByte := int(start.Col) - 1
	if startByte > len(lineText) {
		startByte = len(lineText)
	}
	endByte := startByte
	if !span.Empty() {
		endByte += int(span.Len())
	}
	if endByte > len(lineText) {
		endByte = len(lineText)
	}

	pad := runewidth.StringWidth(lineText[:startByte])
	if w := int(p.opts.Width); w > 0 && pad+1 > w {
		return
	}
	width := runewidth.StringWidth(lineText[startByte:endByte])
	if width < 1 {
		width = 1
	}
	underline := "^" + strings.Repeat("~", width-1)
	fmt.Fprintf(p.w, "  %s | %s%s\n",
		strings.Repeat(" ", gutter),
		strings.Repeat(" ", pad),
		p.markStyle.Sprint(underline))
}

func (p *prettyPrinter) clip(text string) string {
	w := int(p.opts.Width)
	if w == 0 || runewidth.StringWidth(text) <= w {
		return text
	}
	if w <= 3 {
		return runewidth.Truncate(text, w, "")
	}
	return runewidth.Truncate(text, w, "...")
}

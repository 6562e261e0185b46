package lsp

import (
	"testing"
	"unicode/utf8"

	"github.com/r0nsha/chili-ls/internal/source"
)

func TestRangeForSpanLineBreakTable(t *testing.T) {
	file := fileForContent("main.chl", "a\nBAD\n")
	got := rangeForSpan(file, source.Span{Start: 2, End: 5})
	want := lspRange{
		Start: position{Line: 1, Character: 0},
		End:   position{Line: 1, Character: 3},
	}
	if got != want {
		t.Fatalf("unexpected range: %+v", got)
	}
}

func TestPositionForOffsetUTF16Units(t *testing.T) {
	// "é" as e + combining acute is two UTF-16 units, the emoji is a
	// surrogate pair.
	text := "let s = \"é\U0001F642\";\nnext\n"
	file := fileForContent("main.chl", text)

	quote := uint32(8)
	if text[quote] != '"' {
		t.Fatalf("fixture drifted: byte %d is %q", quote, text[quote])
	}
	if got := positionForOffsetInFile(file, quote); got != (position{Line: 0, Character: 8}) {
		t.Fatalf("unexpected position for quote: %+v", got)
	}

	afterCombining := quote + 1 + uint32(len("é"))
	if got := positionForOffsetInFile(file, afterCombining); got != (position{Line: 0, Character: 11}) {
		t.Fatalf("unexpected position after combining mark: %+v", got)
	}

	afterEmoji := afterCombining + uint32(len("\U0001F642"))
	if got := positionForOffsetInFile(file, afterEmoji); got != (position{Line: 0, Character: 13}) {
		t.Fatalf("unexpected position after emoji: %+v", got)
	}

	nextLine := uint32(len(text) - len("next\n"))
	if got := positionForOffsetInFile(file, nextLine); got != (position{Line: 1, Character: 0}) {
		t.Fatalf("unexpected position at line start: %+v", got)
	}
}

func TestOffsetPositionRoundtrip(t *testing.T) {
	text := "fn main() {\n    let x = \"é\U0001F642\";\n    return x;\n}\n"
	file := fileForContent("main.chl", text)
	for off := 0; off <= len(text); {
		pos := positionForOffsetInFile(file, uint32(off))
		back := offsetForPositionInFile(file, pos)
		if back != uint32(off) {
			t.Fatalf("offset %d mapped to %+v mapped back to %d", off, pos, back)
		}
		if off == len(text) {
			break
		}
		_, size := utf8.DecodeRuneInString(text[off:])
		off += size
	}
}

func TestOffsetForPositionClamps(t *testing.T) {
	file := fileForContent("main.chl", "ab\ncd\n")
	if got := offsetForPositionInFile(file, position{Line: 99, Character: 0}); got != 6 {
		t.Fatalf("expected clamp to content end, got %d", got)
	}
	if got := offsetForPositionInFile(file, position{Line: 0, Character: 99}); got != 2 {
		t.Fatalf("expected clamp to line end, got %d", got)
	}
	if got := offsetForPositionInFile(file, position{Line: -1, Character: 0}); got != 0 {
		t.Fatalf("expected 0 for negative line, got %d", got)
	}
	if got := offsetForPositionInFile(nil, position{Line: 1, Character: 1}); got != 0 {
		t.Fatalf("expected 0 for nil file, got %d", got)
	}
}

func TestPositionForOffsetClamps(t *testing.T) {
	file := fileForContent("main.chl", "ab\ncd")
	if got := positionForOffsetInFile(file, 999); got != (position{Line: 1, Character: 2}) {
		t.Fatalf("expected clamp to content end, got %+v", got)
	}
	if got := positionForOffsetInFile(nil, 3); got != (position{}) {
		t.Fatalf("expected zero position for nil file, got %+v", got)
	}
}

func TestFileForContentBuildsIndex(t *testing.T) {
	file := fileForContent("main.chl", "a\nb\nc")
	if len(file.LineIdx) != 2 || file.LineIdx[0] != 1 || file.LineIdx[1] != 3 {
		t.Fatalf("unexpected line index: %v", file.LineIdx)
	}
	if file.Flags&source.FileVirtual == 0 {
		t.Fatal("expected virtual flag")
	}
}

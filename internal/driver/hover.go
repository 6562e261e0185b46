package driver

import (
	"context"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/r0nsha/chili-ls/internal/source"
)

// Definition is a definition site reported by the checker. Source is
// the path exactly as the tool printed it; the span indexes that
// file's content.
type Definition struct {
	Source string
	Span   source.Span
}

// HoverInfo checks the buffer with --hover-info at the given byte
// offset and returns the hover text. ok is false on any failure or
// when the tool has nothing to say; hover is best-effort throughout.
func (r *Runner) HoverInfo(ctx context.Context, bufferID string, content []byte, includeDir string, offset uint32) (string, bool) {
	res := r.runBuffer(ctx, bufferID, content, includeDir,
		[]string{"--hover-info", strconv.FormatUint(uint64(offset), 10)}, nil)
	if res.LaunchErr != nil {
		return "", false
	}
	body, ok := firstTagged(res.Stdout, "hover_info")
	if !ok {
		return "", false
	}
	contents := body.Get("contents")
	if contents.Type != gjson.String || contents.Str == "" {
		return "", false
	}
	return contents.Str, true
}

// GotoDefinition checks the buffer with --goto-def at the given byte
// offset. ok is false when the tool reports no definition.
func (r *Runner) GotoDefinition(ctx context.Context, bufferID string, content []byte, includeDir string, offset uint32) (Definition, bool) {
	res := r.runBuffer(ctx, bufferID, content, includeDir,
		[]string{"--goto-def", strconv.FormatUint(uint64(offset), 10)}, nil)
	if res.LaunchErr != nil {
		return Definition{}, false
	}
	body, ok := firstTagged(res.Stdout, "goto_definition")
	if !ok {
		return Definition{}, false
	}
	src := body.Get("source")
	start := body.Get("span.start")
	end := body.Get("span.end")
	if src.Type != gjson.String || start.Type != gjson.Number || end.Type != gjson.Number {
		return Definition{}, false
	}
	startOff, okStart := wireUint32(start)
	endOff, okEnd := wireUint32(end)
	if !okStart || !okEnd {
		return Definition{}, false
	}
	return Definition{
		Source: src.Str,
		Span:   source.Span{Start: startOff, End: endOff},
	}, true
}

// firstTagged scans the tool's line stream for the first object tagged
// with kind and returns its payload. Lines that do not parse are
// skipped, mirroring the diagnostics decoder's tolerance.
func firstTagged(raw, kind string) (gjson.Result, bool) {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !gjson.Valid(line) {
			continue
		}
		parsed := gjson.Parse(line)
		items := []gjson.Result{parsed}
		if parsed.IsArray() {
			items = parsed.Array()
		}
		for _, item := range items {
			if item.Get("type").String() != kind {
				continue
			}
			body := item.Get(kind)
			if body.IsObject() {
				return body, true
			}
		}
	}
	return gjson.Result{}, false
}

func wireUint32(r gjson.Result) (uint32, bool) {
	if r.Num < 0 {
		return 0, false
	}
	v := r.Uint()
	if v > uint64(^uint32(0)) {
		return 0, false
	}
	return uint32(v), true
}

package diag

import (
	"errors"
	"fmt"
	"strings"

	"fortio.org/safecast"
	"github.com/tidwall/gjson"

	"github.com/r0nsha/chili-ls/internal/source"
)

// ErrMalformedLine marks a stream line (or a tagged object on it) that
// could not be decoded. Errors returned by DecodeStream wrap it.
var ErrMalformedLine = errors.New("malformed diagnostic line")

const maxUint32 = ^uint32(0)

// Tagged object kinds the checker emits. Only diagnostics are decoded
// here; hover and definition payloads have dedicated single-shot
// decoders in internal/driver.
const kindDiagnostic = "diagnostic"

// DecodeStream parses the checker's newline-delimited stdout into
// diagnostics. Each non-empty line holds one tagged object or an array
// of them; objects tagged "diagnostic" become records and other tags
// are skipped. Decoding is best-effort: a bad line is reported through
// the returned error list and never aborts the rest of the stream.
// Output order follows stream order.
func DecodeStream(raw string) ([]Diagnostic, []error) {
	var (
		diags []Diagnostic
		errs  []error
	)
	badLine := func(n int, reason string) {
		errs = append(errs, fmt.Errorf("%w %d: %s", ErrMalformedLine, n, reason))
	}
	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			badLine(i+1, "invalid JSON")
			continue
		}
		parsed := gjson.Parse(line)
		switch {
		case parsed.IsArray():
			for _, item := range parsed.Array() {
				if d, ok, reason := decodeTagged(item); reason != "" {
					badLine(i+1, reason)
				} else if ok {
					diags = append(diags, d)
				}
			}
		case parsed.IsObject():
			if d, ok, reason := decodeTagged(parsed); reason != "" {
				badLine(i+1, reason)
			} else if ok {
				diags = append(diags, d)
			}
		default:
			badLine(i+1, "expected object or array")
		}
	}
	return diags, errs
}

// decodeTagged turns one tagged object into a Diagnostic. ok is false
// for tags other than "diagnostic"; a non-empty reason means the object
// claimed to be a diagnostic but its payload was unusable.
func decodeTagged(item gjson.Result) (Diagnostic, bool, string) {
	if item.Get("type").String() != kindDiagnostic {
		return Diagnostic{}, false, ""
	}
	body := item.Get(kindDiagnostic)
	if !body.IsObject() {
		return Diagnostic{}, false, "diagnostic tag without payload"
	}
	start, ok := wireOffset(body.Get("span.start"))
	if !ok {
		return Diagnostic{}, false, "diagnostic span.start missing or not a number"
	}
	end, ok := wireOffset(body.Get("span.end"))
	if !ok {
		return Diagnostic{}, false, "diagnostic span.end missing or not a number"
	}
	msg := body.Get("message")
	if msg.Type != gjson.String {
		return Diagnostic{}, false, "diagnostic message missing or not a string"
	}
	src := body.Get("source")
	if src.Type != gjson.String {
		return Diagnostic{}, false, "diagnostic source missing or not a string"
	}
	return Diagnostic{
		// A missing severity reads as 0 which is the error level, the
		// same fallback reserved values get.
		Severity: SeverityFromTool(body.Get("severity").Int()),
		Span:     source.Span{Start: start, End: end},
		Message:  msg.String(),
		Source:   src.String(),
	}, true, ""
}

// wireOffset reads a byte offset from the wire. Offsets past uint32
// range clamp instead of failing so one absurd span cannot kill an
// otherwise fine record.
func wireOffset(r gjson.Result) (uint32, bool) {
	if r.Type != gjson.Number {
		return 0, false
	}
	if r.Num < 0 {
		return 0, true
	}
	v, err := safecast.Conv[uint32](r.Uint())
	if err != nil {
		return maxUint32, true
	}
	return v, true
}

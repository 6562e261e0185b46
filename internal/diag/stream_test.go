package diag

import (
	"errors"
	"reflect"
	"testing"

	"github.com/r0nsha/chili-ls/internal/source"
)

const wellFormedLine = `{"type":"diagnostic","diagnostic":{"severity":0,"span":{"start":2,"end":5},"message":"bad token","source":"/tmp/scratch.chl"}}`

func TestDecodeStreamSingleObject(t *testing.T) {
	diags, errs := DecodeStream(wellFormedLine + "\n")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(diags))
	}
	want := Diagnostic{
		Severity: SevError,
		Span:     source.Span{Start: 2, End: 5},
		Message:  "bad token",
		Source:   "/tmp/scratch.chl",
	}
	if diags[0] != want {
		t.Fatalf("expected %+v, got %+v", want, diags[0])
	}
}

func TestDecodeStreamArrayLine(t *testing.T) {
	raw := `[{"type":"diagnostic","diagnostic":{"severity":0,"span":{"start":0,"end":1},"message":"first","source":"a.chl"}},` +
		`{"type":"diagnostic","diagnostic":{"severity":0,"span":{"start":4,"end":9},"message":"second","source":"b.chl"}}]` + "\n"
	diags, errs := DecodeStream(raw)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(diags))
	}
	if diags[0].Message != "first" || diags[1].Message != "second" {
		t.Fatalf("order not preserved: %+v", diags)
	}
}

// One malformed line between two good ones must cost exactly that line.
func TestDecodeStreamMalformedLine(t *testing.T) {
	raw := `{"type":"diagnostic","diagnostic":{"severity":0,"span":{"start":0,"end":1},"message":"first","source":"a.chl"}}` + "\n" +
		`{garbage` + "\n" +
		`{"type":"diagnostic","diagnostic":{"severity":0,"span":{"start":4,"end":9},"message":"second","source":"a.chl"}}` + "\n"
	diags, errs := DecodeStream(raw)
	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d: %+v", len(diags), diags)
	}
	if diags[0].Message != "first" || diags[1].Message != "second" {
		t.Fatalf("order not preserved: %+v", diags)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 decode error, got %v", errs)
	}
	if !errors.Is(errs[0], ErrMalformedLine) {
		t.Fatalf("expected ErrMalformedLine, got %v", errs[0])
	}
}

func TestDecodeStreamIdempotent(t *testing.T) {
	raw := wellFormedLine + "\n" + `broken` + "\n" + wellFormedLine + "\n"
	first, _ := DecodeStream(raw)
	second, _ := DecodeStream(raw)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("decoding is not idempotent: %+v vs %+v", first, second)
	}
}

func TestDecodeStreamSkipsUnknownTags(t *testing.T) {
	raw := `{"type":"hint","hint":{"span":{"start":0,"end":1},"type_name":"int"}}` + "\n" + wellFormedLine + "\n"
	diags, errs := DecodeStream(raw)
	if len(errs) != 0 {
		t.Fatalf("unknown tags must not be errors: %v", errs)
	}
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(diags))
	}
}

func TestDecodeStreamMalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "payload not object", line: `{"type":"diagnostic","diagnostic":7}`},
		{name: "missing span start", line: `{"type":"diagnostic","diagnostic":{"severity":0,"span":{"end":5},"message":"m","source":"a"}}`},
		{name: "span start not number", line: `{"type":"diagnostic","diagnostic":{"severity":0,"span":{"start":"2","end":5},"message":"m","source":"a"}}`},
		{name: "missing message", line: `{"type":"diagnostic","diagnostic":{"severity":0,"span":{"start":2,"end":5},"source":"a"}}`},
		{name: "missing source", line: `{"type":"diagnostic","diagnostic":{"severity":0,"span":{"start":2,"end":5},"message":"m"}}`},
		{name: "bare number line", line: `42`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags, errs := DecodeStream(tt.line + "\n")
			if len(diags) != 0 {
				t.Fatalf("expected no diagnostics, got %+v", diags)
			}
			if len(errs) != 1 || !errors.Is(errs[0], ErrMalformedLine) {
				t.Fatalf("expected one ErrMalformedLine, got %v", errs)
			}
		})
	}
}

func TestDecodeStreamSeverityFallback(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "reserved value", line: `{"type":"diagnostic","diagnostic":{"severity":7,"span":{"start":0,"end":1},"message":"m","source":"a"}}`},
		{name: "missing severity", line: `{"type":"diagnostic","diagnostic":{"span":{"start":0,"end":1},"message":"m","source":"a"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags, errs := DecodeStream(tt.line + "\n")
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			if len(diags) != 1 || diags[0].Severity != SevError {
				t.Fatalf("expected single error-level diagnostic, got %+v", diags)
			}
		})
	}
}

func TestDecodeStreamEmptyInput(t *testing.T) {
	for _, raw := range []string{"", "\n", "\n\n\n", "  \n\t\n"} {
		diags, errs := DecodeStream(raw)
		if len(diags) != 0 || len(errs) != 0 {
			t.Fatalf("input %q: expected nothing, got %+v / %v", raw, diags, errs)
		}
	}
}

func TestSeverityFromTool(t *testing.T) {
	if got := SeverityFromTool(0); got != SevError {
		t.Fatalf("expected SevError for 0, got %v", got)
	}
	for _, raw := range []int64{1, 2, -1, 255} {
		if got := SeverityFromTool(raw); got != SevError {
			t.Fatalf("expected SevError for reserved %d, got %v", raw, got)
		}
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/r0nsha/chili-ls/internal/batch"
	"github.com/r0nsha/chili-ls/internal/diag"
	"github.com/r0nsha/chili-ls/internal/source"
)

func TestReadUIMode(t *testing.T) {
	cases := []struct {
		input   string
		want    uiMode
		wantErr bool
	}{
		{"", uiModeAuto, false},
		{"auto", uiModeAuto, false},
		{"ON", uiModeOn, false},
		{" off ", uiModeOff, false},
		{"always", "", true},
	}
	for _, tc := range cases {
		got, err := readUIMode(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("readUIMode(%q) expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("readUIMode(%q) error: %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("readUIMode(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestCollectFindings(t *testing.T) {
	res := batch.Result{Files: []batch.FileResult{
		{Path: "b.chl", Diagnostics: []diag.Diagnostic{
			{Severity: diag.SevError, Span: source.Span{Start: 4, End: 5}, Message: "bad", Source: "b.chl"},
		}},
		{Path: "a.chl", Diagnostics: []diag.Diagnostic{
			{Severity: diag.SevWarning, Span: source.Span{Start: 0, End: 1}, Message: "meh", Source: "a.chl"},
			{Severity: diag.SevWarning, Span: source.Span{Start: 0, End: 1}, Message: "meh", Source: "a.chl"},
		}},
	}}

	bag, hadErrors := collectFindings(res, 10)
	if !hadErrors {
		t.Fatal("expected errors")
	}
	if bag.Len() != 2 {
		t.Fatalf("expected dedup to 2 findings, got %d", bag.Len())
	}
	items := bag.Items()
	if items[0].Source != "a.chl" || items[1].Source != "b.chl" {
		t.Fatalf("expected sorted order, got %q then %q", items[0].Source, items[1].Source)
	}
}

func TestCollectFindingsExitSeesCappedErrors(t *testing.T) {
	// The lone error sorts behind the warning, so a cap of 1 would hide
	// it from the output. The exit signal must survive anyway.
	res := batch.Result{Files: []batch.FileResult{
		{Path: "a.chl", Diagnostics: []diag.Diagnostic{
			{Severity: diag.SevWarning, Span: source.Span{Start: 0, End: 1}, Message: "meh", Source: "a.chl"},
		}},
		{Path: "z.chl", Diagnostics: []diag.Diagnostic{
			{Severity: diag.SevError, Span: source.Span{Start: 0, End: 1}, Message: "bad", Source: "z.chl"},
		}},
	}}

	bag, hadErrors := collectFindings(res, 1)
	if !hadErrors {
		t.Fatal("capped error must still flip the exit code")
	}
	if bag.Len() != 1 || bag.Items()[0].Source != "a.chl" {
		t.Fatalf("expected the first sorted finding kept, got %+v", bag.Items())
	}
	if bag.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", bag.Dropped())
	}
}

func TestManifestStart(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.chl")
	if err := os.WriteFile(file, []byte(""), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if got := manifestStart(dir); got != dir {
		t.Fatalf("manifestStart(dir) = %q, want %q", got, dir)
	}
	if got := manifestStart(file); got != dir {
		t.Fatalf("manifestStart(file) = %q, want %q", got, dir)
	}
	missing := filepath.Join(dir, "nope.chl")
	if got := manifestStart(missing); got != dir {
		t.Fatalf("manifestStart(missing) = %q, want %q", got, dir)
	}
}

func TestRenderVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	info := versionInfo{Version: "1.2.3", GitCommit: "abc123"}
	opts := versionOptions{showHash: true}
	if err := renderVersionJSON(&buf, info, opts); err != nil {
		t.Fatalf("renderVersionJSON: %v", err)
	}
	var payload versionPayload
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Tool != "chili-ls" || payload.Version != "1.2.3" {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.GitCommit != "abc123" {
		t.Fatalf("payload.GitCommit = %q", payload.GitCommit)
	}
	if payload.BuildDate != "" {
		t.Fatalf("BuildDate should be omitted when not requested, got %q", payload.BuildDate)
	}
}

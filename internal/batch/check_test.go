package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/r0nsha/chili-ls/internal/driver"
	"github.com/r0nsha/chili-ls/internal/observ"
)

func diagLine(start, end int, msg, src string) string {
	return fmt.Sprintf(`{"type":"diagnostic","diagnostic":{"severity":0,"span":{"start":%d,"end":%d},"message":%q,"source":%q}}`,
		start, end, msg, src)
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) OnEvent(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) byFile(file string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, evt := range s.events {
		if evt.File == file {
			out = append(out, evt)
		}
	}
	return out
}

func TestCheckRunsEveryFile(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "a.chl", "let x = 1;\n")
	b := writeSource(t, dir, "b.chl", "let y = 2;\n")

	sink := &recordingSink{}
	res, err := Check(context.Background(), Request{
		Files:    []string{a, b},
		Jobs:     2,
		Progress: sink,
		Check: func(_ context.Context, path string, _ []string, _ *observ.Timer) driver.CheckResult {
			return driver.CheckResult{Stdout: diagLine(4, 5, "unused binding", path) + "\n", ExitCode: 1}
		},
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(res.Files) != 2 {
		t.Fatalf("got %d file results, want 2", len(res.Files))
	}
	for i, want := range []string{a, b} {
		fr := res.Files[i]
		if fr.Path != want {
			t.Fatalf("Files[%d].Path = %q, want %q", i, fr.Path, want)
		}
		if len(fr.Diagnostics) != 1 {
			t.Fatalf("Files[%d] got %d diagnostics, want 1", i, len(fr.Diagnostics))
		}
		if fr.Diagnostics[0].Source != want {
			t.Fatalf("Files[%d] diagnostic source = %q, want %q", i, fr.Diagnostics[0].Source, want)
		}
		if fr.LaunchErr != nil {
			t.Fatalf("Files[%d] unexpected launch error: %v", i, fr.LaunchErr)
		}
	}
	for _, file := range []string{a, b} {
		evts := sink.byFile(file)
		if len(evts) != 2 {
			t.Fatalf("%s got %d events, want checking+done", file, len(evts))
		}
		if evts[0].Status != StatusChecking {
			t.Fatalf("%s first event = %s, want %s", file, evts[0].Status, StatusChecking)
		}
		if evts[1].Status != StatusDone || evts[1].Problems != 1 {
			t.Fatalf("%s last event = %s problems=%d, want done with 1", file, evts[1].Status, evts[1].Problems)
		}
	}
}

func TestCheckLaunchFailure(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "a.chl", "fn main() {}\n")

	launchErr := errors.New("exec: not found")
	sink := &recordingSink{}
	res, err := Check(context.Background(), Request{
		Files:    []string{a},
		Progress: sink,
		Check: func(context.Context, string, []string, *observ.Timer) driver.CheckResult {
			return driver.CheckResult{LaunchErr: launchErr}
		},
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Files[0].LaunchErr == nil {
		t.Fatalf("expected launch error on result")
	}
	if res.LaunchFailures() != 1 {
		t.Fatalf("LaunchFailures = %d, want 1", res.LaunchFailures())
	}
	evts := sink.byFile(a)
	if len(evts) != 2 || evts[1].Status != StatusError {
		t.Fatalf("events = %+v, want checking then error", evts)
	}
}

func TestCheckUnreadableFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.chl")

	called := false
	res, err := Check(context.Background(), Request{
		Files: []string{missing},
		Check: func(context.Context, string, []string, *observ.Timer) driver.CheckResult {
			called = true
			return driver.CheckResult{}
		},
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Files[0].LaunchErr == nil {
		t.Fatalf("expected error for missing file")
	}
	if called {
		t.Fatalf("checker should not run when the file cannot be read")
	}
}

func TestCheckDecodeErrorsCounted(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "a.chl", "x\n")

	stdout := diagLine(0, 1, "bad", a) + "\nnot json at all\n"
	res, err := Check(context.Background(), Request{
		Files: []string{a},
		Check: func(context.Context, string, []string, *observ.Timer) driver.CheckResult {
			return driver.CheckResult{Stdout: stdout, ExitCode: 1}
		},
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	fr := res.Files[0]
	if len(fr.Diagnostics) != 1 {
		t.Fatalf("got %d diagnostics, want the decodable one", len(fr.Diagnostics))
	}
	if fr.DecodeErrs != 1 {
		t.Fatalf("DecodeErrs = %d, want 1", fr.DecodeErrs)
	}
}

func TestCheckCacheSkipsSecondRun(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	cache, err := driver.OpenCache("chili-ls-test")
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	runner, err := driver.NewRunner(driver.Config{ToolPath: "chili"})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	t.Cleanup(func() { _ = runner.Close() })

	dir := t.TempDir()
	a := writeSource(t, dir, "a.chl", "let z = 0;\n")

	calls := 0
	req := Request{
		Runner: runner,
		Files:  []string{a},
		Cache:  cache,
		Check: func(_ context.Context, path string, _ []string, _ *observ.Timer) driver.CheckResult {
			calls++
			return driver.CheckResult{Stdout: diagLine(4, 5, "unused binding", path) + "\n", ExitCode: 1}
		},
	}

	first, err := Check(context.Background(), req)
	if err != nil {
		t.Fatalf("first Check: %v", err)
	}
	if calls != 1 {
		t.Fatalf("first run made %d checker calls, want 1", calls)
	}
	if first.Files[0].CacheHit {
		t.Fatalf("first run should not be a cache hit")
	}

	second, err := Check(context.Background(), req)
	if err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if calls != 1 {
		t.Fatalf("second run made %d extra checker calls, want 0", calls-1)
	}
	fr := second.Files[0]
	if !fr.CacheHit {
		t.Fatalf("second run should hit the cache")
	}
	if len(fr.Diagnostics) != 1 || fr.Diagnostics[0].Message != "unused binding" {
		t.Fatalf("cached diagnostics = %+v", fr.Diagnostics)
	}
}

func TestCheckCacheMissesOnContentChange(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	cache, err := driver.OpenCache("chili-ls-test")
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	runner, err := driver.NewRunner(driver.Config{ToolPath: "chili"})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	t.Cleanup(func() { _ = runner.Close() })

	dir := t.TempDir()
	a := writeSource(t, dir, "a.chl", "let z = 0;\n")

	calls := 0
	req := Request{
		Runner: runner,
		Files:  []string{a},
		Cache:  cache,
		Check: func(context.Context, string, []string, *observ.Timer) driver.CheckResult {
			calls++
			return driver.CheckResult{Stdout: "", ExitCode: 0}
		},
	}

	if _, err := Check(context.Background(), req); err != nil {
		t.Fatalf("first Check: %v", err)
	}
	writeSource(t, dir, "a.chl", "let z = 1;\n")
	if _, err := Check(context.Background(), req); err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if calls != 2 {
		t.Fatalf("checker calls = %d, want a fresh run after the edit", calls)
	}
}

func TestCheckEmptyRequest(t *testing.T) {
	res, err := Check(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(res.Files) != 0 {
		t.Fatalf("got %d results, want none", len(res.Files))
	}
}

func TestListChiliFiles(t *testing.T) {
	root := t.TempDir()
	a := writeSource(t, root, "a.chl", "")
	sub := filepath.Join(root, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	b := writeSource(t, sub, "b.chl", "")
	for _, skipped := range []string{".git", "build"} {
		d := filepath.Join(root, skipped)
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		writeSource(t, d, "x.chl", "")
	}
	notes := writeSource(t, root, "notes.txt", "")

	files, err := ListChiliFiles([]string{root})
	if err != nil {
		t.Fatalf("ListChiliFiles: %v", err)
	}
	if len(files) != 2 || files[0] != a || files[1] != b {
		t.Fatalf("files = %v, want [%s %s]", files, a, b)
	}

	// Explicit file targets are kept as-is and deduplicated.
	files, err = ListChiliFiles([]string{notes, root, a})
	if err != nil {
		t.Fatalf("ListChiliFiles: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("files = %v, want notes plus the two sources once each", files)
	}
}

func TestListChiliFilesExplicitHiddenDir(t *testing.T) {
	root := t.TempDir()
	hidden := filepath.Join(root, ".vendor")
	if err := os.MkdirAll(hidden, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	a := writeSource(t, hidden, "a.chl", "")

	// Walking the parent prunes the hidden directory...
	files, err := ListChiliFiles([]string{root})
	if err != nil {
		t.Fatalf("ListChiliFiles: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("files = %v, want none via the parent", files)
	}

	// ...but naming it as the target walks it anyway.
	files, err = ListChiliFiles([]string{hidden})
	if err != nil {
		t.Fatalf("ListChiliFiles: %v", err)
	}
	if len(files) != 1 || files[0] != a {
		t.Fatalf("files = %v, want [%s]", files, a)
	}
}

func TestListChiliFilesMissingTarget(t *testing.T) {
	if _, err := ListChiliFiles([]string{filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Fatalf("expected error for missing target")
	}
}

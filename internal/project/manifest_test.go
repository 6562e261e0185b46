package project

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, data string) string {
	t.Helper()
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write chili.toml: %v", err)
	}
	return path
}

func TestLoadFullManifest(t *testing.T) {
	root := t.TempDir()
	path := writeManifest(t, root, `# project manifest
[tool]
path = "/opt/chili/bin/chili"
extra-args = ["--strict", "--edition=2024"]

[check]
include-paths = ["lib", "/usr/share/chili"]
disk-cache = true
jobs = 4

[server]
throttle-ms = 250
max-problems = 50
trace = true
`)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Path != path {
		t.Fatalf("m.Path = %q, want %q", m.Path, path)
	}
	if m.Root != root {
		t.Fatalf("m.Root = %q, want %q", m.Root, root)
	}
	if m.Tool.Path != "/opt/chili/bin/chili" {
		t.Fatalf("m.Tool.Path = %q, want /opt/chili/bin/chili", m.Tool.Path)
	}
	if len(m.Tool.ExtraArgs) != 2 || m.Tool.ExtraArgs[0] != "--strict" || m.Tool.ExtraArgs[1] != "--edition=2024" {
		t.Fatalf("m.Tool.ExtraArgs = %v", m.Tool.ExtraArgs)
	}
	if !m.Check.DiskCache {
		t.Fatalf("expected disk-cache true")
	}
	if m.Check.Jobs != 4 {
		t.Fatalf("m.Check.Jobs = %d, want 4", m.Check.Jobs)
	}
	if m.Server.ThrottleMS != 250 {
		t.Fatalf("m.Server.ThrottleMS = %d, want 250", m.Server.ThrottleMS)
	}
	if m.Server.MaxProblems != 50 {
		t.Fatalf("m.Server.MaxProblems = %d, want 50", m.Server.MaxProblems)
	}
	if !m.Server.Trace {
		t.Fatalf("expected trace true")
	}
}

func TestLoadPartialManifest(t *testing.T) {
	root := t.TempDir()
	path := writeManifest(t, root, "[server]\nthrottle-ms = 100\n")

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Server.ThrottleMS != 100 {
		t.Fatalf("m.Server.ThrottleMS = %d, want 100", m.Server.ThrottleMS)
	}
	if m.Tool.Path != "" || len(m.Tool.ExtraArgs) != 0 {
		t.Fatalf("expected zero tool config, got %+v", m.Tool)
	}
	if m.Check.Jobs != 0 || m.Check.DiskCache {
		t.Fatalf("expected zero check config, got %+v", m.Check)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	root := t.TempDir()
	path := writeManifest(t, root, "[tool\npath = oops")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFindParsesNearestManifest(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[check]\njobs = 2\n")
	nested := filepath.Join(root, "src")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	m, ok, err := Find(nested)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !ok {
		t.Fatalf("expected manifest to be found")
	}
	if m.Root != root {
		t.Fatalf("m.Root = %q, want %q", m.Root, root)
	}
	if m.Check.Jobs != 2 {
		t.Fatalf("m.Check.Jobs = %d, want 2", m.Check.Jobs)
	}
}

func TestFindWithoutManifest(t *testing.T) {
	dir := t.TempDir()

	m, ok, err := Find(dir)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if ok {
		t.Fatalf("expected no manifest, got %+v", m)
	}
}

func TestFindReportsMalformedManifest(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "not toml at all [[[")

	_, ok, err := Find(root)
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if !ok {
		t.Fatalf("expected ok=true for a manifest that exists but fails to parse")
	}
}

func TestResolvedIncludePaths(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "shared")
	m := Manifest{
		Root: filepath.FromSlash("/proj"),
		Check: CheckConfig{
			IncludePaths: []string{"lib", abs, ""},
		},
	}

	got := m.ResolvedIncludePaths()
	want := []string{filepath.Join(m.Root, "lib"), abs}
	if len(got) != len(want) {
		t.Fatalf("ResolvedIncludePaths = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ResolvedIncludePaths[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolvedIncludePathsEmpty(t *testing.T) {
	var m Manifest
	if got := m.ResolvedIncludePaths(); got != nil {
		t.Fatalf("ResolvedIncludePaths = %v, want nil", got)
	}
}

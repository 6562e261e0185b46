// Package project locates and parses the chili.toml manifest. Every
// section and key is optional; a missing manifest is not an error, so
// callers always end up with a usable Manifest value.
package project

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ToolConfig is the [tool] section.
type ToolConfig struct {
	// Path overrides the checker binary name.
	Path string `toml:"path"`
	// ExtraArgs are appended to every checker invocation.
	ExtraArgs []string `toml:"extra-args"`
}

// CheckConfig is the [check] section.
type CheckConfig struct {
	// IncludePaths are extra import roots, relative to the project
	// root unless absolute.
	IncludePaths []string `toml:"include-paths"`
	// DiskCache enables reusing checker results across runs.
	DiskCache bool `toml:"disk-cache"`
	// Jobs bounds parallel checker invocations.
	Jobs int `toml:"jobs"`
}

// ServerConfig is the [server] section.
type ServerConfig struct {
	// ThrottleMS is the cooling window between validation runs, in
	// milliseconds.
	ThrottleMS int `toml:"throttle-ms"`
	// MaxProblems caps reported problems per validation pass.
	MaxProblems int `toml:"max-problems"`
	Trace       bool `toml:"trace"`
}

// Manifest is a parsed chili.toml together with its location.
type Manifest struct {
	// Path is the manifest file. Empty when no manifest was found.
	Path string `toml:"-"`
	// Root is the directory containing the manifest.
	Root string `toml:"-"`

	Tool   ToolConfig   `toml:"tool"`
	Check  CheckConfig  `toml:"check"`
	Server ServerConfig `toml:"server"`
}

// Load parses a manifest file.
func Load(path string) (Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return Manifest{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	m.Path = path
	m.Root = filepath.Dir(path)
	return m, nil
}

// Find walks up from startDir and parses the nearest manifest. A
// missing manifest reports ok=false with a zero Manifest; only an
// unreadable or malformed one is an error.
func Find(startDir string) (Manifest, bool, error) {
	path, ok, err := FindChiliToml(startDir)
	if err != nil || !ok {
		return Manifest{}, ok, err
	}
	m, err := Load(path)
	if err != nil {
		return Manifest{}, true, err
	}
	return m, true, nil
}

// ResolvedIncludePaths returns [check].include-paths with relative
// entries anchored at the project root.
func (m Manifest) ResolvedIncludePaths() []string {
	if len(m.Check.IncludePaths) == 0 {
		return nil
	}
	out := make([]string, 0, len(m.Check.IncludePaths))
	for _, p := range m.Check.IncludePaths {
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) && m.Root != "" {
			p = filepath.Join(m.Root, filepath.FromSlash(p))
		}
		out = append(out, p)
	}
	return out
}

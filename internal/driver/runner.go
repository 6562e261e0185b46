// Package driver runs the chili checker and shapes its output for the
// server and the CLI. It owns the scratch files buffers are written to,
// bounds concurrent checker invocations, and optionally caches decoded
// results on disk.
package driver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/r0nsha/chili-ls/internal/observ"
)

// ScratchExt is the extension given to scratch files so the tool lexes
// them as chili source.
const ScratchExt = ".chl"

// IncludePathSep joins multiple include paths in the tool's
// --include-paths value.
const IncludePathSep = ";"

// Config describes how the checker is invoked.
type Config struct {
	// ToolPath is the checker binary. Defaults to "chili".
	ToolPath string
	// ExtraArgs are appended to every check invocation, after the
	// canonical arguments.
	ExtraArgs []string
	// Jobs bounds concurrent checker invocations. Values below 1 mean
	// strict single-flight.
	Jobs int64
	// Logf receives observability events. May be nil.
	Logf func(format string, args ...any)
}

// CheckResult is the outcome of one checker invocation. Tool failures
// are data, not errors: a non-zero exit still carries whatever stdout
// the tool produced, and a process that never started is reported
// through LaunchErr with empty output.
type CheckResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// LaunchErr is set when the subprocess could not start at all.
	LaunchErr error
	// Timing is set when the run was created with a timer.
	Timing *observ.Report
}

// execFunc runs a command and returns its stdout, stderr and the error
// from Run. Swapped out in tests.
type execFunc func(ctx context.Context, name string, args []string) (stdout, stderr []byte, err error)

// Runner invokes the checker. One Runner serves all buffers of a
// session; each buffer gets its own scratch file under the runner's
// scratch directory so concurrent runs for different buffers never
// analyze each other's content.
type Runner struct {
	cfg        Config
	sem        *semaphore.Weighted
	scratchDir string
	execFn     execFunc
}

// NewRunner creates a Runner with a fresh scratch directory.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.ToolPath == "" {
		cfg.ToolPath = "chili"
	}
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}
	dir, err := os.MkdirTemp("", "chili-ls-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Runner{
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.Jobs),
		scratchDir: dir,
		execFn:     runCommand,
	}, nil
}

// Close removes the scratch directory and everything in it.
func (r *Runner) Close() error {
	if r == nil || r.scratchDir == "" {
		return nil
	}
	return os.RemoveAll(r.scratchDir)
}

// ScratchPath returns the scratch file dedicated to one buffer. The
// name is derived from a hash of the buffer identifier, so the same
// buffer always maps to the same file and distinct buffers never
// collide.
func (r *Runner) ScratchPath(bufferID string) string {
	sum := sha256.Sum256([]byte(bufferID))
	return filepath.Join(r.scratchDir, "buf-"+hex.EncodeToString(sum[:8])+ScratchExt)
}

// CheckBuffer writes content to the buffer's scratch file and checks
// it. includeDir is the directory of the real document, letting the
// tool resolve imports relative to where the buffer actually lives.
// Never returns an error for tool failures; see CheckResult.
func (r *Runner) CheckBuffer(ctx context.Context, bufferID string, content []byte, includeDir string, timer *observ.Timer) CheckResult {
	return r.runBuffer(ctx, bufferID, content, includeDir, nil, timer)
}

func (r *Runner) runBuffer(ctx context.Context, bufferID string, content []byte, includeDir string, modeArgs []string, timer *observ.Timer) CheckResult {
	scratch := r.ScratchPath(bufferID)

	writeIdx := timerBegin(timer, "write_scratch")
	if err := os.WriteFile(scratch, content, 0o600); err != nil {
		timerEnd(timer, writeIdx, "error")
		r.logf("scratch write failed for %s: %v", bufferID, err)
		return CheckResult{LaunchErr: err, Timing: timerReport(timer)}
	}
	timerEnd(timer, writeIdx, "")

	return r.run(ctx, scratch, []string{includeDir}, modeArgs, timer)
}

// CheckFile checks an on-disk file as-is. Used by the CLI, where the
// file is already where the tool expects it.
func (r *Runner) CheckFile(ctx context.Context, path string, includeDirs []string, timer *observ.Timer) CheckResult {
	return r.run(ctx, path, includeDirs, nil, timer)
}

// CacheKeyFor derives the disk cache key for checking content with this
// runner's tool and arguments.
func (r *Runner) CacheKeyFor(includeDirs []string, content []byte) Digest {
	return CacheKey(r.cfg.ToolPath, includeDirs, r.cfg.ExtraArgs, content)
}

func (r *Runner) run(ctx context.Context, target string, includeDirs, modeArgs []string, timer *observ.Timer) CheckResult {
	args := checkArgs(target, includeDirs, modeArgs, r.cfg.ExtraArgs)

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return CheckResult{LaunchErr: err, Timing: timerReport(timer)}
	}
	defer r.sem.Release(1)

	execIdx := timerBegin(timer, "run_tool")
	stdout, stderr, err := r.execFn(ctx, r.cfg.ToolPath, args)
	res := CheckResult{
		Stdout: string(stdout),
		Stderr: string(stderr),
	}
	switch {
	case err == nil:
		timerEnd(timer, execIdx, "")
	case isExit(err):
		// The tool exits non-zero when the analyzed code has errors.
		// Its stdout is still a valid record stream.
		res.ExitCode = exitCode(err)
		timerEnd(timer, execIdx, fmt.Sprintf("exit=%d", res.ExitCode))
	default:
		res.Stdout = ""
		res.LaunchErr = err
		timerEnd(timer, execIdx, "launch failed")
		r.logf("tool %s failed to launch: %v", r.cfg.ToolPath, err)
	}
	if res.Stderr != "" {
		r.logf("tool stderr: %s", strings.TrimSpace(res.Stderr))
	}
	res.Timing = timerReport(timer)
	return res
}

// checkArgs builds the canonical argv:
//
//	check <target> --include-paths <dir;dir...> [mode args] [extra args]
func checkArgs(target string, includeDirs, modeArgs, extraArgs []string) []string {
	args := []string{"check", target}
	dirs := make([]string, 0, len(includeDirs))
	for _, d := range includeDirs {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	if len(dirs) > 0 {
		args = append(args, "--include-paths", strings.Join(dirs, IncludePathSep))
	}
	args = append(args, modeArgs...)
	args = append(args, extraArgs...)
	return args
}

func runCommand(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func isExit(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (r *Runner) logf(format string, args ...any) {
	if r.cfg.Logf != nil {
		r.cfg.Logf(format, args...)
	}
}

func timerBegin(t *observ.Timer, name string) int {
	if t == nil {
		return -1
	}
	return t.Begin(name)
}

func timerEnd(t *observ.Timer, idx int, note string) {
	if t != nil {
		t.End(idx, note)
	}
}

func timerReport(t *observ.Timer) *observ.Report {
	if t == nil {
		return nil
	}
	report := t.Report()
	return &report
}

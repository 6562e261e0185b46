package batch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/r0nsha/chili-ls/internal/diag"
	"github.com/r0nsha/chili-ls/internal/driver"
	"github.com/r0nsha/chili-ls/internal/observ"
)

// CheckFileFunc checks one on-disk file.
type CheckFileFunc func(ctx context.Context, path string, includeDirs []string, timer *observ.Timer) driver.CheckResult

// Request describes one batch run.
type Request struct {
	Runner      *driver.Runner
	Files       []string
	IncludeDirs []string
	// Jobs bounds parallel checker invocations. Values below 1 mean one
	// worker per CPU.
	Jobs int
	// Cache, when set, lets files whose content and checker arguments
	// are unchanged skip the checker entirely.
	Cache *driver.Cache
	// EnableTimings collects per-file phase timings.
	EnableTimings bool
	// Progress receives per-file events. May be nil.
	Progress ProgressSink
	// Check overrides how one file is checked. Defaults to
	// Runner.CheckFile; swapped out in tests.
	Check CheckFileFunc
}

// FileResult is the outcome for one file.
type FileResult struct {
	Path        string
	Diagnostics []diag.Diagnostic
	// DecodeErrs counts stream lines the decoder had to skip.
	DecodeErrs int
	// LaunchErr is set when neither the cache nor the checker produced
	// a result for this file.
	LaunchErr error
	CacheHit  bool
	Timing    *observ.Report
}

// Result is the outcome of a whole run, in request file order.
type Result struct {
	Files []FileResult
}

// LaunchFailures counts files the checker never ran for.
func (r Result) LaunchFailures() int {
	n := 0
	for i := range r.Files {
		if r.Files[i].LaunchErr != nil {
			n++
		}
	}
	return n
}

// Check runs the checker over every file in the request. Per-file
// failures are data on the FileResult; only context cancellation aborts
// the run.
func Check(ctx context.Context, req Request) (Result, error) {
	files := req.Files
	results := make([]FileResult, len(files))
	for i, path := range files {
		results[i].Path = path
	}
	if len(files) == 0 {
		return Result{}, nil
	}

	if req.Check == nil {
		req.Check = req.Runner.CheckFile
	}

	jobs := req.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(files)))

	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			results[i] = req.checkOne(gctx, path)
			return nil
		})
	}

	err := g.Wait()
	return Result{Files: results}, err
}

func (req Request) checkOne(ctx context.Context, path string) FileResult {
	started := time.Now()
	req.emit(Event{File: path, Status: StatusChecking})

	out := FileResult{Path: path}
	fail := func(err error) FileResult {
		out.LaunchErr = err
		req.emit(Event{File: path, Status: StatusError, Err: err, Elapsed: time.Since(started)})
		return out
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fail(err)
	}

	var key driver.Digest
	if req.Cache != nil {
		key = req.Runner.CacheKeyFor(req.IncludeDirs, content)
		if diags, hit, cacheErr := req.Cache.Get(key); cacheErr == nil && hit {
			out.Diagnostics = diags
			out.CacheHit = true
			req.emit(Event{File: path, Status: StatusDone, Problems: len(diags), Elapsed: time.Since(started)})
			return out
		}
	}

	var timer *observ.Timer
	if req.EnableTimings {
		timer = observ.NewTimer()
	}
	res := req.Check(ctx, path, req.IncludeDirs, timer)
	out.Timing = res.Timing
	if res.LaunchErr != nil {
		return fail(res.LaunchErr)
	}

	diags, decodeErrs := diag.DecodeStream(res.Stdout)
	out.Diagnostics = diags
	out.DecodeErrs = len(decodeErrs)

	// Cache only clean decodes; a partial record set would be replayed
	// on every later run. Writes are best-effort.
	if req.Cache != nil && len(decodeErrs) == 0 {
		_ = req.Cache.Put(key, diags)
	}

	req.emit(Event{File: path, Status: StatusDone, Problems: len(diags), Elapsed: time.Since(started)})
	return out
}

func (req Request) emit(evt Event) {
	if req.Progress != nil {
		req.Progress.OnEvent(evt)
	}
}

// ListChiliFiles expands targets into a sorted, deduplicated list of
// chili source files. Directories are walked recursively; hidden
// directories and common build folders are skipped. Explicit file
// targets are kept regardless of extension.
func ListChiliFiles(targets []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(target)
			continue
		}
		err = filepath.WalkDir(target, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				// The target itself was asked for explicitly; the skip
				// rules only prune what the walk discovers below it.
				if path == target {
					return nil
				}
				name := d.Name()
				if len(name) > 1 && strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				if name == "target" || name == "build" || name == "node_modules" {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) == driver.ScratchExt {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

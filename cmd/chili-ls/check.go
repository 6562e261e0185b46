package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/r0nsha/chili-ls/internal/batch"
	"github.com/r0nsha/chili-ls/internal/diag"
	"github.com/r0nsha/chili-ls/internal/diagfmt"
	"github.com/r0nsha/chili-ls/internal/driver"
	"github.com/r0nsha/chili-ls/internal/project"
	"github.com/r0nsha/chili-ls/internal/source"
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] <file.chl|directory>...",
	Short: "Check chili sources and print diagnostics",
	Long:  `Check runs the chili checker over files or directories (recursing into *.chl files) and prints every finding`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().String("format", "pretty", "output format (pretty|short|json)")
	checkCmd.Flags().Int("jobs", 0, "max parallel checker invocations (0=auto)")
	checkCmd.Flags().String("tool", "", "checker binary to run (default: manifest [tool].path, else \"chili\")")
	checkCmd.Flags().Bool("disk-cache", false, "reuse decoded results for unchanged files (experimental)")
	checkCmd.Flags().String("ui", "auto", "live progress display (auto|on|off)")
	checkCmd.Flags().Bool("fullpath", false, "emit absolute file paths in output")
}

func runCheck(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	switch format {
	case "pretty", "short", "json":
	default:
		return fmt.Errorf("unknown format: %s", format)
	}

	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return err
	}
	timings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return err
	}
	maxDiagnostics, err := cmd.Root().PersistentFlags().GetInt("max-diagnostics")
	if err != nil {
		return err
	}

	files, err := batch.ListChiliFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		if !quiet {
			fmt.Fprintln(os.Stderr, "check: no chili sources found")
		}
		return nil
	}

	manifest, _, err := project.Find(manifestStart(args[0]))
	if err != nil {
		return err
	}

	toolPath, err := cmd.Flags().GetString("tool")
	if err != nil {
		return err
	}
	if toolPath == "" {
		toolPath = manifest.Tool.Path
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return err
	}
	if jobs <= 0 {
		jobs = manifest.Check.Jobs
	}
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	diskCache, err := cmd.Flags().GetBool("disk-cache")
	if err != nil {
		return err
	}
	diskCache = diskCache || manifest.Check.DiskCache

	var logf func(format string, args ...any)
	if !quiet {
		logf = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, "check: "+format+"\n", args...)
		}
	}
	runner, err := driver.NewRunner(driver.Config{
		ToolPath:  toolPath,
		ExtraArgs: manifest.Tool.ExtraArgs,
		Jobs:      int64(jobs),
		Logf:      logf,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = runner.Close()
	}()

	var cache *driver.Cache
	if diskCache {
		cache, err = driver.OpenCache("chili-ls")
		if err != nil {
			// The cache is an optimization; a run without it is still
			// a correct run.
			if !quiet {
				fmt.Fprintf(os.Stderr, "check: disk cache unavailable: %v\n", err)
			}
			cache = nil
		}
	}

	req := batch.Request{
		Runner:        runner,
		Files:         files,
		IncludeDirs:   manifest.ResolvedIncludePaths(),
		Jobs:          jobs,
		Cache:         cache,
		EnableTimings: timings,
	}

	uiFlag, err := cmd.Flags().GetString("ui")
	if err != nil {
		return err
	}
	mode, err := readUIMode(uiFlag)
	if err != nil {
		return err
	}

	var res batch.Result
	if shouldUseTUI(mode) {
		res, err = runChecksWithUI(cmd.Context(), "checking chili sources", files, req)
	} else {
		res, err = batch.Check(cmd.Context(), req)
	}
	if err != nil {
		return err
	}

	launchFailures := 0
	var firstLaunchErr error
	for _, fr := range res.Files {
		if fr.LaunchErr == nil {
			continue
		}
		launchFailures++
		if firstLaunchErr == nil {
			firstLaunchErr = fr.LaunchErr
		}
		if !quiet {
			fmt.Fprintf(os.Stderr, "check: %s: %v\n", fr.Path, fr.LaunchErr)
		}
	}
	if launchFailures == len(res.Files) {
		return fmt.Errorf("checker never ran: %w", firstLaunchErr)
	}

	exit := 0
	if launchFailures > 0 {
		exit = 1
	}
	bag, hadErrors := collectFindings(res, maxDiagnostics)
	if hadErrors {
		exit = 1
	}

	// Load whatever sources the kept findings point at so rendering can
	// show line numbers and context. Unloadable files degrade to
	// path-only output.
	fs := source.NewFileSet()
	for _, d := range bag.Items() {
		if fs.Get(d.Source) == nil {
			_, _ = fs.Load(d.Source)
		}
	}

	if timings && !quiet {
		for _, fr := range res.Files {
			if fr.Timing == nil {
				continue
			}
			fmt.Fprintf(os.Stderr, "check: %s: %.2f ms", fr.Path, fr.Timing.TotalMS)
			for _, p := range fr.Timing.Phases {
				fmt.Fprintf(os.Stderr, " %s=%.2f", p.Name, p.DurationMS)
			}
			fmt.Fprintln(os.Stderr)
		}
	}

	fullPath, err := cmd.Flags().GetBool("fullpath")
	if err != nil {
		return err
	}
	pathMode := diagfmt.PathModeAuto
	if fullPath {
		pathMode = diagfmt.PathModeAbsolute
	}
	baseDir := manifest.Root
	if baseDir == "" {
		baseDir, _ = os.Getwd()
	}
	colorFlag, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return err
	}
	useColor := colorFlag == "on" || (colorFlag == "auto" && isTerminal(os.Stdout))

	switch format {
	case "pretty":
		diagfmt.Pretty(os.Stdout, bag, fs, diagfmt.PrettyOpts{
			Color:    useColor,
			Context:  2,
			PathMode: pathMode,
			BaseDir:  baseDir,
		})
	case "short":
		diagfmt.Short(os.Stdout, bag, fs, diagfmt.PrettyOpts{
			PathMode: pathMode,
			BaseDir:  baseDir,
		})
	case "json":
		if err := diagfmt.JSON(os.Stdout, bag, fs, diagfmt.JSONOpts{
			IncludePositions: true,
			PathMode:         pathMode,
			BaseDir:          baseDir,
		}); err != nil {
			return fmt.Errorf("failed to format diagnostics: %w", err)
		}
	}

	if exit != 0 {
		// Findings were already printed; suppress cobra's own output.
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		return fmt.Errorf("")
	}
	return nil
}

// collectFindings merges the per-file results into one deduplicated,
// sorted bag capped at max. hadErrors is computed before the cap so the
// exit code sees errors the display would cut.
func collectFindings(res batch.Result, max int) (*diag.Bag, bool) {
	all := diag.NewBag(0)
	for _, fr := range res.Files {
		fileBag := diag.NewBag(len(fr.Diagnostics))
		for _, d := range fr.Diagnostics {
			fileBag.Add(d)
		}
		all.Merge(fileBag)
	}
	hadErrors := all.HasErrors()
	all.Dedup()
	all.Sort()

	bag := diag.NewBag(max)
	for _, d := range all.Items() {
		bag.Add(d)
	}
	return bag, hadErrors
}

// manifestStart picks the directory the chili.toml walk begins in. A
// file target anchors at its parent so checking one file from anywhere
// still sees its project's manifest.
func manifestStart(target string) string {
	if st, err := os.Stat(target); err == nil && st.IsDir() {
		return target
	}
	return filepath.Dir(target)
}

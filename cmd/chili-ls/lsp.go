package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/r0nsha/chili-ls/internal/driver"
	"github.com/r0nsha/chili-ls/internal/lsp"
	"github.com/r0nsha/chili-ls/internal/project"
)

var lspCmd = &cobra.Command{
	Use:          "lsp",
	Short:        "Run the Chili language server over stdio",
	SilenceUsage: true,
	RunE:         runLSP,
}

func init() {
	lspCmd.Flags().String("tool", "", "checker binary to run (default: manifest [tool].path, else \"chili\")")
	lspCmd.Flags().Bool("trace", false, "log scheduled and finished validation passes to stderr")
}

func runLSP(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	manifest, _, err := project.Find(cwd)
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
	trace, err := cmd.Flags().GetBool("trace")
	if err != nil {
		return err
	}

	runner, err := driver.NewRunner(driver.Config{
		ToolPath:  toolPath,
		ExtraArgs: manifest.Tool.ExtraArgs,
		Logf: func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, "lsp: "+format+"\n", args...)
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = runner.Close()
	}()

	opts := lsp.ServerOptions{Trace: trace || manifest.Server.Trace}
	if manifest.Server.ThrottleMS > 0 {
		opts.Throttle = time.Duration(manifest.Server.ThrottleMS) * time.Millisecond
	}
	if manifest.Server.MaxProblems > 0 {
		opts.MaxDiagnostics = manifest.Server.MaxProblems
	}
	flags := cmd.Root().PersistentFlags()
	if flags.Changed("max-diagnostics") {
		if n, flagErr := flags.GetInt("max-diagnostics"); flagErr == nil {
			opts.MaxDiagnostics = n
		}
	}
	opts = lsp.RunnerSeams(runner, opts)

	server := lsp.NewServer(os.Stdin, os.Stdout, opts)
	if err := server.Run(cmd.Context()); err != nil {
		if errors.Is(err, lsp.ErrExit) {
			return nil
		}
		if errors.Is(err, lsp.ErrExitWithoutShutdown) {
			return fmt.Errorf("lsp exit without shutdown")
		}
		return err
	}
	return nil
}

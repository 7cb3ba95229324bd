// Command fixdeck reviews the patches a security analyzer proposes for a
// project: it lists the issues, applies or declines fixes with one-step
// undo, and serves the same operations to editor extensions over a
// WebSocket bridge.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	apperrors "github.com/fixdeck/host/internal/errors"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes the CLI with args (including the program name) and returns
// the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args[1:])

	if err := root.Execute(); err != nil {
		ui := newPrinter(stderr, root.colorMode())
		if apperrors.GetCode(err) != apperrors.CodeUnknown {
			code, msg := apperrors.ToCodeAndMessage(err)
			fmt.Fprintf(stderr, "%s %s: %s\n", ui.err("Error:"), code, msg)
		} else {
			fmt.Fprintf(stderr, "%s %v\n", ui.err("Error:"), err)
		}
		var usage *usageError
		if errors.As(err, &usage) {
			return 2
		}
		return 1
	}
	return 0
}

// usageError marks a bad invocation; it exits with status 2.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// rootCommand carries the global flags shared by every subcommand.
type rootCommand struct {
	*cobra.Command

	stdout io.Writer
	stderr io.Writer

	configPath  string
	projectRoot string
	patchDir    string
	manifest    string
	logLevel    string
	color       string
}

func newRootCmd(stdout, stderr io.Writer) *rootCommand {
	r := &rootCommand{stdout: stdout, stderr: stderr}
	r.Command = &cobra.Command{
		Use:   "fixdeck",
		Short: "Review and apply analyzer-generated patches",
		Long: `fixdeck merges the issue fragments written by a security analyzer into
one issue tree and applies, declines or undoes the candidate patches while
keeping source files, fragments and the decision log consistent.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	r.SetOut(stdout)
	r.SetErr(stderr)
	r.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := r.PersistentFlags()
	pf.StringVar(&r.configPath, "config", "", "Config file (default: ~/.fixdeck/config.toml)")
	pf.StringVar(&r.projectRoot, "root", "", "Project root (overrides project_root)")
	pf.StringVar(&r.patchDir, "patch-dir", "", "Patch directory (overrides patch_dir)")
	pf.StringVar(&r.manifest, "manifest", "", "Issue manifest (overrides manifest_path)")
	pf.StringVar(&r.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&r.color, "color", "auto", "Colorize output (auto|on|off)")

	r.AddCommand(
		newInitCmd(r),
		newServeCmd(r),
		newIssuesCmd(r),
		newFixesCmd(r),
		newPreviewCmd(r),
		newApplyCmd(r),
		newDeclineCmd(r),
		newUndoCmd(r),
		newHistoryCmd(r),
		newAnalyzeCmd(r),
		newSchemaCmd(r),
		newDiffCmd(r),
		newTokenCmd(r),
		newDiscoverCmd(r),
		newVersionCmd(r),
	)
	return r
}

func (r *rootCommand) colorMode() string {
	return r.color
}

// exactArgs wraps cobra.ExactArgs so argument errors exit with status 2.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

// maxArgs wraps cobra.MaximumNArgs so argument errors exit with status 2.
func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(n)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func newVersionCmd(r *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fixdeck version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(r.stdout, "fixdeck %s\n", Version)
			return nil
		},
	}
}

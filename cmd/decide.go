package main

import (
	"fmt"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/spf13/cobra"

	"github.com/fixdeck/host/internal/actions"
)

func newPreviewCmd(r *rootCommand) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "preview <patch>",
		Short: "Show a patch and whether it still applies",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			pv, err := a.engine.Preview(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(r.stdout, pv)
			}
			printPreview(r, pv)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the preview as JSON")
	return cmd
}

func printPreview(r *rootCommand, pv *actions.Preview) {
	ui := newPrinter(r.stdout, r.colorMode())

	fmt.Fprintf(r.stdout, "%s %s\n", ui.key("patch:"), pv.PatchFile)
	fmt.Fprintf(r.stdout, "%s %s\n", ui.key("source:"), pv.Source)
	if pv.Fix != nil {
		fmt.Fprintf(r.stdout, "%s %s %s\n", ui.key("issue:"), pv.Fix.GroupKey, ui.dim(fmt.Sprintf("(%.2f)", pv.Fix.Patch.Score)))
		if pv.Fix.Patch.Explanation != "" {
			fmt.Fprintf(r.stdout, "  %s\n", pv.Fix.Patch.Explanation)
		}
	}
	fmt.Fprintf(r.stdout, "%d hunks, +%d -%d\n", pv.Stats.Hunks, pv.Stats.Added, pv.Stats.Removed)
	if pv.Applies {
		fmt.Fprintln(r.stdout, ui.ok("applies cleanly"))
	} else {
		fmt.Fprintf(r.stdout, "%s %s\n", ui.warn("does not apply:"), pv.Reason)
	}
	fmt.Fprintln(r.stdout)

	for _, line := range strings.SplitAfter(udiff.Unified("before", "after", pv.Left, pv.Right), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			fmt.Fprint(r.stdout, ui.ok(line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprint(r.stdout, ui.err(line))
		default:
			fmt.Fprint(r.stdout, line)
		}
	}
}

// decisionFlags are shared by apply, decline and undo.
type decisionFlags struct {
	reason string
	asJSON bool
}

func (f *decisionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.reason, "reason", "m", "", "Reason recorded in the decision log")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print the outcome as JSON")
}

func (f *decisionFlags) readReason(cmd *cobra.Command, r *rootCommand) string {
	return readReason(f.reason, cmd.Flags().Changed("reason"), cmd.InOrStdin(), r.stderr)
}

func printOutcome(r *rootCommand, out *actions.Outcome, asJSON bool) error {
	if asJSON {
		return writeJSON(r.stdout, out)
	}
	ui := newPrinter(r.stdout, r.colorMode())
	switch out.Decision {
	case actions.DecisionApplied:
		fmt.Fprintf(r.stdout, "%s applied %s to %s\n", ui.ok("✓"), out.PatchPath, out.SourceFile)
		for _, h := range out.Hunks {
			note := fmt.Sprintf("hunk %d at line %d", h.Hunk, h.Line)
			if h.Offset != 0 {
				note += fmt.Sprintf(", offset %+d", h.Offset)
			}
			if h.Fuzz > 0 {
				note += fmt.Sprintf(", fuzz %d", h.Fuzz)
			}
			fmt.Fprintf(r.stdout, "  %s\n", ui.dim(note))
		}
	case actions.DecisionDeclined:
		fmt.Fprintf(r.stdout, "%s declined %s\n", ui.ok("✓"), out.PatchPath)
	default:
		if out.PatchPath != "" {
			fmt.Fprintf(r.stdout, "%s undid the decision on %s\n", ui.ok("✓"), out.PatchPath)
		} else {
			fmt.Fprintf(r.stdout, "%s undid the last decision\n", ui.ok("✓"))
		}
	}
	for _, frag := range out.Fragments {
		fmt.Fprintf(r.stdout, "  %s %s\n", ui.dim("fragment"), frag)
	}
	return nil
}

func newApplyCmd(r *rootCommand) *cobra.Command {
	var flags decisionFlags
	cmd := &cobra.Command{
		Use:   "apply <patch>",
		Short: "Apply a patch and remove it from the issue tree",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.engine.Apply(cmd.Context(), args[0], flags.readReason(cmd, r))
			if err != nil {
				return err
			}
			return printOutcome(r, out, flags.asJSON)
		},
	}
	flags.register(cmd)
	return cmd
}

func newDeclineCmd(r *rootCommand) *cobra.Command {
	var flags decisionFlags
	cmd := &cobra.Command{
		Use:   "decline <patch>",
		Short: "Decline a patch without touching the source file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.engine.Decline(cmd.Context(), args[0], flags.readReason(cmd, r))
			if err != nil {
				return err
			}
			return printOutcome(r, out, flags.asJSON)
		},
	}
	flags.register(cmd)
	return cmd
}

func newUndoCmd(r *rootCommand) *cobra.Command {
	var flags decisionFlags
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Undo the last apply or decline",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.engine.Undo(cmd.Context(), flags.reason)
			if err != nil {
				return err
			}
			return printOutcome(r, out, flags.asJSON)
		},
	}
	flags.register(cmd)
	return cmd
}

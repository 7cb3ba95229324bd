package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fixdeck/host/internal/issues"
)

func newIssuesCmd(r *rootCommand) *cobra.Command {
	var (
		filter  string
		asJSON  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "List the merged issue tree",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tree := a.store.Tree()
			if q := strings.TrimSpace(filter); q != "" {
				tree = a.store.Filter(q)
			}
			if asJSON {
				return writeJSON(r.stdout, tree)
			}
			printTree(r, tree, verbose)
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Fuzzy filter on group keys")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the tree as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show patch explanations")
	return cmd
}

func printTree(r *rootCommand, tree *issues.Tree, verbose bool) {
	ui := newPrinter(r.stdout, r.colorMode())
	groups, count, patches := tree.Counts()
	if groups == 0 {
		fmt.Fprintln(r.stdout, ui.dim("No issues."))
		return
	}

	for _, g := range tree.Groups {
		fmt.Fprintf(r.stdout, "%s %s\n", ui.key(g.Key), ui.dim(g.SourceFileName))
		for _, iss := range g.SortedIssues() {
			tr := iss.TextRange
			fmt.Fprintf(r.stdout, "  %d:%d-%d:%d\n", tr.StartLine, tr.StartColumn, tr.EndLine, tr.EndColumn)
			for _, p := range iss.Patches {
				fmt.Fprintf(r.stdout, "    %s %s\n", p.Path, ui.dim(fmt.Sprintf("(%.2f)", p.Score)))
				if verbose && p.Explanation != "" {
					fmt.Fprintf(r.stdout, "      %s\n", p.Explanation)
				}
			}
		}
	}
	fmt.Fprintf(r.stdout, "\n%d groups, %d issues, %d patches\n", groups, count, patches)
}

func newFixesCmd(r *rootCommand) *cobra.Command {
	var (
		after  string
		step   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "fixes <file>",
		Short: "List the fixes for a source file",
		Long: `List the candidate patches for one source file in issue order.
With --after, print only the fix --step positions away from the given
patch, wrapping around at either end.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			// Relative files are taken against the project root.
			file := a.store.Normalizer().Normalize(args[0])

			if cmd.Flags().Changed("after") || cmd.Flags().Changed("step") {
				fix, ok := a.engine.Next(file, after, step)
				if !ok {
					return fmt.Errorf("no fixes for %s", args[0])
				}
				if asJSON {
					return writeJSON(r.stdout, fix)
				}
				printFix(r, fix)
				return nil
			}

			fixes := a.store.FixesFor(file)
			if asJSON {
				if fixes == nil {
					fixes = []issues.Fix{}
				}
				return writeJSON(r.stdout, fixes)
			}
			if len(fixes) == 0 {
				ui := newPrinter(r.stdout, r.colorMode())
				fmt.Fprintln(r.stdout, ui.dim("No fixes for "+args[0]+"."))
				return nil
			}
			for _, fix := range fixes {
				printFix(r, fix)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&after, "after", "", "Patch to step from")
	cmd.Flags().IntVar(&step, "step", 1, "Positions to move; negative steps backwards")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print fixes as JSON")
	return cmd
}

func printFix(r *rootCommand, fix issues.Fix) {
	ui := newPrinter(r.stdout, r.colorMode())
	tr := fix.TextRange
	fmt.Fprintf(r.stdout, "%s %s %d:%d %s\n",
		ui.key(fix.GroupKey), fix.Patch.Path, tr.StartLine, tr.StartColumn,
		ui.dim(fmt.Sprintf("(%.2f)", fix.Patch.Score)))
	if fix.Patch.Explanation != "" {
		fmt.Fprintf(r.stdout, "  %s\n", fix.Patch.Explanation)
	}
}
